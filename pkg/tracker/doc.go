/*
Package tracker lets external workers use the job store without a
registered handler. Callers submit a job, list and poll it, and report
progress or the final outcome themselves. Tracked jobs share the queue
backend, so stats, retention and webhook fanout behave exactly as for
managed jobs.
*/
package tracker
