/*
Package scheduler turns persisted cron and one-shot schedules into HTTP
calls.

Three pieces cooperate: the Service owns CRUD and validation, the
Scheduler scans for due schedules once a minute and enqueues one firing
job per due schedule, and the Handler executes those jobs on the
scheduler queue. Firing and execution are decoupled through the queue so
a slow endpoint never delays the tick, and the queue's retry policy
covers transient endpoint failures.

Claiming a firing is the store's conditional advance of nextExecutionAt:
whichever instance moves the timestamp enqueues the job, everyone else
sees a stale previous value and backs off.
*/
package scheduler
