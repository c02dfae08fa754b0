/*
Package queue implements the queue manager: dynamic queue creation,
enqueue with tenant policy checks, cancellation, pause/resume/clean, and
the job state machine with retries and retention.

# State machine

	created ──(enqueue)──▶ waiting ──(reserve)──▶ active
	                       ▲                      │
	                       │                      ├─(complete)──▶ completed
	delayed ──(due sweep)──┘                      └─(fail, attempts left)─▶ delayed
	                                              └─(fail, exhausted)──▶ failed

Failed attempts with attempts remaining re-enter the delayed set with a
backoff of delay*2^(attemptsMade-1) (exponential) or a flat delay (fixed).
A housekeeping loop promotes due delayed jobs, reclaims active jobs whose
visibility deadline expired (at-least-once delivery after worker crashes),
and trims terminal buckets to the configured retention bounds.

All state transitions go through the atomic primitives of the backend
package; the manager holds no queue state of its own beyond the registry
of queue handles and the cancel funcs of in-flight executions.
*/
package queue
