/*
Package backend adapts a Redis-compatible key-value store into the atomic
primitives the queue manager builds on: push, reserve with a visibility
deadline, terminal transitions, delayed parking, due-sweep promotion and
reclamation of expired active jobs.

# Atomicity

Every transition that touches more than one key runs as a Lua script, so a
job id is never observable in two buckets. Application code never holds
locks around queue state; the store is the single coordinator.

# Ordering

The waiting bucket is a sorted set scored by seq - priority*1e9, where seq
is a per-queue counter. Equal-priority jobs therefore pop FIFO while higher
priority jobs overtake. Delayed and active buckets are scored by epoch
milliseconds (due time and visibility deadline respectively), which makes
the due sweep and crash reclamation a single range query.

# Dialing

When the configured port is the managed-database TLS port the dialer uses
TLS with certificate verification disabled. This relaxation is inherited
from the deployment environment and logged loudly at startup.
*/
package backend
