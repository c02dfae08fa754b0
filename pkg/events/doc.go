/*
Package events provides the in-process event bus for job lifecycle
notifications.

The queue manager and worker runtime publish created, started, progress,
completed and failed events; the subscription fanout consumes them off the
emitting path. Publishing never blocks on slow consumers: each subscriber
has a bounded buffer and overflow drops are counted, not propagated.
Ordering is preserved per job id because a single goroutine drains the
intake channel.
*/
package events
