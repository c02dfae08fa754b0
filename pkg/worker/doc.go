/*
Package worker runs job handlers against their queues.

Each registered queue gets a pool of reserve loops. A loop claims one job
at a time, runs the handler under a timeout-and-cancellation context, and
reports the outcome back to the queue manager, which decides between
retry and terminal failure. Handler panics are contained and treated as
retriable failures.

The package also ships the built-in handlers: webhook delivery, simulated
email and AI processing, and echo placeholders for the remaining stock
queues.
*/
package worker
