/*
Package fanout delivers job lifecycle events to registered webhook
subscriptions.

The service consumes the in-process event stream, matches each event
against subscription filters (application, queues, statuses, metadata,
event kinds) and posts the payload to matching endpoints with a fixed
retry budget. Deliveries run on their own goroutines; a slow endpoint
never blocks the event loop or job processing. Jobs can also carry their
own webhooks map for one-off per-job notifications.
*/
package fanout
