/*
Package types defines the core data structures shared across Hutch components.

This package contains the domain records that flow between the queue manager,
worker runtime, scheduler, subscription fanout and the HTTP API: applications
(tenants), jobs and their options, queue statistics, lifecycle events,
subscriptions and schedules.

# Job lifecycle

A job moves through the following states:

	created ──(enqueue)──▶ waiting ──(reserve)──▶ active
	                       ▲                      │
	                       │                      ├─(complete)──▶ completed
	delayed ──(due sweep)──┘                      └─(fail, attempts left)─▶ delayed
	                                              └─(fail, exhausted)──▶ failed

Terminal jobs are retained in bounded buckets and eventually trimmed by the
queue retention policy.

# Ownership

Each Job is exclusively owned by one queue until it reaches a terminal state.
Applications own their Subscriptions; Schedules are an internal single-tenant
surface. All structs marshal to JSON: the same representation is stored in the
key-value backend, the document store, and returned by the API.
*/
package types
