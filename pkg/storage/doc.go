/*
Package storage provides persistent document-state storage for Hutch.

The Store interface covers the three persisted collections: applications
(tenants), webhook subscriptions, and schedules. The BoltDB implementation
keeps one bucket per collection with JSON-encoded records, plus an index
bucket mapping API key hashes to application ids.

Schedule advancement uses a conditional update (AdvanceSchedule) that only
moves nextExecutionAt when the stored value still equals the value the
scheduler observed, so concurrent instances cannot double-fire a schedule.
*/
package storage
