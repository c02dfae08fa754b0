package types

import (
	"time"
)

// Application represents an authenticated tenant of the service
type Application struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	KeyHash   string              `json:"-"`
	KeyHint   string              `json:"keyHint,omitempty"` // first characters of the key, for identification
	Settings  ApplicationSettings `json:"settings"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// ApplicationSettings holds per-tenant policy
type ApplicationSettings struct {
	AllowedQueues     []string          `json:"allowedQueues"` // queue-name patterns, "*" = all
	MaxConcurrentJobs int               `json:"maxConcurrentJobs,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// MasterApplicationID identifies the configured master identity.
// The master is never persisted; it is synthesized from configuration.
const MasterApplicationID = "master"

// IsMaster reports whether the application is the master identity
func (a *Application) IsMaster() bool {
	return a.ID == MasterApplicationID
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusDelayed   JobStatus = "delayed"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusPaused    JobStatus = "paused"
)

// Terminal reports whether the status is a terminal state
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// BackoffType selects the retry delay growth strategy
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// BackoffPolicy defines how retry delays are computed
type BackoffPolicy struct {
	Type  BackoffType `json:"type"`
	Delay int64       `json:"delay"` // base delay in milliseconds
}

// JobOptions controls retry, delay and priority behavior of a job
type JobOptions struct {
	Attempts int            `json:"attempts,omitempty"`
	Backoff  *BackoffPolicy `json:"backoff,omitempty"`
	Delay    int64          `json:"delay,omitempty"` // milliseconds before the job becomes eligible
	Priority int            `json:"priority,omitempty"`
	Timeout  int64          `json:"timeout,omitempty"` // per-attempt execution timeout in milliseconds
}

// JobMetadata records who submitted a job and when
type JobMetadata struct {
	ApplicationID   string                 `json:"applicationId"`
	ApplicationName string                 `json:"applicationName"`
	SubmittedAt     time.Time              `json:"submittedAt"`
	RequestID       string                 `json:"requestId,omitempty"`
	Extra           map[string]interface{} `json:"extra,omitempty"` // caller-supplied metadata, used by subscription filters
}

// Job is a unit of work owned by exactly one queue until terminal
type Job struct {
	ID           string                 `json:"jobId"`
	Queue        string                 `json:"queueName"`
	Name         string                 `json:"name"` // handler/type hint
	Data         map[string]interface{} `json:"data"`
	Metadata     JobMetadata            `json:"_metadata"`
	Options      JobOptions             `json:"options"`
	Status       JobStatus              `json:"status"`
	AttemptsMade int                    `json:"attemptsMade"`
	Progress     interface{}            `json:"progress,omitempty"` // 0..100 or arbitrary JSON
	Result       interface{}            `json:"result,omitempty"`
	FailedReason string                 `json:"failedReason,omitempty"`
	Webhooks     map[string]string      `json:"webhooks,omitempty"` // event kind -> URL
	CreatedOn    time.Time              `json:"createdOn"`
	ProcessedOn  *time.Time             `json:"processedOn,omitempty"`
	FinishedOn   *time.Time             `json:"finishedOn,omitempty"`
}

// EventMetadata flattens job metadata for subscription filter matching
func (j *Job) EventMetadata() map[string]interface{} {
	md := map[string]interface{}{
		"applicationId":   j.Metadata.ApplicationID,
		"applicationName": j.Metadata.ApplicationName,
	}
	if j.Metadata.RequestID != "" {
		md["requestId"] = j.Metadata.RequestID
	}
	for k, v := range j.Metadata.Extra {
		md[k] = v
	}
	return md
}

// JobCounts holds per-status counts for a queue
type JobCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Paused    int64 `json:"paused"`
}

// QueueStats describes the observable state of a queue
type QueueStats struct {
	Name   string    `json:"name"`
	Counts JobCounts `json:"counts"`
	Paused bool      `json:"paused"`
}

// RetentionPolicy bounds a terminal bucket by age and count
type RetentionPolicy struct {
	MaxAge   time.Duration `json:"maxAge"`
	MaxCount int64         `json:"maxCount"`
}

// EventType represents a job lifecycle transition kind
type EventType string

const (
	EventJobCreated   EventType = "created"
	EventJobStarted   EventType = "started"
	EventJobProgress  EventType = "progress"
	EventJobCompleted EventType = "completed"
	EventJobFailed    EventType = "failed"
)

// Event is an in-memory notification of a job state transition
type Event struct {
	JobID         string                 `json:"jobId"`
	Queue         string                 `json:"queue"`
	Status        EventType              `json:"status"`
	ApplicationID string                 `json:"applicationId"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Result        interface{}            `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Progress      interface{}            `json:"progress,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Webhooks      map[string]string      `json:"-"` // per-job webhook URLs, in-process only
}

// SubscriptionFilters narrow which events a subscription receives
type SubscriptionFilters struct {
	Queues   []string               `json:"queues,omitempty"`
	Statuses []string               `json:"statuses,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"` // every key must match the event metadata exactly
}

// RetryConfig controls webhook delivery retries
type RetryConfig struct {
	MaxAttempts int   `json:"maxAttempts"`
	BackoffMs   int64 `json:"backoffMs"`
}

// Subscription is a webhook registration owned by an application
type Subscription struct {
	ID              string              `json:"id"`
	ApplicationID   string              `json:"applicationId"`
	Name            string              `json:"name"`
	Endpoint        string              `json:"endpoint"`
	Method          string              `json:"method"` // POST or PUT
	Headers         map[string]string   `json:"headers,omitempty"`
	Filters         SubscriptionFilters `json:"filters"`
	Events          []EventType         `json:"events"`
	Active          bool                `json:"active"`
	RetryConfig     RetryConfig         `json:"retryConfig"`
	TriggerCount    int64               `json:"triggerCount"`
	LastTriggeredAt *time.Time          `json:"lastTriggeredAt,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// Endpoint describes the HTTP call a schedule performs on fire
type Endpoint struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    interface{}       `json:"body,omitempty"`
	Timeout int64             `json:"timeout,omitempty"` // seconds, clamped to 1..300
}

// ScheduleSpec defines when a schedule fires. Exactly one of Cron / At is set.
type ScheduleSpec struct {
	Cron     string     `json:"cron,omitempty"`
	At       *time.Time `json:"at,omitempty"`
	Timezone string     `json:"timezone,omitempty"` // IANA zone, default UTC
	EndDate  *time.Time `json:"endDate,omitempty"`
	Limit    int64      `json:"limit,omitempty"` // 0 = unlimited
}

// RetryPolicy controls retries of the scheduled HTTP call
type RetryPolicy struct {
	Attempts int            `json:"attempts"` // 1..10
	Backoff  *BackoffPolicy `json:"backoff,omitempty"`
}

// ExecutionStatus records the outcome of the last schedule firing
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// Schedule is a persisted cron/one-shot HTTP trigger
type Schedule struct {
	ID                  string                 `json:"scheduleId"`
	Name                string                 `json:"name"`
	Endpoint            Endpoint               `json:"endpoint"`
	Spec                ScheduleSpec           `json:"schedule"`
	RetryPolicy         RetryPolicy            `json:"retryPolicy"`
	Enabled             bool                   `json:"enabled"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
	ExecutionCount      int64                  `json:"executionCount"`
	LastExecutedAt      *time.Time             `json:"lastExecutedAt,omitempty"`
	LastExecutionStatus ExecutionStatus        `json:"lastExecutionStatus,omitempty"`
	LastExecutionError  string                 `json:"lastExecutionError,omitempty"`
	NextExecutionAt     *time.Time             `json:"nextExecutionAt,omitempty"`
	CreatedBy           string                 `json:"createdBy,omitempty"`
	CreatedAt           time.Time              `json:"createdAt"`
	UpdatedAt           time.Time              `json:"updatedAt"`
}
