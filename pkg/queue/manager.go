package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/apierr"
	"github.com/cuemby/hutch/pkg/backend"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/types"
)

// Options configures the queue manager
type Options struct {
	DefaultAttempts       int
	DefaultBackoffDelayMs int64
	VisibilityTimeout     time.Duration
	CompletedRetention    types.RetentionPolicy
	FailedRetention       types.RetentionPolicy
	HousekeepingInterval  time.Duration
}

// EnqueueRequest carries everything needed to submit a job
type EnqueueRequest struct {
	Queue     string
	Name      string
	Data      map[string]interface{}
	Options   *types.JobOptions
	Metadata  map[string]interface{}
	Webhooks  map[string]string
	RequestID string
}

// Authorizer decides whether an application may touch a queue
type Authorizer interface {
	Authorize(app *types.Application, queue string) error
}

// Manager owns the set of queues and implements the job lifecycle:
// enqueue, cancel, pause/resume/clean, retries with backoff and terminal
// bucket retention.
type Manager struct {
	backend  *backend.Backend
	broker   *events.Broker
	registry *Registry
	auth     Authorizer
	opts     Options
	logger   zerolog.Logger
	stopCh   chan struct{}

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc // queue/jobID of in-flight executions
}

// NewManager creates a queue manager
func NewManager(b *backend.Backend, broker *events.Broker, registry *Registry, auth Authorizer, opts Options) *Manager {
	if opts.HousekeepingInterval <= 0 {
		opts.HousekeepingInterval = 5 * time.Second
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 30 * time.Second
	}
	if opts.DefaultAttempts <= 0 {
		opts.DefaultAttempts = 3
	}
	if opts.DefaultBackoffDelayMs <= 0 {
		opts.DefaultBackoffDelayMs = 5000
	}
	return &Manager{
		backend:  b,
		broker:   broker,
		registry: registry,
		auth:     auth,
		opts:     opts,
		logger:   log.WithComponent("queue"),
		stopCh:   make(chan struct{}),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start begins the housekeeping loop that promotes due delayed jobs,
// reclaims expired active jobs and enforces retention.
func (m *Manager) Start() {
	go m.run()
}

// Stop stops the housekeeping loop
func (m *Manager) Stop() {
	close(m.stopCh)
}

func (m *Manager) run() {
	ticker := time.NewTicker(m.opts.HousekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.housekeep(context.Background()); err != nil {
				m.logger.Error().Err(err).Msg("housekeeping cycle failed")
			}
		case <-m.stopCh:
			return
		}
	}
}

// housekeep performs one sweep across all known queues
func (m *Manager) housekeep(ctx context.Context) error {
	queues, err := m.backend.Queues(ctx)
	if err != nil {
		return fmt.Errorf("failed to list queues: %w", err)
	}

	for _, queue := range queues {
		if _, err := m.backend.PromoteDue(ctx, queue, 256); err != nil {
			m.logger.Error().Err(err).Str("queue", queue).Msg("delayed promotion failed")
		}
		if n, err := m.backend.ReclaimExpired(ctx, queue, 256); err != nil {
			m.logger.Error().Err(err).Str("queue", queue).Msg("reclaim failed")
		} else if n > 0 {
			m.logger.Warn().Str("queue", queue).Int64("jobs", n).Msg("reclaimed expired active jobs")
		}
		m.enforceRetention(ctx, queue)

		if stats, err := m.backend.Stats(ctx, queue); err == nil {
			metrics.QueueDepth.WithLabelValues(queue, "waiting").Set(float64(stats.Counts.Waiting))
			metrics.QueueDepth.WithLabelValues(queue, "active").Set(float64(stats.Counts.Active))
			metrics.QueueDepth.WithLabelValues(queue, "delayed").Set(float64(stats.Counts.Delayed))
			metrics.QueueDepth.WithLabelValues(queue, "completed").Set(float64(stats.Counts.Completed))
			metrics.QueueDepth.WithLabelValues(queue, "failed").Set(float64(stats.Counts.Failed))
		}
	}
	return nil
}

// Enqueue validates the caller's queue policy, stores the job and emits
// the created event. A positive delay parks the job in the delayed set.
func (m *Manager) Enqueue(ctx context.Context, app *types.Application, req EnqueueRequest) (*types.Job, error) {
	if req.Queue == "" {
		return nil, apierr.New(apierr.CodeValidation, "queue name is required")
	}
	if len(req.Data) == 0 {
		return nil, apierr.New(apierr.CodeMissingData, "job data is required").
			WithHints("send a JSON body with a non-empty data object")
	}
	if err := m.auth.Authorize(app, req.Queue); err != nil {
		return nil, err
	}

	q := m.registry.Get(req.Queue)
	opts := m.resolveOptions(q, req.Options)

	now := time.Now()
	job := &types.Job{
		ID:      uuid.New().String(),
		Queue:   req.Queue,
		Name:    req.Name,
		Data:    req.Data,
		Options: opts,
		Metadata: types.JobMetadata{
			ApplicationID:   app.ID,
			ApplicationName: app.Name,
			SubmittedAt:     now,
			RequestID:       req.RequestID,
			Extra:           req.Metadata,
		},
		Webhooks:  req.Webhooks,
		CreatedOn: now,
		Status:    types.JobStatusWaiting,
	}

	var dueAt time.Time
	if opts.Delay > 0 {
		job.Status = types.JobStatusDelayed
		dueAt = now.Add(time.Duration(opts.Delay) * time.Millisecond)
	}

	if err := m.backend.Push(ctx, job, dueAt); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	metrics.JobsEnqueued.WithLabelValues(req.Queue).Inc()
	metrics.EventsPublished.WithLabelValues(string(types.EventJobCreated)).Inc()
	m.broker.Publish(&types.Event{
		JobID:         job.ID,
		Queue:         job.Queue,
		Status:        types.EventJobCreated,
		ApplicationID: app.ID,
		Data:          job.Data,
		Metadata:      job.EventMetadata(),
		Webhooks:      job.Webhooks,
	})

	m.logger.Debug().Str("queue", req.Queue).Str("job_id", job.ID).Msg("job enqueued")
	return job, nil
}

// GetJob loads a job, enforcing ownership for non-master callers
func (m *Manager) GetJob(ctx context.Context, app *types.Application, queue, jobID string) (*types.Job, error) {
	job, err := m.backend.GetJob(ctx, queue, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apierr.JobNotFound(queue, jobID)
	}
	if !app.IsMaster() && job.Metadata.ApplicationID != app.ID {
		return nil, apierr.New(apierr.CodeForbidden, "job %q belongs to another application", jobID)
	}
	return job, nil
}

// Cancel removes a waiting or delayed job, or signals cancellation of an
// active one. Cancelling an already-removed job is a no-op; cancelling a
// terminal job is an error.
func (m *Manager) Cancel(ctx context.Context, app *types.Application, queue, jobID string) error {
	job, err := m.backend.GetJob(ctx, queue, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return nil // already removed, cancel is idempotent
	}
	if !app.IsMaster() && job.Metadata.ApplicationID != app.ID {
		return apierr.New(apierr.CodeForbidden, "job %q belongs to another application", jobID)
	}
	if job.Status.Terminal() {
		return apierr.New(apierr.CodeJobTerminal, "job %q already finished with status %s", jobID, job.Status).
			WithHints("terminal jobs cannot be cancelled")
	}

	if job.Status == types.JobStatusActive {
		m.signalCancel(queue, jobID)
		return nil
	}

	if _, err := m.backend.Remove(ctx, queue, jobID); err != nil {
		return err
	}
	m.logger.Info().Str("queue", queue).Str("job_id", jobID).Msg("job cancelled")
	return nil
}

// Pause blocks reservations on a queue. Master only.
func (m *Manager) Pause(ctx context.Context, app *types.Application, queue string) error {
	if err := requireMaster(app); err != nil {
		return err
	}
	m.registry.Get(queue)
	if err := m.backend.RegisterQueue(ctx, queue); err != nil {
		return err
	}
	return m.backend.Pause(ctx, queue)
}

// Resume lifts a pause. Master only.
func (m *Manager) Resume(ctx context.Context, app *types.Application, queue string) error {
	if err := requireMaster(app); err != nil {
		return err
	}
	return m.backend.Resume(ctx, queue)
}

// Clean trims a terminal bucket. Master only.
func (m *Manager) Clean(ctx context.Context, app *types.Application, queue, bucket string, olderThan time.Duration, maxCount int64) (int64, error) {
	if err := requireMaster(app); err != nil {
		return 0, err
	}
	if bucket != backend.BucketCompleted && bucket != backend.BucketFailed {
		return 0, apierr.New(apierr.CodeValidation, "bucket must be completed or failed, got %q", bucket)
	}
	return m.backend.Clean(ctx, queue, bucket, olderThan, maxCount)
}

// Stats returns counts for one queue
func (m *Manager) Stats(ctx context.Context, queue string) (*types.QueueStats, error) {
	return m.backend.Stats(ctx, queue)
}

// AllStats returns counts for every known queue
func (m *Manager) AllStats(ctx context.Context) ([]*types.QueueStats, error) {
	queues, err := m.backend.Queues(ctx)
	if err != nil {
		return nil, err
	}
	stats := make([]*types.QueueStats, 0, len(queues))
	for _, queue := range queues {
		s, err := m.backend.Stats(ctx, queue)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// Queues lists all known queue names
func (m *Manager) Queues(ctx context.Context) ([]string, error) {
	return m.backend.Queues(ctx)
}

// Reserve claims the next job of a queue for workerToken
func (m *Manager) Reserve(ctx context.Context, queue, workerToken string) (*types.Job, error) {
	jobID, err := m.backend.Reserve(ctx, queue, workerToken, m.opts.VisibilityTimeout)
	if err != nil || jobID == "" {
		return nil, err
	}
	return m.backend.GetJob(ctx, queue, jobID)
}

// HandleSuccess records a successful execution and emits completed
func (m *Manager) HandleSuccess(ctx context.Context, job *types.Job, result interface{}) error {
	if err := m.backend.Complete(ctx, job.Queue, job.ID, result); err != nil {
		return err
	}
	m.enforceRetention(ctx, job.Queue)

	metrics.JobsCompleted.WithLabelValues(job.Queue).Inc()
	metrics.EventsPublished.WithLabelValues(string(types.EventJobCompleted)).Inc()
	m.broker.Publish(&types.Event{
		JobID:         job.ID,
		Queue:         job.Queue,
		Status:        types.EventJobCompleted,
		ApplicationID: job.Metadata.ApplicationID,
		Data:          job.Data,
		Metadata:      job.EventMetadata(),
		Webhooks:      job.Webhooks,
		Result:        result,
	})
	return nil
}

// HandleFailure records a failed execution. Retriable failures with
// attempts remaining are re-parked in the delayed set with backoff;
// everything else transitions to failed.
func (m *Manager) HandleFailure(ctx context.Context, job *types.Job, reason string, retriable bool) error {
	attempts := job.Options.Attempts
	if retriable && job.AttemptsMade < attempts {
		delay := backoffDelay(job.Options, job.AttemptsMade)
		due := time.Now().Add(delay)
		if err := m.backend.DelayUntil(ctx, job.Queue, job.ID, due, reason); err != nil {
			return err
		}
		metrics.JobsRetried.WithLabelValues(job.Queue).Inc()
		m.logger.Debug().Str("queue", job.Queue).Str("job_id", job.ID).
			Int("attempts_made", job.AttemptsMade).Dur("backoff", delay).
			Msg("job scheduled for retry")
		return nil
	}

	if err := m.backend.Fail(ctx, job.Queue, job.ID, reason); err != nil {
		return err
	}
	m.enforceRetention(ctx, job.Queue)

	metrics.JobsFailed.WithLabelValues(job.Queue).Inc()
	metrics.EventsPublished.WithLabelValues(string(types.EventJobFailed)).Inc()
	m.broker.Publish(&types.Event{
		JobID:         job.ID,
		Queue:         job.Queue,
		Status:        types.EventJobFailed,
		ApplicationID: job.Metadata.ApplicationID,
		Data:          job.Data,
		Metadata:      job.EventMetadata(),
		Webhooks:      job.Webhooks,
		Error:         reason,
	})
	return nil
}

// ReportProgress persists a progress update and emits the progress event
func (m *Manager) ReportProgress(ctx context.Context, job *types.Job, progress interface{}) error {
	if err := m.backend.SetProgress(ctx, job.Queue, job.ID, progress); err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues(string(types.EventJobProgress)).Inc()
	m.broker.Publish(&types.Event{
		JobID:         job.ID,
		Queue:         job.Queue,
		Status:        types.EventJobProgress,
		ApplicationID: job.Metadata.ApplicationID,
		Metadata:      job.EventMetadata(),
		Webhooks:      job.Webhooks,
		Progress:      progress,
	})
	return nil
}

// EmitStarted publishes the started event for a freshly reserved job
func (m *Manager) EmitStarted(job *types.Job) {
	metrics.EventsPublished.WithLabelValues(string(types.EventJobStarted)).Inc()
	m.broker.Publish(&types.Event{
		JobID:         job.ID,
		Queue:         job.Queue,
		Status:        types.EventJobStarted,
		ApplicationID: job.Metadata.ApplicationID,
		Data:          job.Data,
		Metadata:      job.EventMetadata(),
		Webhooks:      job.Webhooks,
	})
}

// RegisterCancel associates an in-flight execution with its cancel func
// so the API can signal cooperative cancellation.
func (m *Manager) RegisterCancel(queue, jobID string, cancel context.CancelFunc) {
	m.cancelMu.Lock()
	m.cancels[queue+"/"+jobID] = cancel
	m.cancelMu.Unlock()
}

// UnregisterCancel removes the cancel registration after execution ends
func (m *Manager) UnregisterCancel(queue, jobID string) {
	m.cancelMu.Lock()
	delete(m.cancels, queue+"/"+jobID)
	m.cancelMu.Unlock()
}

func (m *Manager) signalCancel(queue, jobID string) {
	m.cancelMu.Lock()
	cancel, ok := m.cancels[queue+"/"+jobID]
	m.cancelMu.Unlock()
	if ok {
		cancel()
		m.logger.Info().Str("queue", queue).Str("job_id", jobID).Msg("cancellation signalled")
	}
}

// VisibilityTimeout exposes the configured reclaim deadline
func (m *Manager) VisibilityTimeout() time.Duration {
	return m.opts.VisibilityTimeout
}

func (m *Manager) enforceRetention(ctx context.Context, queue string) {
	if _, err := m.backend.Clean(ctx, queue, backend.BucketCompleted,
		m.opts.CompletedRetention.MaxAge, m.opts.CompletedRetention.MaxCount); err != nil {
		m.logger.Error().Err(err).Str("queue", queue).Msg("completed retention trim failed")
	}
	if _, err := m.backend.Clean(ctx, queue, backend.BucketFailed,
		m.opts.FailedRetention.MaxAge, m.opts.FailedRetention.MaxCount); err != nil {
		m.logger.Error().Err(err).Str("queue", queue).Msg("failed retention trim failed")
	}
}

func (m *Manager) resolveOptions(q *Queue, override *types.JobOptions) types.JobOptions {
	opts := q.DefaultOptions
	if opts.Attempts <= 0 {
		opts.Attempts = m.opts.DefaultAttempts
	}
	if opts.Backoff == nil {
		opts.Backoff = &types.BackoffPolicy{
			Type:  types.BackoffExponential,
			Delay: m.opts.DefaultBackoffDelayMs,
		}
	}
	if override == nil {
		return opts
	}
	if override.Attempts > 0 {
		opts.Attempts = override.Attempts
	}
	if override.Backoff != nil {
		opts.Backoff = override.Backoff
	}
	if override.Delay > 0 {
		opts.Delay = override.Delay
	}
	if override.Priority != 0 {
		opts.Priority = override.Priority
	}
	if override.Timeout > 0 {
		opts.Timeout = override.Timeout
	}
	return opts
}

// backoffDelay computes the retry delay after attemptsMade attempts
func backoffDelay(opts types.JobOptions, attemptsMade int) time.Duration {
	base := int64(5000)
	backoffType := types.BackoffExponential
	if opts.Backoff != nil {
		base = opts.Backoff.Delay
		backoffType = opts.Backoff.Type
	}
	if backoffType == types.BackoffFixed {
		return time.Duration(base) * time.Millisecond
	}
	delay := base
	for i := 1; i < attemptsMade; i++ {
		delay *= 2
	}
	return time.Duration(delay) * time.Millisecond
}

func requireMaster(app *types.Application) error {
	if !app.IsMaster() {
		return apierr.New(apierr.CodeForbidden, "operation requires the master identity").
			WithHints("pause, resume and clean are administrative operations")
	}
	return nil
}
