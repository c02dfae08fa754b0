package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/queue"
	"github.com/cuemby/hutch/pkg/types"
)

// Result is what a handler hands back on success. Data becomes the
// stored job result.
type Result struct {
	Data interface{}
}

// ExecContext carries everything a handler needs during one attempt
type ExecContext struct {
	Job      *types.Job
	Logger   zerolog.Logger
	Progress func(progress interface{}) error
}

// Handler executes jobs of one queue
type Handler interface {
	Name() string
	Run(ctx context.Context, ec *ExecContext) (*Result, error)
}

// nonRetriableError marks a failure that must not be retried even when
// attempts remain, e.g. a validation error that can never succeed.
type nonRetriableError struct {
	err error
}

func (e *nonRetriableError) Error() string { return e.err.Error() }
func (e *nonRetriableError) Unwrap() error { return e.err }

// NonRetriable wraps err so the runtime fails the job terminally
func NonRetriable(err error) error {
	return &nonRetriableError{err: err}
}

// IsRetriable reports whether a handler error should be retried
func IsRetriable(err error) bool {
	var nr *nonRetriableError
	return !errors.As(err, &nr)
}

// RuntimeOptions configures the worker runtime
type RuntimeOptions struct {
	DefaultConcurrency int
	DefaultTimeout     time.Duration
	PollInterval       time.Duration
}

type registration struct {
	queue       string
	concurrency int
	handler     Handler
}

// Runtime runs registered handlers against their queues. Each queue gets
// its own pool of reserve loops; one handler per queue.
type Runtime struct {
	manager *queue.Manager
	opts    RuntimeOptions
	logger  zerolog.Logger

	mu     sync.Mutex
	regs   map[string]*registration
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRuntime creates a worker runtime bound to the queue manager
func NewRuntime(m *queue.Manager, opts RuntimeOptions) *Runtime {
	if opts.DefaultConcurrency <= 0 {
		opts.DefaultConcurrency = 5
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Runtime{
		manager: m,
		opts:    opts,
		logger:  log.WithComponent("worker"),
		regs:    make(map[string]*registration),
		stopCh:  make(chan struct{}),
	}
}

// Register binds a handler to a queue. Zero concurrency takes the
// runtime default. Registering a queue twice is an error.
func (r *Runtime) Register(queueName string, concurrency int, h Handler) error {
	if queueName == "" {
		return fmt.Errorf("queue name is required")
	}
	if concurrency <= 0 {
		concurrency = r.opts.DefaultConcurrency
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.regs[queueName]; exists {
		return fmt.Errorf("queue %q already has a handler", queueName)
	}
	r.regs[queueName] = &registration{queue: queueName, concurrency: concurrency, handler: h}
	r.logger.Info().Str("queue", queueName).Str("handler", h.Name()).
		Int("concurrency", concurrency).Msg("handler registered")
	return nil
}

// Start launches the reserve loops for every registration
func (r *Runtime) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reg := range r.regs {
		for slot := 0; slot < reg.concurrency; slot++ {
			token := fmt.Sprintf("%s-%d-%s", reg.queue, slot, uuid.New().String()[:8])
			r.wg.Add(1)
			go r.loop(reg, token)
		}
	}
}

// Stop signals all loops and waits for in-flight jobs to finish
func (r *Runtime) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Runtime) loop(reg *registration, token string) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		job, err := r.manager.Reserve(context.Background(), reg.queue, token)
		if err != nil {
			r.logger.Error().Err(err).Str("queue", reg.queue).Msg("reserve failed")
			r.sleep(r.opts.PollInterval)
			continue
		}
		if job == nil {
			r.sleep(r.opts.PollInterval)
			continue
		}
		r.execute(reg, job, token)
	}
}

func (r *Runtime) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-r.stopCh:
	}
}

// execute runs one attempt of one job with timeout and cancellation
func (r *Runtime) execute(reg *registration, job *types.Job, token string) {
	timeout := r.opts.DefaultTimeout
	if job.Options.Timeout > 0 {
		timeout = time.Duration(job.Options.Timeout) * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	r.manager.RegisterCancel(job.Queue, job.ID, cancel)
	defer func() {
		r.manager.UnregisterCancel(job.Queue, job.ID)
		cancel()
	}()

	logger := r.logger.With().
		Str("queue", job.Queue).
		Str("job_id", job.ID).
		Str("worker", token).
		Int("attempt", job.AttemptsMade).
		Logger()

	r.manager.EmitStarted(job)
	logger.Debug().Msg("job started")

	timer := metrics.NewTimer()
	result, err := r.run(ctx, reg.handler, &ExecContext{
		Job:    job,
		Logger: logger,
		Progress: func(progress interface{}) error {
			return r.manager.ReportProgress(context.Background(), job, progress)
		},
	})
	metrics.JobDuration.WithLabelValues(job.Queue).Observe(timer.Duration().Seconds())

	// state writes use a fresh context, the execution one may be dead
	bg := context.Background()
	if err != nil {
		reason, retriable := failureOf(ctx, err)
		logger.Warn().Err(err).Bool("retriable", retriable).Msg("job failed")
		if ferr := r.manager.HandleFailure(bg, job, reason, retriable); ferr != nil {
			logger.Error().Err(ferr).Msg("failed to record job failure")
		}
		return
	}

	var data interface{}
	if result != nil {
		data = result.Data
	}
	logger.Debug().Msg("job completed")
	if cerr := r.manager.HandleSuccess(bg, job, data); cerr != nil {
		logger.Error().Err(cerr).Msg("failed to record job completion")
	}
}

// run shields the runtime from handler panics
func (r *Runtime) run(ctx context.Context, h Handler, ec *ExecContext) (result *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return h.Run(ctx, ec)
}

// failureOf translates an execution error into a failure reason and
// whether it should be retried
func failureOf(ctx context.Context, err error) (string, bool) {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return "job cancelled", false
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "job timed out", true
	default:
		return err.Error(), IsRetriable(err)
	}
}
