package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/queue"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
)

// QueueName is the internal queue that carries schedule firings
const QueueName = "scheduler"

// Scheduler scans for due schedules on a fixed tick and turns each
// firing into a job on the scheduler queue. The conditional advance in
// the store acts as a claim, so concurrent instances never enqueue the
// same firing twice.
type Scheduler struct {
	store    storage.Store
	manager  *queue.Manager
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a scheduler; interval defaults to one minute
func New(store storage.Store, manager *queue.Manager, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		store:    store,
		manager:  manager,
		interval: interval,
		logger:   log.WithComponent("scheduler"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the tick loop
func (s *Scheduler) Start() {
	go s.run()
	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
}

// Stop terminates the tick loop and waits for the current tick
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

// Tick processes every schedule due at now. Exported so an execute-now
// request and tests can drive firings without waiting for the ticker.
func (s *Scheduler) Tick(now time.Time) {
	timer := metrics.NewTimer()
	defer func() {
		metrics.SchedulerTickDuration.Observe(timer.Duration().Seconds())
	}()

	due, err := s.store.ListDueSchedules(now)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to query due schedules")
		return
	}

	for _, sched := range due {
		s.fire(sched, now)
	}
}

// fire claims one due schedule and enqueues its firing job
func (s *Scheduler) fire(sched *types.Schedule, now time.Time) {
	next, disable := s.nextAfter(sched, now)

	claimed, err := s.store.AdvanceSchedule(sched.ID, sched.NextExecutionAt, next, disable)
	if err != nil {
		s.logger.Error().Err(err).Str("schedule_id", sched.ID).Msg("failed to advance schedule")
		return
	}
	if !claimed {
		// another instance took this firing
		return
	}

	if err := s.Enqueue(sched); err != nil {
		s.logger.Error().Err(err).Str("schedule_id", sched.ID).Msg("failed to enqueue schedule firing")
	}
}

// Enqueue submits the firing job for a schedule, carrying its retry
// policy as job options.
func (s *Scheduler) Enqueue(sched *types.Schedule) error {
	master := &types.Application{ID: types.MasterApplicationID, Name: "master"}
	_, err := s.manager.Enqueue(context.Background(), master, queue.EnqueueRequest{
		Queue: QueueName,
		Name:  sched.Name,
		Data:  map[string]interface{}{"scheduleId": sched.ID},
		Options: &types.JobOptions{
			Attempts: sched.RetryPolicy.Attempts,
			Backoff:  sched.RetryPolicy.Backoff,
		},
		Metadata: map[string]interface{}{"scheduleName": sched.Name},
	})
	if err == nil {
		s.logger.Debug().Str("schedule_id", sched.ID).Msg("schedule firing enqueued")
	}
	return err
}

// nextAfter computes the next firing, or disable for one-shots and
// schedules past their end date or limit
func (s *Scheduler) nextAfter(sched *types.Schedule, now time.Time) (*time.Time, bool) {
	if sched.Spec.At != nil {
		return nil, true
	}
	if sched.Spec.Limit > 0 && sched.ExecutionCount+1 >= sched.Spec.Limit {
		return nil, true
	}

	next, err := NextFire(sched.Spec.Cron, sched.Spec.Timezone, now)
	if err != nil {
		// stored cron no longer parses, stop firing it
		s.logger.Error().Err(err).Str("schedule_id", sched.ID).Msg("stored cron expression is invalid")
		return nil, true
	}
	if sched.Spec.EndDate != nil && next.After(*sched.Spec.EndDate) {
		return nil, true
	}
	return &next, false
}
