package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hutch/pkg/backend"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/queue"
	"github.com/cuemby/hutch/pkg/types"
)

type allowAll struct{}

func (allowAll) Authorize(app *types.Application, q string) error { return nil }

type funcHandler struct {
	name string
	fn   func(ctx context.Context, ec *ExecContext) (*Result, error)
}

func (h *funcHandler) Name() string { return h.name }
func (h *funcHandler) Run(ctx context.Context, ec *ExecContext) (*Result, error) {
	return h.fn(ctx, ec)
}

func newTestStack(t *testing.T) (*queue.Manager, *Runtime) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	m := queue.NewManager(backend.NewWithClient(rdb), broker, queue.NewRegistry(types.JobOptions{}), allowAll{}, queue.Options{
		HousekeepingInterval: 20 * time.Millisecond,
	})
	m.Start()
	t.Cleanup(m.Stop)

	rt := NewRuntime(m, RuntimeOptions{PollInterval: 10 * time.Millisecond})
	return m, rt
}

func master() *types.Application {
	return &types.Application{ID: types.MasterApplicationID, Name: "master"}
}

func enqueue(t *testing.T, m *queue.Manager, q string, data map[string]interface{}, opts *types.JobOptions) *types.Job {
	t.Helper()
	job, err := m.Enqueue(context.Background(), master(), queue.EnqueueRequest{
		Queue:   q,
		Data:    data,
		Options: opts,
	})
	require.NoError(t, err)
	return job
}

func waitForStatus(t *testing.T, m *queue.Manager, q, id string, want types.JobStatus) *types.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.GetJob(context.Background(), master(), q, id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, want)
	return nil
}

func TestRuntimeCompletesJob(t *testing.T) {
	m, rt := newTestStack(t)

	require.NoError(t, rt.Register("greet", 1, &funcHandler{
		name: "greet",
		fn: func(ctx context.Context, ec *ExecContext) (*Result, error) {
			return &Result{Data: map[string]interface{}{"hello": ec.Job.Data["name"]}}, nil
		},
	}))
	rt.Start()
	defer rt.Stop()

	job := enqueue(t, m, "greet", map[string]interface{}{"name": "world"}, nil)

	done := waitForStatus(t, m, "greet", job.ID, types.JobStatusCompleted)
	result, ok := done.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "world", result["hello"])
}

func TestRuntimeRetriesThenFails(t *testing.T) {
	m, rt := newTestStack(t)

	var runs int32
	require.NoError(t, rt.Register("flaky", 1, &funcHandler{
		name: "flaky",
		fn: func(ctx context.Context, ec *ExecContext) (*Result, error) {
			atomic.AddInt32(&runs, 1)
			return nil, errors.New("boom")
		},
	}))
	rt.Start()
	defer rt.Stop()

	job := enqueue(t, m, "flaky", map[string]interface{}{"x": 1}, &types.JobOptions{
		Attempts: 2,
		Backoff:  &types.BackoffPolicy{Type: types.BackoffFixed, Delay: 1},
	})

	// first attempt fails retriably, housekeeping promotes the retry
	done := waitForStatus(t, m, "flaky", job.ID, types.JobStatusFailed)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
	assert.Equal(t, "boom", done.FailedReason)
	assert.Equal(t, 2, done.AttemptsMade)
}

func TestRuntimeNonRetriableFailsImmediately(t *testing.T) {
	m, rt := newTestStack(t)

	var runs int32
	require.NoError(t, rt.Register("strict", 1, &funcHandler{
		name: "strict",
		fn: func(ctx context.Context, ec *ExecContext) (*Result, error) {
			atomic.AddInt32(&runs, 1)
			return nil, NonRetriable(errors.New("bad input"))
		},
	}))
	rt.Start()
	defer rt.Stop()

	job := enqueue(t, m, "strict", map[string]interface{}{"x": 1}, &types.JobOptions{Attempts: 5})

	done := waitForStatus(t, m, "strict", job.ID, types.JobStatusFailed)
	assert.Equal(t, "bad input", done.FailedReason)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestRuntimeTimeout(t *testing.T) {
	m, rt := newTestStack(t)

	require.NoError(t, rt.Register("slow", 1, &funcHandler{
		name: "slow",
		fn: func(ctx context.Context, ec *ExecContext) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))
	rt.Start()
	defer rt.Stop()

	job := enqueue(t, m, "slow", map[string]interface{}{"x": 1}, &types.JobOptions{
		Attempts: 1,
		Timeout:  20, // milliseconds
	})

	done := waitForStatus(t, m, "slow", job.ID, types.JobStatusFailed)
	assert.Equal(t, "job timed out", done.FailedReason)
}

func TestRuntimeCancellation(t *testing.T) {
	m, rt := newTestStack(t)

	started := make(chan struct{})
	require.NoError(t, rt.Register("cancellable", 1, &funcHandler{
		name: "cancellable",
		fn: func(ctx context.Context, ec *ExecContext) (*Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))
	rt.Start()
	defer rt.Stop()

	job := enqueue(t, m, "cancellable", map[string]interface{}{"x": 1}, &types.JobOptions{Attempts: 3})

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never started")
	}
	require.NoError(t, m.Cancel(context.Background(), master(), "cancellable", job.ID))

	done := waitForStatus(t, m, "cancellable", job.ID, types.JobStatusFailed)
	assert.Equal(t, "job cancelled", done.FailedReason)
}

func TestRuntimeContainsPanics(t *testing.T) {
	m, rt := newTestStack(t)

	require.NoError(t, rt.Register("panics", 1, &funcHandler{
		name: "panics",
		fn: func(ctx context.Context, ec *ExecContext) (*Result, error) {
			panic("oh no")
		},
	}))
	rt.Start()
	defer rt.Stop()

	job := enqueue(t, m, "panics", map[string]interface{}{"x": 1}, &types.JobOptions{Attempts: 1})

	done := waitForStatus(t, m, "panics", job.ID, types.JobStatusFailed)
	assert.Contains(t, done.FailedReason, "handler panicked")
}

func TestRuntimeProgress(t *testing.T) {
	m, rt := newTestStack(t)

	require.NoError(t, rt.Register("steps", 1, &funcHandler{
		name: "steps",
		fn: func(ctx context.Context, ec *ExecContext) (*Result, error) {
			if err := ec.Progress(25); err != nil {
				return nil, err
			}
			return &Result{Data: "ok"}, nil
		},
	}))
	rt.Start()
	defer rt.Stop()

	job := enqueue(t, m, "steps", map[string]interface{}{"x": 1}, nil)
	waitForStatus(t, m, "steps", job.ID, types.JobStatusCompleted)
}

func TestRegisterDuplicateQueue(t *testing.T) {
	_, rt := newTestStack(t)

	h := &funcHandler{name: "dup", fn: func(ctx context.Context, ec *ExecContext) (*Result, error) {
		return nil, fmt.Errorf("unused")
	}}
	require.NoError(t, rt.Register("dup", 1, h))
	assert.Error(t, rt.Register("dup", 1, h))
}
