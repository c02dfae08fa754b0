package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hutch/pkg/apierr"
	"github.com/cuemby/hutch/pkg/backend"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/queue"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
	"github.com/cuemby/hutch/pkg/worker"
)

type allowAll struct{}

func (allowAll) Authorize(app *types.Application, q string) error { return nil }

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestManager(t *testing.T) *queue.Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return queue.NewManager(backend.NewWithClient(rdb), broker, queue.NewRegistry(types.JobOptions{}), allowAll{}, queue.Options{})
}

func cronSchedule(t *testing.T, svc *Service) *types.Schedule {
	t.Helper()
	sched, err := svc.Create(CreateRequest{
		Name:     "nightly-report",
		Endpoint: types.Endpoint{URL: "https://example.com/run"},
		Spec:     types.ScheduleSpec{Cron: "0 3 * * *"},
	})
	require.NoError(t, err)
	return sched
}

func TestServiceCreateDefaults(t *testing.T) {
	svc := NewService(newTestStore(t))

	sched := cronSchedule(t, svc)
	assert.True(t, sched.Enabled)
	assert.Equal(t, "POST", sched.Endpoint.Method)
	assert.Equal(t, 3, sched.RetryPolicy.Attempts)
	require.NotNil(t, sched.NextExecutionAt)
	assert.True(t, sched.NextExecutionAt.After(time.Now()))
}

func TestServiceCreateValidation(t *testing.T) {
	svc := NewService(newTestStore(t))

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"missing name", CreateRequest{
			Endpoint: types.Endpoint{URL: "https://example.com"},
			Spec:     types.ScheduleSpec{Cron: "* * * * *"},
		}},
		{"bad url", CreateRequest{
			Name:     "x",
			Endpoint: types.Endpoint{URL: "ftp://example.com"},
			Spec:     types.ScheduleSpec{Cron: "* * * * *"},
		}},
		{"bad cron", CreateRequest{
			Name:     "x",
			Endpoint: types.Endpoint{URL: "https://example.com"},
			Spec:     types.ScheduleSpec{Cron: "99 * * * *"},
		}},
		{"neither cron nor at", CreateRequest{
			Name:     "x",
			Endpoint: types.Endpoint{URL: "https://example.com"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(tc.req)
			assert.Equal(t, apierr.CodeValidation, apierr.CodeOf(err))
		})
	}
}

func TestServiceToggleRecomputesNext(t *testing.T) {
	svc := NewService(newTestStore(t))
	sched := cronSchedule(t, svc)

	disabled, err := svc.Toggle(sched.ID, false)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)

	enabled, err := svc.Toggle(sched.ID, true)
	require.NoError(t, err)
	assert.True(t, enabled.Enabled)
	assert.True(t, enabled.NextExecutionAt.After(time.Now()))
}

func TestServiceNotFound(t *testing.T) {
	svc := NewService(newTestStore(t))

	_, err := svc.Get("nope")
	assert.Equal(t, apierr.CodeScheduleNotFound, apierr.CodeOf(err))

	err = svc.Delete("nope")
	assert.Equal(t, apierr.CodeScheduleNotFound, apierr.CodeOf(err))
}

func TestTickEnqueuesAndAdvances(t *testing.T) {
	store := newTestStore(t)
	manager := newTestManager(t)
	svc := NewService(store)

	sched := cronSchedule(t, svc)
	// force the schedule due
	past := time.Now().Add(-time.Minute)
	sched.NextExecutionAt = &past
	require.NoError(t, store.UpdateSchedule(sched))

	s := New(store, manager, time.Minute)
	now := time.Now()
	s.Tick(now)

	stats, err := manager.Stats(context.Background(), QueueName)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Counts.Waiting)

	after, err := store.GetSchedule(sched.ID)
	require.NoError(t, err)
	require.NotNil(t, after.NextExecutionAt)
	assert.True(t, after.NextExecutionAt.After(now))

	// same tick again fires nothing, the schedule is no longer due
	s.Tick(now)
	stats, err = manager.Stats(context.Background(), QueueName)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Counts.Waiting)
}

func TestTickDisablesOneShot(t *testing.T) {
	store := newTestStore(t)
	manager := newTestManager(t)
	svc := NewService(store)

	sched, err := svc.Create(CreateRequest{
		Name:     "once",
		Endpoint: types.Endpoint{URL: "https://example.com/run"},
		Spec:     types.ScheduleSpec{At: timePtr(time.Now().Add(10 * time.Millisecond))},
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	New(store, manager, time.Minute).Tick(time.Now())

	after, err := store.GetSchedule(sched.ID)
	require.NoError(t, err)
	assert.False(t, after.Enabled)
	assert.Nil(t, after.NextExecutionAt)

	stats, err := manager.Stats(context.Background(), QueueName)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Counts.Waiting)
}

func TestTickHonorsLimit(t *testing.T) {
	store := newTestStore(t)
	manager := newTestManager(t)
	svc := NewService(store)

	sched, err := svc.Create(CreateRequest{
		Name:     "limited",
		Endpoint: types.Endpoint{URL: "https://example.com/run"},
		Spec:     types.ScheduleSpec{Cron: "* * * * *", Limit: 1},
	})
	require.NoError(t, err)
	past := time.Now().Add(-time.Minute)
	sched.NextExecutionAt = &past
	require.NoError(t, store.UpdateSchedule(sched))

	New(store, manager, time.Minute).Tick(time.Now())

	after, err := store.GetSchedule(sched.ID)
	require.NoError(t, err)
	assert.False(t, after.Enabled)
}

func execContext(t *testing.T, data map[string]interface{}) *worker.ExecContext {
	t.Helper()
	return &worker.ExecContext{
		Job:      &types.Job{ID: "job-1", Queue: QueueName, Data: data},
		Logger:   log.WithComponent("test"),
		Progress: func(progress interface{}) error { return nil },
	}
}

func storedSchedule(t *testing.T, store storage.Store, url string) *types.Schedule {
	t.Helper()
	svc := NewService(store)
	sched, err := svc.Create(CreateRequest{
		Name:     "call-endpoint",
		Endpoint: types.Endpoint{URL: url},
		Spec:     types.ScheduleSpec{Cron: "* * * * *"},
	})
	require.NoError(t, err)
	return sched
}

func TestHandlerSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sched := storedSchedule(t, store, srv.URL)

	h := NewHandler(store, srv.Client())
	res, err := h.Run(context.Background(), execContext(t, map[string]interface{}{"scheduleId": sched.ID}))
	require.NoError(t, err)
	out := res.Data.(map[string]interface{})
	assert.Equal(t, true, out["success"])

	after, err := store.GetSchedule(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionSuccess, after.LastExecutionStatus)
	assert.Equal(t, int64(1), after.ExecutionCount)
}

func TestHandlerClientErrorIsFinal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sched := storedSchedule(t, store, srv.URL)

	h := NewHandler(store, srv.Client())
	res, err := h.Run(context.Background(), execContext(t, map[string]interface{}{"scheduleId": sched.ID}))
	require.NoError(t, err)
	out := res.Data.(map[string]interface{})
	assert.Equal(t, false, out["success"])

	after, err := store.GetSchedule(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionFailed, after.LastExecutionStatus)
	assert.Contains(t, after.LastExecutionError, "400")
}

func TestHandlerServerErrorRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sched := storedSchedule(t, store, srv.URL)

	h := NewHandler(store, srv.Client())
	_, err := h.Run(context.Background(), execContext(t, map[string]interface{}{"scheduleId": sched.ID}))
	require.Error(t, err)
	assert.True(t, worker.IsRetriable(err))

	after, err := store.GetSchedule(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionFailed, after.LastExecutionStatus)
}

func TestHandlerMissingScheduleIsNoop(t *testing.T) {
	h := NewHandler(newTestStore(t), nil)

	res, err := h.Run(context.Background(), execContext(t, map[string]interface{}{"scheduleId": "gone"}))
	require.NoError(t, err)
	out := res.Data.(map[string]interface{})
	assert.Equal(t, true, out["skipped"])
}

func TestHandlerDisabledScheduleIsNoop(t *testing.T) {
	store := newTestStore(t)
	sched := storedSchedule(t, store, "https://example.com/run")
	svc := NewService(store)
	_, err := svc.Toggle(sched.ID, false)
	require.NoError(t, err)

	h := NewHandler(store, nil)
	res, err := h.Run(context.Background(), execContext(t, map[string]interface{}{"scheduleId": sched.ID}))
	require.NoError(t, err)
	out := res.Data.(map[string]interface{})
	assert.Equal(t, true, out["skipped"])
}

func timePtr(t time.Time) *time.Time { return &t }
