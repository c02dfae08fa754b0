package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hutch/pkg/apierr"
	"github.com/cuemby/hutch/pkg/backend"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/queue"
	"github.com/cuemby/hutch/pkg/types"
)

type allowAll struct{}

func (allowAll) Authorize(app *types.Application, q string) error { return nil }

func master() *types.Application {
	return &types.Application{ID: types.MasterApplicationID, Name: "master"}
}

func tenant(id string) *types.Application {
	return &types.Application{ID: id, Name: id}
}

func newTestService(t *testing.T) (*Service, *events.Broker) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	b := backend.NewWithClient(rdb)
	m := queue.NewManager(b, broker, queue.NewRegistry(types.JobOptions{}), allowAll{}, queue.Options{})
	return NewService(b, m), broker
}

func submit(t *testing.T, s *Service, app *types.Application, q string, meta map[string]interface{}) *types.Job {
	t.Helper()
	job, err := s.Submit(context.Background(), app, queue.EnqueueRequest{
		Queue:    q,
		Data:     map[string]interface{}{"task": "external"},
		Metadata: meta,
	})
	require.NoError(t, err)
	return job
}

func TestSubmitAndStatus(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	job := submit(t, s, tenant("app-1"), "renders", nil)
	assert.Equal(t, types.JobStatusWaiting, job.Status)

	got, err := s.Status(ctx, tenant("app-1"), "renders", job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = s.Status(ctx, tenant("app-2"), "renders", job.ID)
	assert.Equal(t, apierr.CodeForbidden, apierr.CodeOf(err))
}

func TestUpdateProgressThenComplete(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	app := tenant("app-1")

	job := submit(t, s, app, "renders", nil)

	got, err := s.Update(ctx, app, "renders", job.ID, UpdateRequest{Progress: 40})
	require.NoError(t, err)
	assert.Equal(t, float64(40), got.Progress)

	got, err = s.Update(ctx, app, "renders", job.ID, UpdateRequest{Result: map[string]interface{}{"frames": float64(9)}})
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, got.Status)

	// terminal jobs reject further updates
	_, err = s.Update(ctx, app, "renders", job.ID, UpdateRequest{Progress: 50})
	assert.Equal(t, apierr.CodeJobTerminal, apierr.CodeOf(err))
}

func TestUpdateErrorFailsWithoutRetry(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	app := tenant("app-1")

	job := submit(t, s, app, "renders", nil)

	got, err := s.Update(ctx, app, "renders", job.ID, UpdateRequest{Error: "gpu exploded"})
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	assert.Equal(t, "gpu exploded", got.FailedReason)
	// the external execution counts as the one attempt
	assert.Equal(t, 1, got.AttemptsMade)
}

func TestUpdateRequiresAField(t *testing.T) {
	s, _ := newTestService(t)
	app := tenant("app-1")

	job := submit(t, s, app, "renders", nil)

	_, err := s.Update(context.Background(), app, "renders", job.ID, UpdateRequest{})
	assert.Equal(t, apierr.CodeValidation, apierr.CodeOf(err))
}

func TestUpdateEmitsEvents(t *testing.T) {
	s, broker := newTestService(t)
	app := tenant("app-1")

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	job := submit(t, s, app, "renders", nil)
	_, err := s.Update(context.Background(), app, "renders", job.ID, UpdateRequest{Result: "ok"})
	require.NoError(t, err)

	want := []types.EventType{types.EventJobCreated, types.EventJobCompleted}
	for _, expected := range want {
		select {
		case ev := <-sub:
			assert.Equal(t, expected, ev.Status)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s event", expected)
		}
	}
}

func TestListFilters(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	app := tenant("app-1")

	j1 := submit(t, s, app, "renders", map[string]interface{}{"batch": "b1"})
	submit(t, s, app, "renders", map[string]interface{}{"batch": "b2"})
	submit(t, s, app, "exports", nil)
	submit(t, s, tenant("app-2"), "renders", nil)

	all, err := s.List(ctx, app, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3) // app-2's job is invisible

	renders, err := s.List(ctx, app, ListFilter{Queue: "renders"})
	require.NoError(t, err)
	assert.Len(t, renders, 2)

	byMeta, err := s.List(ctx, app, ListFilter{Metadata: map[string]string{"batch": "b1"}})
	require.NoError(t, err)
	require.Len(t, byMeta, 1)
	assert.Equal(t, j1.ID, byMeta[0].ID)

	asMaster, err := s.List(ctx, master(), ListFilter{Queue: "renders"})
	require.NoError(t, err)
	assert.Len(t, asMaster, 3)

	_, err = s.Update(ctx, app, "renders", j1.ID, UpdateRequest{Error: "stop"})
	require.NoError(t, err)
	failed, err := s.List(ctx, app, ListFilter{Status: types.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, j1.ID, failed[0].ID)

	_, err = s.List(ctx, app, ListFilter{Status: "bogus"})
	assert.Equal(t, apierr.CodeValidation, apierr.CodeOf(err))
}

func TestParseMetadataFilters(t *testing.T) {
	got := ParseMetadataFilters(map[string][]string{
		"queue":          {"renders"},
		"metadata.batch": {"b1"},
		"metadata.owner": {"ops"},
	})
	assert.Equal(t, map[string]string{"batch": "b1", "owner": "ops"}, got)

	assert.Nil(t, ParseMetadataFilters(map[string][]string{"status": {"failed"}}))
}
