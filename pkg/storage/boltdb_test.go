package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hutch/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestApplicationCRUD(t *testing.T) {
	store := newTestStore(t)

	app := &types.Application{
		ID:      "app-1",
		Name:    "billing",
		KeyHash: "abc123",
		Settings: types.ApplicationSettings{
			AllowedQueues: []string{"email", "webhook"},
		},
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateApplication(app))

	got, err := store.GetApplication("app-1")
	require.NoError(t, err)
	assert.Equal(t, "billing", got.Name)
	assert.Equal(t, "abc123", got.KeyHash, "key hash must survive storage")

	byKey, err := store.GetApplicationByKeyHash("abc123")
	require.NoError(t, err)
	assert.Equal(t, "app-1", byKey.ID)

	apps, err := store.ListApplications()
	require.NoError(t, err)
	assert.Len(t, apps, 1)

	require.NoError(t, store.DeleteApplication("app-1"))
	_, err = store.GetApplication("app-1")
	assert.True(t, IsNotFound(err))
	_, err = store.GetApplicationByKeyHash("abc123")
	assert.True(t, IsNotFound(err), "key index must be cleaned up on delete")
}

func TestSubscriptionCRUDAndTrigger(t *testing.T) {
	store := newTestStore(t)

	sub := &types.Subscription{
		ID:            "sub-1",
		ApplicationID: "app-1",
		Name:          "on-complete",
		Endpoint:      "http://callback.example.com/hook",
		Method:        "POST",
		Events:        []types.EventType{types.EventJobCompleted},
		Active:        true,
		RetryConfig:   types.RetryConfig{MaxAttempts: 3, BackoffMs: 1000},
	}
	require.NoError(t, store.CreateSubscription(sub))

	byApp, err := store.ListSubscriptionsByApplication("app-1")
	require.NoError(t, err)
	require.Len(t, byApp, 1)

	other, err := store.ListSubscriptionsByApplication("app-2")
	require.NoError(t, err)
	assert.Empty(t, other)

	now := time.Now()
	require.NoError(t, store.RecordTrigger("sub-1", now))
	require.NoError(t, store.RecordTrigger("sub-1", now))

	got, err := store.GetSubscription("sub-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TriggerCount)
	require.NotNil(t, got.LastTriggeredAt)

	require.NoError(t, store.DeleteSubscription("sub-1"))
	assert.True(t, IsNotFound(store.DeleteSubscription("sub-1")))
}

func TestScheduleDueQuery(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	expired := now.Add(-time.Hour)

	cases := []*types.Schedule{
		{ID: "due", Enabled: true, NextExecutionAt: &past},
		{ID: "future", Enabled: true, NextExecutionAt: &future},
		{ID: "disabled", Enabled: false, NextExecutionAt: &past},
		{ID: "ended", Enabled: true, NextExecutionAt: &past,
			Spec: types.ScheduleSpec{EndDate: &expired}},
		{ID: "limited", Enabled: true, NextExecutionAt: &past,
			Spec: types.ScheduleSpec{Limit: 2}, ExecutionCount: 2},
		{ID: "under-limit", Enabled: true, NextExecutionAt: &past,
			Spec: types.ScheduleSpec{Limit: 2}, ExecutionCount: 1},
	}
	for _, sched := range cases {
		require.NoError(t, store.CreateSchedule(sched))
	}

	due, err := store.ListDueSchedules(now)
	require.NoError(t, err)

	var ids []string
	for _, sched := range due {
		ids = append(ids, sched.ID)
	}
	assert.ElementsMatch(t, []string{"due", "under-limit"}, ids)
}

func TestAdvanceScheduleConditional(t *testing.T) {
	store := newTestStore(t)

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(5 * time.Minute)

	require.NoError(t, store.CreateSchedule(&types.Schedule{
		ID: "s-1", Enabled: true, NextExecutionAt: &first,
	}))

	ok, err := store.AdvanceSchedule("s-1", &first, &second, false)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second instance holding the stale prev value must lose the race
	ok, err = store.AdvanceSchedule("s-1", &first, &second, false)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetSchedule("s-1")
	require.NoError(t, err)
	require.NotNil(t, got.NextExecutionAt)
	assert.True(t, got.NextExecutionAt.Equal(second))
}

func TestAdvanceScheduleDisables(t *testing.T) {
	store := newTestStore(t)

	at := time.Now().Add(-time.Minute)
	require.NoError(t, store.CreateSchedule(&types.Schedule{
		ID: "one-shot", Enabled: true, NextExecutionAt: &at,
	}))

	ok, err := store.AdvanceSchedule("one-shot", &at, nil, true)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetSchedule("one-shot")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.NextExecutionAt)
}

func TestRecordScheduleRun(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateSchedule(&types.Schedule{ID: "s-1", Enabled: true}))

	at := time.Now()
	require.NoError(t, store.RecordScheduleRun("s-1", ScheduleRunUpdate{
		ExecutedAt: at,
		Status:     types.ExecutionFailed,
		Error:      "connection refused",
	}))

	got, err := store.GetSchedule("s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ExecutionCount)
	assert.Equal(t, types.ExecutionFailed, got.LastExecutionStatus)
	assert.Equal(t, "connection refused", got.LastExecutionError)
	require.NotNil(t, got.LastExecutedAt)
}
