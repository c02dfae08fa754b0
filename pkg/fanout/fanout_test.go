package fanout

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hutch/pkg/apierr"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func master() *types.Application {
	return &types.Application{ID: types.MasterApplicationID, Name: "master"}
}

func tenant(id string) *types.Application {
	return &types.Application{ID: id, Name: id}
}

func activeSub(appID string) *types.Subscription {
	return &types.Subscription{
		ID:            "sub-1",
		ApplicationID: appID,
		Name:          "all-events",
		Endpoint:      "https://example.com/hook",
		Method:        "POST",
		Active:        true,
	}
}

func event(appID string, status types.EventType) *types.Event {
	return &types.Event{
		JobID:         "job-1",
		Queue:         "email",
		Status:        status,
		ApplicationID: appID,
		Metadata:      map[string]interface{}{"tier": "gold"},
		Timestamp:     time.Now(),
	}
}

func TestMatches(t *testing.T) {
	ev := event("app-1", types.EventJobCompleted)

	t.Run("open subscription matches", func(t *testing.T) {
		assert.True(t, Matches(activeSub("app-1"), ev))
	})
	t.Run("inactive never matches", func(t *testing.T) {
		sub := activeSub("app-1")
		sub.Active = false
		assert.False(t, Matches(sub, ev))
	})
	t.Run("other application never matches", func(t *testing.T) {
		assert.False(t, Matches(activeSub("app-2"), ev))
	})
	t.Run("event kind filter", func(t *testing.T) {
		sub := activeSub("app-1")
		sub.Events = []types.EventType{types.EventJobFailed}
		assert.False(t, Matches(sub, ev))
		sub.Events = []types.EventType{types.EventJobCompleted}
		assert.True(t, Matches(sub, ev))
	})
	t.Run("queue filter", func(t *testing.T) {
		sub := activeSub("app-1")
		sub.Filters.Queues = []string{"webhook"}
		assert.False(t, Matches(sub, ev))
		sub.Filters.Queues = []string{"webhook", "email"}
		assert.True(t, Matches(sub, ev))
	})
	t.Run("status filter", func(t *testing.T) {
		sub := activeSub("app-1")
		sub.Filters.Statuses = []string{"failed"}
		assert.False(t, Matches(sub, ev))
	})
	t.Run("metadata filter", func(t *testing.T) {
		sub := activeSub("app-1")
		sub.Filters.Metadata = map[string]interface{}{"tier": "gold"}
		assert.True(t, Matches(sub, ev))
		sub.Filters.Metadata = map[string]interface{}{"tier": "silver"}
		assert.False(t, Matches(sub, ev))
		// missing key is a mismatch, not a wildcard
		sub.Filters.Metadata = map[string]interface{}{"region": "eu"}
		assert.False(t, Matches(sub, ev))
	})
}

func TestDelivererHeadersAndBody(t *testing.T) {
	var gotReq *http.Request
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(context.Background())
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
	}))
	defer srv.Close()

	sub := activeSub("app-1")
	sub.Endpoint = srv.URL
	sub.Headers = map[string]string{"Authorization": "Bearer tok"}
	ev := event("app-1", types.EventJobCompleted)
	ev.Result = "done"

	d := NewDeliverer(srv.Client())
	require.NoError(t, d.Deliver(context.Background(), sub, ev))

	assert.Equal(t, "sub-1", gotReq.Header.Get(HeaderSubscriptionID))
	assert.Equal(t, "job-1", gotReq.Header.Get(HeaderJobID))
	assert.Equal(t, "completed", gotReq.Header.Get(HeaderJobStatus))
	assert.Equal(t, "app-1", gotReq.Header.Get(HeaderApplicationID))
	assert.Equal(t, "Bearer tok", gotReq.Header.Get("Authorization"))

	subBody := gotBody["subscription"].(map[string]interface{})
	assert.Equal(t, "sub-1", subBody["id"])
	evBody := gotBody["event"].(map[string]interface{})
	assert.Equal(t, "completed", evBody["type"])
	jobBody := gotBody["job"].(map[string]interface{})
	assert.Equal(t, "job-1", jobBody["id"])
	assert.Equal(t, "email", jobBody["queue"])
	assert.Equal(t, "done", jobBody["result"])
}

func TestDelivererRetriesUntilSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
	}))
	defer srv.Close()

	sub := activeSub("app-1")
	sub.Endpoint = srv.URL
	sub.RetryConfig = types.RetryConfig{MaxAttempts: 3, BackoffMs: 1}

	d := NewDeliverer(srv.Client())
	require.NoError(t, d.Deliver(context.Background(), sub, event("app-1", types.EventJobCompleted)))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDelivererGivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	sub := activeSub("app-1")
	sub.Endpoint = srv.URL
	sub.RetryConfig = types.RetryConfig{MaxAttempts: 2, BackoffMs: 1}

	d := NewDeliverer(srv.Client())
	err := d.Deliver(context.Background(), sub, event("app-1", types.EventJobCompleted))
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestServiceFanout(t *testing.T) {
	delivered := make(chan *http.Request, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered <- r.Clone(context.Background())
	}))
	defer srv.Close()

	store := newTestStore(t)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	svc := NewService(store, broker, srv.Client())
	sub, err := svc.Create(tenant("app-1"), CreateRequest{
		Name:     "completions",
		Endpoint: srv.URL,
		Events:   []types.EventType{types.EventJobCompleted},
	})
	require.NoError(t, err)

	svc.Start()
	defer svc.Stop()

	// one matching, one filtered out
	broker.Publish(event("app-1", types.EventJobCompleted))
	broker.Publish(event("app-1", types.EventJobStarted))

	select {
	case r := <-delivered:
		assert.Equal(t, sub.ID, r.Header.Get(HeaderSubscriptionID))
	case <-time.After(3 * time.Second):
		t.Fatal("no delivery arrived")
	}
	select {
	case <-delivered:
		t.Fatal("filtered event was delivered")
	case <-time.After(100 * time.Millisecond):
	}

	// successful delivery bumps the trigger counter
	require.Eventually(t, func() bool {
		got, err := store.GetSubscription(sub.ID)
		return err == nil && got.TriggerCount == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestServiceJobWebhook(t *testing.T) {
	delivered := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered <- r.Clone(context.Background())
	}))
	defer srv.Close()

	store := newTestStore(t)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	svc := NewService(store, broker, srv.Client())
	svc.Start()
	defer svc.Stop()

	ev := event("app-1", types.EventJobCompleted)
	ev.Webhooks = map[string]string{"completed": srv.URL}
	broker.Publish(ev)

	select {
	case r := <-delivered:
		assert.Equal(t, "job-1", r.Header.Get(HeaderJobID))
	case <-time.After(3 * time.Second):
		t.Fatal("job webhook was not delivered")
	}
}

func TestServiceCRUDOwnership(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, events.NewBroker(), nil)

	sub, err := svc.Create(tenant("app-1"), CreateRequest{
		Name:     "mine",
		Endpoint: "https://example.com/hook",
	})
	require.NoError(t, err)
	assert.True(t, sub.Active)
	assert.Equal(t, 3, sub.RetryConfig.MaxAttempts)
	assert.Len(t, sub.Events, 5)

	_, err = svc.Get(tenant("app-2"), sub.ID)
	assert.Equal(t, apierr.CodeForbidden, apierr.CodeOf(err))

	_, err = svc.Get(master(), sub.ID)
	assert.NoError(t, err)

	mine, err := svc.List(tenant("app-1"))
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	other, err := svc.List(tenant("app-2"))
	require.NoError(t, err)
	assert.Empty(t, other)

	inactive := false
	updated, err := svc.Update(tenant("app-1"), sub.ID, UpdateRequest{Active: &inactive})
	require.NoError(t, err)
	assert.False(t, updated.Active)

	require.NoError(t, svc.Delete(tenant("app-1"), sub.ID))
	_, err = svc.Get(master(), sub.ID)
	assert.Equal(t, apierr.CodeSubscriptionNotFound, apierr.CodeOf(err))
}

func TestServiceCreateValidation(t *testing.T) {
	svc := NewService(newTestStore(t), events.NewBroker(), nil)

	_, err := svc.Create(master(), CreateRequest{Endpoint: "https://example.com"})
	assert.Equal(t, apierr.CodeValidation, apierr.CodeOf(err))

	_, err = svc.Create(master(), CreateRequest{Name: "x", Endpoint: "not-a-url"})
	assert.Equal(t, apierr.CodeValidation, apierr.CodeOf(err))

	_, err = svc.Create(master(), CreateRequest{Name: "x", Endpoint: "https://example.com", Method: "DELETE"})
	assert.Equal(t, apierr.CodeValidation, apierr.CodeOf(err))
}

func TestSubscriptionTest(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
	}))
	defer srv.Close()

	store := newTestStore(t)
	svc := NewService(store, events.NewBroker(), srv.Client())

	sub, err := svc.Create(tenant("app-1"), CreateRequest{
		Name:     "probe",
		Endpoint: srv.URL,
		Events:   []types.EventType{types.EventJobFailed},
	})
	require.NoError(t, err)

	res, err := svc.Test(tenant("app-1"), sub.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "failed", got.Header.Get(HeaderJobStatus))

	// test deliveries leave the trigger counter alone
	after, err := store.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), after.TriggerCount)
}
