package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/types"
)

func execContext(data map[string]interface{}) *ExecContext {
	return &ExecContext{
		Job: &types.Job{
			ID:    "job-1",
			Queue: "test",
			Data:  data,
		},
		Logger:   log.WithComponent("test"),
		Progress: func(progress interface{}) error { return nil },
	}
}

func TestWebhookHandlerSuccess(t *testing.T) {
	var gotBody map[string]interface{}
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Custom")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"received":true}`))
	}))
	defer srv.Close()

	h := NewWebhookHandler(srv.Client())
	res, err := h.Run(context.Background(), execContext(map[string]interface{}{
		"url":     srv.URL,
		"headers": map[string]interface{}{"X-Custom": "yes"},
		"data":    map[string]interface{}{"order": "42"},
	}))
	require.NoError(t, err)

	out := res.Data.(map[string]interface{})
	assert.Equal(t, true, out["success"])
	assert.Equal(t, http.StatusOK, out["status"])
	assert.Equal(t, map[string]interface{}{"received": true}, out["data"])
	assert.Equal(t, "yes", gotHeader)
	assert.Equal(t, map[string]interface{}{"order": "42"}, gotBody)
}

func TestWebhookHandlerClientErrorIsFinal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	h := NewWebhookHandler(srv.Client())
	res, err := h.Run(context.Background(), execContext(map[string]interface{}{
		"url": srv.URL,
	}))
	// a 4xx completes the job with a failure-shaped result, no retry
	require.NoError(t, err)

	out := res.Data.(map[string]interface{})
	assert.Equal(t, false, out["success"])
	assert.Equal(t, http.StatusUnprocessableEntity, out["status"])
}

func TestWebhookHandlerServerErrorRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	h := NewWebhookHandler(srv.Client())
	_, err := h.Run(context.Background(), execContext(map[string]interface{}{
		"url": srv.URL,
	}))
	require.Error(t, err)
	assert.True(t, IsRetriable(err))
}

func TestWebhookHandlerNetworkErrorRetries(t *testing.T) {
	h := NewWebhookHandler(nil)
	_, err := h.Run(context.Background(), execContext(map[string]interface{}{
		"url": "http://127.0.0.1:1/unreachable",
	}))
	require.Error(t, err)
	assert.True(t, IsRetriable(err))
}

func TestWebhookHandlerMissingURL(t *testing.T) {
	h := NewWebhookHandler(nil)
	_, err := h.Run(context.Background(), execContext(map[string]interface{}{}))
	require.Error(t, err)
	assert.False(t, IsRetriable(err))
}

func TestEmailHandler(t *testing.T) {
	h := &EmailHandler{}

	res, err := h.Run(context.Background(), execContext(map[string]interface{}{
		"to":      "a@b.c",
		"subject": "hi",
		"body":    "hello",
	}))
	require.NoError(t, err)

	out := res.Data.(map[string]interface{})
	assert.Equal(t, true, out["success"])
	assert.Contains(t, out["messageId"], "msg_")
	assert.Equal(t, true, out["simulated"])

	_, err = h.Run(context.Background(), execContext(map[string]interface{}{
		"to": "a@b.c",
	}))
	require.Error(t, err)
	assert.False(t, IsRetriable(err))
}

func TestAIProcessingHandler(t *testing.T) {
	h := &AIProcessingHandler{}

	res, err := h.Run(context.Background(), execContext(map[string]interface{}{
		"type":   "completion",
		"prompt": "say hi",
	}))
	require.NoError(t, err)
	out := res.Data.(map[string]interface{})
	assert.Equal(t, "completion", out["type"])
	assert.Contains(t, out["text"], "say hi")

	_, err = h.Run(context.Background(), execContext(map[string]interface{}{
		"type": "time-travel",
	}))
	require.Error(t, err)
	assert.False(t, IsRetriable(err))
}

func TestPlaceholderHandler(t *testing.T) {
	h := &PlaceholderHandler{Kind: "data-export"}
	assert.Equal(t, "data-export", h.Name())

	res, err := h.Run(context.Background(), execContext(map[string]interface{}{"rows": float64(10)}))
	require.NoError(t, err)
	out := res.Data.(map[string]interface{})
	assert.Equal(t, "data-export", out["handler"])
	assert.Equal(t, map[string]interface{}{"rows": float64(10)}, out["echo"])
}
