package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
	"github.com/cuemby/hutch/pkg/worker"
)

// Handler executes schedule firing jobs: it performs the scheduled HTTP
// call and records the outcome on the schedule record. Server errors and
// network failures are surfaced as retriable errors so the job-level
// retry policy applies; client errors are final.
type Handler struct {
	store  storage.Store
	client *http.Client
}

// NewHandler creates the schedule execution handler
func NewHandler(store storage.Store, client *http.Client) *Handler {
	if client == nil {
		client = &http.Client{}
	}
	return &Handler{store: store, client: client}
}

func (h *Handler) Name() string { return QueueName }

func (h *Handler) Run(ctx context.Context, ec *worker.ExecContext) (*worker.Result, error) {
	id, _ := ec.Job.Data["scheduleId"].(string)
	if id == "" {
		return nil, worker.NonRetriable(fmt.Errorf("firing job has no scheduleId"))
	}

	sched, err := h.store.GetSchedule(id)
	if storage.IsNotFound(err) {
		// deleted between firing and execution, nothing to do
		return &worker.Result{Data: map[string]interface{}{"skipped": true, "reason": "schedule not found"}}, nil
	}
	if err != nil {
		return nil, err
	}
	if !sched.Enabled && sched.Spec.At == nil {
		return &worker.Result{Data: map[string]interface{}{"skipped": true, "reason": "schedule disabled"}}, nil
	}

	status, callErr := h.call(ctx, sched)
	executedAt := time.Now()

	if callErr != nil {
		h.record(ec, id, executedAt, types.ExecutionFailed, callErr.Error())
		metrics.ScheduleExecutions.WithLabelValues("failed").Inc()
		return nil, callErr
	}

	if status >= 400 {
		// client error, retrying the identical request cannot succeed
		reason := fmt.Sprintf("endpoint returned status %d", status)
		h.record(ec, id, executedAt, types.ExecutionFailed, reason)
		metrics.ScheduleExecutions.WithLabelValues("failed").Inc()
		return &worker.Result{Data: map[string]interface{}{
			"success": false,
			"status":  status,
		}}, nil
	}

	h.record(ec, id, executedAt, types.ExecutionSuccess, "")
	metrics.ScheduleExecutions.WithLabelValues("success").Inc()
	return &worker.Result{Data: map[string]interface{}{
		"success": true,
		"status":  status,
	}}, nil
}

// call performs the scheduled HTTP request and returns the status code.
// A non-nil error means the endpoint was not reached or answered 5xx.
func (h *Handler) call(ctx context.Context, sched *types.Schedule) (int, error) {
	timeout := time.Duration(clampTimeout(sched.Endpoint.Timeout)) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body *bytes.Reader
	if sched.Endpoint.Body != nil {
		raw, err := json.Marshal(sched.Endpoint.Body)
		if err != nil {
			return 0, worker.NonRetriable(fmt.Errorf("failed to encode endpoint body: %w", err))
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, sched.Endpoint.Method, sched.Endpoint.URL, body)
	if err != nil {
		return 0, worker.NonRetriable(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range sched.Endpoint.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return resp.StatusCode, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (h *Handler) record(ec *worker.ExecContext, id string, at time.Time, status types.ExecutionStatus, reason string) {
	err := h.store.RecordScheduleRun(id, storage.ScheduleRunUpdate{
		ExecutedAt: at,
		Status:     status,
		Error:      reason,
	})
	if err != nil {
		ec.Logger.Error().Err(err).Str("schedule_id", id).Msg("failed to record schedule run")
	}
}

// clampTimeout bounds the endpoint timeout to 1..300 seconds
func clampTimeout(secs int64) int64 {
	switch {
	case secs <= 0:
		return 30
	case secs > 300:
		return 300
	default:
		return secs
	}
}
