package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/types"
)

// Framework headers stamped on every delivery
const (
	HeaderSubscriptionID = "X-Subscription-Id"
	HeaderJobID          = "X-Job-Id"
	HeaderJobStatus      = "X-Job-Status"
	HeaderApplicationID  = "X-Application-Id"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffMs   = 5000
)

// Deliverer posts event payloads to webhook endpoints with fixed-delay
// retries. A response below 400 counts as delivered.
type Deliverer struct {
	client *http.Client
	logger zerolog.Logger
}

// NewDeliverer creates a deliverer; a nil client gets a sane default
func NewDeliverer(client *http.Client) *Deliverer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Deliverer{client: client, logger: log.WithComponent("fanout")}
}

// Deliver sends the event to the subscription endpoint, retrying up to
// retryConfig.maxAttempts with retryConfig.backoffMs between attempts.
func (d *Deliverer) Deliver(ctx context.Context, sub *types.Subscription, ev *types.Event) error {
	maxAttempts := sub.RetryConfig.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoffMs := sub.RetryConfig.BackoffMs
	if backoffMs <= 0 {
		backoffMs = defaultBackoffMs
	}

	body, err := json.Marshal(payload(sub, ev))
	if err != nil {
		return fmt.Errorf("failed to encode delivery payload: %w", err)
	}

	method := strings.ToUpper(sub.Method)
	if method == "" {
		method = http.MethodPost
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = d.attempt(ctx, method, sub, ev, body)
		if lastErr == nil {
			metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
			return nil
		}
		d.logger.Warn().Err(lastErr).
			Str("subscription_id", sub.ID).
			Str("job_id", ev.JobID).
			Int("attempt", attempt).
			Msg("webhook delivery attempt failed")

		if attempt < maxAttempts {
			select {
			case <-time.After(time.Duration(backoffMs) * time.Millisecond):
			case <-ctx.Done():
				metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
				return ctx.Err()
			}
		}
	}
	metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
	return fmt.Errorf("delivery to %q failed after %d attempts: %w", sub.Endpoint, maxAttempts, lastErr)
}

func (d *Deliverer) attempt(ctx context.Context, method string, sub *types.Subscription, ev *types.Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(HeaderSubscriptionID, sub.ID)
	req.Header.Set(HeaderJobID, ev.JobID)
	req.Header.Set(HeaderJobStatus, string(ev.Status))
	req.Header.Set(HeaderApplicationID, ev.ApplicationID)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// DeliverJobWebhook posts the event to a per-job webhook URL. One shot
// with the default retry budget, no subscription record involved.
func (d *Deliverer) DeliverJobWebhook(ctx context.Context, url string, ev *types.Event) error {
	sub := &types.Subscription{
		ID:       "job-webhook",
		Name:     "job-webhook",
		Endpoint: url,
		Method:   http.MethodPost,
		RetryConfig: types.RetryConfig{
			MaxAttempts: defaultMaxAttempts,
			BackoffMs:   defaultBackoffMs,
		},
	}
	return d.Deliver(ctx, sub, ev)
}

// payload builds the delivery body
func payload(sub *types.Subscription, ev *types.Event) map[string]interface{} {
	job := map[string]interface{}{
		"id":     ev.JobID,
		"queue":  ev.Queue,
		"status": ev.Status,
	}
	if ev.Data != nil {
		job["data"] = ev.Data
	}
	if ev.Metadata != nil {
		job["metadata"] = ev.Metadata
	}
	if ev.Result != nil {
		job["result"] = ev.Result
	}
	if ev.Error != "" {
		job["error"] = ev.Error
	}
	if ev.Progress != nil {
		job["progress"] = ev.Progress
	}

	return map[string]interface{}{
		"subscription": map[string]interface{}{
			"id":   sub.ID,
			"name": sub.Name,
		},
		"event": map[string]interface{}{
			"type":      ev.Status,
			"timestamp": ev.Timestamp,
		},
		"job": job,
	}
}
