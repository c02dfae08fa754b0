package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/hutch/pkg/apierr"
	"github.com/cuemby/hutch/pkg/types"
)

// Client talks to the hutch HTTP API. It unwraps the response envelope
// and surfaces API failures as *apierr.Error so callers can switch on
// stable codes.
type Client struct {
	base string
	key  string
	http *http.Client
}

// New creates a client for the API at baseURL. apiKey may be empty for
// public routes.
func New(baseURL, apiKey string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		key:  apiKey,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apierr.Error   `json:"error"`
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("x-api-key", c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("invalid response from %s %s (status %d): %w", method, path, resp.StatusCode, err)
	}
	if !env.Success {
		if env.Error != nil {
			return env.Error
		}
		return fmt.Errorf("%s %s failed with status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// Health returns liveness and per-queue stats
func (c *Client) Health() (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.do(http.MethodGet, "/health", nil, &out)
	return out, err
}

// JobRequest is a job submission
type JobRequest struct {
	Name     string                 `json:"name,omitempty"`
	Data     map[string]interface{} `json:"data"`
	Options  *types.JobOptions      `json:"options,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Webhooks map[string]string      `json:"webhooks,omitempty"`
}

// SubmitJob enqueues a job
func (c *Client) SubmitJob(queue string, req JobRequest) (*types.Job, error) {
	var job types.Job
	err := c.do(http.MethodPost, "/api/jobs/"+queue, req, &job)
	return &job, err
}

// Job fetches job status
func (c *Client) Job(queue, id string) (*types.Job, error) {
	var job types.Job
	err := c.do(http.MethodGet, "/api/jobs/"+queue+"/"+id, nil, &job)
	return &job, err
}

// CancelJob cancels a job
func (c *Client) CancelJob(queue, id string) error {
	return c.do(http.MethodDelete, "/api/jobs/"+queue+"/"+id, nil, nil)
}

// Queues lists the queues the caller may use
func (c *Client) Queues() ([]string, error) {
	var out struct {
		Queues []string `json:"queues"`
	}
	err := c.do(http.MethodGet, "/api/queues", nil, &out)
	return out.Queues, err
}

// QueueStats fetches per-status counts for one queue
func (c *Client) QueueStats(name string) (*types.QueueStats, error) {
	var stats types.QueueStats
	err := c.do(http.MethodGet, "/api/queues/"+name+"/stats", nil, &stats)
	return &stats, err
}

// PauseQueue stops reservations on a queue. Master only.
func (c *Client) PauseQueue(name string) error {
	return c.do(http.MethodPost, "/api/queues/"+name+"/pause", nil, nil)
}

// ResumeQueue lifts a pause. Master only.
func (c *Client) ResumeQueue(name string) error {
	return c.do(http.MethodPost, "/api/queues/"+name+"/resume", nil, nil)
}

// Subscriptions lists the caller's subscriptions
func (c *Client) Subscriptions() ([]*types.Subscription, error) {
	var out struct {
		Subscriptions []*types.Subscription `json:"subscriptions"`
	}
	err := c.do(http.MethodGet, "/api/subscriptions", nil, &out)
	return out.Subscriptions, err
}

// CreateSubscription registers a webhook subscription
func (c *Client) CreateSubscription(spec map[string]interface{}) (*types.Subscription, error) {
	var sub types.Subscription
	err := c.do(http.MethodPost, "/api/subscriptions", spec, &sub)
	return &sub, err
}

// UpdateSubscription replaces mutable fields of a subscription
func (c *Client) UpdateSubscription(id string, spec map[string]interface{}) (*types.Subscription, error) {
	var sub types.Subscription
	err := c.do(http.MethodPut, "/api/subscriptions/"+id, spec, &sub)
	return &sub, err
}

// TestSubscription sends one synthetic event to the endpoint
func (c *Client) TestSubscription(id string) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.do(http.MethodPost, "/api/subscriptions/"+id+"/test", nil, &out)
	return out, err
}

// Schedules lists all schedules
func (c *Client) Schedules() ([]*types.Schedule, error) {
	var out struct {
		Schedules []*types.Schedule `json:"schedules"`
	}
	err := c.do(http.MethodGet, "/api/schedules", nil, &out)
	return out.Schedules, err
}

// CreateSchedule registers a schedule
func (c *Client) CreateSchedule(spec map[string]interface{}) (*types.Schedule, error) {
	var sched types.Schedule
	err := c.do(http.MethodPost, "/api/schedules", spec, &sched)
	return &sched, err
}

// UpdateSchedule replaces mutable fields of a schedule
func (c *Client) UpdateSchedule(id string, spec map[string]interface{}) (*types.Schedule, error) {
	var sched types.Schedule
	err := c.do(http.MethodPut, "/api/schedules/"+id, spec, &sched)
	return &sched, err
}

// ExecuteSchedule fires a schedule immediately
func (c *Client) ExecuteSchedule(id string) error {
	return c.do(http.MethodPost, "/api/schedules/"+id+"/execute", nil, nil)
}
