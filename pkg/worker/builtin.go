package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RegisterBuiltins binds the stock handlers to their queues with the
// runtime's default concurrency.
func (r *Runtime) RegisterBuiltins(client *http.Client) error {
	handlers := []Handler{
		NewWebhookHandler(client),
		&EmailHandler{},
		&AIProcessingHandler{},
	}
	for _, name := range []string{
		"image-processing", "pdf-generation", "data-export",
		"notifications", "social-media", "web-scraping",
	} {
		handlers = append(handlers, &PlaceholderHandler{Kind: name})
	}

	for _, h := range handlers {
		if err := r.Register(h.Name(), 0, h); err != nil {
			return err
		}
	}
	return nil
}

// WebhookHandler delivers the job payload to an HTTP endpoint.
// Client errors (4xx) complete the job with a failure-shaped result
// since retrying the same request cannot fix them; server errors and
// network failures surface as retriable errors.
type WebhookHandler struct {
	client *http.Client
}

// NewWebhookHandler creates the webhook handler; a nil client gets a
// sane default.
func NewWebhookHandler(client *http.Client) *WebhookHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookHandler{client: client}
}

func (h *WebhookHandler) Name() string { return "webhook" }

func (h *WebhookHandler) Run(ctx context.Context, ec *ExecContext) (*Result, error) {
	data := ec.Job.Data

	url := stringField(data, "url")
	if url == "" {
		return nil, NonRetriable(fmt.Errorf("webhook job requires a url field"))
	}
	method := strings.ToUpper(stringField(data, "method"))
	if method == "" {
		method = http.MethodPost
	}

	if secs := intField(data, "timeout"); secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}

	var body io.Reader
	if payload, ok := data["data"]; ok && payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, NonRetriable(fmt.Errorf("failed to encode webhook payload: %w", err))
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, NonRetriable(fmt.Errorf("failed to build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := data["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody := decodeBody(resp.Body)

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	return &Result{Data: map[string]interface{}{
		"success": resp.StatusCode < 400,
		"status":  resp.StatusCode,
		"data":    respBody,
	}}, nil
}

// decodeBody reads up to 64KiB of the response and returns parsed JSON
// when possible, the raw string otherwise
func decodeBody(r io.Reader) interface{} {
	raw, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(raw) == 0 {
		return nil
	}
	var parsed interface{}
	if json.Unmarshal(raw, &parsed) == nil {
		return parsed
	}
	return string(raw)
}

// EmailHandler validates and simulates an email send
type EmailHandler struct{}

func (h *EmailHandler) Name() string { return "email" }

func (h *EmailHandler) Run(ctx context.Context, ec *ExecContext) (*Result, error) {
	data := ec.Job.Data

	to := stringField(data, "to")
	subject := stringField(data, "subject")
	if to == "" || subject == "" {
		return nil, NonRetriable(fmt.Errorf("email job requires to and subject fields"))
	}
	if stringField(data, "body") == "" && stringField(data, "html") == "" {
		return nil, NonRetriable(fmt.Errorf("email job requires a body or html field"))
	}

	messageID := "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	ec.Logger.Info().Str("to", to).Str("message_id", messageID).Msg("email simulated")

	return &Result{Data: map[string]interface{}{
		"success":   true,
		"messageId": messageID,
		"to":        to,
		"subject":   subject,
		"simulated": true,
	}}, nil
}

// AIProcessingHandler simulates AI workloads by type
type AIProcessingHandler struct{}

var aiTypes = map[string]bool{
	"completion":       true,
	"embedding":        true,
	"moderation":       true,
	"image-generation": true,
}

func (h *AIProcessingHandler) Name() string { return "ai-processing" }

func (h *AIProcessingHandler) Run(ctx context.Context, ec *ExecContext) (*Result, error) {
	kind := stringField(ec.Job.Data, "type")
	if !aiTypes[kind] {
		return nil, NonRetriable(fmt.Errorf("unsupported ai-processing type %q", kind))
	}

	if ec.Progress != nil {
		_ = ec.Progress(50)
	}

	out := map[string]interface{}{
		"success":   true,
		"type":      kind,
		"simulated": true,
	}
	switch kind {
	case "completion":
		out["text"] = "simulated completion for " + stringField(ec.Job.Data, "prompt")
	case "embedding":
		out["dimensions"] = 1536
	case "moderation":
		out["flagged"] = false
	case "image-generation":
		out["imageUrl"] = "https://example.invalid/generated/" + ec.Job.ID + ".png"
	}
	return &Result{Data: out}, nil
}

// PlaceholderHandler echoes its input; stands in for workloads that are
// registered but not yet implemented.
type PlaceholderHandler struct {
	Kind string
}

func (h *PlaceholderHandler) Name() string { return h.Kind }

func (h *PlaceholderHandler) Run(ctx context.Context, ec *ExecContext) (*Result, error) {
	return &Result{Data: map[string]interface{}{
		"success":     true,
		"handler":     h.Kind,
		"echo":        ec.Job.Data,
		"processedAt": time.Now().UTC().Format(time.RFC3339),
	}}, nil
}

func stringField(data map[string]interface{}, key string) string {
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}

// intField tolerates both JSON numbers (float64) and native ints
func intField(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}
