package fanout

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/apierr"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
)

// Service owns subscription CRUD and the fanout loop that turns broker
// events into webhook deliveries.
type Service struct {
	store     storage.Store
	broker    *events.Broker
	deliverer *Deliverer
	logger    zerolog.Logger

	sub    events.Subscriber
	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

// NewService creates the fanout service
func NewService(store storage.Store, broker *events.Broker, client *http.Client) *Service {
	return &Service{
		store:     store,
		broker:    broker,
		deliverer: NewDeliverer(client),
		logger:    log.WithComponent("fanout"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start subscribes to the broker and begins dispatching
func (s *Service) Start() {
	s.sub = s.broker.Subscribe()
	go s.run()
}

// Stop unsubscribes and waits for in-flight deliveries
func (s *Service) Stop() {
	s.broker.Unsubscribe(s.sub)
	close(s.stopCh)
	<-s.doneCh
	s.wg.Wait()
}

func (s *Service) run() {
	defer close(s.doneCh)

	for {
		select {
		case ev, ok := <-s.sub:
			if !ok {
				return
			}
			s.dispatch(ev)
		case <-s.stopCh:
			return
		}
	}
}

// dispatch fans one event out to every matching subscription and the
// job's own webhook, each delivery on its own goroutine so one slow
// endpoint never stalls the loop.
func (s *Service) dispatch(ev *types.Event) {
	subs, err := s.store.ListSubscriptions()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list subscriptions")
	} else {
		for _, sub := range subs {
			if !Matches(sub, ev) {
				continue
			}
			sub := sub
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := s.deliverer.Deliver(context.Background(), sub, ev); err != nil {
					s.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("webhook delivery failed")
					return
				}
				if err := s.store.RecordTrigger(sub.ID, time.Now()); err != nil {
					s.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("failed to record trigger")
				}
			}()
		}
	}

	if url, ok := ev.Webhooks[string(ev.Status)]; ok && url != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.deliverer.DeliverJobWebhook(context.Background(), url, ev); err != nil {
				s.logger.Error().Err(err).Str("job_id", ev.JobID).Msg("job webhook delivery failed")
			}
		}()
	}
}

// CreateRequest carries the user-supplied fields of a new subscription
type CreateRequest struct {
	Name     string
	Endpoint string
	Method   string
	Headers  map[string]string
	Filters  types.SubscriptionFilters
	Events   []types.EventType
	Retry    *types.RetryConfig
}

// Create validates and persists a subscription owned by app
func (s *Service) Create(app *types.Application, req CreateRequest) (*types.Subscription, error) {
	if req.Name == "" {
		return nil, apierr.New(apierr.CodeValidation, "subscription name is required")
	}
	if err := validateEndpoint(req.Endpoint); err != nil {
		return nil, err
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}
	if method != http.MethodPost && method != http.MethodPut {
		return nil, apierr.New(apierr.CodeValidation, "subscription method must be POST or PUT")
	}
	if len(req.Events) == 0 {
		req.Events = []types.EventType{
			types.EventJobCreated, types.EventJobStarted, types.EventJobProgress,
			types.EventJobCompleted, types.EventJobFailed,
		}
	}

	retry := types.RetryConfig{MaxAttempts: defaultMaxAttempts, BackoffMs: defaultBackoffMs}
	if req.Retry != nil {
		if req.Retry.MaxAttempts > 0 {
			retry.MaxAttempts = req.Retry.MaxAttempts
		}
		if req.Retry.BackoffMs > 0 {
			retry.BackoffMs = req.Retry.BackoffMs
		}
	}

	now := time.Now()
	sub := &types.Subscription{
		ID:            uuid.New().String(),
		ApplicationID: app.ID,
		Name:          req.Name,
		Endpoint:      req.Endpoint,
		Method:        method,
		Headers:       req.Headers,
		Filters:       req.Filters,
		Events:        req.Events,
		Active:        true,
		RetryConfig:   retry,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateSubscription(sub); err != nil {
		return nil, err
	}
	s.logger.Info().Str("subscription_id", sub.ID).Str("name", sub.Name).Msg("subscription created")
	return sub, nil
}

// Get loads one subscription, enforcing ownership
func (s *Service) Get(app *types.Application, id string) (*types.Subscription, error) {
	sub, err := s.store.GetSubscription(id)
	if err != nil {
		return nil, s.mapErr(id, err)
	}
	if !app.IsMaster() && sub.ApplicationID != app.ID {
		return nil, apierr.New(apierr.CodeForbidden, "subscription %q belongs to another application", id)
	}
	return sub, nil
}

// List returns the caller's subscriptions; the master sees all
func (s *Service) List(app *types.Application) ([]*types.Subscription, error) {
	if app.IsMaster() {
		return s.store.ListSubscriptions()
	}
	return s.store.ListSubscriptionsByApplication(app.ID)
}

// UpdateRequest carries the mutable fields; nil means keep
type UpdateRequest struct {
	Name     *string
	Endpoint *string
	Method   *string
	Headers  map[string]string
	Filters  *types.SubscriptionFilters
	Events   []types.EventType
	Active   *bool
	Retry    *types.RetryConfig
}

// Update applies changes to a subscription
func (s *Service) Update(app *types.Application, id string, req UpdateRequest) (*types.Subscription, error) {
	sub, err := s.Get(app, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		sub.Name = *req.Name
	}
	if req.Endpoint != nil {
		if err := validateEndpoint(*req.Endpoint); err != nil {
			return nil, err
		}
		sub.Endpoint = *req.Endpoint
	}
	if req.Method != nil {
		method := strings.ToUpper(*req.Method)
		if method != http.MethodPost && method != http.MethodPut {
			return nil, apierr.New(apierr.CodeValidation, "subscription method must be POST or PUT")
		}
		sub.Method = method
	}
	if req.Headers != nil {
		sub.Headers = req.Headers
	}
	if req.Filters != nil {
		sub.Filters = *req.Filters
	}
	if req.Events != nil {
		sub.Events = req.Events
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}
	if req.Retry != nil {
		sub.RetryConfig = *req.Retry
	}
	sub.UpdatedAt = time.Now()

	if err := s.store.UpdateSubscription(sub); err != nil {
		return nil, s.mapErr(id, err)
	}
	return sub, nil
}

// Delete removes a subscription, enforcing ownership
func (s *Service) Delete(app *types.Application, id string) error {
	if _, err := s.Get(app, id); err != nil {
		return err
	}
	return s.mapErrNil(id, s.store.DeleteSubscription(id))
}

// TestResult reports the outcome of a test delivery
type TestResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Test sends one synthetic event to the subscription endpoint. Exactly
// one attempt; trigger counters stay untouched.
func (s *Service) Test(app *types.Application, id string) (*TestResult, error) {
	sub, err := s.Get(app, id)
	if err != nil {
		return nil, err
	}

	status := types.EventJobCompleted
	if len(sub.Events) > 0 {
		status = sub.Events[0]
	}
	ev := &types.Event{
		JobID:         "test-job-" + time.Now().UTC().Format("20060102150405"),
		Queue:         "test-queue",
		Status:        status,
		ApplicationID: sub.ApplicationID,
		Metadata:      map[string]interface{}{"testEvent": true},
		Timestamp:     time.Now(),
	}

	probe := *sub
	probe.RetryConfig = types.RetryConfig{MaxAttempts: 1, BackoffMs: 0}
	if err := s.deliverer.Deliver(context.Background(), &probe, ev); err != nil {
		return &TestResult{Success: false, Error: err.Error()}, nil
	}
	return &TestResult{Success: true}, nil
}

func (s *Service) mapErr(id string, err error) error {
	if storage.IsNotFound(err) {
		return apierr.New(apierr.CodeSubscriptionNotFound, "subscription %q not found", id).
			WithCauses("the subscription id is wrong", "the subscription was deleted")
	}
	return err
}

func (s *Service) mapErrNil(id string, err error) error {
	if err == nil {
		return nil
	}
	return s.mapErr(id, err)
}

func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apierr.New(apierr.CodeValidation, "endpoint must be a valid http(s) URL").
			WithHints("example: https://api.example.com/hooks/jobs")
	}
	return nil
}
