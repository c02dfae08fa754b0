package scheduler

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/apierr"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
)

// Service implements schedule CRUD with validation. The tick loop and
// the worker handler read schedules through the same store.
type Service struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewService creates the schedule service
func NewService(store storage.Store) *Service {
	return &Service{store: store, logger: log.WithComponent("scheduler")}
}

// CreateRequest carries the user-supplied fields of a new schedule
type CreateRequest struct {
	Name        string
	Endpoint    types.Endpoint
	Spec        types.ScheduleSpec
	RetryPolicy *types.RetryPolicy
	Metadata    map[string]interface{}
	CreatedBy   string
}

// Create validates and persists a schedule, computing its first firing
func (s *Service) Create(req CreateRequest) (*types.Schedule, error) {
	if req.Name == "" {
		return nil, apierr.New(apierr.CodeValidation, "schedule name is required")
	}
	if err := validateEndpoint(&req.Endpoint); err != nil {
		return nil, err
	}
	if err := validateSpec(&req.Spec); err != nil {
		return nil, err
	}

	now := time.Now()
	next, err := firstFire(&req.Spec, now)
	if err != nil {
		return nil, err
	}

	sched := &types.Schedule{
		ID:              uuid.New().String(),
		Name:            req.Name,
		Endpoint:        req.Endpoint,
		Spec:            req.Spec,
		RetryPolicy:     normalizeRetryPolicy(req.RetryPolicy),
		Enabled:         true,
		Metadata:        req.Metadata,
		NextExecutionAt: next,
		CreatedBy:       req.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateSchedule(sched); err != nil {
		return nil, err
	}

	s.logger.Info().Str("schedule_id", sched.ID).Str("name", sched.Name).
		Time("next", *next).Msg("schedule created")
	return sched, nil
}

// Get loads one schedule
func (s *Service) Get(id string) (*types.Schedule, error) {
	sched, err := s.store.GetSchedule(id)
	if err != nil {
		return nil, s.mapErr(id, err)
	}
	return sched, nil
}

// List returns all schedules
func (s *Service) List() ([]*types.Schedule, error) {
	return s.store.ListSchedules()
}

// UpdateRequest carries the mutable fields; nil means keep
type UpdateRequest struct {
	Name        *string
	Endpoint    *types.Endpoint
	Spec        *types.ScheduleSpec
	RetryPolicy *types.RetryPolicy
	Metadata    map[string]interface{}
}

// Update applies changes and recomputes the next firing when the spec
// changed
func (s *Service) Update(id string, req UpdateRequest) (*types.Schedule, error) {
	sched, err := s.store.GetSchedule(id)
	if err != nil {
		return nil, s.mapErr(id, err)
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, apierr.New(apierr.CodeValidation, "schedule name cannot be empty")
		}
		sched.Name = *req.Name
	}
	if req.Endpoint != nil {
		if err := validateEndpoint(req.Endpoint); err != nil {
			return nil, err
		}
		sched.Endpoint = *req.Endpoint
	}
	if req.Spec != nil {
		if err := validateSpec(req.Spec); err != nil {
			return nil, err
		}
		next, err := firstFire(req.Spec, time.Now())
		if err != nil {
			return nil, err
		}
		sched.Spec = *req.Spec
		sched.NextExecutionAt = next
	}
	if req.RetryPolicy != nil {
		sched.RetryPolicy = normalizeRetryPolicy(req.RetryPolicy)
	}
	if req.Metadata != nil {
		sched.Metadata = req.Metadata
	}
	sched.UpdatedAt = time.Now()

	if err := s.store.UpdateSchedule(sched); err != nil {
		return nil, s.mapErr(id, err)
	}
	return sched, nil
}

// Toggle enables or disables a schedule. Re-enabling recomputes the
// next firing so a long-disabled cron does not fire for missed slots.
func (s *Service) Toggle(id string, enabled bool) (*types.Schedule, error) {
	sched, err := s.store.GetSchedule(id)
	if err != nil {
		return nil, s.mapErr(id, err)
	}

	sched.Enabled = enabled
	if enabled && sched.Spec.Cron != "" {
		next, err := NextFire(sched.Spec.Cron, sched.Spec.Timezone, time.Now())
		if err != nil {
			return nil, apierr.New(apierr.CodeValidation, "%s", err.Error())
		}
		sched.NextExecutionAt = &next
	}
	sched.UpdatedAt = time.Now()

	if err := s.store.UpdateSchedule(sched); err != nil {
		return nil, s.mapErr(id, err)
	}
	return sched, nil
}

// Delete removes a schedule
func (s *Service) Delete(id string) error {
	if err := s.store.DeleteSchedule(id); err != nil {
		return s.mapErr(id, err)
	}
	return nil
}

func (s *Service) mapErr(id string, err error) error {
	if storage.IsNotFound(err) {
		return apierr.New(apierr.CodeScheduleNotFound, "schedule %q not found", id).
			WithCauses("the schedule id is wrong", "the schedule was deleted")
	}
	return err
}

func validateEndpoint(ep *types.Endpoint) error {
	u, err := url.Parse(ep.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apierr.New(apierr.CodeValidation, "endpoint url must be a valid http(s) URL").
			WithHints("example: https://api.example.com/hooks/run")
	}
	ep.Method = strings.ToUpper(ep.Method)
	if ep.Method == "" {
		ep.Method = "POST"
	}
	switch ep.Method {
	case "GET", "POST", "PUT", "PATCH", "DELETE":
	default:
		return apierr.New(apierr.CodeValidation, "endpoint method %q is not supported", ep.Method)
	}
	return nil
}

func validateSpec(spec *types.ScheduleSpec) error {
	hasCron := spec.Cron != ""
	hasAt := spec.At != nil
	if hasCron == hasAt {
		return apierr.New(apierr.CodeValidation, "schedule requires exactly one of cron or at")
	}
	if hasCron {
		if err := ValidateCron(spec.Cron, spec.Timezone); err != nil {
			return apierr.New(apierr.CodeValidation, "%s", err.Error())
		}
	}
	// an at in the past is allowed: it fires once at the next tick
	if spec.Limit < 0 {
		return apierr.New(apierr.CodeValidation, "limit cannot be negative")
	}
	return nil
}

func firstFire(spec *types.ScheduleSpec, now time.Time) (*time.Time, error) {
	if spec.At != nil {
		at := *spec.At
		return &at, nil
	}
	next, err := NextFire(spec.Cron, spec.Timezone, now)
	if err != nil {
		return nil, apierr.New(apierr.CodeValidation, "%s", err.Error())
	}
	return &next, nil
}

func normalizeRetryPolicy(rp *types.RetryPolicy) types.RetryPolicy {
	out := types.RetryPolicy{
		Attempts: 3,
		Backoff:  &types.BackoffPolicy{Type: types.BackoffFixed, Delay: 5000},
	}
	if rp == nil {
		return out
	}
	if rp.Attempts > 0 {
		out.Attempts = rp.Attempts
	}
	if out.Attempts > 10 {
		out.Attempts = 10
	}
	if rp.Backoff != nil {
		out.Backoff = rp.Backoff
	}
	return out
}
