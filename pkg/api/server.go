package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/fanout"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/queue"
	"github.com/cuemby/hutch/pkg/scheduler"
	"github.com/cuemby/hutch/pkg/tenant"
	"github.com/cuemby/hutch/pkg/tracker"
)

// Deps are the services the API exposes
type Deps struct {
	Tenants       *tenant.Registry
	Manager       *queue.Manager
	Tracker       *tracker.Service
	Subscriptions *fanout.Service
	Schedules     *scheduler.Service
	Scheduler     *scheduler.Scheduler
}

// Options tunes the HTTP layer
type Options struct {
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// Server is the HTTP JSON API
type Server struct {
	deps    Deps
	opts    Options
	router  *mux.Router
	http    *http.Server
	logger  zerolog.Logger
	limiter *rateLimiter
}

// NewServer creates the API server and wires all routes
func NewServer(deps Deps, opts Options) *Server {
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}
	if opts.RateLimitMax <= 0 {
		opts.RateLimitMax = 300
	}

	s := &Server{
		deps:    deps,
		opts:    opts,
		router:  mux.NewRouter(),
		logger:  log.WithComponent("api"),
		limiter: newRateLimiter(opts.RateLimitWindow, opts.RateLimitMax),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware, s.accessLogMiddleware, s.metricsMiddleware)
	s.router.NotFoundHandler = s.chainForNotFound(http.HandlerFunc(s.handleNotFound))

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.rateLimitMiddleware)

	// public self-documentation
	explain := api.PathPrefix("/explain").Subrouter()
	explain.HandleFunc("", s.handleExplain).Methods(http.MethodGet)
	explain.HandleFunc("/{topic}", s.handleExplainTopic).Methods(http.MethodGet)

	// schedules are an internal surface, no API key required
	schedules := api.PathPrefix("/schedules").Subrouter()
	schedules.HandleFunc("", s.handleScheduleCreate).Methods(http.MethodPost)
	schedules.HandleFunc("", s.handleScheduleList).Methods(http.MethodGet)
	schedules.HandleFunc("/{id}", s.handleScheduleGet).Methods(http.MethodGet)
	schedules.HandleFunc("/{id}", s.handleScheduleUpdate).Methods(http.MethodPut)
	schedules.HandleFunc("/{id}", s.handleScheduleDelete).Methods(http.MethodDelete)
	schedules.HandleFunc("/{id}/toggle", s.handleScheduleToggle).Methods(http.MethodPost)
	schedules.HandleFunc("/{id}/execute", s.handleScheduleExecute).Methods(http.MethodPost)

	// everything else requires an application identity
	protected := api.NewRoute().Subrouter()
	protected.Use(s.authMiddleware)
	protected.NotFoundHandler = s.chainForNotFound(http.HandlerFunc(s.handleNotFound))

	protected.HandleFunc("/applications", s.handleApplicationCreate).Methods(http.MethodPost)
	protected.HandleFunc("/applications", s.handleApplicationList).Methods(http.MethodGet)
	protected.HandleFunc("/applications/{id}", s.handleApplicationGet).Methods(http.MethodGet)
	protected.HandleFunc("/applications/{id}", s.handleApplicationUpdate).Methods(http.MethodPatch)
	protected.HandleFunc("/applications/{id}", s.handleApplicationDelete).Methods(http.MethodDelete)

	protected.HandleFunc("/jobs/{queue}", s.handleJobSubmit).Methods(http.MethodPost)
	protected.HandleFunc("/jobs/{queue}/{jobId}", s.handleJobStatus).Methods(http.MethodGet)
	protected.HandleFunc("/jobs/{queue}/{jobId}", s.handleJobCancel).Methods(http.MethodDelete)

	protected.HandleFunc("/queues", s.handleQueueList).Methods(http.MethodGet)
	protected.HandleFunc("/queues/{name}/stats", s.handleQueueStats).Methods(http.MethodGet)
	protected.HandleFunc("/queues/{name}/jobs", s.handleQueueJobs).Methods(http.MethodGet)
	protected.HandleFunc("/queues/{name}/pause", s.handleQueuePause).Methods(http.MethodPost)
	protected.HandleFunc("/queues/{name}/resume", s.handleQueueResume).Methods(http.MethodPost)
	protected.HandleFunc("/queues/{name}/clean", s.handleQueueClean).Methods(http.MethodPost)

	protected.HandleFunc("/subscriptions", s.handleSubscriptionCreate).Methods(http.MethodPost)
	protected.HandleFunc("/subscriptions", s.handleSubscriptionList).Methods(http.MethodGet)
	protected.HandleFunc("/subscriptions/{id}", s.handleSubscriptionGet).Methods(http.MethodGet)
	protected.HandleFunc("/subscriptions/{id}", s.handleSubscriptionUpdate).Methods(http.MethodPut)
	protected.HandleFunc("/subscriptions/{id}", s.handleSubscriptionDelete).Methods(http.MethodDelete)
	protected.HandleFunc("/subscriptions/{id}/test", s.handleSubscriptionTest).Methods(http.MethodPost)

	protected.HandleFunc("/tracker/jobs", s.handleTrackerSubmit).Methods(http.MethodPost)
	protected.HandleFunc("/tracker/jobs", s.handleTrackerList).Methods(http.MethodGet)
	protected.HandleFunc("/tracker/jobs/{queue}/{jobId}", s.handleTrackerStatus).Methods(http.MethodGet)
	protected.HandleFunc("/tracker/jobs/{queue}/{jobId}", s.handleTrackerUpdate).Methods(http.MethodPatch)
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving on addr; blocks until shutdown
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("api listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
