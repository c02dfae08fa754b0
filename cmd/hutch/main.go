package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/hutch/pkg/api"
	"github.com/cuemby/hutch/pkg/backend"
	"github.com/cuemby/hutch/pkg/config"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/fanout"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/queue"
	"github.com/cuemby/hutch/pkg/scheduler"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/tenant"
	"github.com/cuemby/hutch/pkg/tracker"
	"github.com/cuemby/hutch/pkg/types"
	"github.com/cuemby/hutch/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hutch",
	Short: "Hutch - Multi-tenant job queue service",
	Long: `Hutch is a multi-tenant job queue service: applications submit jobs
over an HTTP API, workers execute them with retries and backoff, cron
schedules fire HTTP endpoints, and webhook subscriptions fan out job
lifecycle events.

State lives in a Redis-compatible store; applications, schedules and
subscriptions persist in an embedded BoltDB file.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hutch version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serverCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the hutch service",
	Long: `Run the full hutch service: HTTP API, worker runtime, scheduler and
webhook fan-out in one process.

Configuration comes from HUTCH_* environment variables, optionally
overlaid on a YAML file named by HUTCH_CONFIG.`,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	logger := log.WithComponent("main")
	logger.Info().Str("version", Version).Int("port", cfg.Port).Msg("starting hutch")

	be, err := backend.New(cmd.Context(), backend.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		UseTLS:   cfg.RedisTLS(),
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return err
	}
	defer be.Close()

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	tenants, err := tenant.NewRegistry(store, cfg.MasterAPIKey, cfg.AuthEnabled)
	if err != nil {
		return err
	}
	if !cfg.AuthEnabled {
		logger.Warn().Msg("authentication disabled, every request runs as master")
	}

	broker := events.NewBroker()
	broker.OnDrop(func(ev *types.Event) {
		metrics.EventsDropped.Inc()
	})
	broker.Start()
	defer broker.Stop()

	registry := queue.NewRegistry(types.JobOptions{
		Attempts: cfg.DefaultAttempts,
		Backoff: &types.BackoffPolicy{
			Type:  types.BackoffExponential,
			Delay: cfg.DefaultBackoffDelayMs,
		},
		Timeout: cfg.JobTimeoutSeconds * 1000,
	})

	mgr := queue.NewManager(be, broker, registry, tenants, queue.Options{
		DefaultAttempts:       cfg.DefaultAttempts,
		DefaultBackoffDelayMs: cfg.DefaultBackoffDelayMs,
		VisibilityTimeout:     cfg.VisibilityTimeout(),
		CompletedRetention: types.RetentionPolicy{
			MaxAge:   time.Duration(cfg.CompletedRetention.AgeSeconds) * time.Second,
			MaxCount: cfg.CompletedRetention.Count,
		},
		FailedRetention: types.RetentionPolicy{
			MaxAge:   time.Duration(cfg.FailedRetention.AgeSeconds) * time.Second,
			MaxCount: cfg.FailedRetention.Count,
		},
	})
	mgr.Start()
	defer mgr.Stop()

	httpClient := &http.Client{Timeout: 30 * time.Second}

	runtime := worker.NewRuntime(mgr, worker.RuntimeOptions{
		DefaultConcurrency: cfg.WorkerConcurrency,
		DefaultTimeout:     cfg.JobTimeout(),
	})
	if err := runtime.RegisterBuiltins(httpClient); err != nil {
		return err
	}
	if err := runtime.Register(scheduler.QueueName, cfg.SchedulerConcurrency, scheduler.NewHandler(store, httpClient)); err != nil {
		return err
	}
	runtime.Start()
	defer runtime.Stop()

	sched := scheduler.New(store, mgr, cfg.SchedulerTick())
	sched.Start()
	defer sched.Stop()

	subs := fanout.NewService(store, broker, httpClient)
	subs.Start()
	defer subs.Stop()

	server := api.NewServer(api.Deps{
		Tenants:       tenants,
		Manager:       mgr,
		Tracker:       tracker.NewService(be, mgr),
		Subscriptions: subs,
		Schedules:     scheduler.NewService(store),
		Scheduler:     sched,
	}, api.Options{
		RateLimitWindow: time.Duration(cfg.RateLimitWindowMs) * time.Millisecond,
		RateLimitMax:    cfg.RateLimitMax,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			errCh <- err
		}
	}()

	var metricsSrv *http.Server
	if cfg.MetricsEnabled {
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler: metrics.Handler(),
		}
		go func() {
			logger.Info().Int("port", cfg.MetricsPort).Msg("metrics listening")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("api server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api shutdown failed")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
