package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither file nor environment provide a value
const (
	DefaultPort              = 3000
	DefaultRedisHost         = "localhost"
	DefaultRedisPort         = 6379
	DefaultRedisTLSPort      = 25061 // managed-DB TLS port
	DefaultDataDir           = "/var/lib/hutch"
	DefaultWorkerConcurrency = 5
	DefaultAttempts          = 3
	DefaultBackoffDelayMs    = 5000
	DefaultSchedulerTick     = 60 * time.Second
	DefaultSchedulerWorkers  = 5
	DefaultVisibilityTimeout = 30 * time.Second
	DefaultJobTimeout        = 30 * time.Second
	DefaultMetricsPort       = 9090
	DefaultRateLimitWindow   = time.Minute
	DefaultRateLimitMax      = 300
)

// Retention defaults per terminal bucket
const (
	DefaultCompletedRetentionAge   = time.Hour
	DefaultCompletedRetentionCount = 1000
	DefaultFailedRetentionAge      = 24 * time.Hour
	DefaultFailedRetentionCount    = 5000
)

// Redis holds KV backend connection settings
type Redis struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// TLSPort identifies the managed-database TLS port. When Port equals
	// TLSPort the dialer uses TLS with certificate verification disabled.
	TLSPort  int `yaml:"tlsPort"`
	PoolSize int `yaml:"poolSize"`
}

// Retention bounds for a terminal bucket
type Retention struct {
	AgeSeconds int64 `yaml:"ageSeconds"`
	Count      int64 `yaml:"count"`
}

// Config is the frozen service configuration materialized at startup.
// Nothing outside this package reads environment variables.
type Config struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"dataDir"`

	Redis Redis `yaml:"redis"`

	MasterAPIKey string `yaml:"masterApiKey"`
	AuthEnabled  bool   `yaml:"authEnabled"`

	WorkerConcurrency        int   `yaml:"workerConcurrency"`
	DefaultAttempts          int   `yaml:"defaultAttempts"`
	DefaultBackoffDelayMs    int64 `yaml:"defaultBackoffDelayMs"`
	VisibilityTimeoutSeconds int64 `yaml:"visibilityTimeoutSeconds"`
	JobTimeoutSeconds        int64 `yaml:"jobTimeoutSeconds"`

	CompletedRetention Retention `yaml:"completedRetention"`
	FailedRetention    Retention `yaml:"failedRetention"`

	SchedulerTickSeconds int `yaml:"schedulerTickSeconds"`
	SchedulerConcurrency int `yaml:"schedulerConcurrency"`

	MetricsEnabled bool `yaml:"metricsEnabled"`
	MetricsPort    int  `yaml:"metricsPort"`

	RateLimitWindowMs int64 `yaml:"rateLimitWindowMs"`
	RateLimitMax      int   `yaml:"rateLimitMax"`

	LogLevel string `yaml:"logLevel"`
	LogJSON  bool   `yaml:"logJson"`
}

// Load builds the configuration from an optional YAML file (HUTCH_CONFIG)
// overlaid with environment variables. Environment always wins.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("HUTCH_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:    DefaultPort,
		DataDir: DefaultDataDir,
		Redis: Redis{
			Host:     DefaultRedisHost,
			Port:     DefaultRedisPort,
			TLSPort:  DefaultRedisTLSPort,
			PoolSize: 10,
		},
		AuthEnabled:              true,
		WorkerConcurrency:        DefaultWorkerConcurrency,
		DefaultAttempts:          DefaultAttempts,
		DefaultBackoffDelayMs:    DefaultBackoffDelayMs,
		VisibilityTimeoutSeconds: int64(DefaultVisibilityTimeout / time.Second),
		JobTimeoutSeconds:        int64(DefaultJobTimeout / time.Second),
		CompletedRetention: Retention{
			AgeSeconds: int64(DefaultCompletedRetentionAge / time.Second),
			Count:      DefaultCompletedRetentionCount,
		},
		FailedRetention: Retention{
			AgeSeconds: int64(DefaultFailedRetentionAge / time.Second),
			Count:      DefaultFailedRetentionCount,
		},
		SchedulerTickSeconds: int(DefaultSchedulerTick / time.Second),
		SchedulerConcurrency: DefaultSchedulerWorkers,
		MetricsEnabled:       true,
		MetricsPort:          DefaultMetricsPort,
		RateLimitWindowMs:    int64(DefaultRateLimitWindow / time.Millisecond),
		RateLimitMax:         DefaultRateLimitMax,
		LogLevel:             "info",
		LogJSON:              true,
	}
}

func applyEnv(cfg *Config) {
	envInt("HUTCH_PORT", &cfg.Port)
	envString("HUTCH_DATA_DIR", &cfg.DataDir)

	envString("HUTCH_REDIS_HOST", &cfg.Redis.Host)
	envInt("HUTCH_REDIS_PORT", &cfg.Redis.Port)
	envString("HUTCH_REDIS_PASSWORD", &cfg.Redis.Password)
	envInt("HUTCH_REDIS_DB", &cfg.Redis.DB)
	envInt("HUTCH_REDIS_TLS_PORT", &cfg.Redis.TLSPort)
	envInt("HUTCH_REDIS_POOL_SIZE", &cfg.Redis.PoolSize)

	envString("HUTCH_MASTER_API_KEY", &cfg.MasterAPIKey)
	envBool("HUTCH_AUTH_ENABLED", &cfg.AuthEnabled)

	envInt("HUTCH_WORKER_CONCURRENCY", &cfg.WorkerConcurrency)
	envInt("HUTCH_DEFAULT_ATTEMPTS", &cfg.DefaultAttempts)
	envInt64("HUTCH_DEFAULT_BACKOFF_DELAY_MS", &cfg.DefaultBackoffDelayMs)
	envInt64("HUTCH_VISIBILITY_TIMEOUT_SECONDS", &cfg.VisibilityTimeoutSeconds)
	envInt64("HUTCH_JOB_TIMEOUT_SECONDS", &cfg.JobTimeoutSeconds)

	envInt64("HUTCH_COMPLETED_RETENTION_SECONDS", &cfg.CompletedRetention.AgeSeconds)
	envInt64("HUTCH_COMPLETED_RETENTION_COUNT", &cfg.CompletedRetention.Count)
	envInt64("HUTCH_FAILED_RETENTION_SECONDS", &cfg.FailedRetention.AgeSeconds)
	envInt64("HUTCH_FAILED_RETENTION_COUNT", &cfg.FailedRetention.Count)

	envInt("HUTCH_SCHEDULER_TICK_SECONDS", &cfg.SchedulerTickSeconds)
	envInt("HUTCH_SCHEDULER_CONCURRENCY", &cfg.SchedulerConcurrency)

	envBool("HUTCH_METRICS_ENABLED", &cfg.MetricsEnabled)
	envInt("HUTCH_METRICS_PORT", &cfg.MetricsPort)

	envInt64("HUTCH_RATE_LIMIT_WINDOW_MS", &cfg.RateLimitWindowMs)
	envInt("HUTCH_RATE_LIMIT_MAX", &cfg.RateLimitMax)

	envString("HUTCH_LOG_LEVEL", &cfg.LogLevel)
	envBool("HUTCH_LOG_JSON", &cfg.LogJSON)
}

// Validate checks the configuration. Invalid configuration is fatal: the
// process refuses to start.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("redis host must not be empty")
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis port: %d", c.Redis.Port)
	}
	if c.Redis.PoolSize < 2 {
		return fmt.Errorf("redis pool size must be at least 2, got %d", c.Redis.PoolSize)
	}
	if c.AuthEnabled && c.MasterAPIKey == "" {
		return fmt.Errorf("master API key is required when auth is enabled")
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1, got %d", c.WorkerConcurrency)
	}
	if c.DefaultAttempts < 1 {
		return fmt.Errorf("default attempts must be at least 1, got %d", c.DefaultAttempts)
	}
	if c.SchedulerTickSeconds < 1 {
		return fmt.Errorf("scheduler tick must be at least 1s, got %ds", c.SchedulerTickSeconds)
	}
	if c.VisibilityTimeoutSeconds < 1 {
		return fmt.Errorf("visibility timeout must be at least 1s, got %ds", c.VisibilityTimeoutSeconds)
	}
	return nil
}

// RedisAddr returns the host:port address of the KV backend
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// RedisTLS reports whether the configured port is the managed-DB TLS port
func (c *Config) RedisTLS() bool {
	return c.Redis.Port == c.Redis.TLSPort
}

// VisibilityTimeout returns the active-job reclaim deadline as a duration
func (c *Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutSeconds) * time.Second
}

// JobTimeout returns the default per-attempt execution timeout
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// SchedulerTick returns the scheduler tick interval
func (c *Config) SchedulerTick() time.Duration {
	return time.Duration(c.SchedulerTickSeconds) * time.Second
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
