package config

import (
	"fmt"
	"time"
)

// Config is the full service configuration.
type Config struct {
	// Server holds the HTTP listener settings.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Backend selects the persistence backend for threads, checkpoints,
	// runs, and the KV store: memory, sql, or redis.
	Backend string `yaml:"backend" env:"BACKEND"`

	// Database configures the SQL backend.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis configures the Redis backend.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Scheduler configures run execution.
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`

	// Webhook configures completion callbacks.
	Webhook WebhookConfig `yaml:"webhook" env:"WEBHOOK"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig holds SQL backend settings.
type DatabaseConfig struct {
	// Driver is postgres or sqlite.
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	Path            string        `yaml:"path" env:"PATH"` // sqlite file path
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// DSN builds the driver connection string.
func (c DatabaseConfig) DSN() string {
	switch c.Driver {
	case "sqlite":
		if c.Path != "" {
			return c.Path
		}
		return "stateflow.db"
	default:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
}

// RedisConfig holds Redis backend settings.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// SchedulerConfig holds run execution settings.
type SchedulerConfig struct {
	// DefaultRunTimeout is the hard deadline for runs submitted without one.
	DefaultRunTimeout time.Duration `yaml:"default_run_timeout" env:"DEFAULT_RUN_TIMEOUT"`

	// MaxQueueDepth bounds each thread's enqueue queue.
	MaxQueueDepth int `yaml:"max_queue_depth" env:"MAX_QUEUE_DEPTH"`

	// RetentionAge is how long terminal run records are kept.
	RetentionAge time.Duration `yaml:"retention_age" env:"RETENTION_AGE"`

	// RetentionInterval is how often the retention sweep runs.
	RetentionInterval time.Duration `yaml:"retention_interval" env:"RETENTION_INTERVAL"`

	// TTLSweepInterval is how often expired threads are swept.
	TTLSweepInterval time.Duration `yaml:"ttl_sweep_interval" env:"TTL_SWEEP_INTERVAL"`
}

// WebhookConfig holds completion callback settings.
type WebhookConfig struct {
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries    int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryInterval time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`
	RatePerSecond float64       `yaml:"rate_per_second" env:"RATE_PER_SECOND"`
}

// LogConfig holds structured logging settings.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths lists zap output sinks.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with the call site.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Backend {
	case "memory", "sql", "redis":
	default:
		return fmt.Errorf("invalid backend %q (want memory, sql, or redis)", c.Backend)
	}
	if c.Backend == "sql" {
		switch c.Database.Driver {
		case "postgres", "sqlite":
		default:
			return fmt.Errorf("invalid database driver %q (want postgres or sqlite)", c.Database.Driver)
		}
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.Server.HTTPPort)
	}
	if c.Scheduler.DefaultRunTimeout <= 0 {
		return fmt.Errorf("default_run_timeout must be positive")
	}
	return nil
}
