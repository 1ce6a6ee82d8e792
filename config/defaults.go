package config

import "time"

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Backend:   "memory",
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Webhook:   DefaultWebhookConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultDatabaseConfig returns the default SQL settings.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "stateflow",
		Name:            "stateflow",
		SSLMode:         "disable",
		Path:            "stateflow.db",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultRedisConfig returns the default Redis settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultSchedulerConfig returns the default run execution settings.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		DefaultRunTimeout: 5 * time.Minute,
		MaxQueueDepth:     64,
		RetentionAge:      24 * time.Hour,
		RetentionInterval: time.Hour,
		TTLSweepInterval:  time.Minute,
	}
}

// DefaultWebhookConfig returns the default callback settings.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Timeout:       10 * time.Second,
		MaxRetries:    3,
		RetryInterval: time.Second,
		RatePerSecond: 10,
	}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig returns the default telemetry settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "stateflow",
		SampleRate:   1.0,
	}
}
