package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"       validate:"required"`
	Store        StoreConfig        `mapstructure:"store"        validate:"required"`
	Runner       RunnerConfig       `mapstructure:"runner"       validate:"required"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// StoreConfig selects and configures the persisted task source.
// A postgres:// or postgresql:// URL selects the PostgreSQL source;
// anything else is treated as a SQLite database path.
type StoreConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// RunnerConfig contains task runner settings.
type RunnerConfig struct {
	Parallelism          int           `mapstructure:"parallelism"            validate:"required,gte=1,lte=64"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval" validate:"required"`
	RetryMaxInterval     time.Duration `mapstructure:"retry_max_interval"     validate:"required"`
	RetryMaxElapsedTime  time.Duration `mapstructure:"retry_max_elapsed_time" validate:"required"`
}

// ConnectivityConfig configures the connectivity prober. An empty ProbeURL
// disables probing; the runner then assumes it is always online.
type ConnectivityConfig struct {
	ProbeURL      string        `mapstructure:"probe_url"      validate:"omitempty,url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}
