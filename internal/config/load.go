package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables with the RELAY_
// prefix (RELAY_SERVER_PORT, RELAY_STORE_URL, ...). Defaults cover
// everything except the store URL. Returns a populated Config or an error
// if loading or validation fails.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("runner.parallelism", 4)
	v.SetDefault("runner.retry_initial_interval", 500*time.Millisecond)
	v.SetDefault("runner.retry_max_interval", 30*time.Second)
	v.SetDefault("runner.retry_max_elapsed_time", 5*time.Minute)
	v.SetDefault("connectivity.probe_interval", 15*time.Second)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv alone does not surface env-only keys through Unmarshal;
	// binding each known key explicitly does.
	for _, key := range []string{
		"server.port",
		"server.log_level",
		"store.url",
		"runner.parallelism",
		"runner.retry_initial_interval",
		"runner.retry_max_interval",
		"runner.retry_max_elapsed_time",
		"connectivity.probe_url",
		"connectivity.probe_interval",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}
