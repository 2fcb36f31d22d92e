package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct validation tags plus
// the cross-field rules tags cannot express.
//
// Validation does not mutate the config: level normalization and default
// filling belong to ApplyDefaults.
//
// Returns:
//   - error: Description of the first failed rule, or nil
func Validate(cfg *Config) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Tags cannot express "endpoint required only when enabled".
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return fmt.Errorf("telemetry profiling endpoint is required when profiling is enabled")
	}

	return nil
}
