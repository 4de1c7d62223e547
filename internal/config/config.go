// Package config provides configuration for the CareLog sync core.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "24h" or "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the sync core configuration.
type Config struct {
	DataDir       string             `yaml:"data_dir"`
	Policy        PolicyConfig       `yaml:"policy"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// PolicyConfig holds conflict policy settings.
// The defaults mirror the behavior users already rely on; they are
// configuration, not constants, so deployments can tune them.
type PolicyConfig struct {
	StalenessThreshold Duration `yaml:"staleness_threshold"` // local edits older than this are flagged stale
	AmbiguityGuard     Duration `yaml:"ambiguity_guard"`     // minimum timestamp gap for latest-wins decisions
	CombineSeparator   string   `yaml:"combine_separator"`   // separator used by the combine merge strategy
}

// NotificationConfig holds notification dispatch settings.
type NotificationConfig struct {
	BufferSize int `yaml:"buffer_size"` // dispatcher channel capacity
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn" or "error"
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir: "",
		Policy: PolicyConfig{
			StalenessThreshold: Duration(24 * time.Hour),
			AmbiguityGuard:     Duration(5 * time.Second),
			CombineSeparator:   "\n---\n",
		},
		Notifications: NotificationConfig{
			BufferSize: 64,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Policy.StalenessThreshold <= 0 {
		return &ValidationError{
			Field:   "policy.staleness_threshold",
			Message: "must be a positive duration",
		}
	}

	if c.Policy.AmbiguityGuard < 0 {
		return &ValidationError{
			Field:   "policy.ambiguity_guard",
			Message: "must not be negative",
		}
	}

	if c.Notifications.BufferSize < 1 {
		return &ValidationError{
			Field:   "notifications.buffer_size",
			Message: "must be at least 1",
		}
	}

	return nil
}

// ValidationError describes an invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config field %s: %s", e.Field, e.Message)
}
