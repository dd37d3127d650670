// Package config provides configuration loading and validation for the engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file with environment variable expansion.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	data, err := os.ReadFile(absPath) // #nosec G304 -- Path sanitized with filepath.Clean and filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in YAML
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) {
	// Fetch defaults
	if cfg.Fetch.Timeout.ToDuration() == 0 {
		cfg.Fetch.Timeout = Duration(60 * 1e9) // 60 seconds
	}
	if cfg.Fetch.Interval.ToDuration() == 0 {
		cfg.Fetch.Interval = Duration(6 * 3600 * 1e9) // 6 hours
	}

	// Health defaults: thresholds and weights of the reliability model
	if cfg.Health.HealthyAbove == 0 {
		cfg.Health.HealthyAbove = 0.8
	}
	if cfg.Health.DegradedAbove == 0 {
		cfg.Health.DegradedAbove = 0.5
	}
	if cfg.Health.HealthyWeight == 0 {
		cfg.Health.HealthyWeight = 1.0
	}
	if cfg.Health.DegradedWeight == 0 {
		cfg.Health.DegradedWeight = 0.7
	}
	if cfg.Health.FailedWeight == 0 {
		cfg.Health.FailedWeight = 0.3
	}
	if cfg.Health.InitialWeight == 0 {
		cfg.Health.InitialWeight = 1.0
	}

	// Aggregation defaults
	if cfg.Aggregation.OutlierThreshold == 0 {
		cfg.Aggregation.OutlierThreshold = 2.0
	}
	if cfg.Aggregation.MinGroupSize == 0 {
		cfg.Aggregation.MinGroupSize = 3
	}

	// Index defaults
	if cfg.Index.Mode == "" {
		cfg.Index.Mode = IndexModeUnweighted
	}

	// Server defaults
	if cfg.Server.Enabled && cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.CacheTTL.ToDuration() == 0 {
		cfg.Server.CacheTTL = Duration(60 * 1e9) // 60 seconds
	}
	if cfg.Server.WebSocket.Enabled && cfg.Server.WebSocket.Addr == "" {
		cfg.Server.WebSocket.Addr = ":8081"
	}

	// Metrics defaults
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9091"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// Index modes
const (
	// IndexModeUnweighted averages all per-product consensus prices per day.
	IndexModeUnweighted = "unweighted"
	// IndexModeWeighted combines per-category means using configured weights.
	IndexModeWeighted = "weighted"
)

// GetString retrieves a string value from the source configuration.
func (sc *SourceConfig) GetString(key, defaultValue string) string {
	if val, ok := sc.Config[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultValue
}

// GetStringSlice retrieves a string slice from source config.
func (sc *SourceConfig) GetStringSlice(key string) []string {
	if val, ok := sc.Config[key]; ok {
		if slice, ok := val.([]interface{}); ok {
			result := make([]string, 0, len(slice))
			for _, item := range slice {
				if str, ok := item.(string); ok {
					result = append(result, str)
				}
			}
			return result
		}
	}
	return nil
}

// GetInt retrieves an integer from source config.
func (sc *SourceConfig) GetInt(key string, defaultValue int) int {
	if val, ok := sc.Config[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return defaultValue
}

// GetBool retrieves a boolean from source config.
func (sc *SourceConfig) GetBool(key string, defaultValue bool) bool {
	if val, ok := sc.Config[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return defaultValue
}
