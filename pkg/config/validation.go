package config

import (
	"fmt"
	"strings"
)

// Validate checks configuration for errors
func Validate(cfg *Config) error {
	if len(cfg.Sources) == 0 {
		return ErrNoSourcesConfigured
	}

	enabled := 0
	seen := make(map[string]bool)
	for i, source := range cfg.Sources {
		if err := validateSourceConfig(&source); err != nil {
			return fmt.Errorf("source %d (%s.%s): %w", i, source.Type, source.Name, err)
		}
		key := source.Type + "." + source.Name
		if seen[key] {
			return fmt.Errorf("%w: %s", ErrDuplicateSourceName, key)
		}
		seen[key] = true
		if source.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return ErrNoSourcesEnabled
	}

	if err := validateHealthConfig(&cfg.Health); err != nil {
		return fmt.Errorf("health config: %w", err)
	}

	if cfg.Aggregation.OutlierThreshold <= 0 {
		return ErrInvalidOutlierThreshold
	}

	if err := validateIndexConfig(&cfg.Index); err != nil {
		return fmt.Errorf("index config: %w", err)
	}

	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func validateSourceConfig(cfg *SourceConfig) error {
	validTypes := []string{"api", "scrape", "file"}
	typeValid := false
	for _, t := range validTypes {
		if strings.ToLower(cfg.Type) == t {
			typeValid = true
			break
		}
	}
	if !typeValid {
		return fmt.Errorf("%w: %s (must be one of: %s)", ErrInvalidSourceType, cfg.Type, strings.Join(validTypes, ", "))
	}

	if cfg.Name == "" {
		return ErrSourceNameRequired
	}

	if cfg.Tier < 0 {
		return ErrInvalidTier
	}

	return nil
}

func validateHealthConfig(cfg *HealthConfig) error {
	if cfg.HealthyAbove <= cfg.DegradedAbove || cfg.HealthyAbove >= 1 || cfg.DegradedAbove <= 0 {
		return ErrInvalidHealthThresholds
	}
	weightsOK := cfg.HealthyWeight >= cfg.DegradedWeight &&
		cfg.DegradedWeight >= cfg.FailedWeight &&
		cfg.FailedWeight >= 0 && cfg.HealthyWeight <= 1
	if !weightsOK {
		return ErrInvalidHealthWeights
	}
	return nil
}

func validateIndexConfig(cfg *IndexConfig) error {
	mode := strings.ToLower(cfg.Mode)
	if mode != IndexModeUnweighted && mode != IndexModeWeighted {
		return fmt.Errorf("%w: %s (must be '%s' or '%s')", ErrInvalidIndexMode, cfg.Mode, IndexModeUnweighted, IndexModeWeighted)
	}
	if mode == IndexModeWeighted {
		if len(cfg.CategoryWeights) == 0 {
			return ErrMissingCategoryWeights
		}
		for category, w := range cfg.CategoryWeights {
			if w <= 0 {
				return fmt.Errorf("%w: %s", ErrInvalidCategoryWeight, category)
			}
		}
	}
	return nil
}

func validateLoggingConfig(cfg *LoggingConfig) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, l := range validLevels {
		if strings.ToLower(cfg.Level) == l {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("%w: %s (must be one of: %s)", ErrInvalidLogLevel, cfg.Level, strings.Join(validLevels, ", "))
	}

	format := strings.ToLower(cfg.Format)
	if format != "json" && format != "text" {
		return fmt.Errorf("%w: %s (must be 'json' or 'text')", ErrInvalidLogFormat, cfg.Format)
	}

	return nil
}
