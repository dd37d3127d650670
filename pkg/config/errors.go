// Package config provides configuration loading and validation for the engine.
package config

import "errors"

var (
	// ErrNoSourcesConfigured indicates that no price sources are configured.
	ErrNoSourcesConfigured = errors.New("at least one price source must be configured")
	// ErrNoSourcesEnabled indicates that no sources are enabled.
	ErrNoSourcesEnabled = errors.New("no sources enabled")
	// ErrSourceTypeRequired indicates that source type is required.
	ErrSourceTypeRequired = errors.New("source type is required")
	// ErrSourceNameRequired indicates that source name is required.
	ErrSourceNameRequired = errors.New("source name is required")
	// ErrInvalidSourceType indicates that the source type is invalid.
	ErrInvalidSourceType = errors.New("invalid source type")
	// ErrDuplicateSourceName indicates that two sources share a name.
	ErrDuplicateSourceName = errors.New("duplicate source name")
	// ErrInvalidTier indicates that the tier assignment is invalid.
	ErrInvalidTier = errors.New("tier must be >= 0")
	// ErrInvalidHealthThresholds indicates inconsistent health thresholds.
	ErrInvalidHealthThresholds = errors.New("healthy_above must be greater than degraded_above, both in (0,1)")
	// ErrInvalidHealthWeights indicates non-monotonic reliability weights.
	ErrInvalidHealthWeights = errors.New("reliability weights must satisfy healthy >= degraded >= failed, all in [0,1]")
	// ErrInvalidOutlierThreshold indicates a non-positive outlier threshold.
	ErrInvalidOutlierThreshold = errors.New("outlier_threshold must be > 0")
	// ErrInvalidIndexMode indicates an unknown index mode.
	ErrInvalidIndexMode = errors.New("invalid index mode")
	// ErrMissingCategoryWeights indicates weighted mode without weights.
	ErrMissingCategoryWeights = errors.New("category_weights required when index mode is weighted")
	// ErrInvalidCategoryWeight indicates a non-positive category weight.
	ErrInvalidCategoryWeight = errors.New("category weights must be > 0")
	// ErrInvalidLogLevel indicates that the log level is invalid.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat indicates that the log format is invalid.
	ErrInvalidLogFormat = errors.New("invalid log format")
)
