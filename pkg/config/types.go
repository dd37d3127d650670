package config

import "time"

// Config is the root configuration structure
type Config struct {
	Fetch       FetchConfig       `yaml:"fetch"`
	Health      HealthConfig      `yaml:"health"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Index       IndexConfig       `yaml:"index"`
	Sources     []SourceConfig    `yaml:"sources"`
	Storage     StorageConfig     `yaml:"storage"`
	Server      ServerConfig      `yaml:"server"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// FetchConfig configures the fetch orchestrator
type FetchConfig struct {
	// Timeout bounds each source fetch; an adapter past the deadline is
	// abandoned and counted as a failure.
	Timeout Duration `yaml:"timeout"`
	// Interval between collection runs when running continuously.
	Interval Duration `yaml:"interval"`
}

// HealthConfig configures source health classification.
// Status is derived from the rolling success rate; the weight is derived
// from the status. All five values must be consistent: HealthyAbove >
// DegradedAbove, HealthyWeight >= DegradedWeight >= FailedWeight.
type HealthConfig struct {
	HealthyAbove   float64 `yaml:"healthy_above"`   // success rate above this => healthy
	DegradedAbove  float64 `yaml:"degraded_above"`  // success rate above this => degraded
	HealthyWeight  float64 `yaml:"healthy_weight"`  // reliability weight for healthy sources
	DegradedWeight float64 `yaml:"degraded_weight"` // reliability weight for degraded sources
	FailedWeight   float64 `yaml:"failed_weight"`   // reliability weight for failed sources
	InitialWeight  float64 `yaml:"initial_weight"`  // weight for sources never attempted
}

// AggregationConfig configures outlier filtering and consensus
type AggregationConfig struct {
	// OutlierThreshold is the modified Z-score cutoff for the MAD filter.
	OutlierThreshold float64 `yaml:"outlier_threshold"`
	// MinGroupSize is the smallest group the outlier filter will touch.
	MinGroupSize int `yaml:"min_group_size"`
}

// IndexConfig configures the chained index calculator
type IndexConfig struct {
	// Mode is "unweighted" (plain mean across products) or "weighted"
	// (category-weighted Laspeyres-style aggregation).
	Mode string `yaml:"mode"`
	// CategoryWeights maps category names to expenditure weights.
	// Required when mode is "weighted".
	CategoryWeights map[string]float64 `yaml:"category_weights"`
}

// SourceConfig configures a price source adapter
type SourceConfig struct {
	Type    string                 `yaml:"type"`
	Name    string                 `yaml:"name"`
	Enabled bool                   `yaml:"enabled"`
	// Tier assigns the adapter to a fallback tier; lower tiers run only
	// when higher tiers produce nothing.
	Tier int `yaml:"tier"`
	// Concurrent marks the adapter's tier for parallel execution with
	// merged results instead of ordered fallback.
	Concurrent bool `yaml:"concurrent"`
	// Always marks the adapter's tier to run and merge on every pass,
	// even when a higher tier already collected observations.
	Always bool                   `yaml:"always"`
	Config map[string]interface{} `yaml:"config"`
}

// StorageConfig configures the persistence collaborator
type StorageConfig struct {
	// Path is the SQLite database file. Empty disables persistence.
	Path string `yaml:"path"`
	// ExportDir, when set, also writes CSV/JSON exports of each run there.
	ExportDir string `yaml:"export_dir"`
}

// ServerConfig configures the read-only API server
type ServerConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Addr      string   `yaml:"addr"`
	CacheTTL  Duration `yaml:"cache_ttl"`
	WebSocket WSConfig `yaml:"websocket"`
}

// WSConfig configures the WebSocket broadcast endpoint
type WSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration is a wrapper around time.Duration for YAML parsing
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(td)
	return nil
}

// ToDuration converts Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}
