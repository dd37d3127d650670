package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Fetch: FetchConfig{
			Timeout:  Duration(30 * time.Second),
			Interval: Duration(time.Hour),
		},
		Health: HealthConfig{
			HealthyAbove:   0.8,
			DegradedAbove:  0.5,
			HealthyWeight:  1.0,
			DegradedWeight: 0.7,
			FailedWeight:   0.3,
			InitialWeight:  1.0,
		},
		Aggregation: AggregationConfig{OutlierThreshold: 2.0, MinGroupSize: 3},
		Index:       IndexConfig{Mode: IndexModeUnweighted},
		Logging:     LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Sources: []SourceConfig{
			{Type: "api", Name: "mercadolibre", Enabled: true, Tier: 1},
			{Type: "file", Name: "csv", Enabled: true, Tier: 2},
		},
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
sources:
  - type: api
    name: mercadolibre
    enabled: true
    tier: 1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Fetch.Timeout.ToDuration())
	assert.Equal(t, 6*time.Hour, cfg.Fetch.Interval.ToDuration())
	assert.Equal(t, 0.8, cfg.Health.HealthyAbove)
	assert.Equal(t, 0.5, cfg.Health.DegradedAbove)
	assert.Equal(t, 1.0, cfg.Health.HealthyWeight)
	assert.Equal(t, 0.7, cfg.Health.DegradedWeight)
	assert.Equal(t, 0.3, cfg.Health.FailedWeight)
	assert.Equal(t, 2.0, cfg.Aggregation.OutlierThreshold)
	assert.Equal(t, 3, cfg.Aggregation.MinGroupSize)
	assert.Equal(t, IndexModeUnweighted, cfg.Index.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	require.NoError(t, Validate(cfg))
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("PRICES_DB", "/tmp/prices.db")
	path := writeConfig(t, `
storage:
  path: ${PRICES_DB}
sources:
  - type: api
    name: mercadolibre
    enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/prices.db", cfg.Storage.Path)
}

func TestLoadParsesSourceOptions(t *testing.T) {
	path := writeConfig(t, `
sources:
  - type: scrape
    name: coto
    enabled: true
    tier: 2
    always: true
    config:
      delay_ms: 250
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Sources, 1)
	assert.True(t, cfg.Sources[0].Always)
	assert.Equal(t, 250, cfg.Sources[0].GetInt("delay_ms", 0))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "sources: ["))
	assert.Error(t, err)
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"no sources", func(c *Config) { c.Sources = nil }, ErrNoSourcesConfigured},
		{"none enabled", func(c *Config) {
			for i := range c.Sources {
				c.Sources[i].Enabled = false
			}
		}, ErrNoSourcesEnabled},
		{"bad source type", func(c *Config) { c.Sources[0].Type = "ftp" }, ErrInvalidSourceType},
		{"missing source name", func(c *Config) { c.Sources[0].Name = "" }, ErrSourceNameRequired},
		{"negative tier", func(c *Config) { c.Sources[0].Tier = -1 }, ErrInvalidTier},
		{"duplicate source", func(c *Config) { c.Sources[1] = c.Sources[0] }, ErrDuplicateSourceName},
		{"threshold ordering", func(c *Config) { c.Health.DegradedAbove = 0.9 }, ErrInvalidHealthThresholds},
		{"non-monotonic weights", func(c *Config) { c.Health.DegradedWeight = 0.2 }, ErrInvalidHealthWeights},
		{"negative outlier threshold", func(c *Config) { c.Aggregation.OutlierThreshold = -1 }, ErrInvalidOutlierThreshold},
		{"unknown index mode", func(c *Config) { c.Index.Mode = "paasche" }, ErrInvalidIndexMode},
		{"weighted without weights", func(c *Config) { c.Index.Mode = IndexModeWeighted }, ErrMissingCategoryWeights},
		{"non-positive category weight", func(c *Config) {
			c.Index.Mode = IndexModeWeighted
			c.Index.CategoryWeights = map[string]float64{"alimentos": 0}
		}, ErrInvalidCategoryWeight},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, ErrInvalidLogLevel},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, ErrInvalidLogFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, Validate(cfg), tt.wantErr)
		})
	}
}
