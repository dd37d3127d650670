package fetch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/config"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/health"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/logging"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/observation"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/sources"
	_ "github.com/PabloPoletti/argentina-market-intelligence/pkg/sources/file"
)

type stubSource struct {
	name  string
	obs   []observation.Observation
	err   error
	panic bool
	delay time.Duration
	calls atomic.Int32
}

var _ sources.Source = (*stubSource)(nil)

func (s *stubSource) Name() string             { return s.name }
func (s *stubSource) Type() sources.SourceType { return sources.SourceTypeAPI }

func (s *stubSource) Fetch(ctx context.Context) ([]observation.Observation, error) {
	s.calls.Add(1)
	if s.panic {
		panic("adapter blew up")
	}
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.obs, s.err
}

func obsFor(source, product string, price int64) observation.Observation {
	return observation.Observation{
		Date:       observation.Day(time.Now()),
		SourceID:   source,
		ProductKey: product,
		Price:      decimal.NewFromInt(price),
		Category:   observation.CategoryFood,
	}
}

func healthConfig() config.HealthConfig {
	return config.HealthConfig{
		HealthyAbove:   0.8,
		DegradedAbove:  0.5,
		HealthyWeight:  1.0,
		DegradedWeight: 0.7,
		FailedWeight:   0.3,
		InitialWeight:  1.0,
	}
}

func TestRunMergesConcurrentTier(t *testing.T) {
	tiers := []Tier{{
		Name:       "tier-1",
		Concurrent: true,
		Sources: []sources.Source{
			&stubSource{name: "a", obs: []observation.Observation{obsFor("a", "leche", 100)}},
			&stubSource{name: "b", obs: []observation.Observation{obsFor("b", "leche", 102), obsFor("b", "pan", 50)}},
		},
	}}
	tracker := health.NewTracker(healthConfig(), []string{"a", "b"})
	o := New(tiers, tracker, time.Second, logging.NewNoopLogger())

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Observations, 3)
	assert.Equal(t, []string{"tier-1"}, result.TiersUsed)
	assert.Len(t, result.Sources, 2)
}

func TestRunIsolatesFailures(t *testing.T) {
	tiers := []Tier{{
		Name:       "tier-1",
		Concurrent: true,
		Sources: []sources.Source{
			&stubSource{name: "good", obs: []observation.Observation{obsFor("good", "leche", 100)}},
			&stubSource{name: "broken", err: errors.New("connection refused")},
			&stubSource{name: "panicky", panic: true},
		},
	}}
	tracker := health.NewTracker(healthConfig(), []string{"good", "broken", "panicky"})
	o := New(tiers, tracker, time.Second, logging.NewNoopLogger())

	result, err := o.Run(context.Background())
	require.NoError(t, err, "one good source is enough")
	assert.Len(t, result.Observations, 1)

	var failed int
	for _, sr := range result.Sources {
		if sr.Err != nil {
			failed++
			var se *SourceError
			assert.True(t, errors.As(sr.Err, &se))
		}
	}
	assert.Equal(t, 2, failed)

	report := tracker.Report()
	assert.Equal(t, 1, report.Sources["good"].Successes)
	assert.Equal(t, 1, report.Sources["broken"].Failures)
	assert.Equal(t, 1, report.Sources["panicky"].Failures)
}

func TestRunFallsBackToLowerTier(t *testing.T) {
	tiers := []Tier{
		{Name: "tier-1", Sources: []sources.Source{
			&stubSource{name: "primary", err: errors.New("down")},
		}},
		{Name: "tier-2", Sources: []sources.Source{
			&stubSource{name: "backup", obs: []observation.Observation{obsFor("backup", "leche", 101)}},
		}},
	}
	tracker := health.NewTracker(healthConfig(), []string{"primary", "backup"})
	o := New(tiers, tracker, time.Second, logging.NewNoopLogger())

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Observations, 1)
	assert.Equal(t, []string{"tier-1", "tier-2"}, result.TiersUsed)
}

func TestRunSkipsLowerTierWhenUpperSucceeds(t *testing.T) {
	lower := &stubSource{name: "lower", obs: []observation.Observation{obsFor("lower", "pan", 55)}}
	tiers := []Tier{
		{Name: "tier-1", Sources: []sources.Source{
			&stubSource{name: "upper", obs: []observation.Observation{obsFor("upper", "leche", 100)}},
		}},
		{Name: "tier-2", Sources: []sources.Source{lower}},
	}
	tracker := health.NewTracker(healthConfig(), []string{"upper", "lower"})
	o := New(tiers, tracker, time.Second, logging.NewNoopLogger())

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tier-1"}, result.TiersUsed)
	assert.Len(t, result.Observations, 1)
	assert.Equal(t, "upper", result.Observations[0].SourceID)

	// Unreached sources keep their standing untouched
	assert.Equal(t, 0, tracker.Report().Sources["lower"].Successes+tracker.Report().Sources["lower"].Failures)
}

func TestRunSequentialTierStopsAtFirstSuccess(t *testing.T) {
	first := &stubSource{name: "first", obs: []observation.Observation{obsFor("first", "leche", 100)}}
	second := &stubSource{name: "second", obs: []observation.Observation{obsFor("second", "leche", 102)}}
	tiers := []Tier{{Name: "tier-1", Sources: []sources.Source{first, second}}}
	tracker := health.NewTracker(healthConfig(), []string{"first", "second"})
	o := New(tiers, tracker, time.Second, logging.NewNoopLogger())

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Observations, 1)
	assert.Equal(t, "first", result.Observations[0].SourceID)
	assert.Equal(t, int32(0), second.calls.Load(), "fallback source must not be consulted")
	assert.Equal(t, 0, tracker.Report().Sources["second"].Successes+tracker.Report().Sources["second"].Failures)
}

func TestRunSequentialTierFallsThroughFailures(t *testing.T) {
	first := &stubSource{name: "first", err: errors.New("down")}
	second := &stubSource{name: "second", obs: []observation.Observation{obsFor("second", "pan", 50)}}
	third := &stubSource{name: "third", obs: []observation.Observation{obsFor("third", "pan", 52)}}
	tiers := []Tier{{Name: "tier-1", Sources: []sources.Source{first, second, third}}}
	tracker := health.NewTracker(healthConfig(), []string{"first", "second", "third"})
	o := New(tiers, tracker, time.Second, logging.NewNoopLogger())

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Observations, 1)
	assert.Equal(t, "second", result.Observations[0].SourceID)
	assert.Equal(t, 1, tracker.Report().Sources["first"].Failures)
	assert.Equal(t, int32(0), third.calls.Load())
	assert.Len(t, result.Sources, 2)
}

func TestRunAlwaysTierMergesRegardless(t *testing.T) {
	skipped := &stubSource{name: "skipped", obs: []observation.Observation{obsFor("skipped", "pan", 55)}}
	tiers := []Tier{
		{Name: "tier-1", Sources: []sources.Source{
			&stubSource{name: "upper", obs: []observation.Observation{obsFor("upper", "leche", 100)}},
		}},
		{Name: "tier-2", Always: true, Sources: []sources.Source{
			&stubSource{name: "extra", obs: []observation.Observation{obsFor("extra", "leche", 101)}},
		}},
		{Name: "tier-3", Sources: []sources.Source{skipped}},
	}
	tracker := health.NewTracker(healthConfig(), []string{"upper", "extra", "skipped"})
	o := New(tiers, tracker, time.Second, logging.NewNoopLogger())

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tier-1", "tier-2"}, result.TiersUsed)
	assert.Len(t, result.Observations, 2)
	assert.Equal(t, int32(0), skipped.calls.Load(), "plain fallback tier stays untouched")
}

func TestRunAllSourcesFailed(t *testing.T) {
	tiers := []Tier{
		{Name: "tier-1", Sources: []sources.Source{
			&stubSource{name: "a", err: errors.New("timeout")},
		}},
		{Name: "tier-2", Sources: []sources.Source{
			&stubSource{name: "b", err: errors.New("http 500")},
		}},
	}
	tracker := health.NewTracker(healthConfig(), []string{"a", "b"})
	o := New(tiers, tracker, time.Second, logging.NewNoopLogger())

	_, err := o.Run(context.Background())
	require.Error(t, err)

	var all *AllSourcesFailedError
	require.True(t, errors.As(err, &all))
	assert.Len(t, all.Failures, 2)
	assert.Contains(t, err.Error(), "a: ")
	assert.Contains(t, err.Error(), "b: ")
	assert.Contains(t, err.Error(), "all 2 sources failed")
}

func TestRunTimeoutIsFailure(t *testing.T) {
	tiers := []Tier{{Name: "tier-1", Sources: []sources.Source{
		&stubSource{name: "slow", delay: 200 * time.Millisecond, obs: []observation.Observation{obsFor("slow", "leche", 1)}},
	}}}
	tracker := health.NewTracker(healthConfig(), []string{"slow"})
	o := New(tiers, tracker, 10*time.Millisecond, logging.NewNoopLogger())

	_, err := o.Run(context.Background())
	var all *AllSourcesFailedError
	require.True(t, errors.As(err, &all))
	assert.Equal(t, 1, tracker.Report().Sources["slow"].Failures)
}

func TestBuildTiersOrdersAndFilters(t *testing.T) {
	cfg := &config.Config{
		Fetch: config.FetchConfig{Timeout: config.Duration(time.Second)},
		Sources: []config.SourceConfig{
			{Type: "file", Name: "csv", Enabled: true, Tier: 3, Always: true, Config: map[string]interface{}{"path": t.TempDir()}},
			{Type: "api", Name: "disabled", Enabled: false, Tier: 1},
		},
	}

	tiers, err := BuildTiers(cfg, logging.NewNoopLogger())
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	assert.Equal(t, "tier-3", tiers[0].Name)
	assert.True(t, tiers[0].Always)
	require.Len(t, tiers[0].Sources, 1)
	assert.Equal(t, "csv", tiers[0].Sources[0].Name())
}

func TestBuildTiersNoSources(t *testing.T) {
	cfg := &config.Config{}
	_, err := BuildTiers(cfg, logging.NewNoopLogger())
	assert.True(t, errors.Is(err, ErrNoSources))
}
