// Package fetch orchestrates price collection across tiered source groups.
package fetch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/config"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/health"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/logging"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/metrics"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/observation"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/sources"
)

// Tier is an ordered group of sources. Tiers are tried in order; a lower
// tier is only consulted when every tier above it produced no observations,
// except tiers marked Always, which run and merge on every pass.
type Tier struct {
	Name       string
	Concurrent bool
	Always     bool
	Sources    []sources.Source
}

// SourceResult records the outcome of one source fetch within a run.
type SourceResult struct {
	SourceID     string        `json:"source_id"`
	Tier         string        `json:"tier"`
	Observations int           `json:"observations"`
	Latency      time.Duration `json:"latency"`
	Err          error         `json:"-"`
}

// Result is the merged outcome of one orchestrated run.
type Result struct {
	Observations []observation.Observation
	Sources      []SourceResult
	TiersUsed    []string
	Duration     time.Duration
}

// Orchestrator walks the fallback tiers, fetches from each source with
// isolation, and feeds every attempt outcome into the health tracker.
type Orchestrator struct {
	tiers   []Tier
	tracker *health.Tracker
	timeout time.Duration
	logger  *logging.Logger
}

// New creates an orchestrator over the given tiers.
func New(tiers []Tier, tracker *health.Tracker, timeout time.Duration, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Orchestrator{
		tiers:   tiers,
		tracker: tracker,
		timeout: timeout,
		logger:  logger,
	}
}

// BuildTiers instantiates every enabled source from config and groups them
// into ordered tiers. Tier numbers need not be contiguous; ordering is by
// ascending tier number.
func BuildTiers(cfg *config.Config, logger *logging.Logger) ([]Tier, error) {
	grouped := make(map[int][]sources.Source)
	concurrent := make(map[int]bool)
	always := make(map[int]bool)

	for _, sc := range cfg.Sources {
		if !sc.Enabled {
			continue
		}
		src, err := sources.Create(sc, cfg.Fetch.Timeout.ToDuration(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create source %s.%s: %w", sc.Type, sc.Name, err)
		}
		grouped[sc.Tier] = append(grouped[sc.Tier], src)
		if sc.Concurrent {
			concurrent[sc.Tier] = true
		}
		if sc.Always {
			always[sc.Tier] = true
		}
	}
	if len(grouped) == 0 {
		return nil, ErrNoSources
	}

	numbers := make([]int, 0, len(grouped))
	for n := range grouped {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	tiers := make([]Tier, 0, len(numbers))
	for _, n := range numbers {
		tiers = append(tiers, Tier{
			Name:       fmt.Sprintf("tier-%d", n),
			Concurrent: concurrent[n],
			Always:     always[n],
			Sources:    grouped[n],
		})
	}
	return tiers, nil
}

// SourceIDs returns the names of every source across all tiers.
func (o *Orchestrator) SourceIDs() []string {
	var ids []string
	for _, tier := range o.tiers {
		for _, src := range tier.Sources {
			ids = append(ids, src.Name())
		}
	}
	sort.Strings(ids)
	return ids
}

// Run executes one collection pass. Tiers run in order; once observations
// are collected, remaining tiers are skipped unless marked Always. It
// returns the merged observations, or *AllSourcesFailedError carrying every
// per-source failure when nothing could be collected.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	if len(o.tiers) == 0 {
		return nil, ErrNoSources
	}

	result := &Result{}
	failures := make(map[string]error)

	for _, tier := range o.tiers {
		if len(result.Observations) > 0 && !tier.Always {
			// Unreached fallback tiers stay untouched; their sources are
			// not penalized for a run that never consulted them.
			continue
		}

		tierResults := o.runTier(ctx, tier)
		result.TiersUsed = append(result.TiersUsed, tier.Name)

		collected := 0
		for _, sr := range tierResults {
			result.Sources = append(result.Sources, sr.result)
			if sr.result.Err != nil {
				failures[sr.result.SourceID] = sr.result.Err
				continue
			}
			collected += len(sr.observations)
			result.Observations = append(result.Observations, sr.observations...)
		}

		if collected == 0 {
			o.logger.Warn("tier produced no observations, falling back", "tier", tier.Name)
		}
	}

	result.Duration = time.Since(start)

	if len(result.Observations) == 0 {
		return nil, &AllSourcesFailedError{Failures: failures}
	}

	o.logger.Info("collection pass complete",
		"observations", len(result.Observations),
		"sources_ok", len(result.Sources)-len(failures),
		"sources_failed", len(failures),
		"tiers_used", len(result.TiersUsed),
		"duration", result.Duration.String())

	return result, nil
}

type sourceOutcome struct {
	result       SourceResult
	observations []observation.Observation
}

// runTier fetches from the tier's sources. A concurrent tier runs every
// source in parallel and keeps all outcomes; a sequential tier walks its
// sources as an ordered fallback chain and stops at the first success, so
// later sources are neither consulted nor penalized. Each source runs
// isolated: a failure or panic in one never affects the others, and every
// attempted fetch is recorded against source health.
func (o *Orchestrator) runTier(ctx context.Context, tier Tier) []sourceOutcome {
	if tier.Concurrent {
		outcomes := make([]sourceOutcome, len(tier.Sources))
		g, gctx := errgroup.WithContext(ctx)
		for i, src := range tier.Sources {
			i, src := i, src
			g.Go(func() error {
				outcomes[i] = o.fetchOne(gctx, tier.Name, src)
				// Failures are carried in the outcome, never through the
				// group, so sibling sources keep running.
				return nil
			})
		}
		_ = g.Wait()
		return outcomes
	}

	outcomes := make([]sourceOutcome, 0, len(tier.Sources))
	for _, src := range tier.Sources {
		out := o.fetchOne(ctx, tier.Name, src)
		outcomes = append(outcomes, out)
		if out.result.Err == nil {
			break
		}
	}
	return outcomes
}

// fetchOne runs a single source fetch with timeout and panic isolation.
func (o *Orchestrator) fetchOne(ctx context.Context, tierName string, src sources.Source) (out sourceOutcome) {
	out.result = SourceResult{SourceID: src.Name(), Tier: tierName}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			out.result.Err = &SourceError{
				SourceID: src.Name(),
				Tier:     tierName,
				Err:      fmt.Errorf("panic: %v", r),
			}
			out.observations = nil
			o.finish(&out, time.Since(start))
		}
	}()

	fctx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	obs, err := src.Fetch(fctx)
	if err != nil {
		out.result.Err = &SourceError{SourceID: src.Name(), Tier: tierName, Err: err}
	} else if len(obs) == 0 {
		out.result.Err = &SourceError{SourceID: src.Name(), Tier: tierName, Err: sources.ErrNoPricesAvailable}
	} else {
		out.observations = obs
		out.result.Observations = len(obs)
	}

	o.finish(&out, time.Since(start))
	return out
}

// finish stamps latency on the outcome and records the attempt.
func (o *Orchestrator) finish(out *sourceOutcome, latency time.Duration) {
	out.result.Latency = latency
	success := out.result.Err == nil

	if o.tracker != nil {
		o.tracker.RecordAttempt(out.result.SourceID, success, latency)
	}
	metrics.RecordFetch(out.result.SourceID, success, latency)

	if success {
		o.logger.Debug("source fetched",
			"source", out.result.SourceID,
			"tier", out.result.Tier,
			"observations", out.result.Observations,
			"latency", latency.String())
	} else {
		o.logger.Warn("source failed",
			"source", out.result.SourceID,
			"tier", out.result.Tier,
			"error", out.result.Err.Error(),
			"latency", latency.String())
	}
}
