// Package health tracks the rolling reliability of every price source and
// derives the reliability weights used during consensus aggregation.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/config"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/metrics"
)

// Status is the health classification of a source.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// Overall is the aggregate health classification across all sources.
type Overall string

const (
	OverallUnknown  Overall = "unknown"
	OverallHealthy  Overall = "healthy"
	OverallDegraded Overall = "degraded"
	OverallCritical Overall = "critical"
)

// gaugeValue maps a status onto the source_health metric scale.
func gaugeValue(s Status) float64 {
	switch s {
	case StatusHealthy:
		return 2
	case StatusDegraded:
		return 1
	case StatusFailed:
		return 0
	default:
		return -1
	}
}

// Record is the reliability state of a single source.
type Record struct {
	SourceID            string     `json:"source_id"`
	SuccessRate         float64    `json:"success_rate"`
	Successes           int        `json:"successes"`
	Failures            int        `json:"failures"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastLatency         float64    `json:"last_latency_seconds"`
	Status              Status     `json:"status"`
	Weight              float64    `json:"reliability_weight"`
}

// record is the internal, individually locked representation.
// Per-key locking keeps contention local to a source: concurrent adapter
// completions only collide when they report for the same source_id.
type record struct {
	mu sync.Mutex
	Record
}

// Tracker maintains one reliability record per known source. Records are
// created at engine initialization with Unknown status and never deleted
// while the process is alive.
type Tracker struct {
	cfg config.HealthConfig

	mu      sync.RWMutex
	records map[string]*record

	now func() time.Time // test hook
}

// NewTracker creates a tracker seeded with the given source IDs.
func NewTracker(cfg config.HealthConfig, sourceIDs []string) *Tracker {
	t := &Tracker{
		cfg:     cfg,
		records: make(map[string]*record, len(sourceIDs)),
		now:     time.Now,
	}
	for _, id := range sourceIDs {
		t.records[id] = &record{Record: Record{
			SourceID: id,
			Status:   StatusUnknown,
			Weight:   cfg.InitialWeight,
		}}
	}
	return t
}

// get returns the record for a source, creating it lazily for sources
// that were not part of the initial registration.
func (t *Tracker) get(sourceID string) *record {
	t.mu.RLock()
	r, ok := t.records[sourceID]
	t.mu.RUnlock()
	if ok {
		return r
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok = t.records[sourceID]; ok {
		return r
	}
	r = &record{Record: Record{
		SourceID: sourceID,
		Status:   StatusUnknown,
		Weight:   t.cfg.InitialWeight,
	}}
	t.records[sourceID] = r
	return r
}

// RecordAttempt updates a source's reliability state after a fetch attempt.
// The moving update is asymmetric: failures are penalized twice as fast as
// successes are rewarded, so a flapping source degrades quickly.
func (t *Tracker) RecordAttempt(sourceID string, success bool, latency time.Duration) {
	r := t.get(sourceID)

	r.mu.Lock()
	if success {
		r.Successes++
		r.ConsecutiveFailures = 0
		r.SuccessRate = min(1.0, r.SuccessRate+0.1)
		now := t.now()
		r.LastSuccess = &now
	} else {
		r.Failures++
		r.ConsecutiveFailures++
		r.SuccessRate = max(0.0, r.SuccessRate-0.2)
	}
	r.LastLatency = latency.Seconds()
	r.Status = t.classify(r.SuccessRate)
	r.Weight = t.weightFor(r.Status)
	status, rate := r.Status, r.SuccessRate
	r.mu.Unlock()

	metrics.RecordSourceHealth(sourceID, gaugeValue(status), rate)
}

// classify derives the health status from a success rate.
func (t *Tracker) classify(successRate float64) Status {
	switch {
	case successRate > t.cfg.HealthyAbove:
		return StatusHealthy
	case successRate > t.cfg.DegradedAbove:
		return StatusDegraded
	default:
		return StatusFailed
	}
}

// weightFor derives the reliability weight from a health status.
func (t *Tracker) weightFor(s Status) float64 {
	switch s {
	case StatusHealthy:
		return t.cfg.HealthyWeight
	case StatusDegraded:
		return t.cfg.DegradedWeight
	case StatusFailed:
		return t.cfg.FailedWeight
	default:
		return t.cfg.InitialWeight
	}
}

// Classify returns the current health status of a source.
func (t *Tracker) Classify(sourceID string) Status {
	r := t.get(sourceID)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Status
}

// WeightFor returns the current reliability weight of a source.
func (t *Tracker) WeightFor(sourceID string) float64 {
	r := t.get(sourceID)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Weight
}

// Snapshot returns an immutable source_id -> reliability weight map.
// The aggregator consumes snapshots so that a whole run sees one
// consistent set of weights.
func (t *Tracker) Snapshot() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	weights := make(map[string]float64, len(t.records))
	for id, r := range t.records {
		r.mu.Lock()
		weights[id] = r.Weight
		r.mu.Unlock()
	}
	return weights
}

// Report is the serializable health report handed to monitoring and
// presentation collaborators. It is the only externally visible health signal.
type Report struct {
	Timestamp time.Time         `json:"timestamp"`
	Sources   map[string]Record `json:"sources"`
	Overall   Overall           `json:"overall_health"`
}

// Report builds a point-in-time health report across all known sources.
// Overall health is derived from the fraction of healthy sources:
// >= 75% healthy, >= 50% degraded, otherwise critical.
func (t *Tracker) Report() Report {
	t.mu.RLock()
	defer t.mu.RUnlock()

	report := Report{
		Timestamp: t.now(),
		Sources:   make(map[string]Record, len(t.records)),
		Overall:   OverallUnknown,
	}

	healthy := 0
	for id, r := range t.records {
		r.mu.Lock()
		report.Sources[id] = r.Record
		if r.Status == StatusHealthy {
			healthy++
		}
		r.mu.Unlock()
	}

	total := len(report.Sources)
	if total > 0 {
		switch {
		case float64(healthy) >= float64(total)*0.75:
			report.Overall = OverallHealthy
		case float64(healthy) >= float64(total)*0.5:
			report.Overall = OverallDegraded
		default:
			report.Overall = OverallCritical
		}
	}

	return report
}

// SourceIDs returns all known source IDs in sorted order.
func (t *Tracker) SourceIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
