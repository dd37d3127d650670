package health

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/config"
)

func testHealthConfig() config.HealthConfig {
	return config.HealthConfig{
		HealthyAbove:   0.8,
		DegradedAbove:  0.5,
		HealthyWeight:  1.0,
		DegradedWeight: 0.7,
		FailedWeight:   0.3,
		InitialWeight:  1.0,
	}
}

func TestTracker_InitialState(t *testing.T) {
	tracker := NewTracker(testHealthConfig(), []string{"coto", "jumbo"})

	assert.Equal(t, StatusUnknown, tracker.Classify("coto"))
	assert.Equal(t, 1.0, tracker.WeightFor("coto"))
	assert.Equal(t, []string{"coto", "jumbo"}, tracker.SourceIDs())
}

func TestTracker_AsymmetricUpdate(t *testing.T) {
	tracker := NewTracker(testHealthConfig(), []string{"coto"})

	// One success moves the rate up by 0.1.
	tracker.RecordAttempt("coto", true, 100*time.Millisecond)
	rec := tracker.Report().Sources["coto"]
	assert.InDelta(t, 0.1, rec.SuccessRate, 1e-9)
	assert.Equal(t, 0, rec.ConsecutiveFailures)
	require.NotNil(t, rec.LastSuccess)

	// One failure moves it down by 0.2 and bumps the failure streak.
	tracker.RecordAttempt("coto", false, time.Second)
	rec = tracker.Report().Sources["coto"]
	assert.InDelta(t, 0.0, rec.SuccessRate, 1e-9)
	assert.Equal(t, 1, rec.ConsecutiveFailures)

	// The rate is clamped to [0, 1].
	for i := 0; i < 20; i++ {
		tracker.RecordAttempt("coto", true, time.Millisecond)
	}
	rec = tracker.Report().Sources["coto"]
	assert.Equal(t, 1.0, rec.SuccessRate)
	tracker.RecordAttempt("coto", false, time.Millisecond)
	tracker.RecordAttempt("coto", false, time.Millisecond)
	tracker.RecordAttempt("coto", false, time.Millisecond)
	tracker.RecordAttempt("coto", false, time.Millisecond)
	tracker.RecordAttempt("coto", false, time.Millisecond)
	tracker.RecordAttempt("coto", false, time.Millisecond)
	rec = tracker.Report().Sources["coto"]
	assert.Equal(t, 0.0, rec.SuccessRate)
	assert.Equal(t, 6, rec.ConsecutiveFailures)
}

func TestTracker_Classification(t *testing.T) {
	tracker := NewTracker(testHealthConfig(), []string{"s"})

	// Nine successes: rate 0.9 > 0.8 => healthy at full weight.
	for i := 0; i < 9; i++ {
		tracker.RecordAttempt("s", true, time.Millisecond)
	}
	assert.Equal(t, StatusHealthy, tracker.Classify("s"))
	assert.Equal(t, 1.0, tracker.WeightFor("s"))

	// One failure: 0.7, degraded.
	tracker.RecordAttempt("s", false, time.Millisecond)
	assert.Equal(t, StatusDegraded, tracker.Classify("s"))
	assert.Equal(t, 0.7, tracker.WeightFor("s"))

	// Two more failures: 0.3, failed.
	tracker.RecordAttempt("s", false, time.Millisecond)
	tracker.RecordAttempt("s", false, time.Millisecond)
	assert.Equal(t, StatusFailed, tracker.Classify("s"))
	assert.Equal(t, 0.3, tracker.WeightFor("s"))
}

func TestTracker_WeightMonotonicAcrossTiers(t *testing.T) {
	cfg := testHealthConfig()
	tracker := NewTracker(cfg, nil)

	healthy := tracker.weightFor(StatusHealthy)
	degraded := tracker.weightFor(StatusDegraded)
	failed := tracker.weightFor(StatusFailed)

	assert.GreaterOrEqual(t, healthy, degraded)
	assert.GreaterOrEqual(t, degraded, failed)
}

func TestTracker_OverallHealth(t *testing.T) {
	tracker := NewTracker(testHealthConfig(), []string{"a", "b", "c", "d"})

	makeHealthy := func(id string) {
		for i := 0; i < 9; i++ {
			tracker.RecordAttempt(id, true, time.Millisecond)
		}
	}
	makeFailed := func(id string) {
		for i := 0; i < 5; i++ {
			tracker.RecordAttempt(id, false, time.Millisecond)
		}
	}

	// 4/4 healthy => healthy.
	for _, id := range []string{"a", "b", "c", "d"} {
		makeHealthy(id)
	}
	assert.Equal(t, OverallHealthy, tracker.Report().Overall)

	// 3/4 healthy is still >= 75%.
	makeFailed("d")
	assert.Equal(t, OverallHealthy, tracker.Report().Overall)

	// 2/4 healthy => degraded.
	makeFailed("c")
	assert.Equal(t, OverallDegraded, tracker.Report().Overall)

	// 1/4 healthy => critical.
	makeFailed("b")
	assert.Equal(t, OverallCritical, tracker.Report().Overall)
}

func TestTracker_Snapshot(t *testing.T) {
	tracker := NewTracker(testHealthConfig(), []string{"a", "b"})
	for i := 0; i < 9; i++ {
		tracker.RecordAttempt("a", true, time.Millisecond)
	}
	for i := 0; i < 5; i++ {
		tracker.RecordAttempt("b", false, time.Millisecond)
	}

	snap := tracker.Snapshot()
	assert.Equal(t, 1.0, snap["a"])
	assert.Equal(t, 0.3, snap["b"])

	// Snapshot is a copy: later updates must not leak into it.
	for i := 0; i < 9; i++ {
		tracker.RecordAttempt("b", true, time.Millisecond)
	}
	assert.Equal(t, 0.3, snap["b"])
}

func TestTracker_ConcurrentUpdates(t *testing.T) {
	tracker := NewTracker(testHealthConfig(), []string{"a", "b", "c"})

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(id string, success bool) {
				defer wg.Done()
				tracker.RecordAttempt(id, success, time.Millisecond)
			}(id, i%2 == 0)
		}
	}
	wg.Wait()

	report := tracker.Report()
	require.Len(t, report.Sources, 3)
	for _, rec := range report.Sources {
		assert.GreaterOrEqual(t, rec.SuccessRate, 0.0)
		assert.LessOrEqual(t, rec.SuccessRate, 1.0)
	}
}

func TestTracker_LazyRegistration(t *testing.T) {
	tracker := NewTracker(testHealthConfig(), nil)
	tracker.RecordAttempt("late", true, time.Millisecond)

	rec, ok := tracker.Report().Sources["late"]
	require.True(t, ok)
	assert.InDelta(t, 0.1, rec.SuccessRate, 1e-9)
}
