package fetch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNoSources indicates that the orchestrator has no sources to fetch from.
	ErrNoSources = errors.New("no sources available")
)

// SourceError wraps the failure of a single source fetch with its identity,
// so callers can attribute failures without parsing message text.
type SourceError struct {
	SourceID string
	Tier     string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s (tier %s): %v", e.SourceID, e.Tier, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// AllSourcesFailedError reports that every configured source failed in a
// single run. It carries each individual failure; the pipeline never
// substitutes placeholder data in this case, it surfaces this error instead.
type AllSourcesFailedError struct {
	Failures map[string]error
}

func (e *AllSourcesFailedError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Failures[id]))
	}
	return fmt.Sprintf("all %d sources failed: %s", len(ids), strings.Join(parts, "; "))
}
