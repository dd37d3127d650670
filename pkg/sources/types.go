package sources

import (
	"context"
	"time"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/config"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/logging"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/observation"
)

// SourceType represents the kind of price source
type SourceType string

const (
	SourceTypeAPI    SourceType = "api"
	SourceTypeScrape SourceType = "scrape"
	SourceTypeFile   SourceType = "file"
)

// Source is the capability every price source adapter must implement.
// The orchestrator treats each adapter as opaque and untrusted: Fetch may
// block on I/O, must honor ctx cancellation, and may fail with any error.
// All source-specific parsing and quirks live behind this boundary; only
// canonical observations come out.
type Source interface {
	// Name returns the unique name of this source
	Name() string

	// Type returns the kind of this source
	Type() SourceType

	// Fetch retrieves the current price observations from the source
	Fetch(ctx context.Context) ([]observation.Observation, error)
}

// SourceFactory is a function that creates a new Source instance
type SourceFactory func(cfg config.SourceConfig, timeout time.Duration, logger *logging.Logger) (Source, error)
