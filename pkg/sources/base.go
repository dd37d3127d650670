package sources

import (
	"net/http"
	"time"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/logging"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/version"
)

// BaseSource provides common identity and plumbing for all price sources
type BaseSource struct {
	name   string
	stype  SourceType
	region string
	logger *logging.Logger
	client *http.Client
}

// NewBaseSource creates a new base source
func NewBaseSource(name string, stype SourceType, region string, timeout time.Duration, logger *logging.Logger) *BaseSource {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	if region == "" {
		region = "nacional"
	}
	return &BaseSource{
		name:   name,
		stype:  stype,
		region: region,
		logger: logger,
		client: &http.Client{Timeout: timeout},
	}
}

// Name returns the source name
func (b *BaseSource) Name() string {
	return b.name
}

// Type returns the source type
func (b *BaseSource) Type() SourceType {
	return b.stype
}

// Region returns the locality tag stamped onto observations
func (b *BaseSource) Region() string {
	return b.region
}

// Logger returns the logger
func (b *BaseSource) Logger() *logging.Logger {
	return b.logger
}

// HTTPClient returns the shared HTTP client for this source
func (b *BaseSource) HTTPClient() *http.Client {
	return b.client
}

// SetUserAgent decorates outgoing requests with the engine's agent string.
// Kept on the request builder because colly-based sources configure their
// user agent through the collector instead.
func SetUserAgent(req *http.Request) {
	req.Header.Set("User-Agent", version.AgentString())
	req.Header.Set("Accept", "application/json")
}
