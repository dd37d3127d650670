// Package version provides version information for the market intelligence engine.
package version

// Version is the current version of the application.
const Version = "0.3.0"

// AgentString returns the full agent string with versioning.
// Used as the HTTP User-Agent when talking to upstream price sources.
func AgentString() string {
	return "argentina-market-intelligence/v" + Version
}
