// Package sources provides price source interfaces and implementations.
package sources

import "errors"

var (
	// ErrNoPricesAvailable indicates that no prices are available from the source.
	ErrNoPricesAvailable = errors.New("no prices available")
	// ErrUnexpectedStatus indicates an unexpected HTTP status code.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status code")
	// ErrRateLimitExceeded indicates that a rate limit has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidResponse indicates an invalid response from the source.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrInvalidConfig indicates that the source configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoProductsConfigured indicates that no products are configured for the source.
	ErrNoProductsConfigured = errors.New("no products configured")
	// ErrUnknownSource indicates that no factory is registered for a source.
	ErrUnknownSource = errors.New("unknown source")
	// ErrBaseURLRequired indicates that base_url is required.
	ErrBaseURLRequired = errors.New("base_url is required")
	// ErrPathRequired indicates that a file path is required.
	ErrPathRequired = errors.New("path is required")
)
