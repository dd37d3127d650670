package consensus

import "errors"

var (
	// ErrInsufficientData indicates that no observations were available to
	// aggregate.
	ErrInsufficientData = errors.New("insufficient data for consensus")
)
