package index

import "errors"

var (
	// ErrDegenerateBase indicates that the base day's average price is zero
	// or undefined, so no index value can be anchored to it.
	ErrDegenerateBase = errors.New("degenerate index base")
	// ErrUnknownMode indicates an unrecognized index mode.
	ErrUnknownMode = errors.New("unknown index mode")
	// ErrNoCategoryWeights indicates weighted mode without usable weights.
	ErrNoCategoryWeights = errors.New("no category weights configured")
)
