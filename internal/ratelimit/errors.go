package ratelimit

import "errors"

// Rate limiter error types
var (
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	ErrInvalidPolicy    = errors.New("rate limit policy needs a positive window and max")
)
