package types

import "errors"

// Gateway error taxonomy. Package-specific errors wrap one of these
// so boundaries can classify them with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrAuthentication      = errors.New("authentication error")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
