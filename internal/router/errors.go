package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"gateway/pkg/types"
)

// Router error types
var (
	ErrNoRoute             = errors.New("no route for path")
	ErrInvalidRoute        = fmt.Errorf("%w: invalid route rule", types.ErrValidation)
	ErrUpstreamUnavailable = fmt.Errorf("%w: upstream unreachable", types.ErrUpstreamUnavailable)
)

// Upstream failure reasons written to the journal
const (
	ReasonRefused     = "refused"
	ReasonTimeout     = "timeout"
	ReasonUnreachable = "unreachable"
)

// failureReason classifies a transport error without exposing addresses
func failureReason(err error) string {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ReasonRefused
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonUnreachable
}
