package interfaces

import "gateway/pkg/types"

// Connection represents one realtime member of a room.
// Implementations must make Send safe for concurrent use and never block
// the caller on a slow peer.
type Connection interface {
	// ID returns a process-unique connection identifier
	ID() string

	// Send queues a frame for delivery to the peer
	Send(frame types.Frame) error

	// IsOpen reports whether the transport can still accept frames
	IsOpen() bool

	// Close closes the transport; safe to call more than once
	Close() error

	// Identity returns the verified caller, or nil for an unauthenticated join
	Identity() *types.Identity
}
