package interfaces

import (
	"context"

	"gateway/pkg/types"
)

// EventRecorder accepts gateway decisions for the audit journal.
// Record must not block the request path.
type EventRecorder interface {
	Record(event types.Event)
}

// AuditStore is the queryable side of the journal
type AuditStore interface {
	EventRecorder

	// Recent returns the newest events first
	Recent(ctx context.Context, limit int) ([]*types.Event, error)

	// HealthCheck verifies the backing database is reachable
	HealthCheck(ctx context.Context) error

	// Close drains pending events and releases the database
	Close() error
}
