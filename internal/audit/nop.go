package audit

import (
	"context"

	"gateway/pkg/interfaces"
	"gateway/pkg/types"
)

// Nop discards every event. It stands in when the journal is disabled.
type Nop struct{}

var _ interfaces.AuditStore = Nop{}

func (Nop) Record(types.Event) {}

func (Nop) Recent(context.Context, int) ([]*types.Event, error) { return nil, nil }

func (Nop) HealthCheck(context.Context) error { return nil }

func (Nop) Close() error { return nil }
