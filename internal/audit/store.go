package audit

import (
	"context"

	"leadgate/pkg/platform/audit"
)

// Store persists audit events in arrival order.
type Store interface {
	Append(ctx context.Context, event audit.Event) error
	// Recent returns up to limit of the newest events, oldest first.
	Recent(ctx context.Context, limit int) ([]audit.Event, error)
}
