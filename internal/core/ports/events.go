// Package ports defines the interfaces between the engine core and its
// adapters.
package ports

import (
	"context"

	"github.com/barrersoftware/copilot-plugin-system/internal/core/domain"
)

// EventPublisher publishes plugin lifecycle events.
// Implementations: direct to an EventStore (default), log-only, etc.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.LifecycleEvent) error
	Close() error
}

// EventStore persists lifecycle events for inspection.
// Implementations: in-memory ring (default), SQLite.
type EventStore interface {
	AppendEvent(ctx context.Context, event *domain.LifecycleEvent) error
	ListEvents(ctx context.Context, opts ListEventsOptions) ([]*domain.LifecycleEvent, error)
	Close() error
}

// ListEventsOptions filters ListEvents. Results are newest first.
type ListEventsOptions struct {
	PluginID string
	Type     domain.LifecycleEventType
	Limit    int
}

// DefaultEventLimit caps ListEvents when no limit is given.
const DefaultEventLimit = 100

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *domain.LifecycleEvent) error { return nil }
func (NopPublisher) Close() error                                          { return nil }
