// Package direct provides a direct event publisher that writes to an event store.
package direct

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/barrersoftware/copilot-plugin-system/internal/core/domain"
	"github.com/barrersoftware/copilot-plugin-system/internal/core/ports"
)

// Publisher implements ports.EventPublisher by writing directly to storage.
// This is the default implementation for single-process hosts.
type Publisher struct {
	store  ports.EventStore
	logger *slog.Logger
}

// NewPublisher creates a new direct event publisher.
func NewPublisher(store ports.EventStore, logger *slog.Logger) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("event store required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: store, logger: logger}, nil
}

// Publish writes a lifecycle event to the store and mirrors it to the log.
func (p *Publisher) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	if event == nil {
		return nil
	}
	p.logger.Debug("lifecycle event",
		slog.String("type", string(event.Type)),
		slog.String("plugin_id", event.PluginID),
		slog.String("message", event.Message))
	return p.store.AppendEvent(ctx, event)
}

// Close is a no-op; the store is owned by the caller.
func (p *Publisher) Close() error {
	return nil
}
