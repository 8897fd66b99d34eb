package testutil

import (
	"context"
	"sync"

	"github.com/barrersoftware/copilot-plugin-system/internal/core/domain"
)

// EventRecorder is an in-memory ports.EventPublisher for assertions.
type EventRecorder struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (r *EventRecorder) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

func (r *EventRecorder) Close() error { return nil }

// Events returns a copy of everything published.
func (r *EventRecorder) Events() []domain.LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.LifecycleEvent(nil), r.events...)
}

// Count returns how many events of type t were published.
func (r *EventRecorder) Count(t domain.LifecycleEventType) int {
	n := 0
	for _, e := range r.Events() {
		if e.Type == t {
			n++
		}
	}
	return n
}
