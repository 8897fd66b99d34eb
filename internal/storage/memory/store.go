// Package memory provides in-memory stores: a bounded lifecycle event journal
// and the shared key/value store handed to plugins.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/barrersoftware/copilot-plugin-system/internal/core/domain"
	"github.com/barrersoftware/copilot-plugin-system/internal/core/ports"
)

// DefaultCapacity is the number of events kept when New is given zero.
const DefaultCapacity = 1024

// Store is an in-memory ring buffer implementing ports.EventStore.
// Once full, the oldest event is overwritten.
type Store struct {
	mu     sync.RWMutex
	events []*domain.LifecycleEvent
	next   int
	full   bool
}

var _ ports.EventStore = (*Store)(nil)

// New creates an event store holding at most capacity events.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{events: make([]*domain.LifecycleEvent, capacity)}
}

func (s *Store) AppendEvent(ctx context.Context, event *domain.LifecycleEvent) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	cp := *event

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[s.next] = &cp
	s.next = (s.next + 1) % len(s.events)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, opts ports.ListEventsOptions) ([]*domain.LifecycleEvent, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = ports.DefaultEventLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.next
	if s.full {
		size = len(s.events)
	}

	var result []*domain.LifecycleEvent
	for i := 0; i < size && len(result) < limit; i++ {
		idx := (s.next - 1 - i + len(s.events)) % len(s.events)
		ev := s.events[idx]
		if opts.PluginID != "" && ev.PluginID != opts.PluginID {
			continue
		}
		if opts.Type != "" && ev.Type != opts.Type {
			continue
		}
		cp := *ev
		result = append(result, &cp)
	}
	return result, nil
}

func (s *Store) Close() error {
	return nil
}
