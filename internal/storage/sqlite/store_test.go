package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/barrersoftware/copilot-plugin-system/internal/core/domain"
	"github.com/barrersoftware/copilot-plugin-system/internal/core/ports"
)

func TestStore_AppendAndList(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	events := []*domain.LifecycleEvent{
		domain.NewEvent(domain.EventPluginRegistered, "a", "manual", ""),
		domain.NewEvent(domain.EventPluginRegistered, "b", "manual", ""),
		domain.NewEvent(domain.EventPluginHookFailed, "a", "", "boom"),
	}
	for _, ev := range events {
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	all, err := store.ListEvents(ctx, ports.ListEventsOptions{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].ID != events[2].ID {
		t.Errorf("newest first: got %s, want %s", all[0].ID, events[2].ID)
	}
	if all[0].Message != "boom" {
		t.Errorf("Message = %q, want boom", all[0].Message)
	}

	forA, err := store.ListEvents(ctx, ports.ListEventsOptions{PluginID: "a"})
	if err != nil {
		t.Fatalf("ListEvents(plugin) error = %v", err)
	}
	if len(forA) != 2 {
		t.Errorf("plugin filter len = %d, want 2", len(forA))
	}

	failed, err := store.ListEvents(ctx, ports.ListEventsOptions{Type: domain.EventPluginHookFailed, Limit: 10})
	if err != nil {
		t.Fatalf("ListEvents(type) error = %v", err)
	}
	if len(failed) != 1 || failed[0].PluginID != "a" {
		t.Errorf("type filter = %+v", failed)
	}

	limited, err := store.ListEvents(ctx, ports.ListEventsOptions{Limit: 1})
	if err != nil {
		t.Fatalf("ListEvents(limit) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit len = %d, want 1", len(limited))
	}
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	store, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.AppendEvent(context.Background(), domain.NewEvent(domain.EventPluginShutdown, "x", "", "")); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	store.Close()

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.ListEvents(context.Background(), ports.ListEventsOptions{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(got) != 1 || got[0].Type != domain.EventPluginShutdown {
		t.Errorf("got %+v", got)
	}
}

func TestStore_AppendNil(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	if err := store.AppendEvent(context.Background(), nil); err == nil {
		t.Error("expected error for nil event")
	}
}
