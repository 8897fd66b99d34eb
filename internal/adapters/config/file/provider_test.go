package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/barrersoftware/copilot-plugin-system/internal/pkg/config"
)

func TestNewProvider_EmptyPath(t *testing.T) {
	if _, err := NewProvider("", nil); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestProvider_LoadUsesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9321\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := NewProvider(path, nil)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	cfg, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9321 {
		t.Errorf("port = %d, want 9321", cfg.Server.Port)
	}
	if p.Current() != cfg {
		t.Error("Current() does not return loaded config")
	}
}

func TestProvider_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.yaml")
	if err := os.WriteFile(path, []byte("plugins:\n  dir: one\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, _ := NewProvider(path, nil)
	if _, err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *config.Config, 4)
	if err := p.Watch(ctx, func(c *config.Config) { changed <- c }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer p.Close()

	if err := os.WriteFile(path, []byte("plugins:\n  dir: two\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if cfg.Plugins.Dir != "two" {
			t.Errorf("reloaded dir = %q, want two", cfg.Plugins.Dir)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
