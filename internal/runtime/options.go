package runtime

import (
	"fmt"
	"log/slog"

	"github.com/barrersoftware/copilot-plugin-system/internal/core/ports"
	"github.com/barrersoftware/copilot-plugin-system/internal/pkg/config"
	"github.com/barrersoftware/copilot-plugin-system/internal/storage/memory"
	"github.com/barrersoftware/copilot-plugin-system/internal/storage/sqlite"
)

// Option is a functional option for configuring an Engine.
type Option func(*Engine) error

// WithFileConfig uses file-based configuration with hot-reload.
// The path should point to a config.yaml file that will be watched for changes.
func WithFileConfig(path string) Option {
	return func(e *Engine) error {
		if path == "" {
			return fmt.Errorf("config path cannot be empty")
		}
		e.configPath = path
		return nil
	}
}

// WithConfig uses a fixed configuration that never changes. Useful for
// embedding hosts that build their configuration in code.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		e.config = staticConfig{cfg: cfg}
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(e *Engine) error {
		e.config = provider
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger != nil {
			e.logger = logger
		}
		return nil
	}
}

// WithBridge sets the opaque backend handle passed to every plugin in
// plugin.Host.Bridge.
func WithBridge(bridge any) Option {
	return func(e *Engine) error {
		e.bridge = bridge
		return nil
	}
}

// WithPluginDir overrides plugins.dir from configuration.
func WithPluginDir(dir string) Option {
	return func(e *Engine) error {
		e.pluginDir = dir
		return nil
	}
}

// WithEventStore records lifecycle events in store. The engine closes it on
// Shutdown.
func WithEventStore(store ports.EventStore) Option {
	return func(e *Engine) error {
		e.store = store
		return nil
	}
}

// WithSQLiteEvents records lifecycle events in a SQLite database at path.
func WithSQLiteEvents(path string) Option {
	return func(e *Engine) error {
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("create sqlite event store: %w", err)
		}
		e.store = store
		return nil
	}
}

// WithMemoryEvents keeps the last capacity lifecycle events in memory
// (default).
func WithMemoryEvents(capacity int) Option {
	return func(e *Engine) error {
		e.store = memory.New(capacity)
		return nil
	}
}

// WithEventsConfig selects the event store from the events section of a
// configuration. Driver "none" disables event recording.
func WithEventsConfig(cfg config.EventsConfig) Option {
	return func(e *Engine) error {
		switch cfg.Driver {
		case "", "memory":
			return WithMemoryEvents(cfg.Memory.Capacity)(e)
		case "sqlite":
			return WithSQLiteEvents(cfg.SQLite.Path)(e)
		case "none":
			e.store = nil
			e.events = ports.NopPublisher{}
			return nil
		default:
			return fmt.Errorf("unknown events driver %q", cfg.Driver)
		}
	}
}

// WithEventPublisher sets a custom event publisher. Events then bypass the
// event store.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(e *Engine) error {
		e.events = publisher
		return nil
	}
}

// WithServer overrides server.enabled from configuration.
func WithServer(enabled bool) Option {
	return func(e *Engine) error {
		e.serve = &enabled
		return nil
	}
}
