// Package runtime provides the Engine: the plugin registry, dispatcher and
// loader wired together with configuration, lifecycle events and the
// optional HTTP bridge.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/barrersoftware/copilot-plugin-system/internal/adapters/auth/apikey"
	"github.com/barrersoftware/copilot-plugin-system/internal/adapters/config/file"
	"github.com/barrersoftware/copilot-plugin-system/internal/adapters/events/direct"
	"github.com/barrersoftware/copilot-plugin-system/internal/core/domain"
	"github.com/barrersoftware/copilot-plugin-system/internal/core/ports"
	"github.com/barrersoftware/copilot-plugin-system/internal/loader"
	"github.com/barrersoftware/copilot-plugin-system/internal/pipeline"
	"github.com/barrersoftware/copilot-plugin-system/internal/pkg/config"
	"github.com/barrersoftware/copilot-plugin-system/internal/registry"
	"github.com/barrersoftware/copilot-plugin-system/internal/server"
	"github.com/barrersoftware/copilot-plugin-system/internal/storage/memory"
	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

// Engine is the main entry point for hosting plugins.
// It can be used directly (Register, Dispatch*, Teardown) or run as a
// service with Start and Shutdown.
type Engine struct {
	// Dependencies (injected via options)
	config     ports.ConfigProvider
	configPath string
	store      ports.EventStore
	events     ports.EventPublisher
	logger     *slog.Logger
	bridge     any
	pluginDir  string
	serve      *bool

	// Plugin machinery
	data       *memory.DataStore
	registry   *registry.Registry
	dispatcher *pipeline.Dispatcher
	loader     *loader.Loader

	// Lifecycle management
	mu       sync.RWMutex
	cfg      *config.Config
	server   *server.Server
	auth     *apikey.Provider
	ctx      context.Context
	cancel   context.CancelFunc
	shutdown bool
}

var _ server.Engine = (*Engine)(nil)

// New creates an Engine with the given options.
// Without options the engine has no configuration file, keeps lifecycle
// events in memory, and serves nothing until Start.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger: slog.Default(),
		data:   memory.NewDataStore(),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if e.config == nil && e.configPath != "" {
		provider, err := file.NewProvider(e.configPath, e.logger)
		if err != nil {
			return nil, fmt.Errorf("create file config provider: %w", err)
		}
		e.config = provider
	}

	if e.events == nil {
		if e.store == nil {
			e.store = memory.New(memory.DefaultCapacity)
		}
		publisher, err := direct.NewPublisher(e.store, e.logger)
		if err != nil {
			return nil, fmt.Errorf("create default event publisher: %w", err)
		}
		e.events = publisher
	}

	e.registry = registry.New(
		registry.WithLogger(e.logger),
		registry.WithEventPublisher(e.events),
		registry.WithHostFactory(e.newHost),
	)
	e.dispatcher = pipeline.NewDispatcher(e.registry,
		pipeline.WithDispatchLogger(e.logger),
		pipeline.WithDispatchEvents(e.events))
	e.loader = loader.New(e.registry,
		loader.WithLogger(e.logger),
		loader.WithEventPublisher(e.events))

	return e, nil
}

// Register initializes p and adds it to the end of the dispatch chain.
// After Shutdown it returns an error wrapping domain.ErrClosed.
func (e *Engine) Register(ctx context.Context, p plugin.Plugin) error {
	return e.registry.Register(ctx, p, registry.SourceManual)
}

// Discover loads every plugin module in dir. Per-module failures are
// reported in the Result, not as an error. After Shutdown it returns
// domain.ErrClosed without reading dir.
func (e *Engine) Discover(ctx context.Context, dir string) (*loader.Result, error) {
	if e.isShutdown() {
		return &loader.Result{}, domain.ErrClosed
	}
	return e.loader.Discover(ctx, dir)
}

// LoadModule registers the plugins of an in-process module. After Shutdown
// every plugin of mod is reported as a failure wrapping domain.ErrClosed.
func (e *Engine) LoadModule(ctx context.Context, mod plugin.Module) *loader.Result {
	return e.loader.LoadModule(ctx, mod)
}

// DispatchBefore runs the request chain.
func (e *Engine) DispatchBefore(ctx context.Context, req plugin.RequestContext) (plugin.RequestContext, error) {
	return e.dispatcher.RunBefore(ctx, req)
}

// DispatchAfter runs the response chain.
func (e *Engine) DispatchAfter(ctx context.Context, resp plugin.ResponseContext) (plugin.ResponseContext, error) {
	return e.dispatcher.RunAfter(ctx, resp)
}

// Teardown shuts down every registered plugin in registration order and
// empties the registry. Shutdown failures are returned, never fatal.
func (e *Engine) Teardown(ctx context.Context) []error {
	return e.registry.UnregisterAll(ctx)
}

// Lookup returns the registered plugin with the given id.
func (e *Engine) Lookup(id string) (plugin.Plugin, bool) {
	return e.registry.Lookup(id)
}

// List returns the registered plugins in dispatch order.
func (e *Engine) List() []registry.Summary {
	return e.registry.List()
}

// Data returns the key/value store shared by all plugins.
func (e *Engine) Data() plugin.Store {
	return e.data
}

// Events returns the lifecycle event store, or nil when events are not
// stored.
func (e *Engine) Events() ports.EventStore {
	return e.store
}

// Config returns the configuration loaded by Start or the last reload.
func (e *Engine) Config() *config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Start loads configuration, registers configured webhooks, discovers the
// plugin directory, starts the HTTP bridge when enabled and watches the
// configuration for changes.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shutdown {
		return errors.New("engine is shut down")
	}
	if e.ctx != nil {
		return errors.New("engine already started")
	}

	cfg, err := e.loadConfig(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	e.cfg = cfg
	e.ctx, e.cancel = context.WithCancel(ctx)

	// Plugin initialization reads e.cfg through the host factory.
	e.mu.Unlock()
	res, err := e.loadPlugins(e.ctx, cfg)
	e.mu.Lock()
	if err != nil {
		e.cancel()
		return err
	}

	serve := cfg.Server.Enabled
	if e.serve != nil {
		serve = *e.serve
	}
	if serve {
		var opts []server.Option
		if len(cfg.Server.APIKeys) > 0 {
			e.auth = apikey.NewProvider(cfg.Server.APIKeys)
			opts = append(opts, server.WithAuth(e.auth))
		}
		srv := server.New(cfg.Server.Port, e, e.store, e.logger, opts...)
		if err := srv.Start(); err != nil {
			e.cancel()
			return fmt.Errorf("start server: %w", err)
		}
		e.server = srv
	}

	if e.config != nil {
		go e.watchConfig(e.ctx)
	}

	e.logger.Info("plugin engine started",
		slog.Int("plugins", e.registry.Len()),
		slog.Int("discovered", len(res.Registered)),
		slog.Int("failures", len(res.Failures)),
		slog.Bool("server", serve))
	return nil
}

// Shutdown stops the HTTP bridge and config watch, tears down every plugin
// and closes the event and config backends. Registrations still initializing
// shut their plugin down themselves, and later ones are rejected. Calling it
// again is a no-op.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil
	}
	e.shutdown = true
	srv := e.server
	cancel := e.cancel
	e.mu.Unlock()

	e.logger.Info("shutting down plugin engine")

	if cancel != nil {
		cancel()
	}

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			e.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
		}
	}

	if failures := e.registry.Close(ctx); len(failures) > 0 {
		e.logger.Warn("plugins failed to shut down cleanly", slog.Int("count", len(failures)))
	}

	if err := e.events.Close(); err != nil {
		e.logger.Error("failed to close events", slog.String("error", err.Error()))
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Error("failed to close event store", slog.String("error", err.Error()))
		}
	}
	if e.config != nil {
		if err := e.config.Close(); err != nil {
			e.logger.Error("failed to close config", slog.String("error", err.Error()))
		}
	}

	e.logger.Info("plugin engine shutdown complete")
	return errors.Join(errs...)
}

func (e *Engine) loadConfig(ctx context.Context) (*config.Config, error) {
	if e.config == nil {
		return config.Load("")
	}
	return e.config.Load(ctx)
}

// loadPlugins registers configured webhooks, then discovers the plugin
// directory. Both are idempotent: already registered ids are skipped.
func (e *Engine) loadPlugins(ctx context.Context, cfg *config.Config) (*loader.Result, error) {
	webhooks, err := pipeline.NewWebhooksFromConfig(cfg.Plugins.Webhooks)
	if err != nil {
		return nil, fmt.Errorf("build webhooks: %w", err)
	}
	for _, wh := range webhooks {
		err := e.registry.Register(ctx, wh, registry.SourceWebhook)
		if errors.Is(err, domain.ErrClosed) {
			return nil, err
		}
		if err != nil && !registry.IsDuplicate(err) {
			e.logger.Error("failed to register webhook",
				slog.String("plugin_id", wh.Info().ID),
				slog.String("error", err.Error()))
		}
	}

	dir := cfg.Plugins.Dir
	if e.pluginDir != "" {
		dir = e.pluginDir
	}
	if dir == "" {
		return &loader.Result{}, nil
	}
	res, err := e.loader.Discover(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("discover plugins: %w", err)
	}
	return res, nil
}

// watchConfig watches for config changes and reloads.
func (e *Engine) watchConfig(ctx context.Context) {
	onChange := func(newCfg *config.Config) {
		e.logger.Info("config changed, reloading")
		if err := e.reload(ctx, newCfg); err != nil {
			e.logger.Error("failed to reload", slog.String("error", err.Error()))
		}
	}

	if err := e.config.Watch(ctx, onChange); err != nil {
		if !errors.Is(err, context.Canceled) {
			e.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}
}

// reload applies a new configuration. Registered plugins keep the
// configuration they were initialized with; new webhooks and newly added
// modules are picked up.
func (e *Engine) reload(ctx context.Context, cfg *config.Config) error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil
	}
	e.cfg = cfg
	auth, serving := e.auth, e.server != nil
	e.mu.Unlock()

	if auth != nil {
		auth.Reload(cfg.Server.APIKeys)
	} else if serving && len(cfg.Server.APIKeys) > 0 {
		e.logger.Warn("api keys added after start are ignored until restart")
	}

	res, err := e.loadPlugins(ctx, cfg)
	if err != nil {
		return err
	}

	e.logger.Info("reload complete",
		slog.Int("plugins", e.registry.Len()),
		slog.Int("added", len(res.Registered)))
	return nil
}

func (e *Engine) isShutdown() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.shutdown
}

// newHost builds the host handle for a plugin being registered.
func (e *Engine) newHost(info plugin.Info) *plugin.Host {
	logger := e.logger.With(slog.String("plugin_id", info.ID))
	return &plugin.Host{
		Config: e.pluginConfig(info.ID, logger),
		Data:   e.data,
		Logger: logger,
		Bridge: e.bridge,
	}
}

// pluginConfig converts the configured settings for id. Values that have no
// metadata form are logged and dropped.
func (e *Engine) pluginConfig(id string, logger *slog.Logger) plugin.Metadata {
	md := plugin.Metadata{}

	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()
	if cfg == nil {
		return md
	}

	for key, raw := range cfg.Plugins.SettingsFor(id) {
		v, err := plugin.ValueOf(raw)
		if err != nil {
			logger.Warn("ignoring plugin setting",
				slog.String("key", key),
				slog.String("error", err.Error()))
			continue
		}
		md[key] = v
	}
	return md
}

// staticConfig is a ConfigProvider over a fixed configuration.
type staticConfig struct {
	cfg *config.Config
}

func (s staticConfig) Load(ctx context.Context) (*config.Config, error) { return s.cfg, nil }

func (s staticConfig) Watch(ctx context.Context, onChange func(*config.Config)) error { return nil }

func (s staticConfig) Close() error { return nil }
