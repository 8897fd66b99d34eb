// Package registry holds the ordered set of initialized plugins.
//
// Writers (Register, UnregisterAll) serialize on a mutex and publish an
// immutable snapshot; dispatchers read the snapshot without locking, so a
// chain in flight keeps the plugin list it started with. Dispatchers bracket
// each hook call with Entry.Acquire and Entry.Release, and UnregisterAll
// waits for those calls before shutting an entry down, so a plugin is never
// invoked after its Shutdown has started.
//
// Every plugin in the registry has had exactly one successful Initialize.
// UnregisterAll detaches all entries before shutting them down, so each of
// them receives exactly one Shutdown. A registration whose Initialize
// overlaps a teardown shuts its own plugin down instead of inserting it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/barrersoftware/copilot-plugin-system/internal/core/domain"
	"github.com/barrersoftware/copilot-plugin-system/internal/core/ports"
	"github.com/barrersoftware/copilot-plugin-system/internal/metrics"
	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

// Registration sources.
const (
	SourceManual    = "manual"
	SourceDiscovery = "discovery"
	SourceWebhook   = "webhook"
)

// Entry is a registered plugin.
type Entry struct {
	Plugin       plugin.Plugin
	Info         plugin.Info
	Order        int
	Source       string
	RegisteredAt time.Time

	mu       sync.Mutex
	detached bool
	active   sync.WaitGroup
}

// Acquire marks a hook call on the entry as in progress. It reports false
// once the entry has been detached by UnregisterAll, in which case the
// plugin must not be called. Each successful Acquire needs one Release.
func (e *Entry) Acquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return false
	}
	e.active.Add(1)
	return true
}

// Release ends a hook call started with Acquire.
func (e *Entry) Release() {
	e.active.Done()
}

func (e *Entry) detach() {
	e.mu.Lock()
	e.detached = true
	e.mu.Unlock()
}

// drain waits for in-flight hook calls. It reports false if ctx ended first.
func (e *Entry) drain(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		e.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Summary is the read-only view of an entry returned by List.
type Summary struct {
	plugin.Info
	Order        int       `json:"order"`
	Source       string    `json:"source"`
	RegisteredAt time.Time `json:"registered_at"`
}

// HostFactory builds the host handle passed to a plugin's Initialize.
type HostFactory func(info plugin.Info) *plugin.Host

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries []*Entry
	byID    map[string]*Entry
	pending map[string]struct{}
	seq     int
	// gen advances on every UnregisterAll.
	gen    uint64
	closed bool

	snap atomic.Pointer[[]*Entry]

	host   HostFactory
	events ports.EventPublisher
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithHostFactory sets how host handles are built for new plugins.
func WithHostFactory(f HostFactory) Option {
	return func(r *Registry) {
		if f != nil {
			r.host = f
		}
	}
}

// WithEventPublisher sets the lifecycle event sink.
func WithEventPublisher(p ports.EventPublisher) Option {
	return func(r *Registry) {
		if p != nil {
			r.events = p
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byID:    make(map[string]*Entry),
		pending: make(map[string]struct{}),
		events:  ports.NopPublisher{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.host == nil {
		logger := r.logger
		r.host = func(info plugin.Info) *plugin.Host {
			return &plugin.Host{Config: plugin.Metadata{}, Logger: logger.With(slog.String("plugin_id", info.ID))}
		}
	}
	empty := []*Entry{}
	r.snap.Store(&empty)
	return r
}

// Register initializes p and appends it to the registry.
//
// A duplicate id returns ErrDuplicateID without calling Initialize, and an
// id whose registration is still initializing returns
// ErrRegistrationInProgress. An Initialize failure or panic returns an
// *InitError and leaves the registry unchanged. If UnregisterAll or Close
// runs while Initialize is in progress, the plugin is shut down and
// ErrTornDown or ErrClosed is returned.
func (r *Registry) Register(ctx context.Context, p plugin.Plugin, source string) error {
	info, err := PluginInfo(p)
	if err != nil {
		return err
	}
	if source == "" {
		source = SourceManual
	}
	log := r.logger.With(slog.String("plugin_id", info.ID), slog.String("source", source))

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrClosed, info.ID)
	}
	if _, inFlight := r.pending[info.ID]; inFlight {
		r.mu.Unlock()
		log.Warn("plugin registration already in progress, skipping")
		r.publish(ctx, domain.EventPluginDuplicate, info.ID, source, domain.ErrRegistrationInProgress.Error())
		return fmt.Errorf("%w: %s", domain.ErrRegistrationInProgress, info.ID)
	}
	if _, exists := r.byID[info.ID]; exists {
		r.mu.Unlock()
		log.Warn("plugin already registered, skipping")
		r.publish(ctx, domain.EventPluginDuplicate, info.ID, source, "")
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, info.ID)
	}
	r.pending[info.ID] = struct{}{}
	gen := r.gen
	r.mu.Unlock()

	host := r.host(info)
	err = domain.Guard(func() error { return p.Initialize(ctx, host) })

	r.mu.Lock()
	delete(r.pending, info.ID)
	if err != nil {
		r.mu.Unlock()
		log.Error("plugin initialization failed", slog.String("error", err.Error()))
		r.publish(ctx, domain.EventPluginInitFailed, info.ID, source, err.Error())
		return &domain.InitError{PluginID: info.ID, Err: err}
	}
	if r.closed || r.gen != gen {
		reason := domain.ErrTornDown
		if r.closed {
			reason = domain.ErrClosed
		}
		r.mu.Unlock()
		log.Warn("registry torn down while plugin was initializing, shutting it down")
		r.shutdown(ctx, p, info.ID, source)
		return fmt.Errorf("%w: %s", reason, info.ID)
	}

	r.seq++
	entry := &Entry{
		Plugin:       p,
		Info:         info,
		Order:        r.seq,
		Source:       source,
		RegisteredAt: time.Now().UTC(),
	}
	r.entries = append(r.entries, entry)
	r.byID[info.ID] = entry
	n := r.storeSnapshotLocked()
	r.mu.Unlock()

	metrics.RegisteredPlugins.Set(float64(n))
	log.Info("plugin registered",
		slog.String("name", info.Name),
		slog.String("version", info.Version))
	r.publish(ctx, domain.EventPluginRegistered, info.ID, source, "")
	return nil
}

// PluginInfo reads p's identity. A nil plugin, an empty id, or a panic in
// Info (including one from a typed nil pointer) yields ErrInvalidPlugin.
func PluginInfo(p plugin.Plugin) (plugin.Info, error) {
	if p == nil {
		return plugin.Info{}, fmt.Errorf("%w: nil plugin", domain.ErrInvalidPlugin)
	}
	var info plugin.Info
	if err := domain.Guard(func() error {
		info = p.Info()
		return nil
	}); err != nil {
		return plugin.Info{}, fmt.Errorf("%w: info: %v", domain.ErrInvalidPlugin, err)
	}
	if info.ID == "" {
		return plugin.Info{}, fmt.Errorf("%w: empty id", domain.ErrInvalidPlugin)
	}
	return info, nil
}

// UnregisterAll detaches every plugin and shuts each down once, in
// registration order, after its in-flight hook calls have returned. If ctx
// ends while a hook is still running, the plugin is shut down anyway.
// Shutdown failures are logged, published and returned but never stop the
// sweep. Calling it on an empty registry is a no-op.
func (r *Registry) UnregisterAll(ctx context.Context) []error {
	r.mu.Lock()
	detached := r.entries
	r.entries = nil
	r.byID = make(map[string]*Entry)
	r.gen++
	for _, e := range detached {
		e.detach()
	}
	r.storeSnapshotLocked()
	r.mu.Unlock()

	if len(detached) == 0 {
		return nil
	}
	metrics.RegisteredPlugins.Set(0)

	var errs []error
	for _, e := range detached {
		if !e.drain(ctx) {
			r.logger.Warn("plugin hooks still running at shutdown",
				slog.String("plugin_id", e.Info.ID))
		}
		if err := r.shutdown(ctx, e.Plugin, e.Info.ID, e.Source); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Close rejects further registrations, then unregisters everything.
func (r *Registry) Close(ctx context.Context) []error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.UnregisterAll(ctx)
}

func (r *Registry) shutdown(ctx context.Context, p plugin.Plugin, id, source string) error {
	log := r.logger.With(slog.String("plugin_id", id))
	if err := domain.Guard(func() error { return p.Shutdown(ctx) }); err != nil {
		log.Error("plugin shutdown failed", slog.String("error", err.Error()))
		r.publish(ctx, domain.EventPluginShutdownFailed, id, source, err.Error())
		return domain.NewHookError(id, domain.HookShutdown, err)
	}
	log.Info("plugin shut down")
	r.publish(ctx, domain.EventPluginShutdown, id, source, "")
	return nil
}

// Lookup returns the plugin registered under id.
func (r *Registry) Lookup(id string) (plugin.Plugin, bool) {
	for _, e := range r.Snapshot() {
		if e.Info.ID == id {
			return e.Plugin, true
		}
	}
	return nil, false
}

// Snapshot returns the current entries in registration order. The slice
// must not be modified.
func (r *Registry) Snapshot() []*Entry {
	return *r.snap.Load()
}

// List returns summaries of the registered plugins in registration order.
func (r *Registry) List() []Summary {
	snap := r.Snapshot()
	out := make([]Summary, len(snap))
	for i, e := range snap {
		out[i] = Summary{Info: e.Info, Order: e.Order, Source: e.Source, RegisteredAt: e.RegisteredAt}
	}
	return out
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	return len(r.Snapshot())
}

func (r *Registry) storeSnapshotLocked() int {
	snap := make([]*Entry, len(r.entries))
	copy(snap, r.entries)
	r.snap.Store(&snap)
	return len(snap)
}

func (r *Registry) publish(ctx context.Context, t domain.LifecycleEventType, pluginID, source, msg string) {
	if err := r.events.Publish(ctx, domain.NewEvent(t, pluginID, source, msg)); err != nil {
		r.logger.Warn("failed to publish lifecycle event",
			slog.String("type", string(t)),
			slog.String("error", err.Error()))
	}
}

// IsDuplicate reports whether err came from registering a duplicate id.
func IsDuplicate(err error) bool {
	return errors.Is(err, domain.ErrDuplicateID)
}
