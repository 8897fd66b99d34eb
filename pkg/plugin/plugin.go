package plugin

import (
	"context"
	"log/slog"
)

// Info identifies a plugin. ID must be unique within an engine and stable
// across releases of the plugin.
type Info struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description"`
	Author      string `json:"author,omitempty" yaml:"author"`
}

// Plugin is the interface every extension unit implements.
//
// Initialize is called exactly once when the plugin is registered and
// Shutdown exactly once when the engine tears down. Between the two, the
// hooks may be called concurrently by independent dispatches, so
// implementations that keep state must synchronize it.
type Plugin interface {
	// Info returns the plugin identity.
	Info() Info

	// Initialize prepares the plugin. A non-nil error keeps the plugin out
	// of the registry.
	Initialize(ctx context.Context, host *Host) error

	// BeforeRequest observes or rewrites an outgoing request.
	BeforeRequest(ctx context.Context, req RequestContext) (RequestContext, error)

	// AfterResponse observes or rewrites an incoming response.
	AfterResponse(ctx context.Context, resp ResponseContext) (ResponseContext, error)

	// Shutdown releases plugin resources.
	Shutdown(ctx context.Context) error
}

// Host is the capability set handed to a plugin on Initialize.
type Host struct {
	// Config holds the plugin's own configuration values.
	Config Metadata

	// Data is a key-value store shared by every plugin of one engine.
	Data Store

	// Logger is tagged with the plugin id.
	Logger *slog.Logger

	// Bridge is the host's handle to the assistant backend. The engine
	// passes it through without interpreting it.
	Bridge any
}

// Store is a concurrency-safe key-value surface.
type Store interface {
	Get(key string) (Value, bool)
	Set(key string, v Value)
	Delete(key string)
	Keys() []string
}

// Base provides pass-through defaults for every Plugin method except Info
// identity, which it stores. Embed it and override what you need.
type Base struct {
	meta Info
	host *Host
}

// NewBase returns a Base carrying the given identity.
func NewBase(info Info) Base {
	return Base{meta: info}
}

// Info returns the identity passed to NewBase.
func (b *Base) Info() Info { return b.meta }

// Initialize records the host so embedding plugins can reach it via Host.
func (b *Base) Initialize(ctx context.Context, host *Host) error {
	b.host = host
	return nil
}

// Host returns the host recorded by Initialize, or nil before it ran.
func (b *Base) Host() *Host { return b.host }

// Logger returns the host logger, falling back to slog.Default.
func (b *Base) Logger() *slog.Logger {
	if b.host != nil && b.host.Logger != nil {
		return b.host.Logger
	}
	return slog.Default()
}

func (b *Base) BeforeRequest(ctx context.Context, req RequestContext) (RequestContext, error) {
	return req, nil
}

func (b *Base) AfterResponse(ctx context.Context, resp ResponseContext) (ResponseContext, error) {
	return resp, nil
}

func (b *Base) Shutdown(ctx context.Context) error { return nil }

// Factory constructs one plugin instance.
type Factory func() (Plugin, error)

// Module is a named set of plugin factories, the unit the loader works with.
type Module struct {
	Name      string
	Factories []Factory
}

// NewModule builds a Module from constructors that cannot fail.
func NewModule(name string, ctors ...func() Plugin) Module {
	m := Module{Name: name, Factories: make([]Factory, 0, len(ctors))}
	for _, ctor := range ctors {
		m.Factories = append(m.Factories, func() (Plugin, error) {
			return ctor(), nil
		})
	}
	return m
}
