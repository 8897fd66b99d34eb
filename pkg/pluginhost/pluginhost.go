// Package pluginhost provides the public API for embedding the plugin
// engine. This is the stable API for external consumers.
package pluginhost

import (
	"github.com/barrersoftware/copilot-plugin-system/internal/core/domain"
	"github.com/barrersoftware/copilot-plugin-system/internal/loader"
	"github.com/barrersoftware/copilot-plugin-system/internal/registration"
	"github.com/barrersoftware/copilot-plugin-system/internal/registry"
	"github.com/barrersoftware/copilot-plugin-system/internal/runtime"
)

// Engine hosts plugins: it registers, dispatches to and tears them down.
// See internal/runtime.Engine for full documentation.
type Engine = runtime.Engine

// Option is a functional option for configuring an Engine.
type Option = runtime.Option

// Summary describes a registered plugin.
type Summary = registry.Summary

// DiscoveryResult summarizes one discovery pass.
type DiscoveryResult = loader.Result

// Builtin is a named in-process module that manifests can reference.
type Builtin = loader.Builtin

// New creates a new Engine with the given options.
// Example:
//
//	eng, err := pluginhost.New(
//	    pluginhost.WithFileConfig("config.yaml"),
//	    pluginhost.WithSQLiteEvents("./data/events.db"),
//	)
var New = runtime.New

// RegisterBuiltins adds the bundled plugins to the module catalog.
var RegisterBuiltins = registration.RegisterBuiltins

// RegisterModule adds a module to the catalog used by builtin manifests.
var RegisterModule = loader.RegisterModule

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfig         = runtime.WithConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Events
	WithEventStore     = runtime.WithEventStore
	WithSQLiteEvents   = runtime.WithSQLiteEvents
	WithMemoryEvents   = runtime.WithMemoryEvents
	WithEventsConfig   = runtime.WithEventsConfig
	WithEventPublisher = runtime.WithEventPublisher

	// Host integration
	WithLogger    = runtime.WithLogger
	WithBridge    = runtime.WithBridge
	WithPluginDir = runtime.WithPluginDir
	WithServer    = runtime.WithServer
)

// Registration errors, for use with errors.Is.
var (
	ErrDuplicateID            = domain.ErrDuplicateID
	ErrRegistrationInProgress = domain.ErrRegistrationInProgress
	ErrTornDown               = domain.ErrTornDown
	ErrClosed                 = domain.ErrClosed
)
