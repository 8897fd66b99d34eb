// Package loader discovers plugin modules in a directory and registers the
// plugins they construct.
//
// A module is any file whose extension has an opener: YAML manifests that
// name a built-in module or declare a webhook, Lua scripts, and Go plugins
// built with -buildmode=plugin. Files are visited in lexical order, which
// fixes registration order and therefore dispatch order.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/barrersoftware/copilot-plugin-system/internal/core/domain"
	"github.com/barrersoftware/copilot-plugin-system/internal/core/ports"
	"github.com/barrersoftware/copilot-plugin-system/internal/luaplugin"
	"github.com/barrersoftware/copilot-plugin-system/internal/registry"
	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

// ModuleOpener turns a file into a plugin module.
type ModuleOpener func(path string) (plugin.Module, error)

// Registrar accepts constructed plugins. *registry.Registry satisfies it.
type Registrar interface {
	Register(ctx context.Context, p plugin.Plugin, source string) error
}

// Result summarizes one discovery pass.
type Result struct {
	// Registered lists the ids registered by this pass, in order.
	Registered []string
	// Duplicates lists ids skipped because they were already registered.
	Duplicates []string
	// Failures lists modules or plugins that could not be loaded.
	Failures []*domain.DiscoveryError
}

// Loader discovers modules and hands their plugins to a Registrar.
type Loader struct {
	registrar Registrar
	openers   map[string]ModuleOpener
	events    ports.EventPublisher
	logger    *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithOpener handles files with extension ext (including the dot) using
// open, replacing any existing opener for it.
func WithOpener(ext string, open ModuleOpener) Option {
	return func(l *Loader) {
		l.openers[strings.ToLower(ext)] = open
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithEventPublisher(p ports.EventPublisher) Option {
	return func(l *Loader) {
		if p != nil {
			l.events = p
		}
	}
}

// New returns a Loader with openers for manifests, Lua scripts and Go
// plugins.
func New(r Registrar, opts ...Option) *Loader {
	l := &Loader{
		registrar: r,
		openers: map[string]ModuleOpener{
			".yaml":             OpenManifest,
			".yml":              OpenManifest,
			luaplugin.Extension: luaplugin.Open,
			GoPluginExtension:   OpenGoPlugin,
		},
		events: ports.NopPublisher{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Extensions returns the handled file extensions, sorted.
func (l *Loader) Extensions() []string {
	out := make([]string, 0, len(l.openers))
	for ext := range l.openers {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Discover loads every module in dir and registers its plugins.
//
// A missing dir is logged and yields an empty result. Broken modules,
// failing factories and plugins whose Initialize fails are recorded in
// Result.Failures and skipped. The returned error is reserved for an
// unreadable dir and for ctx cancellation, in which case the partial result
// is returned with it.
func (l *Loader) Discover(ctx context.Context, dir string) (*Result, error) {
	res := &Result{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("plugin directory not found, nothing to load",
				slog.String("dir", dir),
				slog.String("error", domain.ErrMissingLocation.Error()))
			return res, nil
		}
		return res, fmt.Errorf("read plugin directory: %w", err)
	}

	// os.ReadDir sorts by filename.
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		open, ok := l.openers[strings.ToLower(filepath.Ext(name))]
		if !ok {
			l.logger.Debug("ignoring file without a module opener", slog.String("file", name))
			continue
		}
		l.loadModule(ctx, filepath.Join(dir, name), open, res)
	}

	l.logger.Info("plugin discovery complete",
		slog.String("dir", dir),
		slog.Int("registered", len(res.Registered)),
		slog.Int("duplicates", len(res.Duplicates)),
		slog.Int("failures", len(res.Failures)))
	return res, nil
}

// LoadModule registers the plugins of an already opened module, as
// Discover does for each file.
func (l *Loader) LoadModule(ctx context.Context, mod plugin.Module) *Result {
	res := &Result{}
	l.register(ctx, mod.Name, mod, res)
	return res
}

func (l *Loader) loadModule(ctx context.Context, path string, open ModuleOpener, res *Result) {
	var mod plugin.Module
	err := domain.Guard(func() error {
		var err error
		mod, err = open(path)
		return err
	})
	if err != nil {
		l.fail(ctx, res, path, err)
		return
	}
	l.register(ctx, path, mod, res)
}

func (l *Loader) register(ctx context.Context, path string, mod plugin.Module, res *Result) {
	if len(mod.Factories) == 0 {
		l.fail(ctx, res, path, errors.New("module exports no plugin factories"))
		return
	}

	for i, factory := range mod.Factories {
		if factory == nil {
			l.fail(ctx, res, path, fmt.Errorf("factory %d is nil", i))
			continue
		}
		var p plugin.Plugin
		err := domain.Guard(func() error {
			var err error
			p, err = factory()
			return err
		})
		if err == nil && p == nil {
			err = fmt.Errorf("factory %d returned no plugin", i)
		}
		if err != nil {
			l.fail(ctx, res, path, fmt.Errorf("factory %d: %w", i, err))
			continue
		}
		info, err := registry.PluginInfo(p)
		if err != nil {
			l.fail(ctx, res, path, fmt.Errorf("factory %d: %w", i, err))
			continue
		}

		id := info.ID
		switch err := l.registrar.Register(ctx, p, registry.SourceDiscovery); {
		case err == nil:
			res.Registered = append(res.Registered, id)
		case errors.Is(err, domain.ErrDuplicateID):
			res.Duplicates = append(res.Duplicates, id)
		default:
			// The registry already logged and published the failure.
			res.Failures = append(res.Failures, &domain.DiscoveryError{Path: path, Err: err})
		}
	}
}

func (l *Loader) fail(ctx context.Context, res *Result, path string, err error) {
	de := &domain.DiscoveryError{Path: path, Err: err}
	res.Failures = append(res.Failures, de)
	l.logger.Error("failed to load plugin module",
		slog.String("path", path),
		slog.String("error", err.Error()))
	if perr := l.events.Publish(context.WithoutCancel(ctx), domain.NewEvent(domain.EventDiscoveryFailed, "", registry.SourceDiscovery, de.Error())); perr != nil {
		l.logger.Debug("failed to publish discovery event", slog.String("error", perr.Error()))
	}
}
