// Package plugin defines the contract between the Copilot plugin engine and
// independently authored plugins.
//
// # Plugins
//
// A plugin implements Plugin. Most plugins embed Base, which supplies
// pass-through defaults, and override the hooks they care about:
//
//	type Greeter struct {
//	    plugin.Base
//	}
//
//	func New() plugin.Plugin {
//	    return &Greeter{Base: plugin.NewBase(plugin.Info{
//	        ID:      "example.greeter",
//	        Name:    "Greeter",
//	        Version: "1.0.0",
//	    })}
//	}
//
//	func (g *Greeter) BeforeRequest(ctx context.Context, req plugin.RequestContext) (plugin.RequestContext, error) {
//	    req.Prompt = "Please be polite. " + req.Prompt
//	    return req, nil
//	}
//
// # Dispatch
//
// The engine folds a RequestContext through every registered plugin in
// registration order before the request reaches the assistant backend, and a
// ResponseContext through every plugin after the response comes back. Each
// plugin receives its own copy of the accumulated context; only a context
// returned with a nil error is carried forward. Setting Cancel on a request
// stops the before-request chain.
//
// # Modules
//
// Plugins are packaged as modules: a Module is a named list of factories.
// Loadable modules (Go plugins, Lua scripts, YAML manifests) are turned into
// Modules by the engine's loader; Go code can build Modules directly.
package plugin
