package loader

import (
	"fmt"
	"path/filepath"
	goplugin "plugin"

	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

// GoPluginExtension is the extension of shared objects built with
// go build -buildmode=plugin.
const GoPluginExtension = ".so"

// ModuleSymbol is the symbol a Go plugin must export. It may be a variable
// of type plugin.Module or a func() plugin.Module.
const ModuleSymbol = "Module"

// OpenGoPlugin loads a Go plugin and reads its Module symbol. The shared
// object must be built with the same toolchain and module versions as the
// host.
func OpenGoPlugin(path string) (plugin.Module, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return plugin.Module{}, err
	}
	sym, err := p.Lookup(ModuleSymbol)
	if err != nil {
		return plugin.Module{}, err
	}

	mod, err := moduleFromSymbol(sym)
	if err != nil {
		return plugin.Module{}, err
	}
	if mod.Name == "" {
		mod.Name = filepath.Base(path)
	}
	return mod, nil
}

func moduleFromSymbol(sym goplugin.Symbol) (plugin.Module, error) {
	switch m := sym.(type) {
	case *plugin.Module:
		if m == nil {
			return plugin.Module{}, fmt.Errorf("symbol %s is nil", ModuleSymbol)
		}
		return *m, nil
	case plugin.Module:
		return m, nil
	case func() plugin.Module:
		return m(), nil
	case *func() plugin.Module:
		return (*m)(), nil
	default:
		return plugin.Module{}, fmt.Errorf("symbol %s has type %T, want plugin.Module or func() plugin.Module", ModuleSymbol, sym)
	}
}
