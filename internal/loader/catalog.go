package loader

import (
	"fmt"
	"sort"
	"sync"

	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

// Builtin is a plugin module compiled into the host. Manifests refer to it
// by Name.
//
// Built-ins are added explicitly at startup:
//
//	loader.RegisterModule(loader.Builtin{
//	    Name:        "copilot.safety",
//	    Description: "Blocks destructive shell commands",
//	    Module:      safety.Module,
//	})
type Builtin struct {
	Name        string
	Description string
	Module      func() plugin.Module
}

var (
	catalogMu   sync.RWMutex
	catalogMap  = make(map[string]Builtin)
	catalogList []Builtin
)

// RegisterModule adds a built-in module to the catalog.
// Panics if the name is empty, Module is nil, or the name is taken.
func RegisterModule(b Builtin) {
	catalogMu.Lock()
	defer catalogMu.Unlock()

	if b.Name == "" {
		panic("builtin module name cannot be empty")
	}
	if b.Module == nil {
		panic(fmt.Sprintf("builtin module %q must have a Module function", b.Name))
	}
	if _, exists := catalogMap[b.Name]; exists {
		panic(fmt.Sprintf("builtin module %q already registered", b.Name))
	}

	catalogMap[b.Name] = b
	catalogList = append(catalogList, b)
}

// GetModule returns the built-in module registered under name.
func GetModule(name string) (Builtin, bool) {
	catalogMu.RLock()
	defer catalogMu.RUnlock()

	b, ok := catalogMap[name]
	return b, ok
}

// ListModules returns all built-in modules sorted by name.
func ListModules() []Builtin {
	catalogMu.RLock()
	defer catalogMu.RUnlock()

	out := make([]Builtin, len(catalogList))
	copy(out, catalogList)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ModuleNames returns the names of all built-in modules, sorted.
func ModuleNames() []string {
	mods := ListModules()
	names := make([]string, len(mods))
	for i, m := range mods {
		names[i] = m.Name
	}
	return names
}

// ClearModules empties the catalog (for testing only).
func ClearModules() {
	catalogMu.Lock()
	defer catalogMu.Unlock()

	catalogMap = make(map[string]Builtin)
	catalogList = nil
}
