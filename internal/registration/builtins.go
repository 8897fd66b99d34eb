// Package registration wires the bundled plugins into the loader catalog.
package registration

import (
	"sync"

	"github.com/barrersoftware/copilot-plugin-system/internal/loader"
	"github.com/barrersoftware/copilot-plugin-system/internal/plugins/analytics"
	"github.com/barrersoftware/copilot-plugin-system/internal/plugins/safety"
)

var once sync.Once

// RegisterBuiltins adds the bundled plugin modules to the loader catalog so
// manifests can reference them by id. It is intended to be called from cmd
// and tests before discovery; repeated calls are no-ops.
func RegisterBuiltins() {
	once.Do(func() {
		loader.RegisterModule(loader.Builtin{
			Name:        safety.ID,
			Description: "Blocks destructive shell commands and redacts credentials",
			Module:      safety.Module,
		})
		loader.RegisterModule(loader.Builtin{
			Name:        analytics.ID,
			Description: "Counts turns and token usage and reports periodic insights",
			Module:      analytics.Module,
		})
	})
}
