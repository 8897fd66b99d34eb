package ports

import (
	"context"

	"github.com/barrersoftware/copilot-plugin-system/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based (default), static for embedding hosts.
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}
