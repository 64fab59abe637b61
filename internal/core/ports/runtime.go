package ports

import (
	"context"

	"github.com/tjfontaine/polyglot-relay/internal/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based with hot reload (default), static.
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}
