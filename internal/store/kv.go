package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/AregGevorgyan/tomatocode/internal/config"
	"github.com/AregGevorgyan/tomatocode/pkg/types"
)

// Adapter is the pluggable persistence backend. The store serializes the
// full session document per mutation; durability level is a deployment
// choice, not a correctness requirement.
type Adapter interface {
	Put(ctx context.Context, code string, doc *types.Session) error
	Get(ctx context.Context, code string) (*types.Session, error)
	Delete(ctx context.Context, code string) error
	Close() error
}

// OpenAdapter builds the adapter selected by KV_BACKEND. An empty
// backend returns (nil, nil): persistence disabled.
func OpenAdapter(ctx context.Context, cfg config.KVConfig, logger *zap.Logger) (Adapter, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "redis":
		return newRedisAdapter(ctx, cfg, logger)
	case "sqlite":
		return newSQLiteAdapter(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unknown KV backend %q", cfg.Backend)
	}
}
