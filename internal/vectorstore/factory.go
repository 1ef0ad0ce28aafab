package vectorstore

import (
	"context"
	"fmt"

	"cogmem/internal/config"
)

// New constructs a VectorStore for one collection from config.VectorConfig.
// collection is project_id+layer_tag (spec.md §4.3); every layer shares the
// same backend selection but gets its own collection/table.
func New(ctx context.Context, cfg config.VectorConfig, collection string) (VectorStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryVector(), nil
	case "qdrant":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("vector backend qdrant requires a DSN")
		}
		return NewQdrantVector(cfg.DSN, collection, cfg.Dimensions, cfg.Metric)
	case "postgres", "pgvector", "pg":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("vector backend postgres requires a DSN")
		}
		pool, err := newPgPool(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return NewPostgresVector(pool, collection, cfg.Dimensions, cfg.Metric), nil
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", cfg.Backend)
	}
}
