package recall

import (
	"context"

	"cogmem/internal/intent"
	"cogmem/internal/model"
)

// LayerSource is the narrow query capability every memory layer adapter
// exposes to the fuser — each layer's native Query signature differs, so
// the engine (C10) wires a small per-layer closure satisfying this
// interface rather than the fuser depending on every layer package.
type LayerSource interface {
	Query(ctx context.Context, text string, limit int) ([]model.MemoryEntry, error)
}

// Plan is the router's per-query output: which layers to query, which one
// is authoritative on a tie, and how to search.
type Plan struct {
	SuggestedLayers []model.Layer
	PriorityLayer   model.Layer
	SearchStrategy  intent.SearchStrategy
}

// PlanFromClassification adapts an intent.Classification into a Plan.
func PlanFromClassification(c intent.Classification) Plan {
	return Plan{
		SuggestedLayers: c.SuggestedLayers,
		PriorityLayer:   c.PriorityLayer,
		SearchStrategy:  c.SearchStrategy,
	}
}
