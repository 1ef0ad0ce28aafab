// Package vectorstore defines the pluggable nearest-neighbor backend used by
// every memory layer (C3). Implementations return backend errors to the
// caller; the long-term layer is what fails soft, logging a failed read and
// treating it as an empty result, and keeping a failed write in its
// in-memory cache.
package vectorstore

import (
	"context"
	"time"

	"cogmem/internal/model"
)

// RerankStrategy selects how HybridSearch combines dense and sparse signals.
type RerankStrategy string

const (
	RerankRRF      RerankStrategy = "rrf"
	RerankWeighted RerankStrategy = "weighted"
)

// HybridOpts tunes HybridSearch per spec.md §4.3.
type HybridOpts struct {
	RerankStrategy RerankStrategy
	RRFConstant    int
	DenseWeight    float64
	SparseWeight   float64
	FilterExpr     string
	BM25K1         float64
	BM25B          float64
}

// DefaultHybridOpts returns the spec.md §4.3 defaults.
func DefaultHybridOpts() HybridOpts {
	return HybridOpts{
		RerankStrategy: RerankRRF,
		RRFConstant:    60,
		DenseWeight:    0.5,
		SparseWeight:   0.5,
		BM25K1:         1.2,
		BM25B:          0.75,
	}
}

// Result is a single nearest-neighbor hit. Score is similarity: higher is
// closer, regardless of the underlying distance metric.
type Result struct {
	Entry model.MemoryEntry
	Score float64
}

// VectorStore is the capability set named by spec.md §4.3: initialize,
// insert, search, hybridSearch (optional), get, getRecent, delete, count,
// close. One instance always addresses exactly one collection; the caller
// derives the collection name from project_id+layer_tag and picks a store
// per layer.
type VectorStore interface {
	Initialize(ctx context.Context) error
	Insert(ctx context.Context, entry model.MemoryEntry, vector []float32) error
	Search(ctx context.Context, vector []float32, k int) ([]Result, error)
	// HybridSearch combines the dense vector search with a sparse/lexical
	// signal. Backends that can't score lexically fall back to Search.
	HybridSearch(ctx context.Context, vector []float32, text string, k int, opts HybridOpts) ([]Result, error)
	Get(ctx context.Context, id string) (model.MemoryEntry, bool, error)
	GetRecent(ctx context.Context, k int) ([]model.MemoryEntry, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// EmbeddingGenerator maps text to a fixed-dimension vector. internal/embedder
// supplies a deterministic pseudo-embedding for offline mode and a real
// OpenAI-backed implementation.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// record is the shape in-process backends keep alongside the vector, so Get
// and GetRecent can reconstruct a model.MemoryEntry without depending on an
// external store for the authoritative copy.
type record struct {
	entry     model.MemoryEntry
	vector    []float32
	insertSeq int64
}

func (r record) insertedAt() time.Time { return r.entry.Timestamp }
