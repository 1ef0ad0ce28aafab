// Package longterm implements the Long-Term Memory Layer L3 (C5): the bulk
// durable store with surprise filtering, decay-aware dense search via the
// vector store adapter (C3; its HybridSearch is not used here), and a
// recent-surprise ring buffer for O(1)
// momentum.
package longterm

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"cogmem/internal/model"
	"cogmem/internal/surprise"
	"cogmem/internal/vectorstore"
	"cogmem/internal/wire"
)

const (
	recentWindow  = 50
	ringSize      = 100
	pruneWindow   = 1000
	decayFloor    = 0.1
)

// Layer is the Long-Term memory store.
type Layer struct {
	store        vectorstore.VectorStore
	embedder     vectorstore.EmbeddingGenerator
	threshold    float64
	halfLifeDays float64
	filterOn     bool

	mu    sync.RWMutex
	cache map[string]model.MemoryEntry
	ring  []float64 // most-recent-first surprise scores, capped at ringSize
}

// New builds a Long-Term layer over the given vector store and embedder.
// threshold is the surprise score below which an entry is rejected
// (ghosted) when filterOn is true; halfLifeDays feeds the decay formula.
func New(store vectorstore.VectorStore, embedder vectorstore.EmbeddingGenerator, threshold, halfLifeDays float64, filterOn bool) *Layer {
	return &Layer{
		store:        store,
		embedder:     embedder,
		threshold:    threshold,
		halfLifeDays: halfLifeDays,
		filterOn:     filterOn,
		cache:        make(map[string]model.MemoryEntry),
	}
}

func (l *Layer) recentForSurprise(ctx context.Context) []surprise.Recent {
	results, err := l.store.GetRecent(ctx, recentWindow)
	if err != nil {
		log.Warn().Err(err).Msg("longterm: GetRecent failed, treating as no-prior-context")
		return nil
	}
	out := make([]surprise.Recent, 0, len(results))
	for _, r := range results {
		out = append(out, surprise.Recent{ID: r.ID, Content: r.Content})
	}
	return out
}

func (l *Layer) pushRing(score float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring = append([]float64{score}, l.ring...)
	if len(l.ring) > ringSize {
		l.ring = l.ring[:ringSize]
	}
}

// Store runs surprise filtering against the ≤50 most recent entries. A
// rejected entry (shouldStore=false, filtering enabled) is returned as a
// ghost — the caller observes the decision but nothing is persisted.
func (l *Layer) Store(ctx context.Context, entry model.MemoryEntry) (model.MemoryEntry, error) {
	if entry.ID == "" {
		entry.ID = wire.NewID("mem")
	}
	recent := l.recentForSurprise(ctx)
	sur := surprise.CalculateSurprise(entry.Content, recent, l.threshold)

	if !sur.ShouldStore && l.filterOn {
		ghost := entry
		ghost.ID = "ghost_" + entry.ID
		ghost.Layer = model.LayerLongTerm
		ghost.Metadata.SurpriseScore = sur.Score
		return ghost, nil
	}

	momentum := surprise.CalculateMomentum(l.snapshotRing(), 5)

	entry.Layer = model.LayerLongTerm
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Metadata.SurpriseScore = sur.Score
	entry.Metadata.Momentum = momentum
	entry.Metadata.CurrentDecay = 1
	entry.Metadata.LastAccessed = time.Now()

	l.mu.Lock()
	l.cache[entry.ID] = entry
	l.mu.Unlock()
	l.pushRing(sur.Score)

	vec, err := l.embedder.Embed(ctx, entry.Content)
	if err != nil {
		log.Warn().Err(err).Str("id", entry.ID).Msg("longterm: embed failed, cache remains authoritative")
		return entry, nil
	}
	if err := l.store.Insert(ctx, entry, vec); err != nil {
		log.Warn().Err(err).Str("id", entry.ID).Msg("longterm: write-through to vector store failed, cache remains authoritative")
	}
	return entry, nil
}

func (l *Layer) snapshotRing() []float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]float64, len(l.ring))
	copy(out, l.ring)
	return out
}

// QueryOptions controls Query's result shaping.
type QueryOptions struct {
	Limit          int
	IncludeDecayed bool
}

// scored pairs an entry with its decay-adjusted score for sorting.
type scored struct {
	entry          model.MemoryEntry
	currentDecay   float64
	effectiveScore float64
}

// Query asks the vector store for 2×limit candidates, applies current
// decay and surprise-weighted effective scoring, filters near-dead entries
// unless IncludeDecayed, and returns the top Limit.
func (l *Layer) Query(ctx context.Context, text string, opts QueryOptions) ([]model.MemoryEntry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	vec, err := l.embedder.Embed(ctx, text)
	if err != nil {
		log.Warn().Err(err).Msg("longterm: embed failed on query, returning empty")
		return nil, nil
	}
	results, err := l.store.Search(ctx, vec, 2*limit)
	if err != nil {
		log.Warn().Err(err).Msg("longterm: search failed, returning empty")
		return nil, nil
	}

	now := time.Now()
	scoredEntries := make([]scored, 0, len(results))
	for _, r := range results {
		entry := r.Entry
		lastAccessed := entry.Metadata.LastAccessed
		if lastAccessed.IsZero() {
			lastAccessed = entry.Timestamp
		}
		decay := surprise.CalculateDecay(entry.Timestamp, lastAccessed, l.halfLifeDays)
		if decay < decayFloor && !opts.IncludeDecayed {
			continue
		}
		entry.Metadata.CurrentDecay = decay
		effective := entry.Metadata.SurpriseScore * decay
		scoredEntries = append(scoredEntries, scored{entry: entry, currentDecay: decay, effectiveScore: effective})
	}
	_ = now

	sort.Slice(scoredEntries, func(i, j int) bool {
		return scoredEntries[i].effectiveScore > scoredEntries[j].effectiveScore
	})
	if len(scoredEntries) > limit {
		scoredEntries = scoredEntries[:limit]
	}
	out := make([]model.MemoryEntry, len(scoredEntries))
	for i, s := range scoredEntries {
		out[i] = s.entry
	}
	return out, nil
}

// PruneDecayed scans the ≤1000-entry recent window and deletes every entry
// whose current decay has fallen below threshold, returning the count
// removed.
func (l *Layer) PruneDecayed(ctx context.Context, threshold float64) (int, error) {
	results, err := l.store.GetRecent(ctx, pruneWindow)
	if err != nil {
		log.Warn().Err(err).Msg("longterm: PruneDecayed GetRecent failed")
		return 0, nil
	}
	removed := 0
	for _, r := range results {
		entry := r
		lastAccessed := entry.Metadata.LastAccessed
		if lastAccessed.IsZero() {
			lastAccessed = entry.Timestamp
		}
		decay := surprise.CalculateDecay(entry.Timestamp, lastAccessed, l.halfLifeDays)
		if decay < threshold {
			if err := l.store.Delete(ctx, entry.ID); err != nil {
				log.Warn().Err(err).Str("id", entry.ID).Msg("longterm: prune delete failed")
				continue
			}
			l.mu.Lock()
			delete(l.cache, entry.ID)
			l.mu.Unlock()
			removed++
		}
	}
	return removed, nil
}

// Get returns a cached copy of id, or nil if not present locally.
func (l *Layer) Get(id string) *model.MemoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if entry, ok := l.cache[id]; ok {
		return &entry
	}
	return nil
}

// Delete removes id from both the vector store and the local cache.
func (l *Layer) Delete(ctx context.Context, id string) error {
	err := l.store.Delete(ctx, id)
	l.mu.Lock()
	delete(l.cache, id)
	l.mu.Unlock()
	return err
}

// Count returns the number of entries the vector store reports.
func (l *Layer) Count(ctx context.Context) (int, error) {
	return l.store.Count(ctx)
}
