package longterm

import (
	"context"
	"testing"
	"time"

	"cogmem/internal/embedder"
	"cogmem/internal/model"
	"cogmem/internal/vectorstore"
)

func newTestLayer(threshold float64, filterOn bool) *Layer {
	store := vectorstore.NewMemoryVector()
	emb := embedder.NewPseudo(64)
	return New(store, emb, threshold, 180, filterOn)
}

func TestStoreNovelEntryPersists(t *testing.T) {
	l := newTestLayer(0.3, true)
	entry, err := l.Store(context.Background(), model.MemoryEntry{Content: "we decided to use postgres for durability"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !entry.Stored() {
		t.Fatalf("expected entry to be stored, got ghost id %q", entry.ID)
	}
	if entry.Metadata.SurpriseScore <= 0 {
		t.Errorf("expected positive surprise score, got %v", entry.Metadata.SurpriseScore)
	}
}

func TestStoreDuplicateIsGhostedWhenFilteringOn(t *testing.T) {
	l := newTestLayer(0.9, true)
	ctx := context.Background()
	content := "the same exact sentence repeated verbatim for a duplicate check"
	first, err := l.Store(ctx, model.MemoryEntry{Content: content})
	if err != nil {
		t.Fatalf("Store first: %v", err)
	}
	if !first.Stored() {
		t.Fatalf("first store should not be ghosted")
	}
	second, err := l.Store(ctx, model.MemoryEntry{Content: content})
	if err != nil {
		t.Fatalf("Store second: %v", err)
	}
	if second.Stored() {
		t.Errorf("expected duplicate content to be ghosted, got stored entry %+v", second)
	}
}

func TestQueryFiltersDecayedUnlessIncluded(t *testing.T) {
	l := newTestLayer(0.1, false)
	ctx := context.Background()
	entry, err := l.Store(ctx, model.MemoryEntry{Content: "ancient fact about old deployments"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	// Force the cached entry far into the past so decay collapses below the floor.
	stale := entry
	stale.Timestamp = time.Now().Add(-100 * 365 * 24 * time.Hour)
	stale.Metadata.LastAccessed = stale.Timestamp
	l.mu.Lock()
	l.cache[entry.ID] = stale
	l.mu.Unlock()
	if err := l.store.Delete(ctx, entry.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	vec, _ := l.embedder.Embed(ctx, stale.Content)
	if err := l.store.Insert(ctx, stale, vec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := l.Query(ctx, "ancient fact about old deployments", QueryOptions{Limit: 5})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, r := range results {
		if r.ID == entry.ID {
			t.Errorf("expected decayed entry %q to be filtered out by default", entry.ID)
		}
	}

	withDecayed, err := l.Query(ctx, "ancient fact about old deployments", QueryOptions{Limit: 5, IncludeDecayed: true})
	if err != nil {
		t.Fatalf("Query includeDecayed: %v", err)
	}
	found := false
	for _, r := range withDecayed {
		if r.ID == entry.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("expected decayed entry to appear when IncludeDecayed=true")
	}
}

func TestPruneDecayedRemovesStaleEntries(t *testing.T) {
	l := newTestLayer(0.1, false)
	ctx := context.Background()
	entry, err := l.Store(ctx, model.MemoryEntry{Content: "something to prune eventually"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	stale := entry
	stale.Timestamp = time.Now().Add(-10 * 365 * 24 * time.Hour)
	stale.Metadata.LastAccessed = stale.Timestamp
	if err := l.store.Delete(ctx, entry.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	vec, _ := l.embedder.Embed(ctx, stale.Content)
	if err := l.store.Insert(ctx, stale, vec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	removed, err := l.PruneDecayed(ctx, 0.5)
	if err != nil {
		t.Fatalf("PruneDecayed: %v", err)
	}
	if removed != 1 {
		t.Errorf("PruneDecayed removed = %d, want 1", removed)
	}
}
