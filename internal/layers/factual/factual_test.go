package factual

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cogmem/internal/model"
)

func newTestLayer(t *testing.T) *Layer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facts.db")
	l, err := Open(path, 100_000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestStoreAndQuery(t *testing.T) {
	l := newTestLayer(t)
	ctx := context.Background()

	entry := model.MemoryEntry{
		ID:        "fact_1",
		Content:   "The API key is sk-test-12345",
		Layer:     model.LayerFactual,
		Timestamp: time.Now(),
	}
	if err := l.Store(ctx, entry); err != nil {
		t.Fatalf("Store: %v", err)
	}

	results, err := l.Query(ctx, "What is the API key?", 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	found := false
	for _, r := range results {
		if r.ID == "fact_1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected fact_1 among results, got %+v", results)
	}
}

func TestGetMissingReturnsNilNoError(t *testing.T) {
	l := newTestLayer(t)
	entry, err := l.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Get: unexpected error %v", err)
	}
	if entry != nil {
		t.Errorf("expected nil entry, got %+v", entry)
	}
}

func TestDeleteRemovesFromIndexAndCount(t *testing.T) {
	l := newTestLayer(t)
	ctx := context.Background()
	entry := model.MemoryEntry{ID: "fact_2", Content: "some fact here", Timestamp: time.Now()}
	if err := l.Store(ctx, entry); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if n, _ := l.Count(ctx); n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
	if err := l.Delete(ctx, "fact_2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := l.Count(ctx); n != 0 {
		t.Fatalf("Count after delete = %d, want 0", n)
	}
	got, _ := l.Get(ctx, "fact_2")
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}
}

func TestIndexSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.db")
	l1, err := Open(path, 100_000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	entry := model.MemoryEntry{ID: "fact_3", Content: "durable across restarts", Timestamp: time.Now()}
	if err := l1.Store(context.Background(), entry); err != nil {
		t.Fatalf("Store: %v", err)
	}
	l1.Close()

	l2, err := Open(path, 100_000)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	got, err := l2.Get(context.Background(), "fact_3")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got == nil || got.Content != entry.Content {
		t.Fatalf("got %+v, want content %q to survive reopen", got, entry.Content)
	}
}
