package episodic

import (
	"context"
	"testing"
	"time"

	"cogmem/internal/model"
)

func TestStoreAndGetToday(t *testing.T) {
	l := New()
	e := l.Store(context.Background(), "deployed the new service to staging", "sess1", "proj1", []string{"decision"}, model.SourceAuto)
	if e.ID == "" {
		t.Fatal("expected a non-empty id")
	}
	today := l.GetToday()
	if len(today) != 1 || today[0].ID != e.ID {
		t.Fatalf("GetToday = %+v, want single entry %q", today, e.ID)
	}
}

func TestFlushPreCompactionTagsCategories(t *testing.T) {
	l := New()
	entries := l.FlushPreCompaction(context.Background(), "sess1", "proj1",
		[]string{"we decided to use redis for caching"},
		[]string{"the deploy failed with a timeout"},
		[]string{"fixed it by increasing the timeout"},
		[]string{"turns out the default timeout was too low"},
	)
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}
	wantTags := map[string]bool{"decision": false, "error": false, "solution": false, "learning": false}
	for _, e := range entries {
		if len(e.Tags) < 2 || e.Tags[0] != "pre-compaction" {
			t.Errorf("entry %q tags = %v, want [pre-compaction, <category>]", e.ID, e.Tags)
			continue
		}
		wantTags[e.Tags[1]] = true
	}
	for tag, seen := range wantTags {
		if !seen {
			t.Errorf("expected a %q-tagged pre-compaction entry", tag)
		}
	}
}

func TestQueryFindsMatchingEntry(t *testing.T) {
	l := New()
	l.Store(context.Background(), "the database migration script failed because of a missing column", "s1", "p1", nil, model.SourceAuto)
	l.Store(context.Background(), "unrelated content about lunch plans", "s1", "p1", nil, model.SourceAuto)

	results, err := l.Query(context.Background(), "database migration script failed because of a missing column", QueryOptions{Limit: 5})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	found := false
	for _, r := range results {
		if r.Content == "the database migration script failed because of a missing column" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the migration entry in results, got %+v", results)
	}
}

func TestQueryFiltersByProjectAndTag(t *testing.T) {
	l := New()
	l.Store(context.Background(), "project alpha decided to switch to postgres for storage", "s1", "alpha", []string{"decision"}, model.SourceAuto)
	l.Store(context.Background(), "project beta decided to switch to postgres for storage", "s1", "beta", []string{"decision"}, model.SourceAuto)

	results, err := l.Query(context.Background(), "switch to postgres for storage", QueryOptions{Limit: 5, ProjectID: "alpha", Tags: []string{"decision"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, r := range results {
		if r.Metadata.ProjectID != "alpha" {
			t.Errorf("got result from project %q, want only alpha", r.Metadata.ProjectID)
		}
	}
}

func TestNotebookQueryBoost(t *testing.T) {
	l := New()
	l.AppendNotebook("conventions", "always use structured logging with zerolog across every service")
	results, err := l.Query(context.Background(), "structured logging with zerolog across services", QueryOptions{Limit: 5})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	found := false
	for _, r := range results {
		if r.Metadata.HasTag("curated") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the curated notebook entry to surface, got %+v", results)
	}
}

func TestDeleteTombstonesEntry(t *testing.T) {
	l := New()
	e := l.Store(context.Background(), "something to delete", "s1", "p1", nil, model.SourceAuto)
	if l.Count() != 1 {
		t.Fatalf("Count = %d, want 1", l.Count())
	}
	l.Delete(e.ID)
	if l.Count() != 0 {
		t.Errorf("Count after delete = %d, want 0", l.Count())
	}
	if l.Get(e.ID) != nil {
		t.Error("expected Get to return nil after delete")
	}
	if len(l.GetToday()) != 0 {
		t.Errorf("expected tombstoned entry to be excluded from GetToday, got %+v", l.GetToday())
	}
}

func TestSummarizeDayGroupsByTag(t *testing.T) {
	l := New()
	l.Store(context.Background(), "decided to use grpc for internal services", "s1", "p1", []string{"decision"}, model.SourceAuto)
	l.Store(context.Background(), "hit a nil pointer error in the handler", "s1", "p1", []string{"error"}, model.SourceAuto)

	summary := l.SummarizeDay(time.Now())
	if len(summary["decision"]) != 1 {
		t.Errorf("decision group = %v, want 1 entry", summary["decision"])
	}
	if len(summary["error"]) != 1 {
		t.Errorf("error group = %v, want 1 entry", summary["error"])
	}
}
