package recall

import (
	"context"
	"testing"
	"time"

	"cogmem/internal/model"
)

type staticSource struct {
	entries []model.MemoryEntry
	err     error
}

func (s staticSource) Query(ctx context.Context, text string, limit int) ([]model.MemoryEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.entries) {
		return s.entries[:limit], nil
	}
	return s.entries, nil
}

func entry(id string, ts time.Time) model.MemoryEntry {
	return model.MemoryEntry{ID: id, Content: "content for " + id, Timestamp: ts}
}

func TestRecallFusesAcrossLayers(t *testing.T) {
	now := time.Now()
	layers := map[model.Layer]LayerSource{
		model.LayerFactual:  staticSource{entries: []model.MemoryEntry{entry("a", now), entry("b", now)}},
		model.LayerLongTerm: staticSource{entries: []model.MemoryEntry{entry("b", now), entry("c", now)}},
	}
	f := NewFuser(layers, nil)
	plan := Plan{SuggestedLayers: []model.Layer{model.LayerFactual, model.LayerLongTerm}}
	result := f.Recall(context.Background(), "query text", plan, Options{Limit: 10})

	if len(result.FusedMemories) != 3 {
		t.Fatalf("FusedMemories = %v, want 3 distinct ids", result.FusedMemories)
	}
	// "b" appears in both lists at rank 1 and rank 2, so it should fuse to
	// the top (RRF sums across lists).
	if result.FusedMemories[0].ID != "b" {
		t.Errorf("top fused result = %q, want %q (appears in both lists)", result.FusedMemories[0].ID, "b")
	}
}

func TestRecallIgnoresEmptyLayerResults(t *testing.T) {
	now := time.Now()
	layers := map[model.Layer]LayerSource{
		model.LayerFactual:  staticSource{entries: []model.MemoryEntry{entry("a", now)}},
		model.LayerSemantic: staticSource{entries: nil},
	}
	f := NewFuser(layers, nil)
	plan := Plan{SuggestedLayers: []model.Layer{model.LayerFactual, model.LayerSemantic}}
	result := f.Recall(context.Background(), "q", plan, Options{Limit: 10})
	if len(result.FusedMemories) != 1 {
		t.Fatalf("FusedMemories = %v, want 1", result.FusedMemories)
	}
}

func TestRecallTimeRecordedEvenWhenEmpty(t *testing.T) {
	layers := map[model.Layer]LayerSource{
		model.LayerFactual: staticSource{entries: nil},
	}
	f := NewFuser(layers, nil)
	plan := Plan{SuggestedLayers: []model.Layer{model.LayerFactual}}
	result := f.Recall(context.Background(), "q", plan, Options{Limit: 10})
	if len(result.FusedMemories) != 0 {
		t.Errorf("expected no fused memories")
	}
	if result.TotalQueryTimeMs < 0 {
		t.Errorf("TotalQueryTimeMs = %d, want >= 0", result.TotalQueryTimeMs)
	}
}

type fixedUtility struct{ scores map[string]float64 }

func (f fixedUtility) UtilityScore(id string) float64 {
	if v, ok := f.scores[id]; ok {
		return v
	}
	return 0.5
}

func TestRecallUtilityReweightingChangesOrder(t *testing.T) {
	now := time.Now()
	layers := map[model.Layer]LayerSource{
		model.LayerFactual: staticSource{entries: []model.MemoryEntry{entry("low", now), entry("high", now.Add(-time.Hour))}},
	}
	f := NewFuser(layers, nil)
	plan := Plan{SuggestedLayers: []model.Layer{model.LayerFactual}}
	util := fixedUtility{scores: map[string]float64{"low": 0.0, "high": 1.0}}
	result := f.Recall(context.Background(), "q", plan, Options{Limit: 10, Utility: util})
	if result.FusedMemories[0].ID != "high" {
		t.Errorf("top result = %q, want %q after utility reweighting", result.FusedMemories[0].ID, "high")
	}
}

func TestHighlightLexicalFallback(t *testing.T) {
	h := NewHighlighter(nil, nil)
	candidates := []model.MemoryEntry{
		{ID: "1", Content: "The database migration failed last night. Everything else was fine."},
	}
	sentences, total, kept := h.Highlight(context.Background(), "database migration failed", candidates)
	if len(sentences) == 0 {
		t.Fatal("expected at least one highlighted sentence")
	}
	if total == 0 || kept == 0 {
		t.Errorf("total=%d kept=%d, want both > 0", total, kept)
	}
}
