package engine

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"path/filepath"
	"testing"

	"cogmem/internal/embedder"
	"cogmem/internal/feedback"
	"cogmem/internal/layers/episodic"
	"cogmem/internal/layers/factual"
	"cogmem/internal/layers/longterm"
	"cogmem/internal/layers/semantic"
	"cogmem/internal/model"
	"cogmem/internal/recall"
	"cogmem/internal/vectorstore"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	f, err := factual.Open(filepath.Join(t.TempDir(), "facts.db"), 100_000)
	if err != nil {
		t.Fatalf("factual.Open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	lt := longterm.New(vectorstore.NewMemoryVector(), embedder.NewPseudo(64), 0.1, 180, false)
	sem := semantic.New()
	epi := episodic.New()
	fb := feedback.New()
	return New(f, lt, sem, epi, fb, nil)
}

func TestClassifyContentRoutesByCategory(t *testing.T) {
	cases := map[string]model.Layer{
		"the API key is defined as sk-test-12345":                 model.LayerFactual,
		"yesterday we deployed the service to production at 9:00": model.LayerEpisodic,
		"this is a recurring architecture pattern we use":         model.LayerSemantic,
		"just some ordinary note about the weather":               model.LayerLongTerm,
	}
	for content, want := range cases {
		if got := ClassifyContent(content); got != want {
			t.Errorf("ClassifyContent(%q) = %q, want %q", content, got, want)
		}
	}
}

func TestAddRoutesAndEmitsEvent(t *testing.T) {
	e := newTestEngine(t)
	var emitted []string
	e.SetEventSink(sinkFunc(func(eventType string, payload any) {
		emitted = append(emitted, eventType)
	}))

	entry, err := e.Add(context.Background(), "the config value default_timeout is defined as 30s", model.Metadata{})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if entry.Layer != model.LayerFactual {
		t.Errorf("Layer = %q, want factual", entry.Layer)
	}
	if len(emitted) != 1 || emitted[0] != "memory.added" {
		t.Errorf("emitted = %v, want [memory.added]", emitted)
	}
}

type sinkFunc func(eventType string, payload any)

func (f sinkFunc) Emit(eventType string, payload any) { f(eventType, payload) }

func TestGetAndDeleteAcrossLayers(t *testing.T) {
	e := newTestEngine(t)
	entry, err := e.AddToLayer(context.Background(), model.LayerFactual, "fact about the staging hostname", model.Metadata{})
	if err != nil {
		t.Fatalf("AddToLayer: %v", err)
	}
	got, err := e.Get(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.ID != entry.ID {
		t.Fatalf("Get = %+v, want entry %q", got, entry.ID)
	}
	if err := e.Delete(context.Background(), entry.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err = e.Get(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}
}

func TestRecallReturnsFusedResults(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.AddToLayer(ctx, model.LayerFactual, "the deployment hostname is staging.internal.example", model.Metadata{}); err != nil {
		t.Fatalf("AddToLayer: %v", err)
	}
	result := e.Recall(ctx, "what is the deployment hostname", recall.Options{Limit: 5})
	if result.TotalQueryTimeMs < 0 {
		t.Errorf("TotalQueryTimeMs = %d", result.TotalQueryTimeMs)
	}
}

func TestRecordFeedbackAffectsUtility(t *testing.T) {
	e := newTestEngine(t)
	got := e.RecordFeedback("mem1", feedback.SignalHelpful, "sess1")
	if got != 1 {
		t.Errorf("utility after single helpful signal = %v, want 1", got)
	}
}

func TestExportProducesValidTarGz(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.AddToLayer(ctx, model.LayerFactual, "a fact to export", model.Metadata{}); err != nil {
		t.Fatalf("AddToLayer: %v", err)
	}
	e.Episodic.AppendNotebook("conventions", "use structured logging everywhere")

	buf, err := e.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	gz, err := gzip.NewReader(buf)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar.Next: %v", err)
		}
		names = append(names, hdr.Name)
	}
	foundFacts, foundMemory := false, false
	for _, n := range names {
		if n == "facts.db" {
			foundFacts = true
		}
		if n == "MEMORY.md" {
			foundMemory = true
		}
	}
	if !foundFacts {
		t.Errorf("expected facts.db in archive, got %v", names)
	}
	if !foundMemory {
		t.Errorf("expected MEMORY.md in archive, got %v", names)
	}
}
