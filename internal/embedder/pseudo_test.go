package embedder

import (
	"context"
	"math"
	"testing"
)

func TestPseudoEmbedDeterministic(t *testing.T) {
	p := NewPseudo(64)
	v1, err := p.Embed(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	v2, err := p.Embed(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v1) != 64 {
		t.Fatalf("len(v1) = %d, want 64", len(v1))
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("Embed not deterministic at index %d: %v != %v", i, v1[i], v2[i])
		}
	}
}

func TestPseudoEmbedNormalized(t *testing.T) {
	p := NewPseudo(32)
	v, err := p.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1) > 1e-3 {
		t.Errorf("||v|| = %v, want ~1", norm)
	}
}

func TestPseudoEmbedDistinctTextsDiffer(t *testing.T) {
	p := NewPseudo(128)
	a, _ := p.Embed(context.Background(), "postgres durability guarantees")
	b, _ := p.Embed(context.Background(), "kafka event streaming semantics")
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if dot > 0.9 {
		t.Errorf("unrelated texts cosine = %v, want well below 1", dot)
	}
}

func TestPseudoEmbedEmptyText(t *testing.T) {
	p := NewPseudo(16)
	v, err := p.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed(\"\") returned error: %v", err)
	}
	if len(v) != 16 {
		t.Fatalf("len(v) = %d, want 16", len(v))
	}
}

func TestPseudoDimensionsDefault(t *testing.T) {
	p := NewPseudo(0)
	if p.Dimensions() != 1024 {
		t.Errorf("Dimensions() = %d, want default 1024", p.Dimensions())
	}
}
