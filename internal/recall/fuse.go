// Package recall implements the Recall Fuser & Highlighter (C9): concurrent
// per-layer querying, Reciprocal Rank Fusion (with an alternative
// arctan-normalized weighted strategy), utility reweighting, and an optional
// answer-highlighting stage with a remote→embedding→lexical fallback chain.
package recall

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"cogmem/internal/model"
)

// FusionStrategy selects how per-layer rank lists are combined.
type FusionStrategy string

const (
	FusionRRF      FusionStrategy = "rrf"
	FusionWeighted FusionStrategy = "weighted"
)

const defaultRRFConstant = 60

// UtilityProvider supplies the feedback-derived utility weight (§4.13) for a
// memory id. internal/feedback implements this; a nil provider disables
// reweighting (weight 1 for everything).
type UtilityProvider interface {
	UtilityScore(id string) float64
}

// Options tunes a single Recall call.
type Options struct {
	Limit       int
	Strategy    FusionStrategy // default FusionRRF
	RRFConstant int            // default 60
	Highlight   bool
	Utility     UtilityProvider
}

// Result is the C9 output shape.
type Result struct {
	FusedMemories        []model.MemoryEntry
	HighlightedSentences []string
	CompressionRate      float64
	TotalQueryTimeMs     int64
}

// Fuser queries a set of per-layer sources concurrently and fuses the
// results.
type Fuser struct {
	layers      map[model.Layer]LayerSource
	highlighter *Highlighter
}

// NewFuser builds a Fuser over the given layer adapters.
func NewFuser(layers map[model.Layer]LayerSource, highlighter *Highlighter) *Fuser {
	return &Fuser{layers: layers, highlighter: highlighter}
}

type rankedHit struct {
	entry model.MemoryEntry
	layer model.Layer
	rank  int // 1-based rank within its own layer's result list
}

// Recall issues the plan's suggested layers concurrently, fuses their
// result lists, reweights by utility, and optionally highlights.
func (f *Fuser) Recall(ctx context.Context, query string, plan Plan, opts Options) Result {
	start := time.Now()
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	perLayerLimit := limit * 2

	layers := plan.SuggestedLayers
	if len(layers) == 0 {
		for l := range f.layers {
			layers = append(layers, l)
		}
	}

	type layerResult struct {
		layer model.Layer
		hits  []model.MemoryEntry
	}
	results := make([]layerResult, len(layers))
	g, gctx := errgroup.WithContext(ctx)
	for i, l := range layers {
		i, l := i, l
		source, ok := f.layers[l]
		if !ok {
			continue
		}
		g.Go(func() error {
			hits, err := source.Query(gctx, query, perLayerLimit)
			if err != nil {
				log.Warn().Err(err).Str("layer", string(l)).Msg("recall: per-layer query failed, treating as empty")
				hits = nil
			}
			results[i] = layerResult{layer: l, hits: hits}
			return nil // a failed layer is treated as empty, not a group failure
		})
	}
	_ = g.Wait()

	perLayer := make(map[model.Layer][]model.MemoryEntry)
	for _, r := range results {
		if len(r.hits) == 0 {
			continue // empty per-layer results are ignored, not an error
		}
		perLayer[r.layer] = r.hits
	}

	fused := fuse(perLayer, opts)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	result := Result{
		FusedMemories:    fused,
		TotalQueryTimeMs: time.Since(start).Milliseconds(),
	}

	if opts.Highlight && f.highlighter != nil && len(fused) > 0 {
		sentences, totalLen, keptLen := f.highlighter.Highlight(ctx, query, fused)
		result.HighlightedSentences = sentences
		if totalLen > 0 {
			result.CompressionRate = float64(keptLen) / float64(totalLen)
		}
	}

	return result
}

// fuse collapses duplicate ids (keeping best rank), applies RRF or weighted
// fusion, tie-breaks by (higher importance, newer timestamp, smaller id),
// and applies utility reweighting.
func fuse(perLayer map[model.Layer][]model.MemoryEntry, opts Options) []model.MemoryEntry {
	type accum struct {
		entry     model.MemoryEntry
		bestRank  int
		fusedBase float64 // RRF sum or weighted sum, pre-utility
	}
	byID := make(map[string]*accum)
	k := opts.RRFConstant
	if k <= 0 {
		k = defaultRRFConstant
	}

	for _, hits := range perLayer {
		maxScore := 0.0
		for _, e := range hits {
			maxScore = math.Max(maxScore, importanceOf(e)+1)
		}
		for rank, e := range hits {
			r := rank + 1
			a, ok := byID[e.ID]
			if !ok {
				a = &accum{entry: e, bestRank: r}
				byID[e.ID] = a
			} else if r < a.bestRank {
				a.bestRank = r
				a.entry = e // keep the copy from its best-ranking layer
			}
			switch opts.Strategy {
			case FusionWeighted:
				// arctan-normalize rank position to [0,1): higher is better.
				norm := 1 - (2/math.Pi)*math.Atan(float64(r))
				a.fusedBase += norm
			default:
				a.fusedBase += 1.0 / float64(k+r)
			}
		}
	}

	out := make([]*accum, 0, len(byID))
	for _, a := range byID {
		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool {
		si := scoreWithUtility(out[i], opts.Utility)
		sj := scoreWithUtility(out[j], opts.Utility)
		if si != sj {
			return si > sj
		}
		ii, ij := importanceOf(out[i].entry), importanceOf(out[j].entry)
		if ii != ij {
			return ii > ij
		}
		ti, tj := out[i].entry.Timestamp, out[j].entry.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].entry.ID < out[j].entry.ID
	})

	entries := make([]model.MemoryEntry, len(out))
	for i, a := range out {
		entries[i] = a.entry
	}
	return entries
}

// scoreWithUtility applies the §4.13 reweighting formula
// score × (0.7 + 0.6·utilityScore). A nil provider or unset utility
// defaults the factor to 1 (utilityScore treated as 0.5).
func scoreWithUtility(a *accum, provider UtilityProvider) float64 {
	utility := 0.5
	if provider != nil {
		utility = provider.UtilityScore(a.entry.ID)
	}
	return a.fusedBase * (0.7 + 0.6*utility)
}

// importanceOf derives a generic importance signal from whatever metadata
// the originating layer attached — the semantic layer stashes it under
// Extra["importance"]; entries without it fall back to SurpriseScore.
func importanceOf(e model.MemoryEntry) float64 {
	if e.Metadata.Extra != nil {
		if v, ok := e.Metadata.Extra["importance"]; ok {
			if f, ok := v.(float64); ok {
				return f
			}
		}
	}
	return e.Metadata.SurpriseScore
}
