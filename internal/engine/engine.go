// Package engine implements the Memory Engine Facade (C10): the single
// entry point the rest of the system (HTTP/gRPC handlers, the coordination
// server, CLI tooling) uses to read and write memory. It owns routing
// policy for untyped writes and fans out reads across layers via the
// recall fuser.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"cogmem/internal/feedback"
	"cogmem/internal/intent"
	"cogmem/internal/layers/episodic"
	"cogmem/internal/layers/factual"
	"cogmem/internal/layers/longterm"
	"cogmem/internal/layers/semantic"
	"cogmem/internal/model"
	"cogmem/internal/recall"
	"cogmem/internal/wire"
)

// EventSink receives engine-originated events (currently just
// "memory.added") for fan-out to coordination-server subscribers. The
// coordination server implements this; a nil sink disables the hook.
type EventSink interface {
	Emit(eventType string, payload any)
}

// Engine wires every memory layer, the feedback tracker, and the recall
// fuser behind the facade spec.md §4.10 names.
type Engine struct {
	Factual  *factual.Layer
	LongTerm *longterm.Layer
	Semantic *semantic.Layer
	Episodic *episodic.Layer
	Feedback *feedback.Tracker

	fuser  *recall.Fuser
	events EventSink
}

// New assembles an Engine from its already-constructed layers. highlighter
// may be nil to disable the answer-highlighting stage.
func New(f *factual.Layer, lt *longterm.Layer, sem *semantic.Layer, epi *episodic.Layer, fb *feedback.Tracker, highlighter *recall.Highlighter) *Engine {
	e := &Engine{Factual: f, LongTerm: lt, Semantic: sem, Episodic: epi, Feedback: fb}
	e.fuser = recall.NewFuser(e.layerSources(), highlighter)
	return e
}

// SetEventSink wires the coordination server's subscription fan-out. Calling
// this after New is fine; the facade reads e.events on every write.
func (e *Engine) SetEventSink(sink EventSink) {
	e.events = sink
}

// layerSources adapts every concrete layer's native Query signature to
// recall.LayerSource, since each layer's Query method differs in shape.
func (e *Engine) layerSources() map[model.Layer]recall.LayerSource {
	return map[model.Layer]recall.LayerSource{
		model.LayerFactual:  factualSource{e.Factual},
		model.LayerLongTerm: longTermSource{e.LongTerm},
		model.LayerSemantic: semanticSource{e.Semantic},
		model.LayerEpisodic: episodicSource{e.Episodic},
	}
}

type factualSource struct{ l *factual.Layer }

func (s factualSource) Query(ctx context.Context, text string, limit int) ([]model.MemoryEntry, error) {
	return s.l.Query(ctx, text, limit)
}

type longTermSource struct{ l *longterm.Layer }

func (s longTermSource) Query(ctx context.Context, text string, limit int) ([]model.MemoryEntry, error) {
	return s.l.Query(ctx, text, longterm.QueryOptions{Limit: limit})
}

type semanticSource struct{ l *semantic.Layer }

func (s semanticSource) Query(ctx context.Context, text string, limit int) ([]model.MemoryEntry, error) {
	patterns, err := s.l.Query(ctx, text, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.MemoryEntry, len(patterns))
	for i, p := range patterns {
		out[i] = p.ToMemoryEntry()
	}
	return out, nil
}

type episodicSource struct{ l *episodic.Layer }

func (s episodicSource) Query(ctx context.Context, text string, limit int) ([]model.MemoryEntry, error) {
	return s.l.Query(ctx, text, episodic.QueryOptions{Limit: limit})
}

// --- add routing (spec.md §4.10) -------------------------------------------

var (
	definitionRe = regexp.MustCompile(`(?i)\b(is defined as|definition of|means that|refers to|constant|default value|config(uration)? value|api key|set to \d)\b`)
	eventRe      = regexp.MustCompile(`(?i)\b(happened|occurred|just (deployed|shipped|merged|ran)|today we|yesterday we|at \d{1,2}:\d{2}|deployed|logged|started running|finished running)\b`)
	patternRe    = regexp.MustCompile(`(?i)\b(pattern|recurring|architecture|design pattern|because|therefore|workflow|approach|best practice)\b`)
)

// ClassifyContent applies the fixed priority order spec.md §4.10 names:
// definitions/constants → L2 (factual), event narratives → L5 (episodic),
// pattern/reasoning content → L4 (semantic), else → L3 (long-term).
func ClassifyContent(content string) model.Layer {
	switch {
	case definitionRe.MatchString(content):
		return model.LayerFactual
	case eventRe.MatchString(content):
		return model.LayerEpisodic
	case patternRe.MatchString(content):
		return model.LayerSemantic
	default:
		return model.LayerLongTerm
	}
}

// Add classifies content and routes it to the appropriate layer, then
// emits a memory.added event once the write commits.
func (e *Engine) Add(ctx context.Context, content string, meta model.Metadata) (model.MemoryEntry, error) {
	layer := ClassifyContent(content)
	return e.AddToLayer(ctx, layer, content, meta)
}

// AddToLayer stores content directly in the named layer, bypassing
// ClassifyContent's routing policy.
func (e *Engine) AddToLayer(ctx context.Context, layer model.Layer, content string, meta model.Metadata) (model.MemoryEntry, error) {
	var (
		entry model.MemoryEntry
		err   error
	)
	switch layer {
	case model.LayerFactual:
		entry = model.MemoryEntry{ID: wire.NewID("mem"), Content: content, Layer: layer, Timestamp: time.Now(), Metadata: meta}
		err = e.Factual.Store(ctx, entry)
	case model.LayerEpisodic:
		ep := e.Episodic.Store(ctx, content, meta.SessionID, meta.ProjectID, meta.Tags, sourceOrDefault(meta.Source))
		entry = ep.ToMemoryEntry()
	case model.LayerSemantic:
		p, _ := e.Semantic.Store(ctx, content, nil)
		entry = p.ToMemoryEntry()
	case model.LayerLongTerm:
		entry, err = e.LongTerm.Store(ctx, model.MemoryEntry{Content: content, Metadata: meta})
	default:
		return model.MemoryEntry{}, fmt.Errorf("engine: unsupported layer %q", layer)
	}
	if err != nil {
		return entry, err
	}
	e.emit("memory.added", map[string]any{
		"id": entry.ID, "layer": string(layer),
		"projectId": meta.ProjectID, "tags": meta.Tags, "senderAgentId": meta.AgentID,
	})
	return entry, nil
}

func sourceOrDefault(s model.Source) model.Source {
	if s == "" {
		return model.SourceAuto
	}
	return s
}

func (e *Engine) emit(eventType string, payload any) {
	if e.events == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Str("event_type", eventType).Msg("engine: event sink panicked, ignoring")
		}
	}()
	e.events.Emit(eventType, payload)
}

// --- recall ------------------------------------------------------------

// DetectQueryIntent classifies query without performing a recall.
func (e *Engine) DetectQueryIntent(query string) intent.Classification {
	return intent.DetectIntent(query)
}

// Recall classifies the query's intent, builds a per-layer plan, and fuses
// results via the recall package.
func (e *Engine) Recall(ctx context.Context, query string, opts recall.Options) recall.Result {
	classification := intent.DetectIntent(query)
	plan := recall.PlanFromClassification(classification)
	if opts.Utility == nil && e.Feedback != nil {
		opts.Utility = e.Feedback
	}
	return e.fuser.Recall(ctx, query, plan, opts)
}

// --- point lookups -------------------------------------------------------

// Get tries every layer in turn and returns the first match.
func (e *Engine) Get(ctx context.Context, id string) (*model.MemoryEntry, error) {
	if entry, err := e.Factual.Get(ctx, id); err != nil {
		return nil, err
	} else if entry != nil {
		return entry, nil
	}
	if entry := e.LongTerm.Get(id); entry != nil {
		return entry, nil
	}
	if p := e.Semantic.Get(id); p != nil {
		entry := p.ToMemoryEntry()
		return &entry, nil
	}
	if ep := e.Episodic.Get(id); ep != nil {
		entry := ep.ToMemoryEntry()
		return &entry, nil
	}
	return nil, nil
}

// Delete removes id from whichever layer owns it.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if entry, _ := e.Factual.Get(ctx, id); entry != nil {
		return e.Factual.Delete(ctx, id)
	}
	if entry := e.LongTerm.Get(id); entry != nil {
		return e.LongTerm.Delete(ctx, id)
	}
	if p := e.Semantic.Get(id); p != nil {
		e.Semantic.Delete(id)
		return nil
	}
	if ep := e.Episodic.Get(id); ep != nil {
		e.Episodic.Delete(id)
		return nil
	}
	return nil
}

// Prune runs the Long-Term layer's decay-based prune with its default
// threshold (0.1, the decay floor) — the only layer spec.md §4.10 names an
// explicit prune sweep for.
func (e *Engine) Prune(ctx context.Context) (int, error) {
	return e.LongTerm.PruneDecayed(ctx, 0.1)
}

// --- episodic passthrough ------------------------------------------------

// FlushPreCompaction delegates to the Episodic layer.
func (e *Engine) FlushPreCompaction(ctx context.Context, sessionID, projectID string, decisions, errs, solutions, importantInsights []string) []episodic.Entry {
	entries := e.Episodic.FlushPreCompaction(ctx, sessionID, projectID, decisions, errs, solutions, importantInsights)
	for _, en := range entries {
		e.emit("memory.added", map[string]any{
			"id": en.ID, "layer": string(model.LayerEpisodic),
			"projectId": en.ProjectID, "tags": en.Tags,
		})
	}
	return entries
}

// GetToday delegates to the Episodic layer.
func (e *Engine) GetToday() []episodic.Entry {
	return e.Episodic.GetToday()
}

// SummarizeDay delegates to the Episodic layer.
func (e *Engine) SummarizeDay(t time.Time) map[string][]string {
	return e.Episodic.SummarizeDay(t)
}

// --- feedback --------------------------------------------------------------

// RecordFeedback delegates to the feedback tracker.
func (e *Engine) RecordFeedback(memoryID string, signal feedback.Signal, sessionID string) float64 {
	return e.Feedback.RecordFeedback(memoryID, signal, sessionID)
}

// --- export ----------------------------------------------------------------

// Export builds the gzip-compressed tar snapshot (facts.db, patterns.json,
// the episodic day logs and a generated MEMORY.md; see buildSnapshot) and
// returns it in a buffer. It does not upload anything itself.
func (e *Engine) Export(ctx context.Context) (*bytes.Buffer, error) {
	return buildSnapshot(e)
}
