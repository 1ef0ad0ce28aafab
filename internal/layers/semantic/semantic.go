// Package semantic implements the Semantic Memory Layer L4 (C6):
// consolidated patterns with multi-tier update frequencies and LSH-based
// near-duplicate consolidation, grounded on internal/hashing's minhash/LSH
// primitives and internal/surprise's importance scoring.
package semantic

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"cogmem/internal/hashing"
	"cogmem/internal/model"
	"cogmem/internal/surprise"
	"cogmem/internal/wire"
)

// Frequency is one of the three update-frequency tiers a pattern is
// assigned on store, by its importance.
type Frequency string

const (
	FreqSlow   Frequency = "slow"
	FreqMedium Frequency = "medium"
	FreqFast   Frequency = "fast"
)

type freqConfig struct {
	HalfLifeDays      float64
	MinUpdateInterval time.Duration
	Weight            float64
}

var freqConfigs = map[Frequency]freqConfig{
	FreqSlow:   {HalfLifeDays: 365, MinUpdateInterval: 7 * 24 * time.Hour, Weight: 1.0},
	FreqMedium: {HalfLifeDays: 90, MinUpdateInterval: 24 * time.Hour, Weight: 0.8},
	FreqFast:   {HalfLifeDays: 30, MinUpdateInterval: time.Hour, Weight: 0.6},
}

func selectFrequency(importance float64) Frequency {
	switch {
	case importance > 0.7:
		return FreqSlow
	case importance > 0.4:
		return FreqMedium
	default:
		return FreqFast
	}
}

// Pattern is a consolidated semantic memory.
type Pattern struct {
	ID             string
	Content        string
	Frequency      Frequency
	UpdateCount    int
	LastUpdated    time.Time
	CreatedAt      time.Time
	ReasoningChain []string
	PatternType    string
	Importance     float64
	LSHSignatures  []string
}

// ToMemoryEntry adapts a Pattern into the shared model.MemoryEntry shape
// for the recall fuser, which ranks candidates from every layer uniformly.
func (p Pattern) ToMemoryEntry() model.MemoryEntry {
	return model.MemoryEntry{
		ID:        p.ID,
		Content:   p.Content,
		Layer:     model.LayerSemantic,
		Timestamp: p.CreatedAt,
		Metadata: model.Metadata{
			Extra: map[string]any{
				"patternType":    p.PatternType,
				"frequency":      string(p.Frequency),
				"updateCount":    p.UpdateCount,
				"reasoningChain": p.ReasoningChain,
				"importance":     p.Importance,
			},
		},
	}
}

// Layer holds all consolidated patterns.
type Layer struct {
	mu             sync.RWMutex
	patterns       map[string]*Pattern
	patternsByType map[string]map[string]struct{}
	lshIndex       map[string]map[string]struct{}
}

// New returns an empty Semantic layer.
func New() *Layer {
	return &Layer{
		patterns:       make(map[string]*Pattern),
		patternsByType: make(map[string]map[string]struct{}),
		lshIndex:       make(map[string]map[string]struct{}),
	}
}

const jaccardConsolidationThreshold = 0.8

// Store consolidates content into an existing pattern or creates a new
// one. Returns the resulting pattern and whether it was an update to a
// prior pattern (vs. newly created).
func (l *Layer) Store(ctx context.Context, content string, reasoningChain []string) (Pattern, bool) {
	_ = ctx
	now := time.Now()
	importance := surprise.ScoreImportance(content)
	freq := selectFrequency(importance)
	lsh := hashing.LSHSignatures(content, 10, 5)
	patternType := detectPatternType(content)
	if len(reasoningChain) == 0 {
		reasoningChain = extractReasoningChain(content)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	candidateIDs := l.bandCandidatesLocked(lsh)
	var match *Pattern
	var bestSim float64
	for id := range candidateIDs {
		p := l.patterns[id]
		if p == nil {
			continue
		}
		sim := hashing.ShingleJaccard(content, p.Content)
		if sim >= jaccardConsolidationThreshold && sim > bestSim {
			match, bestSim = p, sim
		}
	}

	if match != nil {
		cfg := freqConfigs[match.Frequency]
		if now.Sub(match.LastUpdated) >= cfg.MinUpdateInterval {
			l.unindexBandsLocked(match.ID, match.LSHSignatures)
			match.Content = mergeContent(match.Content, content)
			match.ReasoningChain = unionCapped(match.ReasoningChain, reasoningChain, 10)
			match.Importance = surprise.ScoreImportance(match.Content)
			match.Frequency = selectFrequency(match.Importance)
			match.LSHSignatures = hashing.LSHSignatures(match.Content, 10, 5)
			match.UpdateCount++
			match.LastUpdated = now
			l.indexBandsLocked(match.ID, match.LSHSignatures)
			return *match, true
		}
	}

	p := &Pattern{
		ID:             wire.NewID("pattern"),
		Content:        content,
		Frequency:      freq,
		UpdateCount:    0,
		LastUpdated:    now,
		CreatedAt:      now,
		ReasoningChain: capSlice(reasoningChain, 10),
		PatternType:    patternType,
		Importance:     importance,
		LSHSignatures:  lsh,
	}
	l.patterns[p.ID] = p
	l.indexBandsLocked(p.ID, p.LSHSignatures)
	byType, ok := l.patternsByType[p.PatternType]
	if !ok {
		byType = make(map[string]struct{})
		l.patternsByType[p.PatternType] = byType
	}
	byType[p.ID] = struct{}{}
	return *p, false
}

// mergeContent appends b to a with a separator, unless one already
// subsumes the other.
func mergeContent(a, b string) string {
	if strings.Contains(a, b) {
		return a
	}
	if strings.Contains(b, a) {
		return b
	}
	return a + "\n---\n" + b
}

func unionCapped(a, b []string, cap int) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return capSlice(out, cap)
}

func capSlice(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func (l *Layer) bandCandidatesLocked(bands []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, b := range bands {
		for id := range l.lshIndex[b] {
			out[id] = struct{}{}
		}
	}
	return out
}

func (l *Layer) indexBandsLocked(id string, bands []string) {
	for _, b := range bands {
		set, ok := l.lshIndex[b]
		if !ok {
			set = make(map[string]struct{})
			l.lshIndex[b] = set
		}
		set[id] = struct{}{}
	}
}

func (l *Layer) unindexBandsLocked(id string, bands []string) {
	for _, b := range bands {
		if set, ok := l.lshIndex[b]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(l.lshIndex, b)
			}
		}
	}
}

// scoredPattern pairs a pattern with its query score for ranking.
type scoredPattern struct {
	pattern Pattern
	score   float64
}

func (l *Layer) scoreAgainst(text string, candidateIDs map[string]struct{}) []scoredPattern {
	now := time.Now()
	out := make([]scoredPattern, 0, len(candidateIDs))
	for id := range candidateIDs {
		p := l.patterns[id]
		if p == nil {
			continue
		}
		sim := hashing.ShingleJaccard(text, p.Content)
		cfg := freqConfigs[p.Frequency]
		decay := surprise.CalculateDecay(p.CreatedAt, p.LastUpdated, cfg.HalfLifeDays)
		score := sim * cfg.Weight * decay * (1 + p.Importance)
		if score > 0.1 {
			out = append(out, scoredPattern{pattern: *p, score: score})
		}
	}
	_ = now
	sort.Slice(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// Query ranks stored patterns by similarity × frequencyWeight × decay ×
// (1+importance), keeping only scores above 0.1.
func (l *Layer) Query(ctx context.Context, text string, limit int) ([]Pattern, error) {
	_ = ctx
	lsh := hashing.LSHSignatures(text, 10, 5)
	l.mu.RLock()
	candidateIDs := l.bandCandidatesLocked(lsh)
	scored := l.scoreAgainst(text, candidateIDs)
	l.mu.RUnlock()

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]Pattern, len(scored))
	for i, s := range scored {
		out[i] = s.pattern
	}
	return out, nil
}

// QueryByType restricts Query to patterns of a single patternType.
func (l *Layer) QueryByType(ctx context.Context, patternType, text string, limit int) ([]Pattern, error) {
	_ = ctx
	l.mu.RLock()
	ids := l.patternsByType[patternType]
	scored := l.scoreAgainst(text, ids)
	l.mu.RUnlock()
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]Pattern, len(scored))
	for i, s := range scored {
		out[i] = s.pattern
	}
	return out, nil
}

// GetReasoningChain returns the reasoning chain of the pattern best
// matching topic, or nil if no pattern scores above the query floor.
func (l *Layer) GetReasoningChain(topic string) []string {
	matches, _ := l.Query(context.Background(), topic, 1)
	if len(matches) == 0 {
		return nil
	}
	return matches[0].ReasoningChain
}

// Get returns the pattern with id, or nil.
func (l *Layer) Get(id string) *Pattern {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.patterns[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// Delete removes a pattern from every index.
func (l *Layer) Delete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.patterns[id]
	if !ok {
		return
	}
	l.unindexBandsLocked(id, p.LSHSignatures)
	if byType, ok := l.patternsByType[p.PatternType]; ok {
		delete(byType, id)
	}
	delete(l.patterns, id)
}

// Count returns the number of consolidated patterns.
func (l *Layer) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.patterns)
}

// All returns every consolidated pattern, for the export snapshot.
func (l *Layer) All() []Pattern {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Pattern, 0, len(l.patterns))
	for _, p := range l.patterns {
		out = append(out, *p)
	}
	return out
}

// patternTypeFamily is the lowercase regex family spec.md §4.6 names for
// pattern-type detection, checked in a fixed priority order so content
// matching several categories still gets one deterministic label.
var patternTypeFamily = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"architecture", regexp.MustCompile(`(?i)\b(architecture|design pattern|module|component|layer|microservice)\b`)},
	{"debugging", regexp.MustCompile(`(?i)\b(bug|error|exception|stack trace|crash|debug|traceback)\b`)},
	{"preference", regexp.MustCompile(`(?i)\b(prefer|rather|instead of|favor|like to|dislike)\b`)},
	{"workflow", regexp.MustCompile(`(?i)\b(workflow|process|pipeline|step \d|procedure)\b`)},
	{"learning", regexp.MustCompile(`(?i)\b(learned|realized|discovered|insight|turns out)\b`)},
	{"api", regexp.MustCompile(`(?i)\b(endpoint|api|request|response|payload|http)\b`)},
	{"testing", regexp.MustCompile(`(?i)\b(test|assert|coverage|mock|fixture)\b`)},
}

func detectPatternType(content string) string {
	for _, pt := range patternTypeFamily {
		if pt.pattern.MatchString(content) {
			return pt.name
		}
	}
	return "general"
}

var (
	numberedStepRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+(.+)$`)
	causalRe       = regexp.MustCompile(`(?i)\b(because|therefore|thus|since|hence)\b`)
	conditionalRe  = regexp.MustCompile(`(?i)\bif\b.+\bthen\b`)
	sentenceSplit  = regexp.MustCompile(`[.!?]+\s+`)
)

// extractReasoningChain pulls numbered steps, causal-connective sentences,
// and conditional clauses out of content, capped at 10 entries.
func extractReasoningChain(content string) []string {
	var chain []string
	for _, m := range numberedStepRe.FindAllStringSubmatch(content, -1) {
		chain = append(chain, strings.TrimSpace(m[1]))
	}
	for _, sentence := range sentenceSplit.Split(content, -1) {
		s := strings.TrimSpace(sentence)
		if s == "" {
			continue
		}
		if causalRe.MatchString(s) || conditionalRe.MatchString(s) {
			chain = append(chain, s)
		}
	}
	return capSlice(chain, 10)
}
