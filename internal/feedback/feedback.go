// Package feedback implements Feedback & Utility (C13): idempotent
// helpful/harmful signal recording, utility-score computation, and the
// prune-by-utility/retrieval-reweighting policies derived from it. The
// tracker satisfies internal/recall's UtilityProvider interface directly.
package feedback

import (
	"sync"
	"time"
)

// Signal is one of the two feedback kinds a caller can record against a
// memory id.
type Signal string

const (
	SignalHelpful Signal = "helpful"
	SignalHarmful Signal = "harmful"
)

const defaultPruneThreshold = 0.4

// stats is the per-memory feedback tally.
type stats struct {
	helpful      int
	harmful      int
	lastHelpful  time.Time
	lastHarmful  time.Time
	utilityScore float64
}

func (s stats) total() int { return s.helpful + s.harmful }

func computeUtility(s stats) float64 {
	if s.total() == 0 {
		return 0.5
	}
	return float64(s.helpful) / float64(s.total())
}

// Tracker holds the process's per-memory feedback state.
type Tracker struct {
	pruneThreshold float64

	mu      sync.RWMutex
	byID    map[string]*stats
	applied map[string]struct{} // "sessionId|memoryId|signal" keys already recorded, for idempotency
}

// New returns a Tracker using the default prune threshold (0.4). Pass 0 to
// NewWithThreshold to use that same default explicitly.
func New() *Tracker {
	return NewWithThreshold(defaultPruneThreshold)
}

// NewWithThreshold returns a Tracker with a custom prune-by-utility
// threshold. threshold<=0 falls back to the 0.4 default.
func NewWithThreshold(threshold float64) *Tracker {
	if threshold <= 0 {
		threshold = defaultPruneThreshold
	}
	return &Tracker{
		pruneThreshold: threshold,
		byID:           make(map[string]*stats),
		applied:        make(map[string]struct{}),
	}
}

func idempotencyKey(sessionID, memoryID string, signal Signal) string {
	return sessionID + "|" + memoryID + "|" + string(signal)
}

// RecordFeedback applies signal to memoryID, idempotent per
// (sessionID, memoryID, signal) — a repeat call with the same triple is a
// no-op. Returns the resulting utility score.
func (t *Tracker) RecordFeedback(memoryID string, signal Signal, sessionID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := idempotencyKey(sessionID, memoryID, signal)
	if _, already := t.applied[key]; already {
		if s, ok := t.byID[memoryID]; ok {
			return s.utilityScore
		}
		return 0.5
	}
	t.applied[key] = struct{}{}

	s, ok := t.byID[memoryID]
	if !ok {
		s = &stats{}
		t.byID[memoryID] = s
	}
	now := time.Now()
	switch signal {
	case SignalHelpful:
		s.helpful++
		s.lastHelpful = now
	case SignalHarmful:
		s.harmful++
		s.lastHarmful = now
	}
	s.utilityScore = computeUtility(*s)
	return s.utilityScore
}

// UtilityScore returns the current utility score for id, or 0.5 (neutral)
// if no feedback has been recorded. Satisfies internal/recall's
// UtilityProvider interface.
func (t *Tracker) UtilityScore(id string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.byID[id]; ok {
		return s.utilityScore
	}
	return 0.5
}

// ShouldPrune reports whether id has accumulated feedback and its utility
// has fallen below the tracker's prune threshold.
func (t *Tracker) ShouldPrune(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byID[id]
	if !ok || s.total() == 0 {
		return false
	}
	return s.utilityScore < t.pruneThreshold
}

// RetrievalWeight is the §4.13 recall reweighting factor: 0.7 + 0.6·utility,
// range [0.7, 1.3].
func RetrievalWeight(utility float64) float64 {
	return 0.7 + 0.6*utility
}

// Counts returns the raw helpful/harmful tallies for id, for diagnostics
// and export.
func (t *Tracker) Counts(id string) (helpful, harmful int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.byID[id]; ok {
		return s.helpful, s.harmful
	}
	return 0, 0
}
