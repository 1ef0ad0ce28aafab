// Package model holds the data types shared across every memory layer,
// the recall fuser, and the coordination server. Nothing in this package
// talks to storage or the network; it is pure data plus small invariants.
package model

import "time"

// Layer identifies one of the four persistent memory substores. A virtual
// "Curated" origin is used for notebook lines surfaced by the episodic
// layer but never assigned to a stored MemoryEntry.
type Layer string

const (
	LayerFactual  Layer = "factual"
	LayerLongTerm Layer = "long_term"
	LayerSemantic Layer = "semantic"
	LayerEpisodic Layer = "episodic"
	LayerCurated  Layer = "curated"
)

func (l Layer) Valid() bool {
	switch l {
	case LayerFactual, LayerLongTerm, LayerSemantic, LayerEpisodic, LayerCurated:
		return true
	}
	return false
}

// Source records how a MemoryEntry came to exist.
type Source string

const (
	SourceAuto       Source = "auto"
	SourceManual     Source = "manual"
	SourceCompaction Source = "compaction"
)

// Metadata is the heterogeneous key/value bag attached to a MemoryEntry.
// Recognized keys are promoted to named fields; anything else an agent
// wants to stash rides along in Extra.
type Metadata struct {
	Tags          []string       `json:"tags,omitempty"`
	ProjectID     string         `json:"projectId,omitempty"`
	SessionID     string         `json:"sessionId,omitempty"`
	AgentID       string         `json:"agentId,omitempty"`
	Source        Source         `json:"source,omitempty"`
	SurpriseScore float64        `json:"surpriseScore,omitempty"`
	Momentum      float64        `json:"momentum,omitempty"`
	LastAccessed  time.Time      `json:"lastAccessed,omitempty"`
	HelpfulCount  int            `json:"helpfulCount,omitempty"`
	HarmfulCount  int            `json:"harmfulCount,omitempty"`
	UtilityScore  float64        `json:"utilityScore,omitempty"`
	CurrentDecay  float64        `json:"currentDecay,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// HasTag reports whether t is present in Tags.
func (m Metadata) HasTag(t string) bool {
	for _, x := range m.Tags {
		if x == t {
			return true
		}
	}
	return false
}

// MemoryEntry is the central entity stored by every memory layer.
//
// Invariants (enforced by the layers/engine, not this type): ID is unique
// process-wide; Layer is assigned on first store and never mutates;
// Timestamp is set once at creation; HelpfulCount+HarmfulCount >= 0.
type MemoryEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Layer     Layer     `json:"layer"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata"`
}

// Stored reports whether the entry was persisted. It returns false for a
// ghost entry, one rejected by surprise filtering: the caller observes the
// decision (and the would-be content) but nothing was persisted. Ghost ids
// are prefixed "ghost_" per spec scenario 2.
func (e MemoryEntry) Stored() bool {
	return len(e.ID) < 6 || e.ID[:6] != "ghost_"
}
