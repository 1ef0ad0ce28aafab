package coordination

import (
	"encoding/json"
	"time"

	"cogmem/internal/wire"
)

// handleMemoryWrite records an agent's write to a memory id and, once a
// second distinct agent writes the same id inside the conflict window,
// broadcasts conflict.detected to subscribers (spec.md §4.11). Stale
// entries are pruned on each write, and every write also schedules a
// cleanupPendingWrites timer one conflict window later so an idle memory
// id's ledger is eventually dropped.
func (s *Server) handleMemoryWrite(c *connection, env wire.Envelope) {
	var p wire.MemoryEventPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.MemoryID == "" {
		return
	}
	now := time.Now()
	cutoff := now.Add(-s.cfg.ConflictWindow)
	existing := s.pendingWrites[p.MemoryID]
	fresh := existing[:0]
	for _, w := range existing {
		if w.at.After(cutoff) {
			fresh = append(fresh, w)
		}
	}
	fresh = append(fresh, pendingWrite{agentID: c.agentID, at: now})
	s.pendingWrites[p.MemoryID] = fresh

	s.newTimer(s.cfg.ConflictWindow, func(s *Server) {
		s.cleanupPendingWrites(p.MemoryID)
	})

	if len(fresh) < 2 {
		return
	}
	agentIDs := make([]string, 0, len(fresh))
	seen := make(map[string]struct{}, len(fresh))
	for _, w := range fresh {
		if _, dup := seen[w.agentID]; dup {
			continue
		}
		seen[w.agentID] = struct{}{}
		agentIDs = append(agentIDs, w.agentID)
	}
	if len(agentIDs) < 2 {
		return
	}
	detected, err := wire.NewEnvelope("msg", "server", wire.TypeConflictDetected, wire.ConflictDetectedPayload{
		MemoryID:          p.MemoryID,
		AgentIDs:          agentIDs,
		SuggestedStrategy: s.cfg.DefaultConflictMode,
	})
	if err == nil {
		s.broadcast(string(wire.TypeConflictDetected), p.Layer, p.ProjectID, p.Tags, "", detected, p.MemoryID)
	}
}

// cleanupPendingWrites drops entries for memoryId older than the conflict
// window; fired by the per-write timer scheduled in handleMemoryWrite.
func (s *Server) cleanupPendingWrites(memoryID string) {
	existing, ok := s.pendingWrites[memoryID]
	if !ok {
		return
	}
	cutoff := time.Now().Add(-s.cfg.ConflictWindow)
	fresh := existing[:0]
	for _, w := range existing {
		if w.at.After(cutoff) {
			fresh = append(fresh, w)
		}
	}
	if len(fresh) == 0 {
		delete(s.pendingWrites, memoryID)
		return
	}
	s.pendingWrites[memoryID] = fresh
}

// handleConflictResolution requires the arbitrate capability (spec.md
// §4.11): it clears pending writes for the memory id and broadcasts the
// chosen resolution to subscribers.
func (s *Server) handleConflictResolution(c *connection, env wire.Envelope) {
	if !c.hasCapability("arbitrate") {
		s.sendError(c, env.CorrelationID, wire.ErrInvalidCapability, "conflict.resolution requires arbitrate capability")
		return
	}
	var p wire.ConflictResolutionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.MemoryID == "" {
		s.sendError(c, env.CorrelationID, wire.ErrInvalidMessage, "invalid conflict.resolution payload")
		return
	}
	delete(s.pendingWrites, p.MemoryID)

	resolved, err := wire.NewEnvelope("msg", "server", wire.TypeConflictResolution, p)
	if err == nil {
		s.broadcast(string(wire.TypeConflictResolution), "", "", nil, c.agentID, resolved, p.MemoryID)
	}
}
