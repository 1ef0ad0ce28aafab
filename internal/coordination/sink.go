package coordination

import "cogmem/internal/wire"

// Emit implements engine.EventSink: an engine-originated event is converted
// to a wire envelope and fanned out to matching subscribers. Emit is called
// from the engine's own goroutine (whichever caller invoked Add/Recall/etc),
// so it posts onto the actor loop rather than touching Server state inline.
func (s *Server) Emit(eventType string, payload any) {
	s.post(func(s *Server) {
		s.emitOnActor(eventType, payload)
	})
}

func (s *Server) emitOnActor(eventType string, payload any) {
	m, _ := payload.(map[string]any)
	id, _ := m["id"].(string)
	layer, _ := m["layer"].(string)
	projectID, _ := m["projectId"].(string)
	senderAgentID, _ := m["senderAgentId"].(string)
	tags, _ := m["tags"].([]string)

	var typ wire.Type
	switch eventType {
	case "memory.added":
		typ = wire.TypeMemoryAdded
	case "memory.updated":
		typ = wire.TypeMemoryUpdated
	case "memory.deleted":
		typ = wire.TypeMemoryDeleted
	default:
		return
	}
	env, err := wire.NewEnvelope("msg", "server", typ, wire.MemoryEventPayload{
		MemoryID:      id,
		Layer:         layer,
		ProjectID:     projectID,
		Tags:          tags,
		SenderAgentID: senderAgentID,
	})
	if err != nil {
		return
	}
	s.broadcast(eventType, layer, projectID, tags, senderAgentID, env, id)
}
