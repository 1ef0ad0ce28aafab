package coordination

import (
	"context"
	"encoding/json"

	"cogmem/internal/observability"
	"cogmem/internal/wire"
)

// handleEnvelope is the actor's single dispatch point for every inbound
// message, enforcing spec.md §4.11's "first message must be agent.register"
// rule before routing to per-type handlers.
func (s *Server) handleEnvelope(connID string, env wire.Envelope) {
	c, ok := s.conns[connID]
	if !ok {
		return // connection already torn down before this command ran
	}

	if c.state == stateConnected && env.Type != wire.TypeAgentRegister {
		s.sendError(c, env.CorrelationID, wire.ErrUnauthorized, "first message must be agent.register")
		s.closeConn(c, "protocol_violation")
		return
	}

	switch env.Type {
	case wire.TypeAgentRegister:
		s.handleRegister(c, env)
	case wire.TypeAgentHeartbeat:
		s.handleHeartbeat(c, env)
	case wire.TypeAgentDisconnect:
		s.handleDisconnect(connID, "client_request")
	case wire.TypeAgentList:
		s.handleAgentList(c, env)
	case wire.TypeLockRequest:
		s.handleLockRequest(c, env)
	case wire.TypeLockRelease:
		s.handleLockRelease(c, env)
	case wire.TypeSubscribe:
		s.handleSubscribe(c, env)
	case wire.TypeUnsubscribe:
		s.handleUnsubscribe(c, env)
	case wire.TypeConflictResolution:
		s.handleConflictResolution(c, env)
	case wire.TypeMemoryAdded, wire.TypeMemoryUpdated:
		s.handleMemoryWrite(c, env)
	default:
		s.sendError(c, env.CorrelationID, wire.ErrInvalidMessage, "unsupported message type: "+string(env.Type))
	}
}

func (s *Server) handleRegister(c *connection, env wire.Envelope) {
	var p wire.AgentRegisterPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.AgentID == "" {
		s.sendError(c, env.CorrelationID, wire.ErrInvalidMessage, "invalid agent.register payload")
		s.closeConn(c, "protocol_violation")
		return
	}

	// Resume-token reclaim: a presented token that resolves to a different
	// agentID than the one in this register is rejected; one that matches
	// (or registers fresh) proceeds, evicting any prior live connection for
	// that agent (last-writer-wins identity, spec.md §4.11).
	if p.ResumeToken != "" {
		owner, _ := s.resume.Resolve(context.Background(), p.ResumeToken)
		if owner != "" && owner != p.AgentID {
			s.sendError(c, env.CorrelationID, wire.ErrUnauthorized, "resume token does not match agent id")
			s.closeConn(c, "protocol_violation")
			return
		}
	}

	if _, alreadyKnown := s.agents[p.AgentID]; !alreadyKnown && len(s.agents) >= s.cfg.MaxAgents {
		s.sendError(c, env.CorrelationID, wire.ErrRateLimited, "max agent count reached")
		s.closeConn(c, "rate_limited")
		return
	}

	if prevConnID, ok := s.agents[p.AgentID]; ok && prevConnID != c.id {
		if prev, ok := s.conns[prevConnID]; ok {
			s.releaseAllLocks(prev)
			s.removeSubscriptions(prev)
			prev.heartbeatTimer.stop()
			_ = prev.conn.Close()
			delete(s.conns, prevConnID)
		}
	}

	token := p.ResumeToken
	if token == "" {
		token = wire.NewID("resume")
	}
	_ = s.resume.Put(context.Background(), token, p.AgentID)

	c.agentID = p.AgentID
	c.resumeToken = token
	c.capabilities = make(map[string]struct{}, len(p.Capabilities))
	for _, capability := range p.Capabilities {
		c.capabilities[capability] = struct{}{}
	}
	c.state = stateRegistered
	s.agents[p.AgentID] = c.id
	c.heartbeatTimer.reset(s.cfg.HeartbeatTimeout)

	env2, err := wire.NewEnvelope("msg", "server", wire.TypeAgentRegistered, wire.AgentRegisteredPayload{
		AgentID:     p.AgentID,
		ResumeToken: token,
	})
	if err == nil {
		env2.CorrelationID = env.CorrelationID
		c.send(env2)
	}
}

func (s *Server) handleHeartbeat(c *connection, env wire.Envelope) {
	if c.state != stateRegistered {
		return
	}
	c.heartbeatTimer.reset(s.cfg.HeartbeatTimeout)
	env2, err := wire.NewEnvelope("msg", "server", wire.TypeAgentHeartbeatAck, struct{}{})
	if err == nil {
		env2.CorrelationID = env.CorrelationID
		c.send(env2)
	}
}

func (s *Server) handleHeartbeatTimeout(connID string) {
	c, ok := s.conns[connID]
	if !ok || c.state != stateRegistered {
		return
	}
	env, err := wire.NewEnvelope("msg", "server", wire.TypeAgentDisconnect, wire.AgentDisconnectPayload{
		AgentID: c.agentID,
		Reason:  "timeout",
	})
	if err == nil {
		c.send(env)
	}
	s.handleDisconnect(connID, "timeout")
}

func (s *Server) handleDisconnect(connID string, reason string) {
	c, ok := s.conns[connID]
	if !ok {
		return
	}
	s.releaseAllLocks(c)
	s.removeSubscriptions(c)
	c.heartbeatTimer.stop()
	if c.agentID != "" && s.agents[c.agentID] == connID {
		delete(s.agents, c.agentID)
	}
	c.state = stateDisconnected
	_ = c.conn.Close()
	delete(s.conns, connID)
	observability.LoggerWithAgent(c.agentID).Debug().Str("reason", reason).Msg("coordination: agent disconnected")
}

func (s *Server) handleAgentList(c *connection, env wire.Envelope) {
	if !c.hasCapability("coordinate") {
		s.sendError(c, env.CorrelationID, wire.ErrInvalidCapability, "agent.list requires coordinate capability")
		return
	}
	summaries := make([]wire.AgentSummary, 0, len(s.agents))
	for agentID, connID := range s.agents {
		other := s.conns[connID]
		caps := make([]string, 0, len(other.capabilities))
		for capability := range other.capabilities {
			caps = append(caps, capability)
		}
		summaries = append(summaries, wire.AgentSummary{
			AgentID:      agentID,
			Capabilities: caps,
			Connected:    other.state == stateRegistered,
		})
	}
	env2, err := wire.NewEnvelope("msg", "server", wire.TypeAgentListResponse, wire.AgentListResponsePayload{Agents: summaries})
	if err == nil {
		env2.CorrelationID = env.CorrelationID
		c.send(env2)
	}
}

func (s *Server) closeConn(c *connection, reason string) {
	s.handleDisconnect(c.id, reason)
}

func (s *Server) sendError(c *connection, correlationID string, code wire.ErrorCode, msg string) {
	env, err := wire.NewEnvelope("msg", "server", wire.TypeError, wire.ErrorPayload{
		Code:        code,
		Message:     msg,
		Recoverable: code.Recoverable(),
	})
	if err != nil {
		return
	}
	env.CorrelationID = correlationID
	c.send(env)
}
