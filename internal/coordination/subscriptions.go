package coordination

import (
	"context"
	"encoding/json"

	"cogmem/internal/wire"
)

func (s *Server) handleSubscribe(c *connection, env wire.Envelope) {
	var p wire.SubscribePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		s.sendError(c, env.CorrelationID, wire.ErrInvalidMessage, "invalid subscribe payload")
		return
	}
	id := wire.NewID("sub")
	s.subs[id] = &subscription{id: id, connID: c.id, filter: p.Filter}
	c.subscriptionIDs[id] = struct{}{}

	env2, err := wire.NewEnvelope("msg", "server", wire.TypeSubscribeAck, wire.SubscribeAckPayload{SubscriptionID: id})
	if err == nil {
		env2.CorrelationID = env.CorrelationID
		c.send(env2)
	}
}

func (s *Server) handleUnsubscribe(c *connection, env wire.Envelope) {
	var p wire.UnsubscribePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.SubscriptionID == "" {
		s.sendError(c, env.CorrelationID, wire.ErrInvalidMessage, "invalid unsubscribe payload")
		return
	}
	if sub, ok := s.subs[p.SubscriptionID]; ok && sub.connID == c.id {
		delete(s.subs, p.SubscriptionID)
		delete(c.subscriptionIDs, p.SubscriptionID)
	}
	env2, err := wire.NewEnvelope("msg", "server", wire.TypeUnsubscribeAck, wire.UnsubscribePayload{SubscriptionID: p.SubscriptionID})
	if err == nil {
		env2.CorrelationID = env.CorrelationID
		c.send(env2)
	}
}

func (s *Server) removeSubscriptions(c *connection) {
	for id := range c.subscriptionIDs {
		delete(s.subs, id)
	}
	c.subscriptionIDs = make(map[string]struct{})
}

// matchesFilter applies conjunction semantics: every non-empty field of
// filter must match the corresponding event attribute for the event to
// match (spec.md §3, §4.11). Tags match on overlap, since an event may
// carry more than one and the filter only needs to hit one of them.
func matchesFilter(filter wire.SubscriptionFilter, layer, projectID, eventType string, tags []string, senderAgentID string) bool {
	if len(filter.Layers) > 0 && !containsStr(filter.Layers, layer) {
		return false
	}
	if len(filter.ProjectIDs) > 0 && !containsStr(filter.ProjectIDs, projectID) {
		return false
	}
	if len(filter.Types) > 0 && !containsStr(filter.Types, eventType) {
		return false
	}
	if len(filter.Tags) > 0 && !overlapsStr(filter.Tags, tags) {
		return false
	}
	if len(filter.SenderAgentIDs) > 0 && !containsStr(filter.SenderAgentIDs, senderAgentID) {
		return false
	}
	return true
}

func containsStr(set []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func overlapsStr(set, vals []string) bool {
	for _, v := range vals {
		if containsStr(set, v) {
			return true
		}
	}
	return false
}

// broadcast sends env to every subscription whose filter matches, and
// mirrors it to Kafka when a mirror is configured.
func (s *Server) broadcast(eventType, layer, projectID string, tags []string, senderAgentID string, env wire.Envelope, key string) {
	for _, sub := range s.subs {
		if !matchesFilter(sub.filter, layer, projectID, eventType, tags, senderAgentID) {
			continue
		}
		c, ok := s.conns[sub.connID]
		if !ok || c.state != stateRegistered {
			continue
		}
		c.send(env)
	}
	if s.mirror != nil {
		go func() {
			_ = s.mirror.Publish(context.Background(), eventType, key, env)
		}()
	}
}
