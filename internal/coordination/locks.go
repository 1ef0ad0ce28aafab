package coordination

import (
	"encoding/json"

	"cogmem/internal/wire"
)

// handleLockRequest implements spec.md §4.11's grant table:
//
//	existing mode | requested mode | outcome
//	none          | any            | grant
//	shared        | shared         | grant
//	shared        | exclusive      | enqueue (or deny if queue full)
//	exclusive     | any            | enqueue (or deny if queue full)
func (s *Server) handleLockRequest(c *connection, env wire.Envelope) {
	if !c.hasCapability("coordinate") {
		s.sendError(c, env.CorrelationID, wire.ErrInvalidCapability, "lock_request requires coordinate capability")
		return
	}
	var p wire.LockRequestPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.Resource == "" || (p.Mode != "shared" && p.Mode != "exclusive") {
		s.sendError(c, env.CorrelationID, wire.ErrInvalidMessage, "invalid lock_request payload")
		return
	}

	rec, exists := s.locks[p.Resource]
	if !exists || len(rec.holders) == 0 {
		s.grantLock(c, p.Resource, p.Mode, env.CorrelationID)
		return
	}
	if rec.mode == "shared" && p.Mode == "shared" {
		rec.holders[c.id] = struct{}{}
		c.heldLockIDs[rec.lockID] = struct{}{}
		env2, err := wire.NewEnvelope("msg", "server", wire.TypeLockGranted, wire.LockGrantedPayload{
			LockID:   rec.lockID,
			Resource: p.Resource,
			Mode:     rec.mode,
		})
		if err == nil {
			env2.CorrelationID = env.CorrelationID
			c.send(env2)
		}
		return
	}

	if len(rec.waiters) >= s.cfg.MaxWaitQueue {
		env2, err := wire.NewEnvelope("msg", "server", wire.TypeLockDenied, wire.LockDeniedPayload{
			Resource: p.Resource,
			Reason:   "queue_full",
		})
		if err == nil {
			env2.CorrelationID = env.CorrelationID
			c.send(env2)
		}
		return
	}
	rec.waiters = append(rec.waiters, lockWaiter{
		connID:        c.id,
		mode:          p.Mode,
		resource:      p.Resource,
		correlationID: env.CorrelationID,
	})
	env2, err := wire.NewEnvelope("msg", "server", wire.TypeLockDenied, wire.LockDeniedPayload{
		Resource:          p.Resource,
		Reason:            "already_locked",
		WaitQueuePosition: len(rec.waiters),
	})
	if err == nil {
		env2.CorrelationID = env.CorrelationID
		c.send(env2)
	}
}

func (s *Server) grantLock(c *connection, resource, mode, correlationID string) {
	lockID := wire.NewID("lock")
	rec := &lockRecord{
		resource: resource,
		mode:     mode,
		lockID:   lockID,
		holders:  map[string]struct{}{c.id: {}},
	}
	connID := c.id
	rec.expiry = s.newTimer(s.cfg.LockExpiry, func(s *Server) {
		s.handleLockExpiry(resource, lockID, connID)
	})
	s.locks[resource] = rec
	s.locksByID[lockID] = resource
	c.heldLockIDs[lockID] = struct{}{}

	env, err := wire.NewEnvelope("msg", "server", wire.TypeLockGranted, wire.LockGrantedPayload{
		LockID:   lockID,
		Resource: resource,
		Mode:     mode,
	})
	if err == nil {
		env.CorrelationID = correlationID
		c.send(env)
	}
}

// handleLockRelease releases lockId. Only a connection holding the lock may
// release it; any other caller gets an UNAUTHORIZED error. Once the last
// holder releases, the wait queue is drained via drainWaitQueue, granting a
// fresh lockId to the next live waiter (spec.md §4.11).
func (s *Server) handleLockRelease(c *connection, env wire.Envelope) {
	var p wire.LockReleasePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.LockID == "" {
		s.sendError(c, env.CorrelationID, wire.ErrInvalidMessage, "invalid lock_release payload")
		return
	}
	resource, ok := s.locksByID[p.LockID]
	if !ok {
		s.sendError(c, env.CorrelationID, wire.ErrNotFound, "unknown lockId")
		return
	}
	rec, ok := s.locks[resource]
	if !ok || rec.lockID != p.LockID {
		s.sendError(c, env.CorrelationID, wire.ErrNotFound, "unknown lockId")
		return
	}
	if _, held := rec.holders[c.id]; !held {
		s.sendError(c, env.CorrelationID, wire.ErrUnauthorized, "lock not held by this connection")
		return
	}
	delete(rec.holders, c.id)
	delete(c.heldLockIDs, p.LockID)

	if rec.mode == "shared" && len(rec.holders) > 0 {
		// Other shared holders remain; the lock record stays as-is.
		s.sendReleased(c, p.LockID, resource, env.CorrelationID)
		return
	}

	rec.expiry.stop()
	delete(s.locksByID, rec.lockID)
	delete(s.locks, resource)
	s.sendReleased(c, p.LockID, resource, env.CorrelationID)
	s.drainWaitQueue(rec, resource)
}

func (s *Server) sendReleased(c *connection, lockID, resource, correlationID string) {
	env, err := wire.NewEnvelope("msg", "server", wire.TypeLockReleased, wire.LockReleasedPayload{
		LockID:   lockID,
		Resource: resource,
	})
	if err == nil {
		env.CorrelationID = correlationID
		c.send(env)
	}
}

// drainWaitQueue pops waiters FIFO, skipping disconnected ones, and grants
// the first live one. If that grant is shared, every other live shared
// waiter still in the queue is granted the same lock as well, wherever it
// sits in the queue. The remaining waiters move to the new lock record and
// draining stops.
func (s *Server) drainWaitQueue(prevRec *lockRecord, resource string) {
	for len(prevRec.waiters) > 0 {
		next := prevRec.waiters[0]
		prevRec.waiters = prevRec.waiters[1:]
		nc, ok := s.conns[next.connID]
		if !ok || nc.state != stateRegistered {
			continue // waiter disconnected meanwhile; drop and continue
		}
		s.grantLock(nc, next.resource, next.mode, next.correlationID)
		newRec := s.locks[resource]
		remainingWaiters := prevRec.waiters
		if next.mode == "shared" && newRec != nil {
			// Grant to every other queued shared waiter too, since they
			// can coexist with the one just granted.
			remaining := remainingWaiters[:0]
			for _, w := range remainingWaiters {
				if w.mode == "shared" {
					if wc, ok := s.conns[w.connID]; ok && wc.state == stateRegistered {
						newRec.holders[wc.id] = struct{}{}
						wc.heldLockIDs[newRec.lockID] = struct{}{}
						env, err := wire.NewEnvelope("msg", "server", wire.TypeLockGranted, wire.LockGrantedPayload{
							LockID:   newRec.lockID,
							Resource: resource,
							Mode:     "shared",
						})
						if err == nil {
							env.CorrelationID = w.correlationID
							wc.send(env)
						}
					}
					continue
				}
				remaining = append(remaining, w)
			}
			remainingWaiters = remaining
		}
		newRec.waiters = remainingWaiters
		return
	}
}

func (s *Server) handleLockExpiry(resource, lockID, connID string) {
	rec, ok := s.locks[resource]
	if !ok || rec.lockID != lockID {
		return
	}
	if c, ok := s.conns[connID]; ok {
		delete(c.heldLockIDs, lockID)
	}
	delete(s.locksByID, lockID)
	delete(s.locks, resource)
	s.drainWaitQueue(rec, resource)
}

// releaseAllLocks is called on disconnect to release every lock this
// connection held, regardless of mode, draining waiters on each.
func (s *Server) releaseAllLocks(c *connection) {
	for lockID := range c.heldLockIDs {
		resource, ok := s.locksByID[lockID]
		if !ok {
			continue
		}
		rec, ok := s.locks[resource]
		if !ok {
			continue
		}
		delete(rec.holders, c.id)
		if len(rec.holders) > 0 {
			continue
		}
		rec.expiry.stop()
		delete(s.locksByID, lockID)
		delete(s.locks, resource)
		s.drainWaitQueue(rec, resource)
	}
	c.heldLockIDs = make(map[string]struct{})
}
