// Package coordination implements the Coordination Server (C11): a
// single-actor-goroutine owner of all agent/lock/subscription/conflict
// state, reached over a pluggable Conn transport (internal/coordination/
// websocket.go supplies the gorilla/websocket implementation).
package coordination

import (
	"cogmem/internal/wire"
)

// Conn is the transport-agnostic connection the actor drives. The
// websocket transport and any future transport (e.g. an in-process test
// harness) both implement this.
type Conn interface {
	// Send writes one envelope to the peer. Implementations must be safe
	// to call from the actor goroutine only — no internal locking is
	// required because the actor never calls it concurrently with itself.
	Send(env wire.Envelope) error
	Close() error
	RemoteAddr() string
}

// connState is the per-connection state machine spec.md §4.11 describes:
// Connected -> Registered -> TimedOut/Disconnected.
type connState string

const (
	stateConnected    connState = "connected"
	stateRegistered   connState = "registered"
	stateDisconnected connState = "disconnected"
)

// connection tracks one live Conn plus its registration state. It lives
// only on the actor goroutine; no field is ever touched from another
// goroutine.
type connection struct {
	id    string // internal connection id, independent of agentID
	conn  Conn
	state connState

	agentID      string
	capabilities map[string]struct{}
	resumeToken  string

	subscriptionIDs map[string]struct{}
	heldLockIDs     map[string]struct{}

	heartbeatTimer *timer
}

func newConnection(id string, c Conn) *connection {
	return &connection{
		id:              id,
		conn:            c,
		state:           stateConnected,
		capabilities:    make(map[string]struct{}),
		subscriptionIDs: make(map[string]struct{}),
		heldLockIDs:     make(map[string]struct{}),
	}
}

func (c *connection) hasCapability(name string) bool {
	_, ok := c.capabilities[name]
	return ok
}

func (c *connection) send(env wire.Envelope) {
	// Best-effort: a failed send means the peer is gone, which the next
	// read (or the heartbeat timer) will surface as a disconnect.
	_ = c.conn.Send(env)
}
