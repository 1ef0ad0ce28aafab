package coordination

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"cogmem/internal/config"
	"cogmem/internal/orchestrator"
	"cogmem/internal/wire"
)

// lockRecord is one resource's current holder(s) and FIFO wait queue.
// Grant rules live in locks.go.
type lockRecord struct {
	resource string
	mode     string // "shared" | "exclusive"
	lockID   string
	holders  map[string]struct{} // connIDs; >1 only possible when mode=="shared"
	waiters  []lockWaiter
	expiry   *timer
}

type lockWaiter struct {
	connID        string
	mode          string
	resource      string
	correlationID string
}

// subscription is one agent's standing interest in memory events.
type subscription struct {
	id     string
	connID string
	filter wire.SubscriptionFilter
}

type pendingWrite struct {
	agentID string
	at      time.Time
}

// Server is the single actor owning all coordination state: connections,
// locks, subscriptions, and in-flight conflict detection. Every state
// mutation happens inside Run's loop, reached only through post — no
// other goroutine touches Server fields directly. This mirrors spec.md
// §5's requirement that concurrent inbound messages, heartbeat timeouts,
// and lock-expiry timers all serialize through one actor.
type Server struct {
	cfg    config.CoordinationConfig
	mirror *orchestrator.EventMirror
	resume ResumeStore

	conns         map[string]*connection // connID -> connection
	agents        map[string]string      // agentID -> connID
	locks         map[string]*lockRecord // resource -> lockRecord
	locksByID     map[string]string      // lockID -> resource
	subs          map[string]*subscription
	pendingWrites map[string][]pendingWrite

	connSeq   atomic.Uint64
	cmds      chan func(*Server)
	stopped   chan struct{}
}

// New builds a Server. mirror and resume may both be nil, in which case
// events are not mirrored to Kafka and resume tokens do not survive a
// restart (NewMemoryResumeStore semantics).
func New(cfg config.CoordinationConfig, mirror *orchestrator.EventMirror, resume ResumeStore) *Server {
	if resume == nil {
		resume = NewMemoryResumeStore()
	}
	return &Server{
		cfg:           cfg,
		mirror:        mirror,
		resume:        resume,
		conns:         make(map[string]*connection),
		agents:        make(map[string]string),
		locks:         make(map[string]*lockRecord),
		locksByID:     make(map[string]string),
		subs:          make(map[string]*subscription),
		pendingWrites: make(map[string][]pendingWrite),
		cmds:          make(chan func(*Server), 1024),
		stopped:       make(chan struct{}),
	}
}

// post enqueues cmd to run on the actor goroutine. Safe from any goroutine,
// including timer callbacks and transport read loops. A full queue (1024
// pending commands) means the server is badly overloaded; post drops the
// command rather than block a transport's read loop indefinitely, logging
// so the condition is visible.
func (s *Server) post(cmd func(*Server)) {
	select {
	case s.cmds <- cmd:
	default:
		log.Warn().Msg("coordination: command queue full, dropping command")
	}
}

// Run drives the actor loop until ctx is canceled or Stop is called.
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-s.stopped:
			s.shutdown()
			return
		case cmd := <-s.cmds:
			cmd(s)
		}
	}
}

// Stop requests a graceful shutdown; Run returns once the current command
// (if any) finishes and the loop observes the close.
func (s *Server) Stop() {
	select {
	case <-s.stopped:
	default:
		close(s.stopped)
	}
}

// shutdown notifies every registered agent and releases resources. Runs on
// the actor goroutine as part of Run's exit path.
func (s *Server) shutdown() {
	for _, c := range s.conns {
		if c.state == stateRegistered {
			env, err := wire.NewEnvelope("msg", "server", wire.TypeAgentDisconnect, wire.AgentDisconnectPayload{
				AgentID: c.agentID,
				Reason:  "shutdown",
			})
			if err == nil {
				c.send(env)
			}
		}
		c.heartbeatTimer.stop()
		_ = c.conn.Close()
	}
}

// Accept registers a newly-opened transport connection and returns its
// internal connection id. The transport must call Dispatch for every
// inbound envelope and Disconnected exactly once when the connection ends.
func (s *Server) Accept(c Conn) string {
	id := "conn_" + time.Now().UTC().Format("150405.000000000") + "_" + itoa(s.connSeq.Add(1))
	done := make(chan struct{})
	s.post(func(s *Server) {
		conn := newConnection(id, c)
		conn.heartbeatTimer = s.newTimer(s.cfg.HeartbeatTimeout, func(s *Server) {
			s.handleHeartbeatTimeout(id)
		})
		s.conns[id] = conn
		close(done)
	})
	<-done
	return id
}

// Dispatch posts one inbound envelope from connID for actor-side handling.
func (s *Server) Dispatch(connID string, env wire.Envelope) {
	s.post(func(s *Server) {
		s.handleEnvelope(connID, env)
	})
}

// Disconnected posts notice that connID's transport has closed.
func (s *Server) Disconnected(connID string) {
	s.post(func(s *Server) {
		s.handleDisconnect(connID, "connection_closed")
	})
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
