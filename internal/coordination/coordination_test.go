package coordination

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/goleak"

	"cogmem/internal/config"
	"cogmem/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeConn is an in-process Conn test double: Send appends to a channel
// instead of writing to a socket, letting tests drive the actor without
// any network I/O.
type fakeConn struct {
	out    chan wire.Envelope
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{out: make(chan wire.Envelope, 32), closed: make(chan struct{})}
}

func (f *fakeConn) Send(env wire.Envelope) error {
	select {
	case f.out <- env:
	default:
	}
	return nil
}

func (f *fakeConn) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func (f *fakeConn) RemoteAddr() string { return "fake" }

func (f *fakeConn) next(t *testing.T) wire.Envelope {
	t.Helper()
	select {
	case env := <-f.out:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return wire.Envelope{}
	}
}

func testConfig() config.CoordinationConfig {
	return config.CoordinationConfig{
		Port:                9876,
		HeartbeatInterval:   30 * time.Millisecond,
		HeartbeatTimeout:    100 * time.Millisecond,
		LockExpiry:          2 * time.Second,
		MaxAgents:           100,
		MaxWaitQueue:        2,
		ConflictWindow:      200 * time.Millisecond,
		DefaultConflictMode: "last_write_wins",
	}
}

func startServer(t *testing.T) *Server {
	t.Helper()
	return startServerWithConfig(t, testConfig())
}

func startServerWithConfig(t *testing.T, cfg config.CoordinationConfig) *Server {
	t.Helper()
	s := New(cfg, nil, NewMemoryResumeStore())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func register(t *testing.T, s *Server, agentID string, caps ...string) (string, *fakeConn) {
	t.Helper()
	fc := newFakeConn()
	connID := s.Accept(fc)
	env, err := wire.NewEnvelope("msg", agentID, wire.TypeAgentRegister, wire.AgentRegisterPayload{
		AgentID:      agentID,
		Capabilities: caps,
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	s.Dispatch(connID, env)
	got := fc.next(t)
	if got.Type != wire.TypeAgentRegistered {
		t.Fatalf("expected agent.registered, got %v", got.Type)
	}
	return connID, fc
}

func TestRegisterRequiresFirstMessage(t *testing.T) {
	s := startServer(t)
	fc := newFakeConn()
	connID := s.Accept(fc)

	env, _ := wire.NewEnvelope("msg", "agent-1", wire.TypeAgentHeartbeat, struct{}{})
	s.Dispatch(connID, env)

	got := fc.next(t)
	if got.Type != wire.TypeError {
		t.Fatalf("expected error, got %v", got.Type)
	}
	var p wire.ErrorPayload
	if err := json.Unmarshal(got.Payload, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Code != wire.ErrUnauthorized {
		t.Errorf("code = %v, want UNAUTHORIZED", p.Code)
	}
}

func TestRegisterThenHeartbeatAck(t *testing.T) {
	s := startServer(t)
	connID, fc := register(t, s, "agent-1", "coordinate")

	env, _ := wire.NewEnvelope("msg", "agent-1", wire.TypeAgentHeartbeat, struct{}{})
	s.Dispatch(connID, env)

	got := fc.next(t)
	if got.Type != wire.TypeAgentHeartbeatAck {
		t.Fatalf("expected heartbeat_ack, got %v", got.Type)
	}
}

func TestHeartbeatTimeoutDisconnects(t *testing.T) {
	s := startServer(t)
	connID, fc := register(t, s, "agent-1", "coordinate")

	got := fc.next(t) // agent.disconnect pushed before teardown
	if got.Type != wire.TypeAgentDisconnect {
		t.Fatalf("expected agent.disconnect, got %v", got.Type)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		done := make(chan bool, 1)
		s.post(func(s *Server) {
			_, ok := s.conns[connID]
			done <- ok
		})
		if !<-done {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("connection was never removed after heartbeat timeout")
}

func TestLockGrantSharedSharedExclusiveQueues(t *testing.T) {
	s := startServer(t)
	connA, fcA := register(t, s, "agent-a", "coordinate")
	connB, fcB := register(t, s, "agent-b", "coordinate")

	reqShared, _ := wire.NewEnvelope("msg", "agent-a", wire.TypeLockRequest, wire.LockRequestPayload{
		Resource: "mem-1", Mode: "shared",
	})
	s.Dispatch(connA, reqShared)
	gotA := fcA.next(t)
	if gotA.Type != wire.TypeLockGranted {
		t.Fatalf("expected lock_granted, got %v", gotA.Type)
	}

	reqSharedB, _ := wire.NewEnvelope("msg", "agent-b", wire.TypeLockRequest, wire.LockRequestPayload{
		Resource: "mem-1", Mode: "shared",
	})
	s.Dispatch(connB, reqSharedB)
	gotB := fcB.next(t)
	if gotB.Type != wire.TypeLockGranted {
		t.Fatalf("expected shared/shared to grant, got %v", gotB.Type)
	}

	connC, fcC := register(t, s, "agent-c", "coordinate")
	reqExclusive, _ := wire.NewEnvelope("msg", "agent-c", wire.TypeLockRequest, wire.LockRequestPayload{
		Resource: "mem-1", Mode: "exclusive",
	})
	s.Dispatch(connC, reqExclusive)
	gotC := fcC.next(t)
	if gotC.Type != wire.TypeLockDenied {
		t.Fatalf("expected exclusive request against shared holders to enqueue/deny, got %v", gotC.Type)
	}
}

func TestLockReleaseDrainsWaitQueue(t *testing.T) {
	s := startServer(t)
	connA, fcA := register(t, s, "agent-a", "coordinate")
	connB, fcB := register(t, s, "agent-b", "coordinate")

	reqA, _ := wire.NewEnvelope("msg", "agent-a", wire.TypeLockRequest, wire.LockRequestPayload{
		Resource: "mem-2", Mode: "exclusive",
	})
	s.Dispatch(connA, reqA)
	grantedA := fcA.next(t)
	var grantedPayload wire.LockGrantedPayload
	if err := json.Unmarshal(grantedA.Payload, &grantedPayload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	reqB, _ := wire.NewEnvelope("msg", "agent-b", wire.TypeLockRequest, wire.LockRequestPayload{
		Resource: "mem-2", Mode: "exclusive",
	})
	s.Dispatch(connB, reqB)
	deniedB := fcB.next(t)
	if deniedB.Type != wire.TypeLockDenied {
		t.Fatalf("expected deny/enqueue, got %v", deniedB.Type)
	}

	release, _ := wire.NewEnvelope("msg", "agent-a", wire.TypeLockRelease, wire.LockReleasePayload{
		LockID: grantedPayload.LockID,
	})
	s.Dispatch(connA, release)
	_ = fcA.next(t) // lock_released

	grantedB := fcB.next(t)
	if grantedB.Type != wire.TypeLockGranted {
		t.Fatalf("expected queued waiter to be granted after release, got %v", grantedB.Type)
	}
}

func TestSubscribeReceivesMatchingMemoryEvent(t *testing.T) {
	s := startServer(t)
	connA, fc := register(t, s, "agent-a", "coordinate")

	sub, _ := wire.NewEnvelope("msg", "agent-a", wire.TypeSubscribe, wire.SubscribePayload{
		Filter: wire.SubscriptionFilter{Layers: []string{"factual"}},
	})
	s.Dispatch(connA, sub)
	ack := fc.next(t)
	if ack.Type != wire.TypeSubscribeAck {
		t.Fatalf("expected subscribe_ack, got %v", ack.Type)
	}

	s.Emit("memory.added", map[string]any{"id": "mem-9", "layer": "factual"})
	got := fc.next(t)
	if got.Type != wire.TypeMemoryAdded {
		t.Fatalf("expected memory.added, got %v", got.Type)
	}
}

func TestConflictDetectedOnConcurrentWrites(t *testing.T) {
	s := startServer(t)
	connA, fcA := register(t, s, "agent-a", "coordinate")
	connB, _ := register(t, s, "agent-b", "coordinate")

	sub, _ := wire.NewEnvelope("msg", "agent-a", wire.TypeSubscribe, wire.SubscribePayload{})
	s.Dispatch(connA, sub)
	_ = fcA.next(t) // subscribe_ack

	writeA, _ := wire.NewEnvelope("msg", "agent-a", wire.TypeMemoryAdded, wire.MemoryEventPayload{MemoryID: "mem-3"})
	s.Dispatch(connA, writeA)

	writeB, _ := wire.NewEnvelope("msg", "agent-b", wire.TypeMemoryAdded, wire.MemoryEventPayload{MemoryID: "mem-3"})
	s.Dispatch(connB, writeB)

	got := fcA.next(t)
	if got.Type != wire.TypeConflictDetected {
		t.Fatalf("expected conflict.detected, got %v", got.Type)
	}
}

func TestRegisterRejectsOverMaxAgents(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAgents = 1
	s := startServerWithConfig(t, cfg)
	register(t, s, "agent-a", "coordinate")

	fc := newFakeConn()
	connID := s.Accept(fc)
	env, _ := wire.NewEnvelope("msg", "agent-b", wire.TypeAgentRegister, wire.AgentRegisterPayload{
		AgentID: "agent-b",
	})
	s.Dispatch(connID, env)

	got := fc.next(t)
	if got.Type != wire.TypeError {
		t.Fatalf("expected error, got %v", got.Type)
	}
	var p wire.ErrorPayload
	if err := json.Unmarshal(got.Payload, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Code != wire.ErrRateLimited {
		t.Errorf("code = %v, want RATE_LIMITED", p.Code)
	}

	// re-registering the already-known agent must still succeed even at cap.
	env2, _ := wire.NewEnvelope("msg", "agent-a", wire.TypeAgentRegister, wire.AgentRegisterPayload{
		AgentID: "agent-a",
	})
	fc2 := newFakeConn()
	connID2 := s.Accept(fc2)
	s.Dispatch(connID2, env2)
	got2 := fc2.next(t)
	if got2.Type != wire.TypeAgentRegistered {
		t.Fatalf("expected agent.registered for known agent at cap, got %v", got2.Type)
	}
}

func TestAgentListRequiresCoordinateCapability(t *testing.T) {
	s := startServer(t)
	connA, fc := register(t, s, "agent-a") // no capabilities

	list, _ := wire.NewEnvelope("msg", "agent-a", wire.TypeAgentList, struct{}{})
	s.Dispatch(connA, list)

	got := fc.next(t)
	if got.Type != wire.TypeError {
		t.Fatalf("expected error, got %v", got.Type)
	}
}
