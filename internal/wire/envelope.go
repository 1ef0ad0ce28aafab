// Package wire implements the coordination protocol's envelope codec
// (spec.md §4.12/§6): a closed set of message types, a Date-wrapping JSON
// encoding with plain-ISO8601 decode fallback, and the "<kind>_<epochMillis>_
// <9-char base36>" id scheme shared by messages, locks, conflicts, and resume
// tokens.
package wire

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Type is one of the closed set of envelope message types (spec.md §6).
type Type string

const (
	TypeAgentRegister     Type = "agent.register"
	TypeAgentRegistered   Type = "agent.registered"
	TypeAgentHeartbeat    Type = "agent.heartbeat"
	TypeAgentHeartbeatAck Type = "agent.heartbeat_ack"
	TypeAgentDisconnect   Type = "agent.disconnect"
	TypeAgentList         Type = "agent.list"
	TypeAgentListResponse Type = "agent.list_response"

	TypeMemoryAdded    Type = "memory.added"
	TypeMemoryUpdated  Type = "memory.updated"
	TypeMemoryDeleted  Type = "memory.deleted"
	TypeMemoryRecalled Type = "memory.recalled"

	TypeLockRequest  Type = "coordination.lock_request"
	TypeLockGranted  Type = "coordination.lock_granted"
	TypeLockDenied   Type = "coordination.lock_denied"
	TypeLockRelease  Type = "coordination.lock_release"
	TypeLockReleased Type = "coordination.lock_released"

	TypeConflictDetected   Type = "conflict.detected"
	TypeConflictResolution Type = "conflict.resolution"

	TypeSubscribe      Type = "subscribe"
	TypeSubscribeAck   Type = "subscribe_ack"
	TypeUnsubscribe    Type = "unsubscribe"
	TypeUnsubscribeAck Type = "unsubscribe_ack"

	TypeError Type = "error"
)

// validTypes backs Type.Valid without repeating the const list.
var validTypes = map[Type]struct{}{
	TypeAgentRegister: {}, TypeAgentRegistered: {}, TypeAgentHeartbeat: {},
	TypeAgentHeartbeatAck: {}, TypeAgentDisconnect: {}, TypeAgentList: {},
	TypeAgentListResponse: {},
	TypeMemoryAdded:       {}, TypeMemoryUpdated: {}, TypeMemoryDeleted: {}, TypeMemoryRecalled: {},
	TypeLockRequest: {}, TypeLockGranted: {}, TypeLockDenied: {}, TypeLockRelease: {}, TypeLockReleased: {},
	TypeConflictDetected: {}, TypeConflictResolution: {},
	TypeSubscribe: {}, TypeSubscribeAck: {}, TypeUnsubscribe: {}, TypeUnsubscribeAck: {},
	TypeError: {},
}

func (t Type) Valid() bool {
	_, ok := validTypes[t]
	return ok
}

// ErrorCode is the closed set of protocol error codes (spec.md §6).
type ErrorCode string

const (
	ErrInvalidMessage      ErrorCode = "INVALID_MESSAGE"
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrConflict            ErrorCode = "CONFLICT"
	ErrLockFailed          ErrorCode = "LOCK_FAILED"
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrInternal            ErrorCode = "INTERNAL_ERROR"
	ErrConnectionClosed    ErrorCode = "CONNECTION_CLOSED"
	ErrAgentNotRegistered  ErrorCode = "AGENT_NOT_REGISTERED"
	ErrInvalidCapability   ErrorCode = "INVALID_CAPABILITY"
)

// Recoverable reports whether a connection should stay open after this
// error code is sent — every code except INVALID_MESSAGE and UNAUTHORIZED.
func (c ErrorCode) Recoverable() bool {
	return c != ErrInvalidMessage && c != ErrUnauthorized
}

// Envelope is the wire-level shape of every coordination message.
type Envelope struct {
	ID            string          `json:"id"`
	Timestamp     Date            `json:"timestamp"`
	Sender        string          `json:"sender"`
	Type          Type            `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	TTL           *int64          `json:"ttl,omitempty"`
}

// Date encodes as {"__type":"Date","value":"<RFC3339>"} but decodes from
// either that wrapped form or a bare ISO-8601 string, so older clients and
// this codec's own output both parse.
type Date struct {
	time.Time
}

type dateWrapper struct {
	Type  string `json:"__type"`
	Value string `json:"value"`
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(dateWrapper{Type: "Date", Value: d.Time.UTC().Format(time.RFC3339Nano)})
}

func (d *Date) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			t, err = time.Parse(time.RFC3339, s)
			if err != nil {
				return fmt.Errorf("wire: invalid date string %q: %w", s, err)
			}
		}
		d.Time = t
		return nil
	}
	var w dateWrapper
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("wire: invalid date value: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, w.Value)
	if err != nil {
		t, err = time.Parse(time.RFC3339, w.Value)
		if err != nil {
			return fmt.Errorf("wire: invalid wrapped date %q: %w", w.Value, err)
		}
	}
	d.Time = t
	return nil
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID generates an id of the form "<kind>_<epochMillis>_<9-char base36>".
// kind is one of msg, lock, conflict, resume (spec.md §4.12) but the
// function does not enforce the set — callers name their own kind strings.
func NewID(kind string) string {
	millis := time.Now().UnixMilli()
	suffix := randomBase36(9)
	return fmt.Sprintf("%s_%d_%s", kind, millis, suffix)
}

func randomBase36(n int) string {
	buf := make([]byte, n)
	max := big.NewInt(int64(len(base36Alphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failure is effectively unrecoverable; fall back to
			// a time-derived digit so id generation still terminates.
			buf[i] = base36Alphabet[time.Now().UnixNano()%int64(len(base36Alphabet))]
			continue
		}
		buf[i] = base36Alphabet[idx.Int64()]
	}
	return string(buf)
}

// Encode marshals an Envelope to its wire JSON form.
func Encode(env Envelope) ([]byte, error) {
	if !env.Type.Valid() {
		return nil, fmt.Errorf("wire: unsupported message type %q", env.Type)
	}
	return json.Marshal(env)
}

// Decode parses wire JSON into an Envelope. A type outside the closed set
// is still decoded (callers surface INVALID_MESSAGE themselves) so the
// caller can still read Sender/CorrelationID for an error reply.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return env, nil
}

// NewEnvelope builds an Envelope with a fresh id and the current timestamp.
func NewEnvelope(kind string, sender string, typ Type, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: marshal payload: %w", err)
	}
	return Envelope{
		ID:        NewID(kind),
		Timestamp: Date{Time: time.Now()},
		Sender:    sender,
		Type:      typ,
		Payload:   raw,
	}, nil
}
