package wire

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"
)

func TestNewIDPattern(t *testing.T) {
	re := regexp.MustCompile(`^msg_\d+_[0-9a-z]{9}$`)
	id := NewID("msg")
	if !re.MatchString(id) {
		t.Fatalf("NewID(%q) = %q, want pattern %s", "msg", id, re.String())
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID("lock")
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestDateRoundTripsWrapped(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	d := Date{Time: now}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Date
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.Time.Equal(d.Time) {
		t.Errorf("got %v, want %v", got.Time, d.Time)
	}
}

func TestDateAcceptsPlainISO8601(t *testing.T) {
	var d Date
	if err := json.Unmarshal([]byte(`"2024-01-02T03:04:05Z"`), &d); err != nil {
		t.Fatalf("Unmarshal plain ISO8601: %v", err)
	}
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if !d.Time.Equal(want) {
		t.Errorf("got %v, want %v", d.Time, want)
	}
}

func TestEncodeRejectsUnknownType(t *testing.T) {
	_, err := Encode(Envelope{ID: "msg_1_abcdefghi", Type: Type("bogus.type")})
	if err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env, err := NewEnvelope("msg", "agent-1", TypeAgentHeartbeat, map[string]string{"agentId": "agent-1"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	b, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != env.ID || got.Sender != env.Sender || got.Type != env.Type {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, env)
	}
}

func TestErrorCodeRecoverable(t *testing.T) {
	if ErrInvalidMessage.Recoverable() {
		t.Error("INVALID_MESSAGE must not be recoverable")
	}
	if ErrUnauthorized.Recoverable() {
		t.Error("UNAUTHORIZED must not be recoverable")
	}
	if !ErrTimeout.Recoverable() {
		t.Error("TIMEOUT should be recoverable")
	}
}
