package wire

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		e := NewMessage("cursor_moved", json.RawMessage(`{"x":10,"y":20}`))
		data, err := Encode(e)
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}

		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if got.Type != "cursor_moved" {
			t.Errorf("Type = %q, want %q", got.Type, "cursor_moved")
		}
		if string(got.Payload) != `{"x":10,"y":20}` {
			t.Errorf("Payload = %s", got.Payload)
		}
	})

	t.Run("MissingType", func(t *testing.T) {
		_, err := Decode([]byte(`{"timestamp":123}`))
		if !errors.Is(err, ErrMissingType) {
			t.Errorf("Decode() error = %v, want ErrMissingType", err)
		}
	})

	t.Run("EncodeMissingType", func(t *testing.T) {
		_, err := Encode(&Envelope{})
		if !errors.Is(err, ErrMissingType) {
			t.Errorf("Encode() error = %v, want ErrMissingType", err)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		if _, err := Decode([]byte(`{`)); err == nil {
			t.Error("Decode() accepted malformed JSON")
		}
	})
}

func TestPingPong(t *testing.T) {
	ping := NewPing(7)
	if ping.Type != TypePing || ping.Seq != 7 {
		t.Fatalf("NewPing() = %+v", ping)
	}
	if ping.Timestamp == 0 {
		t.Error("ping should carry a send timestamp")
	}

	pong := NewPong(ping)
	if pong.Type != TypePong {
		t.Errorf("Type = %q, want pong", pong.Type)
	}
	if pong.Seq != ping.Seq {
		t.Errorf("pong Seq = %d, want %d", pong.Seq, ping.Seq)
	}
	if pong.Timestamp != ping.Timestamp {
		t.Error("pong must echo the ping timestamp, not stamp its own")
	}
}

func TestJoinLeave(t *testing.T) {
	join := NewJoin("sess-1", "user-1", "Alice", "assessor")
	if join.Type != TypeJoinSession {
		t.Errorf("Type = %q", join.Type)
	}
	if join.SessionID != "sess-1" || join.UserID != "user-1" {
		t.Errorf("join = %+v", join)
	}

	leave := NewLeave("sess-1", "user-1")
	if leave.Type != TypeLeaveSession || leave.SessionID != "sess-1" {
		t.Errorf("leave = %+v", leave)
	}
}

func TestIsControl(t *testing.T) {
	control := []string{
		TypePing, TypePong, TypeAuth, TypeAuthSuccess, TypeAuthFailed,
		TypeJoinSession, TypeUserJoined, TypeLeaveSession, TypeUserLeft,
	}
	for _, typ := range control {
		e := &Envelope{Type: typ}
		if !e.IsControl() {
			t.Errorf("IsControl(%q) = false, want true", typ)
		}
	}

	for _, typ := range []string{"cursor_moved", "property_updated", TypeError} {
		e := &Envelope{Type: typ}
		if typ != TypeError && e.IsControl() {
			t.Errorf("IsControl(%q) = true, want false", typ)
		}
	}
}

func TestErrorEnvelope(t *testing.T) {
	e := NewError(4001, "session not found")
	data := MustEncode(e)

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Code != 4001 || got.Message != "session not found" {
		t.Errorf("got code=%d message=%q", got.Code, got.Message)
	}
}
