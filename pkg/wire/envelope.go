package wire

import (
	"encoding/json"
	"time"
)

// Reserved envelope types. Consumers may register handlers for these, but
// the connection manager intercepts heartbeat and handshake traffic before
// dispatch.
const (
	// TypePing is a heartbeat probe carrying a sequence number and
	// the sender's send timestamp.
	TypePing = "ping"

	// TypePong echoes a ping's sequence number and timestamp.
	TypePong = "pong"

	// TypeAuth requests authentication for a session.
	TypeAuth = "auth"

	// TypeAuthSuccess confirms authentication; echoes the session ID.
	TypeAuthSuccess = "auth_success"

	// TypeAuthFailed rejects authentication.
	TypeAuthFailed = "auth_failed"

	// TypeJoinSession requests (re)joining a collaboration session.
	TypeJoinSession = "join_session"

	// TypeUserJoined confirms a join and announces membership changes.
	TypeUserJoined = "user_joined"

	// TypeLeaveSession announces a deliberate session leave.
	TypeLeaveSession = "leave_session"

	// TypeUserLeft announces that a participant left.
	TypeUserLeft = "user_left"

	// TypeError carries a server-side error with a code and message.
	TypeError = "error"
)

// Wildcard matches every envelope type in a subscription.
const Wildcard = "*"

// Envelope is the uniform message frame used across all transports.
//
// JSON encoding:
//
//	{
//	  "type":      "...",        // discriminator (required)
//	  "timestamp": 1712345678901 // unix milliseconds
//	  ...type-specific fields
//	}
type Envelope struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// Session handshake and membership fields.
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	UserName  string `json:"userName,omitempty"`
	Role      string `json:"role,omitempty"`

	// Target optionally addresses a single session member by user ID.
	// Empty means session broadcast.
	Target string `json:"target,omitempty"`

	// Seq correlates ping/pong pairs.
	Seq uint64 `json:"seq,omitempty"`

	// Error fields (TypeError, TypeAuthFailed).
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// Payload carries application data untouched.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IsControl reports whether the envelope type is reserved for the
// transport-resilience layer.
func (e *Envelope) IsControl() bool {
	switch e.Type {
	case TypePing, TypePong, TypeAuth, TypeAuthSuccess, TypeAuthFailed,
		TypeJoinSession, TypeUserJoined, TypeLeaveSession, TypeUserLeft:
		return true
	}
	return false
}

// Now returns the current time in unix milliseconds, the envelope
// timestamp resolution.
func Now() int64 {
	return time.Now().UnixMilli()
}

// NewPing creates a heartbeat probe with the given sequence number.
// The timestamp is echoed by the pong and used for latency measurement.
func NewPing(seq uint64) *Envelope {
	return &Envelope{Type: TypePing, Timestamp: Now(), Seq: seq}
}

// NewPong creates the response to a ping, echoing its sequence number
// and timestamp.
func NewPong(ping *Envelope) *Envelope {
	return &Envelope{Type: TypePong, Timestamp: ping.Timestamp, Seq: ping.Seq}
}

// NewJoin creates a session join request.
func NewJoin(sessionID, userID, userName, role string) *Envelope {
	return &Envelope{
		Type:      TypeJoinSession,
		Timestamp: Now(),
		SessionID: sessionID,
		UserID:    userID,
		UserName:  userName,
		Role:      role,
	}
}

// NewLeave creates a session leave announcement.
func NewLeave(sessionID, userID string) *Envelope {
	return &Envelope{
		Type:      TypeLeaveSession,
		Timestamp: Now(),
		SessionID: sessionID,
		UserID:    userID,
	}
}

// NewError creates an error envelope with a code and message.
func NewError(code int, message string) *Envelope {
	return &Envelope{Type: TypeError, Timestamp: Now(), Code: code, Message: message}
}

// NewMessage creates an application-traffic envelope with the given type
// and JSON payload.
func NewMessage(msgType string, payload json.RawMessage) *Envelope {
	return &Envelope{Type: msgType, Timestamp: Now(), Payload: payload}
}
