// Package session provides the identity context and post-open handshake
// that gate when a realtime connection is considered ready.
//
// The handshake sends a join envelope immediately after transport open and
// resolves only on a success envelope correlated by session id, so
// responses for other sessions on a shared connection are never mistaken
// for ours. On every reconnect the connection manager re-runs the same
// handshake with the stored Context; callers never re-join manually.
package session

import (
	"github.com/parcelview/realtime-go/pkg/wire"
)

// Context carries the session identity submitted on every (re)join.
// Set once before connecting; cleared explicitly on leave.
type Context struct {
	SessionID string `json:"sessionId" yaml:"sessionId"`
	UserID    string `json:"userId" yaml:"userId"`
	UserName  string `json:"userName,omitempty" yaml:"userName,omitempty"`
	Role      string `json:"role,omitempty" yaml:"role,omitempty"`
}

// Valid reports whether the context identifies a session and a user.
func (c Context) Valid() bool {
	return c.SessionID != "" && c.UserID != ""
}

// JoinEnvelope builds the join request for this context.
func (c Context) JoinEnvelope() *wire.Envelope {
	return wire.NewJoin(c.SessionID, c.UserID, c.UserName, c.Role)
}

// LeaveEnvelope builds the leave announcement for this context.
func (c Context) LeaveEnvelope() *wire.Envelope {
	return wire.NewLeave(c.SessionID, c.UserID)
}
