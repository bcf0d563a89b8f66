package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelview/realtime-go/pkg/wire"
)

func testContext() Context {
	return Context{
		SessionID: "sess-1",
		UserID:    "user-1",
		UserName:  "Alice",
		Role:      "assessor",
	}
}

func TestContext(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		assert.True(t, testContext().Valid())
		assert.False(t, Context{SessionID: "s"}.Valid())
		assert.False(t, Context{UserID: "u"}.Valid())
		assert.False(t, Context{}.Valid())
	})

	t.Run("JoinEnvelope", func(t *testing.T) {
		env := testContext().JoinEnvelope()
		assert.Equal(t, wire.TypeJoinSession, env.Type)
		assert.Equal(t, "sess-1", env.SessionID)
		assert.Equal(t, "user-1", env.UserID)
		assert.Equal(t, "Alice", env.UserName)
	})

	t.Run("LeaveEnvelope", func(t *testing.T) {
		env := testContext().LeaveEnvelope()
		assert.Equal(t, wire.TypeLeaveSession, env.Type)
		assert.Equal(t, "sess-1", env.SessionID)
	})
}

// runHandshake starts a handshake on a goroutine and returns a channel
// with its result plus the envelope that was sent.
func runHandshake(t *testing.T, a *Authenticator, sc Context) (<-chan error, *wire.Envelope) {
	t.Helper()

	sentCh := make(chan *wire.Envelope, 1)
	send := func(data []byte) bool {
		env, err := wire.Decode(data)
		require.NoError(t, err)
		sentCh <- env
		return true
	}

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- a.Handshake(context.Background(), sc, send)
	}()

	select {
	case env := <-sentCh:
		return resultCh, env
	case <-time.After(time.Second):
		t.Fatal("join envelope never sent")
		return nil, nil
	}
}

func TestHandshakeSuccess(t *testing.T) {
	a := NewAuthenticator(time.Second)
	resultCh, sent := runHandshake(t, a, testContext())

	assert.Equal(t, wire.TypeJoinSession, sent.Type)
	assert.Equal(t, "sess-1", sent.SessionID)

	consumed := a.Deliver(&wire.Envelope{Type: wire.TypeUserJoined, SessionID: "sess-1"})
	assert.True(t, consumed)

	select {
	case err := <-resultCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("handshake did not resolve")
	}
}

func TestHandshakeCorrelationBySessionID(t *testing.T) {
	a := NewAuthenticator(time.Second)
	resultCh, _ := runHandshake(t, a, testContext())

	// A success for a different session on a shared connection must not
	// resolve our handshake.
	consumed := a.Deliver(&wire.Envelope{Type: wire.TypeAuthSuccess, SessionID: "other-session"})
	assert.False(t, consumed)

	select {
	case err := <-resultCh:
		t.Fatalf("handshake resolved on cross-talk: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// The correctly correlated one resolves it.
	assert.True(t, a.Deliver(&wire.Envelope{Type: wire.TypeAuthSuccess, SessionID: "sess-1"}))
	require.NoError(t, <-resultCh)
}

func TestHandshakeRejection(t *testing.T) {
	a := NewAuthenticator(time.Second)
	resultCh, _ := runHandshake(t, a, testContext())

	a.Deliver(&wire.Envelope{Type: wire.TypeAuthFailed, Code: 401, Message: "bad token"})

	err := <-resultCh
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 401, authErr.Code)
	assert.Equal(t, "bad token", authErr.Message)
}

func TestHandshakeTimeout(t *testing.T) {
	a := NewAuthenticator(50 * time.Millisecond)

	err := a.Handshake(context.Background(), testContext(), func([]byte) bool { return true })
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
}

func TestHandshakeNotConnected(t *testing.T) {
	// Joining while the link is down fails explicitly rather than
	// queuing the join and resolving immediately.
	a := NewAuthenticator(time.Second)

	err := a.Handshake(context.Background(), testContext(), func([]byte) bool { return false })
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestHandshakeAbort(t *testing.T) {
	a := NewAuthenticator(time.Second)
	resultCh, _ := runHandshake(t, a, testContext())

	a.Abort()
	assert.ErrorIs(t, <-resultCh, ErrHandshakeAborted)

	// Abort with nothing pending is a no-op.
	a.Abort()
}

func TestHandshakeInvalidContext(t *testing.T) {
	a := NewAuthenticator(time.Second)
	err := a.Handshake(context.Background(), Context{}, func([]byte) bool { return true })
	assert.Error(t, err)
}

func TestHandshakeAlreadyPending(t *testing.T) {
	a := NewAuthenticator(time.Second)
	resultCh, _ := runHandshake(t, a, testContext())

	err := a.Handshake(context.Background(), testContext(), func([]byte) bool { return true })
	assert.ErrorIs(t, err, ErrAlreadyPending)

	a.Deliver(&wire.Envelope{Type: wire.TypeUserJoined, SessionID: "sess-1"})
	require.NoError(t, <-resultCh)
}

func TestHandshakeContextCancelled(t *testing.T) {
	a := NewAuthenticator(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan error, 1)
	go func() {
		resultCh <- a.Handshake(ctx, testContext(), func([]byte) bool { return true })
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-resultCh
	assert.True(t, errors.Is(err, context.Canceled), "err = %v", err)
}
