package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/parcelview/realtime-go/pkg/wire"
)

// DefaultHandshakeTimeout bounds how long a join waits for its response.
const DefaultHandshakeTimeout = 10 * time.Second

// Handshake errors.
var (
	// ErrNotConnected is returned when the join envelope cannot be
	// handed to the transport. Joining while the link is down is an
	// explicit failure, not a silently queued success.
	ErrNotConnected = errors.New("session: not connected")

	// ErrHandshakeTimeout is returned when no correlated response
	// arrived in time.
	ErrHandshakeTimeout = errors.New("session: handshake timeout")

	// ErrHandshakeAborted is returned when the connection dropped while
	// a handshake was pending.
	ErrHandshakeAborted = errors.New("session: handshake aborted")

	// ErrAlreadyPending is returned when a handshake is already in flight.
	ErrAlreadyPending = errors.New("session: handshake already pending")
)

// AuthError is an explicit rejection from the server. It is terminal:
// the connection manager never retries a rejected handshake.
type AuthError struct {
	Code    int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("session: authentication rejected (code %d): %s", e.Code, e.Message)
}

// SendFunc hands an encoded envelope to the open transport.
// It reports false when the transport is not open.
type SendFunc func(data []byte) bool

// Authenticator drives the post-open join handshake. One handshake may be
// pending at a time; the connection manager routes inbound handshake
// envelopes to Deliver while it waits.
type Authenticator struct {
	timeout time.Duration

	mu      sync.Mutex
	pending *pendingHandshake
}

type pendingHandshake struct {
	sessionID string
	result    chan error
}

// NewAuthenticator creates an Authenticator. A zero timeout uses
// DefaultHandshakeTimeout.
func NewAuthenticator(timeout time.Duration) *Authenticator {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	return &Authenticator{timeout: timeout}
}

// Handshake sends the join envelope for sc and blocks until a correlated
// success or failure envelope arrives, the timeout elapses, or ctx is
// cancelled. Run it on its own goroutine; the connection manager does.
func (a *Authenticator) Handshake(ctx context.Context, sc Context, send SendFunc) error {
	if !sc.Valid() {
		return fmt.Errorf("session: invalid context (sessionId and userId required)")
	}

	p := &pendingHandshake{
		sessionID: sc.SessionID,
		result:    make(chan error, 1),
	}

	a.mu.Lock()
	if a.pending != nil {
		a.mu.Unlock()
		return ErrAlreadyPending
	}
	a.pending = p
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.pending == p {
			a.pending = nil
		}
		a.mu.Unlock()
	}()

	data, err := wire.Encode(sc.JoinEnvelope())
	if err != nil {
		return err
	}
	if !send(data) {
		return ErrNotConnected
	}

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case err := <-p.result:
		return err
	case <-timer.C:
		return ErrHandshakeTimeout
	case <-ctx.Done():
		return fmt.Errorf("session: handshake: %w", ctx.Err())
	}
}

// Deliver routes an inbound envelope to the pending handshake. It returns
// true if the envelope was consumed. Success envelopes are correlated by
// session id, not just type; a response for another session is ignored.
func (a *Authenticator) Deliver(env *wire.Envelope) bool {
	a.mu.Lock()
	p := a.pending
	a.mu.Unlock()
	if p == nil {
		return false
	}

	switch env.Type {
	case wire.TypeAuthSuccess, wire.TypeUserJoined:
		if env.SessionID != p.sessionID {
			return false
		}
		a.resolve(p, nil)
		return true
	case wire.TypeAuthFailed:
		a.resolve(p, &AuthError{Code: env.Code, Message: env.Message})
		return true
	case wire.TypeError:
		a.resolve(p, &AuthError{Code: env.Code, Message: env.Message})
		return true
	}
	return false
}

// Abort fails any pending handshake, used when the transport drops while
// a join is in flight.
func (a *Authenticator) Abort() {
	a.mu.Lock()
	p := a.pending
	a.mu.Unlock()
	if p != nil {
		a.resolve(p, ErrHandshakeAborted)
	}
}

func (a *Authenticator) resolve(p *pendingHandshake, err error) {
	select {
	case p.result <- err:
	default:
		// Already resolved.
	}
}
