package relay

import (
	"sync"

	"github.com/parcelview/realtime-go/pkg/wire"
)

// outBufferSize bounds a client's outbound pump. A member that stops
// draining loses frames rather than stalling the whole session.
const outBufferSize = 64

// client is one connected peer, regardless of transport. The transport
// handler drains out and feeds inbound envelopes to handleEnvelope.
type client struct {
	id string

	out  chan []byte
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	sessionID string
	userID    string
	userName  string
	role      string
}

func newClient(id string) *client {
	return &client{
		id:   id,
		out:  make(chan []byte, outBufferSize),
		done: make(chan struct{}),
	}
}

// enqueue hands a frame to the client's pump without blocking. Frames to
// a full pump are dropped.
func (c *client) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.out <- data:
	default:
	}
}

func (c *client) enqueueEnv(env *wire.Envelope) {
	data, err := wire.Encode(env)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// close releases the pump. Idempotent.
func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) setIdentity(sessionID, userID, userName, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.userID = userID
	c.userName = userName
	c.role = role
}

func (c *client) identity() (sessionID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.userID
}
