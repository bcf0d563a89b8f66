package transport

import (
	"context"
	"fmt"
	"strings"
)

// Adapter kinds, used in transport preference order configuration.
const (
	KindWebSocket = "websocket"
	KindSSE       = "sse"
	KindMux       = "mux"
)

// Close codes, mirroring the WebSocket close code space for all adapters.
const (
	// CloseNormal indicates a deliberate, clean close.
	CloseNormal = 1000

	// CloseGoingAway indicates the endpoint is going away (page teardown).
	CloseGoingAway = 1001

	// CloseAbnormal indicates the channel dropped without a close frame.
	CloseAbnormal = 1006
)

// Handler bundles the event callbacks an adapter delivers. Set it before
// Open; nil callbacks are skipped.
type Handler struct {
	// OnOpen fires once when the channel becomes usable, before Open returns.
	OnOpen func()

	// OnMessage delivers one inbound frame.
	OnMessage func(data []byte)

	// OnClose fires when the channel closed with a close code.
	OnClose func(code int, reason string)

	// OnError fires when the channel failed without a clean close.
	OnError func(err error)
}

// Adapter is the uniform interface over concrete transports.
//
// Lifecycle contract: Open dials synchronously and returns an error on
// dial failure (no events delivered). After a successful Open, exactly one
// terminal event (OnClose or OnError) is delivered, never both. After Close
// returns, no further events are delivered.
type Adapter interface {
	// SetHandler installs the event callbacks. Must be called before Open.
	SetHandler(h Handler)

	// Open establishes the channel. The context bounds the dial only.
	Open(ctx context.Context) error

	// Send writes one frame. Returns false if the channel is not open or
	// the write failed. Never queues.
	Send(data []byte) bool

	// Close tears the channel down cleanly and detaches listeners
	// synchronously. Idempotent.
	Close(code int, reason string)

	// Mechanism reports the active underlying mechanism. This can differ
	// from Name for adapters that auto-upgrade (mux: "polling" then
	// "websocket").
	Mechanism() string

	// Name is the adapter kind, matching the Kind constants.
	Name() string
}

// New creates an adapter of the given kind for a realtime base endpoint
// (e.g. https://host/realtime). The scheme is adjusted via DeriveURL and
// the kind's conventional subpath is appended: /ws, /sse or /mux.
func New(kind, endpoint string) (Adapter, error) {
	url, err := DeriveURL(endpoint, kind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindWebSocket:
		return NewWebSocket(joinPath(url, "ws")), nil
	case KindSSE:
		return NewSSE(joinPath(url, "sse"), nil), nil
	case KindMux:
		return NewMux(joinPath(url, "mux"), nil), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
}

func joinPath(base, seg string) string {
	return strings.TrimRight(base, "/") + "/" + seg
}

// Compile-time interface satisfaction checks.
var (
	_ Adapter = (*WebSocket)(nil)
	_ Adapter = (*SSE)(nil)
	_ Adapter = (*Mux)(nil)
)
