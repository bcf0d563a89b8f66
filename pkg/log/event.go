package log

import (
	"time"
)

// Event represents a capture event recorded at any layer of the realtime
// stack. CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Transport is the adapter kind carrying the connection
	// (websocket, sse, mux).
	Transport string `cbor:"6,keyasint,omitempty"`

	// SessionID is the session identifier (populated after join).
	SessionID string `cbor:"7,keyasint,omitempty"`

	// Endpoint is the remote endpoint URL.
	Endpoint string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (exactly one is set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Envelope    *EnvelopeEvent    `cbor:"11,keyasint,omitempty"` // Decoded envelope
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection/session state
	Control     *ControlEvent     `cbor:"13,keyasint,omitempty"` // Ping/pong/handshake
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer of the stack captured the event.
type Layer uint8

const (
	// LayerTransport is the raw adapter layer (frames, open/close).
	LayerTransport Layer = 0
	// LayerEnvelope is the decoded envelope layer.
	LayerEnvelope Layer = 1
	// LayerSession is the session handshake layer.
	LayerSession Layer = 2
	// LayerTelemetry is the telemetry delivery layer.
	LayerTelemetry Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerEnvelope:
		return "ENVELOPE"
	case LayerSession:
		return "SESSION"
	case LayerTelemetry:
		return "TELEMETRY"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates application traffic.
	CategoryMessage Category = 0
	// CategoryControl indicates control traffic (heartbeat, handshake).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// EnvelopeEvent captures a decoded envelope summary.
type EnvelopeEvent struct {
	// Type is the envelope type discriminator.
	Type string `cbor:"1,keyasint"`

	// Seq is the ping/pong sequence, if any.
	Seq uint64 `cbor:"2,keyasint,omitempty"`

	// SessionID from the envelope, if any.
	SessionID string `cbor:"3,keyasint,omitempty"`

	// PayloadSize is the payload length in bytes.
	PayloadSize int `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures connection and session lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntitySession indicates a session state change.
	StateEntitySession StateEntity = 1
	// StateEntityTransport indicates a transport mechanism change
	// (e.g. a mux adapter upgrading polling to websocket).
	StateEntityTransport StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySession:
		return "SESSION"
	case StateEntityTransport:
		return "TRANSPORT"
	default:
		return "UNKNOWN"
	}
}

// ControlEvent captures heartbeat and handshake control traffic.
type ControlEvent struct {
	// Type of control message.
	Type ControlType `cbor:"1,keyasint"`

	// Seq is the heartbeat sequence number, if applicable.
	Seq uint64 `cbor:"2,keyasint,omitempty"`

	// LatencyNs is the measured round-trip latency for pongs.
	LatencyNs int64 `cbor:"3,keyasint,omitempty"`
}

// ControlType indicates the type of control message.
type ControlType uint8

const (
	// ControlPing indicates a heartbeat probe.
	ControlPing ControlType = 0
	// ControlPong indicates a heartbeat response.
	ControlPong ControlType = 1
	// ControlJoin indicates a session join request.
	ControlJoin ControlType = 2
	// ControlLeave indicates a session leave.
	ControlLeave ControlType = 3
)

// String returns the control type name.
func (c ControlType) String() string {
	switch c {
	case ControlPing:
		return "PING"
	case ControlPong:
		return "PONG"
	case ControlJoin:
		return "JOIN"
	case ControlLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
