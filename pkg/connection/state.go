package connection

// State represents the connection state. Exactly one state holds at a
// time; transitions are the only mutator.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateAuthenticating indicates the transport is open and the session
	// handshake is in flight.
	StateAuthenticating

	// StateConnected indicates an active, ready connection.
	StateConnected

	// StateReconnecting indicates the manager is waiting out a backoff
	// delay before the next attempt.
	StateReconnecting

	// StateFailed indicates retries are exhausted or authentication was
	// rejected. Terminal until Reconnect is called explicitly.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
