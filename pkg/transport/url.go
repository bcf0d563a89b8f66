package transport

import (
	"fmt"
	"net/url"
)

// DeriveURL adjusts the scheme of a base URL for a transport kind, so a
// caller configuring only its page origin gets correct endpoints:
// http↔ws and https↔wss mirroring.
//
// WebSocket and mux-upgrade endpoints want ws/wss; SSE and the polling
// carriers want http/https.
func DeriveURL(base, kind string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", base, err)
	}

	switch kind {
	case KindWebSocket:
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		case "ws", "wss":
			// Already a websocket scheme.
		default:
			return "", fmt.Errorf("endpoint %q: unsupported scheme %q", base, u.Scheme)
		}
	case KindSSE, KindMux:
		switch u.Scheme {
		case "ws":
			u.Scheme = "http"
		case "wss":
			u.Scheme = "https"
		case "http", "https":
			// Already an HTTP scheme.
		default:
			return "", fmt.Errorf("endpoint %q: unsupported scheme %q", base, u.Scheme)
		}
	default:
		return "", fmt.Errorf("unknown transport kind %q", kind)
	}

	return u.String(), nil
}
