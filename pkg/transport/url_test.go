package transport

import (
	"testing"
)

func TestDeriveURL(t *testing.T) {
	tests := []struct {
		base string
		kind string
		want string
	}{
		{"http://assess.example.com/realtime", KindWebSocket, "ws://assess.example.com/realtime"},
		{"https://assess.example.com/realtime", KindWebSocket, "wss://assess.example.com/realtime"},
		{"ws://assess.example.com/realtime", KindWebSocket, "ws://assess.example.com/realtime"},
		{"wss://assess.example.com/realtime", KindWebSocket, "wss://assess.example.com/realtime"},
		{"ws://assess.example.com/realtime", KindSSE, "http://assess.example.com/realtime"},
		{"wss://assess.example.com/realtime", KindSSE, "https://assess.example.com/realtime"},
		{"http://assess.example.com/realtime", KindSSE, "http://assess.example.com/realtime"},
		{"https://assess.example.com/realtime", KindMux, "https://assess.example.com/realtime"},
		{"wss://assess.example.com/realtime", KindMux, "https://assess.example.com/realtime"},
	}

	for _, tt := range tests {
		t.Run(tt.kind+"_"+tt.base, func(t *testing.T) {
			got, err := DeriveURL(tt.base, tt.kind)
			if err != nil {
				t.Fatalf("DeriveURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DeriveURL(%q, %q) = %q, want %q", tt.base, tt.kind, got, tt.want)
			}
		})
	}

	t.Run("UnsupportedScheme", func(t *testing.T) {
		if _, err := DeriveURL("ftp://example.com", KindWebSocket); err == nil {
			t.Error("expected error for ftp scheme")
		}
	})

	t.Run("UnknownKind", func(t *testing.T) {
		if _, err := DeriveURL("http://example.com", "carrier-pigeon"); err == nil {
			t.Error("expected error for unknown kind")
		}
	})
}

func TestNewAppendsKindSubpath(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{KindWebSocket, "ws://assess.example.com/realtime/ws"},
		{KindSSE, "http://assess.example.com/realtime/sse"},
		{KindMux, "http://assess.example.com/realtime/mux"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			a, err := New(tt.kind, "http://assess.example.com/realtime")
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			var got string
			switch ad := a.(type) {
			case *WebSocket:
				got = ad.url
			case *SSE:
				got = ad.url
			case *Mux:
				got = ad.url
			}
			if got != tt.want {
				t.Errorf("New(%q) url = %q, want %q", tt.kind, got, tt.want)
			}
		})
	}
}

func TestNewUnknownKind(t *testing.T) {
	if _, err := New("telepathy", "http://example.com"); err == nil {
		t.Error("expected error for unknown transport kind")
	}
}
