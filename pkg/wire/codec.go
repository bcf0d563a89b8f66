package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Codec errors.
var (
	ErrMissingType = errors.New("envelope missing type")
)

// Encode serializes an envelope to JSON.
func Encode(e *Envelope) ([]byte, error) {
	if e.Type == "" {
		return nil, ErrMissingType
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses a JSON envelope. A decoded envelope must carry a
// non-empty type; anything else is rejected rather than dispatched.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Type == "" {
		return nil, ErrMissingType
	}
	return &e, nil
}

// MustEncode serializes an envelope, panicking on failure. Only for use
// with envelopes built by the constructors in this package, which cannot
// fail to marshal.
func MustEncode(e *Envelope) []byte {
	data, err := Encode(e)
	if err != nil {
		panic(err)
	}
	return data
}
