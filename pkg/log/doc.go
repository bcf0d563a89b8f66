// Package log provides protocol capture logging for the realtime
// connection layer.
//
// Capture events record what crossed the wire and what the connection
// state machine did, independent of operational (slog) logging. Events are
// written as a CBOR stream (.rtlog files) via FileLogger and read back with
// Reader, or mirrored to the console via SlogAdapter.
//
// Logging is opt-in: components accept a Logger and treat nil or
// NoopLogger as disabled.
package log
