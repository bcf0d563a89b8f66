// Package wire defines the JSON message envelope shared by all realtime
// transports.
//
// Every message is a single JSON object with a "type" discriminator and a
// millisecond timestamp. A small set of type values is reserved for control
// traffic (heartbeat, session handshake, membership, errors); everything else
// is application traffic and is passed through to subscribers untouched.
package wire
