// Package connection provides the resilient realtime connection manager:
// a reconnection state machine over a transport adapter, with exponential
// backoff, heartbeat liveness, an outbound queue that replays across
// reconnects, and a session handshake gating readiness.
//
// # Reconnection Strategy
//
// When a connection is lost, the manager uses exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds
//  4. Reset to 1s on successful reconnection
//
// Jitter perturbs each delay by up to ±25% to prevent synchronized retry
// storms across many clients.
//
// A transport is not abandoned after a single failure: only after its
// attempt budget is exhausted does the manager fall back to the next
// transport in the configured preference order, with a fresh budget. When
// the last transport's budget runs out the manager enters Failed and stays
// there until Reconnect is called explicitly.
package connection
