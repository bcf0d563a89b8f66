// Package transport provides a uniform adapter interface over the concrete
// realtime channel mechanisms: WebSocket, Server-Sent Events, and a
// multiplexed polling/websocket hybrid.
//
// Adapters normalize channel events into a Handler callback bundle and
// guarantee exactly one terminal event (OnClose or OnError) per successful
// Open. Adapters never queue outbound data; Send fails fast when the channel
// is not open. Buffering while disconnected is the connection manager's job.
package transport
