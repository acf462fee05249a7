// Package protocol implements the client side of the JSON-RPC-shaped
// tool-invocation protocol.
//
// The Client owns the connection state machine, performs the
// initialize/initialized handshake, and correlates request/response/
// notification traffic over an injected Transport. It preserves no
// cross-request ordering beyond per-id correlation; responses may arrive in
// any order relative to their requests.
//
// Requests issued before the handshake completes are buffered in a bounded
// queue and flushed in order once the client is ready. On disconnect, every
// pending and buffered request is rejected with a connection-lost error; no
// response is ever invented.
package protocol
