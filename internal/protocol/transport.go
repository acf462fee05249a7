package protocol

import (
	"context"
	"encoding/json"
)

// TransportEventKind discriminates transport signals.
type TransportEventKind int

const (
	// TransportConnected signals the underlying connection came up.
	TransportConnected TransportEventKind = iota
	// TransportDisconnected signals the underlying connection dropped.
	TransportDisconnected
	// TransportMessage carries one inbound framed payload.
	TransportMessage
	// TransportError carries a transport-level error. The connection may or
	// may not survive; a separate disconnected event follows if it does not.
	TransportError
)

// TransportEvent is one signal emitted by a Transport.
type TransportEvent struct {
	Kind    TransportEventKind
	Payload json.RawMessage
	Err     error
}

// Transport defines the minimal interface the protocol client needs from the
// underlying connection: ordered, reliable, framed message delivery plus
// connect/disconnect/message/error signals.
//
// Framing, authentication, and socket-level reconnection are the transport's
// concern; this interface is satisfied by mock transports under test.
type Transport interface {
	// Connect establishes the connection. A TransportConnected event follows
	// on the Events channel once the connection is usable.
	Connect(ctx context.Context) error

	// Send delivers one outbound framed payload.
	Send(ctx context.Context, data []byte) error

	// Connected reports the current connection status.
	Connected() bool

	// Events emits connection lifecycle signals and inbound messages.
	// The channel is closed when the transport shuts down permanently.
	Events() <-chan TransportEvent

	// Close tears the connection down. Safe to call multiple times.
	Close() error
}
