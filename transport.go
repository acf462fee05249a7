package mcpclient

import (
	"github.com/toolwire/mcp-client-go/internal/protocol"
)

// Transport moves JSON-RPC payloads between the client and a peer. Stdio,
// socket, and in-process implementations all satisfy this interface; the
// client owns the lifecycle and never assumes a particular medium.
type Transport = protocol.Transport

// TransportEvent is a connection or message event emitted by a Transport.
type TransportEvent = protocol.TransportEvent

// TransportEventKind discriminates TransportEvent values.
type TransportEventKind = protocol.TransportEventKind

// Transport event kinds.
const (
	TransportConnected    = protocol.TransportConnected
	TransportDisconnected = protocol.TransportDisconnected
	TransportMessage      = protocol.TransportMessage
	TransportError        = protocol.TransportError
)
