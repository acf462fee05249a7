package protocol

// State is the connection state of the protocol client.
//
// The happy path is disconnected → connecting → connected → initializing →
// ready. StateError is reachable from any non-terminal state. Discovery and
// invocation requests are sent directly only in StateReady; earlier states
// buffer them.
type State int

const (
	// StateDisconnected means no transport connection exists.
	StateDisconnected State = iota
	// StateConnecting means a transport connect is in progress.
	StateConnecting
	// StateConnected means the transport is up but the handshake has not started.
	StateConnected
	// StateInitializing means the initialize exchange is in flight.
	StateInitializing
	// StateReady means the handshake completed and requests flow directly.
	StateReady
	// StateError means the current connection cycle failed. A new connect
	// cycle may recover.
	StateError
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
