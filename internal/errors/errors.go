package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for retry-policy decisions.
//
// Classification is structural: every error surfaced by this module either
// is (or wraps) a typed error with an explicit kind, so callers never need
// to match on message text.
type Kind string

const (
	// KindTransport covers connection-level failures (connection lost,
	// send failure). Transient by nature; a later connect cycle may succeed.
	KindTransport Kind = "transport"

	// KindRPC covers error envelopes returned by the remote peer.
	KindRPC Kind = "rpc"

	// KindTimeout covers local request timeouts. Kept distinct from KindRPC
	// so the queue can apply a different policy to them.
	KindTimeout Kind = "timeout"

	// KindCapacity covers full-queue rejections.
	KindCapacity Kind = "capacity"

	// KindValidation covers bad input rejected before any request is sent.
	KindValidation Kind = "validation"

	// KindPermission covers permission denials.
	KindPermission Kind = "permission"

	// KindCancelled covers caller-initiated cancellation.
	KindCancelled Kind = "cancelled"

	// KindUnsupported covers method names no executor recognizes.
	KindUnsupported Kind = "unsupported"

	// KindUnavailable covers temporary remote unavailability.
	KindUnavailable Kind = "unavailable"

	// KindInternal covers internal-server-error-shaped remote failures.
	KindInternal Kind = "internal"

	// KindUnknown is returned for errors this package cannot classify.
	KindUnknown Kind = "unknown"
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrConnectionLost indicates the transport disconnected while requests
	// were pending or buffered.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNotConnected indicates the client is not connected.
	ErrNotConnected = errors.New("client not connected")

	// ErrAlreadyConnected indicates the client is already connected.
	ErrAlreadyConnected = errors.New("client already connected")

	// ErrClientClosed indicates the client has been closed and cannot be reused.
	ErrClientClosed = errors.New("client closed")

	// ErrRequestTimeout indicates a request timed out before a response arrived.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrSendQueueFull indicates the disconnected-send buffer is at capacity.
	ErrSendQueueFull = errors.New("send queue full")

	// ErrQueueFull indicates the request queue waiting list is at capacity.
	ErrQueueFull = errors.New("request queue full")

	// ErrQueueDestroyed indicates the request queue has been destroyed.
	ErrQueueDestroyed = errors.New("request queue destroyed")

	// ErrCancelled indicates the request was cancelled before settlement.
	ErrCancelled = errors.New("request cancelled")

	// ErrUnsupportedMethod indicates no executor handler exists for a method.
	ErrUnsupportedMethod = errors.New("unsupported method")

	// ErrToolNotFound indicates the named tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolExists indicates a tool with the same name already exists.
	ErrToolExists = errors.New("tool already exists")

	// ErrToolUnavailable indicates the remote peer does not expose the tool.
	ErrToolUnavailable = errors.New("tool unavailable on remote peer")
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RPCError is an error envelope returned by the remote peer. The code and
// message are surfaced verbatim to the caller.
type RPCError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Kind maps the JSON-RPC error code onto a retry-policy kind. Internal
// server errors are treated as transient; everything else from the peer
// is not.
func (e *RPCError) Kind() Kind {
	if e.Code == CodeInternalError {
		return KindInternal
	}

	return KindRPC
}

// HandshakeError indicates the initialize exchange failed. Fatal for the
// current connection cycle, recoverable by reconnecting.
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed: %v", e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// ValidationError indicates a registration descriptor failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Kind implements kinder.
func (e *ValidationError) Kind() Kind { return KindValidation }

// PermissionError carries every violated reason for a denied tool call,
// not just the first.
type PermissionError struct {
	Tool    string
	Reasons []string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied for tool %q: %s", e.Tool, strings.Join(e.Reasons, "; "))
}

// Kind implements kinder.
func (e *PermissionError) Kind() Kind { return KindPermission }

// LoadError indicates a provider loader failed to load a tool. The
// registration itself survives a load failure.
type LoadError struct {
	Tool     string
	Provider string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load tool %q via provider %q: %v", e.Tool, e.Provider, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err so retry policy treats it as transient
// remote unavailability.
func Unavailable(err error) error {
	return &kinded{kind: KindUnavailable, err: err}
}

// Transport wraps err as a transport-level failure.
func Transport(err error) error {
	return &kinded{kind: KindTransport, err: err}
}

type kinded struct {
	kind Kind
	err  error
}

func (e *kinded) Error() string { return e.err.Error() }
func (e *kinded) Unwrap() error { return e.err }
func (e *kinded) Kind() Kind    { return e.kind }

// kinder is implemented by errors that know their own kind.
type kinder interface {
	Kind() Kind
}

// KindOf classifies err. Sentinels and typed errors defined in this package
// map onto fixed kinds; anything else is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}

	switch {
	case errors.Is(err, ErrRequestTimeout):
		return KindTimeout
	case errors.Is(err, ErrConnectionLost),
		errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrClientClosed):
		return KindTransport
	case errors.Is(err, ErrSendQueueFull),
		errors.Is(err, ErrQueueFull),
		errors.Is(err, ErrQueueDestroyed):
		return KindCapacity
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrUnsupportedMethod):
		return KindUnsupported
	case errors.Is(err, ErrToolUnavailable):
		return KindUnavailable
	}

	return KindUnknown
}
