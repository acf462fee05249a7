package mcpclient

import (
	"github.com/toolwire/mcp-client-go/internal/errors"
)

// Sentinel errors, re-exported so callers can match with errors.Is without
// importing internal packages.
var (
	ErrConnectionLost    = errors.ErrConnectionLost
	ErrNotConnected      = errors.ErrNotConnected
	ErrAlreadyConnected  = errors.ErrAlreadyConnected
	ErrClientClosed      = errors.ErrClientClosed
	ErrRequestTimeout    = errors.ErrRequestTimeout
	ErrSendQueueFull     = errors.ErrSendQueueFull
	ErrQueueFull         = errors.ErrQueueFull
	ErrQueueDestroyed    = errors.ErrQueueDestroyed
	ErrCancelled         = errors.ErrCancelled
	ErrUnsupportedMethod = errors.ErrUnsupportedMethod
	ErrToolNotFound      = errors.ErrToolNotFound
	ErrToolExists        = errors.ErrToolExists
	ErrToolUnavailable   = errors.ErrToolUnavailable
)

// Typed errors, re-exported for errors.As matching.
type (
	// RPCError is an error envelope returned by the remote peer.
	RPCError = errors.RPCError

	// HandshakeError indicates the initialize exchange failed.
	HandshakeError = errors.HandshakeError

	// ValidationError indicates invalid input rejected before any request
	// was sent.
	ValidationError = errors.ValidationError

	// PermissionError carries every violated reason for a denied tool call.
	PermissionError = errors.PermissionError

	// LoadError indicates a provider loader failed to load a tool.
	LoadError = errors.LoadError

	// ErrorKind classifies an error for retry-policy decisions.
	ErrorKind = errors.Kind
)

// Error kinds.
const (
	KindTransport   = errors.KindTransport
	KindRPC         = errors.KindRPC
	KindTimeout     = errors.KindTimeout
	KindCapacity    = errors.KindCapacity
	KindValidation  = errors.KindValidation
	KindPermission  = errors.KindPermission
	KindCancelled   = errors.KindCancelled
	KindUnsupported = errors.KindUnsupported
	KindUnavailable = errors.KindUnavailable
	KindInternal    = errors.KindInternal
	KindUnknown     = errors.KindUnknown
)

// KindOf classifies err. Errors produced by this module map onto fixed
// kinds; anything else is KindUnknown.
func KindOf(err error) ErrorKind {
	return errors.KindOf(err)
}
