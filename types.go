package mcpclient

import (
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/toolwire/mcp-client-go/internal/events"
	"github.com/toolwire/mcp-client-go/internal/protocol"
	"github.com/toolwire/mcp-client-go/internal/queue"
	"github.com/toolwire/mcp-client-go/internal/registry"
)

// Wire-level types from the MCP SDK, re-exported so most callers only need
// this package.
type (
	// Tool describes a callable capability exposed by the peer.
	Tool = mcp.Tool

	// Resource describes a readable resource exposed by the peer.
	Resource = mcp.Resource

	// Prompt describes a prompt template exposed by the peer.
	Prompt = mcp.Prompt

	// CallToolParams are the parameters of a tools/call request.
	CallToolParams = mcp.CallToolParams

	// CallToolResult is the result of a tool invocation.
	CallToolResult = mcp.CallToolResult

	// ReadResourceResult is the result of a resource read.
	ReadResourceResult = mcp.ReadResourceResult

	// GetPromptResult is the result of a prompt fetch.
	GetPromptResult = mcp.GetPromptResult

	// Implementation identifies a client or server on the wire.
	Implementation = mcp.Implementation

	// ClientCapabilities are offered by the client during the handshake.
	ClientCapabilities = mcp.ClientCapabilities

	// ServerCapabilities are returned by the peer during the handshake.
	ServerCapabilities = mcp.ServerCapabilities

	// Schema is a JSON Schema describing tool input.
	Schema = jsonschema.Schema
)

// Connection state, exposed for observers of the state event.
type State = protocol.State

// Connection states.
const (
	StateDisconnected = protocol.StateDisconnected
	StateConnecting   = protocol.StateConnecting
	StateConnected    = protocol.StateConnected
	StateInitializing = protocol.StateInitializing
	StateReady        = protocol.StateReady
	StateError        = protocol.StateError
)

// JSON-RPC method names accepted by Enqueue.
const (
	MethodToolsList     = protocol.MethodToolsList
	MethodToolsCall     = protocol.MethodToolsCall
	MethodResourcesList = protocol.MethodResourcesList
	MethodResourcesRead = protocol.MethodResourcesRead
	MethodPromptsList   = protocol.MethodPromptsList
	MethodPromptsGet    = protocol.MethodPromptsGet
)

// Queue types.
type (
	// Priority orders queued requests; higher dispatches first.
	Priority = queue.Priority

	// Status is the lifecycle state of a queued request.
	Status = queue.Status

	// Ticket is the handle returned by Enqueue.
	Ticket = queue.Ticket

	// Future resolves exactly once with the request's outcome.
	Future = queue.Future

	// EnqueueOption customizes a single queued request.
	EnqueueOption = queue.EnqueueOption

	// RateLimit is a sliding-window dispatch limit.
	RateLimit = queue.RateLimit
)

// Priorities.
const (
	PriorityLow      = queue.PriorityLow
	PriorityNormal   = queue.PriorityNormal
	PriorityHigh     = queue.PriorityHigh
	PriorityCritical = queue.PriorityCritical
)

// Request statuses.
const (
	StatusPending    = queue.StatusPending
	StatusProcessing = queue.StatusProcessing
	StatusCompleted  = queue.StatusCompleted
	StatusFailed     = queue.StatusFailed
	StatusCancelled  = queue.StatusCancelled
	StatusTimeout    = queue.StatusTimeout
)

// WithPriority sets the priority of a queued request.
func WithPriority(p Priority) EnqueueOption {
	return queue.WithPriority(p)
}

// WithTimeout overrides the queue's default execution timeout for one request.
func WithTimeout(d time.Duration) EnqueueOption {
	return queue.WithTimeout(d)
}

// WithMaxRetries overrides the retry ceiling for one request.
func WithMaxRetries(n int) EnqueueOption {
	return queue.WithMaxRetries(n)
}

// WithDelay holds a request back for at least d before its first dispatch.
func WithDelay(d time.Duration) EnqueueOption {
	return queue.WithDelay(d)
}

// WithTags attaches free-form tags to a queued request.
func WithTags(tags ...string) EnqueueOption {
	return queue.WithTags(tags...)
}

// Registry types.
type (
	// Descriptor is the caller-supplied shape of a tool registration.
	Descriptor = registry.Descriptor

	// Metadata is a registered tool's full record.
	Metadata = registry.Metadata

	// RegisterOptions customize a registration.
	RegisterOptions = registry.RegisterOptions

	// TrustLevel grades how much a tool's provider is trusted.
	TrustLevel = registry.TrustLevel

	// ExecContext describes the caller for permission checks.
	ExecContext = registry.ExecContext

	// Decision is the outcome of a permission check, with every violated
	// reason collected.
	Decision = registry.Decision

	// SecurityPolicy holds a tool's permission requirements.
	SecurityPolicy = registry.SecurityPolicy

	// AccessRestriction is a named predicate over the execution context.
	AccessRestriction = registry.AccessRestriction

	// ToolProvider identifies where a tool came from.
	ToolProvider = registry.Provider

	// ToolStats are a tool's usage counters.
	ToolStats = registry.Stats

	// ToolFilter selects tools for registry queries.
	ToolFilter = registry.Filter

	// Compatibility is the result of a version compatibility check.
	Compatibility = registry.Compatibility
)

// Trust levels, from least to most trusted.
const (
	TrustUntrusted = registry.TrustUntrusted
	TrustLow       = registry.TrustLow
	TrustMedium    = registry.TrustMedium
	TrustHigh      = registry.TrustHigh
	TrustSystem    = registry.TrustSystem
)

// Event names accepted by Subscribe.
const (
	EventState            = events.EventState
	EventReady            = events.EventReady
	EventError            = events.EventError
	EventNotification     = events.EventNotification
	EventProgress         = events.EventProgress
	EventCancelled        = events.EventCancelled
	EventPeerRequest      = events.EventPeerRequest
	EventResourcesUpdated = events.EventResourcesUpdated
	EventPromptsUpdated   = events.EventPromptsUpdated
	EventToolAudit        = events.EventToolAudit
)
