package config

import (
	"io"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/toolwire/mcp-client-go/internal/events"
	"github.com/toolwire/mcp-client-go/internal/queue"
	"github.com/toolwire/mcp-client-go/internal/registry"
)

// Options configures a client. The zero value is usable; every field has a
// working default.
type Options struct {
	// Logger receives debug output. If nil, logging is disabled.
	Logger *slog.Logger

	// RequestTimeout is the per-request response deadline for protocol
	// operations. Zero means the protocol default (30s).
	RequestTimeout time.Duration

	// SendQueueLimit bounds how many requests may be buffered while the
	// connection is not yet ready.
	SendQueueLimit int

	// ClientInfo identifies this client during the handshake.
	ClientInfo *mcp.Implementation

	// Capabilities are the client capabilities offered during the handshake.
	Capabilities *mcp.ClientCapabilities

	// Queue configures the request queue (concurrency, capacity, tick
	// interval, rate limiting).
	Queue queue.Config

	// Registry configures the tool registry (trust defaults, security flag
	// defaults, cleanup policy).
	Registry registry.Config

	// RetryStrategy overrides the queue's default exponential backoff.
	RetryStrategy queue.RetryStrategy

	// Bus overrides the client's event bus. Sharing one bus across
	// components lets a single observer see all events.
	Bus *events.Bus
}

// ApplyDefaults fills unset fields.
func (o *Options) ApplyDefaults() {
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if o.Bus == nil {
		o.Bus = events.NewBus(o.Logger)
	}
}
