package mcpclient

import (
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/toolwire/mcp-client-go/internal/config"
	"github.com/toolwire/mcp-client-go/internal/events"
	"github.com/toolwire/mcp-client-go/internal/queue"
	"github.com/toolwire/mcp-client-go/internal/registry"
)

// Option configures a Client during construction.
type Option func(*config.Options)

// WithLogger sets the slog logger for debug output. Without it, the client
// is silent.
func WithLogger(log *slog.Logger) Option {
	return func(o *config.Options) {
		o.Logger = log
	}
}

// WithRequestTimeout sets the per-request response deadline for protocol
// operations.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *config.Options) {
		o.RequestTimeout = d
	}
}

// WithSendQueueLimit bounds the buffer for requests issued before the
// connection is ready.
func WithSendQueueLimit(n int) Option {
	return func(o *config.Options) {
		o.SendQueueLimit = n
	}
}

// WithClientInfo sets the identity sent during the handshake.
func WithClientInfo(name, version string) Option {
	return func(o *config.Options) {
		o.ClientInfo = &mcp.Implementation{Name: name, Version: version}
	}
}

// WithCapabilities sets the client capabilities offered during the handshake.
func WithCapabilities(caps *mcp.ClientCapabilities) Option {
	return func(o *config.Options) {
		o.Capabilities = caps
	}
}

// WithQueueConfig configures the request queue.
func WithQueueConfig(cfg QueueConfig) Option {
	return func(o *config.Options) {
		o.Queue = cfg
	}
}

// WithRateLimit enables sliding-window rate limiting on queued dispatch.
func WithRateLimit(maxRequests int, window time.Duration) Option {
	return func(o *config.Options) {
		o.Queue.RateLimit = &queue.RateLimit{MaxRequests: maxRequests, Window: window}
	}
}

// WithRegistryConfig configures the tool registry.
func WithRegistryConfig(cfg RegistryConfig) Option {
	return func(o *config.Options) {
		o.Registry = cfg
	}
}

// WithRetryStrategy replaces the queue's default exponential backoff.
func WithRetryStrategy(s RetryStrategy) Option {
	return func(o *config.Options) {
		o.RetryStrategy = s
	}
}

// WithBus injects a shared event bus. Useful when one observer needs to see
// events from several client instances.
func WithBus(bus *events.Bus) Option {
	return func(o *config.Options) {
		o.Bus = bus
	}
}

// Re-export configuration types for the public API.
type (
	// QueueConfig holds request queue settings.
	QueueConfig = queue.Config

	// RegistryConfig holds tool registry settings.
	RegistryConfig = registry.Config

	// RetryStrategy decides whether and when failed queued requests retry.
	RetryStrategy = queue.RetryStrategy

	// ExponentialBackoff is the default retry strategy.
	ExponentialBackoff = queue.ExponentialBackoff
)
