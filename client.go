package mcpclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/toolwire/mcp-client-go/internal/config"
	interrors "github.com/toolwire/mcp-client-go/internal/errors"
	"github.com/toolwire/mcp-client-go/internal/events"
	"github.com/toolwire/mcp-client-go/internal/protocol"
	"github.com/toolwire/mcp-client-go/internal/queue"
	"github.com/toolwire/mcp-client-go/internal/registry"
)

// Client is the three-layer client stack: a protocol client owning the
// connection and correlation, a request queue adding priority, concurrency
// limits, rate limiting, and retry, and a tool registry tracking capability
// metadata independently of transport state.
//
// Lifecycle: construct with New, call Connect, use, then Close. Clients are
// single-use; after Close, create a new one.
//
// Example:
//
//	client := mcpclient.New(transport,
//	    mcpclient.WithLogger(slog.Default()),
//	    mcpclient.WithRateLimit(10, time.Second),
//	)
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	tools, err := client.ListTools(ctx, false)
type Client struct {
	log      *slog.Logger
	bus      *events.Bus
	proto    *protocol.Client
	queue    *queue.Queue
	registry *registry.Registry

	startMu sync.Mutex
	started bool
	cancel  context.CancelFunc

	closeOnce sync.Once
}

// New creates a client over the given transport. The transport must be
// unconnected; Connect drives its lifecycle.
func New(transport Transport, opts ...Option) *Client {
	var o config.Options
	for _, opt := range opts {
		opt(&o)
	}

	o.ApplyDefaults()

	proto := protocol.NewClient(o.Logger, transport, o.Bus, protocol.Config{
		RequestTimeout: o.RequestTimeout,
		SendQueueLimit: o.SendQueueLimit,
		ClientInfo:     o.ClientInfo,
		Capabilities:   o.Capabilities,
	})

	c := &Client{
		log:      o.Logger.With("component", "client"),
		bus:      o.Bus,
		proto:    proto,
		queue:    queue.New(o.Logger, o.Queue, newExecutor(proto), o.RetryStrategy),
		registry: registry.New(o.Logger, o.Bus, o.Registry),
	}

	c.registry.RegisterLoader(registry.RemoteProviderName, registry.NewRemoteLoader(proto))

	return c
}

// newExecutor builds the closed method table the queue dispatches through.
// Every protocol operation reachable via the queue appears here; anything
// else fails with an unsupported-method error.
func newExecutor(p *protocol.Client) *queue.Executor {
	return queue.NewExecutor(map[string]queue.Handler{
		protocol.MethodToolsCall: func(ctx context.Context, params any) (any, error) {
			cp, err := toolCallParams(params)
			if err != nil {
				return nil, err
			}

			args, _ := cp.Arguments.(map[string]any)

			return p.CallTool(ctx, cp.Name, args)
		},
		protocol.MethodResourcesRead: func(ctx context.Context, params any) (any, error) {
			rp, ok := params.(*mcp.ReadResourceParams)
			if !ok {
				return nil, &interrors.ValidationError{
					Field:  "params",
					Reason: "resources/read expects *mcp.ReadResourceParams",
				}
			}

			return p.ReadResource(ctx, rp.URI)
		},
		protocol.MethodPromptsGet: func(ctx context.Context, params any) (any, error) {
			gp, ok := params.(*mcp.GetPromptParams)
			if !ok {
				return nil, &interrors.ValidationError{
					Field:  "params",
					Reason: "prompts/get expects *mcp.GetPromptParams",
				}
			}

			return p.GetPrompt(ctx, gp.Name, gp.Arguments)
		},
		protocol.MethodToolsList: func(ctx context.Context, _ any) (any, error) {
			return p.ListTools(ctx, true)
		},
		protocol.MethodResourcesList: func(ctx context.Context, _ any) (any, error) {
			return p.ListResources(ctx, true)
		},
		protocol.MethodPromptsList: func(ctx context.Context, _ any) (any, error) {
			return p.ListPrompts(ctx, true)
		},
	})
}

func toolCallParams(params any) (*mcp.CallToolParams, error) {
	cp, ok := params.(*mcp.CallToolParams)
	if !ok {
		return nil, &interrors.ValidationError{
			Field:  "params",
			Reason: "tools/call expects *mcp.CallToolParams",
		}
	}

	return cp, nil
}

// Connect starts the background loops, connects the transport, and blocks
// until the handshake completes or fails.
func (c *Client) Connect(ctx context.Context) error {
	c.startMu.Lock()

	if !c.started {
		// Background loops outlive the Connect call; they stop on Close.
		runCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.started = true

		if err := c.proto.Start(runCtx); err != nil {
			c.startMu.Unlock()

			return err
		}

		c.queue.Start(runCtx)
		c.registry.Start(runCtx)
	}

	c.startMu.Unlock()

	return c.proto.Connect(ctx)
}

// Close tears down the queue, the registry sweep, and the protocol client.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.queue.Destroy()
		c.registry.Close()

		if err := c.proto.Close(); err != nil {
			c.log.Warn("Protocol close failed", "error", err)
		}

		c.startMu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		c.startMu.Unlock()
	})

	return nil
}

// IsReady reports whether the handshake completed on the current connection.
func (c *Client) IsReady() bool {
	return c.proto.IsReady()
}

// IsConnected reports the transport-level connection status.
func (c *Client) IsConnected() bool {
	return c.proto.IsConnected()
}

// ServerCapabilities returns the peer capabilities from the handshake, or
// nil before the first successful handshake.
func (c *Client) ServerCapabilities() *mcp.ServerCapabilities {
	return c.proto.ServerCapabilities()
}

// Subscribe registers an observer for a named event (see the events
// constants). It returns an unsubscribe function.
func (c *Client) Subscribe(event string, handler func(payload any)) func() {
	return c.bus.Subscribe(event, handler)
}

// ListTools lists the peer's tools, cached unless refresh is set.
func (c *Client) ListTools(ctx context.Context, refresh bool) ([]*mcp.Tool, error) {
	return c.proto.ListTools(ctx, refresh)
}

// ListResources lists the peer's resources, cached unless refresh is set.
func (c *Client) ListResources(ctx context.Context, refresh bool) ([]*mcp.Resource, error) {
	return c.proto.ListResources(ctx, refresh)
}

// ListPrompts lists the peer's prompts, cached unless refresh is set.
func (c *Client) ListPrompts(ctx context.Context, refresh bool) ([]*mcp.Prompt, error) {
	return c.proto.ListPrompts(ctx, refresh)
}

// CallTool invokes a tool directly, bypassing the queue. No retry applies.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	return c.proto.CallTool(ctx, name, args)
}

// ReadResource reads a resource directly, bypassing the queue.
func (c *Client) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return c.proto.ReadResource(ctx, uri)
}

// GetPrompt fetches a prompt directly, bypassing the queue.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	return c.proto.GetPrompt(ctx, name, args)
}

// Enqueue routes a protocol operation through the request queue for
// priority ordering, rate limiting, and retry.
func (c *Client) Enqueue(method string, params any, opts ...EnqueueOption) (*Ticket, error) {
	return c.queue.Enqueue(method, params, opts...)
}

// EnqueueToolCall enqueues a tools/call for the named tool.
func (c *Client) EnqueueToolCall(name string, args map[string]any, opts ...EnqueueOption) (*Ticket, error) {
	return c.queue.Enqueue(
		protocol.MethodToolsCall,
		&mcp.CallToolParams{Name: name, Arguments: args},
		opts...,
	)
}

// Cancel settles a queued or active request with a cancellation error.
func (c *Client) Cancel(id string) bool {
	return c.queue.Cancel(id)
}

// InvokeTool runs the full three-layer path: permission check against the
// registry, dispatch through the queue, then execution accounting on the
// tool's metadata.
func (c *Client) InvokeTool(
	ctx context.Context,
	name string,
	args map[string]any,
	ec ExecContext,
	opts ...EnqueueOption,
) (*mcp.CallToolResult, error) {
	if decision := c.registry.CheckPermissions(name, ec); !decision.Allowed {
		return nil, &interrors.PermissionError{Tool: name, Reasons: decision.Reasons}
	}

	ticket, err := c.EnqueueToolCall(name, args, opts...)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	value, err := ticket.Future.Wait(ctx)

	c.registry.RecordExecution(name, time.Since(start), err)

	if err != nil {
		return nil, err
	}

	result, _ := value.(*mcp.CallToolResult)

	return result, nil
}

// Registry exposes the tool registry for registration, querying, and
// permission management.
func (c *Client) Registry() *registry.Registry {
	return c.registry
}

// Statistics bundles the running counters of all three layers.
type Statistics struct {
	Protocol protocol.Stats
	Queue    queue.Statistics
	Registry registry.Statistics
}

// GetStatistics snapshots the counters of all three layers.
func (c *Client) GetStatistics() Statistics {
	return Statistics{
		Protocol: c.proto.Statistics(),
		Queue:    c.queue.Statistics(),
		Registry: c.registry.Statistics(),
	}
}
