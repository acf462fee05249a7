package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/toolwire/mcp-client-go/internal/errors"
	"github.com/toolwire/mcp-client-go/internal/events"
)

// DefaultRequestTimeout bounds how long a correlated request waits for its
// response before settling as a timeout.
const DefaultRequestTimeout = 30 * time.Second

// DefaultSendQueueLimit bounds how many requests may be buffered while the
// connection is not yet ready.
const DefaultSendQueueLimit = 64

// Config holds protocol client settings.
type Config struct {
	// RequestTimeout is the per-request response deadline.
	// Zero means DefaultRequestTimeout.
	RequestTimeout time.Duration

	// SendQueueLimit bounds the disconnected-send buffer.
	// Zero means DefaultSendQueueLimit.
	SendQueueLimit int

	// ClientInfo identifies this client during the handshake.
	ClientInfo *mcp.Implementation

	// Capabilities are the client capabilities offered during the handshake.
	Capabilities *mcp.ClientCapabilities
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}

	if c.SendQueueLimit <= 0 {
		c.SendQueueLimit = DefaultSendQueueLimit
	}

	if c.ClientInfo == nil {
		c.ClientInfo = &mcp.Implementation{Name: "mcp-client-go", Version: "0.1.0"}
	}

	if c.Capabilities == nil {
		c.Capabilities = &mcp.ClientCapabilities{}
	}

	return c
}

// NotificationHandler receives incoming notifications for one method.
type NotificationHandler func(params json.RawMessage)

// Stats are running counters kept by the protocol client.
type Stats struct {
	RequestsSent          int64
	ResponsesMatched      int64
	ResponsesDropped      int64
	NotificationsReceived int64
	PeerRequests          int64
	Timeouts              int64
	Disconnects           int64
}

// pendingCall tracks one sent-but-unanswered request.
type pendingCall struct {
	method   string
	response chan callResult
	created  time.Time
}

type callResult struct {
	payload json.RawMessage
	err     error
}

// Client manages one logical connection to a remote protocol peer.
//
// The Client handles:
//   - The connection state machine and initialize/initialized handshake
//   - Correlating outbound requests with inbound responses by id
//   - Routing incoming notifications and peer-initiated requests
//   - Buffering requests issued before the connection is ready
//   - Caching discovery results (tools, resources, prompts)
//
// It must be started with Start() before use and manages its own goroutine
// for reading transport events.
type Client struct {
	log       *slog.Logger
	transport Transport
	bus       *events.Bus
	cfg       Config

	stateMu sync.RWMutex
	state   State
	initRes *mcp.InitializeResult

	// pendingMu also guards sendQueue so the ready check, pending insert,
	// and buffer append happen atomically with respect to flushes.
	pendingMu sync.Mutex
	pending   map[string]*pendingCall
	sendQueue []*Envelope

	readyMu      sync.Mutex
	readyWaiters []chan error

	notifyMu       sync.RWMutex
	notifyHandlers map[string][]NotificationHandler

	cacheMu   sync.RWMutex
	tools     map[string]*mcp.Tool
	resources map[string]*mcp.Resource
	prompts   map[string]*mcp.Prompt
	flight    singleflight.Group

	statsMu sync.Mutex
	stats   Stats

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewClient creates a protocol client over the given transport. The bus
// receives state, ready, error, and notification events.
func NewClient(log *slog.Logger, transport Transport, bus *events.Bus, cfg Config) *Client {
	return &Client{
		log:            log.With("component", "protocol"),
		transport:      transport,
		bus:            bus,
		cfg:            cfg.withDefaults(),
		state:          StateDisconnected,
		pending:        make(map[string]*pendingCall, 16),
		notifyHandlers: make(map[string][]NotificationHandler, 8),
		done:           make(chan struct{}),
	}
}

// Start begins reading transport events. It must be called before Connect.
func (c *Client) Start(ctx context.Context) error {
	c.log.Debug("Starting protocol client")

	c.wg.Go(func() {
		c.eventLoop(ctx)
	})

	return nil
}

// Connect initiates a transport connection and blocks until the handshake
// completes, fails, or ctx is cancelled.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.done:
		return errors.ErrClientClosed
	default:
	}

	switch c.State() {
	case StateDisconnected, StateError:
	default:
		return errors.ErrAlreadyConnected
	}

	ready := make(chan error, 1)

	c.readyMu.Lock()
	c.readyWaiters = append(c.readyWaiters, ready)
	c.readyMu.Unlock()

	c.setState(StateConnecting)

	if err := c.transport.Connect(ctx); err != nil {
		c.setState(StateError)
		c.notifyReady(fmt.Errorf("transport connect: %w", err))
	}

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errors.ErrClientClosed
	}
}

// Close shuts the client down, rejects everything in flight, and waits for
// the event loop to stop. Safe to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.log.Debug("Closing protocol client")
		close(c.done)

		if err := c.transport.Close(); err != nil {
			c.log.Warn("Transport close failed", "error", err)
		}

		c.failAllPending(errors.ErrClientClosed)
		c.setState(StateDisconnected)
	})

	c.wg.Wait()

	return nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	return c.state
}

// IsReady reports whether the handshake has completed on the current
// connection cycle.
func (c *Client) IsReady() bool {
	return c.State() == StateReady
}

// IsConnected reports the transport-level connection status.
func (c *Client) IsConnected() bool {
	return c.transport.Connected()
}

// ServerCapabilities returns the peer capabilities negotiated during the
// handshake, or nil before the first successful handshake.
func (c *Client) ServerCapabilities() *mcp.ServerCapabilities {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	if c.initRes == nil {
		return nil
	}

	return c.initRes.Capabilities
}

// ServerInfo returns the peer identity from the handshake, or nil.
func (c *Client) ServerInfo() *mcp.Implementation {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	if c.initRes == nil {
		return nil
	}

	return c.initRes.ServerInfo
}

// Statistics returns a snapshot of the client's running counters.
func (c *Client) Statistics() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	return c.stats
}

// OnNotification registers a handler for one notification method. Handlers
// are invoked from the event loop; they must not block.
func (c *Client) OnNotification(method string, h NotificationHandler) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.notifyHandlers[method] = append(c.notifyHandlers[method], h)
}

// Call issues one correlated request and blocks until its response, its
// timeout, a disconnect, or ctx cancellation settles it. Requests issued
// before the connection is ready are buffered and flushed, in order, once
// the handshake completes.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.call(ctx, method, params, c.cfg.RequestTimeout, false)
}

// CallWithTimeout is Call with a per-request response deadline.
func (c *Client) CallWithTimeout(
	ctx context.Context,
	method string,
	params any,
	timeout time.Duration,
) (json.RawMessage, error) {
	return c.call(ctx, method, params, timeout, false)
}

// call is the correlation core. direct bypasses the ready gate; only the
// handshake uses it.
func (c *Client) call(
	ctx context.Context,
	method string,
	params any,
	timeout time.Duration,
	direct bool,
) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, errors.ErrClientClosed
	default:
	}

	id := ulid.Make().String()

	env, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	pc := &pendingCall{
		method:   method,
		response: make(chan callResult, 1),
		created:  time.Now(),
	}

	buffered := false

	c.pendingMu.Lock()

	if !direct && c.State() != StateReady {
		if len(c.sendQueue) >= c.cfg.SendQueueLimit {
			c.pendingMu.Unlock()

			return nil, fmt.Errorf("%w (limit %d)", errors.ErrSendQueueFull, c.cfg.SendQueueLimit)
		}

		c.pending[id] = pc
		c.sendQueue = append(c.sendQueue, env)
		buffered = true
	} else {
		c.pending[id] = pc
	}

	c.pendingMu.Unlock()

	c.countRequestSent()

	if buffered {
		c.log.Debug("Buffered request until ready", "request_id", id, "method", method)
	} else {
		if err := c.send(ctx, env); err != nil {
			c.claimPending(id)
			c.log.Error("Failed to send request", "request_id", id, "method", method, "error", err)

			return nil, errors.Transport(fmt.Errorf("send %s: %w", method, err))
		}

		c.log.Debug("Request sent", "request_id", id, "method", method)
	}

	select {
	case res := <-pc.response:
		return res.payload, res.err

	case <-time.After(timeout):
		c.claimPending(id)
		c.countTimeout()
		c.log.Warn("Request timed out", "request_id", id, "method", method, "timeout", timeout)

		return nil, fmt.Errorf("%w: %s after %s", errors.ErrRequestTimeout, method, timeout)

	case <-ctx.Done():
		c.claimPending(id)
		c.log.Debug("Request cancelled by context", "request_id", id, "method", method)

		return nil, ctx.Err()

	case <-c.done:
		c.claimPending(id)

		return nil, errors.ErrClientClosed
	}
}

// Notify sends a fire-and-forget notification.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	env, err := NewNotification(method, params)
	if err != nil {
		return err
	}

	return c.send(ctx, env)
}

func (c *Client) send(ctx context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	return c.transport.Send(ctx, data)
}

// claimPending removes and returns the pending entry for id, or nil if it
// was already settled. Exactly one caller wins.
func (c *Client) claimPending(id string) *pendingCall {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	pc, ok := c.pending[id]
	if !ok {
		return nil
	}

	delete(c.pending, id)

	return pc
}

// failAllPending rejects every pending and buffered request with cause.
func (c *Client) failAllPending(cause error) {
	c.pendingMu.Lock()

	pend := c.pending
	c.pending = make(map[string]*pendingCall, 16)
	dropped := len(c.sendQueue)
	c.sendQueue = nil

	c.pendingMu.Unlock()

	if len(pend) == 0 {
		return
	}

	c.log.Debug("Rejecting in-flight requests", "count", len(pend), "buffered", dropped, "cause", cause)

	for _, pc := range pend {
		pc.response <- callResult{err: cause}
	}
}

// eventLoop consumes transport signals until the client or context stops.
func (c *Client) eventLoop(ctx context.Context) {
	defer c.log.Debug("Protocol event loop stopped")

	evs := c.transport.Events()

	for {
		select {
		case ev, ok := <-evs:
			if !ok {
				c.log.Debug("Transport event channel closed")

				return
			}

			c.handleEvent(ctx, ev)

		case <-c.done:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) handleEvent(ctx context.Context, ev TransportEvent) {
	switch ev.Kind {
	case TransportConnected:
		c.log.Info("Transport connected")
		c.setState(StateConnected)

		c.wg.Go(func() {
			c.handshake(ctx)
		})

	case TransportDisconnected:
		c.handleDisconnect()

	case TransportMessage:
		c.handleMessage(ev.Payload)

	case TransportError:
		c.log.Warn("Transport error", "error", ev.Err)
		c.bus.Publish(events.EventError, errors.Transport(ev.Err))
	}
}

// handshake performs the initialize exchange, flushes the buffered sends,
// and signals readiness.
func (c *Client) handshake(ctx context.Context) {
	c.setState(StateInitializing)

	params := &mcp.InitializeParams{
		ProtocolVersion: MCPVersion,
		Capabilities:    c.cfg.Capabilities,
		ClientInfo:      c.cfg.ClientInfo,
	}

	raw, err := c.call(ctx, MethodInitialize, params, c.cfg.RequestTimeout, true)
	if err != nil {
		c.failHandshake(err)

		return
	}

	var res mcp.InitializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		c.failHandshake(fmt.Errorf("decode initialize result: %w", err))

		return
	}

	c.stateMu.Lock()
	c.initRes = &res
	c.stateMu.Unlock()

	c.setState(StateReady)
	c.log.Info("Handshake complete",
		"protocol_version", res.ProtocolVersion,
		"server", serverName(&res),
	)
	c.bus.Publish(events.EventReady, nil)

	if err := c.Notify(ctx, NotificationInitialized, nil); err != nil {
		// Fire-and-forget: the peer treats a missing initialized
		// notification as non-fatal.
		c.log.Warn("Failed to send initialized notification", "error", err)
	}

	c.flushSendQueue(ctx)
	c.notifyReady(nil)
}

func (c *Client) failHandshake(cause error) {
	herr := &errors.HandshakeError{Err: cause}

	c.log.Error("Handshake failed", "error", cause)
	c.setState(StateError)
	c.bus.Publish(events.EventError, herr)
	c.notifyReady(herr)
}

// flushSendQueue sends the disconnected buffer in enqueue order.
func (c *Client) flushSendQueue(ctx context.Context) {
	c.pendingMu.Lock()
	queued := c.sendQueue
	c.sendQueue = nil
	c.pendingMu.Unlock()

	if len(queued) == 0 {
		return
	}

	c.log.Debug("Flushing buffered requests", "count", len(queued))

	for _, env := range queued {
		if err := c.send(ctx, env); err != nil {
			if pc := c.claimPending(env.ID.String()); pc != nil {
				pc.response <- callResult{err: errors.Transport(fmt.Errorf("flush %s: %w", env.Method, err))}
			}
		}
	}
}

func (c *Client) handleDisconnect() {
	c.log.Info("Transport disconnected")
	c.countDisconnect()
	c.setState(StateDisconnected)
	c.failAllPending(errors.ErrConnectionLost)
}

// handleMessage routes one inbound payload by envelope shape.
func (c *Client) handleMessage(payload json.RawMessage) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		c.countDropped()
		c.log.Warn("Dropping malformed message", "error", err)

		return
	}

	switch {
	case env.IsResponse():
		c.settleResponse(&env)

	case env.IsNotification():
		c.handleNotification(&env)

	case env.IsRequest():
		// Peer-initiated request (sampling-style). Surfaced to observers,
		// never auto-answered.
		c.countPeerRequest()
		c.log.Debug("Peer-initiated request", "request_id", env.ID.String(), "method", env.Method)
		c.bus.Publish(events.EventPeerRequest, &env)

	default:
		c.countDropped()
		c.log.Warn("Dropping message with no id or method")
	}
}

func (c *Client) settleResponse(env *Envelope) {
	id := env.ID.String()

	pc := c.claimPending(id)
	if pc == nil {
		c.countDropped()
		c.log.Warn("Dropping response with no pending request", "request_id", id)

		return
	}

	c.countResponseMatched()

	if env.Error != nil {
		c.log.Debug("Request failed",
			"request_id", id,
			"method", pc.method,
			"code", env.Error.Code,
			"error", env.Error.Message,
		)
		pc.response <- callResult{err: env.Error.Err()}

		return
	}

	c.log.Debug("Request settled", "request_id", id, "method", pc.method)
	pc.response <- callResult{payload: env.Result}
}

func (c *Client) handleNotification(env *Envelope) {
	c.countNotification()
	c.log.Debug("Notification received", "method", env.Method)

	switch env.Method {
	case NotificationResourcesUpdated:
		c.invalidateResources()
		c.bus.Publish(events.EventResourcesUpdated, env.Params)

	case NotificationPromptsUpdated:
		c.invalidatePrompts()
		c.bus.Publish(events.EventPromptsUpdated, env.Params)

	case NotificationProgress:
		c.bus.Publish(events.EventProgress, env.Params)

	case NotificationCancelled:
		c.bus.Publish(events.EventCancelled, env.Params)
	}

	c.notifyMu.RLock()
	handlers := slices.Clone(c.notifyHandlers[env.Method])
	c.notifyMu.RUnlock()

	for _, h := range handlers {
		h(env.Params)
	}

	c.bus.Publish(events.EventNotification, env)
}

func (c *Client) setState(s State) {
	c.stateMu.Lock()

	if c.state == s {
		c.stateMu.Unlock()

		return
	}

	old := c.state
	c.state = s
	c.stateMu.Unlock()

	c.log.Debug("State changed", "from", old.String(), "to", s.String())
	c.bus.Publish(events.EventState, s.String())
}

func (c *Client) notifyReady(err error) {
	c.readyMu.Lock()
	waiters := c.readyWaiters
	c.readyWaiters = nil
	c.readyMu.Unlock()

	for _, ch := range waiters {
		ch <- err
	}
}

func serverName(res *mcp.InitializeResult) string {
	if res.ServerInfo == nil {
		return ""
	}

	return res.ServerInfo.Name
}

func (c *Client) countRequestSent() {
	c.statsMu.Lock()
	c.stats.RequestsSent++
	c.statsMu.Unlock()
}

func (c *Client) countResponseMatched() {
	c.statsMu.Lock()
	c.stats.ResponsesMatched++
	c.statsMu.Unlock()
}

func (c *Client) countDropped() {
	c.statsMu.Lock()
	c.stats.ResponsesDropped++
	c.statsMu.Unlock()
}

func (c *Client) countNotification() {
	c.statsMu.Lock()
	c.stats.NotificationsReceived++
	c.statsMu.Unlock()
}

func (c *Client) countPeerRequest() {
	c.statsMu.Lock()
	c.stats.PeerRequests++
	c.statsMu.Unlock()
}

func (c *Client) countTimeout() {
	c.statsMu.Lock()
	c.stats.Timeouts++
	c.statsMu.Unlock()
}

func (c *Client) countDisconnect() {
	c.statsMu.Lock()
	c.stats.Disconnects++
	c.statsMu.Unlock()
}
