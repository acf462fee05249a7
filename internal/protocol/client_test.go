package protocol

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolwire/mcp-client-go/internal/errors"
	"github.com/toolwire/mcp-client-go/internal/events"
)

// mockTransport implements Transport for testing. It records every sent
// envelope and answers requests through the respond hook; by default it only
// answers initialize so the handshake completes.
type mockTransport struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	events    chan TransportEvent
	sent      []*Envelope

	// respond is invoked for every request after initialize. Nil leaves the
	// request unanswered.
	respond func(env *Envelope)

	// failInitialize makes the handshake fail with an RPC error.
	failInitialize bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		events: make(chan TransportEvent, 100),
	}
}

func (m *mockTransport) Connect(_ context.Context) error {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()

	m.events <- TransportEvent{Kind: TransportConnected}

	return nil
}

func (m *mockTransport) Send(_ context.Context, data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	m.mu.Lock()
	m.sent = append(m.sent, &env)
	respond := m.respond
	failInit := m.failInitialize
	m.mu.Unlock()

	if !env.IsRequest() {
		return nil
	}

	if env.Method == MethodInitialize {
		if failInit {
			m.replyError(env.ID, errors.CodeInternalError, "init exploded")
		} else {
			m.reply(env.ID, &mcp.InitializeResult{
				ProtocolVersion: MCPVersion,
				Capabilities:    &mcp.ServerCapabilities{},
				ServerInfo:      &mcp.Implementation{Name: "mock-server", Version: "1.0.0"},
			})
		}

		return nil
	}

	if respond != nil {
		respond(&env)
	}

	return nil
}

func (m *mockTransport) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connected
}

func (m *mockTransport) Events() <-chan TransportEvent {
	return m.events
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		m.connected = false
	}

	return nil
}

// reply delivers a success response for id.
func (m *mockTransport) reply(id *RequestID, result any) {
	raw, _ := json.Marshal(result)

	env := &Envelope{JSONRPC: Version, ID: id, Result: raw}
	payload, _ := json.Marshal(env)

	m.deliver(payload)
}

// replyError delivers an error response for id.
func (m *mockTransport) replyError(id *RequestID, code int, message string) {
	env := &Envelope{JSONRPC: Version, ID: id, Error: &ErrorObject{Code: code, Message: message}}
	payload, _ := json.Marshal(env)

	m.deliver(payload)
}

func (m *mockTransport) deliver(payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.events <- TransportEvent{Kind: TransportMessage, Payload: payload}
}

func (m *mockTransport) disconnect() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()

	m.events <- TransportEvent{Kind: TransportDisconnected}
}

func (m *mockTransport) sentMethods() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.sent))
	for _, env := range m.sent {
		out = append(out, env.Method)
	}

	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newReadyClient returns a started, connected, handshaken client.
func newReadyClient(t *testing.T, cfg Config) (*Client, *mockTransport, *events.Bus) {
	t.Helper()

	transport := newMockTransport()
	bus := events.NewBus(testLogger())
	client := NewClient(testLogger(), transport, bus, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	require.NoError(t, client.Start(ctx))
	require.NoError(t, client.Connect(ctx))
	require.True(t, client.IsReady())

	t.Cleanup(func() { _ = client.Close() })

	return client, transport, bus
}

func TestConnectHandshake(t *testing.T) {
	client, transport, _ := newReadyClient(t, Config{})

	assert.Equal(t, StateReady, client.State())
	assert.True(t, client.IsConnected())

	require.NotNil(t, client.ServerCapabilities())
	require.NotNil(t, client.ServerInfo())
	assert.Equal(t, "mock-server", client.ServerInfo().Name)

	// initialize then the initialized notification, in order.
	methods := transport.sentMethods()
	require.GreaterOrEqual(t, len(methods), 2)
	assert.Equal(t, MethodInitialize, methods[0])
	assert.Equal(t, NotificationInitialized, methods[1])
}

func TestConnectWhileReady(t *testing.T) {
	client, _, _ := newReadyClient(t, Config{})

	err := client.Connect(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyConnected)
}

func TestHandshakeFailure(t *testing.T) {
	transport := newMockTransport()
	transport.failInitialize = true

	bus := events.NewBus(testLogger())
	client := NewClient(testLogger(), transport, bus, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Start(ctx))

	err := client.Connect(ctx)
	require.Error(t, err)

	var herr *errors.HandshakeError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, StateError, client.State())

	require.NoError(t, client.Close())
}

func TestCallCorrelation(t *testing.T) {
	client, transport, _ := newReadyClient(t, Config{})

	transport.respond = func(env *Envelope) {
		transport.reply(env.ID, &mcp.ListToolsResult{
			Tools: []*mcp.Tool{{Name: "search"}, {Name: "fetch"}},
		})
	}

	raw, err := client.Call(context.Background(), MethodToolsList, &mcp.ListToolsParams{})
	require.NoError(t, err)

	var res mcp.ListToolsResult
	require.NoError(t, json.Unmarshal(raw, &res))
	require.Len(t, res.Tools, 2)

	stats := client.Statistics()
	assert.Equal(t, int64(1), stats.ResponsesMatched)
}

func TestCallRPCError(t *testing.T) {
	client, transport, _ := newReadyClient(t, Config{})

	transport.respond = func(env *Envelope) {
		transport.replyError(env.ID, errors.CodeMethodNotFound, "unknown method")
	}

	_, err := client.Call(context.Background(), "bogus/method", nil)
	require.Error(t, err)

	var rpcErr *errors.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, errors.CodeMethodNotFound, rpcErr.Code)
	assert.Equal(t, "unknown method", rpcErr.Message)
}

func TestRequestTimeout(t *testing.T) {
	client, _, _ := newReadyClient(t, Config{})

	// No respond hook: the request is never answered.
	_, err := client.CallWithTimeout(context.Background(), MethodToolsList, nil, 50*time.Millisecond)
	require.ErrorIs(t, err, errors.ErrRequestTimeout)

	assert.Equal(t, int64(1), client.Statistics().Timeouts)
}

func TestDisconnectRejectsPendingThenReconnect(t *testing.T) {
	client, transport, _ := newReadyClient(t, Config{})

	errCh := make(chan error, 1)

	go func() {
		_, err := client.Call(context.Background(), MethodToolsList, nil)
		errCh <- err
	}()

	// Wait for the request to reach the transport before dropping it.
	require.Eventually(t, func() bool {
		return len(transport.sentMethods()) >= 3
	}, time.Second, 5*time.Millisecond)

	transport.disconnect()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, errors.ErrConnectionLost)
	case <-time.After(time.Second):
		t.Fatal("pending request not rejected after disconnect")
	}

	assert.Equal(t, StateDisconnected, client.State())
	assert.Equal(t, int64(1), client.Statistics().Disconnects)

	// The same client reconnects and completes a fresh handshake.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Connect(ctx))
	assert.True(t, client.IsReady())
}

func TestPreReadyBufferingFlushedInOrder(t *testing.T) {
	transport := newMockTransport()
	transport.respond = func(env *Envelope) {
		transport.reply(env.ID, &mcp.ListToolsResult{})
	}

	bus := events.NewBus(testLogger())
	client := NewClient(testLogger(), transport, bus, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Start(ctx))

	t.Cleanup(func() { _ = client.Close() })

	results := make(chan error, 2)

	for range 2 {
		go func() {
			_, err := client.Call(ctx, MethodToolsList, nil)
			results <- err
		}()
	}

	// Both calls buffer while disconnected; nothing hits the wire yet.
	require.Eventually(t, func() bool {
		client.pendingMu.Lock()
		defer client.pendingMu.Unlock()

		return len(client.sendQueue) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, transport.sentMethods())

	require.NoError(t, client.Connect(ctx))

	for range 2 {
		select {
		case err := <-results:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("buffered request never settled")
		}
	}
}

func TestSendQueueLimit(t *testing.T) {
	transport := newMockTransport()
	bus := events.NewBus(testLogger())
	client := NewClient(testLogger(), transport, bus, Config{SendQueueLimit: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Start(ctx))

	t.Cleanup(func() { _ = client.Close() })

	go func() {
		_, _ = client.Call(ctx, MethodToolsList, nil)
	}()

	require.Eventually(t, func() bool {
		client.pendingMu.Lock()
		defer client.pendingMu.Unlock()

		return len(client.sendQueue) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := client.Call(ctx, MethodResourcesList, nil)
	assert.ErrorIs(t, err, errors.ErrSendQueueFull)
}

func TestUnmatchedResponseDropped(t *testing.T) {
	client, transport, _ := newReadyClient(t, Config{})

	id := StringID("never-sent")
	transport.reply(&id, map[string]any{})

	require.Eventually(t, func() bool {
		return client.Statistics().ResponsesDropped == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNotificationRouting(t *testing.T) {
	client, transport, bus := newReadyClient(t, Config{})

	got := make(chan json.RawMessage, 1)
	client.OnNotification(NotificationProgress, func(params json.RawMessage) {
		got <- params
	})

	fromBus := make(chan any, 1)
	bus.Subscribe(events.EventProgress, func(payload any) {
		fromBus <- payload
	})

	note, err := NewNotification(NotificationProgress, map[string]any{"progress": 0.5})
	require.NoError(t, err)

	payload, err := json.Marshal(note)
	require.NoError(t, err)

	transport.deliver(payload)

	select {
	case params := <-got:
		assert.Contains(t, string(params), "progress")
	case <-time.After(time.Second):
		t.Fatal("notification handler not invoked")
	}

	select {
	case <-fromBus:
	case <-time.After(time.Second):
		t.Fatal("progress event not published")
	}

	assert.Equal(t, int64(1), client.Statistics().NotificationsReceived)
}

func TestResourcesUpdatedInvalidatesCache(t *testing.T) {
	client, transport, _ := newReadyClient(t, Config{})

	listCalls := 0

	transport.respond = func(env *Envelope) {
		if env.Method == MethodResourcesList {
			listCalls++
		}

		transport.reply(env.ID, &mcp.ListResourcesResult{
			Resources: []*mcp.Resource{{URI: "file:///a.txt", Name: "a"}},
		})
	}

	ctx := context.Background()

	_, err := client.ListResources(ctx, false)
	require.NoError(t, err)

	// Cached: no second wire call.
	_, err = client.ListResources(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, listCalls)

	note, err := NewNotification(NotificationResourcesUpdated, nil)
	require.NoError(t, err)

	payload, err := json.Marshal(note)
	require.NoError(t, err)

	transport.deliver(payload)

	require.Eventually(t, func() bool {
		_, err := client.ListResources(ctx, false)

		return err == nil && listCalls == 2
	}, time.Second, 5*time.Millisecond)
}

func TestListToolsCachedAndRefreshed(t *testing.T) {
	client, transport, _ := newReadyClient(t, Config{})

	calls := 0

	transport.respond = func(env *Envelope) {
		calls++
		transport.reply(env.ID, &mcp.ListToolsResult{
			Tools: []*mcp.Tool{{Name: "zeta"}, {Name: "alpha"}},
		})
	}

	ctx := context.Background()

	tools, err := client.ListTools(ctx, false)
	require.NoError(t, err)
	require.Len(t, tools, 2)

	cached, err := client.ListTools(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// Cached reads come back in name order.
	assert.Equal(t, "alpha", cached[0].Name)
	assert.Equal(t, "zeta", cached[1].Name)

	tool, ok := client.Tool("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", tool.Name)

	_, err = client.ListTools(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCallTool(t *testing.T) {
	client, transport, _ := newReadyClient(t, Config{})

	transport.respond = func(env *Envelope) {
		var params mcp.CallToolParams
		require.NoError(t, json.Unmarshal(env.Params, &params))
		assert.Equal(t, "search", params.Name)

		transport.reply(env.ID, &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "hit"}},
		})
	}

	res, err := client.CallTool(context.Background(), "search", map[string]any{"query": "go"})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
}

func TestPeerRequestPublished(t *testing.T) {
	_, transport, bus := newReadyClient(t, Config{})

	got := make(chan any, 1)
	bus.Subscribe(events.EventPeerRequest, func(payload any) {
		got <- payload
	})

	payload := []byte(`{"jsonrpc":"2.0","id":7,"method":"sampling/createMessage","params":{}}`)
	transport.deliver(payload)

	select {
	case v := <-got:
		env, ok := v.(*Envelope)
		require.True(t, ok)
		assert.Equal(t, "sampling/createMessage", env.Method)
		assert.Equal(t, "7", env.ID.String())
	case <-time.After(time.Second):
		t.Fatal("peer request not published")
	}
}

func TestCloseRejectsPending(t *testing.T) {
	client, transport, _ := newReadyClient(t, Config{})

	errCh := make(chan error, 1)

	go func() {
		_, err := client.Call(context.Background(), MethodToolsList, nil)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return len(transport.sentMethods()) >= 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, errors.ErrClientClosed)
	case <-time.After(time.Second):
		t.Fatal("pending request not rejected on close")
	}

	// A closed client rejects further work.
	_, err := client.Call(context.Background(), MethodToolsList, nil)
	assert.ErrorIs(t, err, errors.ErrClientClosed)
}
