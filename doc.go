// Package mcpclient is a client runtime for MCP-style JSON-RPC servers.
//
// It layers three concerns on top of a pluggable transport:
//
//   - a protocol client that drives the connection state machine, the
//     initialize handshake, and request/response correlation
//   - a request queue that adds priority ordering, a concurrency limit,
//     sliding-window rate limiting, and retry with exponential backoff
//   - a tool registry that tracks capability metadata, permissions, trust
//     levels, and usage statistics independently of connection state
//
// Basic usage:
//
//	client := mcpclient.New(transport, mcpclient.WithClientInfo("myapp", "1.0.0"))
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	result, err := client.CallTool(ctx, "search", map[string]any{"query": "go"})
//
// Queued invocation adds priority and retry on top of the same wire calls:
//
//	ticket, err := client.EnqueueToolCall("search",
//	    map[string]any{"query": "go"},
//	    mcpclient.WithPriority(mcpclient.PriorityHigh),
//	)
//	if err != nil {
//	    return err
//	}
//	value, err := ticket.Future.Wait(ctx)
package mcpclient
