package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Discovery and invocation operations. Each list operation fills a local
// cache keyed by name (or uri); concurrent cache fills for the same kind are
// collapsed into one wire call. Invocation operations issue exactly one
// correlated request and never retry; retry policy lives in the request
// queue composed above this client.

// ListTools returns the peer's tools, from cache unless refresh is set.
func (c *Client) ListTools(ctx context.Context, refresh bool) ([]*mcp.Tool, error) {
	if !refresh {
		c.cacheMu.RLock()
		cached := c.tools
		c.cacheMu.RUnlock()

		if cached != nil {
			return sortedValues(cached), nil
		}
	}

	v, err, _ := c.flight.Do(MethodToolsList, func() (any, error) {
		raw, err := c.Call(ctx, MethodToolsList, &mcp.ListToolsParams{})
		if err != nil {
			return nil, err
		}

		var res mcp.ListToolsResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("decode tools/list result: %w", err)
		}

		cache := make(map[string]*mcp.Tool, len(res.Tools))
		for _, t := range res.Tools {
			cache[t.Name] = t
		}

		c.cacheMu.Lock()
		c.tools = cache
		c.cacheMu.Unlock()

		return res.Tools, nil
	})
	if err != nil {
		return nil, err
	}

	tools, _ := v.([]*mcp.Tool)

	return tools, nil
}

// Tool returns one cached tool by name. The cache must have been populated
// by a prior ListTools.
func (c *Client) Tool(name string) (*mcp.Tool, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()

	t, ok := c.tools[name]

	return t, ok
}

// ListResources returns the peer's resources, from cache unless refresh is set.
func (c *Client) ListResources(ctx context.Context, refresh bool) ([]*mcp.Resource, error) {
	if !refresh {
		c.cacheMu.RLock()
		cached := c.resources
		c.cacheMu.RUnlock()

		if cached != nil {
			return sortedValues(cached), nil
		}
	}

	v, err, _ := c.flight.Do(MethodResourcesList, func() (any, error) {
		raw, err := c.Call(ctx, MethodResourcesList, &mcp.ListResourcesParams{})
		if err != nil {
			return nil, err
		}

		var res mcp.ListResourcesResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("decode resources/list result: %w", err)
		}

		cache := make(map[string]*mcp.Resource, len(res.Resources))
		for _, r := range res.Resources {
			cache[r.URI] = r
		}

		c.cacheMu.Lock()
		c.resources = cache
		c.cacheMu.Unlock()

		return res.Resources, nil
	})
	if err != nil {
		return nil, err
	}

	resources, _ := v.([]*mcp.Resource)

	return resources, nil
}

// ListPrompts returns the peer's prompts, from cache unless refresh is set.
func (c *Client) ListPrompts(ctx context.Context, refresh bool) ([]*mcp.Prompt, error) {
	if !refresh {
		c.cacheMu.RLock()
		cached := c.prompts
		c.cacheMu.RUnlock()

		if cached != nil {
			return sortedValues(cached), nil
		}
	}

	v, err, _ := c.flight.Do(MethodPromptsList, func() (any, error) {
		raw, err := c.Call(ctx, MethodPromptsList, &mcp.ListPromptsParams{})
		if err != nil {
			return nil, err
		}

		var res mcp.ListPromptsResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("decode prompts/list result: %w", err)
		}

		cache := make(map[string]*mcp.Prompt, len(res.Prompts))
		for _, p := range res.Prompts {
			cache[p.Name] = p
		}

		c.cacheMu.Lock()
		c.prompts = cache
		c.cacheMu.Unlock()

		return res.Prompts, nil
	})
	if err != nil {
		return nil, err
	}

	prompts, _ := v.([]*mcp.Prompt)

	return prompts, nil
}

// CallTool invokes the named tool with the given arguments.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	raw, err := c.Call(ctx, MethodToolsCall, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}

	var res mcp.CallToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}

	return &res, nil
}

// ReadResource reads the resource at uri.
func (c *Client) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	raw, err := c.Call(ctx, MethodResourcesRead, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}

	var res mcp.ReadResourceResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode resources/read result: %w", err)
	}

	return &res, nil
}

// GetPrompt fetches the named prompt with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	raw, err := c.Call(ctx, MethodPromptsGet, &mcp.GetPromptParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}

	var res mcp.GetPromptResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode prompts/get result: %w", err)
	}

	return &res, nil
}

func (c *Client) invalidateResources() {
	c.cacheMu.Lock()
	c.resources = nil
	c.cacheMu.Unlock()

	c.log.Debug("Resource cache invalidated")
}

func (c *Client) invalidatePrompts() {
	c.cacheMu.Lock()
	c.prompts = nil
	c.cacheMu.Unlock()

	c.log.Debug("Prompt cache invalidated")
}

// sortedValues returns cache values ordered by key for deterministic output.
func sortedValues[V any](m map[string]V) []V {
	keys := slices.Sorted(maps.Keys(m))

	out := make([]V, 0, len(m))
	for _, k := range keys {
		out = append(out, m[k])
	}

	return out
}
