package registry

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/toolwire/mcp-client-go/internal/errors"
)

// RemoteProviderName is the provider name handled by the built-in loader.
const RemoteProviderName = "remote"

// Loader loads and unloads tools for one provider. Loaders are registered
// by provider name; unload is optional and may be a no-op.
type Loader interface {
	Load(ctx context.Context, meta *Metadata) error
	Unload(ctx context.Context, meta *Metadata) error
}

// ToolLister is the minimal capability the remote loader needs from the
// protocol client: fetch the remote tool list, optionally bypassing the
// cache. The loader deliberately does not see the whole client.
type ToolLister interface {
	ListTools(ctx context.Context, refresh bool) ([]*mcp.Tool, error)
}

// RemoteLoader resolves a registered tool out of the peer's tools/list
// result. A tool the peer does not expose fails to load but stays
// registered.
type RemoteLoader struct {
	lister ToolLister
}

// Compile-time verification that RemoteLoader implements Loader.
var _ Loader = (*RemoteLoader)(nil)

// NewRemoteLoader creates the built-in loader over a tool lister.
func NewRemoteLoader(lister ToolLister) *RemoteLoader {
	return &RemoteLoader{lister: lister}
}

// Load implements Loader. It refreshes the remote list on a miss so a tool
// published after the last discovery still resolves.
func (l *RemoteLoader) Load(ctx context.Context, meta *Metadata) error {
	tool, err := l.find(ctx, meta.Name, false)
	if err != nil {
		return err
	}

	if tool == nil {
		tool, err = l.find(ctx, meta.Name, true)
		if err != nil {
			return err
		}
	}

	if tool == nil {
		return fmt.Errorf("%w: %s", errors.ErrToolUnavailable, meta.Name)
	}

	// Prefer the peer's declared schema when the registration carried none.
	if meta.InputSchema == nil {
		meta.InputSchema = tool.InputSchema
	}

	if meta.Description == "" {
		meta.Description = tool.Description
	}

	return nil
}

// Unload implements Loader. Remote tools hold no local resources.
func (l *RemoteLoader) Unload(_ context.Context, _ *Metadata) error {
	return nil
}

func (l *RemoteLoader) find(ctx context.Context, name string, refresh bool) (*mcp.Tool, error) {
	tools, err := l.lister.ListTools(ctx, refresh)
	if err != nil {
		return nil, err
	}

	for _, t := range tools {
		if t.Name == name {
			return t, nil
		}
	}

	return nil, nil
}
