package queue

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/toolwire/mcp-client-go/internal/errors"
)

// Handler executes one method. Implementations receive the params the caller
// enqueued and return the settlement value.
type Handler func(ctx context.Context, params any) (any, error)

// Executor is a closed method table mapping method names to handlers. An
// unrecognized method fails with ErrUnsupportedMethod; it is never silently
// dropped.
type Executor struct {
	handlers map[string]Handler
}

// NewExecutor builds an executor from a fixed handler table.
func NewExecutor(handlers map[string]Handler) *Executor {
	table := make(map[string]Handler, len(handlers))
	maps.Copy(table, handlers)

	return &Executor{handlers: table}
}

// Methods returns the supported method names, sorted.
func (e *Executor) Methods() []string {
	return slices.Sorted(maps.Keys(e.handlers))
}

// Supports reports whether the executor knows the method.
func (e *Executor) Supports(method string) bool {
	_, ok := e.handlers[method]

	return ok
}

// Execute dispatches one call to the handler registered for method.
func (e *Executor) Execute(ctx context.Context, method string, params any) (any, error) {
	h, ok := e.handlers[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrUnsupportedMethod, method)
	}

	return h(ctx, params)
}
