package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolwire/mcp-client-go/internal/errors"
)

func TestExecutorDispatch(t *testing.T) {
	exec := NewExecutor(map[string]Handler{
		"tools/call": func(_ context.Context, params any) (any, error) {
			return params, nil
		},
		"tools/list": func(_ context.Context, _ any) (any, error) {
			return []string{"a", "b"}, nil
		},
	})

	assert.Equal(t, []string{"tools/call", "tools/list"}, exec.Methods())
	assert.True(t, exec.Supports("tools/call"))
	assert.False(t, exec.Supports("resources/read"))

	value, err := exec.Execute(context.Background(), "tools/call", "payload")
	require.NoError(t, err)
	assert.Equal(t, "payload", value)
}

func TestExecutorUnknownMethod(t *testing.T) {
	exec := NewExecutor(nil)

	_, err := exec.Execute(context.Background(), "nope", nil)
	require.ErrorIs(t, err, errors.ErrUnsupportedMethod)
	assert.Equal(t, errors.KindUnsupported, errors.KindOf(err))
}
