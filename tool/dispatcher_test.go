package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/agentcore/internal/apperror"
)

func TestDispatch_ValidatesRequiredFields(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{
		Name:       "echo",
		JSONSchema: map[string]any{"type": "object", "required": []string{"text"}},
		Handler:    func(hctx HandlerContext, args map[string]any) (any, error) { return args["text"], nil },
	})
	d := NewDispatcher(r)

	_, _, err := d.Dispatch(context.Background(), HandlerContext{}, "echo", map[string]any{})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.InvalidRequest))
}

func TestDispatch_UnknownToolErrors(t *testing.T) {
	d := NewDispatcher(NewRegistry())
	_, _, err := d.Dispatch(context.Background(), HandlerContext{}, "nope", nil)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.ToolError))
}

func TestDispatch_RunsHandlerAndTraces(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{
		Name:    "echo",
		Handler: func(hctx HandlerContext, args map[string]any) (any, error) { return "ok", nil },
	})
	d := NewDispatcher(r)

	result, trace, err := d.Dispatch(context.Background(), HandlerContext{}, "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "ok", trace.Status)
	assert.GreaterOrEqual(t, trace.DurationMs, int64(0))
}

func TestDispatch_EnforcesTimeout(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Handler: func(hctx HandlerContext, args map[string]any) (any, error) {
			time.Sleep(100 * time.Millisecond)
			return nil, nil
		},
	})
	d := NewDispatcher(r)

	_, trace, err := d.Dispatch(context.Background(), HandlerContext{}, "slow", nil)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.ToolTimeout))
	assert.Equal(t, "error", trace.Status)
}

func TestRegister_IsIdempotentByName(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{Name: "x", Description: "first"})
	r.Register(Tool{Name: "x", Description: "second"})

	got, ok := r.Get("x")
	require.True(t, ok)
	assert.Equal(t, "second", got.Description)
	assert.Len(t, r.List(), 1)
}
