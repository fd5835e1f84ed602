package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelai/agentcore/internal/apperror"
)

// HandlerContext is the subset of turn state a tool handler may need.
type HandlerContext struct {
	Context   context.Context
	AgentID   string
	SessionID string
}

// Trace is the observability record for one dispatch (spec §4.8: "Tool
// invocations are traced with (name, duration_ms, status)").
type Trace struct {
	Name       string
	DurationMs int64
	Status     string // "ok" or "error"
}

// Dispatcher validates arguments and runs a tool's handler under the
// tool's configured timeout.
type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(r *Registry) *Dispatcher {
	return &Dispatcher{registry: r}
}

// Dispatch validates args against the tool's schema, then runs the handler
// with a hard deadline: the reasoning loop never waits longer than the
// tool's configured timeout, even if the handler ignores ctx cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, hctx HandlerContext, name string, args map[string]any) (any, Trace, error) {
	start := time.Now()
	trace := Trace{Name: name}

	t, ok := d.registry.Get(name)
	if !ok {
		trace.Status = "error"
		trace.DurationMs = time.Since(start).Milliseconds()
		return nil, trace, apperror.New(apperror.ToolError, fmt.Sprintf("unknown tool %q", name))
	}

	if err := validateArgs(t.JSONSchema, args); err != nil {
		trace.Status = "error"
		trace.DurationMs = time.Since(start).Milliseconds()
		return nil, trace, apperror.Wrap(apperror.InvalidRequest, fmt.Sprintf("invalid arguments for tool %q", name), err)
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	hctx.Context = callCtx

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool %q panicked: %v", name, r)}
			}
		}()
		res, err := t.Handler(hctx, args)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		trace.DurationMs = time.Since(start).Milliseconds()
		if o.err != nil {
			trace.Status = "error"
			return nil, trace, apperror.Wrap(apperror.ToolError, fmt.Sprintf("tool %q failed", name), o.err)
		}
		trace.Status = "ok"
		return o.result, trace, nil
	case <-callCtx.Done():
		trace.DurationMs = time.Since(start).Milliseconds()
		trace.Status = "error"
		return nil, trace, apperror.New(apperror.ToolTimeout, fmt.Sprintf("tool %q exceeded its %s timeout", name, timeout))
	}
}

// validateArgs performs a structural check against a JSON-schema-shaped
// map: required properties present, and declared types honored for the
// properties that are present. No JSON-schema validation library appears
// anywhere in the reference corpus, so this implements the minimal subset
// the built-in tool schemas actually need rather than pulling in an unseen
// dependency for full draft-07 coverage.
func validateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}
	required, _ := schema["required"].([]string)
	for _, field := range required {
		if _, ok := args[field]; !ok {
			return fmt.Errorf("missing required field %q", field)
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for field, value := range args {
		propSchema, ok := props[field].(map[string]any)
		if !ok {
			continue
		}
		wantType, _ := propSchema["type"].(string)
		if wantType == "" {
			continue
		}
		if !matchesJSONType(value, wantType) {
			return fmt.Errorf("field %q: expected type %q", field, wantType)
		}
	}
	return nil
}

func matchesJSONType(v any, jsonType string) bool {
	switch jsonType {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "integer":
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}
