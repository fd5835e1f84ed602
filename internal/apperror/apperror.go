// Package apperror defines the error taxonomy shared across the core
// subsystems (spec §7) and the propagation helpers used to carry a Kind
// through a wrapped error chain.
package apperror

import "errors"

// Kind identifies a category of error in the taxonomy.
type Kind string

const (
	InvalidRequest      Kind = "invalid_request"
	Unauthorized        Kind = "unauthorized"
	ProviderTransient   Kind = "provider_transient"
	ProviderPermanent   Kind = "provider_permanent"
	ToolError           Kind = "tool_error"
	ToolTimeout         Kind = "tool_timeout"
	StepLimit           Kind = "step_limit"
	ToolLimit           Kind = "tool_limit"
	TurnTimeout         Kind = "turn_timeout"
	BudgetExceeded       Kind = "budget_exceeded"
	ContextOverflowFixed Kind = "context_overflow_fixed"
	SummarizationFailed  Kind = "summarization_failed"
	StorageError         Kind = "storage_error"
)

// appError pairs a Kind with an underlying cause.
type appError struct {
	kind Kind
	msg  string
	err  error
}

func (e *appError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *appError) Unwrap() error { return e.err }

// New constructs an error tagged with the given Kind.
func New(kind Kind, msg string) error {
	return &appError{kind: kind, msg: msg}
}

// Wrap tags err with a Kind, preserving the chain for errors.Is/As/Unwrap.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &appError{kind: kind, msg: msg, err: err}
}

// Of extracts the Kind carried by err, if any, walking the Unwrap chain.
func Of(err error) (Kind, bool) {
	var ae *appError
	for err != nil {
		if a, ok := err.(*appError); ok {
			ae = a
			break
		}
		err = errors.Unwrap(err)
	}
	if ae == nil {
		return "", false
	}
	return ae.kind, true
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
