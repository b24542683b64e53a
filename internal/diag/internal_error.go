package diag

import (
	"errors"
	"fmt"

	"opal/internal/source"
)

// InternalError is a position-tagged invariant violation inside the compiler.
// It always means a bug in an earlier stage, never a property of the input
// program, and it aborts the run. Legitimately unreachable user code is not
// an InternalError; that lowers to runtime traps instead.
type InternalError struct {
	Span source.Span
	Msg  string
}

func (e *InternalError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Span == (source.Span{}) {
		return "internal error: " + e.Msg
	}
	return fmt.Sprintf("internal error: %s (at %s)", e.Msg, e.Span)
}

// ICEf builds an InternalError with a formatted message.
func ICEf(span source.Span, format string, args ...any) error {
	return &InternalError{Span: span, Msg: fmt.Sprintf(format, args...)}
}

// IsInternal reports whether err wraps an InternalError.
func IsInternal(err error) bool {
	var ice *InternalError
	return errors.As(err, &ice)
}
