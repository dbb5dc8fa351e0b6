package sandbox

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a handler invocation failed.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindException  ErrorKind = "exception"
	KindDisallowed ErrorKind = "disallowed"
	KindContract   ErrorKind = "contract"
	KindCancelled  ErrorKind = "cancelled"
)

// errDisallowed marks capability use outside of what the sandbox grants.
var errDisallowed = errors.New("operation not allowed in sandbox")

// ExecutionError is returned when a mapping handler or processor fails. It fails the enclosing
// task, which may be retried, but never the pipeline by itself.
type ExecutionError struct {
	Kind    ErrorKind
	Handler string
	Height  uint64
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("handler %s at height %d: %s: %v", e.Handler, e.Height, e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// AsExecutionError returns the ExecutionError wrapped in err, if any.
func AsExecutionError(err error) (*ExecutionError, bool) {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
