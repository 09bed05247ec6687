package nursery

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned from every suspension point of a task whose
	// scope has been cancelled. It is control flow, not a failure: a task
	// returning it (or an error wrapping it) does not fail its scope.
	ErrCancelled = errors.New("nursery: scope cancelled")

	ErrScopeClosed   = errors.New("nursery: scope already completed")
	ErrNotDriver     = errors.New("nursery: scheduler driven from inside a task")
	ErrAwaitOwnScope = errors.New("nursery: task awaited a scope that contains it")
	errExited        = errors.New("nursery: task goroutine exited without returning")
)

// IsCancelled reports whether err is, or wraps, ErrCancelled.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// PanicError carries a panic recovered from a task.
type PanicError struct {
	Task  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("nursery: task %q panicked: %v", e.Task, e.Value)
}
