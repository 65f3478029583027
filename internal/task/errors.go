package task

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is matched by every InvalidStateError.
	ErrInvalidState = errors.New("invalid worker state")
	// ErrCancelled may be returned by a task that stopped because it saw a
	// cancellation request.
	ErrCancelled = errors.New("task cancelled")
)

// InvalidStateError reports caller misuse, such as starting a worker twice.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: worker is %s", e.Op, e.State)
}

// Is lets errors.Is match ErrInvalidState.
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// TaskError wraps a failure raised by the task itself. Error returns the
// task's own message so observers see exactly what the task reported.
type TaskError struct {
	// Type is the dynamic Go type of the returned error or panic value.
	Type string
	// Message is the text of the failure.
	Message string
	// Stack is the goroutine stack captured at the worker boundary. For
	// panics it includes the panicking frames.
	Stack []byte
	// Panicked is true when the task panicked instead of returning an error.
	Panicked bool
	// Err is the original error, or a synthesized one for panics.
	Err error
}

func (e *TaskError) Error() string {
	return e.Message
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// newTaskError reuses err only when it is a *TaskError itself; a wrapping
// error keeps its own message and gets a fresh stack.
func newTaskError(err error, stack []byte) *TaskError {
	if te, ok := err.(*TaskError); ok { //nolint:errorlint // wrappers must keep their message
		return te
	}
	return &TaskError{
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
		Stack:   stack,
		Err:     err,
	}
}

func newPanicError(r any, stack []byte) *TaskError {
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("%v", r)
	}
	return &TaskError{
		Type:     fmt.Sprintf("%T", r),
		Message:  fmt.Sprint(r),
		Stack:    stack,
		Panicked: true,
		Err:      err,
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
