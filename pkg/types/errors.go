// Package types defines error types
package types

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrSchedulerClosed indicates the scheduler has been shut down
	ErrSchedulerClosed = errors.New("scheduler is closed")

	// ErrTimeout indicates a task did not finish before its deadline
	ErrTimeout = errors.New("task timed out")

	// ErrCancelled indicates a task was cancelled by its caller
	ErrCancelled = errors.New("task cancelled")

	// ErrHandler indicates the task handler reported an error
	ErrHandler = errors.New("task handler failed")

	// ErrWorkerFault indicates the execution unit itself faulted
	ErrWorkerFault = errors.New("worker fault")

	// ErrUnknownTaskType indicates no handler is registered for a task type
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrInvalidTask indicates a malformed submission
	ErrInvalidTask = errors.New("invalid task")
)

// ErrorKind classifies how a task failed
type ErrorKind string

const (
	KindHandler   ErrorKind = "handler-error"
	KindWorker    ErrorKind = "worker-error"
	KindTimeout   ErrorKind = "timeout"
	KindCancelled ErrorKind = "cancelled"
)

// sentinel returns the predefined error matching the kind
func (k ErrorKind) sentinel() error {
	switch k {
	case KindHandler:
		return ErrHandler
	case KindWorker:
		return ErrWorkerFault
	case KindTimeout:
		return ErrTimeout
	case KindCancelled:
		return ErrCancelled
	default:
		return nil
	}
}

// TaskError is the error delivered to a caller whose task did not complete
type TaskError struct {
	// TaskID is the id of the failed task
	TaskID string

	// Kind classifies the failure
	Kind ErrorKind

	// Cause is the underlying error, if any
	Cause error

	// Context contains error context information
	Context map[string]interface{}
}

// NewTaskError creates a new task error
func NewTaskError(taskID string, kind ErrorKind, cause error) *TaskError {
	return &TaskError{
		TaskID:  taskID,
		Kind:    kind,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *TaskError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("task %s: %s", e.TaskID, e.Kind)
	}
	return fmt.Sprintf("task %s: %s: %v", e.TaskID, e.Kind, e.Cause)
}

// Unwrap returns the underlying error
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for this error's kind or matches the cause
func (e *TaskError) Is(target error) bool {
	if s := e.Kind.sentinel(); s != nil && target == s {
		return true
	}
	return e.Cause != nil && errors.Is(e.Cause, target)
}

// WithContext adds error context
func (e *TaskError) WithContext(key string, value interface{}) *TaskError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsTimeout reports whether err is a task timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCancelled reports whether err is a task cancellation
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsWorkerFault reports whether err came from a faulted execution unit
func IsWorkerFault(err error) bool {
	return errors.Is(err, ErrWorkerFault)
}

// IsHandlerError reports whether err was reported by a task handler
func IsHandlerError(err error) bool {
	return errors.Is(err, ErrHandler)
}

// KindOf returns the kind of a task error, or "" if err is not one
func KindOf(err error) ErrorKind {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
