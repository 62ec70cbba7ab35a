package bus

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNotRegistered is returned when publishing or subscribing to a stream
	// that was never registered on the bus.
	ErrNotRegistered = errors.New("stream not registered")
	ErrCircuitOpen   = errors.New("circuit breaker open")
	ErrShutdown      = errors.New("shutdown in progress")
)

// SchemaConflictError is returned when a stream is re-registered with a
// different event type than the one already bound to it.
type SchemaConflictError struct {
	Stream     string
	Registered string
	Proposed   string
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("stream %q already registered with type %s (got %s)",
		e.Stream, e.Registered, e.Proposed)
}

// SchemaMismatchError is returned when a published event's runtime type does
// not match the type registered for the stream.
type SchemaMismatchError struct {
	Stream   string
	Expected string
	Actual   string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("event type %s does not match type %s registered for stream %q",
		e.Actual, e.Expected, e.Stream)
}

// ConnError wraps a backing-store failure. Every ConnError feeds the circuit
// breaker; everything else does not.
type ConnError struct {
	Op  string
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// NewConnError wraps err as a store connection failure for operation op.
func NewConnError(op string, err error) *ConnError {
	return &ConnError{Op: op, Err: err}
}

// IsConnError reports whether err (or anything it wraps) is a store failure.
func IsConnError(err error) bool {
	var ce *ConnError
	return errors.As(err, &ce)
}

// HandlerError classifies a consumer handler failure. Retryable failures
// leave the entry pending for redelivery; fatal failures route the entry to
// the dead-letter stream.
type HandlerError struct {
	Err       error
	Retryable bool
}

func (e *HandlerError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("handler failed (retryable): %v", e.Err)
	}
	return fmt.Sprintf("handler failed (fatal): %v", e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Retryable marks a handler failure as transient. The entry stays pending
// and is redelivered until the delivery budget is exhausted.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &HandlerError{Err: err, Retryable: true}
}

// Fatal marks a handler failure as permanent. The entry is dead-lettered and
// acknowledged immediately.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &HandlerError{Err: err, Retryable: false}
}

// IsRetryable reports whether a handler failure should be redelivered.
// Unclassified errors default to retryable: dropping an entry requires an
// explicit Fatal classification.
func IsRetryable(err error) bool {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Retryable
	}
	return true
}
