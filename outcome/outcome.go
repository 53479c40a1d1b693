// Package outcome provides the tagged result type returned by every public
// engine operation. Expected failures (network errors, denied grants,
// cancellation) travel as failed outcomes rather than raw errors, so callers
// always receive a single value describing what happened.
package outcome

import (
	"context"
	"errors"
)

// Outcome is a tagged result: either a success carrying a value, or a
// failure carrying a message and/or an error. Exactly one of value and error
// is meaningful, selected by the success flag.
type Outcome[T any] struct {
	ok      bool
	value   T
	message string
	err     error
}

// OK returns a successful outcome carrying value.
func OK[T any](value T) Outcome[T] {
	return Outcome[T]{ok: true, value: value}
}

// Failure returns a failed outcome. Either message or err may be empty, but
// not both: a failure with no information is replaced by a generic message.
func Failure[T any](message string, err error) Outcome[T] {
	if message == "" && err == nil {
		message = "unspecified failure"
	}
	if message == "" {
		message = err.Error()
	}
	return Outcome[T]{message: message, err: err}
}

// FromError converts a conventional (value, error) pair into an outcome.
func FromError[T any](value T, err error) Outcome[T] {
	if err != nil {
		return Failure[T]("", err)
	}
	return OK(value)
}

// Succeeded reports whether the outcome carries a value.
func (o Outcome[T]) Succeeded() bool {
	return o.ok
}

// Value returns the carried value. The zero value is returned for failures.
func (o Outcome[T]) Value() T {
	return o.value
}

// Err returns the failure error, or nil for successes. Failures constructed
// with a message only return nil here; use Message for the human-readable
// description.
func (o Outcome[T]) Err() error {
	return o.err
}

// Message returns the human-readable failure description, empty on success.
func (o Outcome[T]) Message() string {
	return o.message
}

// Cancelled reports whether the failure was caused by caller-requested
// cancellation or a deadline, rather than a genuine error.
func (o Outcome[T]) Cancelled() bool {
	if o.ok || o.err == nil {
		return false
	}
	return errors.Is(o.err, context.Canceled) || errors.Is(o.err, context.DeadlineExceeded)
}

// Get unpacks the outcome into the conventional (value, error) shape. A
// message-only failure is converted to an error so the result is never
// silently successful.
func (o Outcome[T]) Get() (T, error) {
	if o.ok {
		return o.value, nil
	}
	err := o.err
	if err == nil {
		err = errors.New(o.message)
	}
	return o.value, err
}
