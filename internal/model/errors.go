package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when a caller passes a missing or out of range parameter.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConnect is the kind of error produced when the remote endpoint cannot be reached.
	ErrConnect = errors.New("connect failed")

	// ErrStream is the kind of error produced when an established connection fails mid-stream.
	ErrStream = errors.New("stream failed")

	// ErrStorage is the kind of error produced by history reads and writes.
	ErrStorage = errors.New("history storage failed")

	// ErrSessionNotFound is returned when a session record is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDisposed is returned when an operation is attempted on a disposed session.
	ErrDisposed = errors.New("session disposed")
)

// OpError records a failed operation against a remote endpoint.
// Kind is one of the sentinel errors above; Err is the underlying cause.
type OpError struct {
	Op       string
	Endpoint Endpoint
	Kind     error
	Err      error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint.Address(), e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Endpoint.Address(), e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewOpError builds an OpError of the given kind.
func NewOpError(op string, ep Endpoint, kind, err error) *OpError {
	return &OpError{Op: op, Endpoint: ep, Kind: kind, Err: err}
}

// InvalidArgument wraps a message as an ErrInvalidArgument error.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
