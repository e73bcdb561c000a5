package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed input. It is rejected before any state
// mutation and never retried automatically.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// PreconditionError reports an operation attempted in a state that forbids it
// (install while disconnected, second install in flight). No state changes.
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string { return e.Msg }

func preconditionf(format string, args ...any) error {
	return &PreconditionError{Msg: fmt.Sprintf(format, args...)}
}

// ConnectivityError reports that a server or agent could not be reached. It
// is recorded as an accident and surfaced as a warning rather than aborting
// the surrounding operation.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string { return "connectivity: " + e.Err.Error() }
func (e *ConnectivityError) Unwrap() error { return e.Err }

// RemoteApplyError reports that a remote agent rejected or failed a config
// push. The remote error is reported verbatim; local state is unchanged.
type RemoteApplyError struct {
	Err error
}

func (e *RemoteApplyError) Error() string { return "remote apply: " + e.Err.Error() }
func (e *RemoteApplyError) Unwrap() error { return e.Err }
