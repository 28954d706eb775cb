// Package rtuerr defines the error taxonomy shared by every rtuhub
// subsystem: a small, closed set of kinds that callers can branch on
// without parsing error strings.
package rtuerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error without tying callers to its message text.
type Kind string

const (
	OK             Kind = "ok"
	InvalidParam   Kind = "invalid_param"
	NotInitialized Kind = "not_initialized"
	NotFound       Kind = "not_found"
	AlreadyExists  Kind = "already_exists"
	NoMemory       Kind = "no_memory"
	IoError        Kind = "io_error"
	NotSupported   Kind = "not_supported"
	Timeout        Kind = "timeout"
	Generic        Kind = "generic"
)

// Error is the concrete error type returned across component
// boundaries. Component and Op identify where the failure occurred;
// Cause, when set, is the underlying error.
type Error struct {
	Kind      Kind
	Component string
	Op        string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Component, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s.%s: %s", e.Component, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is by matching on Kind alone, the way callers
// are expected to test for a taxonomy member.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an Error with no wrapped cause.
func New(kind Kind, component, op, message string) *Error {
	return &Error{Kind: kind, Component: component, Op: op, Message: message}
}

// Wrap creates an Error that wraps cause. Returns nil if cause is nil,
// so call sites can write `return rtuerr.Wrap(...)` unconditionally
// around an err that may be nil.
func Wrap(cause error, kind Kind, component, op, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Component: component, Op: op, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, returning Generic for any error
// not produced by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Generic
}
