// Package blerrors implements the error taxonomy of spec §7 as typed,
// errors.Is/errors.As-friendly error values, following the
// ConnectionError/NotFoundError pattern the runtime's go-ble adapter is
// grounded on: a Kind enum plus an Is method that compares by kind, not
// by pointer identity or message text.
package blerrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories from spec §7.
type Kind string

const (
	// NotPresent: an operation referenced a service, characteristic or
	// descriptor not present in the connected peripheral's service table.
	NotPresent Kind = "not_present"

	// IncompatibleDataFormat: a codec Decode call failed against the
	// bytes actually received.
	IncompatibleDataFormat Kind = "incompatible_data_format"

	// ControlPointRequiresNotifying: a write to a control-point
	// characteristic was attempted before its notification was enabled.
	ControlPointRequiresNotifying Kind = "control_point_requires_notifying"

	// ControlPointInProgress: a control-point write was attempted while a
	// prior control-point operation has not yet completed.
	ControlPointInProgress Kind = "control_point_in_progress"

	// BackendError: the underlying GATT Backend Interface reported a
	// transport/protocol failure.
	BackendError Kind = "backend_error"

	// Cancelled: the operation's context was cancelled before completion.
	Cancelled Kind = "cancelled"

	// Timeout: the operation did not complete within its deadline.
	Timeout Kind = "timeout"
)

// Error is the common error type for every kind in the taxonomy. Two
// *Error values compare equal under errors.Is when their Kind matches,
// regardless of Resource/Detail/Cause — mirroring ConnectionError's
// State-based Is.
type Error struct {
	Kind     Kind
	Resource string // e.g. "characteristic", "service"; empty if not applicable
	Detail   string
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Resource != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Resource)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is allows errors.Is(err, &Error{Kind: X}) to match any *Error of the
// same Kind, independent of Resource/Detail/Cause.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel values for errors.Is comparisons against a bare kind, e.g.
// errors.Is(err, blerrors.ErrNotPresent).
var (
	ErrNotPresent                    = &Error{Kind: NotPresent}
	ErrIncompatibleDataFormat        = &Error{Kind: IncompatibleDataFormat}
	ErrControlPointRequiresNotifying = &Error{Kind: ControlPointRequiresNotifying}
	ErrControlPointInProgress        = &Error{Kind: ControlPointInProgress}
	ErrBackendError                  = &Error{Kind: BackendError}
	ErrCancelled                     = &Error{Kind: Cancelled}
	ErrTimeout                       = &Error{Kind: Timeout}
)

// NewNotPresent builds a NotPresent error naming the missing resource.
func NewNotPresent(resource, detail string) *Error {
	return &Error{Kind: NotPresent, Resource: resource, Detail: detail}
}

// NewIncompatibleDataFormat wraps a codec decode failure.
func NewIncompatibleDataFormat(resource string, cause error) *Error {
	return &Error{Kind: IncompatibleDataFormat, Resource: resource, Cause: cause}
}

// NewControlPointRequiresNotifying reports a control-point write attempted
// without an active notification subscription.
func NewControlPointRequiresNotifying(resource string) *Error {
	return &Error{Kind: ControlPointRequiresNotifying, Resource: resource}
}

// NewControlPointInProgress reports a control-point write attempted while
// a prior one has not completed.
func NewControlPointInProgress(resource string) *Error {
	return &Error{Kind: ControlPointInProgress, Resource: resource}
}

// NewBackendError wraps a failure surfaced by the GATT Backend Interface.
func NewBackendError(detail string, cause error) *Error {
	return &Error{Kind: BackendError, Detail: detail, Cause: cause}
}

// NewCancelled reports an operation cancelled via its context.
func NewCancelled(resource string) *Error {
	return &Error{Kind: Cancelled, Resource: resource}
}

// NewTimeout reports an operation that exceeded its deadline.
func NewTimeout(resource string) *Error {
	return &Error{Kind: Timeout, Resource: resource}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}
