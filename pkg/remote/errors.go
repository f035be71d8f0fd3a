// Package remote defines the error taxonomy shared by the controller
// clients and the orchestration engine, plus the clock abstraction used
// to drive periodic and polling loops in tests.
package remote

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure against a remote controller or the
// local state guarding a remote mutation.
type ErrorKind string

const (
	// KindAuth indicates that login or session refresh against the
	// controller failed. Fatal to the whole operation, never retried
	// internally.
	KindAuth ErrorKind = "auth"

	// KindTransport indicates a network or IO failure before a response
	// was obtained. Callers may retry per their own policy.
	KindTransport ErrorKind = "transport"

	// KindProtocol indicates a non-success response whose error body was
	// missing, undecodable, or of an unrecognized shape. The raw status
	// and body are carried for diagnosis.
	KindProtocol ErrorKind = "protocol"

	// KindNotFound indicates the controller recognizably reported that
	// the requested entity does not exist. Read paths translate this to
	// an absent result; write paths propagate it.
	KindNotFound ErrorKind = "not_found"

	// KindPrecondition indicates local validation failed before any
	// remote call was issued. No remote side effect exists.
	KindPrecondition ErrorKind = "precondition"

	// KindConvergenceTimeout indicates a remote mutation was issued but
	// the expected end state was never observed within the poll budget.
	// The remote side may be in an unknown or partial state.
	KindConvergenceTimeout ErrorKind = "convergence_timeout"
)

// Error is a classified error with remote-call context.
type Error struct {
	// Kind is the classification from the closed set above.
	Kind ErrorKind

	// Message is the human-readable description.
	Message string

	// Status is the HTTP status code, when a response was received.
	Status int

	// Body is the raw response body for protocol errors.
	Body string

	// Target names the resource a convergence wait was about.
	Target string

	// Desired names the state a convergence wait never observed.
	Desired string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Target != "" {
		msg = fmt.Sprintf("%s (target=%s, desired=%s)", msg, e.Target, e.Desired)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status=%d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind, so sentinel comparison via
// errors.Is works against kind-only targets.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewAuthError creates an auth-kind error.
func NewAuthError(message string, err error) *Error {
	return &Error{Kind: KindAuth, Message: message, Err: err}
}

// NewTransportError creates a transport-kind error.
func NewTransportError(message string, err error) *Error {
	return &Error{Kind: KindTransport, Message: message, Err: err}
}

// NewProtocolError creates a protocol-kind error carrying the raw
// response status and body.
func NewProtocolError(message string, status int, body string) *Error {
	return &Error{Kind: KindProtocol, Message: message, Status: status, Body: body}
}

// NewNotFoundError creates a not_found-kind error.
func NewNotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// NewPreconditionError creates a precondition-kind error.
func NewPreconditionError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

// NewConvergenceTimeout creates a convergence_timeout-kind error naming
// the target resource and the state that was never observed.
func NewConvergenceTimeout(target, desired string) *Error {
	return &Error{
		Kind:    KindConvergenceTimeout,
		Message: "remote side did not converge within the poll budget",
		Target:  target,
		Desired: desired,
	}
}

func isKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsAuth reports whether err is classified as an auth failure.
func IsAuth(err error) bool { return isKind(err, KindAuth) }

// IsTransport reports whether err is classified as a transport failure.
func IsTransport(err error) bool { return isKind(err, KindTransport) }

// IsProtocol reports whether err is classified as a protocol failure.
func IsProtocol(err error) bool { return isKind(err, KindProtocol) }

// IsNotFound reports whether err is a recognized "does not exist"
// response from the controller.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsPrecondition reports whether err is a local precondition failure.
func IsPrecondition(err error) bool { return isKind(err, KindPrecondition) }

// IsConvergenceTimeout reports whether err is a convergence timeout.
func IsConvergenceTimeout(err error) bool { return isKind(err, KindConvergenceTimeout) }
