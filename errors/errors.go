package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrStreamClosed is returned when Read or Write is called on a transport
// that is not open. It reports misuse by the caller, not a network condition,
// and is never an *Error.
var ErrStreamClosed = pkgerrors.New("stream closed")

// TransportError is the kind of a transport-layer failure
type TransportError int

const (
	// TransportErrorUnknown covers readiness-wait errors, unexpected inbound
	// data during a write and short reads without another explanation.
	TransportErrorUnknown TransportError = iota
	// TransportErrorNotOpen means the connection is not usable: connect
	// failures, peer closure and cleanup after an OS-level I/O error.
	TransportErrorNotOpen
	// TransportErrorTimedOut means the time budget ran out first.
	TransportErrorTimedOut
)

func (k TransportError) String() string {
	switch k {
	case TransportErrorUnknown:
		return "Unknown"
	case TransportErrorNotOpen:
		return "NotOpen"
	case TransportErrorTimedOut:
		return "TimedOut"
	default:
		return fmt.Sprintf("TransportError(%d)", int(k))
	}
}

// Error is a classified transport error
type Error struct {
	Kind          TransportError
	Message       string
	UnderlyingErr error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "no error"
	}
	switch {
	case e.Message != "" && e.UnderlyingErr != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.UnderlyingErr)
	case e.Message != "":
		return e.Message
	case e.UnderlyingErr != nil:
		return e.UnderlyingErr.Error()
	default:
		return e.Kind.String()
	}
}

// Unwrap returns the underlying error for error chain support
func (e *Error) Unwrap() error {
	return e.UnderlyingErr
}

// NewTransportError creates a new transport error
func NewTransportError(kind TransportError, message string, underlying error) *Error {
	return &Error{
		Kind:          kind,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NotOpen creates a NotOpen error with a formatted message
func NotOpen(format string, args ...interface{}) *Error {
	return NewTransportError(TransportErrorNotOpen, fmt.Sprintf(format, args...), nil)
}

// TimedOut creates a TimedOut error with a formatted message
func TimedOut(format string, args ...interface{}) *Error {
	return NewTransportError(TransportErrorTimedOut, fmt.Sprintf(format, args...), nil)
}

// Unknown creates an Unknown error with a formatted message
func Unknown(format string, args ...interface{}) *Error {
	return NewTransportError(TransportErrorUnknown, fmt.Sprintf(format, args...), nil)
}

// AsTransportError reports whether err is, or wraps, an *Error.
func AsTransportError(err error) (*Error, bool) {
	var te *Error
	if pkgerrors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// KindOf returns the kind of a classified error. ok is false for nil,
// ErrStreamClosed and unclassified errors.
func KindOf(err error) (kind TransportError, ok bool) {
	te, ok := AsTransportError(err)
	if !ok {
		return TransportErrorUnknown, false
	}
	return te.Kind, true
}

func isKind(err error, kind TransportError) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsNotOpen reports whether err is a NotOpen transport error
func IsNotOpen(err error) bool { return isKind(err, TransportErrorNotOpen) }

// IsTimedOut reports whether err is a TimedOut transport error
func IsTimedOut(err error) bool { return isKind(err, TransportErrorTimedOut) }

// IsUnknown reports whether err is an Unknown transport error
func IsUnknown(err error) bool { return isKind(err, TransportErrorUnknown) }

// IsStreamClosed reports whether err is the misuse error ErrStreamClosed
func IsStreamClosed(err error) bool {
	return pkgerrors.Is(err, ErrStreamClosed)
}
