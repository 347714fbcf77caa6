// Package errors defines the sentinel error values shared across the busflow
// runtime. Callers match them with errors.Is; wrapped variants carry the
// per-call detail.
package errors

import sterrors "errors"

var (
	// ErrClientNotConnected is returned by operations that need a live
	// backend connection before Connect (or after Close).
	ErrClientNotConnected = sterrors.New("busflow: client is not connected")

	// ErrInvalidMessage is returned when an incoming payload cannot be
	// decoded at all: no data, not UTF-8, not JSON, or no subject.
	ErrInvalidMessage = sterrors.New("busflow: invalid message")

	// ErrInvalidMessageData is returned when a payload decodes but its
	// content is not acceptable: a bare top-level scalar, or an envelope
	// without a usable data value. Matches ErrInvalidMessage as well.
	ErrInvalidMessageData = sterrors.New("busflow: invalid message data")

	// ErrTimeout is returned when no reply or message arrives within the
	// caller's deadline.
	ErrTimeout = sterrors.New("busflow: timed out")

	// ErrCallbackSubscription is returned by queue operations invoked on a
	// subscription that dispatches to a callback instead.
	ErrCallbackSubscription = sterrors.New("busflow: subscription delivers to a callback, not to queues")

	// ErrQueueExists is returned when a delivery queue name is already taken.
	ErrQueueExists = sterrors.New("busflow: delivery queue already exists")

	ErrSubjectRequired  = sterrors.New("busflow: subject is required")
	ErrCallbackRequired = sterrors.New("busflow: callback function is required")
	ErrConfigRequired   = sterrors.New("busflow: config is required")
)

// InvalidDataError carries the reason a decoded payload was rejected. It
// matches both ErrInvalidMessageData and ErrInvalidMessage.
type InvalidDataError struct {
	Reason string
}

func (e *InvalidDataError) Error() string {
	return "busflow: invalid message data: " + e.Reason
}

func (e *InvalidDataError) Is(target error) bool {
	return target == ErrInvalidMessageData || target == ErrInvalidMessage
}

// InvalidMessageError carries the reason a payload could not be decoded.
// It matches ErrInvalidMessage.
type InvalidMessageError struct {
	Reason string
}

func (e *InvalidMessageError) Error() string {
	return "busflow: invalid message: " + e.Reason
}

func (e *InvalidMessageError) Is(target error) bool {
	return target == ErrInvalidMessage
}
