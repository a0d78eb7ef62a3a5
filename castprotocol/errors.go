package castprotocol

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for errors.Is checks at the boundary.
var (
	ErrConnection       = errors.New("cast: connection error")
	ErrUnreachable      = fmt.Errorf("%w: device unreachable", ErrConnection)
	ErrHandshakeFailed  = fmt.Errorf("%w: handshake failed", ErrConnection)
	ErrConnectionClosed = fmt.Errorf("%w: connection closed", ErrConnection)

	ErrTimeout = errors.New("cast: timed out")

	ErrProtocol         = errors.New("cast: protocol error")
	ErrMalformedMessage = fmt.Errorf("%w: malformed message", ErrProtocol)

	ErrSessionInvalidated = errors.New("cast: application session invalidated")
	ErrOperationRejected  = errors.New("cast: operation rejected by device")

	// ErrUnconfirmed is returned when the device answered a mutating request
	// without a status payload. The request was accepted, its effect is unknown.
	ErrUnconfirmed = errors.New("cast: accepted without status confirmation")

	ErrInvalidArgument = errors.New("cast: invalid argument")
	ErrNoApplication   = errors.New("cast: no receiver application running")
	ErrNoMediaSession  = errors.New("cast: no active media session")
)

// Error is a rich error type that wraps the sentinel errors with context.
type Error struct {
	Sentinel  error
	Op        string
	Namespace string
	RequestID int
	Reason    string
	Err       error // Nested lower-level error (e.g. net.Error)
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Sentinel)
	if e.Namespace != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Namespace)
	}
	if e.RequestID != 0 {
		msg = fmt.Sprintf("%s (request %d)", msg, e.RequestID)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the classification and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Err}
}

func invalidArgument(op, format string, args ...any) *Error {
	return &Error{Op: op, Sentinel: ErrInvalidArgument, Reason: fmt.Sprintf(format, args...)}
}

// isTimeoutError checks if an error is a timeout/deadline exceeded error.
// This typically happens when the TV needs to wake from sleep.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// IsConnectionLoss reports whether err means the session is gone and the
// caller has to reconnect before issuing more operations.
func IsConnectionLoss(err error) bool {
	return errors.Is(err, ErrConnection)
}
