package scorer

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransportError reports a model call that failed before a usable reply
// arrived: connection failure, timeout, or a non-success HTTP status.
//
// The client never retries on its own; the grader counts a TransportError
// against its bounded attempt budget.
type TransportError struct {
	// Op is the call that failed ("score" or "complete").
	Op string

	// RequestID correlates the failure with the log line of the call.
	RequestID string

	// StatusCode is the HTTP status when the server answered, zero otherwise.
	StatusCode int

	// Timeout is true when the connect or request deadline expired.
	Timeout bool

	// Err is the underlying cause.
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("transport: %s request %s: status %d: %v", e.Op, e.RequestID, e.StatusCode, e.Err)
	case e.Timeout:
		return fmt.Sprintf("transport: %s request %s: timed out: %v", e.Op, e.RequestID, e.Err)
	default:
		return fmt.Sprintf("transport: %s request %s: %v", e.Op, e.RequestID, e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// isTimeout reports whether err came from an expired deadline.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
