package grader

import (
	"context"
	"errors"
	"fmt"

	"github.com/rubrica-app/rubrica/internal/response"
	"github.com/rubrica-app/rubrica/internal/scorer"
)

// ExhaustedError is the terminal result of a grading pass whose every
// attempt failed with a retryable error.
type ExhaustedError struct {
	// Attempts is the number of model calls made.
	Attempts int

	// Last is the error of the final attempt.
	Last error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("grading failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// IsExhausted returns true if err is (or wraps) an ExhaustedError.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// Retryable reports whether a failed attempt may be repeated: transport
// failures and malformed replies are, cancellation is not.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return scorer.IsTransportError(err) || response.IsMalformed(err)
}

// Public failure messages. They are the only error text shown to users;
// details go to the log.
const (
	MsgMalformed   = "the grading model returned an unusable response"
	MsgTimeout     = "the grading model timed out"
	MsgUnreachable = "the grading model could not be reached"
	MsgRejected    = "the grading model rejected the request"
	MsgCancelled   = "grading was cancelled"
	MsgInternal    = "grading failed"
)

// PublicMessage maps err to a fixed, user-safe message.
func PublicMessage(err error) string {
	var te *scorer.TransportError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return MsgCancelled
	case response.IsMalformed(err):
		return MsgMalformed
	case errors.As(err, &te):
		switch {
		case te.Timeout:
			return MsgTimeout
		case te.StatusCode >= 400 && te.StatusCode < 500:
			return MsgRejected
		default:
			return MsgUnreachable
		}
	default:
		return MsgInternal
	}
}
