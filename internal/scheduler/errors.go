package scheduler

import (
	"context"
	"errors"

	"github.com/JakeFAU/anttp-gateway/internal/backend"
)

// ErrClosed is returned by Submit once Close has been called.
var ErrClosed = errors.New("scheduler closed")

// InternalError reports a failure inside the gateway after a successful fetch,
// such as a frame that could not be encoded.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return e.Err.Error()
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Outcome labels used for metrics, logs and the audit trail.
const (
	OutcomeSucceeded      = "succeeded"
	OutcomeTimeout        = "timeout"
	OutcomeBackendError   = "backend_error"
	OutcomeTransportError = "transport_error"
	OutcomeInternalError  = "internal_error"
	OutcomeCanceled       = "canceled"
)

// errShuttingDown fails jobs still queued when Close is called.
var errShuttingDown = errors.New("gateway shutting down")

// errorText is the wire text for a failed job.
func errorText(msg string) string {
	return "error fetching: " + msg
}

// classify maps a fetch error to its outcome label and, for backend status
// failures, the status code.
func classify(err error) (string, int) {
	var (
		timeoutErr  *backend.TimeoutError
		statusErr   *backend.StatusError
		internalErr *InternalError
	)
	switch {
	case err == nil:
		return OutcomeSucceeded, 0
	case errors.As(err, &timeoutErr):
		return OutcomeTimeout, 0
	case errors.As(err, &statusErr):
		return OutcomeBackendError, statusErr.StatusCode
	case errors.As(err, &internalErr):
		return OutcomeInternalError, 0
	case errors.Is(err, errShuttingDown), errors.Is(err, context.Canceled):
		return OutcomeCanceled, 0
	default:
		return OutcomeTransportError, 0
	}
}
