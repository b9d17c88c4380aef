package resilience

import (
	"errors"
	"net/http"
)

// Error kinds surfaced by the queue service. Components wrap these with
// fmt.Errorf("...: %w", ...) so callers can classify with errors.Is while
// keeping the underlying detail in the message.
var (
	// ErrValidation marks a malformed or inconsistent request.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized marks a missing, unknown, revoked or expired token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound marks a lookup that positively found nothing.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a unique-constraint collision.
	ErrConflict = errors.New("conflict")

	// ErrRateLimited marks a request rejected by the front-door limiter.
	ErrRateLimited = errors.New("rate limited")

	// ErrQueueStoreUnavailable marks a failed ephemeral-store operation.
	// Lookups cannot be distinguished from absence under this error.
	ErrQueueStoreUnavailable = errors.New("queue store unavailable")

	// ErrMetaStoreUnavailable marks a failed metadata-store operation,
	// distinct from ErrNotFound so callers never mistake an outage for
	// absence.
	ErrMetaStoreUnavailable = errors.New("metadata store unavailable")
)

// HTTPStatus maps an error to the status code the HTTP surface reports.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrQueueStoreUnavailable), errors.Is(err, ErrMetaStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
