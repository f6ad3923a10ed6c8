package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/mledur/billkeeper/internal/models"
)

// Error classes of the remote backend: not-found, permission-denied,
// validation-failed, rate-limited, server-error, network-unreachable.
var (
	ErrNotFound         = errors.New("record not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrRateLimited      = errors.New("rate limited by backend")
	ErrServer           = errors.New("backend server error")
	ErrUnreachable      = errors.New("backend unreachable")

	// ErrOffline rejects a mutation locally while the client is in
	// offline mode. It is state, not a backend failure.
	ErrOffline = errors.New("offline: operation requires connectivity")
)

// StatusError carries the HTTP status and message of a backend rejection.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Message)
}

// IsTransient reports whether the failure is worth retrying: timeouts,
// DNS/network errors, 5xx and rate limiting. Everything else fails fast.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServer) || errors.Is(err, ErrUnreachable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 429 || se.Code >= 500
	}
	return false
}

// isNetworkClass reports whether the failure means the backend could not
// be reached at all, as opposed to reached-but-unhappy. Only this class
// escalates to the connectivity monitor.
func isNetworkClass(err error) bool {
	if errors.Is(err, ErrUnreachable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// UserMessage translates an error into user-displayable text.
func UserMessage(err error) string {
	var ve *models.ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Error()
	case errors.Is(err, ErrOffline):
		return "You are offline. The change was not saved; it will be possible once the connection returns."
	case errors.Is(err, ErrNotFound):
		return "This bill no longer exists."
	case errors.Is(err, ErrPermissionDenied):
		return "You do not have permission to change this bill."
	case errors.Is(err, ErrRateLimited):
		return "The service is busy. Please try again in a moment."
	case errors.Is(err, ErrUnreachable), errors.Is(err, ErrServer):
		return "The service is unavailable right now. Cached data is shown."
	default:
		return "Something went wrong. Please try again."
	}
}
