package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrTransient marks a failure talking to the oracle that is safe to retry.
var ErrTransient = errors.New("transient oracle endpoint failure")

// TransientError wraps network errors, timeouts and retryable HTTP statuses.
type TransientError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s returned status %d: %v", ErrTransient, e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrTransient, e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// IsTransient reports whether err is a retryable endpoint failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTransient) {
		return true
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsTransientStatus reports whether an HTTP status code is worth retrying.
func IsTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Transient wraps err as a TransientError unless the caller's context is already done, in which
// case the context error is returned so cancellation is not mistaken for an endpoint failure.
func Transient(ctx context.Context, provider string, status int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &TransientError{Provider: provider, StatusCode: status, Err: err}
}
