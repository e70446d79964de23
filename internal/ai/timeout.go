package ai

import (
	"context"
	"errors"
	"time"
)

// WithTimeout bounds every call of next. A call that runs out of time while the caller's
// context is still live is reported as a transient failure.
func WithTimeout(next Oracle, timeout time.Duration, provider string) Oracle {
	if timeout <= 0 {
		return next
	}
	return OracleFunc(func(ctx context.Context, model, system, user string) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		out, err := next.Complete(callCtx, model, system, user)
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !IsTransient(err) {
			return "", Transient(ctx, provider, 0, err)
		}
		return out, err
	})
}
