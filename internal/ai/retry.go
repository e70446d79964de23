package ai

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/cv-screener/internal/utils"
)

const (
	defaultRetryBase = time.Second
	defaultRetryMax  = 30 * time.Second
)

var waitFor = utils.WaitFor

type retryingOracle struct {
	next       Oracle
	maxRetries int
	base       time.Duration
	max        time.Duration
	logger     *zap.Logger
}

// WithRetry retries transient failures of next up to maxRetries times with exponential backoff.
// Other errors, including malformed but successful responses, are returned immediately.
func WithRetry(next Oracle, maxRetries int, logger *zap.Logger) Oracle {
	if maxRetries <= 0 {
		return next
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retryingOracle{
		next:       next,
		maxRetries: maxRetries,
		base:       defaultRetryBase,
		max:        defaultRetryMax,
		logger:     logger,
	}
}

func (r *retryingOracle) Complete(ctx context.Context, model, system, user string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := utils.Backoff(attempt, r.base, r.max)
			r.logger.Warn("retrying oracle request",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.maxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := waitFor(ctx, delay); err != nil {
				return "", err
			}
		}

		out, err := r.next.Complete(ctx, model, system, user)
		if err == nil {
			return out, nil
		}
		if !IsTransient(err) {
			return "", err
		}
		lastErr = err
	}

	return "", lastErr
}
