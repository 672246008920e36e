package fetch

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// retryingFetcher gives transient failures exactly one more attempt.
type retryingFetcher struct {
	next    Fetcher
	delay   time.Duration
	logger  *zap.Logger
	sleepFn func(context.Context, time.Duration) error
}

// WithRetry wraps a fetcher so that a retryable failure is attempted one
// more time after a short pause. Non-retryable errors and second failures
// surface unchanged.
func WithRetry(next Fetcher, delay time.Duration, logger *zap.Logger) Fetcher {
	return &retryingFetcher{
		next:    next,
		delay:   delay,
		logger:  logger,
		sleepFn: sleepCtx,
	}
}

func (f *retryingFetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	res, err := f.next.Fetch(ctx, rawURL)
	if err == nil || !Retryable(err) {
		return res, err
	}

	f.logger.Debug("retrying fetch",
		zap.String("url", rawURL),
		zap.Error(err),
	)
	if sleepErr := f.sleepFn(ctx, f.delay); sleepErr != nil {
		return Result{}, sleepErr
	}
	return f.next.Fetch(ctx, rawURL)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
