package restapi

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// NewStoreLimiter returns a limiter allowing perMinute requests per minute
// with burst 1. perMinute <= 0 disables limiting.
func NewStoreLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Duration(float64(time.Minute)/float64(perMinute))), 1)
}

// waitLimiter wraps limiter.Wait so callers see a consistent error.
func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return &rateWaitError{err: err}
	}
	return nil
}

type rateWaitError struct{ err error }

func (e *rateWaitError) Error() string { return "rate limit wait failed: " + e.err.Error() }
func (e *rateWaitError) Unwrap() error { return e.err }
