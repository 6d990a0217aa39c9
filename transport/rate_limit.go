package transport

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/petal-labs/carelink/core"
)

// RateLimiter is the interface for rate limiting.
type RateLimiter interface {
	// Wait blocks until the request can proceed or ctx is done.
	Wait(ctx context.Context) error
}

// WithRateLimit limits requests to ratePerSecond with a burst of twice the
// rate, at least one.
func WithRateLimit(ratePerSecond float64) Middleware {
	burst := int(ratePerSecond * 2)
	if burst < 1 {
		burst = 1
	}
	return WithRateLimiter(rate.NewLimiter(rate.Limit(ratePerSecond), burst))
}

// WithRateLimiter delays each request until limiter admits it. A request
// whose context ends while waiting is not sent.
func WithRateLimiter(limiter RateLimiter) Middleware {
	return func(next core.Transport) core.Transport {
		return core.TransportFunc(func(ctx context.Context, req *core.TransportRequest) (*core.TransportResponse, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit: %w", err)
			}
			return next.Do(ctx, req)
		})
	}
}
