package middleware

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"gridclient/message"
)

var ErrRateLimited = errors.New("middleware: rate limit exceeded")

// RateLimitMiddleware paces requests with a token bucket: r tokens per second, at
// most burst at once. A request waits for a token unless its context would expire
// first.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
			}
			return next(ctx, req)
		}
	}
}
