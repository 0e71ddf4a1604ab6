package middleware

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"gridclient/message"
	"gridclient/transport"
)

// RetryMiddleware retries a request only when it was never written, that is when the
// connection was already closed (transport.ErrClosed). Type mismatches, server
// errors and lost connections are returned as is: the first two would fail the same
// way again and the last may already have been applied.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			resp, err := next(ctx, req)
			for i := 0; i < maxRetries && errors.Is(err, transport.ErrClosed); i++ {
				delay := baseDelay * time.Duration(1<<i) // exponential backoff
				logger.Info("retrying request",
					zap.Stringer("op", req.Opcode),
					zap.Int("attempt", i+1),
					zap.Duration("backoff", delay),
					zap.Error(err))
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				resp, err = next(ctx, req)
			}
			return resp, err
		}
	}
}
