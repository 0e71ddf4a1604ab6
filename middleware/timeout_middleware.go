package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gridclient/message"
)

var ErrTimeout = errors.New("middleware: request timed out")

// TimeOutMiddleware bounds each request. When the deadline passes the caller gets
// ErrTimeout; a response that arrives later is dropped by the transport.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				resp *message.Response
				err  error
			}
			done := make(chan result, 1)
			go func() {
				resp, err := next(ctx, req)
				done <- result{resp, err}
			}()

			select {
			case r := <-done:
				if errors.Is(r.err, context.DeadlineExceeded) {
					return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
				}
				return r.resp, r.err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
				}
				return nil, ctx.Err()
			}
		}
	}
}
