package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gridclient/message"
)

// LoggingMiddleware logs every request with its duration. Failures are logged at
// warn level, successes at debug.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			fields := []zap.Field{
				zap.Stringer("op", req.Opcode),
				zap.Duration("duration", time.Since(start)),
			}
			if resp != nil {
				fields = append(fields, zap.Int64("request_id", resp.RequestID), zap.Int32("status", resp.Status))
			}
			if err != nil {
				logger.Warn("request failed", append(fields, zap.Error(err))...)
				return resp, err
			}
			logger.Debug("request", fields...)
			return resp, nil
		}
	}
}
