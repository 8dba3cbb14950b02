package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"hm-binrpc/message"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, port int, req *message.RPCMessage) (message.Value, error) {
			start := time.Now()
			result, err := next(ctx, port, req)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Int("port", port),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("Gateway call failed", append(fields, zap.Error(err))...)
				return result, err
			}
			logger.Debug("Gateway call", fields...)
			return result, nil
		}
	}
}
