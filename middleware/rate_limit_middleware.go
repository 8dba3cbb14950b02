package middleware

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"hm-binrpc/message"
)

var ErrRateLimited = errors.New("middleware: rate limit exceeded")

// RateLimitMiddleware paces calls with a token bucket. A call waits for a
// token and fails with ErrRateLimited when ctx ends first.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, port int, req *message.RPCMessage) (message.Value, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
			}
			return next(ctx, port, req)
		}
	}
}
