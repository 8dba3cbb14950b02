package middleware

import (
	"context"
	"time"

	"hm-binrpc/message"
)

// TimeoutMiddleware bounds the whole call, retries included. The client maps
// the context deadline onto the socket deadline.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, port int, req *message.RPCMessage) (message.Value, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, port, req)
		}
	}
}
