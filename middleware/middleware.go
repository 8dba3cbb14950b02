// Package middleware wraps the client's send path with cross-cutting
// behaviour. A handler performs one gateway call on a port and returns the
// decoded result.
package middleware

import (
	"context"

	"hm-binrpc/message"
)

type HandlerFunc func(ctx context.Context, port int, req *message.RPCMessage) (message.Value, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件，第一个在最外层
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
