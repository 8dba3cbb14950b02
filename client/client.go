// Package client sends BIN-RPC calls to the gateway.
//
// Every call goes through the middleware chain and then the core send: calls
// on the same port are serialised because a port has a single session and
// the response must be read by the caller that wrote the request. Transport
// failures discard the session and are retried once; faults are never
// retried.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"hm-binrpc/codec"
	"hm-binrpc/message"
	"hm-binrpc/middleware"
	"hm-binrpc/transport"
)

const (
	DefaultTimeout = 15 * time.Second
	// DefaultValidationURL is the throwaway callback used by CheckInterface.
	DefaultValidationURL = "binary://hmbridge.validation:1000"

	maxSocketRetry = 1
)

// Config is the client's view of the gateway.
type Config struct {
	Ports   map[Interface]int
	Timeout time.Duration
	// NonRetryable methods are sent once even on transport failure.
	// nil means {"init"}.
	NonRetryable []string
	// ResetAfter methods drop the port's session after a successful call so
	// the next call starts on a fresh connection. nil means {"init"}.
	ResetAfter    []string
	ValidationURL string
}

type Option func(*Client)

// WithMiddleware wraps the core send. The first middleware is outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, mws...) }
}

type Client struct {
	cfg          Config
	sockets      *transport.SocketManager
	codec        *codec.BinaryCodec
	logger       *zap.Logger
	middlewares  []middleware.Middleware
	handler      middleware.HandlerFunc
	nonRetryable map[string]struct{}
	resetAfter   map[string]struct{}

	mu    sync.Mutex
	ports map[int]chan struct{} // port → single-slot send lock
}

func New(cfg Config, sockets *transport.SocketManager, bc *codec.BinaryCodec, logger *zap.Logger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ValidationURL == "" {
		cfg.ValidationURL = DefaultValidationURL
	}
	if cfg.NonRetryable == nil {
		cfg.NonRetryable = []string{"init"}
	}
	if cfg.ResetAfter == nil {
		cfg.ResetAfter = []string{"init"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		cfg:          cfg,
		sockets:      sockets,
		codec:        bc,
		logger:       logger,
		nonRetryable: methodSet(cfg.NonRetryable),
		resetAfter:   methodSet(cfg.ResetAfter),
		ports:        make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.handler = middleware.Chain(c.middlewares...)(c.send)
	return c
}

func methodSet(methods []string) map[string]struct{} {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[m] = struct{}{}
	}
	return set
}

// Invoke calls method on port and returns the decoded result. Failures of the
// send itself are *Error values; see KindOf.
func (c *Client) Invoke(ctx context.Context, port int, method string, args ...message.Value) (message.Value, error) {
	return c.handler(ctx, port, message.NewCall(method, args...))
}

// Close drops every gateway session.
func (c *Client) Close() {
	c.sockets.Flush()
}

func (c *Client) send(ctx context.Context, port int, req *message.RPCMessage) (message.Value, error) {
	unlock, err := c.lockPort(ctx, port)
	if err != nil {
		return nil, transportError(req.Method, port, err)
	}
	defer unlock()

	c.logger.Debug("Client request", zap.Int("port", port), zap.Stringer("message", req))

	for retry := 0; ; retry++ {
		resp, err := c.attempt(ctx, port, req)
		if err == nil {
			c.logger.Debug("Client response", zap.Int("port", port), zap.Stringer("message", resp))
			if resp.Kind == message.KindFault {
				return nil, faultError(req.Method, port, resp.Fault)
			}
			if _, ok := c.resetAfter[req.Method]; ok {
				c.sockets.RemoveSocket(port)
			}
			return resp.Result, nil
		}

		c.sockets.RemoveSocket(port)
		if _, ok := c.nonRetryable[req.Method]; ok || retry >= maxSocketRetry || ctx.Err() != nil {
			return nil, transportError(req.Method, port, err)
		}
		c.logger.Debug("Socket failure, sending message again",
			zap.String("method", req.Method),
			zap.Int("port", port),
			zap.Int("retry", retry+1),
			zap.Error(err))
	}
}

// attempt performs one write/read exchange on the port's session.
func (c *Client) attempt(ctx context.Context, port int, req *message.RPCMessage) (*message.RPCMessage, error) {
	conn, err := c.sockets.GetSocket(ctx, port)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	// unblock the exchange when ctx is cancelled without a deadline
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := c.codec.WriteMessage(conn, req); err != nil {
		return nil, err
	}
	resp, err := c.codec.ReadMessage(conn)
	if err != nil {
		return nil, err
	}
	if resp.Kind == message.KindCall {
		return nil, fmt.Errorf("%w: gateway answered with call %q", codec.ErrMalformed, resp.Method)
	}
	return resp, nil
}

func (c *Client) lockPort(ctx context.Context, port int) (func(), error) {
	c.mu.Lock()
	slot, ok := c.ports[port]
	if !ok {
		slot = make(chan struct{}, 1)
		c.ports[port] = slot
	}
	c.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Port returns the configured port for iface.
func (c *Client) Port(iface Interface) (int, error) {
	port, ok := c.cfg.Ports[iface]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownInterface, iface)
	}
	return port, nil
}

func (c *Client) invokeOn(ctx context.Context, iface Interface, method string, args ...message.Value) (message.Value, error) {
	port, err := c.Port(iface)
	if err != nil {
		return nil, err
	}
	return c.Invoke(ctx, port, method, args...)
}

var errNilResult = errors.New("empty result")

func expectStruct(method string, v message.Value) (message.Struct, error) {
	if s, ok := message.AsStruct(v); ok {
		return s, nil
	}
	return nil, unexpected(method, v)
}

func expectArray(method string, v message.Value) (message.Array, error) {
	if a, ok := message.AsArray(v); ok {
		return a, nil
	}
	return nil, unexpected(method, v)
}

func unexpected(method string, v message.Value) error {
	if v == nil {
		return fmt.Errorf("%w: %s: %v", ErrUnexpectedResult, method, errNilResult)
	}
	return fmt.Errorf("%w: %s returned %s", ErrUnexpectedResult, method, message.TypeName(v))
}
