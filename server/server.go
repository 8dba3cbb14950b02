// Package server implements the callback listener the gateway pushes events to.
//
// Connection handling pipeline:
//
//	Accept conn → go handleConn
//	  → read one frame → Codec.Decode → write callback reply → EventListener.OnEvent → close
//
// Each connection carries exactly one call. A failing connection (garbage,
// timeout, listener panic) is logged and closed; it never stops the accept loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hm-binrpc/codec"
	"hm-binrpc/message"
)

const (
	DefaultReadTimeout   = 30 * time.Second
	DefaultShutdownGrace = 5 * time.Second

	maxAcceptBackoff = time.Second
)

var (
	ErrAlreadyStarted = errors.New("server: already started")
	ErrServerClosed   = errors.New("server: closed")
)

type Option func(*Server)

// WithListenHost restricts the bind address. Empty binds every interface.
func WithListenHost(host string) Option {
	return func(s *Server) { s.host = host }
}

// WithReadTimeout bounds how long a connection may take to deliver its call.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.readTimeout = d }
}

// WithShutdownGrace bounds how long Shutdown waits for connection handlers.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Server) { s.grace = d }
}

// Server is the callback listener.
type Server struct {
	events EventListener
	codec  *codec.BinaryCodec
	logger *zap.Logger

	host        string
	readTimeout time.Duration
	grace       time.Duration

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{} // in-flight connections, force-closed on shutdown
	closed   bool
	wg       sync.WaitGroup

	accepting atomic.Bool // cleared before the listener is closed
	ctx       context.Context
	cancel    context.CancelFunc
	once      sync.Once
}

func NewServer(events EventListener, bc *codec.BinaryCodec, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		events:      events,
		codec:       bc,
		logger:      logger,
		readTimeout: DefaultReadTimeout,
		grace:       DefaultShutdownGrace,
		conns:       make(map[net.Conn]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds port (0 picks a free one) and serves in the background.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}
	if s.listener != nil {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("server: listen on port %d: %w", port, err)
	}
	s.listener = ln
	s.accepting.Store(true)

	s.logger.Info("Callback listener started", zap.String("addr", ln.Addr().String()))
	go s.serve(ln)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound TCP port, or 0 before Start.
func (s *Server) Port() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func (s *Server) serve(ln net.Listener) {
	var backoff time.Duration
	for s.accepting.Load() {
		conn, err := ln.Accept()
		if err != nil {
			if !s.accepting.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			s.logger.Warn("Accept failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.track(conn) {
			conn.Close()
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Callback handler panicked",
				zap.String("remote", conn.RemoteAddr().String()),
				zap.Any("panic", r))
		}
	}()

	if s.readTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.readTimeout))
	}

	msg, err := s.codec.ReadMessage(conn)
	if err != nil {
		if !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
			s.logger.Warn("Failed to read callback message",
				zap.String("remote", conn.RemoteAddr().String()),
				zap.Error(err))
		}
		return
	}
	if msg.Kind != message.KindCall {
		s.logger.Warn("Ignoring non-call callback message", zap.Stringer("message", msg))
		return
	}
	s.logger.Debug("Callback received", zap.Stringer("message", msg))

	if err := s.codec.WriteMessage(conn, message.NewResponse(Reply(msg))); err != nil {
		// the gateway may hang up without waiting; the event still counts
		s.logger.Debug("Failed to write callback reply", zap.String("method", msg.Method), zap.Error(err))
	}

	if s.ctx.Err() != nil {
		return
	}
	s.events.OnEvent(msg)
}

// Shutdown stops accepting, force-closes in-flight connections and waits up
// to the grace period for their handlers. It is safe to call more than once
// and before Start.
func (s *Server) Shutdown() {
	s.once.Do(func() {
		s.accepting.Store(false)

		s.mu.Lock()
		s.closed = true
		ln := s.listener
		conns := make([]net.Conn, 0, len(s.conns))
		for c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		if ln != nil {
			ln.Close()
		}
		for _, c := range conns {
			c.Close()
		}
		s.cancel()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.grace):
			s.logger.Warn("Timeout waiting for callback handlers to finish")
		}
		if ln != nil {
			s.logger.Info("Callback listener stopped", zap.String("addr", ln.Addr().String()))
		}
	})
}
