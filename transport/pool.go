// Package transport owns the client-side TCP sessions to the gateway.
//
// SocketManager keeps at most one live connection per destination port.
// Connections are created lazily on first use and discarded on error, so the
// next call for that port starts with a fresh connection.
//
// A session is used exclusively: the caller that wrote a request must read
// its response before anyone else touches the connection. SocketManager only
// guards its cache; serialising sends per port is the client's job.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DialFunc opens a connection to addr.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// SocketManager manages one cached connection per port on a single host.
type SocketManager struct {
	mu      sync.Mutex
	host    string
	timeout time.Duration
	dial    DialFunc
	sockets map[int]net.Conn // port → live session
	group   singleflight.Group
	logger  *zap.Logger
}

type Option func(*SocketManager)

// WithDialer replaces the default net.Dialer.
func WithDialer(dial DialFunc) Option {
	return func(m *SocketManager) { m.dial = dial }
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *SocketManager) { m.logger = logger }
}

// NewSocketManager creates a manager for host. timeout bounds each connect.
func NewSocketManager(host string, timeout time.Duration, opts ...Option) *SocketManager {
	m := &SocketManager{
		host:    host,
		timeout: timeout,
		sockets: make(map[int]net.Conn),
		logger:  zap.NewNop(),
	}
	d := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	m.dial = d.DialContext
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Host returns the destination host.
func (m *SocketManager) Host() string {
	return m.host
}

// Timeout returns the configured connect/read timeout.
func (m *SocketManager) Timeout() time.Duration {
	return m.timeout
}

// Addr returns the host:port address for port.
func (m *SocketManager) Addr(port int) string {
	return net.JoinHostPort(m.host, strconv.Itoa(port))
}

// GetSocket returns the cached session for port, or dials a new one.
// Concurrent first calls for the same port share a single dial.
func (m *SocketManager) GetSocket(ctx context.Context, port int) (net.Conn, error) {
	m.mu.Lock()
	conn, ok := m.sockets[port]
	m.mu.Unlock()
	if ok {
		return conn, nil
	}

	v, err, _ := m.group.Do(strconv.Itoa(port), func() (any, error) {
		m.mu.Lock()
		if conn, ok := m.sockets[port]; ok {
			m.mu.Unlock()
			return conn, nil
		}
		m.mu.Unlock()

		dialCtx := ctx
		if m.timeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, m.timeout)
			defer cancel()
		}
		conn, err := m.dial(dialCtx, "tcp", m.Addr(port))
		if err != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", m.Addr(port), err)
		}

		m.mu.Lock()
		m.sockets[port] = conn
		m.mu.Unlock()

		m.logger.Debug("Opened gateway session", zap.String("addr", m.Addr(port)))
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(net.Conn), nil
}

// RemoveSocket closes and forgets the session for port. Close errors are
// ignored; the next GetSocket dials again.
func (m *SocketManager) RemoveSocket(port int) {
	m.mu.Lock()
	conn, ok := m.sockets[port]
	delete(m.sockets, port)
	m.mu.Unlock()

	if ok {
		conn.Close()
		m.logger.Debug("Closed gateway session", zap.String("addr", m.Addr(port)))
	}
}

// Flush closes and forgets every session.
func (m *SocketManager) Flush() {
	m.mu.Lock()
	sockets := m.sockets
	m.sockets = make(map[int]net.Conn)
	m.mu.Unlock()

	for _, conn := range sockets {
		conn.Close()
	}
	if len(sockets) > 0 {
		m.logger.Debug("Flushed gateway sessions", zap.Int("count", len(sockets)))
	}
}

// Len returns the number of live sessions.
func (m *SocketManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sockets)
}
