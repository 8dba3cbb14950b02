// Package bridge wires one callback listener to a gateway: it leases a
// local port, serves callbacks on it, registers the callback URL with each
// configured gateway interface, and undoes all of that on Stop.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hm-binrpc/client"
	"hm-binrpc/codec"
	"hm-binrpc/portpool"
	"hm-binrpc/registry"
	"hm-binrpc/server"
)

const (
	DefaultRegistryTTL = 10
	maxBindAttempts    = 10
)

var ErrAlreadyStarted = errors.New("bridge: already started")

type Config struct {
	// ID prefixes the client id sent with init. Empty generates a UUID.
	ID string
	// Gateway is the gateway host, used as the registry group.
	Gateway string
	// CallbackHost is the address the gateway uses to reach the listener.
	CallbackHost string
	Interfaces   []client.Interface
	RegistryTTL  int64
}

type Option func(*Bridge)

// WithServerOptions passes options to the callback listener.
func WithServerOptions(opts ...server.Option) Option {
	return func(b *Bridge) { b.serverOpts = append(b.serverOpts, opts...) }
}

type Bridge struct {
	cfg        Config
	client     *client.Client
	codec      *codec.BinaryCodec
	pool       *portpool.PortPool
	registry   registry.Registry // nil disables registration
	events     server.EventListener
	logger     *zap.Logger
	serverOpts []server.Option

	mu          sync.Mutex
	srv         *server.Server
	port        int
	callbackURL string
	inited      []client.Interface
}

func New(cfg Config, c *client.Client, bc *codec.BinaryCodec, pool *portpool.PortPool, reg registry.Registry, events server.EventListener, logger *zap.Logger, opts ...Option) *Bridge {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.RegistryTTL <= 0 {
		cfg.RegistryTTL = DefaultRegistryTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		cfg:      cfg,
		client:   c,
		codec:    bc,
		pool:     pool,
		registry: reg,
		events:   events,
		logger:   logger.With(zap.String("bridge", cfg.ID)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) ID() string {
	return b.cfg.ID
}

// CallbackURL returns the registered callback URL, or "" when stopped.
func (b *Bridge) CallbackURL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.callbackURL
}

// Port returns the leased callback port, or 0 when stopped.
func (b *Bridge) Port() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port
}

func (b *Bridge) clientID(iface client.Interface) string {
	return b.cfg.ID + "-" + string(iface)
}

// Start brings the bridge up. On failure everything already done is undone.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.srv != nil {
		return ErrAlreadyStarted
	}

	srv, port, err := b.listen()
	if err != nil {
		return err
	}
	b.srv, b.port = srv, port
	b.callbackURL = "binary://" + net.JoinHostPort(b.cfg.CallbackHost, strconv.Itoa(port))

	if b.registry != nil {
		ep := registry.Endpoint{
			BridgeID:    b.cfg.ID,
			Gateway:     b.cfg.Gateway,
			CallbackURL: b.callbackURL,
			Interfaces:  interfaceNames(b.cfg.Interfaces),
		}
		if err := b.registry.Register(ctx, ep, b.cfg.RegistryTTL); err != nil {
			b.teardown(ctx)
			return fmt.Errorf("bridge: register endpoint: %w", err)
		}
	}

	for _, iface := range b.cfg.Interfaces {
		if err := b.client.Init(ctx, iface, b.callbackURL, b.clientID(iface)); err != nil {
			b.teardown(ctx)
			return fmt.Errorf("bridge: init %s: %w", iface, err)
		}
		b.inited = append(b.inited, iface)
		b.logger.Info("Registered callback with gateway",
			zap.String("interface", string(iface)),
			zap.String("callback_url", b.callbackURL))
	}
	return nil
}

// listen leases ports until one can be bound. Ports held by other
// processes are handed back to the pool afterwards.
func (b *Bridge) listen() (*server.Server, int, error) {
	var busy []int
	defer func() {
		for _, p := range busy {
			b.pool.Release(p)
		}
	}()

	var lastErr error
	for i := 0; i < maxBindAttempts; i++ {
		port := b.pool.NextPort()
		srv := server.NewServer(b.events, b.codec, b.logger.Named("callback"), b.serverOpts...)
		if err := srv.Start(port); err != nil {
			b.logger.Warn("Callback port unavailable", zap.Int("port", port), zap.Error(err))
			busy = append(busy, port)
			lastErr = err
			continue
		}
		return srv, port, nil
	}
	return nil, 0, fmt.Errorf("bridge: no callback port available: %w", lastErr)
}

// Stop unregisters from the gateway and shuts the listener down. It is safe
// to call on a bridge that never started.
func (b *Bridge) Stop(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.srv == nil {
		return
	}
	b.teardown(ctx)
	b.logger.Info("Bridge stopped")
}

// teardown undoes Start. Caller holds mu.
func (b *Bridge) teardown(ctx context.Context) {
	for _, iface := range b.inited {
		if err := b.client.Release(ctx, iface, b.callbackURL); err != nil {
			b.logger.Warn("Failed to release callback",
				zap.String("interface", string(iface)),
				zap.Error(err))
		}
	}
	b.inited = nil

	b.srv.Shutdown()
	b.pool.Release(b.port)

	if b.registry != nil {
		if err := b.registry.Deregister(ctx, b.cfg.Gateway, b.cfg.ID); err != nil && !errors.Is(err, registry.ErrNotFound) {
			b.logger.Warn("Failed to deregister endpoint", zap.Error(err))
		}
	}
	b.client.Close()

	b.srv, b.port, b.callbackURL = nil, 0, ""
}

func interfaceNames(ifaces []client.Interface) []string {
	names := make([]string, len(ifaces))
	for i, iface := range ifaces {
		names[i] = string(iface)
	}
	return names
}
