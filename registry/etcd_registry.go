// Package registry provides the etcd-based implementation of the Registry interface.
//
//	Key:   /hm-binrpc/{Gateway}/{BridgeID}
//	Value: JSON-encoded Endpoint
//
// Registration uses TTL-based leases: if the bridge process dies, the lease
// expires and the entry is removed.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/hm-binrpc/"

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, revoked on Deregister
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect etcd: %w", err)
	}
	return &EtcdRegistry{client: c, logger: logger, leases: make(map[string]clientv3.LeaseID)}, nil
}

func endpointKey(gateway, bridgeID string) string {
	return keyPrefix + gateway + "/" + bridgeID
}

// Register stores ep under a lease of ttl seconds and keeps the lease alive
// until Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, ep Endpoint, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}

	key := endpointKey(ep.Gateway, ep.BridgeID)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry: put %s: %w", key, err)
	}

	// KeepAlive must outlive the caller's ctx; it stops when the lease is revoked
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return fmt.Errorf("registry: keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()

	r.logger.Info("Registered callback endpoint",
		zap.String("key", key),
		zap.String("callback_url", ep.CallbackURL))
	return nil
}

// Deregister removes the endpoint and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, gateway, bridgeID string) error {
	key := endpointKey(gateway, bridgeID)

	r.mu.Lock()
	leaseID, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("registry: delete %s: %w", key, err)
	}
	if ok {
		if _, err := r.client.Revoke(ctx, leaseID); err != nil {
			r.logger.Warn("Failed to revoke lease", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// Discover returns every endpoint registered for gateway.
func (r *EtcdRegistry) Discover(ctx context.Context, gateway string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, keyPrefix+gateway+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: get: %w", err)
	}

	endpoints := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			r.logger.Warn("Skipping malformed endpoint", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// Watch emits the full endpoint list for gateway after every change. The
// channel closes when ctx ends.
func (r *EtcdRegistry) Watch(ctx context.Context, gateway string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, keyPrefix+gateway+"/", clientv3.WithPrefix())
		for range watchChan {
			// re-fetch the full list rather than applying individual events
			endpoints, err := r.Discover(ctx, gateway)
			if err != nil {
				r.logger.Warn("Failed to refresh endpoints", zap.Error(err))
				continue
			}
			select {
			case ch <- endpoints:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close revokes outstanding leases and closes the etcd client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	leases := r.leases
	r.leases = make(map[string]clientv3.LeaseID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, id := range leases {
		r.client.Revoke(ctx, id)
	}
	return r.client.Close()
}
