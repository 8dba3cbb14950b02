package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry keeps endpoints in process. TTLs are ignored.
type MemoryRegistry struct {
	mu       sync.Mutex
	entries  map[string]map[string]Endpoint // gateway → bridge id → endpoint
	watchers map[string][]chan []Endpoint
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		entries:  make(map[string]map[string]Endpoint),
		watchers: make(map[string][]chan []Endpoint),
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, ep Endpoint, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries[ep.Gateway] == nil {
		r.entries[ep.Gateway] = make(map[string]Endpoint)
	}
	r.entries[ep.Gateway][ep.BridgeID] = ep
	r.notify(ep.Gateway)
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, gateway, bridgeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[gateway][bridgeID]; !ok {
		return ErrNotFound
	}
	delete(r.entries[gateway], bridgeID)
	r.notify(gateway)
	return nil
}

func (r *MemoryRegistry) Discover(ctx context.Context, gateway string) ([]Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(gateway), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context, gateway string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	r.mu.Lock()
	r.watchers[gateway] = append(r.watchers[gateway], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ws := r.watchers[gateway]
		for i, w := range ws {
			if w == ch {
				r.watchers[gateway] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// list is sorted by bridge id. Caller holds mu.
func (r *MemoryRegistry) list(gateway string) []Endpoint {
	endpoints := make([]Endpoint, 0, len(r.entries[gateway]))
	for _, ep := range r.entries[gateway] {
		endpoints = append(endpoints, ep)
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].BridgeID < endpoints[j].BridgeID })
	return endpoints
}

// notify replaces any unread snapshot with the latest one. Caller holds mu.
func (r *MemoryRegistry) notify(gateway string) {
	snapshot := r.list(gateway)
	for _, ch := range r.watchers[gateway] {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
