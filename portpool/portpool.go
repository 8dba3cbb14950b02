// Package portpool hands out local TCP ports for callback listeners.
//
// Ports are leased sequentially from a base. A released lease is reused
// before the sequence grows, so a restarted bridge usually gets its old port
// back.
package portpool

import "sync"

// DefaultBasePort is the first port handed out.
const DefaultBasePort = 9125

type lease struct {
	port  int
	inUse bool
}

// PortPool is safe for concurrent use.
type PortPool struct {
	mu     sync.Mutex
	base   int
	leases []lease
}

// New creates a pool starting at base. A non-positive base uses DefaultBasePort.
func New(base int) *PortPool {
	if base <= 0 {
		base = DefaultBasePort
	}
	return &PortPool{base: base}
}

// NextPort returns the first released port, or base+len(leases) when none is free.
func (p *PortPool) NextPort() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.leases {
		if !p.leases[i].inUse {
			p.leases[i].inUse = true
			return p.leases[i].port
		}
	}
	port := p.base + len(p.leases)
	p.leases = append(p.leases, lease{port: port, inUse: true})
	return port
}

// Release marks port free. Ports the pool never handed out are ignored.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.leases {
		if p.leases[i].port == port {
			p.leases[i].inUse = false
			return
		}
	}
}

// InUse returns the number of leased ports.
func (p *PortPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, l := range p.leases {
		if l.inUse {
			n++
		}
	}
	return n
}
