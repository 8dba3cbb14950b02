// Package registry records where each bridge's callback listener can be
// reached, so operators and peer processes can see which callbacks are
// registered with which gateway.
package registry

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("registry: endpoint not found")

// Endpoint is one bridge's callback listener registered with a gateway.
type Endpoint struct {
	BridgeID    string   `json:"bridge_id"`
	Gateway     string   `json:"gateway"`      // gateway host
	CallbackURL string   `json:"callback_url"` // e.g. binary://10.0.0.5:9125
	Interfaces  []string `json:"interfaces"`
}

type Registry interface {
	Register(ctx context.Context, ep Endpoint, ttl int64) error
	Deregister(ctx context.Context, gateway, bridgeID string) error
	Discover(ctx context.Context, gateway string) ([]Endpoint, error)
	Watch(ctx context.Context, gateway string) <-chan []Endpoint
}
