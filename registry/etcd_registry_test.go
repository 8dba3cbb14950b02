package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// 需要真实的 etcd：HMBRIDGE_ETCD_ENDPOINTS=localhost:2379 go test ./registry
func newTestEtcd(t *testing.T) *EtcdRegistry {
	t.Helper()
	endpoints := os.Getenv("HMBRIDGE_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("HMBRIDGE_ETCD_ENDPOINTS not set")
	}
	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","), 2*time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg := newTestEtcd(t)
	ctx := context.Background()
	gateway := "ccu-test-" + time.Now().Format("150405.000")

	ep1 := Endpoint{BridgeID: "a", Gateway: gateway, CallbackURL: "binary://127.0.0.1:9125", Interfaces: []string{"BidCos-RF"}}
	ep2 := Endpoint{BridgeID: "b", Gateway: gateway, CallbackURL: "binary://127.0.0.1:9126", Interfaces: []string{"HmIP-RF"}}

	if err := reg.Register(ctx, ep1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, ep2, 10); err != nil {
		t.Fatal(err)
	}

	endpoints, err := reg.Discover(ctx, gateway)
	if err != nil {
		t.Fatal(err)
	}
	if len(endpoints) != 2 {
		t.Fatalf("expect 2 endpoints, got %d", len(endpoints))
	}

	if err := reg.Deregister(ctx, gateway, "a"); err != nil {
		t.Fatal(err)
	}

	endpoints, err = reg.Discover(ctx, gateway)
	if err != nil {
		t.Fatal(err)
	}
	if len(endpoints) != 1 || endpoints[0].CallbackURL != ep2.CallbackURL {
		t.Fatalf("expect only %s, got %v", ep2.CallbackURL, endpoints)
	}

	reg.Deregister(ctx, gateway, "b")
}

func TestEtcdWatch(t *testing.T) {
	reg := newTestEtcd(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gateway := "ccu-watch-" + time.Now().Format("150405.000")

	ch := reg.Watch(ctx, gateway)
	time.Sleep(100 * time.Millisecond)

	if err := reg.Register(ctx, Endpoint{BridgeID: "a", Gateway: gateway, CallbackURL: "binary://127.0.0.1:9125"}, 10); err != nil {
		t.Fatal(err)
	}
	select {
	case endpoints := <-ch:
		if len(endpoints) != 1 {
			t.Fatalf("expect 1 endpoint, got %d", len(endpoints))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for watch update")
	}
	reg.Deregister(context.Background(), gateway, "a")
}
