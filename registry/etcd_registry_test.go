package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// etcdRegistry connects to the etcd named by GRID_ETCD_ENDPOINTS, skipping the test
// when none is configured.
func etcdRegistry(t *testing.T) *EtcdRegistry {
	endpoints := os.Getenv("GRID_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("GRID_ETCD_ENDPOINTS not set")
	}
	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","), 2*time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg := etcdRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inst1 := NodeInstance{Addr: "127.0.0.1:10801", Weight: 10, Version: "1.1.0"}
	inst2 := NodeInstance{Addr: "127.0.0.1:10802", Weight: 5, Version: "1.1.0"}

	if err := reg.Register(ctx, "etcd-test", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "etcd-test", inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover(ctx, "etcd-test")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	updates := reg.Watch(ctx, "etcd-test")
	if err := reg.Deregister(ctx, "etcd-test", inst1.Addr); err != nil {
		t.Fatal(err)
	}

	select {
	case instances = <-updates:
	case <-ctx.Done():
		t.Fatal("no watch update after deregister")
	}
	if len(instances) != 1 || instances[0].Addr != inst2.Addr {
		t.Fatalf("expect only %s, got %+v", inst2.Addr, instances)
	}

	reg.Deregister(ctx, "etcd-test", inst2.Addr)
}
