package registry

import (
	"context"
	"testing"
	"time"
)

func TestStaticRegisterAndDiscover(t *testing.T) {
	reg := NewStaticRegistryFromAddrs("grid", []string{"127.0.0.1:10802", "127.0.0.1:10801"})
	ctx := context.Background()

	instances, err := reg.Discover(ctx, "grid")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 || instances[0].Addr != "127.0.0.1:10801" || instances[0].Weight != 1 {
		t.Fatalf("unexpected instances %+v", instances)
	}

	if other, _ := reg.Discover(ctx, "other"); len(other) != 0 {
		t.Fatalf("clusters leak: %+v", other)
	}

	reg.Deregister(ctx, "grid", "127.0.0.1:10801")
	instances, _ = reg.Discover(ctx, "grid")
	if len(instances) != 1 || instances[0].Addr != "127.0.0.1:10802" {
		t.Fatalf("expect one instance after deregister, got %+v", instances)
	}
}

func TestStaticWatch(t *testing.T) {
	reg := NewStaticRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	updates := reg.Watch(ctx, "grid")

	reg.Register(ctx, "grid", NodeInstance{Addr: "a:1", Weight: 1}, 10)
	reg.Register(ctx, "grid", NodeInstance{Addr: "b:1", Weight: 1}, 10)

	// updates coalesce: the watcher sees the latest list
	select {
	case got := <-updates:
		if len(got) != 2 {
			t.Fatalf("expect latest list of 2, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no update")
	}

	cancel()
	select {
	case _, ok := <-updates:
		if ok {
			// a final update may still be buffered; the next read sees the close
			if _, ok := <-updates; ok {
				t.Fatal("channel not closed after cancel")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
