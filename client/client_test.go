package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gridclient/binarytype"
	"gridclient/cacheconfig"
	"gridclient/codec"
	"gridclient/message"
	"gridclient/middleware"
	"gridclient/protocol"
	"gridclient/registry"
	"gridclient/server"
)

func startNode(t testing.TB, opts ...server.Option) (*server.Server, string) {
	t.Helper()
	svr := server.NewServer(opts...)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.Serve(ln)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return svr, ln.Addr().String()
}

func connect(t testing.TB, cfg Config, opts ...Option) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Connect(ctx, cfg, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// The put/get scenario: integer keys, string values, puts in parallel, gets in order.
func TestPutGetScenario(t *testing.T) {
	_, addr := startNode(t)
	c := connect(t, Config{Endpoints: []string{addr}})
	ctx := context.Background()

	cache, err := c.GetOrCreateCache(ctx, "test_cache")
	if err != nil {
		t.Fatal(err)
	}
	cache = cache.SetKeyType(binarytype.Integer).SetValueType(binarytype.String)

	var wg sync.WaitGroup
	for key := int32(0); key < 3; key++ {
		wg.Add(1)
		go func(key int32) {
			defer wg.Done()
			if err := cache.Put(ctx, key, fmt.Sprintf("value%d", key)); err != nil {
				t.Errorf("put %d: %v", key, err)
			}
		}(key)
	}
	wg.Wait()

	for key := int32(0); key < 3; key++ {
		v, err := cache.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if v != fmt.Sprintf("value%d", key) {
			t.Fatalf("key %d: unexpected value %v", key, v)
		}
	}
}

// A null value against a non-nullable declared type fails before anything is sent.
func TestNullValueRejectedBeforeSend(t *testing.T) {
	_, addr := startNode(t)
	var sent atomic.Int32
	counter := func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			sent.Add(1)
			return next(ctx, req)
		}
	}
	c := connect(t, Config{Endpoints: []string{addr}}, WithMiddleware(counter))
	ctx := context.Background()

	cache, err := c.GetOrCreateCache(ctx, "ints")
	if err != nil {
		t.Fatal(err)
	}
	before := sent.Load()
	cache = cache.SetKeyType(binarytype.Integer).SetValueType(binarytype.Integer)

	err = cache.Put(ctx, int32(1), nil)
	var mismatch *binarytype.TypeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expect *TypeMismatchError, got %v", err)
	}
	if mismatch.Observed != binarytype.Null || mismatch.Declared != binarytype.Integer {
		t.Fatalf("unexpected mismatch %+v", mismatch)
	}
	if _, err := cache.ContainsKey(ctx, nil); !errors.Is(err, binarytype.ErrTypeMismatch) {
		t.Fatalf("expect mismatch for nil key, got %v", err)
	}
	if sent.Load() != before {
		t.Fatalf("%d requests sent for rejected values", sent.Load()-before)
	}

	// a value of the wrong type read back is a mismatch as well
	if err := cache.SetValueType(nil).Put(ctx, int32(2), "two"); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Get(ctx, int32(2)); !errors.Is(err, binarytype.ErrTypeMismatch) {
		t.Fatalf("expect mismatch reading STRING as INTEGER, got %v", err)
	}
}

func TestCacheOperations(t *testing.T) {
	_, addr := startNode(t)
	c := connect(t, Config{Endpoints: []string{addr}})
	ctx := context.Background()

	cache, err := c.CreateCache(ctx, "ops")
	if err != nil {
		t.Fatal(err)
	}
	cache = cache.SetKeyType(binarytype.Integer).SetValueType(binarytype.String)

	mustBool := func(name string, got bool, err error, want bool) {
		t.Helper()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got != want {
			t.Fatalf("%s: got %v, want %v", name, got, want)
		}
	}
	mustValue := func(name string, got any, err error, want any) {
		t.Helper()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got != want {
			t.Fatalf("%s: got %v, want %v", name, got, want)
		}
	}
	size := func(want int64) {
		t.Helper()
		n, err := cache.GetSize(ctx)
		if err != nil || n != want {
			t.Fatalf("size: got %d, %v; want %d", n, err, want)
		}
	}

	ok, err := cache.PutIfAbsent(ctx, 1, "one")
	mustBool("putIfAbsent new", ok, err, true)
	ok, err = cache.PutIfAbsent(ctx, 1, "uno")
	mustBool("putIfAbsent existing", ok, err, false)

	v, err := cache.GetAndPut(ctx, 1, "ONE")
	mustValue("getAndPut", v, err, "one")
	v, err = cache.GetAndPut(ctx, 2, "two")
	mustValue("getAndPut new", v, err, nil)

	v, err = cache.GetAndReplace(ctx, 2, "TWO")
	mustValue("getAndReplace", v, err, "two")
	v, err = cache.GetAndReplace(ctx, 3, "three")
	mustValue("getAndReplace missing", v, err, nil)
	ok, err = cache.ContainsKey(ctx, 3)
	mustBool("getAndReplace must not insert", ok, err, false)

	v, err = cache.GetAndPutIfAbsent(ctx, 3, "three")
	mustValue("getAndPutIfAbsent new", v, err, nil)
	v, err = cache.GetAndPutIfAbsent(ctx, 3, "drei")
	mustValue("getAndPutIfAbsent existing", v, err, "three")

	ok, err = cache.Replace(ctx, 3, "THREE")
	mustBool("replace", ok, err, true)
	ok, err = cache.Replace(ctx, 4, "four")
	mustBool("replace missing", ok, err, false)

	ok, err = cache.ReplaceIfEquals(ctx, 3, "three", "x")
	mustBool("replaceIfEquals stale", ok, err, false)
	ok, err = cache.ReplaceIfEquals(ctx, 3, "THREE", "3")
	mustBool("replaceIfEquals", ok, err, true)
	v, err = cache.Get(ctx, 3)
	mustValue("get after replaceIfEquals", v, err, "3")

	ok, err = cache.ContainsKeys(ctx, 1, 2, 3)
	mustBool("containsKeys", ok, err, true)
	ok, err = cache.ContainsKeys(ctx, 1, 4)
	mustBool("containsKeys partial", ok, err, false)
	size(3)

	entries, err := cache.GetAll(ctx, 1, 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key.(int32) < entries[j].Key.(int32) })
	if len(entries) != 2 || entries[0] != (Entry{int32(1), "ONE"}) || entries[1] != (Entry{int32(2), "TWO"}) {
		t.Fatalf("getAll: %+v", entries)
	}

	v, err = cache.GetAndRemove(ctx, 1)
	mustValue("getAndRemove", v, err, "ONE")
	ok, err = cache.RemoveKey(ctx, 1)
	mustBool("removeKey missing", ok, err, false)
	ok, err = cache.RemoveKey(ctx, 2)
	mustBool("removeKey", ok, err, true)
	ok, err = cache.RemoveIfEquals(ctx, 3, "nope")
	mustBool("removeIfEquals stale", ok, err, false)
	ok, err = cache.RemoveIfEquals(ctx, 3, "3")
	mustBool("removeIfEquals", ok, err, true)
	size(0)

	if err := cache.PutAll(ctx, []Entry{{int32(10), "a"}, {int32(11), "b"}, {int32(12), "c"}, {int32(13), "d"}}); err != nil {
		t.Fatal(err)
	}
	size(4)
	if err := cache.ClearKey(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if err := cache.ClearKeys(ctx, 11); err != nil {
		t.Fatal(err)
	}
	if err := cache.RemoveKeys(ctx, 12); err != nil {
		t.Fatal(err)
	}
	size(1)
	if n, err := cache.GetSize(ctx, PeekBackup); err != nil || n != 0 {
		t.Fatalf("backup size: %d, %v", n, err)
	}
	if n, err := cache.GetSize(ctx, PeekPrimary, PeekBackup); err != nil || n != 1 {
		t.Fatalf("primary size: %d, %v", n, err)
	}
	if err := cache.RemoveAll(ctx); err != nil {
		t.Fatal(err)
	}
	size(0)

	cache.Put(ctx, 20, "x")
	if err := cache.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	size(0)
}

func TestCacheLifecycle(t *testing.T) {
	_, addr := startNode(t)
	c := connect(t, Config{Endpoints: []string{addr}})
	ctx := context.Background()

	if _, err := c.CreateCache(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	_, err := c.CreateCache(ctx, "alpha")
	var srvErr *message.ServerError
	if !errors.As(err, &srvErr) || srvErr.Status != protocol.StatusCacheExists {
		t.Fatalf("expect cache-exists error, got %v", err)
	}
	if _, err := c.GetOrCreateCache(ctx, "alpha"); err != nil {
		t.Fatalf("getOrCreate existing: %v", err)
	}

	cfg := cacheconfig.New().SetBackups(1).SetCacheMode(cacheconfig.CacheModeReplicated)
	beta, err := c.CreateCacheWithConfiguration(ctx, "beta", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetOrCreateCacheWithConfiguration(ctx, "beta", cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateCacheWithConfiguration(ctx, "beta", cfg); !errors.As(err, &srvErr) {
		t.Fatalf("expect error creating beta twice, got %v", err)
	}

	got, err := beta.Configuration(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.CacheName() != "beta" || got.BackupCount() != 1 || got.CacheMode() != cacheconfig.CacheModeReplicated {
		t.Fatalf("configuration round trip: name=%s backups=%d mode=%d", got.CacheName(), got.BackupCount(), got.CacheMode())
	}

	names, err := c.CacheNames(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Fatalf("names: %v", names)
	}

	if err := c.DestroyCache(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	err = c.Cache("alpha").Put(ctx, int32(1), "x")
	if !errors.As(err, &srvErr) || srvErr.Status != protocol.StatusCacheDoesNotExist {
		t.Fatalf("expect cache-does-not-exist, got %v", err)
	}
	if err := c.DestroyCache(ctx, "alpha"); !errors.As(err, &srvErr) {
		t.Fatalf("expect error destroying twice, got %v", err)
	}
}

func TestCacheHandle(t *testing.T) {
	c := &Client{}
	base := c.Cache("test_cache")
	if base.ID() != 2055086485 || base.Name() != "test_cache" {
		t.Fatalf("id %d", base.ID())
	}
	typed := base.SetKeyType(binarytype.Integer)
	if base.KeyType().Declared() || !typed.KeyType().Declared() {
		t.Fatal("SetKeyType must not modify the receiver")
	}
	if typed.SetKeyType(nil).KeyType().Declared() {
		t.Fatal("nil type must clear the check")
	}
}

func TestReconnectAfterNodeLoss(t *testing.T) {
	reg := registry.NewStaticRegistry()
	first, _ := startNode(t, server.WithRegistry(reg, "grid", "", 10))
	waitForNodes(t, reg, 1)

	disconnected := make(chan error, 1)
	c := connect(t, Config{Cluster: "grid", Retries: 2, RetryBackoff: 10 * time.Millisecond},
		WithRegistry(reg), WithDisconnectHandler(func(err error) { disconnected <- err }))
	ctx := context.Background()
	if _, err := c.GetOrCreateCache(ctx, "c"); err != nil {
		t.Fatal(err)
	}

	startNode(t, server.WithRegistry(reg, "grid", "", 10))
	waitForNodes(t, reg, 2)
	first.Shutdown(time.Second)

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect handler not called")
	}

	// the next request dials the remaining node
	names, err := c.CacheNames(ctx)
	if err != nil {
		t.Fatalf("request after node loss: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("new node should have no caches, got %v", names)
	}
}

func TestConnectFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := Connect(ctx, Config{}); !errors.Is(err, ErrNoEndpoints) {
		t.Fatalf("expect ErrNoEndpoints, got %v", err)
	}

	_, addr := startNode(t, server.WithCredentials("user", "secret"))
	_, err := Connect(ctx, Config{Endpoints: []string{addr}, Username: "user", Password: "wrong"})
	var hsErr *protocol.HandshakeError
	if !errors.As(err, &hsErr) {
		t.Fatalf("expect handshake error, got %v", err)
	}

	c := connect(t, Config{Endpoints: []string{addr}, Username: "user", Password: "secret"})
	c.Close()
	if _, err := c.CacheNames(ctx); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expect ErrClientClosed, got %v", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	// A node that accepts the handshake and never answers.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	release := make(chan struct{})
	defer close(release)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		protocol.ReadHandshake(conn)
		protocol.WriteHandshakeResult(conn, nil)
		<-release
	}()

	c := connect(t, Config{Endpoints: []string{ln.Addr().String()}, RequestTimeout: 50 * time.Millisecond})
	if _, err := c.CacheNames(context.Background()); !errors.Is(err, middleware.ErrTimeout) {
		t.Fatalf("expect ErrTimeout, got %v", err)
	}
}

func TestValueTypes(t *testing.T) {
	_, addr := startNode(t)
	c := connect(t, Config{Endpoints: []string{addr}})
	ctx := context.Background()
	cache, err := c.GetOrCreateCache(ctx, "types")
	if err != nil {
		t.Fatal(err)
	}

	when := time.UnixMilli(1700000000123).UTC()
	cases := []struct {
		code  binarytype.TypeCode
		in    any
		check func(any) bool
	}{
		{binarytype.Byte, 7, func(v any) bool { return v == int8(7) }},
		{binarytype.Short, 300, func(v any) bool { return v == int16(300) }},
		{binarytype.Long, 1 << 40, func(v any) bool { return v == int64(1<<40) }},
		{binarytype.Double, 2.5, func(v any) bool { return v == 2.5 }},
		{binarytype.Boolean, true, func(v any) bool { return v == true }},
		{binarytype.Date, when, func(v any) bool { return v.(time.Time).Equal(when) }},
		{binarytype.StringArray, []string{"a", "b"}, func(v any) bool { s := v.([]string); return len(s) == 2 && s[1] == "b" }},
		{binarytype.IntegerArray, []int32{1, 2, 3}, func(v any) bool { s := v.([]int32); return len(s) == 3 && s[2] == 3 }},
		{binarytype.Map, map[string]int32{"k": 1}, func(v any) bool { return v.(map[any]any)["k"] == int32(1) }},
	}
	for i, tc := range cases {
		typed := cache.SetKeyType(binarytype.Integer).SetValueType(tc.code)
		if err := typed.Put(ctx, i, tc.in); err != nil {
			t.Fatalf("%s: put: %v", tc.code, err)
		}
		v, err := typed.Get(ctx, i)
		if err != nil {
			t.Fatalf("%s: get: %v", tc.code, err)
		}
		if !tc.check(v) {
			t.Fatalf("%s: got %#v", tc.code, v)
		}
	}

	if err := cache.SetValueType(binarytype.Byte).Put(ctx, 100, 1000); !errors.Is(err, codec.ErrValueOutOfRange) {
		t.Fatalf("expect ErrValueOutOfRange, got %v", err)
	}
}

func waitForNodes(t *testing.T, reg registry.Registry, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		nodes, _ := reg.Discover(context.Background(), "grid")
		if len(nodes) == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expect %d nodes, have %+v", n, nodes)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDetachWhenNodeLeavesRegistry(t *testing.T) {
	_, a := startNode(t)
	_, b := startNode(t)
	reg := registry.NewStaticRegistryFromAddrs("grid", []string{a, b})

	c := connect(t, Config{Cluster: "grid"}, WithRegistry(reg))
	ctx := context.Background()
	first := c.NodeAddr()
	if first != a && first != b {
		t.Fatalf("connected to %q", first)
	}

	// The node stays up; only its registration goes away.
	if err := reg.Deregister(ctx, "grid", first); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.NodeAddr() != "" {
		if time.Now().After(deadline) {
			t.Fatalf("still attached to %s", first)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := c.CacheNames(ctx); err != nil {
		t.Fatal(err)
	}
	if got := c.NodeAddr(); got == first || got == "" {
		t.Fatalf("reconnected to %q, want the other node", got)
	}
}
