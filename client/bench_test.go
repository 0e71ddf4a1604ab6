package client

import (
	"context"
	"testing"

	"gridclient/binarytype"
)

func benchCache(b *testing.B) *Cache {
	_, addr := startNode(b)
	c := connect(b, Config{Endpoints: []string{addr}})
	cache, err := c.GetOrCreateCache(context.Background(), "bench")
	if err != nil {
		b.Fatal(err)
	}
	return cache.SetKeyType(binarytype.Integer).SetValueType(binarytype.String)
}

// One goroutine, one request in flight at a time.
func BenchmarkSerialPut(b *testing.B) {
	cache := benchCache(b)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := cache.Put(ctx, int32(i%1024), "value"); err != nil {
			b.Fatal(err)
		}
	}
}

// Many goroutines share the single multiplexed connection.
func BenchmarkConcurrentPut(b *testing.B) {
	cache := benchCache(b)
	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		var i int32
		for pb.Next() {
			if err := cache.Put(ctx, i%1024, "value"); err != nil {
				b.Error(err)
				return
			}
			i++
		}
	})
}

func BenchmarkGetAll(b *testing.B) {
	cache := benchCache(b)
	ctx := context.Background()
	keys := make([]any, 100)
	for i := range keys {
		keys[i] = int32(i)
		if err := cache.Put(ctx, int32(i), "value"); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cache.GetAll(ctx, keys...); err != nil {
			b.Fatal(err)
		}
	}
}
