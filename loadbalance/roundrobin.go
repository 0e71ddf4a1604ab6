package loadbalance

import (
	"sync/atomic"

	"gridclient/registry"
)

// RoundRobinBalancer rotates the starting instance on every call.
// Uses an atomic counter for lock-free, goroutine-safe operation.
type RoundRobinBalancer struct {
	counter atomic.Int64
}

// Order starts at the next instance in turn and wraps around.
func (b *RoundRobinBalancer) Order(instances []registry.NodeInstance) ([]registry.NodeInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	start := int((b.counter.Add(1) - 1) % int64(len(instances)))
	out := make([]registry.NodeInstance, 0, len(instances))
	out = append(out, instances[start:]...)
	return append(out, instances[:start]...), nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
