// Package loadbalance decides which grid node a client connects to.
//
// A client holds one connection at a time, so a balancer is asked for a try-order
// rather than a single pick: the client walks the order until a handshake succeeds,
// and asks again when it has to reconnect.
//
// Three strategies are implemented:
//   - RoundRobin:      spread clients evenly over equal nodes
//   - WeightedRandom:  favour bigger nodes in proportion to their weight
//   - ConsistentHash:  send a client back to the same node across reconnects
package loadbalance

import (
	"errors"

	"gridclient/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is the interface for endpoint selection strategies. Implementations must
// be goroutine-safe.
type Balancer interface {
	// Order returns every instance in the order they should be tried.
	Order(instances []registry.NodeInstance) ([]registry.NodeInstance, error)
	Name() string
}

// ByName returns the balancer configured under name, defaulting to round robin.
// key is only used by "consistent_hash".
func ByName(name, key string) Balancer {
	switch name {
	case "weighted_random":
		return &WeightedRandomBalancer{}
	case "consistent_hash":
		return NewConsistentHashBalancer(key)
	default:
		return &RoundRobinBalancer{}
	}
}
