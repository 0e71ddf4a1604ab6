// Package registry is the phone book clients use to find grid nodes.
//
// Nodes register themselves under a cluster name; clients discover the current node
// list and may watch it for changes. StaticRegistry serves a fixed or in-process list,
// EtcdRegistry a shared one with lease-based expiry.
package registry

import "context"

// NodeInstance describes one reachable grid node.
type NodeInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"` // relative share for weighted endpoint selection
	Version string `json:"version"`
}

type Registry interface {
	// Register publishes instance under cluster. ttl is in seconds; an instance whose
	// owner stops renewing disappears once it expires.
	Register(ctx context.Context, cluster string, instance NodeInstance, ttl int64) error
	Deregister(ctx context.Context, cluster string, addr string) error
	Discover(ctx context.Context, cluster string) ([]NodeInstance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, cluster string) <-chan []NodeInstance
}
