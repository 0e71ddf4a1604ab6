package registry

import (
	"context"
	"sort"
	"sync"
)

// StaticRegistry keeps instances in memory. It backs clients configured with a fixed
// endpoint list and nodes running in the same process as their clients. ttl is
// ignored: entries live until deregistered.
type StaticRegistry struct {
	mu       sync.Mutex
	clusters map[string]map[string]NodeInstance
	watchers map[string][]chan []NodeInstance
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		clusters: make(map[string]map[string]NodeInstance),
		watchers: make(map[string][]chan []NodeInstance),
	}
}

// NewStaticRegistryFromAddrs returns a registry holding addrs under cluster, each
// with weight 1.
func NewStaticRegistryFromAddrs(cluster string, addrs []string) *StaticRegistry {
	r := NewStaticRegistry()
	for _, addr := range addrs {
		r.Register(context.Background(), cluster, NodeInstance{Addr: addr, Weight: 1}, 0)
	}
	return r
}

func (r *StaticRegistry) Register(ctx context.Context, cluster string, instance NodeInstance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	nodes, ok := r.clusters[cluster]
	if !ok {
		nodes = make(map[string]NodeInstance)
		r.clusters[cluster] = nodes
	}
	nodes[instance.Addr] = instance
	r.notifyLocked(cluster)
	return nil
}

func (r *StaticRegistry) Deregister(ctx context.Context, cluster string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clusters[cluster], addr)
	r.notifyLocked(cluster)
	return nil
}

func (r *StaticRegistry) Discover(ctx context.Context, cluster string) ([]NodeInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(cluster), nil
}

func (r *StaticRegistry) Watch(ctx context.Context, cluster string) <-chan []NodeInstance {
	ch := make(chan []NodeInstance, 1)
	r.mu.Lock()
	r.watchers[cluster] = append(r.watchers[cluster], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.watchers[cluster]
		for i, c := range list {
			if c == ch {
				r.watchers[cluster] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// listLocked returns the instances of cluster sorted by address.
func (r *StaticRegistry) listLocked(cluster string) []NodeInstance {
	out := make([]NodeInstance, 0, len(r.clusters[cluster]))
	for _, inst := range r.clusters[cluster] {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// notifyLocked replaces any unread update with the latest list, so a slow watcher
// never blocks registration and always sees the newest state.
func (r *StaticRegistry) notifyLocked(cluster string) {
	list := r.listLocked(cluster)
	for _, ch := range r.watchers[cluster] {
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}
