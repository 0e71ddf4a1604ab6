package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"

	"gridclient/registry"
)

// ConsistentHashBalancer places nodes on a hash ring and starts every order at the
// ring position of a fixed client key. A client keeps landing on the same node across
// reconnects, and when that node leaves only its clients move.
//
// Virtual nodes: each real instance is mapped to N points on the ring so a handful
// of nodes still split the ring evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int
	key      string
}

// NewConsistentHashBalancer creates a balancer with 100 virtual nodes per instance.
func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100, key: key}
}

// Order walks the ring clockwise from the key's hash, listing each instance the first
// time one of its virtual nodes is met.
func (b *ConsistentHashBalancer) Order(instances []registry.NodeInstance) ([]registry.NodeInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	ring := make([]uint32, 0, len(instances)*b.replicas)
	owner := make(map[uint32]int, len(instances)*b.replicas)
	for idx, inst := range instances {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.Addr, i)))
			if _, taken := owner[hash]; taken {
				continue
			}
			ring = append(ring, hash)
			owner[hash] = idx
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i] < ring[j] })

	hash := crc32.ChecksumIEEE([]byte(b.key))
	start := sort.Search(len(ring), func(i int) bool { return ring[i] >= hash })

	out := make([]registry.NodeInstance, 0, len(instances))
	seen := make(map[int]bool, len(instances))
	for i := 0; i < len(ring) && len(out) < len(instances); i++ {
		idx := owner[ring[(start+i)%len(ring)]]
		if !seen[idx] {
			seen[idx] = true
			out = append(out, instances[idx])
		}
	}
	return out, nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
