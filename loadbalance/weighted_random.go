package loadbalance

import (
	"math/rand/v2"

	"gridclient/registry"
)

// WeightedRandomBalancer draws instances with probability proportional to their
// weight. Instances with a weight below 1 count as 1.
type WeightedRandomBalancer struct{}

// Order draws without replacement, so every instance appears exactly once.
func (b *WeightedRandomBalancer) Order(instances []registry.NodeInstance) ([]registry.NodeInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	pool := append([]registry.NodeInstance(nil), instances...)
	out := make([]registry.NodeInstance, 0, len(pool))
	for len(pool) > 0 {
		totalWeight := 0
		for _, v := range pool {
			totalWeight += weight(v)
		}
		r := rand.IntN(totalWeight)
		for i, v := range pool {
			r -= weight(v)
			if r < 0 {
				out = append(out, v)
				pool = append(pool[:i], pool[i+1:]...)
				break
			}
		}
	}
	return out, nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}

func weight(inst registry.NodeInstance) int {
	if inst.Weight < 1 {
		return 1
	}
	return inst.Weight
}
