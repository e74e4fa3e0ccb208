package loadbalance

import (
	"math/rand/v2"
	"mini-lsp/registry"
)

// WeightedRandomBalancer picks endpoints with probability proportional to Weight.
// A missing or negative weight counts as 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(_ string, eps []registry.Endpoint) (registry.Endpoint, error) {
	if len(eps) == 0 {
		return registry.Endpoint{}, ErrNoEndpoints
	}

	// 计算总权重
	totalWeight := 0
	for _, ep := range eps {
		totalWeight += weightOf(ep)
	}

	// 生成一个随机数，范围是0到总权重
	r := rand.IntN(totalWeight)
	for _, ep := range eps {
		r -= weightOf(ep)
		if r < 0 {
			return ep, nil
		}
	}
	return eps[len(eps)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}

func weightOf(ep registry.Endpoint) int {
	if ep.Weight <= 0 {
		return 1
	}
	return ep.Weight
}
