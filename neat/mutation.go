package neat

import (
	"math"
	"math/rand"
	"strings"
)

// maxConnectionAttempts bounds the search for a new legal edge in dense networks.
const maxConnectionAttempts = 20

// Mutate applies structural mutations followed by weight mutations. New units draw their
// ids from alloc, which may be shared with other goroutines.
func (n *Network) Mutate(cfg *Config, alloc *IDAllocator) {
	singleMutation := cfg.Mutation.SingleStructuralMutation
	structureMutated := false

	if rand.Float64() < cfg.Mutation.NodeAddProb {
		structureMutated = n.mutateAddNode(&cfg.Network, alloc)
	}

	if !singleMutation || !structureMutated {
		if rand.Float64() < cfg.Mutation.ConnAddProb {
			structureMutated = n.mutateAddConnection(&cfg.Network) || structureMutated
		}
	}

	if !singleMutation || !structureMutated {
		if rand.Float64() < cfg.Mutation.ConnDeleteProb {
			n.mutateDeleteConnection()
		}
	}

	for _, id := range n.sortedIDs() {
		u := n.Units[id]
		for to, w := range u.connections {
			u.connections[to] = mutateWeight(w, cfg)
		}
	}
}

// mutateAddNode splits a random connection A -> B into A -> H -> B. The incoming edge gets
// weight 1 and the outgoing edge keeps the old weight. With context enabled, H gets a
// memory unit that feeds back into H.
func (n *Network) mutateAddNode(cfg *NetworkConfig, alloc *IDAllocator) bool {
	keys := n.ConnectionKeys()
	if len(keys) == 0 {
		return false
	}
	split := keys[rand.Intn(len(keys))]
	src, dst := n.Units[split.From], n.Units[split.To]
	weight := src.connections[split.To]

	src.Disconnect(dst)

	h := n.AddHidden(alloc, cfg.Context)
	src.Connect(h, 1.0)
	h.Connect(dst, weight)
	if m := h.MemoryUnit(); m != nil {
		m.Connect(h, initWeight(cfg))
	}
	return true
}

// mutateAddConnection attempts to add a new edge between two previously unconnected units.
func (n *Network) mutateAddConnection(cfg *NetworkConfig) bool {
	sources := n.sortedIDs()
	targets := make([]UnitID, 0, len(n.HiddenIDs)+len(n.OutputIDs))
	for _, id := range sources {
		if n.IsComputed(id) {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return false
	}

	for i := 0; i < maxConnectionAttempts; i++ {
		from := sources[rand.Intn(len(sources))]
		to := targets[rand.Intn(len(targets))]

		if _, exists := n.Units[from].connections[to]; exists {
			continue
		}
		if err := n.Connect(from, to, initWeight(cfg)); err == nil {
			return true
		}
	}
	return false
}

// mutateDeleteConnection removes a random edge.
func (n *Network) mutateDeleteConnection() {
	keys := n.ConnectionKeys()
	if len(keys) == 0 {
		return
	}
	key := keys[rand.Intn(len(keys))]
	n.Disconnect(key.From, key.To)
}

// --------------------------- Attribute Helpers ---------------------------

func initWeight(cfg *NetworkConfig) float64 {
	return initFloatAttribute(cfg.WeightInitMean, cfg.WeightInitStdev, cfg.WeightInitType, cfg.WeightMinValue, cfg.WeightMaxValue)
}

func mutateWeight(w float64, cfg *Config) float64 {
	nc := &cfg.Network
	return mutateFloatAttribute(w, cfg.Mutation.WeightMutateRate, cfg.Mutation.WeightReplaceRate, cfg.Mutation.WeightMutatePower,
		nc.WeightInitMean, nc.WeightInitStdev, nc.WeightInitType, nc.WeightMinValue, nc.WeightMaxValue)
}

func initFloatAttribute(mean, stdev float64, initType string, minVal, maxVal float64) float64 {
	var val float64
	switch strings.ToLower(initType) {
	case "uniform":
		rangeMin := math.Max(minVal, mean-(2*stdev))
		rangeMax := math.Min(maxVal, mean+(2*stdev))
		if rangeMax < rangeMin {
			rangeMax = rangeMin
		}
		val = rand.Float64()*(rangeMax-rangeMin) + rangeMin
	default: // gaussian
		val = rand.NormFloat64()*stdev + mean
	}
	return clamp(val, minVal, maxVal)
}

// mutateFloatAttribute perturbs the value with probability mutateRate, replaces it with a
// fresh draw with probability replaceRate, and otherwise leaves it alone.
func mutateFloatAttribute(value, mutateRate, replaceRate, mutatePower, initMean, initStdev float64, initType string, minVal, maxVal float64) float64 {
	r := rand.Float64()
	if r < mutateRate {
		value += rand.NormFloat64() * mutatePower
		return clamp(value, minVal, maxVal)
	}
	if r < mutateRate+replaceRate {
		return initFloatAttribute(initMean, initStdev, initType, minVal, maxVal)
	}
	return value
}
