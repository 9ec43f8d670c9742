package neat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutateAddNode_SplitsConnection(t *testing.T) {
	cfg := testConfig()
	cfg.Network.NumHidden = 0
	alloc := NewIDAllocator()
	net, err := NewNetwork(1, &cfg.Network, alloc)
	require.NoError(t, err)
	before := net.ConnectionCount()

	require.True(t, net.mutateAddNode(&cfg.Network, alloc))

	require.Len(t, net.HiddenIDs, 1)
	h := net.Unit(net.HiddenIDs[0])
	m := h.MemoryUnit()
	require.NotNil(t, m, "context enabled, new hidden unit gets a memory unit")
	w, ok := m.Weight(h)
	require.True(t, ok)
	assert.GreaterOrEqual(t, w, cfg.Network.WeightMinValue)
	assert.LessOrEqual(t, w, cfg.Network.WeightMaxValue)

	// one edge removed, A->H, H->B and M->H added
	assert.Equal(t, before+2, net.ConnectionCount())
	assert.Len(t, h.Connections(), 1)
	for to := range h.Connections() {
		assert.True(t, net.IsOutput(to))
	}
}

func TestMutateAddNode_NoContext(t *testing.T) {
	cfg := testConfig()
	cfg.Network.Context = false
	alloc := NewIDAllocator()
	net, err := NewNetwork(1, &cfg.Network, alloc)
	require.NoError(t, err)

	require.True(t, net.mutateAddNode(&cfg.Network, alloc))
	assert.Empty(t, net.MemoryUnits())
}

func TestMutateAddNode_Unconnected(t *testing.T) {
	cfg := testConfig()
	cfg.Network.InitialConnection = "unconnected"
	alloc := NewIDAllocator()
	net, err := NewNetwork(1, &cfg.Network, alloc)
	require.NoError(t, err)

	assert.False(t, net.mutateAddNode(&cfg.Network, alloc))
}

func TestMutate_KeepsNetworkWellFormed(t *testing.T) {
	cfg := testConfig()
	cfg.Mutation.NodeAddProb = 0.5
	cfg.Mutation.ConnAddProb = 0.8
	cfg.Mutation.ConnDeleteProb = 0.2
	cfg.Network.WeightMinValue, cfg.Network.WeightMaxValue = -2, 2
	alloc := NewIDAllocator()
	net, err := NewNetwork(1, &cfg.Network, alloc)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		net.Mutate(cfg, alloc)
	}

	for _, key := range net.ConnectionKeys() {
		require.NotNil(t, net.Unit(key.From))
		require.True(t, net.IsComputed(key.To), "edge %d -> %d targets a non-computed unit", key.From, key.To)

		w := net.Unit(key.From).Connections()[key.To]
		assert.GreaterOrEqual(t, w, -2.0)
		assert.LessOrEqual(t, w, 2.0)
	}
	for _, m := range net.MemoryUnits() {
		require.NotNil(t, m.MirroredUnit())
		assert.Same(t, m, m.MirroredUnit().MemoryUnit())
		assert.Nil(t, m.MemoryUnit(), "memory units never carry memory of their own")
	}
	for _, key := range net.ConnectionKeys() {
		assert.False(t, createsCycle(net, key.From, key.To), "edge %d -> %d is part of a cycle", key.From, key.To)
	}
}

func TestMutate_SingleStructuralMutation(t *testing.T) {
	cfg := testConfig()
	cfg.Mutation.SingleStructuralMutation = true
	cfg.Mutation.NodeAddProb = 1
	cfg.Mutation.ConnAddProb = 1
	cfg.Mutation.ConnDeleteProb = 1
	cfg.Mutation.WeightMutateRate, cfg.Mutation.WeightReplaceRate = 0, 0
	alloc := NewIDAllocator()
	net, err := NewNetwork(1, &cfg.Network, alloc)
	require.NoError(t, err)
	before := net.ConnectionCount()
	hidden := len(net.HiddenIDs)

	net.Mutate(cfg, alloc)

	assert.Len(t, net.HiddenIDs, hidden+1)
	assert.Equal(t, before+2, net.ConnectionCount())
}

func TestMutateFloatAttribute(t *testing.T) {
	t.Run("no mutation", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			assert.Equal(t, 0.3, mutateFloatAttribute(0.3, 0, 0, 1, 0, 1, "gaussian", -1, 1))
		}
	})

	t.Run("perturbation is clamped", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			v := mutateFloatAttribute(0.9, 1, 0, 100, 0, 1, "gaussian", -1, 1)
			assert.GreaterOrEqual(t, v, -1.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	})

	t.Run("uniform replacement", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			v := mutateFloatAttribute(5, 0, 1, 1, 0, 0.25, "uniform", -1, 1)
			assert.GreaterOrEqual(t, v, -0.5)
			assert.LessOrEqual(t, v, 0.5)
		}
	})
}
