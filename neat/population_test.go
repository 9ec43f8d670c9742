package neat

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func constantFitness(v float64) FitnessFunc {
	return func(context.Context, *Network) (float64, error) {
		return v, nil
	}
}

func TestNewPopulation_AlignedTemplate(t *testing.T) {
	cfg := testConfig()
	alloc := NewIDAllocator()
	pop, err := NewPopulation(cfg, WithAllocator(alloc), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	require.Len(t, pop.Population, cfg.Evolution.PopSize)
	assert.Same(t, alloc, pop.Allocator)

	var reference *Network
	for key, n := range pop.Population {
		assert.Equal(t, key, n.Key)
		if reference == nil {
			reference = n
			continue
		}
		assert.Equal(t, reference.ConnectionKeys(), n.ConnectionKeys())
		assert.Equal(t, reference.HiddenIDs, n.HiddenIDs)
	}
}

func TestRunGeneration_ThresholdMet(t *testing.T) {
	cfg := testConfig()
	pop, err := NewPopulation(cfg)
	require.NoError(t, err)

	winner, err := pop.RunGeneration(context.Background(), constantFitness(2))
	require.NoError(t, err)
	require.NotNil(t, winner)
	assert.Equal(t, 2.0, winner.Fitness)
	assert.Equal(t, 1, pop.Generation)
}

func TestRunGeneration_Criteria(t *testing.T) {
	tests := []struct {
		criterion string
		threshold float64
		met       bool
	}{
		{"max", 9, true},
		{"max", 9.5, false},
		{"min", 0, true},
		{"min", 0.5, false},
		{"mean", 4.5, true},
		{"mean", 4.6, false},
	}

	for _, tt := range tests {
		t.Run(tt.criterion, func(t *testing.T) {
			cfg := testConfig()
			cfg.Evolution.FitnessCriterion = tt.criterion
			cfg.Evolution.FitnessThreshold = tt.threshold
			pop, err := NewPopulation(cfg)
			require.NoError(t, err)

			// fitness 0..9 spread over the population
			winner, err := pop.RunGeneration(context.Background(), func(_ context.Context, n *Network) (float64, error) {
				return float64(n.Key - 1), nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.met, winner != nil)
		})
	}
}

func TestRunGeneration_Reproduces(t *testing.T) {
	cfg := testConfig()
	cfg.Evolution.FitnessThreshold = 100
	cfg.Evolution.Elitism = 2
	cfg.Evolution.MaxWorkers = 3
	pop, err := NewPopulation(cfg)
	require.NoError(t, err)

	var calls atomic.Int64
	fitness := func(_ context.Context, n *Network) (float64, error) {
		calls.Add(1)
		return float64(n.Key), nil
	}

	winner, err := pop.RunGeneration(context.Background(), fitness)
	require.NoError(t, err)
	assert.Nil(t, winner)
	assert.Equal(t, int64(cfg.Evolution.PopSize), calls.Load())

	require.Len(t, pop.Population, cfg.Evolution.PopSize)
	// the two fittest of generation one survive unchanged
	assert.Contains(t, pop.Population, 10)
	assert.Contains(t, pop.Population, 9)
	require.NotNil(t, pop.BestNetwork)
	assert.Equal(t, 10, pop.BestNetwork.Key)

	for key, parents := range pop.Reproduction.Ancestors {
		if key == 9 || key == 10 {
			assert.Equal(t, []int{key}, parents)
			continue
		}
		assert.Greater(t, key, 10)
		assert.Len(t, parents, 2)
	}

	for i := 0; i < 3; i++ {
		_, err = pop.RunGeneration(context.Background(), fitness)
		require.NoError(t, err)
		assert.Len(t, pop.Population, cfg.Evolution.PopSize)
	}
	assert.Equal(t, 4, pop.Generation)
}

func TestRunGeneration_FitnessError(t *testing.T) {
	cfg := testConfig()
	pop, err := NewPopulation(cfg)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = pop.RunGeneration(context.Background(), func(_ context.Context, n *Network) (float64, error) {
		if n.Key == 3 {
			return 0, boom
		}
		return 1, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRunGeneration_CancelledContext(t *testing.T) {
	cfg := testConfig()
	pop, err := NewPopulation(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pop.RunGeneration(ctx, func(ctx context.Context, _ *Network) (float64, error) {
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReproduce_Empty(t *testing.T) {
	cfg := testConfig()
	stagnation, err := NewStagnation(&cfg.Speciation, nil)
	require.NoError(t, err)
	r := NewReproduction(&cfg.Evolution, stagnation, nil)

	next, err := r.Reproduce(context.Background(), cfg, NewSpeciesSet(&cfg.Speciation, nil), 1, NewIDAllocator())
	require.NoError(t, err)
	assert.Empty(t, next)
}

func TestRunGeneration_NoFitnessTermination(t *testing.T) {
	cfg := testConfig()
	cfg.Evolution.NoFitnessTermination = true
	pop, err := NewPopulation(cfg)
	require.NoError(t, err)

	winner, err := pop.RunGeneration(context.Background(), constantFitness(5))
	require.NoError(t, err)
	assert.Nil(t, winner)
	assert.Len(t, pop.Population, cfg.Evolution.PopSize)
}
