package neat

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reproduction creates networks, either from scratch or through crossover and mutation
// within each species.
type Reproduction struct {
	Config         *EvolutionConfig
	Stagnation     *Stagnation
	NextNetworkKey int
	Ancestors      map[int][]int // network key -> parent keys
	logger         *zap.Logger
}

// NewReproduction creates a new reproduction manager.
func NewReproduction(config *EvolutionConfig, stagnation *Stagnation, logger *zap.Logger) *Reproduction {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reproduction{
		Config:         config,
		Stagnation:     stagnation,
		NextNetworkKey: 1,
		Ancestors:      make(map[int][]int),
		logger:         logger,
	}
}

// getNextKey gets the next available network key and increments the internal counter.
func (r *Reproduction) getNextKey() int {
	key := r.NextNetworkKey
	r.NextNetworkKey++
	return key
}

// CreateNewPopulation creates the initial population. All members are clones of one
// template topology with independently drawn weights, so unit ids line up across the
// population for crossover.
func (r *Reproduction) CreateNewPopulation(config *Config, alloc *IDAllocator) (map[int]*Network, error) {
	template, err := NewNetwork(0, &config.Network, alloc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build template network")
	}

	networks := make(map[int]*Network, config.Evolution.PopSize)
	for i := 0; i < config.Evolution.PopSize; i++ {
		key := r.getNextKey()
		n := template.Clone()
		n.Key = key
		n.RandomizeWeights(&config.Network)
		networks[key] = n
		r.Ancestors[key] = []int{}
	}
	return networks, nil
}

// offspringPlan describes one child to be built.
type offspringPlan struct {
	key              int
	parent1, parent2 *Network
}

// Reproduce creates the next generation from the current species. Stagnant species are
// dropped; the rest receive offspring slots in proportion to their adjusted fitness. Each
// species carries over its elites unchanged and breeds the remainder from its fittest
// SurvivalThreshold fraction. Offspring are built concurrently and allocate new unit ids
// from alloc.
//
// An empty result means every species went extinct.
func (r *Reproduction) Reproduce(ctx context.Context, config *Config, speciesSet *SpeciesSet, generation int, alloc *IDAllocator) (map[int]*Network, error) {
	stagnationInfo := r.Stagnation.Update(speciesSet, generation)

	allFitnesses := []float64{}
	remaining := []*Species{}
	for _, info := range stagnationInfo {
		if info.IsStagnant {
			r.logger.Info("species removed due to stagnation", zap.Int("species", info.SpeciesID))
			continue
		}
		fitnesses := info.Species.GetFitnesses()
		if len(fitnesses) == 0 {
			r.logger.Debug("species removed as it has no members", zap.Int("species", info.SpeciesID))
			continue
		}
		allFitnesses = append(allFitnesses, fitnesses...)
		remaining = append(remaining, info.Species)
	}

	if len(remaining) == 0 {
		r.Ancestors = make(map[int][]int)
		return make(map[int]*Network), nil
	}

	// Fitness sharing: species fitness normalised over the population's fitness range.
	minFitness := MinFloat(allFitnesses)
	maxFitness := MaxFloat(allFitnesses)
	fitnessRange := math.Max(1.0, maxFitness-minFitness)

	adjustedFitnessSum := 0.0
	adjustedFitnesses := make([]float64, len(remaining))
	previousSizes := make([]int, len(remaining))
	for i, sp := range remaining {
		sp.AdjustedFitness = (sp.Fitness - minFitness) / fitnessRange
		adjustedFitnesses[i] = sp.AdjustedFitness
		adjustedFitnessSum += sp.AdjustedFitness
		previousSizes[i] = len(sp.Members)
	}

	popSize := config.Evolution.PopSize
	spawnMinSize := max(config.Evolution.MinSpeciesSize, config.Evolution.Elitism)
	spawnAmounts := computeSpawnAmounts(adjustedFitnesses, adjustedFitnessSum, previousSizes, popSize, spawnMinSize)

	newPopulation := make(map[int]*Network, popSize)
	newAncestors := make(map[int][]int, popSize)
	plans := []offspringPlan{}

	for i, sp := range remaining {
		spawn := max(spawnAmounts[i], config.Evolution.Elitism)
		members := sp.sortedMembers()

		elites := min(config.Evolution.Elitism, len(members))
		for _, elite := range members[:elites] {
			newPopulation[elite.Key] = elite
			newAncestors[elite.Key] = []int{elite.Key}
		}
		spawn -= elites
		if spawn <= 0 {
			continue
		}

		survivalCutoff := int(math.Ceil(config.Evolution.SurvivalThreshold * float64(len(members))))
		survivalCutoff = max(survivalCutoff, 2)
		survivalCutoff = min(survivalCutoff, len(members))
		parents := members[:survivalCutoff]

		for j := 0; j < spawn; j++ {
			plans = append(plans, offspringPlan{
				key:     r.getNextKey(),
				parent1: parents[rand.Intn(len(parents))],
				parent2: parents[rand.Intn(len(parents))],
			})
		}
	}

	children := make([]*Network, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit(config.Evolution.MaxWorkers))
	for i, p := range plans {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			child := Crossover(p.key, p.parent1, p.parent2)
			child.Mutate(config, alloc)
			children[i] = child
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "failed to create offspring")
	}

	for i, child := range children {
		newPopulation[child.Key] = child
		newAncestors[child.Key] = []int{plans[i].parent1.Key, plans[i].parent2.Key}
	}
	r.Ancestors = newAncestors

	if len(newPopulation) != popSize {
		r.logger.Warn("new population size differs from target",
			zap.Int("size", len(newPopulation)), zap.Int("target", popSize))
	}
	return newPopulation, nil
}

// computeSpawnAmounts calculates the number of offspring each species should produce.
// Each species moves halfway from its previous size towards its fitness-proportional
// share; the amounts are then normalised to popSize without going below minSpeciesSize.
func computeSpawnAmounts(adjustedFitnesses []float64, adjustedFitnessSum float64, previousSizes []int, popSize int, minSpeciesSize int) []int {
	spawnAmounts := make([]int, len(adjustedFitnesses))
	for i, af := range adjustedFitnesses {
		s := float64(minSpeciesSize)
		if adjustedFitnessSum > 0 {
			s = math.Max(s, af/adjustedFitnessSum*float64(popSize))
		}

		ps := previousSizes[i]
		d := (s - float64(ps)) * 0.5
		c := int(math.Round(d))
		spawn := ps
		switch {
		case c != 0:
			spawn += c
		case d > 0:
			spawn++
		case d < 0:
			spawn--
		}
		spawnAmounts[i] = max(minSpeciesSize, spawn)
	}

	total := 0
	for _, sa := range spawnAmounts {
		total += sa
	}
	if total == 0 {
		return spawnAmounts
	}

	norm := float64(popSize) / float64(total)
	current := 0
	for i, sa := range spawnAmounts {
		spawnAmounts[i] = max(minSpeciesSize, int(math.Round(float64(sa)*norm)))
		current += spawnAmounts[i]
	}

	// Rounding can leave the total off by a few; settle the difference one slot at a time,
	// largest species first.
	order := make([]int, len(spawnAmounts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return spawnAmounts[order[a]] > spawnAmounts[order[b]]
	})
	for diff := popSize - current; diff != 0; {
		changed := false
		for _, i := range order {
			if diff == 0 {
				break
			}
			if diff > 0 {
				spawnAmounts[i]++
				diff--
				changed = true
			} else if spawnAmounts[i] > minSpeciesSize {
				spawnAmounts[i]--
				diff++
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return spawnAmounts
}

// workerLimit converts the configured worker count to an errgroup limit.
func workerLimit(maxWorkers int) int {
	if maxWorkers <= 0 {
		return -1
	}
	return maxWorkers
}
