package neat

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FitnessFunc evaluates a single network and returns its fitness. It is called
// concurrently for different networks of the same generation.
type FitnessFunc func(ctx context.Context, net *Network) (float64, error)

// Option configures a Population.
type Option func(*Population)

// WithLogger sets the logger used for progress reporting.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Population) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithAllocator sets the allocator new units draw their ids from.
func WithAllocator(alloc *IDAllocator) Option {
	return func(p *Population) {
		if alloc != nil {
			p.Allocator = alloc
		}
	}
}

// Population holds the state of the evolutionary process.
type Population struct {
	Config       *Config
	Population   map[int]*Network // network key -> network
	Reproduction *Reproduction
	SpeciesSet   *SpeciesSet
	Allocator    *IDAllocator
	Generation   int
	BestNetwork  *Network // best network found so far
	logger       *zap.Logger
}

// NewPopulation creates a new Population and its first generation. Unless WithAllocator
// is given, the population gets an allocator of its own.
func NewPopulation(config *Config, opts ...Option) (*Population, error) {
	p, err := newPopulation(config, opts...)
	if err != nil {
		return nil, err
	}

	initial, err := p.Reproduction.CreateNewPopulation(config, p.Allocator)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create initial population")
	}
	p.Population = initial
	return p, nil
}

func newPopulation(config *Config, opts ...Option) (*Population, error) {
	p := &Population{
		Config:    config,
		Allocator: NewIDAllocator(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	stagnation, err := NewStagnation(&config.Speciation, p.logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create stagnation manager")
	}
	p.Reproduction = NewReproduction(&config.Evolution, stagnation, p.logger)
	p.SpeciesSet = NewSpeciesSet(&config.Speciation, p.logger)
	return p, nil
}

// RunGeneration evaluates, checks for termination, speciates and reproduces once.
// It returns the best network if the fitness criterion was met this generation.
func (p *Population) RunGeneration(ctx context.Context, fitnessFunc FitnessFunc) (*Network, error) {
	p.Generation++
	genStart := time.Now()
	log := p.logger.With(zap.Int("generation", p.Generation))

	if err := p.evaluate(ctx, fitnessFunc); err != nil {
		return nil, errors.Wrapf(err, "fitness evaluation failed in generation %d", p.Generation)
	}

	currentBest := p.findBestNetwork()
	if currentBest != nil && (p.BestNetwork == nil || currentBest.Fitness > p.BestNetwork.Fitness) {
		p.BestNetwork = currentBest.Clone()
		log.Info("new best network", zap.Int("key", currentBest.Key), zap.Float64("fitness", currentBest.Fitness))
	}
	if currentBest != nil {
		log.Debug("best of generation", zap.Int("key", currentBest.Key), zap.Float64("fitness", currentBest.Fitness),
			zap.Int("units", len(currentBest.Units)), zap.Int("connections", currentBest.ConnectionCount()))
	}

	if !p.Config.Evolution.NoFitnessTermination && p.criterionMet() {
		return p.BestNetwork, nil
	}

	p.SpeciesSet.Speciate(p.Population, p.Generation)
	log.Debug("population speciated", zap.Int("species", len(p.SpeciesSet.Species)))

	newPopulation, err := p.Reproduction.Reproduce(ctx, p.Config, p.SpeciesSet, p.Generation, p.Allocator)
	if err != nil {
		return p.BestNetwork, errors.Wrapf(err, "reproduction failed in generation %d", p.Generation)
	}

	if len(newPopulation) == 0 {
		log.Warn("population extinct")
		if !p.Config.Evolution.ResetOnExtinction {
			return p.BestNetwork, errors.Errorf("population extinct in generation %d", p.Generation)
		}
		log.Info("resetting population due to extinction")
		newPopulation, err = p.Reproduction.CreateNewPopulation(p.Config, p.Allocator)
		if err != nil {
			return p.BestNetwork, errors.Wrap(err, "failed to reset population")
		}
		p.SpeciesSet = NewSpeciesSet(&p.Config.Speciation, p.logger)
	}
	p.Population = newPopulation

	log.Info("generation finished", zap.Duration("elapsed", time.Since(genStart)),
		zap.Int("species", len(p.SpeciesSet.Species)), zap.Int("next_unit_id", int(p.Allocator.Peek())))
	return nil, nil
}

// evaluate runs the fitness function over every network, bounded by MaxWorkers.
func (p *Population) evaluate(ctx context.Context, fitnessFunc FitnessFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit(p.Config.Evolution.MaxWorkers))
	for key, net := range p.Population {
		key, net := key, net
		g.Go(func() error {
			fitness, err := fitnessFunc(gctx, net)
			if err != nil {
				return errors.Wrapf(err, "network %d", key)
			}
			net.Fitness = fitness
			return nil
		})
	}
	return g.Wait()
}

// criterionMet applies the configured fitness criterion to the current fitnesses.
func (p *Population) criterionMet() bool {
	if len(p.Population) == 0 {
		return false
	}
	fitnesses := make([]float64, 0, len(p.Population))
	for _, n := range p.Population {
		fitnesses = append(fitnesses, n.Fitness)
	}
	fn := StatFunctions[strings.ToLower(p.Config.Evolution.FitnessCriterion)]
	return fn(fitnesses) >= p.Config.Evolution.FitnessThreshold
}

// findBestNetwork finds the network with the highest fitness in the current population.
func (p *Population) findBestNetwork() *Network {
	var best *Network
	maxFitness := math.Inf(-1)
	for _, n := range p.Population {
		if n.Fitness > maxFitness || (n.Fitness == maxFitness && best != nil && n.Key < best.Key) {
			maxFitness = n.Fitness
			best = n
		}
	}
	return best
}
