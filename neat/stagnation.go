package neat

import (
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Stagnation manages the detection of stagnant species.
type Stagnation struct {
	Config             *SpeciationConfig
	SpeciesFitnessFunc func([]float64) float64
	logger             *zap.Logger
}

// NewStagnation creates a new stagnation manager. A nil logger discards output.
func NewStagnation(config *SpeciationConfig, logger *zap.Logger) (*Stagnation, error) {
	fn, ok := StatFunctions[strings.ToLower(config.SpeciesFitnessFunc)]
	if !ok {
		return nil, errors.Errorf("invalid species_fitness_func in config: %s", config.SpeciesFitnessFunc)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stagnation{
		Config:             config,
		SpeciesFitnessFunc: fn,
		logger:             logger,
	}, nil
}

// StagnationInfo holds the results of the stagnation update for a single species.
type StagnationInfo struct {
	SpeciesID  int
	Species    *Species
	IsStagnant bool
}

// Update computes each species' fitness, records it in the fitness history and marks the
// species that have not improved for max_stagnation generations. The species_elitism
// fittest species are never marked, and marking stops once only that many remain.
//
// The result is ordered by species fitness, least fit first.
func (s *Stagnation) Update(speciesSet *SpeciesSet, generation int) []StagnationInfo {
	if len(speciesSet.Species) == 0 {
		return []StagnationInfo{}
	}

	species := make([]*Species, 0, len(speciesSet.Species))
	for _, sid := range sortedKeys(speciesSet.Species) {
		sp := speciesSet.Species[sid]

		previousMax := math.Inf(-1)
		if len(sp.FitnessHistory) > 0 {
			previousMax = MaxFloat(sp.FitnessHistory)
		}

		if fitnesses := sp.GetFitnesses(); len(fitnesses) > 0 {
			sp.Fitness = s.SpeciesFitnessFunc(fitnesses)
		} else {
			sp.Fitness = math.Inf(-1)
		}
		sp.FitnessHistory = append(sp.FitnessHistory, sp.Fitness)
		sp.AdjustedFitness = 0

		if sp.Fitness > previousMax {
			sp.LastImproved = generation
		}
		species = append(species, sp)
	}

	sort.SliceStable(species, func(i, j int) bool {
		return species[i].Fitness < species[j].Fitness
	})

	result := make([]StagnationInfo, len(species))
	numNonStagnant := len(species)
	for i, sp := range species {
		stagnantTime := generation - sp.LastImproved
		isStagnant := false
		if numNonStagnant > s.Config.SpeciesElitism {
			isStagnant = stagnantTime >= s.Config.MaxStagnation
		}
		if len(species)-i <= s.Config.SpeciesElitism {
			if stagnantTime >= s.Config.MaxStagnation {
				s.logger.Debug("species spared from stagnation by elitism",
					zap.Int("species", sp.Key), zap.Int("stagnant_for", stagnantTime))
			}
			isStagnant = false
		}
		if isStagnant {
			numNonStagnant--
		}

		result[i] = StagnationInfo{
			SpeciesID:  sp.Key,
			Species:    sp,
			IsStagnant: isStagnant,
		}
	}
	return result
}
