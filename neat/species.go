package neat

import (
	"math"
	"sort"

	"go.uber.org/zap"
)

// Species represents a group of genetically similar networks.
type Species struct {
	Key             int              // Unique identifier for the species.
	Created         int              // Generation number when the species was created.
	LastImproved    int              // Last generation where fitness improved.
	Representative  *Network         // The network new members are compared against.
	Members         map[int]*Network // Networks belonging to this species (network key -> network).
	Fitness         float64          // Species fitness, see species_fitness_func.
	AdjustedFitness float64          // Fitness adjusted by sharing.
	FitnessHistory  []float64        // History of fitness values for stagnation detection.
}

// NewSpecies creates a new species.
func NewSpecies(key, generation int) *Species {
	return &Species{
		Key:            key,
		Created:        generation,
		LastImproved:   generation,
		Members:        make(map[int]*Network),
		FitnessHistory: []float64{},
	}
}

// Update replaces the species' representative and members.
func (s *Species) Update(representative *Network, members map[int]*Network) {
	s.Representative = representative
	s.Members = members
}

// GetFitnesses returns a slice containing the fitness values of all members.
func (s *Species) GetFitnesses() []float64 {
	fitnesses := make([]float64, 0, len(s.Members))
	for _, n := range s.Members {
		fitnesses = append(fitnesses, n.Fitness)
	}
	return fitnesses
}

// sortedMembers returns the members ordered by fitness (descending), then key.
func (s *Species) sortedMembers() []*Network {
	members := make([]*Network, 0, len(s.Members))
	for _, n := range s.Members {
		members = append(members, n)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Fitness != members[j].Fitness {
			return members[i].Fitness > members[j].Fitness
		}
		return members[i].Key < members[j].Key
	})
	return members
}

// --------------------------- distanceCache ---------------------------

type networkPair struct {
	a, b int
}

// distanceCache stores distances between networks, keyed by the ordered pair of network keys.
type distanceCache struct {
	distances map[networkPair]float64
	hits      int
	misses    int
	config    *SpeciationConfig
}

func newDistanceCache(config *SpeciationConfig) *distanceCache {
	return &distanceCache{
		distances: make(map[networkPair]float64),
		config:    config,
	}
}

func (dc *distanceCache) distance(n1, n2 *Network) float64 {
	key := networkPair{n1.Key, n2.Key}
	if key.a > key.b {
		key.a, key.b = key.b, key.a
	}
	if d, ok := dc.distances[key]; ok {
		dc.hits++
		return d
	}
	dc.misses++
	d := n1.Distance(n2, dc.config)
	dc.distances[key] = d
	return d
}

// --------------------------- SpeciesSet ---------------------------

// SpeciesSet manages the collection of species within a population.
type SpeciesSet struct {
	Species          map[int]*Species // species key -> species
	NetworkToSpecies map[int]int      // network key -> species key
	Indexer          int              // next species key
	Config           *SpeciationConfig
	logger           *zap.Logger
}

// NewSpeciesSet creates a new species set manager. A nil logger discards output.
func NewSpeciesSet(config *SpeciationConfig, logger *zap.Logger) *SpeciesSet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpeciesSet{
		Species:          make(map[int]*Species),
		NetworkToSpecies: make(map[int]int),
		Indexer:          1,
		Config:           config,
		logger:           logger,
	}
}

// Speciate partitions the population into species based on genetic distance.
//
// Every existing species first picks the network closest to its old representative as the
// new representative. The remaining networks join the closest species within the
// compatibility threshold, or found a new species.
func (ss *SpeciesSet) Speciate(population map[int]*Network, generation int) {
	if len(population) == 0 {
		ss.Species = make(map[int]*Species)
		ss.NetworkToSpecies = make(map[int]int)
		return
	}

	threshold := ss.Config.CompatibilityThreshold
	cache := newDistanceCache(ss.Config)

	unspeciated := make(map[int]*Network, len(population))
	for k, n := range population {
		unspeciated[k] = n
	}
	newRepresentatives := make(map[int]*Network)
	newMembers := make(map[int][]int)

	for _, sid := range sortedKeys(ss.Species) {
		if len(unspeciated) == 0 {
			break
		}
		s := ss.Species[sid]
		if s.Representative == nil {
			ss.logger.Warn("species has no representative", zap.Int("species", sid))
			continue
		}

		var newRep *Network
		minDist := math.Inf(1)
		for _, key := range sortedKeys(unspeciated) {
			n := unspeciated[key]
			if d := cache.distance(s.Representative, n); d < minDist {
				minDist = d
				newRep = n
			}
		}
		newRepresentatives[sid] = newRep
		newMembers[sid] = []int{newRep.Key}
		delete(unspeciated, newRep.Key)
	}

	for _, key := range sortedKeys(unspeciated) {
		n := unspeciated[key]

		bestSpecies := -1
		minDist := math.Inf(1)
		for _, sid := range sortedKeys(newRepresentatives) {
			d := cache.distance(newRepresentatives[sid], n)
			if d < threshold && d < minDist {
				minDist = d
				bestSpecies = sid
			}
		}

		if bestSpecies != -1 {
			newMembers[bestSpecies] = append(newMembers[bestSpecies], key)
			continue
		}
		sid := ss.Indexer
		ss.Indexer++
		newRepresentatives[sid] = n
		newMembers[sid] = []int{key}
	}

	speciesMap := make(map[int]*Species, len(newRepresentatives))
	networkToSpecies := make(map[int]int, len(population))
	for sid, rep := range newRepresentatives {
		s := ss.Species[sid]
		if s == nil {
			s = NewSpecies(sid, generation)
			ss.logger.Debug("created species", zap.Int("species", sid), zap.Int("representative", rep.Key))
		}

		members := make(map[int]*Network, len(newMembers[sid]))
		for _, key := range newMembers[sid] {
			members[key] = population[key]
			networkToSpecies[key] = sid
		}
		s.Update(rep, members)
		speciesMap[sid] = s
	}
	for sid := range ss.Species {
		if _, ok := speciesMap[sid]; !ok {
			ss.logger.Debug("species died out", zap.Int("species", sid))
		}
	}

	ss.Species = speciesMap
	ss.NetworkToSpecies = networkToSpecies

	if len(cache.distances) > 0 {
		all := make([]float64, 0, len(cache.distances))
		for _, d := range cache.distances {
			all = append(all, d)
		}
		ss.logger.Debug("genetic distance",
			zap.Float64("mean", Mean(all)), zap.Float64("stdev", Stdev(all)),
			zap.Int("cache_hits", cache.hits), zap.Int("cache_misses", cache.misses))
	}
}

// GetSpeciesID returns the species ID for a given network key.
func (ss *SpeciesSet) GetSpeciesID(networkKey int) (int, bool) {
	sid, exists := ss.NetworkToSpecies[networkKey]
	return sid, exists
}

// GetSpecies returns the Species a given network belongs to.
func (ss *SpeciesSet) GetSpecies(networkKey int) (*Species, bool) {
	sid, exists := ss.NetworkToSpecies[networkKey]
	if !exists {
		return nil, false
	}
	s, exists := ss.Species[sid]
	return s, exists
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
