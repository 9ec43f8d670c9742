package neat

import (
	"compress/gzip"
	"encoding/gob"
	"os"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// UnitRecord is the persisted form of a Unit. Connections and the memory unit are stored
// by target id.
type UnitRecord struct {
	ID          UnitID
	IsBias      bool
	Input       float64
	Connections map[UnitID]float64
	HasMemory   bool
	MemoryID    UnitID
}

// NetworkRecord is the persisted form of a Network.
type NetworkRecord struct {
	Key       int
	Fitness   float64
	Units     []UnitRecord
	InputIDs  []UnitID
	OutputIDs []UnitID
	HiddenIDs []UnitID
	BiasID    UnitID
}

// SpeciesRecord is the persisted form of a Species. Members are not saved; they are
// reassigned by the next speciation.
type SpeciesRecord struct {
	Key            int
	Created        int
	LastImproved   int
	Representative NetworkRecord
	FitnessHistory []float64
}

// PopulationSaveData holds the parts of a Population needed to resume evolution.
// The Config is not saved; it is reloaded from the original file.
type PopulationSaveData struct {
	Networks       []NetworkRecord
	BestNetwork    *NetworkRecord
	Generation     int
	NextNetworkKey int
	Ancestors      map[int][]int
	NextUnitID     UnitID
	Species        []SpeciesRecord
	SpeciesIndexer int
}

// Record converts the network to its persisted form.
func (n *Network) Record() NetworkRecord {
	rec := NetworkRecord{
		Key:       n.Key,
		Fitness:   n.Fitness,
		InputIDs:  append([]UnitID(nil), n.InputIDs...),
		OutputIDs: append([]UnitID(nil), n.OutputIDs...),
		HiddenIDs: append([]UnitID(nil), n.HiddenIDs...),
		BiasID:    n.BiasID,
	}
	for _, id := range n.sortedIDs() {
		u := n.Units[id]
		ur := UnitRecord{
			ID:          id,
			IsBias:      u.isBias,
			Input:       u.input,
			Connections: make(map[UnitID]float64, len(u.connections)),
		}
		for to, w := range u.connections {
			ur.Connections[to] = w
		}
		if u.memory != nil {
			ur.HasMemory = true
			ur.MemoryID = u.memory.id
		}
		rec.Units = append(rec.Units, ur)
	}
	return rec
}

// NetworkFromRecord rebuilds a network from its persisted form, keeping every unit id.
// The allocator is advanced past the largest restored id.
func NetworkFromRecord(rec NetworkRecord, alloc *IDAllocator) (*Network, error) {
	if alloc == nil {
		alloc = DefaultAllocator
	}
	n := &Network{
		Key:       rec.Key,
		Fitness:   rec.Fitness,
		Units:     make(map[UnitID]*Unit, len(rec.Units)),
		InputIDs:  append([]UnitID(nil), rec.InputIDs...),
		OutputIDs: append([]UnitID(nil), rec.OutputIDs...),
		HiddenIDs: append([]UnitID(nil), rec.HiddenIDs...),
		BiasID:    rec.BiasID,
	}

	for _, ur := range rec.Units {
		if _, dup := n.Units[ur.ID]; dup {
			return nil, errors.Errorf("network %d: duplicate unit id %d", rec.Key, ur.ID)
		}
		u := newUnit(ur.ID, ur.IsBias)
		u.input = ur.Input
		n.Units[ur.ID] = u
		alloc.Reserve(ur.ID)
	}

	for _, ur := range rec.Units {
		u := n.Units[ur.ID]
		for to, w := range ur.Connections {
			if _, ok := n.Units[to]; !ok {
				return nil, errors.Wrapf(ErrUnknownUnit, "network %d: connection %d -> %d", rec.Key, ur.ID, to)
			}
			u.connections[to] = w
		}
		if !ur.HasMemory {
			continue
		}
		m, ok := n.Units[ur.MemoryID]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownUnit, "network %d: memory unit %d of %d", rec.Key, ur.MemoryID, ur.ID)
		}
		if err := u.AttachMemory(m); err != nil {
			return nil, errors.Wrapf(err, "network %d", rec.Key)
		}
	}

	roles := append(append(append([]UnitID{rec.BiasID}, rec.InputIDs...), rec.OutputIDs...), rec.HiddenIDs...)
	for _, id := range roles {
		if _, ok := n.Units[id]; !ok {
			return nil, errors.Wrapf(ErrUnknownUnit, "network %d: role id %d", rec.Key, id)
		}
	}
	if !n.Units[rec.BiasID].isBias {
		return nil, errors.Errorf("network %d: unit %d is not a bias unit", rec.Key, rec.BiasID)
	}
	return n, nil
}

// SaveCheckpoint saves the current state of the Population to a gzip-compressed file.
func (p *Population) SaveCheckpoint(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create checkpoint file '%s'", filePath)
	}
	defer file.Close()

	gzWriter := gzip.NewWriter(file)

	keys := make([]int, 0, len(p.Population))
	for key := range p.Population {
		keys = append(keys, key)
	}
	sort.Ints(keys)

	saveData := PopulationSaveData{
		Generation:     p.Generation,
		NextNetworkKey: p.Reproduction.NextNetworkKey,
		Ancestors:      p.Reproduction.Ancestors,
		NextUnitID:     p.Allocator.Peek(),
	}
	for _, key := range keys {
		saveData.Networks = append(saveData.Networks, p.Population[key].Record())
	}
	if p.BestNetwork != nil {
		best := p.BestNetwork.Record()
		saveData.BestNetwork = &best
	}
	saveData.SpeciesIndexer = p.SpeciesSet.Indexer
	for _, sid := range sortedKeys(p.SpeciesSet.Species) {
		sp := p.SpeciesSet.Species[sid]
		if sp.Representative == nil {
			continue
		}
		saveData.Species = append(saveData.Species, SpeciesRecord{
			Key:            sp.Key,
			Created:        sp.Created,
			LastImproved:   sp.LastImproved,
			Representative: sp.Representative.Record(),
			FitnessHistory: append([]float64(nil), sp.FitnessHistory...),
		})
	}

	if err := gob.NewEncoder(gzWriter).Encode(saveData); err != nil {
		gzWriter.Close()
		return errors.Wrap(err, "failed to encode population data")
	}
	if err := gzWriter.Close(); err != nil {
		return errors.Wrap(err, "failed to flush checkpoint")
	}

	p.logger.Info("checkpoint saved", zap.String("path", filePath), zap.Int("generation", p.Generation))
	return nil
}

// LoadCheckpoint loads a Population from a checkpoint file. The configuration is reloaded
// from configPath.
func LoadCheckpoint(checkpointPath string, configPath string, opts ...Option) (*Population, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config '%s' for checkpoint", configPath)
	}

	file, err := os.Open(checkpointPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint file '%s'", checkpointPath)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gzip reader for checkpoint")
	}
	defer gzReader.Close()

	saveData := PopulationSaveData{}
	if err := gob.NewDecoder(gzReader).Decode(&saveData); err != nil {
		return nil, errors.Wrap(err, "failed to decode population data from checkpoint")
	}

	p, err := newPopulation(config, opts...)
	if err != nil {
		return nil, err
	}
	p.Generation = saveData.Generation
	p.Reproduction.NextNetworkKey = saveData.NextNetworkKey
	if saveData.Ancestors != nil {
		p.Reproduction.Ancestors = saveData.Ancestors
	}
	if saveData.NextUnitID > 0 {
		p.Allocator.Reserve(saveData.NextUnitID - 1)
	}

	p.Population = make(map[int]*Network, len(saveData.Networks))
	for _, rec := range saveData.Networks {
		n, err := NetworkFromRecord(rec, p.Allocator)
		if err != nil {
			return nil, errors.Wrap(err, "failed to restore network")
		}
		p.Population[n.Key] = n
	}
	if saveData.BestNetwork != nil {
		best, err := NetworkFromRecord(*saveData.BestNetwork, p.Allocator)
		if err != nil {
			return nil, errors.Wrap(err, "failed to restore best network")
		}
		p.BestNetwork = best
	}

	if saveData.SpeciesIndexer > 0 {
		p.SpeciesSet.Indexer = saveData.SpeciesIndexer
	}
	for _, rec := range saveData.Species {
		representative, err := NetworkFromRecord(rec.Representative, p.Allocator)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to restore representative of species %d", rec.Key)
		}
		sp := NewSpecies(rec.Key, rec.Created)
		sp.LastImproved = rec.LastImproved
		sp.Representative = representative
		sp.FitnessHistory = append(sp.FitnessHistory, rec.FitnessHistory...)
		p.SpeciesSet.Species[rec.Key] = sp
	}

	p.logger.Info("checkpoint loaded", zap.String("path", checkpointPath), zap.Int("generation", p.Generation))
	return p, nil
}
