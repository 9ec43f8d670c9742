package neat

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownUnit is returned when an id does not name a unit of the network.
	ErrUnknownUnit = errors.New("unknown unit")
	// ErrInvalidTarget is returned for edges into input, bias or memory units.
	ErrInvalidTarget = errors.New("connection target must be a hidden or output unit")
	// ErrCycle is returned when an edge would close a cycle among connections.
	ErrCycle = errors.New("connection would create a cycle")
)

// ConnectionKey identifies a directed edge between two units.
type ConnectionKey struct {
	From UnitID
	To   UnitID
}

// Network is the topology container: it owns the units of one individual and knows their
// roles. Units are stored by id; edges live on their source unit.
//
// Memory units are held in Units like any other unit and are reached from their source
// through Unit.MemoryUnit. They only ever have outgoing connections.
type Network struct {
	Key       int
	Fitness   float64
	Units     map[UnitID]*Unit
	InputIDs  []UnitID
	OutputIDs []UnitID
	HiddenIDs []UnitID
	BiasID    UnitID
}

// NewNetwork builds the initial topology described by cfg: input units, one bias unit,
// hidden units (each with a memory unit when cfg.Context is set) and output units, wired
// according to cfg.InitialConnection. A nil alloc uses DefaultAllocator.
func NewNetwork(key int, cfg *NetworkConfig, alloc *IDAllocator) (*Network, error) {
	if alloc == nil {
		alloc = DefaultAllocator
	}

	n := &Network{
		Key:   key,
		Units: make(map[UnitID]*Unit),
	}

	for i := 0; i < cfg.NumInputs; i++ {
		u := alloc.NewUnit()
		n.Units[u.id] = u
		n.InputIDs = append(n.InputIDs, u.id)
	}

	bias := alloc.NewBiasUnit()
	n.Units[bias.id] = bias
	n.BiasID = bias.id

	for i := 0; i < cfg.NumHidden; i++ {
		n.AddHidden(alloc, cfg.Context)
	}

	for i := 0; i < cfg.NumOutputs; i++ {
		u := alloc.NewUnit()
		n.Units[u.id] = u
		n.OutputIDs = append(n.OutputIDs, u.id)
	}

	if err := n.setupInitialConnections(cfg); err != nil {
		return nil, err
	}
	return n, nil
}

// setupInitialConnections creates the initial connections based on the config string.
func (n *Network) setupInitialConnections(cfg *NetworkConfig) error {
	sources := append(append([]UnitID{}, n.InputIDs...), n.BiasID)

	connectAll := func(from, to []UnitID) {
		for _, f := range from {
			for _, t := range to {
				n.Units[f].Connect(n.Units[t], initWeight(cfg))
			}
		}
	}

	switch cfg.InitialConnection {
	case "unconnected":
	case "full", "full_direct":
		if len(n.HiddenIDs) == 0 {
			connectAll(sources, n.OutputIDs)
			return nil
		}
		connectAll(sources, n.HiddenIDs)
		connectAll(n.HiddenIDs, n.OutputIDs)
		connectAll([]UnitID{n.BiasID}, n.OutputIDs)
		connectAll(n.memoryIDs(), n.HiddenIDs)
		if cfg.InitialConnection == "full_direct" {
			connectAll(n.InputIDs, n.OutputIDs)
		}
	default:
		return errors.Errorf("invalid initial_connection type: %s", cfg.InitialConnection)
	}
	return nil
}

// Unit returns the unit with the given id, or nil.
func (n *Network) Unit(id UnitID) *Unit {
	return n.Units[id]
}

// Bias returns the network's bias unit.
func (n *Network) Bias() *Unit {
	return n.Units[n.BiasID]
}

// AddHidden creates a hidden unit and, if withMemory is set, its memory unit.
func (n *Network) AddHidden(alloc *IDAllocator, withMemory bool) *Unit {
	if alloc == nil {
		alloc = DefaultAllocator
	}
	h := alloc.NewUnit()
	n.Units[h.id] = h
	n.HiddenIDs = append(n.HiddenIDs, h.id)

	if withMemory {
		m := alloc.NewUnit()
		n.Units[m.id] = m
		linkMemory(h, m)
	}
	return h
}

// MemoryUnits returns every memory unit in the network, ordered by id.
func (n *Network) MemoryUnits() []*Unit {
	ids := n.memoryIDs()
	units := make([]*Unit, len(ids))
	for i, id := range ids {
		units[i] = n.Units[id]
	}
	return units
}

func (n *Network) memoryIDs() []UnitID {
	ids := []UnitID{}
	for id, u := range n.Units {
		if u.IsMemory() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsInput reports whether id is one of the network's input units.
func (n *Network) IsInput(id UnitID) bool {
	for _, ik := range n.InputIDs {
		if ik == id {
			return true
		}
	}
	return false
}

// IsOutput reports whether id is one of the network's output units.
func (n *Network) IsOutput(id UnitID) bool {
	for _, ok := range n.OutputIDs {
		if ok == id {
			return true
		}
	}
	return false
}

// IsComputed reports whether the unit's output is computed from incoming connections,
// i.e. it is a hidden or output unit.
func (n *Network) IsComputed(id UnitID) bool {
	u, ok := n.Units[id]
	if !ok {
		return false
	}
	return !u.isBias && !u.IsMemory() && !n.IsInput(id)
}

// Connect adds (or re-weights) the edge from -> to. The target must be a hidden or output
// unit and the edge must not close a cycle among connections.
func (n *Network) Connect(from, to UnitID, weight float64) error {
	src, ok := n.Units[from]
	if !ok {
		return errors.Wrapf(ErrUnknownUnit, "source %d", from)
	}
	dst, ok := n.Units[to]
	if !ok {
		return errors.Wrapf(ErrUnknownUnit, "target %d", to)
	}
	if !n.IsComputed(to) {
		return errors.Wrapf(ErrInvalidTarget, "%d -> %d", from, to)
	}
	if _, exists := src.connections[to]; !exists && createsCycle(n, from, to) {
		return errors.Wrapf(ErrCycle, "%d -> %d", from, to)
	}
	src.Connect(dst, weight)
	return nil
}

// Disconnect removes the edge from -> to if present.
func (n *Network) Disconnect(from, to UnitID) {
	if src, ok := n.Units[from]; ok {
		delete(src.connections, to)
	}
}

// ConnectionKeys returns every edge in the network in a deterministic order.
func (n *Network) ConnectionKeys() []ConnectionKey {
	keys := []ConnectionKey{}
	for _, id := range n.sortedIDs() {
		for to := range n.Units[id].connections {
			keys = append(keys, ConnectionKey{From: id, To: to})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].From != keys[j].From {
			return keys[i].From < keys[j].From
		}
		return keys[i].To < keys[j].To
	})
	return keys
}

// ConnectionCount returns the number of edges in the network.
func (n *Network) ConnectionCount() int {
	count := 0
	for _, u := range n.Units {
		count += len(u.connections)
	}
	return count
}

func (n *Network) sortedIDs() []UnitID {
	ids := make([]UnitID, 0, len(n.Units))
	for id := range n.Units {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Reset clears the input and output of every unit. Bias inputs are left untouched.
func (n *Network) Reset() {
	for _, u := range n.Units {
		u.SetInput(0)
		u.output = 0
	}
}

// RandomizeWeights redraws every connection weight from the configured distribution.
func (n *Network) RandomizeWeights(cfg *NetworkConfig) {
	for _, id := range n.sortedIDs() {
		u := n.Units[id]
		for to := range u.connections {
			u.connections[to] = initWeight(cfg)
		}
	}
}

// Clone returns a deep copy of the network. Unit ids and memory pairings are preserved;
// no ids are allocated.
func (n *Network) Clone() *Network {
	c := &Network{
		Key:       n.Key,
		Fitness:   n.Fitness,
		Units:     make(map[UnitID]*Unit, len(n.Units)),
		InputIDs:  append([]UnitID(nil), n.InputIDs...),
		OutputIDs: append([]UnitID(nil), n.OutputIDs...),
		HiddenIDs: append([]UnitID(nil), n.HiddenIDs...),
		BiasID:    n.BiasID,
	}
	for id, u := range n.Units {
		cu := newUnit(id, u.isBias)
		cu.input = u.input
		cu.output = u.output
		for to, w := range u.connections {
			cu.connections[to] = w
		}
		c.Units[id] = cu
	}
	for id, u := range n.Units {
		if u.memory == nil {
			continue
		}
		if m, ok := c.Units[u.memory.id]; ok {
			linkMemory(c.Units[id], m)
		}
	}
	return c
}

// Crossover creates a child from two parents aligned by unit id. The child inherits the
// structure of the fitter parent; weights of edges present in both parents are taken from
// either parent with equal probability.
func Crossover(key int, parent1, parent2 *Network) *Network {
	if parent1.Fitness < parent2.Fitness {
		parent1, parent2 = parent2, parent1
	}

	child := parent1.Clone()
	child.Key = key
	child.Fitness = 0

	for _, id := range child.sortedIDs() {
		other, ok := parent2.Units[id]
		if !ok {
			continue
		}
		cu := child.Units[id]
		for to := range cu.connections {
			if w2, exists := other.connections[to]; exists && rand.Float64() < 0.5 {
				cu.connections[to] = w2
			}
		}
	}
	child.Reset()
	return child
}

// Distance calculates the genetic distance between two networks. Connections are aligned by
// (from, to) unit ids: edges present in only one network count as disjoint, matching edges
// contribute their mean absolute weight difference.
func (n *Network) Distance(other *Network, cfg *SpeciationConfig) float64 {
	disjointCount := 0
	weightDiffSum := 0.0
	matchingCount := 0

	for id, u := range n.Units {
		ou := other.Units[id]
		for to, w := range u.connections {
			if ou == nil {
				disjointCount++
				continue
			}
			if w2, ok := ou.connections[to]; ok {
				weightDiffSum += math.Abs(w - w2)
				matchingCount++
			} else {
				disjointCount++
			}
		}
	}
	for id, ou := range other.Units {
		u := n.Units[id]
		for to := range ou.connections {
			if u == nil {
				disjointCount++
				continue
			}
			if _, ok := u.connections[to]; !ok {
				disjointCount++
			}
		}
	}

	size := float64(max(n.ConnectionCount(), other.ConnectionCount()))
	if size < 1 {
		size = 1
	}

	// d = c1 * D / N + c2 * W
	compatibility := cfg.CompatibilityDisjointCoefficient * float64(disjointCount) / size
	if matchingCount > 0 {
		compatibility += cfg.CompatibilityWeightCoefficient * weightDiffSum / float64(matchingCount)
	}
	return compatibility
}

// String returns a short summary of the network.
func (n *Network) String() string {
	return fmt.Sprintf("Network(Key: %d, Fitness: %.4f, Units: %d, Hidden: %d, Memory: %d, Connections: %d)",
		n.Key, n.Fitness, len(n.Units), len(n.HiddenIDs), len(n.memoryIDs()), n.ConnectionCount())
}

// createsCycle reports whether adding inNode -> outNode would close a cycle,
// i.e. whether inNode is reachable from outNode through existing connections.
func createsCycle(n *Network, inNode, outNode UnitID) bool {
	if inNode == outNode {
		return true
	}

	visited := make(map[UnitID]bool)
	queue := []UnitID{outNode}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == inNode {
			return true
		}
		if visited[current] {
			continue
		}
		visited[current] = true

		if u, ok := n.Units[current]; ok {
			for to := range u.connections {
				queue = append(queue, to)
			}
		}
	}
	return false
}
