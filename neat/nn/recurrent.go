package nn

import (
	"sort"

	"github.com/baldhumanity/genetic-evolver/neat"
	"github.com/pkg/errors"
)

// edge is an incoming connection as seen from its target.
type edge struct {
	from   *neat.Unit
	weight float64
}

// RecurrentNetwork runs evaluation cycles over the units of a neat.Network. Recurrence
// comes from memory units: a memory unit exposes, during a cycle, the output its source
// produced in the previous cycle.
//
// Weights are captured when the network is created; recreate it after mutating the
// underlying topology.
type RecurrentNetwork struct {
	net         *neat.Network
	inputs      []*neat.Unit
	outputs     []*neat.Unit
	bias        *neat.Unit
	evalOrder   []*neat.Unit
	incoming    map[neat.UnitID][]edge
	activations map[neat.UnitID]neat.ActivationType
	aggregation neat.AggregationType

	staged map[neat.UnitID]float64
	buf    []float64
}

// CreateRecurrentNetwork builds a runnable network from the topology in net. Hidden and
// output units are ordered topologically (Kahn's algorithm) over their connections; edges
// from inputs, the bias unit and memory units are always available at the start of a cycle.
func CreateRecurrentNetwork(net *neat.Network, cfg *neat.NetworkConfig) (*RecurrentNetwork, error) {
	hiddenAct, err := neat.GetActivation(cfg.HiddenActivation)
	if err != nil {
		return nil, errors.Wrap(err, "hidden activation")
	}
	outputAct, err := neat.GetActivation(cfg.OutputActivation)
	if err != nil {
		return nil, errors.Wrap(err, "output activation")
	}
	agg, err := neat.GetAggregation(cfg.Aggregation)
	if err != nil {
		return nil, err
	}

	r := &RecurrentNetwork{
		net:         net,
		bias:        net.Bias(),
		incoming:    make(map[neat.UnitID][]edge),
		activations: make(map[neat.UnitID]neat.ActivationType),
		aggregation: agg,
		staged:      make(map[neat.UnitID]float64, len(net.Units)),
	}
	if r.bias == nil {
		return nil, errors.Errorf("network %d has no bias unit", net.Key)
	}
	for _, id := range net.InputIDs {
		r.inputs = append(r.inputs, net.Unit(id))
	}
	for _, id := range net.OutputIDs {
		r.outputs = append(r.outputs, net.Unit(id))
	}

	ids := make([]neat.UnitID, 0, len(net.Units))
	for id := range net.Units {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	inDegree := make(map[neat.UnitID]int)
	graph := make(map[neat.UnitID][]neat.UnitID)
	computed := []neat.UnitID{}
	for _, id := range ids {
		if net.IsComputed(id) {
			computed = append(computed, id)
			inDegree[id] = 0
			r.activations[id] = hiddenAct
			if net.IsOutput(id) {
				r.activations[id] = outputAct
			}
		}
	}

	for _, id := range ids {
		src := net.Unit(id)
		for to, w := range src.Connections() {
			if net.Unit(to) == nil {
				return nil, errors.Errorf("connection %d -> %d targets an unknown unit", id, to)
			}
			if !net.IsComputed(to) {
				return nil, errors.Errorf("connection %d -> %d targets a unit that is not computed", id, to)
			}
			r.incoming[to] = append(r.incoming[to], edge{from: src, weight: w})
			if net.IsComputed(id) {
				graph[id] = append(graph[id], to)
				inDegree[to]++
			}
		}
	}
	for _, edges := range r.incoming {
		sort.Slice(edges, func(i, j int) bool { return edges[i].from.ID() < edges[j].from.ID() })
	}

	queue := []neat.UnitID{}
	for _, id := range computed {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		r.evalOrder = append(r.evalOrder, net.Unit(u))

		neighbors := graph[u]
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })
		for _, v := range neighbors {
			inDegree[v]--
			if inDegree[v] == 0 {
				queue = append(queue, v)
			}
		}
		sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })
	}

	if len(r.evalOrder) != len(computed) {
		return nil, errors.Errorf("failed topological sort: cycle detected (expected %d units, got %d)", len(computed), len(r.evalOrder))
	}
	return r, nil
}

// Activate runs one evaluation cycle and returns the outputs.
//
// The cycle has two phases. First every input is written and every computed unit's input
// and activation are calculated, reading memory units as they stood before the cycle.
// Then all outputs are committed with SetOutput, which also refreshes the memory units for
// the next cycle.
func (r *RecurrentNetwork) Activate(inputs []float64) ([]float64, error) {
	if len(inputs) != len(r.inputs) {
		return nil, errors.Errorf("mismatch between input count (%d) and network input units (%d)", len(inputs), len(r.inputs))
	}

	clear(r.staged)
	for i, u := range r.inputs {
		u.SetInput(inputs[i])
		r.staged[u.ID()] = u.Input()
	}
	r.staged[r.bias.ID()] = r.bias.Input()

	for _, u := range r.evalOrder {
		incoming := r.incoming[u.ID()]
		if cap(r.buf) < len(incoming) {
			r.buf = make([]float64, 0, len(incoming))
		}
		weighted := r.buf[:0]
		for _, e := range incoming {
			weighted = append(weighted, r.value(e.from)*e.weight)
		}
		r.buf = weighted

		sum := r.aggregation(weighted)
		u.SetInput(sum)
		r.staged[u.ID()] = r.activations[u.ID()](sum)
	}

	for _, u := range r.inputs {
		u.SetOutput(r.staged[u.ID()])
	}
	r.bias.SetOutput(r.staged[r.bias.ID()])
	for _, u := range r.evalOrder {
		u.SetOutput(r.staged[u.ID()])
	}

	outputs := make([]float64, len(r.outputs))
	for i, u := range r.outputs {
		outputs[i] = u.Output()
	}
	return outputs, nil
}

// value returns the signal a unit contributes during the current cycle: the staged value
// for units already computed this cycle, the stored output otherwise (memory units).
func (r *RecurrentNetwork) value(u *neat.Unit) float64 {
	if v, ok := r.staged[u.ID()]; ok {
		return v
	}
	return u.Output()
}

// Reset clears all recurrent state so the next cycle starts a fresh sequence.
func (r *RecurrentNetwork) Reset() {
	r.net.Reset()
}

// Run resets the network and activates it once per step of the sequence.
func (r *RecurrentNetwork) Run(sequence [][]float64) ([][]float64, error) {
	r.Reset()
	results := make([][]float64, 0, len(sequence))
	for step, inputs := range sequence {
		out, err := r.Activate(inputs)
		if err != nil {
			return nil, errors.Wrapf(err, "step %d", step)
		}
		results = append(results, out)
	}
	return results, nil
}
