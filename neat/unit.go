package neat

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/pkg/errors"
)

// UnitID identifies a Unit. It is the key used for connections and the stable handle the
// genetic operators use to align units across networks and generations.
type UnitID int

var (
	// ErrNilMemory is returned when attaching a nil memory unit.
	ErrNilMemory = errors.New("memory unit is nil")
	// ErrSelfMemory is returned when a unit is attached as its own memory unit.
	ErrSelfMemory = errors.New("unit cannot be its own memory unit")
	// ErrMemoryChain is returned when an attachment would chain memory units.
	ErrMemoryChain = errors.New("memory units cannot be chained")
)

// --------------------------- IDAllocator ---------------------------

// IDAllocator hands out strictly increasing unit ids. It is safe for concurrent use, so
// networks may be built and mutated from several goroutines sharing one allocator.
type IDAllocator struct {
	next atomic.Int64
}

// DefaultAllocator backs NewUnit and NewBiasUnit. Ids drawn from it are unique for the
// lifetime of the process.
var DefaultAllocator = NewIDAllocator()

// NewIDAllocator returns an allocator whose first id is 0.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

// Next returns the next id and advances the counter. Ids are never handed out twice.
func (a *IDAllocator) Next() UnitID {
	return UnitID(a.next.Add(1) - 1)
}

// Peek returns the id the next call to Next would return.
func (a *IDAllocator) Peek() UnitID {
	return UnitID(a.next.Load())
}

// Reserve makes sure every id handed out afterwards is greater than id.
// Used when units with known ids are restored from a checkpoint. Ids are bounded by
// math.MaxInt; reserving the maximum saturates the counter there.
func (a *IDAllocator) Reserve(id UnitID) {
	want := int64(math.MaxInt)
	if id < math.MaxInt {
		want = int64(id) + 1
	}
	for {
		cur := a.next.Load()
		if cur >= want || a.next.CompareAndSwap(cur, want) {
			return
		}
	}
}

// NewUnit creates a standard (non-bias) unit with the next id.
func (a *IDAllocator) NewUnit() *Unit {
	return newUnit(a.Next(), false)
}

// NewBiasUnit creates a bias unit with the next id. Its input is fixed at 1.
func (a *IDAllocator) NewBiasUnit() *Unit {
	return newUnit(a.Next(), true)
}

// --------------------------- Unit ---------------------------

// Unit is a node of the network graph: either a computed neuron or a constant bias source.
// It holds its outgoing weighted connections and, optionally, a memory unit that mirrors
// its output (a context neuron).
//
// A Unit is a plain data holder. It is not safe for concurrent mutation; an evaluation
// cycle is expected to finish before the next one begins.
type Unit struct {
	id     UnitID
	isBias bool
	input  float64
	output float64

	connections map[UnitID]float64

	memory  *Unit // shared, not owned
	mirrors *Unit // set on a memory unit, points back at its source
}

// NewUnit creates a standard unit using DefaultAllocator.
func NewUnit() *Unit {
	return DefaultAllocator.NewUnit()
}

// NewBiasUnit creates a bias unit using DefaultAllocator.
func NewBiasUnit() *Unit {
	return DefaultAllocator.NewBiasUnit()
}

// newUnit builds a unit with a given id. The bias input is written directly since
// SetInput ignores writes on bias units.
func newUnit(id UnitID, isBias bool) *Unit {
	u := &Unit{
		id:          id,
		isBias:      isBias,
		connections: make(map[UnitID]float64),
	}
	if isBias {
		u.input = 1
	}
	return u
}

// ID returns the unit's identity.
func (u *Unit) ID() UnitID {
	return u.id
}

// IsBias reports whether u is a bias unit.
func (u *Unit) IsBias() bool {
	return u.isBias
}

// Input returns the stored input. Always 1 for a bias unit.
func (u *Unit) Input() float64 {
	return u.input
}

// SetInput replaces the stored input. Writes on a bias unit are silently dropped.
func (u *Unit) SetInput(v float64) {
	if u.isBias {
		return
	}
	u.input = v
}

// Output returns the stored output.
func (u *Unit) Output() float64 {
	return u.output
}

// SetOutput stores v and forwards it to the attached memory unit, if any.
// Propagation is a single hop: the memory unit's stored output is written directly.
func (u *Unit) SetOutput(v float64) {
	u.output = v
	if u.memory != nil {
		u.memory.output = v
	}
}

// Connections returns the live map of outgoing edges (target id -> weight).
// Callers may insert, delete and iterate it.
func (u *Unit) Connections() map[UnitID]float64 {
	return u.connections
}

// Connect sets the weight of the edge to target, overwriting any previous weight.
// A nil target is ignored.
func (u *Unit) Connect(target *Unit, weight float64) {
	if target == nil {
		return
	}
	u.connections[target.id] = weight
}

// Weight returns the weight of the edge to target and whether the edge exists.
func (u *Unit) Weight(target *Unit) (float64, bool) {
	if target == nil {
		return 0, false
	}
	w, ok := u.connections[target.id]
	return w, ok
}

// Disconnect removes the edge to target, if present.
func (u *Unit) Disconnect(target *Unit) {
	if target == nil {
		return
	}
	delete(u.connections, target.id)
}

// MemoryUnit returns the attached memory unit, or nil.
func (u *Unit) MemoryUnit() *Unit {
	return u.memory
}

// MirroredUnit returns the unit whose output this memory unit mirrors, or nil.
func (u *Unit) MirroredUnit() *Unit {
	return u.mirrors
}

// IsMemory reports whether u is attached as the memory unit of another unit.
func (u *Unit) IsMemory() bool {
	return u.mirrors != nil
}

// AttachMemory makes m mirror u's output. Only single-hop recurrence is allowed: m may not
// have a memory unit of its own, u may not itself be a memory unit, and m may mirror only
// one source. Attaching a new memory unit releases the previous one.
func (u *Unit) AttachMemory(m *Unit) error {
	switch {
	case m == nil:
		return ErrNilMemory
	case m == u:
		return ErrSelfMemory
	case m.memory != nil, u.mirrors != nil:
		return errors.Wrapf(ErrMemoryChain, "attach %d to %d", m.id, u.id)
	case m.mirrors != nil && m.mirrors != u:
		return errors.Wrapf(ErrMemoryChain, "unit %d already mirrors %d", m.id, m.mirrors.id)
	}

	u.DetachMemory()
	linkMemory(u, m)
	return nil
}

// linkMemory pairs a source with its memory unit. Both must be unpaired.
func linkMemory(u, m *Unit) {
	u.memory = m
	m.mirrors = u
}

// DetachMemory releases the current memory unit, if any.
func (u *Unit) DetachMemory() {
	if u.memory == nil {
		return
	}
	u.memory.mirrors = nil
	u.memory = nil
}

// String returns a short description of the unit.
func (u *Unit) String() string {
	kind := "Unit"
	switch {
	case u.isBias:
		kind = "Bias"
	case u.mirrors != nil:
		kind = "Memory"
	}
	return fmt.Sprintf("%s(ID: %d, In: %.3f, Out: %.3f, Conns: %d)", kind, u.id, u.input, u.output, len(u.connections))
}
