package neat

import (
	"math"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUnit_IDsStrictlyIncreasing(t *testing.T) {
	alloc := NewIDAllocator()

	prev := alloc.NewUnit()
	assert.Equal(t, UnitID(0), prev.ID())
	for i := 0; i < 100; i++ {
		u := alloc.NewUnit()
		if i%3 == 0 {
			u = alloc.NewBiasUnit()
		}
		assert.Greater(t, u.ID(), prev.ID())
		prev = u
	}
}

func TestNewUnit_DefaultAllocatorUnique(t *testing.T) {
	a := NewUnit()
	b := NewBiasUnit()
	c := NewUnit()

	assert.Less(t, a.ID(), b.ID())
	assert.Less(t, b.ID(), c.ID())
}

func TestIDAllocator_ConcurrentUnique(t *testing.T) {
	alloc := NewIDAllocator()
	const workers, perWorker = 16, 500

	ids := make([][]UnitID, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ids[w] = append(ids[w], alloc.NewUnit().ID())
			}
		}()
	}
	wg.Wait()

	seen := make(map[UnitID]bool, workers*perWorker)
	for _, batch := range ids {
		for _, id := range batch {
			require.False(t, seen[id], "duplicate id %d", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, UnitID(workers*perWorker), alloc.Peek())
}

func TestIDAllocator_Reserve(t *testing.T) {
	alloc := NewIDAllocator()
	alloc.Reserve(41)
	assert.Equal(t, UnitID(42), alloc.Next())

	// Reserving below the counter never moves it back.
	alloc.Reserve(3)
	assert.Equal(t, UnitID(43), alloc.Next())
}

func TestIDAllocator_ReserveSaturates(t *testing.T) {
	alloc := NewIDAllocator()
	alloc.Reserve(UnitID(math.MaxInt))
	assert.Equal(t, UnitID(math.MaxInt), alloc.Peek())

	alloc.Reserve(UnitID(math.MaxInt - 1))
	assert.Equal(t, UnitID(math.MaxInt), alloc.Peek())
}

func TestNewUnit_InitialState(t *testing.T) {
	u := NewIDAllocator().NewUnit()

	assert.False(t, u.IsBias())
	assert.Equal(t, 0.0, u.Input())
	assert.Equal(t, 0.0, u.Output())
	assert.Empty(t, u.Connections())
	assert.Nil(t, u.MemoryUnit())
	assert.False(t, u.IsMemory())
}

func TestBiasUnit_InputImmutable(t *testing.T) {
	c := NewIDAllocator().NewBiasUnit()
	require.True(t, c.IsBias())
	require.Equal(t, 1.0, c.Input())

	for _, x := range []float64{99, 0, -1, math.Inf(1), math.NaN(), 1e300} {
		c.SetInput(x)
		assert.Equal(t, 1.0, c.Input())
	}
}

func TestBiasUnit_OutputWritable(t *testing.T) {
	c := NewIDAllocator().NewBiasUnit()
	c.SetOutput(-3.5)
	assert.Equal(t, -3.5, c.Output())
}

func TestStandardUnit_InputMutable(t *testing.T) {
	u := NewIDAllocator().NewUnit()
	for _, x := range []float64{2.0, -7.25, 0, 1e-12, math.MaxFloat64} {
		u.SetInput(x)
		assert.Equal(t, x, u.Input())
	}
}

func TestSetOutput_PropagatesToMemory(t *testing.T) {
	alloc := NewIDAllocator()
	a, b := alloc.NewUnit(), alloc.NewUnit()
	require.NoError(t, a.AttachMemory(b))

	for _, v := range []float64{1.0, -0.5, 0, 42} {
		a.SetOutput(v)
		assert.Equal(t, v, a.Output())
		assert.Equal(t, v, b.Output())
	}
}

func TestSetOutput_NoMemoryTouchesNothingElse(t *testing.T) {
	alloc := NewIDAllocator()
	a, other := alloc.NewUnit(), alloc.NewUnit()
	other.SetOutput(7)
	a.Connect(other, 0.3)

	a.SetOutput(5)

	assert.Equal(t, 5.0, a.Output())
	assert.Equal(t, 7.0, other.Output())
	assert.Equal(t, 0.0, other.Input())
}

func TestSetOutput_MemoryDoesNotPropagateBack(t *testing.T) {
	alloc := NewIDAllocator()
	a, b := alloc.NewUnit(), alloc.NewUnit()
	require.NoError(t, a.AttachMemory(b))
	a.SetOutput(1)

	b.SetOutput(9)

	assert.Equal(t, 1.0, a.Output())
	assert.Equal(t, 9.0, b.Output())
}

func TestConnections_Integrity(t *testing.T) {
	alloc := NewIDAllocator()
	a, target, stranger := alloc.NewUnit(), alloc.NewUnit(), alloc.NewUnit()

	a.Connect(target, 0.5)
	w, ok := a.Weight(target)
	require.True(t, ok)
	assert.Equal(t, 0.5, w)

	_, ok = a.Weight(stranger)
	assert.False(t, ok)

	a.Connect(target, -2)
	assert.Len(t, a.Connections(), 1)
	w, _ = a.Weight(target)
	assert.Equal(t, -2.0, w)

	a.Connect(nil, 1)
	assert.Len(t, a.Connections(), 1)

	a.Disconnect(target)
	assert.Empty(t, a.Connections())
}

func TestConnections_LiveMap(t *testing.T) {
	alloc := NewIDAllocator()
	a, b := alloc.NewUnit(), alloc.NewUnit()

	a.Connections()[b.ID()] = 1.5
	w, ok := a.Weight(b)
	require.True(t, ok)
	assert.Equal(t, 1.5, w)
}

func TestAttachMemory_Rules(t *testing.T) {
	alloc := NewIDAllocator()

	t.Run("nil", func(t *testing.T) {
		a := alloc.NewUnit()
		assert.ErrorIs(t, a.AttachMemory(nil), ErrNilMemory)
	})

	t.Run("self", func(t *testing.T) {
		a := alloc.NewUnit()
		assert.ErrorIs(t, a.AttachMemory(a), ErrSelfMemory)
		assert.Nil(t, a.MemoryUnit())
	})

	t.Run("cycle", func(t *testing.T) {
		a, b := alloc.NewUnit(), alloc.NewUnit()
		require.NoError(t, a.AttachMemory(b))
		err := b.AttachMemory(a)
		assert.True(t, errors.Is(err, ErrMemoryChain))
		assert.Nil(t, b.MemoryUnit())
	})

	t.Run("chain through memory with memory", func(t *testing.T) {
		a, b, c := alloc.NewUnit(), alloc.NewUnit(), alloc.NewUnit()
		require.NoError(t, b.AttachMemory(c))
		assert.ErrorIs(t, a.AttachMemory(b), ErrMemoryChain)
	})

	t.Run("memory already mirrors another unit", func(t *testing.T) {
		a, b, m := alloc.NewUnit(), alloc.NewUnit(), alloc.NewUnit()
		require.NoError(t, a.AttachMemory(m))
		assert.ErrorIs(t, b.AttachMemory(m), ErrMemoryChain)
		assert.Same(t, a, m.MirroredUnit())
	})

	t.Run("reattach same memory", func(t *testing.T) {
		a, m := alloc.NewUnit(), alloc.NewUnit()
		require.NoError(t, a.AttachMemory(m))
		require.NoError(t, a.AttachMemory(m))
		assert.Same(t, m, a.MemoryUnit())
		assert.True(t, m.IsMemory())
	})

	t.Run("replace releases old memory", func(t *testing.T) {
		a, m1, m2 := alloc.NewUnit(), alloc.NewUnit(), alloc.NewUnit()
		require.NoError(t, a.AttachMemory(m1))
		require.NoError(t, a.AttachMemory(m2))

		assert.False(t, m1.IsMemory())
		assert.Same(t, a, m2.MirroredUnit())

		a.SetOutput(3)
		assert.Equal(t, 0.0, m1.Output())
		assert.Equal(t, 3.0, m2.Output())
	})
}

func TestDetachMemory(t *testing.T) {
	alloc := NewIDAllocator()
	a, m := alloc.NewUnit(), alloc.NewUnit()
	require.NoError(t, a.AttachMemory(m))

	a.DetachMemory()
	a.SetOutput(4)

	assert.Nil(t, a.MemoryUnit())
	assert.False(t, m.IsMemory())
	assert.Equal(t, 0.0, m.Output())
}

func TestUnit_EndToEndScenario(t *testing.T) {
	alloc := NewIDAllocator()
	a, b := alloc.NewUnit(), alloc.NewUnit()

	require.NoError(t, a.AttachMemory(b))
	a.Connect(b, 0.5)
	a.SetInput(2.0)
	a.SetOutput(1.0)

	assert.Equal(t, 1.0, b.Output())
	w, ok := a.Weight(b)
	require.True(t, ok)
	assert.Equal(t, 0.5, w)
	assert.Equal(t, 2.0, a.Input())
}

func TestUnit_BiasScenario(t *testing.T) {
	c := NewIDAllocator().NewBiasUnit()

	assert.Equal(t, 1.0, c.Input())
	assert.True(t, c.IsBias())
	c.SetInput(99)
	assert.Equal(t, 1.0, c.Input())
}

func TestUnit_String(t *testing.T) {
	alloc := NewIDAllocator()
	a, m := alloc.NewUnit(), alloc.NewUnit()
	require.NoError(t, a.AttachMemory(m))

	assert.Contains(t, a.String(), "Unit(ID: 0")
	assert.Contains(t, m.String(), "Memory(ID: 1")
	assert.Contains(t, alloc.NewBiasUnit().String(), "Bias(ID: 2")
}
