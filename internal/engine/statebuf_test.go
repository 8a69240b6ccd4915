package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlab/strand/internal/ir"
)

func ringLayout(size int32, initial ir.ConstID) ir.StateLayout {
	return ir.StateLayout{
		Cells: []ir.StateCellLayout{
			{StateID: 7, Storage: ir.StateF64, Offset: 0, Size: size, Role: ir.StateRoleDelay, InitialConst: initial},
		},
		F64Len: size,
	}
}

func TestStateBufferInitialBroadcast(t *testing.T) {
	pool := ir.NewConstPool()
	initial := pool.MustIntern(2.5)

	b, err := NewStateBuffer(ringLayout(3, initial), pool)
	require.NoError(t, err)

	// Every tap of a fresh ring reads the initial value.
	for tap := int32(0); tap < 3; tap++ {
		v, err := b.ReadF64(7, tap)
		require.NoError(t, err)
		assert.Equal(t, 2.5, v, "tap %d", tap)
	}
}

func TestStateBufferRingTaps(t *testing.T) {
	pool := ir.NewConstPool()
	b, err := NewStateBuffer(ringLayout(3, ir.None), pool)
	require.NoError(t, err)

	require.NoError(t, b.Push(7, 10))
	require.NoError(t, b.Push(7, 20))
	require.NoError(t, b.Push(7, 30))
	require.NoError(t, b.Push(7, 40)) // overwrites 10

	v, err := b.ReadF64(7, 0)
	require.NoError(t, err)
	assert.Equal(t, 40.0, v)

	v, err = b.ReadF64(7, 1)
	require.NoError(t, err)
	assert.Equal(t, 30.0, v)

	v, err = b.ReadF64(7, 2)
	require.NoError(t, err)
	assert.Equal(t, 20.0, v)
}

func TestStateBufferSetAndAccum(t *testing.T) {
	pool := ir.NewConstPool()
	b, err := NewStateBuffer(ringLayout(1, ir.None), pool)
	require.NoError(t, err)

	require.NoError(t, b.Set(7, 5))
	require.NoError(t, b.Accum(7, 2))

	v, err := b.ReadF64(7, 0)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)
}

func TestStateBufferUnknownCell(t *testing.T) {
	pool := ir.NewConstPool()
	b, err := NewStateBuffer(ringLayout(1, ir.None), pool)
	require.NoError(t, err)

	_, err = b.ReadF64(99, 0)
	assert.Error(t, err)
	assert.Error(t, b.Push(99, 1))
	assert.Error(t, b.Set(99, 1))
	assert.Error(t, b.Accum(99, 1))
}

func TestPreserveStateCopiesMatchingCells(t *testing.T) {
	pool := ir.NewConstPool()
	old, err := NewStateBuffer(ringLayout(3, ir.None), pool)
	require.NoError(t, err)
	require.NoError(t, old.Push(7, 1))
	require.NoError(t, old.Push(7, 2))

	// Same StateID and storage at a different offset in the new layout.
	next := ir.StateLayout{
		Cells: []ir.StateCellLayout{
			{StateID: 3, Storage: ir.StateF64, Offset: 0, Size: 1},
			{StateID: 7, Storage: ir.StateF64, Offset: 1, Size: 3},
		},
		F64Len: 4,
	}
	migrated, warnings, err := PreserveState(old, next, pool)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	v, err := migrated.ReadF64(7, 0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v, "head position carries over with the values")

	v, err = migrated.ReadF64(3, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v, "unmatched new cell initializes fresh")
}

func TestPreserveStateDiscardsOnStorageChange(t *testing.T) {
	pool := ir.NewConstPool()
	old, err := NewStateBuffer(ringLayout(1, ir.None), pool)
	require.NoError(t, err)
	require.NoError(t, old.Set(7, 42))

	next := ir.StateLayout{
		Cells: []ir.StateCellLayout{
			{StateID: 7, Storage: ir.StateI32, Offset: 0, Size: 1},
		},
		I32Len: 1,
	}
	migrated, warnings, err := PreserveState(old, next, pool)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "storage changed")

	v, err := migrated.ReadF64(7, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestPreserveStateNilOldIsFreshInit(t *testing.T) {
	pool := ir.NewConstPool()
	initial := pool.MustIntern(1.5)

	migrated, warnings, err := PreserveState(nil, ringLayout(2, initial), pool)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	v, err := migrated.ReadF64(7, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)
}
