package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlab/strand/internal/ir"
)

var sigFloatType = ir.TypeDesc{World: ir.WorldSignal, Domain: ir.DomainFloat}

func twoSlotMeta() []ir.SlotMetaIR {
	return []ir.SlotMetaIR{
		{Type: sigFloatType, Storage: ir.SlotF64, Offset: 0},
		{Type: ir.TypeDesc{World: ir.WorldEvent, Domain: ir.DomainTrigger}, Storage: ir.SlotObj, Offset: 0},
	}
}

func TestValueStoreRoundTrip(t *testing.T) {
	s := NewValueStore(twoSlotMeta(), true)
	s.BeginFrame()

	require.NoError(t, s.SetF64(0, 1.25, 3))
	v, err := s.F64(0, 4)
	require.NoError(t, err)
	assert.Equal(t, 1.25, v)

	require.NoError(t, s.SetObj(1, EventList{100}, 3))
	raw, err := s.Obj(1, 4)
	require.NoError(t, err)
	assert.Equal(t, EventList{100}, raw)
}

func TestValueStoreCheckedDoubleWrite(t *testing.T) {
	s := NewValueStore(twoSlotMeta(), true)
	s.BeginFrame()

	require.NoError(t, s.SetF64(0, 1, 3))
	// The same step may rewrite its own slot; a different step may not.
	require.NoError(t, s.SetF64(0, 2, 3))
	err := s.SetF64(0, 3, 4)
	require.Error(t, err)

	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ErrCodeDoubleSlotWrite, ie.Code)
	assert.Equal(t, ir.ValueSlot(0), ie.Slot)
}

func TestValueStoreCheckedUnwrittenRead(t *testing.T) {
	s := NewValueStore(twoSlotMeta(), true)
	s.BeginFrame()

	_, err := s.F64(0, 2)
	require.Error(t, err)
	assert.True(t, IsInvariantError(err))

	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ErrCodeUnwrittenSlotRead, ie.Code)
}

func TestValueStoreSeededSlotAlwaysReadable(t *testing.T) {
	s := NewValueStore(twoSlotMeta(), true)
	require.NoError(t, s.Seed(0, 9.0))

	s.BeginFrame()
	v, err := s.F64(0, 2)
	require.NoError(t, err)
	assert.Equal(t, 9.0, v)

	// Seeds survive frame boundaries.
	s.BeginFrame()
	v, err = s.F64(0, 5)
	require.NoError(t, err)
	assert.Equal(t, 9.0, v)
}

func TestValueStoreUncheckedSkipsInvariants(t *testing.T) {
	s := NewValueStore(twoSlotMeta(), false)
	s.BeginFrame()

	_, err := s.F64(0, 2)
	assert.NoError(t, err, "unchecked mode does not police reads")
	require.NoError(t, s.SetF64(0, 1, 3))
	require.NoError(t, s.SetF64(0, 2, 4))
}

func TestValueStoreStorageMismatch(t *testing.T) {
	s := NewValueStore(twoSlotMeta(), false)

	assert.Error(t, s.SetF64(1, 1, 0), "f64 write to obj storage")
	assert.Error(t, s.SetObj(0, "x", 0), "obj write to f64 storage")
}
