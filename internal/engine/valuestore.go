package engine

import (
	"fmt"

	"github.com/strandlab/strand/internal/ir"
)

// ValueStore holds all per-frame slot values in dense typed arrays. Slots
// are addressed through the program's slot metadata: storage class plus
// offset. The store is rebuilt on every hot-swap; only the StateBuffer
// survives swaps.
//
// Checked mode tracks which step wrote each slot this frame and enforces
// the one-writer-per-frame invariant on writes and the written-before-read
// invariant on reads. Unchecked mode skips the bookkeeping entirely.
type ValueStore struct {
	meta []ir.SlotMetaIR

	f64 []float64
	f32 []float32
	i32 []int32
	u32 []uint32
	obj []any

	checked bool
	// writer[slot] is the step that wrote the slot this frame, None when
	// unwritten. Seeded slots count as written every frame.
	writer []ir.StepID
	seeded []bool
}

// NewValueStore allocates the backing arrays for a program's slot table.
func NewValueStore(meta []ir.SlotMetaIR, checked bool) *ValueStore {
	var f64n, f32n, i32n, u32n, objn int32
	for _, m := range meta {
		switch m.Storage {
		case ir.SlotF64:
			f64n++
		case ir.SlotF32:
			f32n++
		case ir.SlotI32:
			i32n++
		case ir.SlotU32:
			u32n++
		case ir.SlotObj:
			objn++
		}
	}
	s := &ValueStore{
		meta:    meta,
		f64:     make([]float64, f64n),
		f32:     make([]float32, f32n),
		i32:     make([]int32, i32n),
		u32:     make([]uint32, u32n),
		obj:     make([]any, objn),
		checked: checked,
		writer:  make([]ir.StepID, len(meta)),
		seeded:  make([]bool, len(meta)),
	}
	for i := range s.writer {
		s.writer[i] = ir.None
	}
	return s
}

// Seed writes a slot's load-time initial value and marks it permanently
// written. Called once per seed before the first frame.
func (s *ValueStore) Seed(slot ir.ValueSlot, value any) error {
	if err := s.setAny(slot, value); err != nil {
		return err
	}
	s.seeded[slot] = true
	return nil
}

// BeginFrame clears the write tracking. Values are deliberately left in
// place: clearing them would hide unwritten-read bugs behind zeros in
// unchecked mode and costs a full sweep per frame.
func (s *ValueStore) BeginFrame() {
	if !s.checked {
		return
	}
	for i := range s.writer {
		s.writer[i] = ir.None
	}
}

func (s *ValueStore) checkWrite(slot ir.ValueSlot, step ir.StepID) error {
	if !s.checked {
		return nil
	}
	if w := s.writer[slot]; w != ir.None && w != step {
		return doubleWriteError(slot, step)
	}
	s.writer[slot] = step
	return nil
}

func (s *ValueStore) checkRead(slot ir.ValueSlot, step ir.StepID) error {
	if !s.checked {
		return nil
	}
	if s.writer[slot] == ir.None && !s.seeded[slot] {
		return unwrittenReadError(slot, step)
	}
	return nil
}

// SetF64 writes a numeric slot.
func (s *ValueStore) SetF64(slot ir.ValueSlot, v float64, step ir.StepID) error {
	if err := s.checkWrite(slot, step); err != nil {
		return err
	}
	m := s.meta[slot]
	if m.Storage != ir.SlotF64 {
		return fmt.Errorf("slot %d: f64 write to %s storage", slot, m.Storage)
	}
	s.f64[m.Offset] = v
	return nil
}

// F64 reads a numeric slot.
func (s *ValueStore) F64(slot ir.ValueSlot, step ir.StepID) (float64, error) {
	if err := s.checkRead(slot, step); err != nil {
		return 0, err
	}
	m := s.meta[slot]
	if m.Storage != ir.SlotF64 {
		return 0, fmt.Errorf("slot %d: f64 read from %s storage", slot, m.Storage)
	}
	return s.f64[m.Offset], nil
}

// SetObj writes an object slot (events, colors, structured values).
func (s *ValueStore) SetObj(slot ir.ValueSlot, v any, step ir.StepID) error {
	if err := s.checkWrite(slot, step); err != nil {
		return err
	}
	m := s.meta[slot]
	if m.Storage != ir.SlotObj {
		return fmt.Errorf("slot %d: obj write to %s storage", slot, m.Storage)
	}
	s.obj[m.Offset] = v
	return nil
}

// Obj reads an object slot.
func (s *ValueStore) Obj(slot ir.ValueSlot, step ir.StepID) (any, error) {
	if err := s.checkRead(slot, step); err != nil {
		return nil, err
	}
	m := s.meta[slot]
	if m.Storage != ir.SlotObj {
		return nil, fmt.Errorf("slot %d: obj read from %s storage", slot, m.Storage)
	}
	return s.obj[m.Offset], nil
}

// setAny routes a seed value to the slot's storage class.
func (s *ValueStore) setAny(slot ir.ValueSlot, value any) error {
	m := s.meta[slot]
	switch m.Storage {
	case ir.SlotF64:
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("slot %d: seed %T into f64 storage", slot, value)
		}
		s.f64[m.Offset] = f
	case ir.SlotObj:
		s.obj[m.Offset] = value
	default:
		return fmt.Errorf("slot %d: seeding %s storage is not supported", slot, m.Storage)
	}
	return nil
}

// Peek reads a slot without a read check, for probes and output
// snapshots taken after the frame completes.
func (s *ValueStore) Peek(slot ir.ValueSlot) any {
	m := s.meta[slot]
	switch m.Storage {
	case ir.SlotF64:
		return s.f64[m.Offset]
	case ir.SlotF32:
		return s.f32[m.Offset]
	case ir.SlotI32:
		return s.i32[m.Offset]
	case ir.SlotU32:
		return s.u32[m.Offset]
	default:
		return s.obj[m.Offset]
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
