package engine

import (
	"fmt"

	"github.com/strandlab/strand/internal/ir"
)

// StateBuffer holds the persistent cells that survive frames and
// hot-swaps: delay lines, accumulators, slew followers, free-running
// phases. Cells are identified by their stable StateID; offsets and sizes
// belong to one compiled layout and are recomputed on every swap.
type StateBuffer struct {
	layout ir.StateLayout

	f64 []float64
	f32 []float32
	i32 []int32

	// head[StateID] is the ring index of the most recently pushed element.
	head map[ir.StateID]int32
}

// NewStateBuffer allocates and initializes state for a fresh program.
// A cell's InitialConst is broadcast across all its elements: ring
// buffers start uniformly filled, so early taps read the initial value
// rather than garbage.
func NewStateBuffer(layout ir.StateLayout, consts *ir.ConstPool) (*StateBuffer, error) {
	b := &StateBuffer{
		layout: layout,
		f64:    make([]float64, layout.F64Len),
		f32:    make([]float32, layout.F32Len),
		i32:    make([]int32, layout.I32Len),
		head:   make(map[ir.StateID]int32, len(layout.Cells)),
	}
	for _, cell := range layout.Cells {
		b.head[cell.StateID] = 0
		if cell.InitialConst == ir.None {
			continue
		}
		initial, err := consts.Float(cell.InitialConst)
		if err != nil {
			return nil, fmt.Errorf("state cell %d: initial: %w", cell.StateID, err)
		}
		b.fill(cell, initial)
	}
	return b, nil
}

func (b *StateBuffer) fill(cell ir.StateCellLayout, v float64) {
	for i := int32(0); i < cell.Size; i++ {
		switch cell.Storage {
		case ir.StateF64:
			b.f64[cell.Offset+i] = v
		case ir.StateF32:
			b.f32[cell.Offset+i] = float32(v)
		case ir.StateI32:
			b.i32[cell.Offset+i] = int32(v)
		}
	}
}

// PreserveState builds the state buffer for a new layout, migrating
// matching cells from the old buffer. Matching is by StateID:
//
//   - same id, same storage: values copy over (up to the smaller size)
//   - same id, different storage: the old value is discarded; reinterpreting
//     bits across storage kinds would be worse than a clean restart
//   - new unmatched cells initialize fresh
//   - old unmatched cells drop silently
//
// The returned warnings name every discarded cell so the swap log can
// surface them.
func PreserveState(old *StateBuffer, layout ir.StateLayout, consts *ir.ConstPool) (*StateBuffer, []string, error) {
	next, err := NewStateBuffer(layout, consts)
	if err != nil {
		return nil, nil, err
	}
	if old == nil {
		return next, nil, nil
	}

	var warnings []string
	for _, cell := range layout.Cells {
		prev, ok := old.layout.CellByID(cell.StateID)
		if !ok {
			continue
		}
		if prev.Storage != cell.Storage {
			warnings = append(warnings, fmt.Sprintf(
				"state cell %d: storage changed %s -> %s, value discarded",
				cell.StateID, prev.Storage, cell.Storage))
			continue
		}
		n := min(prev.Size, cell.Size)
		switch cell.Storage {
		case ir.StateF64:
			copy(next.f64[cell.Offset:cell.Offset+n], old.f64[prev.Offset:prev.Offset+n])
		case ir.StateF32:
			copy(next.f32[cell.Offset:cell.Offset+n], old.f32[prev.Offset:prev.Offset+n])
		case ir.StateI32:
			copy(next.i32[cell.Offset:cell.Offset+n], old.i32[prev.Offset:prev.Offset+n])
		}
		if prev.Size == cell.Size {
			next.head[cell.StateID] = old.head[cell.StateID]
		}
	}
	return next, warnings, nil
}

func (b *StateBuffer) cell(id ir.StateID) (ir.StateCellLayout, error) {
	c, ok := b.layout.CellByID(id)
	if !ok {
		return ir.StateCellLayout{}, fmt.Errorf("state cell %d not in layout", id)
	}
	return c, nil
}

// ReadF64 reads the element tap frames behind the head. Tap 0 is the most
// recently pushed value.
func (b *StateBuffer) ReadF64(id ir.StateID, tap int32) (float64, error) {
	c, err := b.cell(id)
	if err != nil {
		return 0, err
	}
	idx := ((b.head[id]-tap)%c.Size + c.Size) % c.Size
	switch c.Storage {
	case ir.StateF64:
		return b.f64[c.Offset+idx], nil
	case ir.StateF32:
		return float64(b.f32[c.Offset+idx]), nil
	default:
		return float64(b.i32[c.Offset+idx]), nil
	}
}

// Push advances the ring and writes v at the new head.
func (b *StateBuffer) Push(id ir.StateID, v float64) error {
	c, err := b.cell(id)
	if err != nil {
		return err
	}
	b.head[id] = (b.head[id] + 1) % c.Size
	b.writeAt(c, b.head[id], v)
	return nil
}

// Set overwrites the element at the head.
func (b *StateBuffer) Set(id ir.StateID, v float64) error {
	c, err := b.cell(id)
	if err != nil {
		return err
	}
	b.writeAt(c, b.head[id], v)
	return nil
}

// Accum adds v to the element at the head.
func (b *StateBuffer) Accum(id ir.StateID, v float64) error {
	c, err := b.cell(id)
	if err != nil {
		return err
	}
	cur, err := b.ReadF64(id, 0)
	if err != nil {
		return err
	}
	b.writeAt(c, b.head[id], cur+v)
	return nil
}

func (b *StateBuffer) writeAt(c ir.StateCellLayout, idx int32, v float64) {
	switch c.Storage {
	case ir.StateF64:
		b.f64[c.Offset+idx] = v
	case ir.StateF32:
		b.f32[c.Offset+idx] = float32(v)
	case ir.StateI32:
		b.i32[c.Offset+idx] = int32(v)
	}
}
