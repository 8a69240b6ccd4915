package engine

import (
	"fmt"
	"sort"

	"github.com/strandlab/strand/internal/ir"
)

// CellState is one persistent cell's serialized contents. Values are
// carried as f64 regardless of storage; restore narrows them back.
type CellState struct {
	StateID ir.StateID      `cbor:"1,keyasint" json:"state_id"`
	Storage ir.StateStorage `cbor:"2,keyasint" json:"storage"`
	Head    int32           `cbor:"3,keyasint" json:"head"`
	Values  []float64       `cbor:"4,keyasint" json:"values"`
}

// Snapshot captures everything needed to resume a run: which compile it
// belongs to, the clock position, and every state cell. Slot values are
// deliberately absent; they are recomputed by the first frame after
// restore.
type Snapshot struct {
	CompileID string      `cbor:"1,keyasint" json:"compile_id"`
	Frame     int64       `cbor:"2,keyasint" json:"frame"`
	ModelMs   float64     `cbor:"3,keyasint" json:"model_ms"`
	Cells     []CellState `cbor:"4,keyasint" json:"cells"`
}

// Snapshot serializes the engine's resumable state. Cells are emitted in
// StateID order so two snapshots of one moment are byte-identical.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		CompileID: e.prog.CompileID,
		Frame:     e.clock.Frame(),
		ModelMs:   e.clock.ModelMs(),
	}
	for _, cell := range e.prog.State.Cells {
		cs := CellState{
			StateID: cell.StateID,
			Storage: cell.Storage,
			Head:    e.state.head[cell.StateID],
			Values:  make([]float64, cell.Size),
		}
		for i := int32(0); i < cell.Size; i++ {
			switch cell.Storage {
			case ir.StateF64:
				cs.Values[i] = e.state.f64[cell.Offset+i]
			case ir.StateF32:
				cs.Values[i] = float64(e.state.f32[cell.Offset+i])
			case ir.StateI32:
				cs.Values[i] = float64(e.state.i32[cell.Offset+i])
			}
		}
		s.Cells = append(s.Cells, cs)
	}
	sort.Slice(s.Cells, func(i, j int) bool { return s.Cells[i].StateID < s.Cells[j].StateID })
	return s
}

// Restore rewinds the engine to a snapshot taken from the same compile.
// Cells missing from the current layout are skipped; cells missing from
// the snapshot keep their initial values.
func (e *Engine) Restore(s Snapshot) error {
	if s.CompileID != e.prog.CompileID {
		return fmt.Errorf("restore: snapshot belongs to compile %s, engine runs %s", s.CompileID, e.prog.CompileID)
	}
	for _, cs := range s.Cells {
		cell, ok := e.prog.State.CellByID(cs.StateID)
		if !ok || cell.Storage != cs.Storage {
			continue
		}
		n := min(int32(len(cs.Values)), cell.Size)
		for i := int32(0); i < n; i++ {
			e.state.writeAt(cell, i, cs.Values[i])
		}
		if cs.Head >= 0 && cs.Head < cell.Size {
			e.state.head[cs.StateID] = cs.Head
		}
	}
	e.clock = NewFrameClockAt(e.prog.TimeModel, s.Frame, s.ModelMs)
	return nil
}
