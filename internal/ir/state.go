package ir

// StateStorage names the typed array a state cell lives in.
type StateStorage string

const (
	StateF64 StateStorage = "f64"
	StateF32 StateStorage = "f32"
	StateI32 StateStorage = "i32"
)

// StateRole documents what a cell is for. Roles are informational (they
// surface in the inspector and swap warnings); migration matches on
// StateID and storage kind only.
type StateRole string

const (
	StateRoleDelay     StateRole = "delay"     // ring buffer for delay lines
	StateRoleIntegrate StateRole = "integrate" // accumulator
	StateRoleSlew      StateRole = "slew"      // last output of a slew limiter
	StateRolePhase     StateRole = "phase"     // free-running phase accumulator
	StateRoleGeneric   StateRole = "generic"
)

// StateCellLayout describes one persistent cell in the StateBuffer.
//
// StateID identity spans hot-swaps: a recompile that produces a cell with
// the same StateID and the same storage kind inherits the old value via
// PreserveState. Offset/Size are positions in the new layout only and may
// differ between compiles. InitialConst seeds the cell on fresh
// initialization; a scalar initial value is broadcast across Size elements
// (ring buffers start uniformly filled).
type StateCellLayout struct {
	StateID      StateID      `json:"state_id"`
	Storage      StateStorage `json:"storage"`
	Offset       int32        `json:"offset"`
	Size         int32        `json:"size"`
	Node         NodeID       `json:"node"`
	Role         StateRole    `json:"role"`
	InitialConst ConstID      `json:"initial_const"` // None -> zero-filled
}

// StateLayout is the complete persistent-state map for one compiled
// program: cells in StateID order plus the total lengths of each backing
// array.
type StateLayout struct {
	Cells  []StateCellLayout `json:"cells"`
	F64Len int32             `json:"f64_len"`
	F32Len int32             `json:"f32_len"`
	I32Len int32             `json:"i32_len"`
}

// CellByID returns the cell claiming the given StateID, if any.
func (l *StateLayout) CellByID(id StateID) (StateCellLayout, bool) {
	for _, c := range l.Cells {
		if c.StateID == id {
			return c, true
		}
	}
	return StateCellLayout{}, false
}
