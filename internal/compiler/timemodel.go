package compiler

import (
	"fmt"

	"github.com/strandlab/strand/internal/block"
	"github.com/strandlab/strand/internal/ir"
	"github.com/strandlab/strand/internal/patch"
)

// timePortRoles maps a time root's declared output port names to the
// derived signals the compiler synthesizes for them.
var timePortRoles = map[string]ir.TimeRole{
	"tModelMs":   ir.TimeModelMs,
	"phase01":    ir.TimePhase01,
	"progress01": ir.TimeProgress,
}

// requiredTimePorts lists the derived-signal ports each time kind must
// expose. wrapEvent is the event companion of phase01 and is listed with
// the cyclic kind even though it has no TimeRole.
var requiredTimePorts = map[ir.TimeKind][]string{
	ir.TimeFinite:   {"tModelMs", "progress01"},
	ir.TimeCyclic:   {"tModelMs", "phase01", "wrapEvent"},
	ir.TimeInfinite: {"tModelMs"},
}

// findTimeRoot locates the single time-capability block. Zero roots or
// several is a broken time topology, not a per-block problem.
func findTimeRoot(ls *lowerState) (int, error) {
	var roots []int
	for i := range ls.p.Blocks {
		if ls.n.types[i].Capability == block.CapTime {
			roots = append(roots, i)
		}
	}
	switch len(roots) {
	case 1:
		return roots[0], nil
	case 0:
		return -1, &TimeModelError{Message: "patch has no time root block"}
	default:
		names := make([]string, len(roots))
		for i, idx := range roots {
			names[i] = ls.p.Blocks[idx].ID
		}
		return -1, &TimeModelError{Blocks: names, Message: "patch has more than one time root block"}
	}
}

// lowerTimeRoot lowers the time root and synthesizes the derived time
// signals. The block's lowering contributes only the TimeModelIR; the
// compiler owns the derived signals, their slots, and the single
// timeDerive step that writes them, so no block can ever shadow time.
func lowerTimeRoot(ls *lowerState, blockIdx int, node ir.NodeID) error {
	blk := ls.p.Blocks[blockIdx]
	bt := ls.n.types[blockIdx]

	in, _, err := resolveInputs(ls, blockIdx)
	if err != nil {
		return err
	}
	ls.b.SetOrigin(blk.ID, "")
	res, err := bt.Lower(ls.b, in, blk.Config)
	if err != nil {
		return &LinkError{Code: ErrCodeLower, Block: blk.ID, Message: "time root lowering failed", Err: err}
	}
	if res.Declares == nil || res.Declares.TimeModel == nil {
		return &TimeModelError{Blocks: []string{blk.ID}, Message: "time root declared no time model"}
	}
	tm := *res.Declares.TimeModel
	if !ir.ValidTimeKinds[tm.Kind] {
		return &TimeModelError{Blocks: []string{blk.ID}, Message: fmt.Sprintf("unknown time kind %q", tm.Kind)}
	}
	if tm.Kind == ir.TimeFinite && tm.DurationMs <= 0 {
		return &TimeModelError{Blocks: []string{blk.ID}, Message: "finite time model requires duration_ms > 0"}
	}
	if tm.Kind == ir.TimeCyclic && tm.PeriodMs <= 0 {
		return &TimeModelError{Blocks: []string{blk.ID}, Message: "cyclic time model requires period_ms > 0"}
	}

	required := requiredTimePorts[tm.Kind]
	for _, port := range required {
		if _, ok := bt.OutputDecl(port); !ok {
			return &TimeModelError{
				Blocks:  []string{blk.ID},
				Message: fmt.Sprintf("time kind %q requires output port %q on type %q", tm.Kind, port, bt.Name),
			}
		}
	}

	outputs := make(map[string]ir.ValueRef, len(required))
	var writes []ir.SlotWrite
	slots := ir.TimeSlotsIR{ModelMs: ir.None, Phase01: ir.None, Progress01: ir.None, WrapEvent: ir.None}
	var phaseSig ir.SigExprID = ir.None

	for _, port := range required {
		decl, _ := bt.OutputDecl(port)
		ls.b.SetOrigin(blk.ID, port)
		slot := ls.timePortSlot(blk.ID, port, decl.Type)

		if port == "wrapEvent" {
			if !phaseSig.IsValid() {
				return &TimeModelError{Blocks: []string{blk.ID}, Message: "wrapEvent requires phase01"}
			}
			id := ls.b.EventWrap(phaseSig, decl.Type)
			ls.b.RegisterEventSlot(id, slot)
			slots.WrapEvent = slot
			writes = append(writes, ir.SlotWrite{Slot: slot, Kind: ir.RefEvent, Index: int32(id)})
			outputs[port] = ir.EventRef(id, slot, decl.Type)
			continue
		}

		role := timePortRoles[port]
		id := ls.b.SigTime(role, decl.Type)
		ls.b.RegisterSigSlot(id, slot)
		writes = append(writes, ir.SlotWrite{Slot: slot, Kind: ir.RefSig, Index: int32(id)})
		outputs[port] = ir.SigRef(id, slot, decl.Type)
		switch role {
		case ir.TimeModelMs:
			slots.ModelMs = slot
		case ir.TimePhase01:
			slots.Phase01 = slot
			phaseSig = id
		case ir.TimeProgress:
			slots.Progress01 = slot
		}
	}

	ls.timeModel = &tm
	ls.timeSlots = slots
	ls.outputs[blockIdx] = outputs
	ls.steps = append(ls.steps, ir.StepIR{
		Kind:   ir.StepTimeDerive,
		Label:  "time " + blk.ID,
		Node:   node,
		Time:   &slots,
		Writes: writes,
		Cache:  ir.CachingIR{Mode: ir.CachePerFrame},
	})
	return nil
}

// timePortSlot reuses the pre-planned slot when the port is consumed
// downstream and allocates a fresh one otherwise, so the timeDerive step
// always has somewhere to write each derived signal.
func (ls *lowerState) timePortSlot(blockID, port string, t ir.TypeDesc) ir.ValueSlot {
	ref := patch.PortRef{Block: blockID, Port: port}
	if slot, ok := ls.portSlot[ref]; ok {
		return slot
	}
	slot := ls.b.AllocValueSlot(t)
	ls.portSlot[ref] = slot
	return slot
}
