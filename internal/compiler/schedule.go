package compiler

import (
	"fmt"
	"sort"

	"github.com/strandlab/strand/internal/block"
	"github.com/strandlab/strand/internal/builder"
	"github.com/strandlab/strand/internal/ir"
	"github.com/strandlab/strand/internal/patch"
)

// lowerBlock resolves the block's inputs, runs its lowering function, and
// emits its schedule step. Outputs nobody consumes get no slot and no
// write; the expressions still exist in the tables for probes and the
// inspector.
func lowerBlock(ls *lowerState, blockIdx int, node ir.NodeID) error {
	blk := ls.p.Blocks[blockIdx]
	bt := ls.n.types[blockIdx]

	in, reads, err := resolveInputs(ls, blockIdx)
	if err != nil {
		return err
	}
	ls.b.SetOrigin(blk.ID, "")
	res, err := bt.Lower(ls.b, in, blk.Config)
	if err != nil {
		return &LinkError{Code: ErrCodeLower, Block: blk.ID, Message: "lowering failed", Err: err}
	}
	ls.outputs[blockIdx] = res.Outputs

	var writes []ir.SlotWrite
	var stateReads, stateWrites []ir.StateID
	for _, decl := range bt.Outputs {
		slot, consumed := ls.portSlot[patch.PortRef{Block: blk.ID, Port: decl.Name}]
		if !consumed {
			continue
		}
		raw, ok := res.Outputs[decl.Name]
		if !ok {
			return &LinkError{
				Code: ErrCodeLower, Block: blk.ID, Port: decl.Name,
				Message: fmt.Sprintf("type %q lowered no value for declared output", bt.Name),
			}
		}
		switch raw.Kind {
		case ir.RefSig:
			ls.b.RegisterSigSlot(ir.SigExprID(raw.Index), slot)
		case ir.RefField:
			ls.b.RegisterFieldSlot(ir.FieldExprID(raw.Index), slot)
		case ir.RefEvent:
			ls.b.RegisterEventSlot(ir.EventExprID(raw.Index), slot)
		}
		writes = append(writes, ir.SlotWrite{Slot: slot, Kind: raw.Kind, Index: raw.Index})
		deps := collectRefDeps(ls.b, raw)
		stateReads = append(stateReads, deps.states...)
		stateWrites = append(stateWrites, deps.stateWrites...)
	}

	for _, u := range res.Updates {
		ls.b.BindStateNode(u.State, node)
	}

	if len(writes) > 0 {
		ls.steps = append(ls.steps, ir.StepIR{
			Kind:        ir.StepSigEval,
			Label:       blk.ID,
			Node:        node,
			Writes:      writes,
			Reads:       reads,
			StateReads:  stateReads,
			StateWrites: stateWrites,
			Cache:       ir.CachingIR{Mode: ir.CachePerFrame},
		})
	}

	if len(res.Updates) > 0 {
		ls.endSteps = append(ls.endSteps, stateUpdateStep(ls.b, blk.ID, node, res.Updates))
	}

	if res.Declares != nil && res.Declares.RenderSink != "" {
		if err := lowerRenderSink(ls, blockIdx, node, bt, in, res.Declares); err != nil {
			return err
		}
	}
	return nil
}

// stateUpdateStep packages a block's end-of-frame state writes as one
// schedule step. These steps run after every slot is final and are
// ordered by node id before appending, so the end-of-frame section is as
// deterministic as the main one.
func stateUpdateStep(b *builder.Builder, blockID string, node ir.NodeID, updates []ir.StateUpdateIR) ir.StepIR {
	var reads []ir.ValueSlot
	var stateWrites []ir.StateID
	for _, u := range updates {
		stateWrites = append(stateWrites, u.State)
		deps := collectRefDeps(b, ir.ValueRef{Kind: u.Kind, Index: u.Index})
		reads = append(reads, deps.slots...)
		stateWrites = append(stateWrites, deps.stateWrites...)
	}
	return ir.StepIR{
		Kind:        ir.StepSigEval,
		Label:       blockID + " state",
		Node:        node,
		Reads:       dedupSlots(reads),
		StateWrites: stateWrites,
		Updates:     updates,
		Cache:       ir.CachingIR{Mode: ir.CachePerFrame},
	}
}

// lowerRenderSink materializes the render block's field inputs into typed
// buffers and assembles them into the sink's output set. Signal inputs
// pass through as per-frame slot outputs; fields become buffers the
// renderer consumes directly.
func lowerRenderSink(ls *lowerState, blockIdx int, node ir.NodeID, bt *block.Type, in block.Inputs, decl *block.Declares) error {
	blk := ls.p.Blocks[blockIdx]
	sink := decl.RenderSink
	firstOutput := int32(len(ls.outputSpecs))

	var buffers []ir.BufferID
	for _, port := range bt.Inputs {
		ref := in[port.Name]
		name := sink + "." + port.Name
		switch ref.Type.World {
		case ir.WorldField:
			if ref.Kind != ir.RefField {
				return &LinkError{
					Code: ErrCodeLower, Block: blk.ID, Port: port.Name,
					Message: "render input did not resolve to a field",
				}
			}
			fieldID := ir.FieldExprID(ref.Index)
			fieldNode, err := ls.b.FieldNode(fieldID)
			if err != nil {
				return err
			}
			buf := ir.BufferID(ls.bufferCount)
			ls.bufferCount++
			deps := collectFieldDeps(ls.b, fieldID)
			ls.steps = append(ls.steps, ir.StepIR{
				Kind:        materializeKind(ref.Type.Domain),
				Label:       name,
				Node:        node,
				Field:       fieldID,
				Domain:      fieldNode.Domain,
				Out:         buf,
				Reads:       deps.slots,
				StateReads:  deps.states,
				StateWrites: deps.stateWrites,
				Cache: ir.CachingIR{
					Mode:      ir.CacheUntilInvalidated,
					DepSlots:  deps.slots,
					DepConsts: deps.consts,
				},
			})
			buffers = append(buffers, buf)
			ls.outputSpecs = append(ls.outputSpecs, ir.OutputSpec{
				Name: name, Kind: ir.OutputBuffer, Buffer: buf, Slot: ir.None, Type: ref.Type,
			})

		case ir.WorldSignal:
			slot := ref.Slot
			if !slot.IsValid() {
				// Const-backed signal input: give the renderer a seeded slot.
				if ref.Kind != ir.RefConst {
					return &LinkError{
						Code: ErrCodeLower, Block: blk.ID, Port: port.Name,
						Message: "render signal input has no slot",
					}
				}
				ls.b.SetOrigin(blk.ID, port.Name)
				slot = ls.b.AllocValueSlot(ref.Type)
				ls.b.SeedSlot(slot, ir.ConstID(ref.Index))
			}
			ls.outputSpecs = append(ls.outputSpecs, ir.OutputSpec{
				Name: name, Kind: ir.OutputSlot, Buffer: ir.None, Slot: slot, Type: ref.Type,
			})
		}
	}

	ls.steps = append(ls.steps, ir.StepIR{
		Kind:    ir.StepRenderAssemble,
		Label:   "sink " + sink,
		Node:    node,
		Camera:  decl.Camera,
		Buffers: buffers,
		Output:  firstOutput,
		Cache:   ir.CachingIR{Mode: ir.CachePerFrame},
	})
	return nil
}

// materializeKind picks the buffer materialization step for a field's
// element domain.
func materializeKind(d ir.Domain) ir.StepKind {
	switch d {
	case ir.DomainColor:
		return ir.StepMaterializeColor
	case ir.DomainVec2:
		return ir.StepMaterializePath
	default:
		return ir.StepMaterialize
	}
}

// exprDeps accumulates everything an expression tree touches: the slots
// it reads, the state cells it taps, and the consts it folds in. Cache
// invalidation and the dependency index are both driven from this walk.
// stateWrites holds the cells the tree rewrites in place; today that is
// only slew steps inside transform chains.
type exprDeps struct {
	slots       []ir.ValueSlot
	states      []ir.StateID
	consts      []ir.ConstID
	stateWrites []ir.StateID
}

func collectRefDeps(b *builder.Builder, ref ir.ValueRef) exprDeps {
	var deps exprDeps
	switch ref.Kind {
	case ir.RefSig:
		collectSigDeps(b, ir.SigExprID(ref.Index), &deps)
	case ir.RefField:
		collectFieldDepsInto(b, ir.FieldExprID(ref.Index), &deps)
	case ir.RefEvent:
		collectEventDeps(b, ir.EventExprID(ref.Index), &deps)
	case ir.RefConst:
		deps.consts = append(deps.consts, ir.ConstID(ref.Index))
	}
	deps.slots = dedupSlots(deps.slots)
	return deps
}

func collectFieldDeps(b *builder.Builder, id ir.FieldExprID) exprDeps {
	var deps exprDeps
	collectFieldDepsInto(b, id, &deps)
	deps.slots = dedupSlots(deps.slots)
	return deps
}

func collectSigDeps(b *builder.Builder, id ir.SigExprID, deps *exprDeps) {
	node, err := b.SigNode(id)
	if err != nil {
		return
	}
	switch node.Kind {
	case ir.SigConst:
		deps.consts = append(deps.consts, node.Const)
	case ir.SigSlot:
		deps.slots = append(deps.slots, node.Slot)
	case ir.SigState:
		deps.states = append(deps.states, node.State)
	}
	collectTransformDeps(b, node.Transform, deps)
	for _, arg := range node.Args {
		collectSigDeps(b, arg, deps)
	}
}

// collectTransformDeps walks a chain's steps. A slew step reads its cell's
// previous value and rewrites it in the same evaluation, so the cell lands
// in both state lists.
func collectTransformDeps(b *builder.Builder, id ir.TransformID, deps *exprDeps) {
	if !id.IsValid() {
		return
	}
	chain, err := b.TransformNode(id)
	if err != nil {
		return
	}
	for _, s := range chain.Steps {
		if s.Params.IsValid() {
			deps.consts = append(deps.consts, s.Params)
		}
		if s.State.IsValid() {
			deps.states = append(deps.states, s.State)
			deps.stateWrites = append(deps.stateWrites, s.State)
		}
	}
}

func collectFieldDepsInto(b *builder.Builder, id ir.FieldExprID, deps *exprDeps) {
	node, err := b.FieldNode(id)
	if err != nil {
		return
	}
	switch node.Kind {
	case ir.FieldConst:
		deps.consts = append(deps.consts, node.Const)
	case ir.FieldSlot:
		deps.slots = append(deps.slots, node.Slot)
	}
	collectTransformDeps(b, node.Transform, deps)
	if node.Sig.IsValid() {
		collectSigDeps(b, node.Sig, deps)
	}
	for _, arg := range node.Args {
		collectFieldDepsInto(b, arg, deps)
	}
}

func collectEventDeps(b *builder.Builder, id ir.EventExprID, deps *exprDeps) {
	// Event nodes are shallow: a slot read, a wrap over a signal, or a
	// combinator over other event nodes.
	node, err := b.EventNode(id)
	if err != nil {
		return
	}
	if node.Slot.IsValid() {
		deps.slots = append(deps.slots, node.Slot)
	}
	if node.Sig.IsValid() {
		collectSigDeps(b, node.Sig, deps)
	}
	for _, arg := range node.Args {
		collectEventDeps(b, arg, deps)
	}
}

func dedupSlots(slots []ir.ValueSlot) []ir.ValueSlot {
	if len(slots) < 2 {
		return slots
	}
	sort.Slice(slots, func(a, b int) bool { return slots[a] < slots[b] })
	out := slots[:1]
	for _, s := range slots[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

// assembleSchedule finalizes the step list and computes the dependency
// index. The end-of-frame section is ordered by node id; probe steps come
// last so probes observe final frame values.
func assembleSchedule(ls *lowerState, probes []ir.DebugProbeIR, slotCount int) ir.ScheduleIR {
	sort.SliceStable(ls.endSteps, func(a, b int) bool {
		return ls.endSteps[a].Node < ls.endSteps[b].Node
	})
	steps := append(ls.steps, ls.endSteps...)

	for i, probe := range probes {
		steps = append(steps, ir.StepIR{
			Kind:  ir.StepDebugProbe,
			Label: "probe " + probe.ProbeID,
			Node:  ir.None,
			Probe: int32(i),
			Reads: []ir.ValueSlot{probe.Slot},
			Cache: ir.CachingIR{Mode: ir.CachePerFrame},
		})
	}

	deps := ir.DependencyIndexIR{
		SlotProducer:  make([]ir.StepID, slotCount),
		SlotConsumers: make([][]ir.StepID, slotCount),
		BusOutSlot:    make([]ir.ValueSlot, len(ls.buses)),
		SlotBus:       make([]int32, slotCount),
	}
	for i := range deps.SlotProducer {
		deps.SlotProducer[i] = ir.None
		deps.SlotBus[i] = ir.None
	}
	for i, bus := range ls.buses {
		deps.BusOutSlot[i] = bus.OutSlot
		deps.SlotBus[bus.OutSlot] = int32(i)
	}
	for i, step := range steps {
		for _, w := range step.Writes {
			deps.SlotProducer[w.Slot] = ir.StepID(i)
		}
		for _, r := range step.Reads {
			deps.SlotConsumers[r] = append(deps.SlotConsumers[r], ir.StepID(i))
		}
	}

	return ir.ScheduleIR{
		Steps:       steps,
		Deps:        deps,
		Determinism: ir.DefaultDeterminism(),
		SlotCount:   int32(slotCount),
		BufferCount: ls.bufferCount,
	}
}
