package compiler

import (
	"fmt"
	"sort"

	"github.com/strandlab/strand/internal/block"
	"github.com/strandlab/strand/internal/builder"
	"github.com/strandlab/strand/internal/ir"
	"github.com/strandlab/strand/internal/patch"
)

// lowerState is the compiler's mutable working set during the lowering
// walk. Everything here is indexed by the same dense ids as the arena
// graph.
type lowerState struct {
	p *patch.Patch
	n *normalized
	g *depGraph
	b *builder.Builder

	// portSlot maps every consumed block output port (wire or publisher
	// source) to its pre-allocated slot. Allocated before the walk so a
	// cycle-breaking consumer can reference its producer's slot before the
	// producer has been lowered.
	portSlot map[patch.PortRef]ir.ValueSlot

	// busOut / busDomain are indexed by patch.Buses position.
	busOut    []ir.ValueSlot
	busDomain []ir.DomainID

	// outputs holds each block's lowered output refs, patch.Blocks indexed.
	// nil until the block's turn in the walk.
	outputs []map[string]ir.ValueRef

	buses       []ir.BusIR
	steps       []ir.StepIR
	endSteps    []ir.StepIR // state updates, appended after the main section
	outputSpecs []ir.OutputSpec
	bufferCount int32

	timeModel *ir.TimeModelIR
	timeSlots ir.TimeSlotsIR
}

// planSlots pre-allocates one slot per consumed output port and one out
// slot per bus. Doing this before any block is lowered is what lets a
// delay read its input slot even though its producer is lowered later.
func planSlots(ls *lowerState) {
	for _, w := range ls.p.Wires {
		ls.planPortSlot(w.From)
	}
	for _, pub := range ls.p.Publishers {
		ls.planPortSlot(pub.From)
	}
	for i, bus := range ls.p.Buses {
		ls.b.SetOrigin(bus.ID, "out")
		ls.busOut[i] = ls.b.AllocValueSlot(bus.Type)
	}
	ls.b.SetOrigin("", "")
}

func (ls *lowerState) planPortSlot(ref patch.PortRef) {
	if _, done := ls.portSlot[ref]; done {
		return
	}
	bt := ls.n.types[ls.n.blockIdx[ref.Block]]
	decl, _ := bt.OutputDecl(ref.Port)
	ls.b.SetOrigin(ref.Block, ref.Port)
	ls.portSlot[ref] = ls.b.AllocValueSlot(decl.Type)
}

// resolveInputs decides the source for every declared input port of one
// block: an explicit wire wins over a bus listener, which wins over the
// declared default. It returns the resolved refs plus the slots the block
// reads, in declared port order.
func resolveInputs(ls *lowerState, blockIdx int) (block.Inputs, []ir.ValueSlot, error) {
	blk := ls.p.Blocks[blockIdx]
	bt := ls.n.types[blockIdx]

	in := make(block.Inputs, len(bt.Inputs))
	var reads []ir.ValueSlot
	for _, decl := range bt.Inputs {
		ref := patch.PortRef{Block: blk.ID, Port: decl.Name}
		resolved, err := ls.resolveInput(ref, decl)
		if err != nil {
			return nil, nil, err
		}
		in[decl.Name] = resolved
		if resolved.Slot.IsValid() {
			reads = append(reads, resolved.Slot)
		}
	}
	return in, reads, nil
}

func (ls *lowerState) resolveInput(ref patch.PortRef, decl block.PortDecl) (ir.ValueRef, error) {
	if w, wired := ls.n.wireIn[ref]; wired {
		srcDecl, _ := ls.n.types[ls.n.blockIdx[w.From.Block]].OutputDecl(w.From.Port)
		if srcDecl.Type != decl.Type {
			return ir.ValueRef{}, &LinkError{
				Code: ErrCodeLink, Block: ref.Block, Port: ref.Port,
				Message: fmt.Sprintf("wire %s connects %s to %s", w.ID, srcDecl.Type, decl.Type),
			}
		}
		return ls.slotRead(ls.portSlot[w.From], decl.Type, w.From)
	}

	if l, listened := ls.n.listenIn[ref]; listened {
		busIdx := ls.n.busIdx[l.Bus]
		bus := ls.p.Buses[busIdx]
		if bus.Type != decl.Type {
			return ir.ValueRef{}, &LinkError{
				Code: ErrCodeLink, Block: ref.Block, Port: ref.Port,
				Message: fmt.Sprintf("listener %s connects bus type %s to %s", l.ID, bus.Type, decl.Type),
			}
		}
		return ls.busRead(busIdx, decl.Type, ref)
	}

	v, err := ls.b.MaterializeDefault(decl.Type, decl.Default)
	if err != nil {
		return ir.ValueRef{}, &LinkError{
			Code: ErrCodeLink, Block: ref.Block, Port: ref.Port,
			Message: "default materialization failed", Err: err,
		}
	}
	return v, nil
}

// slotRead wraps a producer slot in a read node of the right world.
func (ls *lowerState) slotRead(slot ir.ValueSlot, t ir.TypeDesc, src patch.PortRef) (ir.ValueRef, error) {
	switch t.World {
	case ir.WorldEvent:
		id := ls.b.EventSlotRead(slot, t)
		return ir.EventRef(id, slot, t), nil
	case ir.WorldField:
		domain, err := ls.fieldDomainOf(src)
		if err != nil {
			return ir.ValueRef{}, err
		}
		id := ls.b.FieldSlotRead(slot, domain, t)
		return ir.FieldRef(id, slot, t), nil
	default:
		id := ls.b.SigSlotRead(slot, t)
		return ir.SigRef(id, slot, t), nil
	}
}

// busRead wraps a bus out slot in a read node of the bus's world.
func (ls *lowerState) busRead(busIdx int, t ir.TypeDesc, at patch.PortRef) (ir.ValueRef, error) {
	slot := ls.busOut[busIdx]
	switch t.World {
	case ir.WorldEvent:
		id := ls.b.EventSlotRead(slot, t)
		return ir.EventRef(id, slot, t), nil
	case ir.WorldField:
		domain := ls.busDomain[busIdx]
		if !domain.IsValid() {
			return ir.ValueRef{}, &LinkError{
				Code: ErrCodeLink, Block: at.Block, Port: at.Port,
				Message: fmt.Sprintf("field bus %s has no resolved domain at this point in the schedule", ls.p.Buses[busIdx].ID),
			}
		}
		id := ls.b.FieldSlotRead(slot, domain, t)
		return ir.FieldRef(id, slot, t), nil
	default:
		id := ls.b.SigSlotRead(slot, t)
		return ir.SigRef(id, slot, t), nil
	}
}

// fieldDomainOf reads the domain off the producer's lowered field output.
// Field values feeding back through a cycle-breaking consumer would need
// the producer's domain before the producer exists; that topology is
// rejected here rather than half-supported.
func (ls *lowerState) fieldDomainOf(src patch.PortRef) (ir.DomainID, error) {
	outs := ls.outputs[ls.n.blockIdx[src.Block]]
	if outs == nil {
		return ir.None, &LinkError{
			Code: ErrCodeLink, Block: src.Block, Port: src.Port,
			Message: "field feedback through a state block is not supported",
		}
	}
	raw, ok := outs[src.Port]
	if !ok || raw.Kind != ir.RefField {
		return ir.None, &LinkError{
			Code: ErrCodeLink, Block: src.Block, Port: src.Port,
			Message: "producer output is not a field",
		}
	}
	node, err := ls.b.FieldNode(ir.FieldExprID(raw.Index))
	if err != nil {
		return ir.None, err
	}
	return node.Domain, nil
}

// transformCosts assigns the fixed per-op adapter cost used by chain
// comparison.
var transformCosts = map[ir.TransformOp]int32{
	ir.TransformCast:      1,
	ir.TransformScaleBias: 1,
	ir.TransformNormalize: 1,
	ir.TransformQuantize:  1,
	ir.TransformMap:       2,
	ir.TransformEase:      2,
	ir.TransformSlew:      3,
}

// lowerTransformChain lowers a publisher's declared transform list. Slew
// is the one stateful op: each slew step claims a persistent cell keyed by
// (publisher id, step position) so its last-output value survives
// hot-swaps.
func lowerTransformChain(b *builder.Builder, pubID string, decls []patch.TransformDecl, t ir.TypeDesc) (ir.TransformID, error) {
	if len(decls) == 0 {
		return ir.None, nil
	}
	chain := ir.TransformChain{Steps: make([]ir.TransformStep, 0, len(decls))}
	for i, d := range decls {
		cost, ok := transformCosts[d.Op]
		if !ok {
			return ir.None, fmt.Errorf("publisher %s: unknown transform op %q", pubID, d.Op)
		}
		step := ir.TransformStep{
			Op:       d.Op,
			FromType: t,
			ToType:   t,
			Cost:     cost,
			Params:   ir.None,
			State:    ir.None,
		}
		if len(d.Params) > 0 {
			c, err := b.AllocConst(d.Params)
			if err != nil {
				return ir.None, fmt.Errorf("publisher %s: transform params: %w", pubID, err)
			}
			step.Params = c
		}
		if d.Op == ir.TransformSlew {
			step.State = b.AllocState(pubID, ir.StateRoleSlew, i, ir.StateF64, 1, ir.None)
		}
		chain.Steps = append(chain.Steps, step)
	}
	return b.AddTransform(chain), nil
}

// lowerBus builds the BusIR for one bus and emits its busEval step. All
// publisher sources precede the bus in the walk, so their slots and
// lowered outputs are available.
func lowerBus(ls *lowerState, busIdx int, node ir.NodeID) error {
	bus := ls.p.Buses[busIdx]
	ls.b.SetOrigin(bus.ID, "out")

	pubs := append([]patch.Publisher(nil), ls.n.pubsByBus[bus.ID]...)
	sort.Slice(pubs, func(a, b int) bool {
		if pubs[a].SortKey != pubs[b].SortKey {
			return pubs[a].SortKey < pubs[b].SortKey
		}
		return pubs[a].ID < pubs[b].ID
	})

	entries := make([]ir.PublisherIR, 0, len(pubs))
	var reads []ir.ValueSlot
	var chainDeps exprDeps
	for _, pub := range pubs {
		srcDecl, _ := ls.n.types[ls.n.blockIdx[pub.From.Block]].OutputDecl(pub.From.Port)
		if len(pub.Transform) == 0 && srcDecl.Type != bus.Type {
			return &LinkError{
				Code: ErrCodeLink, Block: pub.From.Block, Port: pub.From.Port,
				Message: fmt.Sprintf("publisher %s feeds %s into bus of type %s without a transform", pub.ID, srcDecl.Type, bus.Type),
			}
		}
		chain, err := lowerTransformChain(ls.b, pub.ID, pub.Transform, bus.Type)
		if err != nil {
			return &LinkError{Code: ErrCodeLink, Block: pub.From.Block, Port: pub.From.Port, Message: "transform chain", Err: err}
		}
		src := ls.portSlot[pub.From]
		entries = append(entries, ir.PublisherIR{
			PublisherID: pub.ID,
			SortKey:     pub.SortKey,
			Enabled:     pub.Enabled,
			SrcSlot:     src,
			Transform:   chain,
		})
		if pub.Enabled {
			reads = append(reads, src)
			collectTransformDeps(ls.b, chain, &chainDeps)
		}
	}

	defaultVal := ir.ConstID(ir.None)
	switch bus.Silent {
	case ir.SilentDefault:
		c, err := ls.b.AllocConst(bus.Default)
		if err != nil {
			return &LinkError{Code: ErrCodeBus, Block: bus.ID, Message: "bus default", Err: err}
		}
		defaultVal = c
	case ir.SilentConst:
		c, err := ls.b.AllocConst(bus.SilentValue)
		if err != nil {
			return &LinkError{Code: ErrCodeBus, Block: bus.ID, Message: "bus silent value", Err: err}
		}
		defaultVal = c
	}

	outSlot := ls.busOut[busIdx]
	var write ir.SlotWrite
	switch bus.Type.World {
	case ir.WorldEvent:
		id := ls.b.EventBusCombine(int32(busIdx), bus.Type)
		ls.b.RegisterEventSlot(id, outSlot)
		write = ir.SlotWrite{Slot: outSlot, Kind: ir.RefEvent, Index: int32(id)}
	case ir.WorldField:
		domain := ls.fieldBusDomain(busIdx, pubs)
		ls.busDomain[busIdx] = domain
		id := ls.b.FieldBusCombine(int32(busIdx), domain, bus.Type)
		ls.b.RegisterFieldSlot(id, outSlot)
		write = ir.SlotWrite{Slot: outSlot, Kind: ir.RefField, Index: int32(id)}
	default:
		id := ls.b.SigBusCombine(int32(busIdx), bus.Type)
		ls.b.RegisterSigSlot(id, outSlot)
		write = ir.SlotWrite{Slot: outSlot, Kind: ir.RefSig, Index: int32(id)}
	}

	var listenerIDs []string
	for _, l := range ls.p.Listeners {
		if l.Bus == bus.ID {
			listenerIDs = append(listenerIDs, l.ID)
		}
	}
	sort.Strings(listenerIDs)

	ls.buses[busIdx] = ir.BusIR{
		BusID:       bus.ID,
		Name:        bus.Name,
		Type:        bus.Type,
		Combine:     bus.Combine,
		Silent:      bus.Silent,
		DefaultVal:  defaultVal,
		OutSlot:     outSlot,
		Publishers:  entries,
		ListenerIDs: listenerIDs,
	}

	ls.steps = append(ls.steps, ir.StepIR{
		Kind:        ir.StepBusEval,
		Label:       "bus " + bus.ID,
		Node:        node,
		Bus:         int32(busIdx),
		Writes:      []ir.SlotWrite{write},
		Reads:       reads,
		StateReads:  chainDeps.states,
		StateWrites: chainDeps.stateWrites,
		Cache:       ir.CachingIR{Mode: ir.CachePerFrame},
	})
	return nil
}

// fieldBusDomain takes the domain from the first publisher's lowered
// field output. A field bus with no publishers collapses to the unit
// domain; only the silent value ever flows over it.
func (ls *lowerState) fieldBusDomain(busIdx int, pubs []patch.Publisher) ir.DomainID {
	for _, pub := range pubs {
		outs := ls.outputs[ls.n.blockIdx[pub.From.Block]]
		if outs == nil {
			continue
		}
		raw, ok := outs[pub.From.Port]
		if !ok || raw.Kind != ir.RefField {
			continue
		}
		if node, err := ls.b.FieldNode(ir.FieldExprID(raw.Index)); err == nil {
			return node.Domain
		}
	}
	return ls.b.DomainFromN(1)
}
