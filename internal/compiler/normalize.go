package compiler

import (
	"errors"
	"fmt"

	"github.com/strandlab/strand/internal/block"
	"github.com/strandlab/strand/internal/ir"
	"github.com/strandlab/strand/internal/patch"
)

// normalized is the checked view of a patch the later passes work from.
// Every reference in it has been verified to exist, so the passes index
// without re-checking.
type normalized struct {
	blockIdx map[string]int // block id -> index into patch.Blocks
	busIdx   map[string]int // bus id -> index into patch.Buses
	types    []*block.Type  // per patch.Blocks index

	// wireIn maps each wired input port to its single producing wire.
	wireIn map[patch.PortRef]patch.Wire
	// listenIn maps each listened input port to its single listener.
	listenIn map[patch.PortRef]patch.Listener
	// pubsByBus groups publishers by bus id, in declaration order.
	pubsByBus map[string][]patch.Publisher

	warnings []string
}

// normalize checks the structural shape of the patch against the registry
// and builds the lookup indexes. All structural problems are collected and
// reported together; a non-nil error aborts the compile.
func normalize(p *patch.Patch, reg *block.Registry) (*normalized, error) {
	n := &normalized{
		blockIdx:  make(map[string]int, len(p.Blocks)),
		busIdx:    make(map[string]int, len(p.Buses)),
		types:     make([]*block.Type, len(p.Blocks)),
		wireIn:    make(map[patch.PortRef]patch.Wire),
		listenIn:  make(map[patch.PortRef]patch.Listener),
		pubsByBus: make(map[string][]patch.Publisher),
	}
	var errs []error

	for i, b := range p.Blocks {
		if _, dup := n.blockIdx[b.ID]; dup {
			errs = append(errs, &StructuralError{
				Code: ErrCodeDuplicateID, Element: b.ID,
				Message: "duplicate block id",
			})
			continue
		}
		n.blockIdx[b.ID] = i
		bt, ok := reg.GetBlockType(b.Type)
		if !ok {
			errs = append(errs, &StructuralError{
				Code: ErrCodeUnknownBlockType, Element: b.ID, Missing: b.Type,
				Message: "unknown block type",
			})
			continue
		}
		n.types[i] = bt
	}

	for i, bus := range p.Buses {
		if _, dup := n.busIdx[bus.ID]; dup {
			errs = append(errs, &StructuralError{
				Code: ErrCodeDuplicateID, Element: bus.ID,
				Message: "duplicate bus id",
			})
			continue
		}
		n.busIdx[bus.ID] = i
		if err := checkBusDecl(bus); err != nil {
			errs = append(errs, err)
		}
	}

	seenWires := make(map[string]bool, len(p.Wires))
	for _, w := range p.Wires {
		if seenWires[w.ID] {
			errs = append(errs, &StructuralError{
				Code: ErrCodeDuplicateID, Element: w.ID,
				Message: "duplicate wire id",
			})
			continue
		}
		seenWires[w.ID] = true

		ok := true
		if err := n.checkOutputPort(w.ID, w.From); err != nil {
			errs = append(errs, err)
			ok = false
		}
		if err := n.checkInputPort(w.ID, w.To); err != nil {
			errs = append(errs, err)
			ok = false
		}
		if !ok {
			continue
		}
		if prev, taken := n.wireIn[w.To]; taken {
			errs = append(errs, &StructuralError{
				Code: ErrCodeMultipleProducers, Element: w.ID,
				Message: fmt.Sprintf("input %s already driven by wire %s", w.To, prev.ID),
			})
			continue
		}
		n.wireIn[w.To] = w
	}

	seenPubs := make(map[string]bool, len(p.Publishers))
	for _, pub := range p.Publishers {
		if seenPubs[pub.ID] {
			errs = append(errs, &StructuralError{
				Code: ErrCodeDuplicateID, Element: pub.ID,
				Message: "duplicate publisher id",
			})
			continue
		}
		seenPubs[pub.ID] = true

		ok := true
		if _, exists := n.busIdx[pub.Bus]; !exists {
			errs = append(errs, &StructuralError{
				Code: ErrCodeDanglingEndpoint, Element: pub.ID, Missing: pub.Bus,
				Message: "publisher references unknown bus",
			})
			ok = false
		}
		if err := n.checkOutputPort(pub.ID, pub.From); err != nil {
			errs = append(errs, err)
			ok = false
		}
		if ok {
			n.pubsByBus[pub.Bus] = append(n.pubsByBus[pub.Bus], pub)
		}
	}

	seenListeners := make(map[string]bool, len(p.Listeners))
	for _, l := range p.Listeners {
		if seenListeners[l.ID] {
			errs = append(errs, &StructuralError{
				Code: ErrCodeDuplicateID, Element: l.ID,
				Message: "duplicate listener id",
			})
			continue
		}
		seenListeners[l.ID] = true

		ok := true
		if _, exists := n.busIdx[l.Bus]; !exists {
			errs = append(errs, &StructuralError{
				Code: ErrCodeDanglingEndpoint, Element: l.ID, Missing: l.Bus,
				Message: "listener references unknown bus",
			})
			ok = false
		}
		if err := n.checkInputPort(l.ID, l.To); err != nil {
			errs = append(errs, err)
			ok = false
		}
		if !ok {
			continue
		}
		if prev, taken := n.listenIn[l.To]; taken {
			errs = append(errs, &StructuralError{
				Code: ErrCodeMultipleProducers, Element: l.ID,
				Message: fmt.Sprintf("input %s already listened by %s", l.To, prev.ID),
			})
			continue
		}
		n.listenIn[l.To] = l
	}

	// Wires shadow listeners on the same port. Legal, but almost always an
	// editor leftover, so surface it.
	for ref := range n.listenIn {
		if w, wired := n.wireIn[ref]; wired {
			n.warnings = append(n.warnings, fmt.Sprintf(
				"input %s: wire %s shadows bus listener %s", ref, w.ID, n.listenIn[ref].ID))
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return n, nil
}

func (n *normalized) checkOutputPort(element string, ref patch.PortRef) error {
	idx, ok := n.blockIdx[ref.Block]
	if !ok {
		return &StructuralError{
			Code: ErrCodeDanglingConnection, Element: element, Missing: ref.Block,
			Message: "source block does not exist",
		}
	}
	bt := n.types[idx]
	if bt == nil {
		// Unknown block type was already reported for the block itself.
		return nil
	}
	if _, ok := bt.OutputDecl(ref.Port); !ok {
		return &StructuralError{
			Code: ErrCodeUnknownPort, Element: element, Missing: ref.String(),
			Message: fmt.Sprintf("block type %q has no output port %q", bt.Name, ref.Port),
		}
	}
	return nil
}

func (n *normalized) checkInputPort(element string, ref patch.PortRef) error {
	idx, ok := n.blockIdx[ref.Block]
	if !ok {
		return &StructuralError{
			Code: ErrCodeDanglingConnection, Element: element, Missing: ref.Block,
			Message: "target block does not exist",
		}
	}
	bt := n.types[idx]
	if bt == nil {
		return nil
	}
	if _, ok := bt.InputDecl(ref.Port); !ok {
		return &StructuralError{
			Code: ErrCodeUnknownPort, Element: element, Missing: ref.String(),
			Message: fmt.Sprintf("block type %q has no input port %q", bt.Name, ref.Port),
		}
	}
	return nil
}

func checkBusDecl(bus patch.BusDecl) error {
	if !bus.Type.BusEligible {
		return &StructuralError{
			Code: ErrCodeBus, Element: bus.ID,
			Message: fmt.Sprintf("type %s cannot flow over a bus", bus.Type),
		}
	}
	modes, ok := ir.ValidCombineModes[bus.Type.World]
	if !ok || !modes[bus.Combine] {
		return &StructuralError{
			Code: ErrCodeBus, Element: bus.ID,
			Message: fmt.Sprintf("combine mode %q is not valid for world %q", bus.Combine, bus.Type.World),
		}
	}
	switch bus.Silent {
	case ir.SilentZero:
	case ir.SilentDefault:
		if bus.Default == nil {
			return &StructuralError{
				Code: ErrCodeBus, Element: bus.ID,
				Message: "silent mode \"default\" requires a bus default value",
			}
		}
	case ir.SilentConst:
		if bus.SilentValue == nil {
			return &StructuralError{
				Code: ErrCodeBus, Element: bus.ID,
				Message: "silent mode \"const\" requires an explicit silent value",
			}
		}
	default:
		return &StructuralError{
			Code: ErrCodeBus, Element: bus.ID,
			Message: fmt.Sprintf("unknown silent mode %q", bus.Silent),
		}
	}
	return nil
}
