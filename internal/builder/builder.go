// Package builder provides the IR Builder: the only component that
// mutates the expression tables, const pool, state layout, domains, and
// cameras while a patch is lowered. Block lowering functions receive a
// *Builder and emit table nodes through it; there is no other way to
// create IR, which is what keeps the output closure-free.
package builder

import (
	"errors"
	"fmt"
	"hash/fnv"
	"slices"

	"github.com/strandlab/strand/internal/ir"
)

// Tables is the frozen output of a Builder after Build().
type Tables struct {
	Sig        []ir.SigExpr
	Field      []ir.FieldExpr
	Event      []ir.EventExpr
	Transforms []ir.TransformChain
	Consts     *ir.ConstPool
	Slots      []ir.SlotMetaIR
	Domains    []ir.DomainIR
	Cameras    []ir.CameraIR
	State      ir.StateLayout
	Seeds      []ir.SlotSeedIR
	Probes     []ir.DebugProbeIR
	Meta       ir.MetaIR
}

// Builder accumulates IR tables during lowering. It is not safe for
// concurrent use; compilation is single-threaded by design.
//
// Building guarantee: every id handed out by a Builder method is in range
// for its table at Build() time. The independent validator re-checks this,
// but lowering code may rely on it.
type Builder struct {
	sig        []ir.SigExpr
	field      []ir.FieldExpr
	event      []ir.EventExpr
	transforms []ir.TransformChain
	consts     *ir.ConstPool
	slots      []ir.SlotMetaIR
	domains    []ir.DomainIR
	cameras    []ir.CameraIR
	cells      []ir.StateCellLayout
	seeds      []ir.SlotSeedIR
	probes     []ir.DebugProbeIR

	// slot registration: which slot carries each expression's value
	sigSlot   map[ir.SigExprID]ir.ValueSlot
	fieldSlot map[ir.FieldExprID]ir.ValueSlot
	eventSlot map[ir.EventExprID]ir.ValueSlot

	// per-storage-class offsets for slot addressing
	offsets map[ir.SlotStorage]int32

	// BuilderDebugIndex: origin of every expression and slot
	sigSrc, fieldSrc, eventSrc, slotSrc []ir.SourceRef
	origin                              ir.SourceRef

	// stateKeys maps each handed-out StateID to its (block, role, ordinal)
	// key so a hash collision or double allocation is caught at the source.
	stateKeys map[ir.StateID]string

	warnings []string
	errs     []error
	built    bool
}

// New creates an empty Builder.
func New() *Builder {
	return &Builder{
		consts:    ir.NewConstPool(),
		sigSlot:   make(map[ir.SigExprID]ir.ValueSlot),
		fieldSlot: make(map[ir.FieldExprID]ir.ValueSlot),
		eventSlot: make(map[ir.EventExprID]ir.ValueSlot),
		offsets:   make(map[ir.SlotStorage]int32),
	}
}

// SetOrigin records the (block, port) the subsequent allocations belong
// to. The compiler calls this before every lowering call; everything a
// block emits is traceable back to it through the debug index.
func (b *Builder) SetOrigin(block, port string) {
	b.origin = ir.SourceRef{Block: block, Port: port}
}

// Origin returns the current origin. Block lowering reads it to key
// state cells by the block id being lowered.
func (b *Builder) Origin() ir.SourceRef { return b.origin }

// mutation after Build indicates a compiler bug, never a user error.
func (b *Builder) mustMutable() {
	if b.built {
		panic("builder: mutation after Build()")
	}
}

// --- signal nodes ---

func (b *Builder) addSig(n ir.SigExpr) ir.SigExprID {
	b.mustMutable()
	id := ir.SigExprID(len(b.sig))
	b.sig = append(b.sig, n)
	b.sigSrc = append(b.sigSrc, b.origin)
	return id
}

// SigConst interns value and adds a const signal node.
func (b *Builder) SigConst(value float64, t ir.TypeDesc) (ir.SigExprID, error) {
	c, err := b.consts.Intern(value)
	if err != nil {
		return ir.None, fmt.Errorf("sig const: %w", err)
	}
	return b.addSig(ir.SigExpr{Kind: ir.SigConst, Type: t, Const: c, Slot: ir.None, Transform: ir.None, Bus: ir.None}), nil
}

// SigTime adds a derived-time signal node. Only the compiler's time
// resolution pass calls this; the derived signals are read-only elsewhere.
func (b *Builder) SigTime(role ir.TimeRole, t ir.TypeDesc) ir.SigExprID {
	return b.addSig(ir.SigExpr{Kind: ir.SigTime, Type: t, TimeRole: role, Const: ir.None, Slot: ir.None, Transform: ir.None, Bus: ir.None})
}

// SigSlotRead adds a node reading a slot written upstream.
func (b *Builder) SigSlotRead(slot ir.ValueSlot, t ir.TypeDesc) ir.SigExprID {
	return b.addSig(ir.SigExpr{Kind: ir.SigSlot, Type: t, Slot: slot, Const: ir.None, Transform: ir.None, Bus: ir.None})
}

// SigMap adds a named unary function over one operand.
func (b *Builder) SigMap(fn string, arg ir.SigExprID, t ir.TypeDesc) ir.SigExprID {
	return b.addSig(ir.SigExpr{Kind: ir.SigMap, Type: t, Fn: fn, Args: []ir.SigExprID{arg}, Const: ir.None, Slot: ir.None, Transform: ir.None, Bus: ir.None})
}

// SigZip adds a named binary function over two operands.
func (b *Builder) SigZip(fn string, a, c ir.SigExprID, t ir.TypeDesc) ir.SigExprID {
	return b.addSig(ir.SigExpr{Kind: ir.SigZip, Type: t, Fn: fn, Args: []ir.SigExprID{a, c}, Const: ir.None, Slot: ir.None, Transform: ir.None, Bus: ir.None})
}

// SigSelect adds a selector: args[0] chooses among args[1:].
func (b *Builder) SigSelect(selector ir.SigExprID, choices []ir.SigExprID, t ir.TypeDesc) ir.SigExprID {
	args := append([]ir.SigExprID{selector}, choices...)
	return b.addSig(ir.SigExpr{Kind: ir.SigSelect, Type: t, Args: args, Const: ir.None, Slot: ir.None, Transform: ir.None, Bus: ir.None})
}

// SigTransform applies a transform chain to one operand.
func (b *Builder) SigTransform(chain ir.TransformID, arg ir.SigExprID, t ir.TypeDesc) ir.SigExprID {
	return b.addSig(ir.SigExpr{Kind: ir.SigTransform, Type: t, Args: []ir.SigExprID{arg}, Transform: chain, Const: ir.None, Slot: ir.None, Bus: ir.None})
}

// SigStateRead reads a state cell element at tap offset. State blocks use
// this for their previous-frame outputs, which is what breaks
// combinational cycles.
func (b *Builder) SigStateRead(state ir.StateID, tap int32, t ir.TypeDesc) ir.SigExprID {
	return b.addSig(ir.SigExpr{Kind: ir.SigState, Type: t, State: state, Tap: tap, Const: ir.None, Slot: ir.None, Transform: ir.None, Bus: ir.None})
}

// SigBusCombine adds the combined-value node for a bus.
func (b *Builder) SigBusCombine(busIndex int32, t ir.TypeDesc) ir.SigExprID {
	return b.addSig(ir.SigExpr{Kind: ir.SigBusCombine, Type: t, Bus: busIndex, Const: ir.None, Slot: ir.None, Transform: ir.None})
}

// --- field nodes ---

func (b *Builder) addField(n ir.FieldExpr) ir.FieldExprID {
	b.mustMutable()
	id := ir.FieldExprID(len(b.field))
	b.field = append(b.field, n)
	b.fieldSrc = append(b.fieldSrc, b.origin)
	return id
}

// FieldConst interns value and adds a const field node over domain.
func (b *Builder) FieldConst(value any, domain ir.DomainID, t ir.TypeDesc) (ir.FieldExprID, error) {
	c, err := b.consts.Intern(value)
	if err != nil {
		return ir.None, fmt.Errorf("field const: %w", err)
	}
	return b.addField(ir.FieldExpr{Kind: ir.FieldConst, Type: t, Domain: domain, Const: c, Slot: ir.None, Sig: ir.None, Transform: ir.None, Bus: ir.None}), nil
}

// FieldSlotRead adds a node reading a field slot written upstream.
func (b *Builder) FieldSlotRead(slot ir.ValueSlot, domain ir.DomainID, t ir.TypeDesc) ir.FieldExprID {
	return b.addField(ir.FieldExpr{Kind: ir.FieldSlot, Type: t, Domain: domain, Slot: slot, Const: ir.None, Sig: ir.None, Transform: ir.None, Bus: ir.None})
}

// FieldBroadcastSig broadcasts a signal across a domain.
func (b *Builder) FieldBroadcastSig(sig ir.SigExprID, domain ir.DomainID, t ir.TypeDesc) ir.FieldExprID {
	return b.addField(ir.FieldExpr{Kind: ir.FieldBroadcastSig, Type: t, Domain: domain, Sig: sig, Const: ir.None, Slot: ir.None, Transform: ir.None, Bus: ir.None})
}

// FieldMap adds a named unary function applied per element.
func (b *Builder) FieldMap(fn string, arg ir.FieldExprID, t ir.TypeDesc) ir.FieldExprID {
	src := b.field[arg]
	return b.addField(ir.FieldExpr{Kind: ir.FieldMap, Type: t, Domain: src.Domain, Fn: fn, Args: []ir.FieldExprID{arg}, Const: ir.None, Slot: ir.None, Sig: ir.None, Transform: ir.None, Bus: ir.None})
}

// FieldZip adds a named binary function applied per element pair.
func (b *Builder) FieldZip(fn string, x, y ir.FieldExprID, t ir.TypeDesc) ir.FieldExprID {
	src := b.field[x]
	return b.addField(ir.FieldExpr{Kind: ir.FieldZip, Type: t, Domain: src.Domain, Fn: fn, Args: []ir.FieldExprID{x, y}, Const: ir.None, Slot: ir.None, Sig: ir.None, Transform: ir.None, Bus: ir.None})
}

// FieldMapIndexed adds fn(elem, index, n) applied per element.
func (b *Builder) FieldMapIndexed(fn string, arg ir.FieldExprID, t ir.TypeDesc) ir.FieldExprID {
	src := b.field[arg]
	return b.addField(ir.FieldExpr{Kind: ir.FieldMapIndexed, Type: t, Domain: src.Domain, Fn: fn, Args: []ir.FieldExprID{arg}, Const: ir.None, Slot: ir.None, Sig: ir.None, Transform: ir.None, Bus: ir.None})
}

// FieldZipSig adds fn(elem, sig) applied per element.
func (b *Builder) FieldZipSig(fn string, arg ir.FieldExprID, sig ir.SigExprID, t ir.TypeDesc) ir.FieldExprID {
	src := b.field[arg]
	return b.addField(ir.FieldExpr{Kind: ir.FieldZipSig, Type: t, Domain: src.Domain, Fn: fn, Args: []ir.FieldExprID{arg}, Sig: sig, Const: ir.None, Slot: ir.None, Transform: ir.None, Bus: ir.None})
}

// FieldTransform applies a transform chain per element.
func (b *Builder) FieldTransform(chain ir.TransformID, arg ir.FieldExprID, t ir.TypeDesc) ir.FieldExprID {
	src := b.field[arg]
	return b.addField(ir.FieldExpr{Kind: ir.FieldTransform, Type: t, Domain: src.Domain, Args: []ir.FieldExprID{arg}, Transform: chain, Const: ir.None, Slot: ir.None, Sig: ir.None, Bus: ir.None})
}

// FieldBusCombine adds the combined-value node for a field bus.
func (b *Builder) FieldBusCombine(busIndex int32, domain ir.DomainID, t ir.TypeDesc) ir.FieldExprID {
	return b.addField(ir.FieldExpr{Kind: ir.FieldBusCombine, Type: t, Domain: domain, Bus: busIndex, Const: ir.None, Slot: ir.None, Sig: ir.None, Transform: ir.None})
}

// --- event nodes ---

func (b *Builder) addEvent(n ir.EventExpr) ir.EventExprID {
	b.mustMutable()
	id := ir.EventExprID(len(b.event))
	b.event = append(b.event, n)
	b.eventSrc = append(b.eventSrc, b.origin)
	return id
}

// EventSlotRead adds a node reading an event slot written upstream.
func (b *Builder) EventSlotRead(slot ir.ValueSlot, t ir.TypeDesc) ir.EventExprID {
	return b.addEvent(ir.EventExpr{Kind: ir.EventSlot, Type: t, Slot: slot, Sig: ir.None, Bus: ir.None})
}

// EventWrap adds an occurrence whenever the given phase signal wraps.
func (b *Builder) EventWrap(sig ir.SigExprID, t ir.TypeDesc) ir.EventExprID {
	return b.addEvent(ir.EventExpr{Kind: ir.EventWrap, Type: t, Sig: sig, Slot: ir.None, Bus: ir.None})
}

// EventFilter adds a named predicate over one event stream.
func (b *Builder) EventFilter(fn string, arg ir.EventExprID, t ir.TypeDesc) ir.EventExprID {
	return b.addEvent(ir.EventExpr{Kind: ir.EventFilter, Type: t, Fn: fn, Args: []ir.EventExprID{arg}, Sig: ir.None, Slot: ir.None, Bus: ir.None})
}

// EventMerge adds an ordered merge of several event streams.
func (b *Builder) EventMerge(args []ir.EventExprID, t ir.TypeDesc) ir.EventExprID {
	return b.addEvent(ir.EventExpr{Kind: ir.EventMerge, Type: t, Args: args, Sig: ir.None, Slot: ir.None, Bus: ir.None})
}

// EventBusCombine adds the combined-value node for an event bus.
func (b *Builder) EventBusCombine(busIndex int32, t ir.TypeDesc) ir.EventExprID {
	return b.addEvent(ir.EventExpr{Kind: ir.EventBusCombine, Type: t, Bus: busIndex, Sig: ir.None, Slot: ir.None})
}

// --- slots, consts, transforms, domains, cameras, state ---

// AllocValueSlot allocates a slot for values of type t. The slot's
// storage class and offset are fixed here; exactly one producer writes it
// per frame for the lifetime of the compiled program.
func (b *Builder) AllocValueSlot(t ir.TypeDesc) ir.ValueSlot {
	b.mustMutable()
	storage := ir.StorageForType(t)
	slot := ir.ValueSlot(len(b.slots))
	b.slots = append(b.slots, ir.SlotMetaIR{Type: t, Storage: storage, Offset: b.offsets[storage]})
	b.offsets[storage]++
	b.slotSrc = append(b.slotSrc, b.origin)
	return slot
}

// RegisterSigSlot declares that slot carries the value of sig.
func (b *Builder) RegisterSigSlot(id ir.SigExprID, slot ir.ValueSlot) {
	b.mustMutable()
	b.sigSlot[id] = slot
}

// RegisterFieldSlot declares that slot carries the value of field.
func (b *Builder) RegisterFieldSlot(id ir.FieldExprID, slot ir.ValueSlot) {
	b.mustMutable()
	b.fieldSlot[id] = slot
}

// RegisterEventSlot declares that slot carries the value of event.
func (b *Builder) RegisterEventSlot(id ir.EventExprID, slot ir.ValueSlot) {
	b.mustMutable()
	b.eventSlot[id] = slot
}

// SlotOfSig returns the registered slot for sig, or None.
func (b *Builder) SlotOfSig(id ir.SigExprID) ir.ValueSlot {
	if s, ok := b.sigSlot[id]; ok {
		return s
	}
	return ir.None
}

// SlotOfField returns the registered slot for field, or None.
func (b *Builder) SlotOfField(id ir.FieldExprID) ir.ValueSlot {
	if s, ok := b.fieldSlot[id]; ok {
		return s
	}
	return ir.None
}

// SlotOfEvent returns the registered slot for event, or None.
func (b *Builder) SlotOfEvent(id ir.EventExprID) ir.ValueSlot {
	if s, ok := b.eventSlot[id]; ok {
		return s
	}
	return ir.None
}

// AllocConst interns a value into the const pool. Identical JSON-equal
// values share one id.
func (b *Builder) AllocConst(value any) (ir.ConstID, error) {
	b.mustMutable()
	return b.consts.Intern(value)
}

// SeedSlot arranges for slot to be initialized from the const pool at
// program load. Seeded slots must have no producer step.
func (b *Builder) SeedSlot(slot ir.ValueSlot, c ir.ConstID) {
	b.mustMutable()
	b.seeds = append(b.seeds, ir.SlotSeedIR{Slot: slot, Const: c})
}

// AddTransform registers a transform chain and returns its id.
func (b *Builder) AddTransform(chain ir.TransformChain) ir.TransformID {
	b.mustMutable()
	id := ir.TransformID(len(b.transforms))
	b.transforms = append(b.transforms, chain)
	return id
}

// DomainFromN returns the domain of the given element count, reusing an
// existing entry when one matches.
func (b *Builder) DomainFromN(count int32) ir.DomainID {
	b.mustMutable()
	for i, d := range b.domains {
		if d.Count == count {
			return ir.DomainID(i)
		}
	}
	id := ir.DomainID(len(b.domains))
	b.domains = append(b.domains, ir.DomainIR{Count: count})
	return id
}

// AddCamera registers a camera declaration.
func (b *Builder) AddCamera(c ir.CameraIR) ir.CameraID {
	b.mustMutable()
	id := ir.CameraID(len(b.cameras))
	b.cameras = append(b.cameras, c)
	return id
}

// AllocState claims one persistent cell. The StateID is derived from the
// stable (blockID, role, ordinal) key rather than allocation order, so a
// block keeps its state identity across recompiles and hot-swap migration
// can match cells by id. Ordinal distinguishes multiple cells of the same
// role on one block.
func (b *Builder) AllocState(blockID string, role ir.StateRole, ordinal int, storage ir.StateStorage, size int32, initial ir.ConstID) ir.StateID {
	b.mustMutable()
	id := stableStateID(blockID, role, ordinal)
	key := fmt.Sprintf("%s/%s/%d", blockID, role, ordinal)
	if prev, taken := b.stateKeys[id]; taken {
		if prev == key {
			b.errs = append(b.errs, fmt.Errorf("state cell %d: %s allocated twice", id, key))
		} else {
			b.errs = append(b.errs, fmt.Errorf("state cell %d: id collision between %s and %s", id, prev, key))
		}
	}
	if b.stateKeys == nil {
		b.stateKeys = make(map[ir.StateID]string)
	}
	b.stateKeys[id] = key
	b.cells = append(b.cells, ir.StateCellLayout{
		StateID:      id,
		Storage:      storage,
		Size:         size,
		Node:         ir.None, // filled by the compiler once node ids exist
		Role:         role,
		InitialConst: initial,
	})
	return id
}

// BindStateNode records which dependency-graph node owns the cell, for
// diagnostics.
func (b *Builder) BindStateNode(id ir.StateID, node ir.NodeID) {
	b.mustMutable()
	for i := range b.cells {
		if b.cells[i].StateID == id {
			b.cells[i].Node = node
		}
	}
}

// stableStateID hashes the stable state key to a positive int31. FNV-1a
// keeps ids stable across compiles of edited patches; the id space is
// sparse by construction.
func stableStateID(blockID string, role ir.StateRole, ordinal int) ir.StateID {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s\x00%s\x00%d", blockID, role, ordinal)
	return ir.StateID(int32(h.Sum32() & 0x7fffffff))
}

// RegisterDebugProbe registers a probe tapping one slot.
func (b *Builder) RegisterDebugProbe(spec ir.DebugProbeIR) {
	b.mustMutable()
	b.probes = append(b.probes, spec)
}

// Err returns the allocation defects recorded so far, joined. The
// compiler checks it before Build; a non-nil result fails the compile.
func (b *Builder) Err() error {
	return errors.Join(b.errs...)
}

// Warn records a compile warning surfaced in CompiledProgram.Meta.
func (b *Builder) Warn(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

// Consts exposes the pool read-only (for link resolution and tests).
func (b *Builder) Consts() *ir.ConstPool { return b.consts }

// SlotMeta returns the metadata of an allocated slot.
func (b *Builder) SlotMeta(slot ir.ValueSlot) (ir.SlotMetaIR, error) {
	if !slot.IsValid() || int(slot) >= len(b.slots) {
		return ir.SlotMetaIR{}, fmt.Errorf("slot %d out of range [0,%d)", slot, len(b.slots))
	}
	return b.slots[slot], nil
}

// SigNode returns a copy of the signal node at id.
func (b *Builder) SigNode(id ir.SigExprID) (ir.SigExpr, error) {
	if !id.IsValid() || int(id) >= len(b.sig) {
		return ir.SigExpr{}, fmt.Errorf("sig expr %d out of range [0,%d)", id, len(b.sig))
	}
	return b.sig[id], nil
}

// FieldNode returns a copy of the field node at id.
func (b *Builder) FieldNode(id ir.FieldExprID) (ir.FieldExpr, error) {
	if !id.IsValid() || int(id) >= len(b.field) {
		return ir.FieldExpr{}, fmt.Errorf("field expr %d out of range [0,%d)", id, len(b.field))
	}
	return b.field[id], nil
}

// EventNode returns a copy of the event node at id.
func (b *Builder) EventNode(id ir.EventExprID) (ir.EventExpr, error) {
	if !id.IsValid() || int(id) >= len(b.event) {
		return ir.EventExpr{}, fmt.Errorf("event expr %d out of range [0,%d)", id, len(b.event))
	}
	return b.event[id], nil
}

// TransformNode returns a copy of the transform chain at id.
func (b *Builder) TransformNode(id ir.TransformID) (ir.TransformChain, error) {
	if !id.IsValid() || int(id) >= len(b.transforms) {
		return ir.TransformChain{}, fmt.Errorf("transform chain %d out of range [0,%d)", id, len(b.transforms))
	}
	return b.transforms[id], nil
}

// SlotCount returns the number of slots allocated so far.
func (b *Builder) SlotCount() int { return len(b.slots) }

// Build freezes the builder and returns the completed tables. State cells
// are laid out in StateID ascending order so the layout is independent of
// allocation order.
func (b *Builder) Build() Tables {
	b.mustMutable()
	b.built = true

	cells := slices.Clone(b.cells)
	slices.SortFunc(cells, func(a, c ir.StateCellLayout) int {
		return int(a.StateID - c.StateID)
	})

	var f64Len, f32Len, i32Len int32
	for i := range cells {
		switch cells[i].Storage {
		case ir.StateF64:
			cells[i].Offset = f64Len
			f64Len += cells[i].Size
		case ir.StateF32:
			cells[i].Offset = f32Len
			f32Len += cells[i].Size
		case ir.StateI32:
			cells[i].Offset = i32Len
			i32Len += cells[i].Size
		}
	}

	return Tables{
		Sig:        b.sig,
		Field:      b.field,
		Event:      b.event,
		Transforms: b.transforms,
		Consts:     b.consts,
		Slots:      b.slots,
		Domains:    b.domains,
		Cameras:    b.cameras,
		State: ir.StateLayout{
			Cells:  cells,
			F64Len: f64Len,
			F32Len: f32Len,
			I32Len: i32Len,
		},
		Seeds:  b.seeds,
		Probes: b.probes,
		Meta: ir.MetaIR{
			SigSource:   b.sigSrc,
			FieldSource: b.fieldSrc,
			EventSource: b.eventSrc,
			SlotSource:  b.slotSrc,
			Warnings:    b.warnings,
		},
	}
}
