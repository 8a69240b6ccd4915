// Package validate is the independent structural checker for compiled
// programs. It trusts nothing the compiler produced: every cross-table
// reference is bounds-checked, expression graphs are checked for cycles,
// and cheap type-consistency rules are re-verified.
//
// The validator never halts on the first finding. It collects everything
// wrong with a program so a broken compile surfaces all at once, the same
// way a patch's structural errors do.
package validate

import (
	"errors"
	"fmt"

	"github.com/strandlab/strand/internal/ir"
)

// Finding codes.
const (
	CodeInvalidSigExprRef   = "InvalidSigExprRef"
	CodeInvalidFieldExprRef = "InvalidFieldExprRef"
	CodeInvalidEventExprRef = "InvalidEventExprRef"
	CodeInvalidConstRef     = "InvalidConstRef"
	CodeInvalidSlotRef      = "InvalidSlotRef"
	CodeInvalidTransformRef = "InvalidTransformRef"
	CodeInvalidBusRef       = "InvalidBusRef"
	CodeInvalidDomainRef    = "InvalidDomainRef"
	CodeInvalidStateRef     = "InvalidStateRef"
	CodeCircularReference   = "CircularReference"
	CodeTypeMismatch        = "TypeMismatch"
)

// IRValidationError is one finding: what rule broke and where in the
// program it broke. Path is a table locator like "sig[3].args[1]".
type IRValidationError struct {
	Code    string `json:"code"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *IRValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Path, e.Message)
}

// Program checks a compiled program and returns all findings joined, or
// nil when the program is structurally sound.
func Program(p *ir.CompiledProgram) error {
	findings := Check(p)
	if len(findings) == 0 {
		return nil
	}
	errs := make([]error, len(findings))
	for i, f := range findings {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Check runs every rule and returns the findings in table order.
func Check(p *ir.CompiledProgram) []*IRValidationError {
	c := &checker{p: p}
	c.checkSigTable()
	c.checkFieldTable()
	c.checkEventTable()
	c.checkTransforms()
	c.checkBuses()
	c.checkSlots()
	c.checkState()
	c.checkSeeds()
	c.checkSchedule()
	c.checkOutputs()
	c.checkProbes()
	c.checkSigCycles()
	c.checkFieldCycles()
	return c.findings
}

type checker struct {
	p        *ir.CompiledProgram
	findings []*IRValidationError
}

func (c *checker) report(code, path, format string, args ...any) {
	c.findings = append(c.findings, &IRValidationError{
		Code: code, Path: path, Message: fmt.Sprintf(format, args...),
	})
}

func (c *checker) sigOK(id ir.SigExprID) bool {
	return id.IsValid() && int(id) < len(c.p.Sig)
}
func (c *checker) fieldOK(id ir.FieldExprID) bool {
	return id.IsValid() && int(id) < len(c.p.Field)
}
func (c *checker) eventOK(id ir.EventExprID) bool {
	return id.IsValid() && int(id) < len(c.p.Event)
}
func (c *checker) constOK(id ir.ConstID) bool {
	return id.IsValid() && c.p.Consts != nil && int(id) < len(c.p.Consts.Entries)
}
func (c *checker) slotOK(s ir.ValueSlot) bool {
	return s.IsValid() && int(s) < len(c.p.Slots)
}
func (c *checker) transformOK(id ir.TransformID) bool {
	return id.IsValid() && int(id) < len(c.p.Transforms)
}
func (c *checker) busOK(idx int32) bool {
	return idx >= 0 && int(idx) < len(c.p.Buses)
}
func (c *checker) domainOK(id ir.DomainID) bool {
	return id.IsValid() && int(id) < len(c.p.Domains)
}
func (c *checker) stateOK(id ir.StateID) bool {
	_, ok := c.p.State.CellByID(id)
	return ok
}

func (c *checker) checkSigTable() {
	for i, n := range c.p.Sig {
		path := fmt.Sprintf("sig[%d]", i)
		switch n.Kind {
		case ir.SigConst:
			if !c.constOK(n.Const) {
				c.report(CodeInvalidConstRef, path, "const %d out of range", n.Const)
			}
		case ir.SigTime:
			// TimeRole checked against the time model in checkSchedule via
			// the timeDerive step; nothing table-local to verify.
		case ir.SigSlot:
			if !c.slotOK(n.Slot) {
				c.report(CodeInvalidSlotRef, path, "slot %d out of range", n.Slot)
			}
		case ir.SigState:
			if !c.stateOK(n.State) {
				c.report(CodeInvalidStateRef, path, "state cell %d not in layout", n.State)
			}
		case ir.SigMap:
			c.checkSigArgs(path, n.Args, 1)
		case ir.SigZip:
			c.checkSigArgs(path, n.Args, 2)
		case ir.SigSelect:
			if len(n.Args) < 2 {
				c.report(CodeInvalidSigExprRef, path, "select needs a selector and at least one choice")
			}
			c.checkSigArgs(path, n.Args, len(n.Args))
		case ir.SigTransform:
			c.checkSigArgs(path, n.Args, 1)
			if !c.transformOK(n.Transform) {
				c.report(CodeInvalidTransformRef, path, "transform %d out of range", n.Transform)
			}
		case ir.SigBusCombine:
			if !c.busOK(n.Bus) {
				c.report(CodeInvalidBusRef, path, "bus %d out of range", n.Bus)
			}
		default:
			c.report(CodeInvalidSigExprRef, path, "unknown kind %q", n.Kind)
		}
	}
}

func (c *checker) checkSigArgs(path string, args []ir.SigExprID, want int) {
	if len(args) != want {
		c.report(CodeInvalidSigExprRef, path, "want %d args, have %d", want, len(args))
	}
	for j, a := range args {
		if !c.sigOK(a) {
			c.report(CodeInvalidSigExprRef, fmt.Sprintf("%s.args[%d]", path, j), "sig expr %d out of range", a)
		}
	}
}

func (c *checker) checkFieldTable() {
	for i, n := range c.p.Field {
		path := fmt.Sprintf("field[%d]", i)
		if !c.domainOK(n.Domain) {
			c.report(CodeInvalidDomainRef, path, "domain %d out of range", n.Domain)
		}
		switch n.Kind {
		case ir.FieldConst:
			if !c.constOK(n.Const) {
				c.report(CodeInvalidConstRef, path, "const %d out of range", n.Const)
			}
		case ir.FieldSlot:
			if !c.slotOK(n.Slot) {
				c.report(CodeInvalidSlotRef, path, "slot %d out of range", n.Slot)
			}
		case ir.FieldBroadcastSig, ir.FieldZipSig:
			if !c.sigOK(n.Sig) {
				c.report(CodeInvalidSigExprRef, path, "sig expr %d out of range", n.Sig)
			}
			if n.Kind == ir.FieldZipSig {
				c.checkFieldArgs(path, n.Args, 1)
			}
		case ir.FieldMap, ir.FieldMapIndexed:
			c.checkFieldArgs(path, n.Args, 1)
		case ir.FieldZip:
			c.checkFieldArgs(path, n.Args, 2)
		case ir.FieldSelect:
			if len(n.Args) < 2 {
				c.report(CodeInvalidFieldExprRef, path, "select needs a selector and at least one choice")
			}
			c.checkFieldArgs(path, n.Args, len(n.Args))
		case ir.FieldTransform:
			c.checkFieldArgs(path, n.Args, 1)
			if !c.transformOK(n.Transform) {
				c.report(CodeInvalidTransformRef, path, "transform %d out of range", n.Transform)
			}
		case ir.FieldBusCombine:
			if !c.busOK(n.Bus) {
				c.report(CodeInvalidBusRef, path, "bus %d out of range", n.Bus)
			}
		default:
			c.report(CodeInvalidFieldExprRef, path, "unknown kind %q", n.Kind)
		}
	}
}

func (c *checker) checkFieldArgs(path string, args []ir.FieldExprID, want int) {
	if len(args) != want {
		c.report(CodeInvalidFieldExprRef, path, "want %d args, have %d", want, len(args))
	}
	for j, a := range args {
		if !c.fieldOK(a) {
			c.report(CodeInvalidFieldExprRef, fmt.Sprintf("%s.args[%d]", path, j), "field expr %d out of range", a)
		}
	}
}

func (c *checker) checkEventTable() {
	for i, n := range c.p.Event {
		path := fmt.Sprintf("event[%d]", i)
		switch n.Kind {
		case ir.EventSlot:
			if !c.slotOK(n.Slot) {
				c.report(CodeInvalidSlotRef, path, "slot %d out of range", n.Slot)
			}
		case ir.EventWrap:
			if !c.sigOK(n.Sig) {
				c.report(CodeInvalidSigExprRef, path, "sig expr %d out of range", n.Sig)
			}
		case ir.EventFilter:
			c.checkEventArgs(path, n.Args, 1)
		case ir.EventMerge:
			if len(n.Args) == 0 {
				c.report(CodeInvalidEventExprRef, path, "merge needs at least one stream")
			}
			c.checkEventArgs(path, n.Args, len(n.Args))
		case ir.EventBusCombine:
			if !c.busOK(n.Bus) {
				c.report(CodeInvalidBusRef, path, "bus %d out of range", n.Bus)
			}
		default:
			c.report(CodeInvalidEventExprRef, path, "unknown kind %q", n.Kind)
		}
	}
}

func (c *checker) checkEventArgs(path string, args []ir.EventExprID, want int) {
	if len(args) != want {
		c.report(CodeInvalidEventExprRef, path, "want %d args, have %d", want, len(args))
	}
	for j, a := range args {
		if !c.eventOK(a) {
			c.report(CodeInvalidEventExprRef, fmt.Sprintf("%s.args[%d]", path, j), "event expr %d out of range", a)
		}
	}
}

func (c *checker) checkTransforms() {
	for i, chain := range c.p.Transforms {
		for j, step := range chain.Steps {
			path := fmt.Sprintf("transforms[%d].steps[%d]", i, j)
			if !ir.ValidTransformOps[step.Op] {
				c.report(CodeInvalidTransformRef, path, "unknown op %q", step.Op)
			}
			if step.Params != ir.None && !c.constOK(step.Params) {
				c.report(CodeInvalidConstRef, path, "params const %d out of range", step.Params)
			}
			if step.State != ir.None && !c.stateOK(step.State) {
				c.report(CodeInvalidStateRef, path, "state cell %d not in layout", step.State)
			}
			if j > 0 && chain.Steps[j-1].ToType != step.FromType {
				c.report(CodeTypeMismatch, path, "chain discontinuity: %s then %s", chain.Steps[j-1].ToType, step.FromType)
			}
		}
	}
}

func (c *checker) checkBuses() {
	for i, bus := range c.p.Buses {
		path := fmt.Sprintf("buses[%d]", i)
		if modes, ok := ir.ValidCombineModes[bus.Type.World]; !ok || !modes[bus.Combine] {
			c.report(CodeTypeMismatch, path, "combine %q invalid for world %q", bus.Combine, bus.Type.World)
		}
		if !c.slotOK(bus.OutSlot) {
			c.report(CodeInvalidSlotRef, path, "out slot %d out of range", bus.OutSlot)
		}
		if bus.Silent != ir.SilentZero && !c.constOK(bus.DefaultVal) {
			c.report(CodeInvalidConstRef, path, "silent mode %q needs a default const", bus.Silent)
		}
		for j, pub := range bus.Publishers {
			ppath := fmt.Sprintf("%s.publishers[%d]", path, j)
			if !c.slotOK(pub.SrcSlot) {
				c.report(CodeInvalidSlotRef, ppath, "src slot %d out of range", pub.SrcSlot)
			}
			if pub.Transform != ir.None && !c.transformOK(pub.Transform) {
				c.report(CodeInvalidTransformRef, ppath, "transform %d out of range", pub.Transform)
			}
			if j > 0 {
				prev := bus.Publishers[j-1]
				if prev.SortKey > pub.SortKey || (prev.SortKey == pub.SortKey && prev.PublisherID >= pub.PublisherID) {
					c.report(CodeInvalidBusRef, ppath, "publisher list is not in (sort_key, publisher_id) order")
				}
			}
		}
	}
}

func (c *checker) checkSlots() {
	for i, s := range c.p.Slots {
		path := fmt.Sprintf("slots[%d]", i)
		switch s.Storage {
		case ir.SlotF64, ir.SlotF32, ir.SlotI32, ir.SlotU32, ir.SlotObj:
		default:
			c.report(CodeInvalidSlotRef, path, "unknown storage %q", s.Storage)
		}
		if s.Offset < 0 {
			c.report(CodeInvalidSlotRef, path, "negative offset %d", s.Offset)
		}
	}
}

func (c *checker) checkState() {
	for i, cell := range c.p.State.Cells {
		path := fmt.Sprintf("state.cells[%d]", i)
		if cell.Size <= 0 {
			c.report(CodeInvalidStateRef, path, "cell size %d must be positive", cell.Size)
		}
		if cell.InitialConst != ir.None && !c.constOK(cell.InitialConst) {
			c.report(CodeInvalidConstRef, path, "initial const %d out of range", cell.InitialConst)
		}
		if i > 0 && c.p.State.Cells[i-1].StateID >= cell.StateID {
			c.report(CodeInvalidStateRef, path, "cells are not in StateID order")
		}
	}
}

func (c *checker) checkSeeds() {
	for i, seed := range c.p.Seeds {
		path := fmt.Sprintf("seeds[%d]", i)
		if !c.slotOK(seed.Slot) {
			c.report(CodeInvalidSlotRef, path, "slot %d out of range", seed.Slot)
		}
		if !c.constOK(seed.Const) {
			c.report(CodeInvalidConstRef, path, "const %d out of range", seed.Const)
		}
	}
}

func (c *checker) checkSchedule() {
	for i, step := range c.p.Schedule.Steps {
		path := fmt.Sprintf("schedule.steps[%d]", i)
		for j, w := range step.Writes {
			wpath := fmt.Sprintf("%s.writes[%d]", path, j)
			if !c.slotOK(w.Slot) {
				c.report(CodeInvalidSlotRef, wpath, "slot %d out of range", w.Slot)
			}
			c.checkRef(wpath, w.Kind, w.Index)
		}
		for j, r := range step.Reads {
			if !c.slotOK(r) {
				c.report(CodeInvalidSlotRef, fmt.Sprintf("%s.reads[%d]", path, j), "slot %d out of range", r)
			}
		}
		for j, u := range step.Updates {
			upath := fmt.Sprintf("%s.updates[%d]", path, j)
			if !c.stateOK(u.State) {
				c.report(CodeInvalidStateRef, upath, "state cell %d not in layout", u.State)
			}
			c.checkRef(upath, u.Kind, u.Index)
		}
		switch step.Kind {
		case ir.StepBusEval:
			if !c.busOK(step.Bus) {
				c.report(CodeInvalidBusRef, path, "bus %d out of range", step.Bus)
			}
		case ir.StepMaterialize, ir.StepMaterializeColor, ir.StepMaterializePath:
			if !c.fieldOK(step.Field) {
				c.report(CodeInvalidFieldExprRef, path, "field expr %d out of range", step.Field)
			}
			if !c.domainOK(step.Domain) {
				c.report(CodeInvalidDomainRef, path, "domain %d out of range", step.Domain)
			}
		case ir.StepRenderAssemble:
			if step.Camera != ir.None && int(step.Camera) >= len(c.p.Cameras) {
				c.report(CodeInvalidDomainRef, path, "camera %d out of range", step.Camera)
			}
		case ir.StepDebugProbe:
			if step.Probe < 0 || int(step.Probe) >= len(c.p.Probes) {
				c.report(CodeInvalidSlotRef, path, "probe %d out of range", step.Probe)
			}
		case ir.StepTimeDerive:
			if step.Time == nil {
				c.report(CodeInvalidSlotRef, path, "timeDerive step without time slots")
			}
		}
		for _, cell := range c.stepSlewCells(&step) {
			if !stateListed(step.StateWrites, cell) {
				c.report(CodeInvalidStateRef, path, "slew cell %d rewritten without a stateWrites entry", cell)
			}
		}
	}
}

// stepSlewCells collects the slew cells a step can rewrite mid-frame: the
// transform chains reachable from its write and update expressions, plus
// the enabled publisher chains of a busEval step's bus. stateWrites is the
// only write authorization for a cell, so each collected cell must appear
// there.
func (c *checker) stepSlewCells(step *ir.StepIR) []ir.StateID {
	w := &slewWalk{c: c}
	for _, wr := range step.Writes {
		w.ref(wr.Kind, wr.Index)
	}
	for _, u := range step.Updates {
		w.ref(u.Kind, u.Index)
	}
	if step.Kind == ir.StepBusEval && c.busOK(step.Bus) {
		for _, pub := range c.p.Buses[step.Bus].Publishers {
			if pub.Enabled {
				w.chain(pub.Transform)
			}
		}
	}
	return w.cells
}

// slewWalk recurses expression trees looking for transform chains with
// slew steps. The seen sets guard against cyclic tables, which the cycle
// checks report separately.
type slewWalk struct {
	c         *checker
	cells     []ir.StateID
	seenSig   map[ir.SigExprID]bool
	seenField map[ir.FieldExprID]bool
	seenEvent map[ir.EventExprID]bool
}

func (w *slewWalk) ref(kind ir.RefKind, index int32) {
	switch kind {
	case ir.RefSig:
		w.sig(ir.SigExprID(index))
	case ir.RefField:
		w.field(ir.FieldExprID(index))
	case ir.RefEvent:
		w.event(ir.EventExprID(index))
	}
}

func (w *slewWalk) chain(id ir.TransformID) {
	if !w.c.transformOK(id) {
		return
	}
	for _, s := range w.c.p.Transforms[id].Steps {
		if s.Op == ir.TransformSlew && s.State.IsValid() {
			w.cells = append(w.cells, s.State)
		}
	}
}

func (w *slewWalk) sig(id ir.SigExprID) {
	if !w.c.sigOK(id) || w.seenSig[id] {
		return
	}
	if w.seenSig == nil {
		w.seenSig = make(map[ir.SigExprID]bool)
	}
	w.seenSig[id] = true
	n := w.c.p.Sig[id]
	w.chain(n.Transform)
	for _, arg := range n.Args {
		w.sig(arg)
	}
}

func (w *slewWalk) field(id ir.FieldExprID) {
	if !w.c.fieldOK(id) || w.seenField[id] {
		return
	}
	if w.seenField == nil {
		w.seenField = make(map[ir.FieldExprID]bool)
	}
	w.seenField[id] = true
	n := w.c.p.Field[id]
	w.chain(n.Transform)
	if n.Sig.IsValid() {
		w.sig(n.Sig)
	}
	for _, arg := range n.Args {
		w.field(arg)
	}
}

func (w *slewWalk) event(id ir.EventExprID) {
	if !w.c.eventOK(id) || w.seenEvent[id] {
		return
	}
	if w.seenEvent == nil {
		w.seenEvent = make(map[ir.EventExprID]bool)
	}
	w.seenEvent[id] = true
	n := w.c.p.Event[id]
	if n.Sig.IsValid() {
		w.sig(n.Sig)
	}
	for _, arg := range n.Args {
		w.event(arg)
	}
}

func stateListed(list []ir.StateID, cell ir.StateID) bool {
	for _, s := range list {
		if s == cell {
			return true
		}
	}
	return false
}

func (c *checker) checkRef(path string, kind ir.RefKind, index int32) {
	switch kind {
	case ir.RefSig:
		if !c.sigOK(ir.SigExprID(index)) {
			c.report(CodeInvalidSigExprRef, path, "sig expr %d out of range", index)
		}
	case ir.RefField:
		if !c.fieldOK(ir.FieldExprID(index)) {
			c.report(CodeInvalidFieldExprRef, path, "field expr %d out of range", index)
		}
	case ir.RefEvent:
		if !c.eventOK(ir.EventExprID(index)) {
			c.report(CodeInvalidEventExprRef, path, "event expr %d out of range", index)
		}
	case ir.RefConst:
		if !c.constOK(ir.ConstID(index)) {
			c.report(CodeInvalidConstRef, path, "const %d out of range", index)
		}
	case ir.RefDomain:
		if !c.domainOK(ir.DomainID(index)) {
			c.report(CodeInvalidDomainRef, path, "domain %d out of range", index)
		}
	}
}

func (c *checker) checkOutputs() {
	for i, out := range c.p.Outputs {
		path := fmt.Sprintf("outputs[%d]", i)
		switch out.Kind {
		case ir.OutputBuffer:
			if !out.Buffer.IsValid() || int32(out.Buffer) >= c.p.Schedule.BufferCount {
				c.report(CodeInvalidSlotRef, path, "buffer %d out of range", out.Buffer)
			}
		case ir.OutputSlot:
			if !c.slotOK(out.Slot) {
				c.report(CodeInvalidSlotRef, path, "slot %d out of range", out.Slot)
			}
		default:
			c.report(CodeInvalidSlotRef, path, "unknown output kind %q", out.Kind)
		}
	}
}

func (c *checker) checkProbes() {
	for i, probe := range c.p.Probes {
		if !c.slotOK(probe.Slot) {
			c.report(CodeInvalidSlotRef, fmt.Sprintf("probes[%d]", i), "slot %d out of range", probe.Slot)
		}
	}
}

// visit colors for the cycle DFS.
const (
	unseen = iota
	visiting
	done
)

// checkSigCycles rejects self-referential expression graphs. The tables
// are append-only during lowering so forward references cannot normally
// occur, but the validator cannot assume that.
func (c *checker) checkSigCycles() {
	color := make([]byte, len(c.p.Sig))
	var walk func(id ir.SigExprID) bool
	walk = func(id ir.SigExprID) bool {
		if !c.sigOK(id) {
			return false
		}
		switch color[id] {
		case visiting:
			c.report(CodeCircularReference, fmt.Sprintf("sig[%d]", id), "expression references itself")
			return true
		case done:
			return false
		}
		color[id] = visiting
		cyclic := false
		for _, a := range c.p.Sig[id].Args {
			if walk(a) {
				cyclic = true
			}
		}
		color[id] = done
		return cyclic
	}
	for i := range c.p.Sig {
		walk(ir.SigExprID(i))
	}
}

func (c *checker) checkFieldCycles() {
	color := make([]byte, len(c.p.Field))
	var walk func(id ir.FieldExprID) bool
	walk = func(id ir.FieldExprID) bool {
		if !c.fieldOK(id) {
			return false
		}
		switch color[id] {
		case visiting:
			c.report(CodeCircularReference, fmt.Sprintf("field[%d]", id), "expression references itself")
			return true
		case done:
			return false
		}
		color[id] = visiting
		cyclic := false
		for _, a := range c.p.Field[id].Args {
			if walk(a) {
				cyclic = true
			}
		}
		color[id] = done
		return cyclic
	}
	for i := range c.p.Field {
		walk(ir.FieldExprID(i))
	}
}
