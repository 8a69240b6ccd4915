package engine

import (
	"fmt"
	"math"
	"strconv"

	"github.com/strandlab/strand/internal/ir"
)

// EventList is a frame's occurrences on one event stream, as model-time
// stamps in ascending order. Empty and nil both mean "no occurrences".
type EventList []float64

// sigUnaryFns is the named unary function registry for map nodes.
var sigUnaryFns = map[string]func(float64) float64{
	"sin":     math.Sin,
	"cos":     math.Cos,
	"neg":     func(v float64) float64 { return -v },
	"abs":     math.Abs,
	"fract":   func(v float64) float64 { return v - math.Floor(v) },
	"clamp01": func(v float64) float64 { return math.Max(0, math.Min(1, v)) },
	"id":      func(v float64) float64 { return v },
}

// sigBinaryFns is the named binary function registry for zip nodes.
var sigBinaryFns = map[string]func(a, b float64) float64{
	"add": func(a, b float64) float64 { return a + b },
	"sub": func(a, b float64) float64 { return a - b },
	"mul": func(a, b float64) float64 { return a * b },
	"min": math.Min,
	"max": math.Max,
}

// fieldIndexedFns take (elem, index, count) per element.
var fieldIndexedFns = map[string]func(v float64, i, n int) float64{
	"ramp01": func(_ float64, i, n int) float64 {
		if n <= 1 {
			return 0
		}
		return float64(i) / float64(n-1)
	},
}

// colorFns map a float element to a packed RGBA color.
var colorFns = map[string]func(v float64) uint32{
	"gray": func(v float64) uint32 {
		c := uint32(math.Max(0, math.Min(1, v)) * 255)
		return c<<24 | c<<16 | c<<8 | 0xff
	},
}

// Executor walks one compiled program's schedule. It owns the ValueStore
// and buffer set; the StateBuffer is injected so it can outlive the
// executor across hot-swaps.
type Executor struct {
	prog   *ir.CompiledProgram
	values *ValueStore
	state  *StateBuffer

	// bufF32/bufU32 are the materialized output buffers, BufferID indexed.
	bufF32 map[ir.BufferID][]float32
	bufU32 map[ir.BufferID][]uint32

	// lastDeps holds the dep-slot values of the previous run of each
	// untilInvalidated step; a step reruns only when one changed.
	lastDeps map[ir.StepID][]float64

	t FrameTime
}

// NewExecutor builds an executor and applies the program's slot seeds.
func NewExecutor(prog *ir.CompiledProgram, state *StateBuffer, checked bool) (*Executor, error) {
	e := &Executor{
		prog:     prog,
		values:   NewValueStore(prog.Slots, checked),
		state:    state,
		bufF32:   make(map[ir.BufferID][]float32),
		bufU32:   make(map[ir.BufferID][]uint32),
		lastDeps: make(map[ir.StepID][]float64),
	}
	for _, seed := range prog.Seeds {
		v, err := prog.Consts.Any(seed.Const)
		if err != nil {
			return nil, fmt.Errorf("seed slot %d: %w", seed.Slot, err)
		}
		if err := e.values.Seed(seed.Slot, v); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ExecFrame runs the full schedule for one frame.
func (e *Executor) ExecFrame(t FrameTime) error {
	e.t = t
	e.values.BeginFrame()
	for i, step := range e.prog.Schedule.Steps {
		if err := e.execStep(ir.StepID(i), &step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Label, err)
		}
	}
	return nil
}

func (e *Executor) execStep(id ir.StepID, step *ir.StepIR) error {
	switch step.Kind {
	case ir.StepTimeDerive, ir.StepSigEval:
		for _, w := range step.Writes {
			if err := e.writeSlot(id, w); err != nil {
				return err
			}
		}
		for _, u := range step.Updates {
			if err := e.applyUpdate(id, u); err != nil {
				return err
			}
		}
		return nil
	case ir.StepBusEval:
		return e.execBusEval(id, step)
	case ir.StepMaterialize:
		return e.execMaterialize(id, step)
	case ir.StepMaterializeColor:
		return e.execMaterializeColor(id, step)
	case ir.StepMaterializePath:
		return e.execMaterializePath(id, step)
	case ir.StepRenderAssemble:
		// Buffers and slot outputs are already final; assembly is the
		// renderer's contract point, nothing to compute here.
		return nil
	case ir.StepDebugProbe:
		// Probe values are pulled by the engine after the frame.
		return nil
	default:
		return &InvariantError{Code: ErrCodeUnknownStep, Message: fmt.Sprintf("kind %q", step.Kind), Slot: ir.None, Step: id}
	}
}

// writeSlot evaluates a write's expression and stores it.
func (e *Executor) writeSlot(id ir.StepID, w ir.SlotWrite) error {
	switch w.Kind {
	case ir.RefSig:
		v, err := e.evalSig(id, ir.SigExprID(w.Index))
		if err != nil {
			return err
		}
		return e.values.SetF64(w.Slot, v, id)
	case ir.RefEvent:
		ev, err := e.evalEvent(id, ir.EventExprID(w.Index))
		if err != nil {
			return err
		}
		return e.values.SetObj(w.Slot, ev, id)
	case ir.RefField:
		vals, err := e.evalFieldF64(id, ir.FieldExprID(w.Index))
		if err != nil {
			return err
		}
		return e.values.SetObj(w.Slot, vals, id)
	case ir.RefConst:
		v, err := e.prog.Consts.Any(ir.ConstID(w.Index))
		if err != nil {
			return err
		}
		if f, ok := toFloat(v); ok && e.prog.Slots[w.Slot].Storage == ir.SlotF64 {
			return e.values.SetF64(w.Slot, f, id)
		}
		return e.values.SetObj(w.Slot, v, id)
	case ir.RefDomain:
		return e.values.SetObj(w.Slot, ir.DomainID(w.Index), id)
	default:
		return &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("write kind %q", w.Kind), Slot: w.Slot, Step: id}
	}
}

func (e *Executor) applyUpdate(id ir.StepID, u ir.StateUpdateIR) error {
	if u.Kind != ir.RefSig {
		return &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("state update kind %q", u.Kind), Slot: ir.None, Step: id}
	}
	v, err := e.evalSig(id, ir.SigExprID(u.Index))
	if err != nil {
		return err
	}
	switch u.Op {
	case ir.StatePush:
		return e.state.Push(u.State, v)
	case ir.StateSet:
		return e.state.Set(u.State, v)
	case ir.StateAccum:
		return e.state.Accum(u.State, v)
	default:
		return &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("state update op %q", u.Op), Slot: ir.None, Step: id}
	}
}

// --- signal evaluation ---

func (e *Executor) evalSig(step ir.StepID, id ir.SigExprID) (float64, error) {
	if !id.IsValid() || int(id) >= len(e.prog.Sig) {
		return 0, &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("sig expr %d out of range", id), Slot: ir.None, Step: step}
	}
	n := e.prog.Sig[id]
	switch n.Kind {
	case ir.SigConst:
		return e.prog.Consts.Float(n.Const)
	case ir.SigTime:
		switch n.TimeRole {
		case ir.TimeModelMs:
			return e.t.ModelMs, nil
		case ir.TimePhase01:
			return e.t.Phase01, nil
		case ir.TimeProgress:
			return e.t.Progress01, nil
		}
		return 0, &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("time role %q", n.TimeRole), Slot: ir.None, Step: step}
	case ir.SigSlot:
		return e.values.F64(n.Slot, step)
	case ir.SigState:
		return e.state.ReadF64(n.State, n.Tap)
	case ir.SigMap:
		fn, ok := sigUnaryFns[n.Fn]
		if !ok {
			return 0, &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("unary fn %q", n.Fn), Slot: ir.None, Step: step}
		}
		v, err := e.evalSig(step, n.Args[0])
		if err != nil {
			return 0, err
		}
		return fn(v), nil
	case ir.SigZip:
		fn, ok := sigBinaryFns[n.Fn]
		if !ok {
			return 0, &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("binary fn %q", n.Fn), Slot: ir.None, Step: step}
		}
		a, err := e.evalSig(step, n.Args[0])
		if err != nil {
			return 0, err
		}
		b, err := e.evalSig(step, n.Args[1])
		if err != nil {
			return 0, err
		}
		return fn(a, b), nil
	case ir.SigSelect:
		sel, err := e.evalSig(step, n.Args[0])
		if err != nil {
			return 0, err
		}
		choices := n.Args[1:]
		idx := int(sel)
		if idx < 0 {
			idx = 0
		}
		if idx >= len(choices) {
			idx = len(choices) - 1
		}
		return e.evalSig(step, choices[idx])
	case ir.SigTransform:
		v, err := e.evalSig(step, n.Args[0])
		if err != nil {
			return 0, err
		}
		return e.applyTransform(n.Transform, v)
	case ir.SigBusCombine:
		return e.combineSigBus(step, int(n.Bus))
	default:
		return 0, &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("sig kind %q", n.Kind), Slot: ir.None, Step: step}
	}
}

// applyTransform runs a chain left to right over one value.
func (e *Executor) applyTransform(id ir.TransformID, v float64) (float64, error) {
	chain := e.prog.Transforms[id]
	for _, s := range chain.Steps {
		params, err := e.transformParams(s)
		if err != nil {
			return 0, err
		}
		switch s.Op {
		case ir.TransformCast:
			// Numeric cast is a representation change only.
		case ir.TransformMap:
			name, _ := params["fn"].(string)
			fn, ok := sigUnaryFns[name]
			if !ok {
				return 0, fmt.Errorf("transform map: unknown fn %q", name)
			}
			v = fn(v)
		case ir.TransformScaleBias:
			v = v*paramFloat(params, "scale", 1) + paramFloat(params, "bias", 0)
		case ir.TransformNormalize:
			lo := paramFloat(params, "min", 0)
			hi := paramFloat(params, "max", 1)
			if hi != lo {
				v = (v - lo) / (hi - lo)
			}
		case ir.TransformQuantize:
			stepSize := paramFloat(params, "step", 1)
			if stepSize > 0 {
				v = math.Round(v/stepSize) * stepSize
			}
		case ir.TransformEase:
			v = applyEase(params, v)
		case ir.TransformSlew:
			prev, err := e.state.ReadF64(s.State, 0)
			if err != nil {
				return 0, err
			}
			maxStep := paramFloat(params, "rate_per_s", 1) * e.t.DtMs / 1000
			delta := math.Max(-maxStep, math.Min(maxStep, v-prev))
			v = prev + delta
			if err := e.state.Set(s.State, v); err != nil {
				return 0, err
			}
		default:
			return 0, fmt.Errorf("transform: unknown op %q", s.Op)
		}
	}
	return v, nil
}

func (e *Executor) transformParams(s ir.TransformStep) (map[string]any, error) {
	if s.Params == ir.None {
		return nil, nil
	}
	raw, err := e.prog.Consts.Any(s.Params)
	if err != nil {
		return nil, err
	}
	m, _ := raw.(map[string]any)
	return m, nil
}

func paramFloat(params map[string]any, key string, def float64) float64 {
	if params == nil {
		return def
	}
	if f, ok := toFloat(params[key]); ok {
		return f
	}
	return def
}

func applyEase(params map[string]any, v float64) float64 {
	x := math.Max(0, math.Min(1, v))
	curve, _ := params["curve"].(string)
	switch curve {
	case "inQuad":
		return x * x
	case "outQuad":
		return 1 - (1-x)*(1-x)
	case "inOutQuad":
		if x < 0.5 {
			return 2 * x * x
		}
		return 1 - 2*(1-x)*(1-x)
	default:
		return x
	}
}

// --- bus combination ---

// combineSigBus folds the enabled publishers of a numeric bus in the
// precompiled (sort_key, publisher_id) order. Silent buses yield their
// declared silent value.
func (e *Executor) combineSigBus(step ir.StepID, busIdx int) (float64, error) {
	bus := e.prog.Buses[busIdx]
	var terms []float64
	for _, pub := range bus.Publishers {
		if !pub.Enabled {
			continue
		}
		v, err := e.values.F64(pub.SrcSlot, step)
		if err != nil {
			return 0, err
		}
		if pub.Transform != ir.None {
			if v, err = e.applyTransform(pub.Transform, v); err != nil {
				return 0, err
			}
		}
		terms = append(terms, v)
	}
	if len(terms) == 0 {
		return e.silentValue(bus)
	}
	switch bus.Combine {
	case ir.CombineSum:
		var sum float64
		for _, t := range terms {
			sum += t
		}
		return sum, nil
	case ir.CombineAverage:
		var sum float64
		for _, t := range terms {
			sum += t
		}
		return sum / float64(len(terms)), nil
	case ir.CombineMin:
		m := terms[0]
		for _, t := range terms[1:] {
			m = math.Min(m, t)
		}
		return m, nil
	case ir.CombineMax:
		m := terms[0]
		for _, t := range terms[1:] {
			m = math.Max(m, t)
		}
		return m, nil
	case ir.CombineFirst:
		return terms[0], nil
	case ir.CombineLast:
		return terms[len(terms)-1], nil
	default:
		return 0, fmt.Errorf("bus %s: combine %q on a numeric bus", bus.BusID, bus.Combine)
	}
}

func (e *Executor) silentValue(bus ir.BusIR) (float64, error) {
	switch bus.Silent {
	case ir.SilentZero:
		return 0, nil
	default:
		return e.prog.Consts.Float(bus.DefaultVal)
	}
}

// silentSamples resolves the declared silent value of an event or field
// bus as a sample run. Zero-silent buses yield an empty run.
func (e *Executor) silentSamples(bus ir.BusIR) ([]float64, error) {
	if bus.Silent == ir.SilentZero {
		return nil, nil
	}
	vals, err := e.prog.Consts.Floats(bus.DefaultVal)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), vals...), nil
}

func (e *Executor) combineEventBus(step ir.StepID, busIdx int) (EventList, error) {
	bus := e.prog.Buses[busIdx]
	var merged EventList
	enabled := 0
	for _, pub := range bus.Publishers {
		if !pub.Enabled {
			continue
		}
		enabled++
		raw, err := e.values.Obj(pub.SrcSlot, step)
		if err != nil {
			return nil, err
		}
		ev, _ := raw.(EventList)
		switch bus.Combine {
		case ir.CombineMerge:
			merged = append(merged, ev...)
		case ir.CombineFirst:
			if merged == nil && len(ev) > 0 {
				merged = ev
			}
		case ir.CombineLast:
			if len(ev) > 0 {
				merged = ev
			}
		default:
			return nil, fmt.Errorf("bus %s: combine %q on an event bus", bus.BusID, bus.Combine)
		}
	}
	if enabled == 0 {
		vals, err := e.silentSamples(bus)
		if err != nil {
			return nil, err
		}
		return EventList(vals), nil
	}
	return merged, nil
}

func (e *Executor) execBusEval(id ir.StepID, step *ir.StepIR) error {
	bus := e.prog.Buses[step.Bus]
	switch bus.Type.World {
	case ir.WorldEvent:
		ev, err := e.combineEventBus(id, int(step.Bus))
		if err != nil {
			return err
		}
		return e.values.SetObj(bus.OutSlot, ev, id)
	case ir.WorldField:
		vals, err := e.combineFieldBus(id, int(step.Bus))
		if err != nil {
			return err
		}
		return e.values.SetObj(bus.OutSlot, vals, id)
	default:
		v, err := e.combineSigBus(id, int(step.Bus))
		if err != nil {
			return err
		}
		return e.values.SetF64(bus.OutSlot, v, id)
	}
}

func (e *Executor) combineFieldBus(step ir.StepID, busIdx int) ([]float64, error) {
	bus := e.prog.Buses[busIdx]
	var acc []float64
	var count int
	for _, pub := range bus.Publishers {
		if !pub.Enabled {
			continue
		}
		raw, err := e.values.Obj(pub.SrcSlot, step)
		if err != nil {
			return nil, err
		}
		vals, _ := raw.([]float64)
		if vals == nil {
			continue
		}
		if acc == nil {
			acc = append([]float64(nil), vals...)
			count = 1
			if bus.Combine == ir.CombineFirst {
				break
			}
			continue
		}
		count++
		for i := range acc {
			if i >= len(vals) {
				break
			}
			switch bus.Combine {
			case ir.CombineSum, ir.CombineAverage:
				acc[i] += vals[i]
			case ir.CombineMin:
				acc[i] = math.Min(acc[i], vals[i])
			case ir.CombineMax:
				acc[i] = math.Max(acc[i], vals[i])
			case ir.CombineLast:
				acc[i] = vals[i]
			}
		}
	}
	if acc == nil {
		return e.silentSamples(bus)
	}
	if bus.Combine == ir.CombineAverage && count > 1 {
		for i := range acc {
			acc[i] /= float64(count)
		}
	}
	return acc, nil
}

// --- event evaluation ---

func (e *Executor) evalEvent(step ir.StepID, id ir.EventExprID) (EventList, error) {
	if !id.IsValid() || int(id) >= len(e.prog.Event) {
		return nil, &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("event expr %d out of range", id), Slot: ir.None, Step: step}
	}
	n := e.prog.Event[id]
	switch n.Kind {
	case ir.EventSlot:
		raw, err := e.values.Obj(n.Slot, step)
		if err != nil {
			return nil, err
		}
		ev, _ := raw.(EventList)
		return ev, nil
	case ir.EventWrap:
		if e.t.Wrapped {
			return EventList{e.t.ModelMs}, nil
		}
		return nil, nil
	case ir.EventFilter:
		src, err := e.evalEvent(step, n.Args[0])
		if err != nil {
			return nil, err
		}
		// The only built-in filter drops nothing; named predicates beyond
		// "id" belong to host-registered catalogues.
		if n.Fn == "id" || n.Fn == "" {
			return src, nil
		}
		return nil, &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("event filter %q", n.Fn), Slot: ir.None, Step: step}
	case ir.EventMerge:
		var merged EventList
		for _, a := range n.Args {
			ev, err := e.evalEvent(step, a)
			if err != nil {
				return nil, err
			}
			merged = append(merged, ev...)
		}
		return merged, nil
	case ir.EventBusCombine:
		return e.combineEventBus(step, int(n.Bus))
	default:
		return nil, &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("event kind %q", n.Kind), Slot: ir.None, Step: step}
	}
}

// --- field evaluation ---

func (e *Executor) domainCount(id ir.DomainID) int {
	if !id.IsValid() || int(id) >= len(e.prog.Domains) {
		return 0
	}
	return int(e.prog.Domains[id].Count)
}

func (e *Executor) evalFieldF64(step ir.StepID, id ir.FieldExprID) ([]float64, error) {
	if !id.IsValid() || int(id) >= len(e.prog.Field) {
		return nil, &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("field expr %d out of range", id), Slot: ir.None, Step: step}
	}
	n := e.prog.Field[id]
	count := e.domainCount(n.Domain)
	switch n.Kind {
	case ir.FieldConst:
		v, err := e.prog.Consts.Float(n.Const)
		if err != nil {
			return nil, err
		}
		out := make([]float64, count)
		for i := range out {
			out[i] = v
		}
		return out, nil
	case ir.FieldSlot:
		raw, err := e.values.Obj(n.Slot, step)
		if err != nil {
			return nil, err
		}
		vals, _ := raw.([]float64)
		return vals, nil
	case ir.FieldBroadcastSig:
		v, err := e.evalSig(step, n.Sig)
		if err != nil {
			return nil, err
		}
		out := make([]float64, count)
		for i := range out {
			out[i] = v
		}
		return out, nil
	case ir.FieldMap:
		fn, ok := sigUnaryFns[n.Fn]
		if !ok {
			return nil, &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("field fn %q", n.Fn), Slot: ir.None, Step: step}
		}
		src, err := e.evalFieldF64(step, n.Args[0])
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(src))
		for i, v := range src {
			out[i] = fn(v)
		}
		return out, nil
	case ir.FieldMapIndexed:
		fn, ok := fieldIndexedFns[n.Fn]
		if !ok {
			return nil, &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("indexed fn %q", n.Fn), Slot: ir.None, Step: step}
		}
		src, err := e.evalFieldF64(step, n.Args[0])
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(src))
		for i, v := range src {
			out[i] = fn(v, i, len(src))
		}
		return out, nil
	case ir.FieldZip:
		fn, ok := sigBinaryFns[n.Fn]
		if !ok {
			return nil, &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("field fn %q", n.Fn), Slot: ir.None, Step: step}
		}
		x, err := e.evalFieldF64(step, n.Args[0])
		if err != nil {
			return nil, err
		}
		y, err := e.evalFieldF64(step, n.Args[1])
		if err != nil {
			return nil, err
		}
		out := make([]float64, min(len(x), len(y)))
		for i := range out {
			out[i] = fn(x[i], y[i])
		}
		return out, nil
	case ir.FieldZipSig:
		fn, ok := sigBinaryFns[n.Fn]
		if !ok {
			return nil, &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("field fn %q", n.Fn), Slot: ir.None, Step: step}
		}
		src, err := e.evalFieldF64(step, n.Args[0])
		if err != nil {
			return nil, err
		}
		s, err := e.evalSig(step, n.Sig)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(src))
		for i, v := range src {
			out[i] = fn(v, s)
		}
		return out, nil
	case ir.FieldTransform:
		src, err := e.evalFieldF64(step, n.Args[0])
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(src))
		for i, v := range src {
			if out[i], err = e.applyTransform(n.Transform, v); err != nil {
				return nil, err
			}
		}
		return out, nil
	case ir.FieldBusCombine:
		return e.combineFieldBus(step, int(n.Bus))
	default:
		return nil, &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("field kind %q", n.Kind), Slot: ir.None, Step: step}
	}
}

// evalFieldColor evaluates a color-typed field to packed RGBA.
func (e *Executor) evalFieldColor(step ir.StepID, id ir.FieldExprID) ([]uint32, error) {
	n := e.prog.Field[id]
	switch n.Kind {
	case ir.FieldConst:
		raw, err := e.prog.Consts.Any(n.Const)
		if err != nil {
			return nil, err
		}
		hex, _ := raw.(string)
		c, err := parseHexColor(hex)
		if err != nil {
			return nil, err
		}
		out := make([]uint32, e.domainCount(n.Domain))
		for i := range out {
			out[i] = c
		}
		return out, nil
	case ir.FieldMap:
		fn, ok := colorFns[n.Fn]
		if !ok {
			return nil, &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("color fn %q", n.Fn), Slot: ir.None, Step: step}
		}
		src, err := e.evalFieldF64(step, n.Args[0])
		if err != nil {
			return nil, err
		}
		out := make([]uint32, len(src))
		for i, v := range src {
			out[i] = fn(v)
		}
		return out, nil
	default:
		return nil, &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("color field kind %q", n.Kind), Slot: ir.None, Step: step}
	}
}

// parseHexColor parses "#rrggbb" or "#rrggbbaa" into packed RGBA.
func parseHexColor(s string) (uint32, error) {
	if len(s) == 0 || s[0] != '#' {
		return 0, fmt.Errorf("color %q: want #rrggbb", s)
	}
	body := s[1:]
	switch len(body) {
	case 6:
		v, err := strconv.ParseUint(body, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("color %q: %w", s, err)
		}
		return uint32(v)<<8 | 0xff, nil
	case 8:
		v, err := strconv.ParseUint(body, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("color %q: %w", s, err)
		}
		return uint32(v), nil
	default:
		return 0, fmt.Errorf("color %q: want #rrggbb or #rrggbbaa", s)
	}
}

// --- materialization ---

// stepInvalidated reports whether an untilInvalidated step must rerun:
// first run, or any dep slot changed since the cached run.
func (e *Executor) stepInvalidated(id ir.StepID, step *ir.StepIR) (bool, error) {
	if step.Cache.Mode != ir.CacheUntilInvalidated {
		return true, nil
	}
	cur := make([]float64, len(step.Cache.DepSlots))
	for i, slot := range step.Cache.DepSlots {
		switch e.prog.Slots[slot].Storage {
		case ir.SlotF64:
			v, err := e.values.F64(slot, id)
			if err != nil {
				return false, err
			}
			cur[i] = v
		default:
			// Object-valued deps cannot be cheaply compared; treat any
			// frame with such a dep as invalidated.
			return true, nil
		}
	}
	last, ok := e.lastDeps[id]
	if ok && len(last) == len(cur) {
		same := true
		for i := range cur {
			if cur[i] != last[i] {
				same = false
				break
			}
		}
		if same {
			return false, nil
		}
	}
	e.lastDeps[id] = cur
	return true, nil
}

// ensureF32 reuses the buffer's backing array across frames.
func (e *Executor) ensureF32(id ir.BufferID, n int) []float32 {
	buf := e.bufF32[id]
	if cap(buf) < n {
		buf = make([]float32, n)
	}
	buf = buf[:n]
	e.bufF32[id] = buf
	return buf
}

func (e *Executor) ensureU32(id ir.BufferID, n int) []uint32 {
	buf := e.bufU32[id]
	if cap(buf) < n {
		buf = make([]uint32, n)
	}
	buf = buf[:n]
	e.bufU32[id] = buf
	return buf
}

func (e *Executor) execMaterialize(id ir.StepID, step *ir.StepIR) error {
	rerun, err := e.stepInvalidated(id, step)
	if err != nil || !rerun {
		return err
	}
	vals, err := e.evalFieldF64(id, step.Field)
	if err != nil {
		return err
	}
	buf := e.ensureF32(step.Out, len(vals))
	for i, v := range vals {
		buf[i] = float32(v)
	}
	return nil
}

func (e *Executor) execMaterializeColor(id ir.StepID, step *ir.StepIR) error {
	rerun, err := e.stepInvalidated(id, step)
	if err != nil || !rerun {
		return err
	}
	vals, err := e.evalFieldColor(id, step.Field)
	if err != nil {
		return err
	}
	buf := e.ensureU32(step.Out, len(vals))
	copy(buf, vals)
	return nil
}

// execMaterializePath flattens vec2 elements into an xy-interleaved
// float buffer.
func (e *Executor) execMaterializePath(id ir.StepID, step *ir.StepIR) error {
	rerun, err := e.stepInvalidated(id, step)
	if err != nil || !rerun {
		return err
	}
	n := e.prog.Field[step.Field]
	if n.Kind != ir.FieldConst {
		return &InvariantError{Code: ErrCodeBadExpr, Message: fmt.Sprintf("path field kind %q", n.Kind), Slot: ir.None, Step: id}
	}
	raw, err := e.prog.Consts.Any(n.Const)
	if err != nil {
		return err
	}
	pts, _ := raw.([]any)
	buf := e.ensureF32(step.Out, 2*e.domainCount(n.Domain))
	for i := range buf {
		buf[i] = 0
	}
	for i, p := range pts {
		pair, _ := p.([]any)
		if 2*i+1 >= len(buf) || len(pair) < 2 {
			break
		}
		x, _ := toFloat(pair[0])
		y, _ := toFloat(pair[1])
		buf[2*i] = float32(x)
		buf[2*i+1] = float32(y)
	}
	return nil
}

// BufferF32 returns a materialized float buffer, nil when absent.
func (e *Executor) BufferF32(id ir.BufferID) []float32 { return e.bufF32[id] }

// BufferU32 returns a materialized color buffer, nil when absent.
func (e *Executor) BufferU32(id ir.BufferID) []uint32 { return e.bufU32[id] }

// PeekSlot reads a slot value after the frame, without read checks.
func (e *Executor) PeekSlot(slot ir.ValueSlot) any { return e.values.Peek(slot) }
