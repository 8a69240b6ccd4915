package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/strandlab/strand/internal/ir"
)

// ProbeSample is one debug probe reading, delivered after the frame that
// produced it.
type ProbeSample struct {
	ProbeID string
	Block   string
	Port    string
	Frame   int64
	ModelMs float64
	Value   any
}

// ProbeSink receives probe samples. Nil disables probe delivery.
type ProbeSink func(ProbeSample)

// Options configures an Engine.
type Options struct {
	// Checked enables per-frame invariant checking (one writer per slot,
	// no unwritten reads). It costs a writer-table reset each frame.
	Checked bool

	Logger *slog.Logger

	ProbeSink ProbeSink
}

// Output is one program output snapshot taken after a frame.
type Output struct {
	Name   string
	Kind   ir.OutputKind
	Type   ir.TypeDesc
	Value  any       // slot outputs
	F32    []float32 // float buffers
	U32    []uint32  // color buffers
}

// Engine drives one compiled program frame by frame. It is the single
// writer of all runtime stores; callers interact with it from one
// goroutine only.
type Engine struct {
	prog  *ir.CompiledProgram
	exec  *Executor
	state *StateBuffer
	clock *FrameClock
	opts  Options
	log   *slog.Logger

	// pending is a program staged by Swap, applied at the next Step
	// boundary so no frame ever runs on a half-swapped world.
	pending *ir.CompiledProgram
}

// New builds an engine for a compiled program.
func New(prog *ir.CompiledProgram, opts Options) (*Engine, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	state, err := NewStateBuffer(prog.State, prog.Consts)
	if err != nil {
		return nil, fmt.Errorf("engine: state layout: %w", err)
	}
	exec, err := NewExecutor(prog, state, opts.Checked)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return &Engine{
		prog:  prog,
		exec:  exec,
		state: state,
		clock: NewFrameClock(prog.TimeModel),
		opts:  opts,
		log:   log,
	}, nil
}

// Swap stages a replacement program. The swap applies between frames: the
// next Step call migrates state, rebinds the clock's time model, and runs
// the new schedule. Model time is preserved across the swap.
func (e *Engine) Swap(next *ir.CompiledProgram) {
	e.pending = next
}

func (e *Engine) applySwap() error {
	next := e.pending
	e.pending = nil
	state, warnings, err := PreserveState(e.state, next.State, next.Consts)
	if err != nil {
		return fmt.Errorf("engine: swap state: %w", err)
	}
	for _, w := range warnings {
		e.log.Warn("state migration", "compile_id", next.CompileID, "detail", w)
	}
	exec, err := NewExecutor(next, state, e.opts.Checked)
	if err != nil {
		return fmt.Errorf("engine: swap: %w", err)
	}
	e.clock.SetModel(next.TimeModel)
	e.prog = next
	e.state = state
	e.exec = exec
	e.log.Debug("program swapped",
		"compile_id", next.CompileID,
		"patch_revision", next.PatchRevision,
		"preserved_cells", len(next.State.Cells)-len(warnings),
	)
	return nil
}

// Step advances model time by dtMs and runs one frame.
func (e *Engine) Step(dtMs float64) (FrameTime, error) {
	if e.pending != nil {
		if err := e.applySwap(); err != nil {
			return FrameTime{}, err
		}
	}
	t := e.clock.Advance(dtMs)
	if err := e.exec.ExecFrame(t); err != nil {
		return t, fmt.Errorf("frame %d: %w", t.Frame, err)
	}
	e.deliverProbes(t)
	return t, nil
}

// Run advances frames frames at a fixed dtMs, stopping early on context
// cancellation or when a finite time model reports done.
func (e *Engine) Run(ctx context.Context, frames int, dtMs float64) error {
	for i := 0; i < frames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t, err := e.Step(dtMs)
		if err != nil {
			return err
		}
		if t.Done {
			return nil
		}
	}
	return nil
}

func (e *Engine) deliverProbes(t FrameTime) {
	if e.opts.ProbeSink == nil {
		return
	}
	for _, p := range e.prog.Probes {
		e.opts.ProbeSink(ProbeSample{
			ProbeID: p.ProbeID,
			Block:   p.Block,
			Port:    p.Port,
			Frame:   t.Frame,
			ModelMs: t.ModelMs,
			Value:   e.exec.PeekSlot(p.Slot),
		})
	}
}

// Outputs snapshots the program outputs after the last frame. Buffer
// contents are copied so callers may hold them across frames.
func (e *Engine) Outputs() []Output {
	outs := make([]Output, 0, len(e.prog.Outputs))
	for _, spec := range e.prog.Outputs {
		o := Output{Name: spec.Name, Kind: spec.Kind, Type: spec.Type}
		switch spec.Kind {
		case ir.OutputBuffer:
			if buf := e.exec.BufferF32(spec.Buffer); buf != nil {
				o.F32 = append([]float32(nil), buf...)
			}
			if buf := e.exec.BufferU32(spec.Buffer); buf != nil {
				o.U32 = append([]uint32(nil), buf...)
			}
		case ir.OutputSlot:
			o.Value = e.exec.PeekSlot(spec.Slot)
		}
		outs = append(outs, o)
	}
	return outs
}

// Frame returns the number of frames executed so far.
func (e *Engine) Frame() int64 { return e.clock.Frame() }

// ModelMs returns the current model time in milliseconds.
func (e *Engine) ModelMs() float64 { return e.clock.ModelMs() }

// Program returns the currently active compiled program.
func (e *Engine) Program() *ir.CompiledProgram { return e.prog }
