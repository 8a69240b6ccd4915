package engine

import (
	"math"

	"github.com/strandlab/strand/internal/ir"
)

// FrameTime is the derived time for one frame, computed once per frame by
// the clock and written to the time slots by the timeDerive step. All
// ordering and time semantics flow from here; steps never consult wall
// clocks.
type FrameTime struct {
	Frame      int64
	ModelMs    float64
	DtMs       float64
	Phase01    float64 // cyclic models only
	Progress01 float64 // finite models only
	Wrapped    bool    // cyclic phase wrapped this frame
	Done       bool    // finite model reached its duration
}

// FrameClock advances model time under a program's time model. Frames are
// counted with a monotonic logical counter; a given dt sequence always
// produces the same FrameTime sequence, which is what makes runs
// replayable.
type FrameClock struct {
	model   ir.TimeModelIR
	frame   int64
	modelMs float64
}

// NewFrameClock creates a clock at frame 0, model time 0.
func NewFrameClock(model ir.TimeModelIR) *FrameClock {
	return &FrameClock{model: model}
}

// NewFrameClockAt creates a clock resuming at a known model time. Used
// when restoring a run from a state snapshot.
func NewFrameClockAt(model ir.TimeModelIR, frame int64, modelMs float64) *FrameClock {
	return &FrameClock{model: model, frame: frame, modelMs: modelMs}
}

// SetModel swaps the time model during a hot-swap. Model time carries
// over; a cyclic program keeps its phase continuity through the swap.
func (c *FrameClock) SetModel(model ir.TimeModelIR) {
	c.model = model
}

// Advance moves model time forward by dtMs and derives the frame's time
// values. dt must be non-negative; zero is legal (a paused frame).
func (c *FrameClock) Advance(dtMs float64) FrameTime {
	c.frame++
	prevMs := c.modelMs
	c.modelMs += dtMs

	t := FrameTime{Frame: c.frame, ModelMs: c.modelMs, DtMs: dtMs}
	switch c.model.Kind {
	case ir.TimeCyclic:
		period := c.model.PeriodMs
		t.Phase01 = math.Mod(c.modelMs, period) / period
		t.Wrapped = math.Floor(c.modelMs/period) > math.Floor(prevMs/period)
	case ir.TimeFinite:
		dur := c.model.DurationMs
		t.Progress01 = math.Min(c.modelMs/dur, 1)
		t.Done = c.modelMs >= dur
	}
	return t
}

// Frame returns the current frame number without advancing.
func (c *FrameClock) Frame() int64 { return c.frame }

// ModelMs returns the current model time without advancing.
func (c *FrameClock) ModelMs() float64 { return c.modelMs }
