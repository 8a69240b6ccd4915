package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlab/strand/internal/blocks"
	"github.com/strandlab/strand/internal/compiler"
	"github.com/strandlab/strand/internal/engine"
	"github.com/strandlab/strand/internal/ir"
	"github.com/strandlab/strand/internal/patch"
)

var sigFloat = ir.TypeDesc{World: ir.WorldSignal, Domain: ir.DomainFloat, BusEligible: true}

func compileTest(t *testing.T, p *patch.Patch) *ir.CompiledProgram {
	t.Helper()
	prog, err := compiler.Compile(p, blocks.NewRegistry(), compiler.Options{Validate: true})
	require.NoError(t, err)
	return prog
}

// probeRecorder collects probe samples in delivery order.
type probeRecorder struct {
	samples []engine.ProbeSample
}

func (r *probeRecorder) sink(s engine.ProbeSample) {
	r.samples = append(r.samples, s)
}

func (r *probeRecorder) values() []float64 {
	out := make([]float64, len(r.samples))
	for i, s := range r.samples {
		out[i], _ = s.Value.(float64)
	}
	return out
}

func newEngine(t *testing.T, prog *ir.CompiledProgram, rec *probeRecorder) *engine.Engine {
	t.Helper()
	opts := engine.Options{Checked: true}
	if rec != nil {
		opts.ProbeSink = rec.sink
	}
	eng, err := engine.New(prog, opts)
	require.NoError(t, err)
	return eng
}

func TestEngineSineOverCyclicTime(t *testing.T) {
	p := &patch.Patch{
		ID: "p-sine",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.cyclic", Config: map[string]any{"period_ms": 1000.0}},
			{ID: "osc", Type: "osc.sine"},
			{ID: "tap", Type: "sink.probe"},
		},
		Wires: []patch.Wire{
			{ID: "w1", From: patch.PortRef{Block: "clk", Port: "phase01"}, To: patch.PortRef{Block: "osc", Port: "phase"}},
			{ID: "w2", From: patch.PortRef{Block: "osc", Port: "out"}, To: patch.PortRef{Block: "tap", Port: "in"}},
		},
	}
	prog := compileTest(t, p)

	rec := &probeRecorder{}
	eng := newEngine(t, prog, rec)
	for i := 0; i < 4; i++ {
		_, err := eng.Step(250)
		require.NoError(t, err)
	}

	// amp * sin(2*pi*phase) at phases 0.25, 0.5, 0.75, 0.0
	want := []float64{1, 0, -1, 0}
	got := rec.values()
	require.Len(t, got, 4)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9, "frame %d", i+1)
	}
}

func TestEngineDelayFeedbackAccumulates(t *testing.T) {
	p := accumulatorPatch("p-accum")
	prog := compileTest(t, p)

	rec := &probeRecorder{}
	eng := newEngine(t, prog, rec)
	for i := 0; i < 3; i++ {
		_, err := eng.Step(16)
		require.NoError(t, err)
	}

	// Each frame adds 1 to last frame's sum: the delay reads the value
	// pushed one frame earlier, never the same-frame one.
	assert.Equal(t, []float64{1, 2, 3}, rec.values())
}

func accumulatorPatch(id string) *patch.Patch {
	return &patch.Patch{
		ID: id,
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "one", Type: "value", Config: map[string]any{"value": 1.0}},
			{ID: "sum", Type: "math.add"},
			{ID: "mem", Type: "delay", Config: map[string]any{"frames": 1}},
			{ID: "tap", Type: "sink.probe"},
		},
		Wires: []patch.Wire{
			{ID: "w1", From: patch.PortRef{Block: "one", Port: "out"}, To: patch.PortRef{Block: "sum", Port: "a"}},
			{ID: "w2", From: patch.PortRef{Block: "mem", Port: "out"}, To: patch.PortRef{Block: "sum", Port: "b"}},
			{ID: "w3", From: patch.PortRef{Block: "sum", Port: "out"}, To: patch.PortRef{Block: "mem", Port: "in"}},
			{ID: "w4", From: patch.PortRef{Block: "sum", Port: "out"}, To: patch.PortRef{Block: "tap", Port: "in"}},
		},
	}
}

func TestEngineSlewRateLimitsInput(t *testing.T) {
	p := &patch.Patch{
		ID: "p-slew",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "target", Type: "value", Config: map[string]any{"value": 10.0}},
			{ID: "lim", Type: "slew", Config: map[string]any{"rate_per_s": 2.0}},
			{ID: "tap", Type: "sink.probe"},
		},
		Wires: []patch.Wire{
			{ID: "w1", From: patch.PortRef{Block: "target", Port: "out"}, To: patch.PortRef{Block: "lim", Port: "in"}},
			{ID: "w2", From: patch.PortRef{Block: "lim", Port: "out"}, To: patch.PortRef{Block: "tap", Port: "in"}},
		},
	}
	prog := compileTest(t, p)

	rec := &probeRecorder{}
	eng := newEngine(t, prog, rec)
	for i := 0; i < 3; i++ {
		_, err := eng.Step(500)
		require.NoError(t, err)
	}

	// rate 2/s at dt 500ms allows one unit of movement per frame.
	got := rec.values()
	require.Len(t, got, 3)
	assert.InDelta(t, 1, got[0], 1e-9)
	assert.InDelta(t, 2, got[1], 1e-9)
	assert.InDelta(t, 3, got[2], 1e-9)
}

func TestEngineBusLastModeUsesPublisherOrder(t *testing.T) {
	p := &patch.Patch{
		ID: "p-bus",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "va", Type: "value", Config: map[string]any{"value": 1.0}},
			{ID: "vb", Type: "value", Config: map[string]any{"value": 2.0}},
			{ID: "tap", Type: "sink.probe"},
		},
		Buses: []patch.BusDecl{
			{ID: "mix", Name: "mix", Type: sigFloat, Combine: ir.CombineLast, Silent: ir.SilentZero},
		},
		// Declaration order is reversed on purpose: evaluation order is
		// (sort_key, publisher_id), so "pb" still wins last.
		Publishers: []patch.Publisher{
			{ID: "pb", Bus: "mix", From: patch.PortRef{Block: "vb", Port: "out"}, Enabled: true, SortKey: 0},
			{ID: "pa", Bus: "mix", From: patch.PortRef{Block: "va", Port: "out"}, Enabled: true, SortKey: 0},
		},
		Listeners: []patch.Listener{
			{ID: "l1", Bus: "mix", To: patch.PortRef{Block: "tap", Port: "in"}},
		},
	}
	prog := compileTest(t, p)

	rec := &probeRecorder{}
	eng := newEngine(t, prog, rec)
	_, err := eng.Step(16)
	require.NoError(t, err)

	require.Len(t, rec.samples, 1)
	assert.Equal(t, 2.0, rec.samples[0].Value)
}

func TestEngineBusSumWithTransform(t *testing.T) {
	p := &patch.Patch{
		ID: "p-bus-sum",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "va", Type: "value", Config: map[string]any{"value": 1.0}},
			{ID: "vb", Type: "value", Config: map[string]any{"value": 2.0}},
			{ID: "tap", Type: "sink.probe"},
		},
		Buses: []patch.BusDecl{
			{ID: "mix", Name: "mix", Type: sigFloat, Combine: ir.CombineSum, Silent: ir.SilentZero},
		},
		Publishers: []patch.Publisher{
			{ID: "pa", Bus: "mix", From: patch.PortRef{Block: "va", Port: "out"}, Enabled: true},
			{
				ID: "pb", Bus: "mix", From: patch.PortRef{Block: "vb", Port: "out"}, Enabled: true,
				Transform: []patch.TransformDecl{
					{Op: ir.TransformScaleBias, Params: map[string]any{"scale": 10.0, "bias": 0.0}},
				},
			},
		},
		Listeners: []patch.Listener{
			{ID: "l1", Bus: "mix", To: patch.PortRef{Block: "tap", Port: "in"}},
		},
	}
	prog := compileTest(t, p)

	rec := &probeRecorder{}
	eng := newEngine(t, prog, rec)
	_, err := eng.Step(16)
	require.NoError(t, err)

	require.Len(t, rec.samples, 1)
	assert.Equal(t, 21.0, rec.samples[0].Value, "1 + 2*10")
}

func TestEngineSilentBusYieldsDefault(t *testing.T) {
	p := &patch.Patch{
		ID: "p-silent",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "tap", Type: "sink.probe"},
		},
		Buses: []patch.BusDecl{
			{ID: "mix", Name: "mix", Type: sigFloat, Combine: ir.CombineSum, Silent: ir.SilentDefault, Default: 5.0},
		},
		Listeners: []patch.Listener{
			{ID: "l1", Bus: "mix", To: patch.PortRef{Block: "tap", Port: "in"}},
		},
	}
	prog := compileTest(t, p)

	rec := &probeRecorder{}
	eng := newEngine(t, prog, rec)
	_, err := eng.Step(16)
	require.NoError(t, err)

	require.Len(t, rec.samples, 1)
	assert.Equal(t, 5.0, rec.samples[0].Value)
}

func TestEngineSilentZeroBusIgnoresDisabledPublisher(t *testing.T) {
	p := &patch.Patch{
		ID: "p-silent-zero",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "va", Type: "value", Config: map[string]any{"value": 7.0}},
			{ID: "tap", Type: "sink.probe"},
		},
		Buses: []patch.BusDecl{
			{ID: "mix", Name: "mix", Type: sigFloat, Combine: ir.CombineSum, Silent: ir.SilentZero},
		},
		Publishers: []patch.Publisher{
			{ID: "pa", Bus: "mix", From: patch.PortRef{Block: "va", Port: "out"}, Enabled: false},
		},
		Listeners: []patch.Listener{
			{ID: "l1", Bus: "mix", To: patch.PortRef{Block: "tap", Port: "in"}},
		},
	}
	prog := compileTest(t, p)

	rec := &probeRecorder{}
	eng := newEngine(t, prog, rec)
	_, err := eng.Step(16)
	require.NoError(t, err)

	require.Len(t, rec.samples, 1)
	assert.Equal(t, 0.0, rec.samples[0].Value)
}

func TestEngineSilentConstFieldBusWithDisabledPublisher(t *testing.T) {
	fieldFloat := ir.TypeDesc{World: ir.WorldField, Domain: ir.DomainFloat, BusEligible: true}
	p := &patch.Patch{
		ID: "p-silent-field",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "ramp", Type: "field.ramp", Config: map[string]any{"n": 5}},
			{ID: "out", Type: "sink.scope"},
		},
		Buses: []patch.BusDecl{
			{ID: "fb", Name: "fb", Type: fieldFloat, Combine: ir.CombineSum, Silent: ir.SilentConst, SilentValue: 7.5},
		},
		Publishers: []patch.Publisher{
			{ID: "pr", Bus: "fb", From: patch.PortRef{Block: "ramp", Port: "out"}, Enabled: false},
		},
		Listeners: []patch.Listener{
			{ID: "l1", Bus: "fb", To: patch.PortRef{Block: "out", Port: "samples"}},
		},
	}
	prog := compileTest(t, p)

	eng := newEngine(t, prog, nil)
	_, err := eng.Step(16)
	require.NoError(t, err)

	var buf []float32
	for _, o := range eng.Outputs() {
		if o.Name == "scope.samples" && o.Kind == ir.OutputBuffer {
			buf = o.F32
		}
	}
	require.NotNil(t, buf, "scope buffer output missing")
	assert.Equal(t, []float32{7.5}, buf)
}

func TestEngineFiniteRunStopsAtDone(t *testing.T) {
	p := &patch.Patch{
		ID: "p-finite",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.finite", Config: map[string]any{"duration_ms": 1000.0}},
		},
	}
	prog := compileTest(t, p)

	eng := newEngine(t, prog, nil)
	err := eng.Run(context.Background(), 100, 400)
	require.NoError(t, err)

	// 400, 800, 1200: the third frame crosses the duration and stops.
	assert.Equal(t, int64(3), eng.Frame())
	assert.Equal(t, 1200.0, eng.ModelMs())
}

func TestEngineRunHonorsContextCancel(t *testing.T) {
	prog := compileTest(t, accumulatorPatch("p-cancel"))
	eng := newEngine(t, prog, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := eng.Run(ctx, 10, 16)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), eng.Frame())
}

func TestEngineScopeOutputsRampBuffer(t *testing.T) {
	p := &patch.Patch{
		ID: "p-scope",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "ramp", Type: "field.ramp", Config: map[string]any{"n": 5}},
			{ID: "out", Type: "sink.scope"},
		},
		Wires: []patch.Wire{
			{ID: "w1", From: patch.PortRef{Block: "ramp", Port: "out"}, To: patch.PortRef{Block: "out", Port: "samples"}},
		},
	}
	prog := compileTest(t, p)

	eng := newEngine(t, prog, nil)
	_, err := eng.Step(16)
	require.NoError(t, err)

	var buf []float32
	for _, o := range eng.Outputs() {
		if o.Name == "scope.samples" && o.Kind == ir.OutputBuffer {
			buf = o.F32
		}
	}
	require.NotNil(t, buf, "scope buffer output missing")
	assert.Equal(t, []float32{0, 0.25, 0.5, 0.75, 1}, buf)
}

func TestEngineHotSwapPreservesDelayState(t *testing.T) {
	first := compileTest(t, accumulatorPatch("p-swap"))
	second := compileTest(t, accumulatorPatch("p-swap"))
	require.NotEqual(t, first.CompileID, second.CompileID)

	rec := &probeRecorder{}
	eng := newEngine(t, first, rec)
	for i := 0; i < 3; i++ {
		_, err := eng.Step(16)
		require.NoError(t, err)
	}

	eng.Swap(second)
	_, err := eng.Step(16)
	require.NoError(t, err)

	// The recompile claims the same StateID, so the accumulator keeps
	// counting across the swap instead of restarting from its initial.
	assert.Equal(t, []float64{1, 2, 3, 4}, rec.values())
	assert.Same(t, second, eng.Program())
}

func TestEngineHotSwapDiscardsRemovedState(t *testing.T) {
	withDelay := compileTest(t, accumulatorPatch("p-shrink"))

	plain := compileTest(t, &patch.Patch{
		ID: "p-shrink",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "one", Type: "value", Config: map[string]any{"value": 1.0}},
			{ID: "tap", Type: "sink.probe"},
		},
		Wires: []patch.Wire{
			{ID: "w1", From: patch.PortRef{Block: "one", Port: "out"}, To: patch.PortRef{Block: "tap", Port: "in"}},
		},
	})

	rec := &probeRecorder{}
	eng := newEngine(t, withDelay, rec)
	for i := 0; i < 2; i++ {
		_, err := eng.Step(16)
		require.NoError(t, err)
	}

	eng.Swap(plain)
	_, err := eng.Step(16)
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 2, 1}, rec.values())
	assert.Equal(t, int64(3), eng.Frame(), "frame count survives the swap")
}
