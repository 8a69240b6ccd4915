package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlab/strand/internal/blocks"
	"github.com/strandlab/strand/internal/ir"
	"github.com/strandlab/strand/internal/patch"
)

var sigFloat = ir.TypeDesc{World: ir.WorldSignal, Domain: ir.DomainFloat, BusEligible: true}

func wire(id, fromBlock, fromPort, toBlock, toPort string) patch.Wire {
	return patch.Wire{
		ID:   id,
		From: patch.PortRef{Block: fromBlock, Port: fromPort},
		To:   patch.PortRef{Block: toBlock, Port: toPort},
	}
}

// richPatch exercises wires, a bus with transforms, a listener, state,
// and a render sink in one document.
func richPatch() *patch.Patch {
	return &patch.Patch{
		ID: "p-rich",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.cyclic", Config: map[string]any{"period_ms": 2000.0}},
			{ID: "osc", Type: "osc.sine"},
			{ID: "lvl", Type: "value", Config: map[string]any{"value": 0.5}},
			{ID: "amp", Type: "math.gain"},
			{ID: "mem", Type: "delay", Config: map[string]any{"frames": 2}},
			{ID: "ramp", Type: "field.ramp", Config: map[string]any{"n": 8}},
			{ID: "out", Type: "sink.scope"},
		},
		Wires: []patch.Wire{
			wire("w1", "clk", "phase01", "osc", "phase"),
			wire("w2", "osc", "out", "amp", "in"),
			wire("w3", "amp", "out", "mem", "in"),
			wire("w4", "ramp", "out", "out", "samples"),
		},
		Buses: []patch.BusDecl{
			{ID: "gainbus", Name: "gain", Type: sigFloat, Combine: ir.CombineSum, Silent: ir.SilentDefault, Default: 1.0},
		},
		Publishers: []patch.Publisher{
			{
				ID: "pub-lvl", Bus: "gainbus", From: patch.PortRef{Block: "lvl", Port: "out"},
				Enabled: true, SortKey: 0,
				Transform: []patch.TransformDecl{
					{Op: ir.TransformScaleBias, Params: map[string]any{"scale": 2.0, "bias": 0.0}},
				},
			},
		},
		Listeners: []patch.Listener{
			{ID: "lst-gain", Bus: "gainbus", To: patch.PortRef{Block: "amp", Port: "gain"}},
			{ID: "lst-out", Bus: "gainbus", To: patch.PortRef{Block: "out", Port: "gain"}},
		},
	}
}

func TestCompileRichPatch(t *testing.T) {
	prog, err := Compile(richPatch(), blocks.NewRegistry(), Options{Validate: true})
	require.NoError(t, err)

	assert.Equal(t, ir.TimeCyclic, prog.TimeModel.Kind)
	assert.Equal(t, 2000.0, prog.TimeModel.PeriodMs)
	assert.NotEmpty(t, prog.CompileID)
	assert.NotEmpty(t, prog.PatchRevision)
	require.Len(t, prog.Buses, 1)
	assert.Equal(t, []string{"lst-gain", "lst-out"}, prog.Buses[0].ListenerIDs)
	assert.NotEmpty(t, prog.Schedule.Steps)
	assert.NotEmpty(t, prog.Outputs)
	require.Len(t, prog.State.Cells, 1)
	assert.Equal(t, int32(2), prog.State.Cells[0].Size)
}

func TestCompileDeterministicModuloCompileID(t *testing.T) {
	reg := blocks.NewRegistry()
	opts := Options{Validate: true, CompileID: "0192d2a0-0000-7000-8000-000000000001"}

	a, err := Compile(richPatch(), reg, opts)
	require.NoError(t, err)
	b, err := Compile(richPatch(), reg, opts)
	require.NoError(t, err)

	ja, err := ir.EncodeJSON(a)
	require.NoError(t, err)
	jb, err := ir.EncodeJSON(b)
	require.NoError(t, err)
	assert.Equal(t, string(ja), string(jb), "two compiles of one revision must be byte-identical")
}

func TestCompileRejectsPureCycle(t *testing.T) {
	p := &patch.Patch{
		ID: "p-cycle",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "a", Type: "math.add"},
			{ID: "g", Type: "math.gain"},
		},
		Wires: []patch.Wire{
			wire("w1", "a", "out", "g", "in"),
			wire("w2", "g", "out", "a", "a"),
		},
	}
	_, err := Compile(p, blocks.NewRegistry(), Options{})
	require.Error(t, err)
	assert.True(t, IsIllegalCycleError(err))
	assert.Contains(t, err.Error(), ErrCodeIllegalCycle)
}

func TestCompileAcceptsCycleThroughDelay(t *testing.T) {
	p := &patch.Patch{
		ID: "p-feedback",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "a", Type: "math.add"},
			{ID: "mem", Type: "delay"},
			{ID: "tap", Type: "sink.probe"},
		},
		Wires: []patch.Wire{
			wire("w1", "a", "out", "mem", "in"),
			wire("w2", "mem", "out", "a", "b"),
			wire("w3", "a", "out", "tap", "in"),
		},
	}
	prog, err := Compile(p, blocks.NewRegistry(), Options{Validate: true})
	require.NoError(t, err)
	require.Len(t, prog.Probes, 1)
	assert.Equal(t, "tap", prog.Probes[0].ProbeID)
}

func TestCompileCollectsAllStructuralErrors(t *testing.T) {
	p := &patch.Patch{
		ID: "p-broken",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "dup", Type: "value"},
			{ID: "dup", Type: "value"},
			{ID: "mystery", Type: "no.such.type"},
			{ID: "g", Type: "math.gain"},
		},
		Wires: []patch.Wire{
			wire("w1", "ghost", "out", "g", "in"),
			wire("w2", "dup", "nope", "g", "gain"),
		},
	}
	_, err := Compile(p, blocks.NewRegistry(), Options{})
	require.Error(t, err)

	// One compile surfaces every structural finding, not just the first.
	msg := err.Error()
	assert.Contains(t, msg, ErrCodeDuplicateID)
	assert.Contains(t, msg, ErrCodeUnknownBlockType)
	assert.Contains(t, msg, ErrCodeDanglingConnection)
	assert.Contains(t, msg, ErrCodeUnknownPort)
}

func TestCompileRejectsMultipleProducers(t *testing.T) {
	p := &patch.Patch{
		ID: "p-two-drivers",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "v1", Type: "value"},
			{ID: "v2", Type: "value"},
			{ID: "g", Type: "math.gain"},
		},
		Wires: []patch.Wire{
			wire("w1", "v1", "out", "g", "in"),
			wire("w2", "v2", "out", "g", "in"),
		},
	}
	_, err := Compile(p, blocks.NewRegistry(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeMultipleProducers)
}

func TestCompileTimeModelErrors(t *testing.T) {
	t.Run("no time root", func(t *testing.T) {
		p := &patch.Patch{
			ID:     "p-no-time",
			Blocks: []patch.Block{{ID: "v", Type: "value"}},
		}
		_, err := Compile(p, blocks.NewRegistry(), Options{})
		require.Error(t, err)
		var te *TimeModelError
		require.ErrorAs(t, err, &te)
		assert.Empty(t, te.Blocks)
	})

	t.Run("two time roots", func(t *testing.T) {
		p := &patch.Patch{
			ID: "p-two-times",
			Blocks: []patch.Block{
				{ID: "clk1", Type: "time.infinite"},
				{ID: "clk2", Type: "time.cyclic"},
			},
		}
		_, err := Compile(p, blocks.NewRegistry(), Options{})
		require.Error(t, err)
		var te *TimeModelError
		require.ErrorAs(t, err, &te)
		assert.ElementsMatch(t, []string{"clk1", "clk2"}, te.Blocks)
	})

	t.Run("nonpositive period", func(t *testing.T) {
		p := &patch.Patch{
			ID: "p-bad-period",
			Blocks: []patch.Block{
				{ID: "clk", Type: "time.cyclic", Config: map[string]any{"period_ms": 0.0}},
			},
		}
		_, err := Compile(p, blocks.NewRegistry(), Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), ErrCodeTimeModel)
	})
}

func TestCompileBusPublisherOrdering(t *testing.T) {
	p := &patch.Patch{
		ID: "p-order",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "v1", Type: "value"},
			{ID: "v2", Type: "value"},
			{ID: "v3", Type: "value"},
			{ID: "g", Type: "math.gain"},
		},
		Buses: []patch.BusDecl{
			{ID: "b", Name: "b", Type: sigFloat, Combine: ir.CombineLast, Silent: ir.SilentZero},
		},
		// Declared out of order on purpose: sort_key first, id second.
		Publishers: []patch.Publisher{
			{ID: "z-late", Bus: "b", From: patch.PortRef{Block: "v1", Port: "out"}, Enabled: true, SortKey: 5},
			{ID: "b-tied", Bus: "b", From: patch.PortRef{Block: "v2", Port: "out"}, Enabled: true, SortKey: 1},
			{ID: "a-tied", Bus: "b", From: patch.PortRef{Block: "v3", Port: "out"}, Enabled: true, SortKey: 1},
		},
		Listeners: []patch.Listener{
			{ID: "l", Bus: "b", To: patch.PortRef{Block: "g", Port: "gain"}},
		},
	}
	prog, err := Compile(p, blocks.NewRegistry(), Options{Validate: true})
	require.NoError(t, err)

	require.Len(t, prog.Buses, 1)
	var ids []string
	for _, pub := range prog.Buses[0].Publishers {
		ids = append(ids, pub.PublisherID)
	}
	assert.Equal(t, []string{"a-tied", "b-tied", "z-late"}, ids)
}

func TestCompileWireShadowingListenerWarns(t *testing.T) {
	p := &patch.Patch{
		ID: "p-shadow",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "v", Type: "value"},
			{ID: "g", Type: "math.gain"},
		},
		Wires: []patch.Wire{
			wire("w1", "v", "out", "g", "in"),
		},
		Buses: []patch.BusDecl{
			{ID: "b", Name: "b", Type: sigFloat, Combine: ir.CombineSum, Silent: ir.SilentZero},
		},
		Listeners: []patch.Listener{
			{ID: "l", Bus: "b", To: patch.PortRef{Block: "g", Port: "in"}},
		},
	}
	prog, err := Compile(p, blocks.NewRegistry(), Options{Validate: true})
	require.NoError(t, err)

	require.Len(t, prog.Meta.Warnings, 1)
	assert.Contains(t, prog.Meta.Warnings[0], "shadows")
}

func TestCompileRejectsIneligibleBusType(t *testing.T) {
	p := &patch.Patch{
		ID: "p-bad-bus",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
		},
		Buses: []patch.BusDecl{
			{
				ID: "b", Name: "b",
				Type:    ir.TypeDesc{World: ir.WorldSignal, Domain: ir.DomainFloat},
				Combine: ir.CombineSum, Silent: ir.SilentZero,
			},
		},
	}
	_, err := Compile(p, blocks.NewRegistry(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeBus)
}

func TestCompileStateIDStableAcrossUnrelatedEdits(t *testing.T) {
	reg := blocks.NewRegistry()

	base := &patch.Patch{
		ID: "p-stable",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "v", Type: "value", Config: map[string]any{"value": 1.0}},
			{ID: "mem", Type: "delay", Config: map[string]any{"frames": 3}},
			{ID: "tap", Type: "sink.probe"},
		},
		Wires: []patch.Wire{
			wire("w1", "v", "out", "mem", "in"),
			wire("w2", "mem", "out", "tap", "in"),
		},
	}
	first, err := Compile(base, reg, Options{})
	require.NoError(t, err)

	// Insert an unrelated block ahead of the delay. The delay's StateID
	// must not move, or hot-swaps would drop its ring buffer.
	edited := *base
	edited.Blocks = append([]patch.Block{base.Blocks[0], {ID: "aaa", Type: "value"}}, base.Blocks[1:]...)
	second, err := Compile(&edited, reg, Options{})
	require.NoError(t, err)

	require.Len(t, first.State.Cells, 1)
	require.Len(t, second.State.Cells, 1)
	assert.Equal(t, first.State.Cells[0].StateID, second.State.Cells[0].StateID)
}

// slewBusPatch publishes a value through a slew transform onto a bus.
func slewBusPatch() *patch.Patch {
	return &patch.Patch{
		ID: "p-slew-bus",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "v", Type: "value", Config: map[string]any{"value": 10.0}},
			{ID: "g", Type: "math.gain"},
		},
		Buses: []patch.BusDecl{
			{ID: "b", Name: "b", Type: sigFloat, Combine: ir.CombineSum, Silent: ir.SilentZero},
		},
		Publishers: []patch.Publisher{
			{
				ID: "pv", Bus: "b", From: patch.PortRef{Block: "v", Port: "out"}, Enabled: true,
				Transform: []patch.TransformDecl{
					{Op: ir.TransformSlew, Params: map[string]any{"rate_per_s": 2.0}},
				},
			},
		},
		Listeners: []patch.Listener{
			{ID: "l", Bus: "b", To: patch.PortRef{Block: "g", Port: "gain"}},
		},
	}
}

func TestCompileBusSlewChainDeclaredInStateWrites(t *testing.T) {
	prog, err := Compile(slewBusPatch(), blocks.NewRegistry(), Options{Validate: true})
	require.NoError(t, err)

	require.Len(t, prog.Buses, 1)
	chainID := prog.Buses[0].Publishers[0].Transform
	require.True(t, chainID.IsValid())
	cell := ir.StateID(ir.None)
	for _, s := range prog.Transforms[chainID].Steps {
		if s.Op == ir.TransformSlew {
			cell = s.State
		}
	}
	require.True(t, cell.IsValid(), "slew step claimed no cell")

	var busStep *ir.StepIR
	for i := range prog.Schedule.Steps {
		if prog.Schedule.Steps[i].Kind == ir.StepBusEval {
			busStep = &prog.Schedule.Steps[i]
		}
	}
	require.NotNil(t, busStep)
	assert.Contains(t, busStep.StateWrites, cell)
	assert.Contains(t, busStep.StateReads, cell)
}

func TestCompileSlewBlockDeclaredInStateWrites(t *testing.T) {
	p := &patch.Patch{
		ID: "p-slew-block",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "v", Type: "value", Config: map[string]any{"value": 10.0}},
			{ID: "lim", Type: "slew", Config: map[string]any{"rate_per_s": 2.0}},
			{ID: "tap", Type: "sink.probe"},
		},
		Wires: []patch.Wire{
			wire("w1", "v", "out", "lim", "in"),
			wire("w2", "lim", "out", "tap", "in"),
		},
	}
	prog, err := Compile(p, blocks.NewRegistry(), Options{Validate: true})
	require.NoError(t, err)

	require.Len(t, prog.State.Cells, 1)
	cell := prog.State.Cells[0].StateID
	var limStep *ir.StepIR
	for i := range prog.Schedule.Steps {
		if prog.Schedule.Steps[i].Label == "lim" {
			limStep = &prog.Schedule.Steps[i]
		}
	}
	require.NotNil(t, limStep)
	assert.Contains(t, limStep.StateWrites, cell)
	assert.Contains(t, limStep.StateReads, cell)
}
