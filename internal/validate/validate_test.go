package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlab/strand/internal/blocks"
	"github.com/strandlab/strand/internal/compiler"
	"github.com/strandlab/strand/internal/ir"
	"github.com/strandlab/strand/internal/patch"
	"github.com/strandlab/strand/internal/validate"
)

// goodProgram compiles a small known-valid patch to corrupt in tests. The
// validator trusts nothing about its input, so each test mutates one table
// and expects exactly the matching finding.
func goodProgram(t *testing.T) *ir.CompiledProgram {
	t.Helper()
	p := &patch.Patch{
		ID: "p-validate",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.cyclic", Config: map[string]any{"period_ms": 1000.0}},
			{ID: "osc", Type: "osc.sine"},
			{ID: "mem", Type: "delay", Config: map[string]any{"frames": 2}},
			{ID: "tap", Type: "sink.probe"},
		},
		Wires: []patch.Wire{
			{ID: "w1", From: patch.PortRef{Block: "clk", Port: "phase01"}, To: patch.PortRef{Block: "osc", Port: "phase"}},
			{ID: "w2", From: patch.PortRef{Block: "osc", Port: "out"}, To: patch.PortRef{Block: "mem", Port: "in"}},
			{ID: "w3", From: patch.PortRef{Block: "mem", Port: "out"}, To: patch.PortRef{Block: "tap", Port: "in"}},
		},
	}
	prog, err := compiler.Compile(p, blocks.NewRegistry(), compiler.Options{})
	require.NoError(t, err)
	return prog
}

func codes(findings []*validate.IRValidationError) []string {
	out := make([]string, len(findings))
	for i, f := range findings {
		out[i] = f.Code
	}
	return out
}

func TestValidateAcceptsCompiledProgram(t *testing.T) {
	prog := goodProgram(t)
	assert.NoError(t, validate.Program(prog))
	assert.Empty(t, validate.Check(prog))
}

func TestValidateSigArgOutOfRange(t *testing.T) {
	prog := goodProgram(t)
	for i, n := range prog.Sig {
		if n.Kind == ir.SigZip {
			prog.Sig[i].Args = []ir.SigExprID{n.Args[0], ir.SigExprID(len(prog.Sig) + 50)}
			break
		}
	}
	findings := validate.Check(prog)
	require.NotEmpty(t, findings)
	assert.Contains(t, codes(findings), validate.CodeInvalidSigExprRef)
}

func TestValidateConstOutOfRange(t *testing.T) {
	prog := goodProgram(t)
	for i, n := range prog.Sig {
		if n.Kind == ir.SigConst {
			prog.Sig[i].Const = ir.ConstID(prog.Consts.Len() + 9)
			break
		}
	}
	findings := validate.Check(prog)
	require.NotEmpty(t, findings)
	assert.Contains(t, codes(findings), validate.CodeInvalidConstRef)
}

func TestValidateSlotOutOfRange(t *testing.T) {
	prog := goodProgram(t)
	require.NotEmpty(t, prog.Schedule.Steps)
	prog.Schedule.Steps[0].Reads = append(prog.Schedule.Steps[0].Reads, ir.ValueSlot(len(prog.Slots)+3))

	findings := validate.Check(prog)
	require.NotEmpty(t, findings)
	assert.Contains(t, codes(findings), validate.CodeInvalidSlotRef)
}

func TestValidateStateCellMissing(t *testing.T) {
	prog := goodProgram(t)
	var found bool
	for i, n := range prog.Sig {
		if n.Kind == ir.SigState {
			prog.Sig[i].State = prog.Sig[i].State + 1000
			found = true
			break
		}
	}
	require.True(t, found, "delay patch must produce a state read")

	findings := validate.Check(prog)
	require.NotEmpty(t, findings)
	assert.Contains(t, codes(findings), validate.CodeInvalidStateRef)
}

func TestValidateDetectsSigCycle(t *testing.T) {
	prog := goodProgram(t)
	var mapIdx ir.SigExprID = ir.None
	for i, n := range prog.Sig {
		if n.Kind == ir.SigMap {
			mapIdx = ir.SigExprID(i)
			break
		}
	}
	require.True(t, mapIdx.IsValid(), "sine lowering must produce a map node")
	// Point the map node at itself.
	prog.Sig[mapIdx].Args = []ir.SigExprID{mapIdx}

	findings := validate.Check(prog)
	require.NotEmpty(t, findings)
	assert.Contains(t, codes(findings), validate.CodeCircularReference)
}

func TestValidateTransformChainContinuity(t *testing.T) {
	prog := goodProgram(t)
	prog.Transforms = append(prog.Transforms, ir.TransformChain{
		Steps: []ir.TransformStep{
			{
				Op:       ir.TransformCast,
				FromType: ir.TypeDesc{World: ir.WorldSignal, Domain: ir.DomainFloat},
				ToType:   ir.TypeDesc{World: ir.WorldSignal, Domain: ir.DomainPhase},
			},
			{
				// FromType does not match the previous ToType.
				Op:       ir.TransformScaleBias,
				FromType: ir.TypeDesc{World: ir.WorldSignal, Domain: ir.DomainFloat},
				ToType:   ir.TypeDesc{World: ir.WorldSignal, Domain: ir.DomainFloat},
			},
		},
	})

	findings := validate.Check(prog)
	require.NotEmpty(t, findings)
	assert.Contains(t, codes(findings), validate.CodeTypeMismatch)
}

func TestValidateBusPublisherOrder(t *testing.T) {
	p := &patch.Patch{
		ID: "p-busorder",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "v1", Type: "value"},
			{ID: "v2", Type: "value"},
			{ID: "g", Type: "math.gain"},
		},
		Buses: []patch.BusDecl{
			{
				ID: "b", Name: "b",
				Type:    ir.TypeDesc{World: ir.WorldSignal, Domain: ir.DomainFloat, BusEligible: true},
				Combine: ir.CombineSum, Silent: ir.SilentZero,
			},
		},
		Publishers: []patch.Publisher{
			{ID: "pa", Bus: "b", From: patch.PortRef{Block: "v1", Port: "out"}, Enabled: true, SortKey: 0},
			{ID: "pb", Bus: "b", From: patch.PortRef{Block: "v2", Port: "out"}, Enabled: true, SortKey: 1},
		},
		Listeners: []patch.Listener{
			{ID: "l", Bus: "b", To: patch.PortRef{Block: "g", Port: "gain"}},
		},
	}
	prog, err := compiler.Compile(p, blocks.NewRegistry(), compiler.Options{})
	require.NoError(t, err)
	require.NoError(t, validate.Program(prog))

	// Swap the precompiled publisher order; the validator must notice.
	pubs := prog.Buses[0].Publishers
	pubs[0], pubs[1] = pubs[1], pubs[0]
	err = validate.Program(prog)
	require.Error(t, err)

	var ve *validate.IRValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, validate.CodeInvalidBusRef, ve.Code)
}

func TestValidateProgramJoinsAllFindings(t *testing.T) {
	prog := goodProgram(t)
	prog.Schedule.Steps[0].Reads = append(prog.Schedule.Steps[0].Reads, ir.ValueSlot(999))
	prog.Probes = append(prog.Probes, ir.DebugProbeIR{ProbeID: "ghost", Slot: 998})

	findings := validate.Check(prog)
	assert.GreaterOrEqual(t, len(findings), 2, "validator collects findings instead of stopping at the first")
}

func TestValidateSlewCellRequiresStateWrites(t *testing.T) {
	p := &patch.Patch{
		ID: "p-slew-auth",
		Blocks: []patch.Block{
			{ID: "clk", Type: "time.infinite"},
			{ID: "v", Type: "value", Config: map[string]any{"value": 10.0}},
			{ID: "g", Type: "math.gain"},
		},
		Buses: []patch.BusDecl{
			{
				ID: "b", Name: "b",
				Type:    ir.TypeDesc{World: ir.WorldSignal, Domain: ir.DomainFloat, BusEligible: true},
				Combine: ir.CombineSum, Silent: ir.SilentZero,
			},
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
	prog, err := compiler.Compile(p, blocks.NewRegistry(), compiler.Options{})
	require.NoError(t, err)
	require.NoError(t, validate.Program(prog))

	// Strip the authorization; the slew cell write must now be flagged.
	for i := range prog.Schedule.Steps {
		if prog.Schedule.Steps[i].Kind == ir.StepBusEval {
			prog.Schedule.Steps[i].StateWrites = nil
		}
	}
	findings := validate.Check(prog)
	require.NotEmpty(t, findings)
	assert.Contains(t, codes(findings), validate.CodeInvalidStateRef)
}
