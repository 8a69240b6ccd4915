package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlab/strand/internal/ir"
)

// silentBusProg builds a one-bus program whose only publisher is disabled,
// so combining must fall back to the declared silent value.
func silentBusProg(world ir.World, combine ir.CombineMode, silent ir.SilentMode, value any) *ir.CompiledProgram {
	prog := &ir.CompiledProgram{
		Consts: ir.NewConstPool(),
		Buses: []ir.BusIR{{
			BusID:      "mix",
			Name:       "mix",
			Type:       ir.TypeDesc{World: world, Domain: ir.DomainFloat, BusEligible: true},
			Combine:    combine,
			Silent:     silent,
			DefaultVal: ir.None,
			OutSlot:    ir.None,
			Publishers: []ir.PublisherIR{
				{PublisherID: "pa", Enabled: false, SrcSlot: ir.None, Transform: ir.None},
			},
		}},
	}
	if silent != ir.SilentZero {
		prog.Buses[0].DefaultVal = prog.Consts.MustIntern(value)
	}
	return prog
}

func silentBusExecutor(t *testing.T, prog *ir.CompiledProgram) *Executor {
	t.Helper()
	exec, err := NewExecutor(prog, nil, false)
	require.NoError(t, err)
	return exec
}

func TestCombineSilentConstAcrossWorlds(t *testing.T) {
	sigProg := silentBusProg(ir.WorldSignal, ir.CombineSum, ir.SilentConst, 7.5)
	v, err := silentBusExecutor(t, sigProg).combineSigBus(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 7.5, v)

	fieldProg := silentBusProg(ir.WorldField, ir.CombineSum, ir.SilentConst, 7.5)
	fv, err := silentBusExecutor(t, fieldProg).combineFieldBus(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{7.5}, fv)

	evProg := silentBusProg(ir.WorldEvent, ir.CombineMerge, ir.SilentConst, 7.5)
	ev, err := silentBusExecutor(t, evProg).combineEventBus(0, 0)
	require.NoError(t, err)
	assert.Equal(t, EventList{7.5}, ev)
}

func TestCombineSilentConstFieldRun(t *testing.T) {
	prog := silentBusProg(ir.WorldField, ir.CombineAverage, ir.SilentConst, []float64{1, 2, 3})
	fv, err := silentBusExecutor(t, prog).combineFieldBus(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, fv)

	// The silent run must not alias the const pool.
	fv[0] = 99
	again, err := silentBusExecutor(t, prog).combineFieldBus(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, again)
}

func TestCombineSilentZeroYieldsEmpty(t *testing.T) {
	fieldProg := silentBusProg(ir.WorldField, ir.CombineSum, ir.SilentZero, nil)
	fv, err := silentBusExecutor(t, fieldProg).combineFieldBus(0, 0)
	require.NoError(t, err)
	assert.Empty(t, fv)

	evProg := silentBusProg(ir.WorldEvent, ir.CombineMerge, ir.SilentZero, nil)
	ev, err := silentBusExecutor(t, evProg).combineEventBus(0, 0)
	require.NoError(t, err)
	assert.Empty(t, ev)
}
