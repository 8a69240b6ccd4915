// Package blocks is the built-in block catalogue: time roots, value
// sources, signal math, state blocks, field sources, and render/debug
// sinks. Register populates a registry with every built-in type; hosts
// with custom blocks register their own types on top.
package blocks

import (
	"fmt"

	"github.com/strandlab/strand/internal/block"
	"github.com/strandlab/strand/internal/ir"
)

// Shared port types. BusEligible marks the types buses may carry.
var (
	sigFloat   = ir.TypeDesc{World: ir.WorldSignal, Domain: ir.DomainFloat, BusEligible: true}
	sigPhase   = ir.TypeDesc{World: ir.WorldSignal, Domain: ir.DomainPhase, BusEligible: true}
	evTrigger  = ir.TypeDesc{World: ir.WorldEvent, Domain: ir.DomainTrigger, BusEligible: true}
	fieldFloat = ir.TypeDesc{World: ir.WorldField, Domain: ir.DomainFloat, BusEligible: true}
	fieldColor = ir.TypeDesc{World: ir.WorldField, Domain: ir.DomainColor, BusEligible: true}
)

// Register adds every built-in block type to reg.
func Register(reg *block.Registry) {
	reg.MustRegister(timeCyclicType())
	reg.MustRegister(timeFiniteType())
	reg.MustRegister(timeInfiniteType())
	reg.MustRegister(valueType())
	reg.MustRegister(mathAddType())
	reg.MustRegister(mathGainType())
	reg.MustRegister(oscSineType())
	reg.MustRegister(delayType())
	reg.MustRegister(slewType())
	reg.MustRegister(fieldRampType())
	reg.MustRegister(fieldColorizeType())
	reg.MustRegister(sinkScopeType())
	reg.MustRegister(sinkProbeType())
}

// NewRegistry returns a registry pre-populated with the built-ins.
func NewRegistry() *block.Registry {
	reg := block.NewRegistry()
	Register(reg)
	return reg
}

// sigArg narrows a resolved input to its signal expression id. Signal
// ports always resolve to sig-kind refs (wires become slot reads and
// numeric defaults become const nodes); anything else is a link bug.
func sigArg(in block.Inputs, name string) (ir.SigExprID, error) {
	ref, err := in.Ref(name)
	if err != nil {
		return ir.None, err
	}
	if ref.Kind != ir.RefSig {
		return ir.None, fmt.Errorf("input %q resolved to %q, want a signal", name, ref.Kind)
	}
	return ir.SigExprID(ref.Index), nil
}

// fieldArg narrows a resolved input to its field expression id.
func fieldArg(in block.Inputs, name string) (ir.FieldExprID, error) {
	ref, err := in.Ref(name)
	if err != nil {
		return ir.None, err
	}
	if ref.Kind != ir.RefField {
		return ir.None, fmt.Errorf("input %q resolved to %q, want a field", name, ref.Kind)
	}
	return ir.FieldExprID(ref.Index), nil
}
