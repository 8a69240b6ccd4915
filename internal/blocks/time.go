package blocks

import (
	"github.com/strandlab/strand/internal/block"
	"github.com/strandlab/strand/internal/builder"
	"github.com/strandlab/strand/internal/ir"
)

// Time roots declare the program's time model and nothing else. The
// compiler owns the derived time signals (tModelMs, phase01, progress01,
// wrapEvent); the output ports declared here exist so wires and
// publishers have something to attach to, and the compiler wires the
// synthesized signals into them.

func timeCyclicType() *block.Type {
	return &block.Type{
		Name:       "time.cyclic",
		Capability: block.CapTime,
		Outputs: []block.PortDecl{
			{Name: "tModelMs", Type: sigFloat},
			{Name: "phase01", Type: sigPhase},
			{Name: "wrapEvent", Type: evTrigger},
		},
		Lower: func(b *builder.Builder, in block.Inputs, cfg block.Config) (block.Result, error) {
			return block.Result{Declares: &block.Declares{
				TimeModel: &ir.TimeModelIR{
					Kind:     ir.TimeCyclic,
					PeriodMs: cfg.Float("period_ms", 4000),
				},
			}}, nil
		},
	}
}

func timeFiniteType() *block.Type {
	return &block.Type{
		Name:       "time.finite",
		Capability: block.CapTime,
		Outputs: []block.PortDecl{
			{Name: "tModelMs", Type: sigFloat},
			{Name: "progress01", Type: sigFloat},
		},
		Lower: func(b *builder.Builder, in block.Inputs, cfg block.Config) (block.Result, error) {
			return block.Result{Declares: &block.Declares{
				TimeModel: &ir.TimeModelIR{
					Kind:       ir.TimeFinite,
					DurationMs: cfg.Float("duration_ms", 10000),
				},
			}}, nil
		},
	}
}

func timeInfiniteType() *block.Type {
	return &block.Type{
		Name:       "time.infinite",
		Capability: block.CapTime,
		Outputs: []block.PortDecl{
			{Name: "tModelMs", Type: sigFloat},
		},
		Lower: func(b *builder.Builder, in block.Inputs, cfg block.Config) (block.Result, error) {
			return block.Result{Declares: &block.Declares{
				TimeModel: &ir.TimeModelIR{Kind: ir.TimeInfinite},
			}}, nil
		},
	}
}
