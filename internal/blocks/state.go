package blocks

import (
	"fmt"

	"github.com/strandlab/strand/internal/block"
	"github.com/strandlab/strand/internal/builder"
	"github.com/strandlab/strand/internal/ir"
)

// delayType is a ring-buffer delay line. Its output reads state written
// in previous frames, which is why it is the canonical cycle breaker: a
// feedback loop through a delay never reads a value produced in the same
// frame.
func delayType() *block.Type {
	return &block.Type{
		Name:                     "delay",
		Capability:               block.CapState,
		BreaksCombinationalCycle: true,
		Inputs: []block.PortDecl{
			{Name: "in", Type: sigFloat, Default: 0.0},
		},
		Outputs: []block.PortDecl{
			{Name: "out", Type: sigFloat},
		},
		Lower: func(b *builder.Builder, in block.Inputs, cfg block.Config) (block.Result, error) {
			frames := cfg.Int("frames", 1)
			if frames < 1 {
				return block.Result{}, fmt.Errorf("delay: frames must be >= 1, got %d", frames)
			}
			src, err := sigArg(in, "in")
			if err != nil {
				return block.Result{}, err
			}
			initial := ir.ConstID(ir.None)
			if _, set := cfg["initial"]; set {
				c, err := b.AllocConst(cfg.Float("initial", 0))
				if err != nil {
					return block.Result{}, err
				}
				initial = c
			}

			cell := b.AllocState(b.Origin().Block, ir.StateRoleDelay, 0, ir.StateF64, int32(frames), initial)
			// Tap k reads the value pushed k+1 frames ago, so a delay of
			// `frames` reads tap frames-1.
			out := b.SigStateRead(cell, int32(frames-1), sigFloat)
			return block.Result{
				Outputs: map[string]ir.ValueRef{
					"out": ir.SigRef(out, ir.None, sigFloat),
				},
				Updates: []ir.StateUpdateIR{
					{State: cell, Kind: ir.RefSig, Index: int32(src), Op: ir.StatePush},
				},
			}, nil
		},
	}
}

// slewType rate-limits its input. The limiter is expressed as a stateful
// slew transform step so the runtime's transform machinery does the work;
// the block only claims the cell and wires the chain. Output depends on
// the current input, so slew does not break cycles.
func slewType() *block.Type {
	return &block.Type{
		Name:       "slew",
		Capability: block.CapState,
		Inputs: []block.PortDecl{
			{Name: "in", Type: sigFloat, Default: 0.0},
		},
		Outputs: []block.PortDecl{
			{Name: "out", Type: sigFloat},
		},
		Lower: func(b *builder.Builder, in block.Inputs, cfg block.Config) (block.Result, error) {
			src, err := sigArg(in, "in")
			if err != nil {
				return block.Result{}, err
			}
			params, err := b.AllocConst(map[string]any{
				"rate_per_s": cfg.Float("rate_per_s", 1),
			})
			if err != nil {
				return block.Result{}, err
			}
			cell := b.AllocState(b.Origin().Block, ir.StateRoleSlew, 0, ir.StateF64, 1, ir.None)
			chain := b.AddTransform(ir.TransformChain{Steps: []ir.TransformStep{{
				Op:       ir.TransformSlew,
				FromType: sigFloat,
				ToType:   sigFloat,
				Cost:     3,
				Params:   params,
				State:    cell,
			}}})
			out := b.SigTransform(chain, src, sigFloat)
			return block.Result{Outputs: map[string]ir.ValueRef{
				"out": ir.SigRef(out, ir.None, sigFloat),
			}}, nil
		},
	}
}
