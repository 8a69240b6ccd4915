package blocks

import (
	"fmt"

	"github.com/strandlab/strand/internal/block"
	"github.com/strandlab/strand/internal/builder"
	"github.com/strandlab/strand/internal/ir"
)

// sinkScopeType is the built-in render sink: a field of samples plus a
// per-frame gain. The compiler materializes the field input into a typed
// buffer and exposes the gain as a slot output; the renderer consumes
// both through the program's output specs.
func sinkScopeType() *block.Type {
	return &block.Type{
		Name:       "sink.scope",
		Capability: block.CapRender,
		Inputs: []block.PortDecl{
			{Name: "samples", Type: fieldFloat, Default: 0.0},
			{Name: "gain", Type: sigFloat, Default: 1.0},
		},
		Lower: func(b *builder.Builder, in block.Inputs, cfg block.Config) (block.Result, error) {
			params, err := b.AllocConst(map[string]any{
				"height": cfg.Float("height", 1),
			})
			if err != nil {
				return block.Result{}, err
			}
			cam := b.AddCamera(ir.CameraIR{Kind: "ortho", Params: params})
			return block.Result{
				Outputs: map[string]ir.ValueRef{},
				Declares: &block.Declares{
					RenderSink: cfg.String("name", "scope"),
					Camera:     cam,
				},
			}, nil
		},
	}
}

// sinkProbeType taps its input slot for the diagnostics panel. The probe
// id defaults to the block id.
func sinkProbeType() *block.Type {
	return &block.Type{
		Name:       "sink.probe",
		Capability: block.CapIO,
		Inputs: []block.PortDecl{
			{Name: "in", Type: sigFloat, Default: 0.0},
		},
		Lower: func(b *builder.Builder, in block.Inputs, cfg block.Config) (block.Result, error) {
			ref, err := in.Ref("in")
			if err != nil {
				return block.Result{}, err
			}
			if !ref.Slot.IsValid() {
				return block.Result{}, fmt.Errorf("sink.probe: input is not slot-backed")
			}
			blockID := b.Origin().Block
			b.RegisterDebugProbe(ir.DebugProbeIR{
				ProbeID: cfg.String("probe_id", blockID),
				Block:   blockID,
				Port:    "in",
				Slot:    ref.Slot,
			})
			return block.Result{Outputs: map[string]ir.ValueRef{}}, nil
		},
	}
}
