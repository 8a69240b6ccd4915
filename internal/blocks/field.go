package blocks

import (
	"fmt"

	"github.com/strandlab/strand/internal/block"
	"github.com/strandlab/strand/internal/builder"
	"github.com/strandlab/strand/internal/ir"
)

// fieldRampType produces the [0,1] ramp over an n-element domain:
// element i carries i/(n-1).
func fieldRampType() *block.Type {
	return &block.Type{
		Name:       "field.ramp",
		Capability: block.CapIdentity,
		Outputs: []block.PortDecl{
			{Name: "out", Type: fieldFloat},
		},
		Lower: func(b *builder.Builder, in block.Inputs, cfg block.Config) (block.Result, error) {
			n := cfg.Int("n", 16)
			if n < 1 {
				return block.Result{}, fmt.Errorf("field.ramp: n must be >= 1, got %d", n)
			}
			domain := b.DomainFromN(int32(n))
			base, err := b.FieldConst(0.0, domain, fieldFloat)
			if err != nil {
				return block.Result{}, err
			}
			out := b.FieldMapIndexed("ramp01", base, fieldFloat)
			return block.Result{
				Outputs: map[string]ir.ValueRef{
					"out": ir.FieldRef(out, ir.None, fieldFloat),
				},
				Declares: &block.Declares{DomainRoot: domain},
			}, nil
		},
	}
}

// fieldColorizeType maps a float field to grayscale colors.
func fieldColorizeType() *block.Type {
	return &block.Type{
		Name:       "field.colorize",
		Capability: block.CapPure,
		Inputs: []block.PortDecl{
			{Name: "in", Type: fieldFloat, Default: 0.0},
		},
		Outputs: []block.PortDecl{
			{Name: "out", Type: fieldColor},
		},
		Lower: func(b *builder.Builder, in block.Inputs, cfg block.Config) (block.Result, error) {
			src, err := fieldArg(in, "in")
			if err != nil {
				return block.Result{}, err
			}
			out := b.FieldMap("gray", src, fieldColor)
			return block.Result{Outputs: map[string]ir.ValueRef{
				"out": ir.FieldRef(out, ir.None, fieldColor),
			}}, nil
		},
	}
}
