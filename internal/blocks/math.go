package blocks

import (
	"math"

	"github.com/strandlab/strand/internal/block"
	"github.com/strandlab/strand/internal/builder"
	"github.com/strandlab/strand/internal/ir"
)

func valueType() *block.Type {
	return &block.Type{
		Name:       "value",
		Capability: block.CapPure,
		Outputs: []block.PortDecl{
			{Name: "out", Type: sigFloat},
		},
		Lower: func(b *builder.Builder, in block.Inputs, cfg block.Config) (block.Result, error) {
			id, err := b.SigConst(cfg.Float("value", 0), sigFloat)
			if err != nil {
				return block.Result{}, err
			}
			return block.Result{Outputs: map[string]ir.ValueRef{
				"out": ir.SigRef(id, ir.None, sigFloat),
			}}, nil
		},
	}
}

func mathAddType() *block.Type {
	return &block.Type{
		Name:       "math.add",
		Capability: block.CapPure,
		Inputs: []block.PortDecl{
			{Name: "a", Type: sigFloat, Default: 0.0},
			{Name: "b", Type: sigFloat, Default: 0.0},
		},
		Outputs: []block.PortDecl{
			{Name: "out", Type: sigFloat},
		},
		Lower: func(b *builder.Builder, in block.Inputs, cfg block.Config) (block.Result, error) {
			a, err := sigArg(in, "a")
			if err != nil {
				return block.Result{}, err
			}
			c, err := sigArg(in, "b")
			if err != nil {
				return block.Result{}, err
			}
			out := b.SigZip("add", a, c, sigFloat)
			return block.Result{Outputs: map[string]ir.ValueRef{
				"out": ir.SigRef(out, ir.None, sigFloat),
			}}, nil
		},
	}
}

func mathGainType() *block.Type {
	return &block.Type{
		Name:       "math.gain",
		Capability: block.CapPure,
		Inputs: []block.PortDecl{
			{Name: "in", Type: sigFloat, Default: 0.0},
			{Name: "gain", Type: sigFloat, Default: 1.0},
		},
		Outputs: []block.PortDecl{
			{Name: "out", Type: sigFloat},
		},
		Lower: func(b *builder.Builder, in block.Inputs, cfg block.Config) (block.Result, error) {
			src, err := sigArg(in, "in")
			if err != nil {
				return block.Result{}, err
			}
			gain, err := sigArg(in, "gain")
			if err != nil {
				return block.Result{}, err
			}
			out := b.SigZip("mul", src, gain, sigFloat)
			return block.Result{Outputs: map[string]ir.ValueRef{
				"out": ir.SigRef(out, ir.None, sigFloat),
			}}, nil
		},
	}
}

// oscSineType turns a phase into a sine wave: amp * sin(2*pi*phase).
func oscSineType() *block.Type {
	return &block.Type{
		Name:       "osc.sine",
		Capability: block.CapPure,
		Inputs: []block.PortDecl{
			{Name: "phase", Type: sigPhase, Default: 0.0},
			{Name: "amp", Type: sigFloat, Default: 1.0},
		},
		Outputs: []block.PortDecl{
			{Name: "out", Type: sigFloat},
		},
		Lower: func(b *builder.Builder, in block.Inputs, cfg block.Config) (block.Result, error) {
			phase, err := sigArg(in, "phase")
			if err != nil {
				return block.Result{}, err
			}
			amp, err := sigArg(in, "amp")
			if err != nil {
				return block.Result{}, err
			}
			tau, err := b.SigConst(2*math.Pi, sigFloat)
			if err != nil {
				return block.Result{}, err
			}
			rad := b.SigZip("mul", tau, phase, sigFloat)
			wave := b.SigMap("sin", rad, sigFloat)
			out := b.SigZip("mul", amp, wave, sigFloat)
			return block.Result{Outputs: map[string]ir.ValueRef{
				"out": ir.SigRef(out, ir.None, sigFloat),
			}}, nil
		},
	}
}
