// Package compiler lowers a source patch into an ir.CompiledProgram.
//
// Compilation is a fixed pass pipeline over an explicit block registry:
//
//	normalize -> dependency graph -> cycle legality -> time resolution
//	-> topological order -> lowering/link resolution -> schedule
//
// The output is deterministic: compiling the same patch revision twice
// yields byte-identical programs modulo the CompileID. Every ordering
// decision traces to one of the enumerated determinism inputs stamped
// into the schedule.
package compiler

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/strandlab/strand/internal/block"
	"github.com/strandlab/strand/internal/builder"
	"github.com/strandlab/strand/internal/ir"
	"github.com/strandlab/strand/internal/patch"
	"github.com/strandlab/strand/internal/validate"
)

// Options configures one compile invocation.
type Options struct {
	// Validate runs the independent IR validator on the finished program
	// and fails the compile on any finding. The validator is always
	// compiled in; this flag only decides whether it runs.
	Validate bool

	// CompileID overrides the generated compile id. Tests use this to get
	// reproducible artifacts; production leaves it empty for a fresh
	// UUIDv7 per compile.
	CompileID string

	Logger *slog.Logger
}

// Compile lowers a patch against the given registry. On success the
// returned program is complete and self-contained: tables, schedule,
// state layout, outputs, and source map. Structural, cycle, time, and
// link errors are typed; use errors.As to classify them.
func Compile(p *patch.Patch, reg *block.Registry, opts Options) (*ir.CompiledProgram, error) {
	if p == nil {
		return nil, fmt.Errorf("compile: nil patch")
	}
	if reg == nil {
		return nil, fmt.Errorf("compile: nil registry")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	n, err := normalize(p, reg)
	if err != nil {
		return nil, err
	}

	g := buildDepGraph(p, n)
	if errs := checkCycles(g); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	order, err := topoOrder(g)
	if err != nil {
		return nil, err
	}

	ls := &lowerState{
		p:         p,
		n:         n,
		g:         g,
		b:         builder.New(),
		portSlot:  make(map[patch.PortRef]ir.ValueSlot),
		busOut:    make([]ir.ValueSlot, len(p.Buses)),
		busDomain: make([]ir.DomainID, len(p.Buses)),
		outputs:   make([]map[string]ir.ValueRef, len(p.Blocks)),
		buses:     make([]ir.BusIR, len(p.Buses)),
	}
	for i := range ls.busDomain {
		ls.busDomain[i] = ir.None
	}
	planSlots(ls)

	timeRoot, err := findTimeRoot(ls)
	if err != nil {
		return nil, err
	}

	for _, node := range order {
		idx := int(node)
		switch {
		case g.kinds[idx] == nodeBus:
			err = lowerBus(ls, idx-len(p.Blocks), node)
		case idx == timeRoot:
			err = lowerTimeRoot(ls, idx, node)
		default:
			err = lowerBlock(ls, idx, node)
		}
		if err != nil {
			return nil, err
		}
	}
	if ls.timeModel == nil {
		return nil, &TimeModelError{Message: "time root was never lowered"}
	}

	for _, w := range n.warnings {
		ls.b.Warn("%s", w)
	}

	if err := ls.b.Err(); err != nil {
		return nil, &LinkError{Code: ErrCodeLower, Message: "state allocation", Err: err}
	}

	tables := ls.b.Build()
	schedule := assembleSchedule(ls, tables.Probes, len(tables.Slots))

	revision, err := p.RevisionHash()
	if err != nil {
		return nil, err
	}
	compileID := opts.CompileID
	if compileID == "" {
		v7, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("compile id: %w", err)
		}
		compileID = v7.String()
	}

	prog := &ir.CompiledProgram{
		IRVersion:     ir.IRVersion,
		PatchID:       p.ID,
		PatchRevision: revision,
		CompileID:     compileID,
		Seed:          p.Seed,
		TimeModel:     *ls.timeModel,
		Sig:           tables.Sig,
		Field:         tables.Field,
		Event:         tables.Event,
		Transforms:    tables.Transforms,
		Consts:        tables.Consts,
		Buses:         ls.buses,
		Slots:         tables.Slots,
		Domains:       tables.Domains,
		Cameras:       tables.Cameras,
		State:         tables.State,
		Seeds:         tables.Seeds,
		Schedule:      schedule,
		Outputs:       ls.outputSpecs,
		Probes:        tables.Probes,
		Meta:          tables.Meta,
	}

	logger.Debug("compiled patch",
		"patch_id", p.ID,
		"revision", revision,
		"compile_id", compileID,
		"blocks", len(p.Blocks),
		"buses", len(p.Buses),
		"sig_exprs", len(prog.Sig),
		"slots", len(prog.Slots),
		"steps", len(schedule.Steps),
		"warnings", len(prog.Meta.Warnings))

	if opts.Validate {
		if err := validate.Program(prog); err != nil {
			return nil, fmt.Errorf("post-compile validation: %w", err)
		}
	}
	return prog, nil
}
