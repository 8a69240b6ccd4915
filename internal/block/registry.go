// Package block defines the lowering contract every block type implements
// and the registry the compiler resolves block types against.
//
// The registry is an explicit object passed into the compiler entry point,
// not ambient global state. Population happens once at process start;
// after that the registry is treated as read-only configuration data.
package block

import (
	"fmt"
	"sort"

	"github.com/strandlab/strand/internal/builder"
	"github.com/strandlab/strand/internal/ir"
)

// Capability classifies what a block contributes to the program.
type Capability string

const (
	CapTime     Capability = "time"     // supplies the time model
	CapIdentity Capability = "identity" // supplies a domain root
	CapState    Capability = "state"    // holds cross-frame state
	CapRender   Capability = "render"   // declares a render sink
	CapIO       Capability = "io"       // external input/output
	CapPure     Capability = "pure"     // combinational
)

// ValidCapabilities defines allowed capability names.
var ValidCapabilities = map[Capability]bool{
	CapTime:     true,
	CapIdentity: true,
	CapState:    true,
	CapRender:   true,
	CapIO:       true,
	CapPure:     true,
}

// PortDecl declares one typed input or output port. Default supplies the
// value the default-source materializer uses when the port is unconnected;
// event ports never have defaults.
type PortDecl struct {
	Name    string
	Type    ir.TypeDesc
	Default any
}

// Inputs holds the already-resolved references for a block's input ports.
// By the time lowering runs, the link-resolution pass has decided
// wire > bus > default for every port; lowering never sees the patch.
type Inputs map[string]ir.ValueRef

// Ref returns the reference for a named port. Missing ports indicate a
// compiler bug (link resolution populates every declared port).
func (in Inputs) Ref(name string) (ir.ValueRef, error) {
	ref, ok := in[name]
	if !ok {
		return ir.ValueRef{}, fmt.Errorf("input port %q was not resolved", name)
	}
	return ref, nil
}

// Declares carries program-level facts a block registers during lowering.
// Later passes validate completeness (e.g. a finite time model must supply
// exactly the derived signals that kind requires).
type Declares struct {
	TimeModel  *ir.TimeModelIR
	DomainRoot ir.DomainID // None unless an identity block declared one
	RenderSink string      // output name; empty unless a render block
	Camera     ir.CameraID // None unless a render block registered one
}

// Result is what lowering returns: output references by port name plus
// optional declarations. Outputs must be ValueRefs pointing at table
// entries; lowering can never return closures, so the compiled program
// stays serializable.
//
// Updates are the block's end-of-frame state writes. The compiler emits
// them in the schedule's end-of-frame section after every slot is final,
// which is what gives state blocks their previous-frame output semantics.
type Result struct {
	Outputs  map[string]ir.ValueRef
	Declares *Declares
	Updates  []ir.StateUpdateIR
}

// LowerFunc emits IR for one block instance through the builder. The
// builder's origin is already set to the block being lowered.
type LowerFunc func(b *builder.Builder, in Inputs, cfg Config) (Result, error)

// Type is one registered block type declaration.
type Type struct {
	Name       string
	Capability Capability

	// BreaksCombinationalCycle marks blocks whose outputs depend only on
	// state from previous frames (delays, integrators). A dependency
	// cycle is legal iff at least one member block has this set.
	BreaksCombinationalCycle bool

	Inputs  []PortDecl
	Outputs []PortDecl
	Lower   LowerFunc
}

// InputDecl returns the declared input port with the given name.
func (t *Type) InputDecl(name string) (PortDecl, bool) {
	for _, p := range t.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return PortDecl{}, false
}

// OutputDecl returns the declared output port with the given name.
func (t *Type) OutputDecl(name string) (PortDecl, bool) {
	for _, p := range t.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return PortDecl{}, false
}

// Registry maps block type names to declarations. Not safe for concurrent
// mutation; register everything at startup, then share freely.
type Registry struct {
	types map[string]*Type
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Type)}
}

// RegisterBlockType adds a declaration. Duplicate names, missing lowering
// functions, and unknown capabilities are registration-time errors — they
// indicate a broken catalogue, not a broken patch.
func (r *Registry) RegisterBlockType(t *Type) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("register block type: empty declaration")
	}
	if !ValidCapabilities[t.Capability] {
		return fmt.Errorf("register block type %q: unknown capability %q", t.Name, t.Capability)
	}
	if t.Lower == nil {
		return fmt.Errorf("register block type %q: nil lowering function", t.Name)
	}
	if _, exists := r.types[t.Name]; exists {
		return fmt.Errorf("register block type %q: already registered", t.Name)
	}
	r.types[t.Name] = t
	return nil
}

// MustRegister is like RegisterBlockType but panics on error. Use for
// load-time catalogue population where a failure is a programming error.
func (r *Registry) MustRegister(t *Type) {
	if err := r.RegisterBlockType(t); err != nil {
		panic(err)
	}
}

// GetBlockType returns the declaration for a type name.
func (r *Registry) GetBlockType(name string) (*Type, bool) {
	t, ok := r.types[name]
	return t, ok
}

// HasBlockType reports whether a type name is registered.
func (r *Registry) HasBlockType(name string) bool {
	_, ok := r.types[name]
	return ok
}

// TypeNames returns all registered names in sorted order. Iteration over
// the registry always goes through this; map order never leaks out.
func (r *Registry) TypeNames() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
