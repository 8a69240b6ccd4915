package ir

// World is the top-level category of a value's time/shape behavior.
type World string

const (
	WorldSignal World = "signal" // varies over time, scalar-shaped per frame
	WorldField  World = "field"  // per-element array over a fixed-size domain
	WorldEvent  World = "event"  // discrete occurrences within a frame
	WorldScalar World = "scalar" // frame-invariant single value
	WorldConfig World = "config" // compile-time configuration value
)

// ValidWorlds defines allowed world names.
var ValidWorlds = map[World]bool{
	WorldSignal: true,
	WorldField:  true,
	WorldEvent:  true,
	WorldScalar: true,
	WorldConfig: true,
}

// Domain is the element domain of a value within its world.
type Domain string

const (
	DomainFloat   Domain = "float"
	DomainInt     Domain = "int"
	DomainBool    Domain = "bool"
	DomainVec2    Domain = "vec2"
	DomainVec3    Domain = "vec3"
	DomainColor   Domain = "color"
	DomainString  Domain = "string"
	DomainPhase   Domain = "phase"  // [0,1) wrapped float
	DomainTrigger Domain = "trigger"
	DomainDomain  Domain = "domain" // an index-space handle ("N elements")
)

// ValidDomains defines allowed domain names.
var ValidDomains = map[Domain]bool{
	DomainFloat:   true,
	DomainInt:     true,
	DomainBool:    true,
	DomainVec2:    true,
	DomainVec3:    true,
	DomainColor:   true,
	DomainString:  true,
	DomainPhase:   true,
	DomainTrigger: true,
	DomainDomain:  true,
}

// NumericDomains are the domains whose per-element representation is a
// single float64. Signal defaults for these domains materialize as sigConst
// nodes; everything else goes to the const pool verbatim.
var NumericDomains = map[Domain]bool{
	DomainFloat: true,
	DomainInt:   true,
	DomainPhase: true,
}

// TypeDesc describes the type of a wire, port, slot, or expression node.
// TypeDesc is an immutable value type; two descriptors are compared by
// value. The wiring compatibility relation over (world, domain) pairs is
// defined by the editor, not here.
type TypeDesc struct {
	World       World  `json:"world"`
	Domain      Domain `json:"domain"`
	Category    string `json:"category,omitempty"`
	BusEligible bool   `json:"bus_eligible,omitempty"`
}

// String renders the descriptor as "world/domain" for error messages.
func (t TypeDesc) String() string {
	s := string(t.World) + "/" + string(t.Domain)
	if t.Category != "" {
		s += "#" + t.Category
	}
	return s
}

// Sig/Field/Event expression ids, slots, and the other dense ID spaces.
// All are int32 indices into their owning table. None (-1) is the sentinel
// for an absent reference; it never appears in a validated program except
// where a field is explicitly optional.
type (
	// SigExprID indexes CompiledProgram.Sig.
	SigExprID int32
	// FieldExprID indexes CompiledProgram.Field.
	FieldExprID int32
	// EventExprID indexes CompiledProgram.Event.
	EventExprID int32
	// TransformID indexes CompiledProgram.Transforms.
	TransformID int32
	// ConstID indexes the const pool.
	ConstID int32
	// ValueSlot indexes the runtime ValueStore.
	ValueSlot int32
	// StateID identifies a persistent state cell across hot-swaps.
	StateID int32
	// StepID indexes the schedule step list.
	StepID int32
	// DomainID indexes the domain table.
	DomainID int32
	// CameraID indexes the camera table.
	CameraID int32
	// NodeID indexes the dependency-graph node arena.
	NodeID int32
	// BufferID identifies a materialized typed buffer.
	BufferID int32
)

// None is the sentinel for absent int32-typed references.
const None = -1

// IsValid reports whether the id is a real table index.
func (id SigExprID) IsValid() bool   { return id >= 0 }
func (id FieldExprID) IsValid() bool { return id >= 0 }
func (id EventExprID) IsValid() bool { return id >= 0 }
func (id TransformID) IsValid() bool { return id >= 0 }
func (id ConstID) IsValid() bool     { return id >= 0 }
func (id ValueSlot) IsValid() bool   { return id >= 0 }
func (id StateID) IsValid() bool     { return id >= 0 }
func (id DomainID) IsValid() bool    { return id >= 0 }
func (id CameraID) IsValid() bool    { return id >= 0 }
func (id NodeID) IsValid() bool      { return id >= 0 }
func (id BufferID) IsValid() bool    { return id >= 0 }

// RefKind discriminates what a ValueRef points at.
type RefKind string

const (
	RefSig    RefKind = "sig"    // Index is a SigExprID
	RefField  RefKind = "field"  // Index is a FieldExprID
	RefEvent  RefKind = "event"  // Index is an EventExprID
	RefConst  RefKind = "const"  // Index is a ConstID
	RefDomain RefKind = "domain" // Index is a DomainID
	RefNone   RefKind = "none"   // unconnected event input
)

// ValueRef is the packed reference handed to block lowering for each
// resolved input and returned for each output. It always points at table
// entries, never at live values. Slot is the ValueSlot the referenced
// expression is registered to, or None when the reference is not
// slot-backed (consts, domains).
type ValueRef struct {
	Kind  RefKind   `json:"kind"`
	Index int32     `json:"index"`
	Slot  ValueSlot `json:"slot"`
	Type  TypeDesc  `json:"type"`
}

// NoneRef is the ValueRef for an unconnected event input, which has no
// default source.
func NoneRef(t TypeDesc) ValueRef {
	return ValueRef{Kind: RefNone, Index: None, Slot: None, Type: t}
}

// SigRef constructs a signal-expression reference.
func SigRef(id SigExprID, slot ValueSlot, t TypeDesc) ValueRef {
	return ValueRef{Kind: RefSig, Index: int32(id), Slot: slot, Type: t}
}

// FieldRef constructs a field-expression reference.
func FieldRef(id FieldExprID, slot ValueSlot, t TypeDesc) ValueRef {
	return ValueRef{Kind: RefField, Index: int32(id), Slot: slot, Type: t}
}

// EventRef constructs an event-expression reference.
func EventRef(id EventExprID, slot ValueSlot, t TypeDesc) ValueRef {
	return ValueRef{Kind: RefEvent, Index: int32(id), Slot: slot, Type: t}
}

// ConstRef constructs a const-pool reference.
func ConstRef(id ConstID, t TypeDesc) ValueRef {
	return ValueRef{Kind: RefConst, Index: int32(id), Slot: None, Type: t}
}

// DomainRef constructs a domain-table reference.
func DomainRef(id DomainID, t TypeDesc) ValueRef {
	return ValueRef{Kind: RefDomain, Index: int32(id), Slot: None, Type: t}
}
