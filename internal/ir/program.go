package ir

import "fmt"

// TimeKind names the program's time topology.
type TimeKind string

const (
	TimeFinite   TimeKind = "finite"   // runs DurationMs then holds
	TimeCyclic   TimeKind = "cyclic"   // wraps every PeriodMs
	TimeInfinite TimeKind = "infinite" // unbounded model time
)

// ValidTimeKinds defines allowed time model kinds.
var ValidTimeKinds = map[TimeKind]bool{
	TimeFinite:   true,
	TimeCyclic:   true,
	TimeInfinite: true,
}

// TimeModelIR is the program's time model, supplied by exactly one time
// root block. Each kind requires a specific derived-signal set:
//   - finite:   tModelMs + progress01
//   - cyclic:   tModelMs + phase01 + wrapEvent
//   - infinite: tModelMs
type TimeModelIR struct {
	Kind       TimeKind `json:"kind"`
	DurationMs float64  `json:"duration_ms,omitempty"`
	PeriodMs   float64  `json:"period_ms,omitempty"`
}

// DomainIR is one fixed-size index space fields are defined over.
type DomainIR struct {
	Count int32 `json:"count"`
}

// CameraIR is a camera declaration registered by a render block. Params
// points at a const-pool object; the out-of-scope renderer interprets it.
type CameraIR struct {
	Kind   string  `json:"kind"`
	Params ConstID `json:"params"`
}

// SlotStorage names the ValueStore backing array for a slot.
type SlotStorage string

const (
	SlotF64 SlotStorage = "f64"
	SlotF32 SlotStorage = "f32"
	SlotI32 SlotStorage = "i32"
	SlotU32 SlotStorage = "u32"
	SlotObj SlotStorage = "obj" // complex values: colors, strings, event lists
)

// SlotMetaIR addresses one ValueSlot: which backing array and at what
// offset. A slot has exactly one producer and any number of consumers for
// the lifetime of one compiled program.
type SlotMetaIR struct {
	Type    TypeDesc    `json:"type"`
	Storage SlotStorage `json:"storage"`
	Offset  int32       `json:"offset"`
}

// StorageForType maps a slot's TypeDesc to its ValueStore storage class.
// Numeric signal-shaped values go to f64; everything structured goes to
// the object array.
func StorageForType(t TypeDesc) SlotStorage {
	switch t.World {
	case WorldSignal, WorldScalar, WorldConfig:
		if NumericDomains[t.Domain] {
			return SlotF64
		}
		return SlotObj
	default:
		// fields materialize into buffers, events are occurrence lists;
		// their slots carry the object representation
		return SlotObj
	}
}

// OutputKind names what an OutputSpec exposes.
type OutputKind string

const (
	OutputBuffer OutputKind = "buffer" // materialized typed buffer
	OutputSlot   OutputKind = "slot"   // per-frame scalar value
)

// OutputSpec is one render-oriented program output. The renderer consumes
// typed buffers and slot values only; it never receives closures or live
// objects.
type OutputSpec struct {
	Name   string     `json:"name"`
	Kind   OutputKind `json:"kind"`
	Buffer BufferID   `json:"buffer,omitempty"`
	Slot   ValueSlot  `json:"slot,omitempty"`
	Type   TypeDesc   `json:"type"`
}

// DebugProbeIR taps one slot for the diagnostics panel.
type DebugProbeIR struct {
	ProbeID string    `json:"probe_id"`
	Block   string    `json:"block"`
	Port    string    `json:"port"`
	Slot    ValueSlot `json:"slot"`
}

// SlotSeedIR seeds one slot from the const pool at program load. Seeded
// slots have no producer step; the initialization write happens once,
// before the first frame, and the compile-time guarantee that no step
// writes the slot keeps the one-writer invariant intact.
type SlotSeedIR struct {
	Slot  ValueSlot `json:"slot"`
	Const ConstID   `json:"const"`
}

// SourceRef traces an expression or slot back to the patch element that
// produced it.
type SourceRef struct {
	Block string `json:"block"`
	Port  string `json:"port,omitempty"`
}

// MetaIR carries diagnostics: the source map (every expression and slot is
// traceable to a (block, port)) and compile warnings.
type MetaIR struct {
	SigSource   []SourceRef `json:"sig_source"`
	FieldSource []SourceRef `json:"field_source"`
	EventSource []SourceRef `json:"event_source"`
	SlotSource  []SourceRef `json:"slot_source"`
	Warnings    []string    `json:"warnings,omitempty"`
}

// CompiledProgram is the single immutable artifact exchanged between
// compiler, runtime, exporters, and debugger. It crosses process and
// persistence boundaries as canonical JSON or CBOR and contains no
// closures, pointers, or host references of any kind.
type CompiledProgram struct {
	// Identity
	IRVersion     string `json:"ir_version"`
	PatchID       string `json:"patch_id"`
	PatchRevision string `json:"patch_revision"`
	CompileID     string `json:"compile_id"`
	Seed          int64  `json:"seed"`

	TimeModel TimeModelIR `json:"time_model"`

	// Tables
	Sig        []SigExpr        `json:"sig"`
	Field      []FieldExpr      `json:"field"`
	Event      []EventExpr      `json:"event"`
	Transforms []TransformChain `json:"transforms"`
	Consts     *ConstPool       `json:"consts"`
	Buses      []BusIR          `json:"buses"`
	Slots      []SlotMetaIR     `json:"slots"`
	Domains    []DomainIR       `json:"domains"`
	Cameras    []CameraIR       `json:"cameras"`
	State      StateLayout      `json:"state"`
	Seeds      []SlotSeedIR     `json:"seeds"`

	Schedule ScheduleIR     `json:"schedule"`
	Outputs  []OutputSpec   `json:"outputs"`
	Probes   []DebugProbeIR `json:"probes"`
	Meta     MetaIR         `json:"meta"`
}

// ProgramHash computes the content hash of the program identity and
// tables. CompileID is excluded: two compiles of the same patch revision
// hash identically even though each carries a fresh CompileID.
func (p *CompiledProgram) ProgramHash() (string, error) {
	ident := map[string]any{
		"ir_version":     p.IRVersion,
		"patch_id":       p.PatchID,
		"patch_revision": p.PatchRevision,
		"seed":           p.Seed,
		"sig_len":        len(p.Sig),
		"field_len":      len(p.Field),
		"event_len":      len(p.Event),
		"step_len":       len(p.Schedule.Steps),
	}
	h, err := HashCanonical(HashDomainProgram, ident)
	if err != nil {
		return "", fmt.Errorf("program hash: %w", err)
	}
	return h, nil
}
