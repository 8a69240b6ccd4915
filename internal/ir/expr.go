package ir

// SigKind discriminates signal expression nodes.
type SigKind string

const (
	SigConst      SigKind = "const"      // Const: pool value
	SigTime       SigKind = "time"       // TimeRole: derived time signal
	SigSlot       SigKind = "slot"       // Slot: read a ValueSlot written upstream
	SigMap        SigKind = "map"        // Fn over Args[0]
	SigZip        SigKind = "zip"        // Fn over Args[0], Args[1]
	SigSelect     SigKind = "select"     // Args[0] selects among Args[1:]
	SigTransform  SigKind = "transform"  // Transform chain applied to Args[0]
	SigBusCombine SigKind = "busCombine" // Bus: combined bus value
	SigState      SigKind = "state"      // State cell read at Tap offset
)

// TimeRole names the derived time signals synthesized by the timeDerive
// step. They are read-only everywhere else.
type TimeRole string

const (
	TimeModelMs  TimeRole = "tModelMs"   // model time in milliseconds
	TimePhase01  TimeRole = "phase01"    // cyclic phase in [0,1)
	TimeProgress TimeRole = "progress01" // finite progress in [0,1]
)

// SigExpr is one node in the flat signal expression table. Kind selects
// which fields are meaningful; unused fields hold zero values (None for
// ids). Every node carries its TypeDesc and references other nodes only by
// table index.
type SigExpr struct {
	Kind      SigKind     `json:"kind"`
	Type      TypeDesc    `json:"type"`
	Const     ConstID     `json:"const,omitempty"`
	TimeRole  TimeRole    `json:"time_role,omitempty"`
	Slot      ValueSlot   `json:"slot,omitempty"`
	Fn        string      `json:"fn,omitempty"`
	Args      []SigExprID `json:"args,omitempty"`
	Transform TransformID `json:"transform,omitempty"`
	Bus       int32       `json:"bus,omitempty"`
	State     StateID     `json:"state,omitempty"`
	Tap       int32       `json:"tap,omitempty"`
}

// FieldKind discriminates field expression nodes. Field kinds mirror
// signal kinds plus the field-specific constructors.
type FieldKind string

const (
	FieldConst        FieldKind = "const"
	FieldSlot         FieldKind = "slot"
	FieldMap          FieldKind = "map"
	FieldZip          FieldKind = "zip"
	FieldSelect       FieldKind = "select"
	FieldTransform    FieldKind = "transform"
	FieldBusCombine   FieldKind = "busCombine"
	FieldBroadcastSig FieldKind = "broadcastSig" // Sig broadcast across Domain
	FieldMapIndexed   FieldKind = "mapIndexed"   // Fn(elem, index, n) over Args[0]
	FieldZipSig       FieldKind = "zipSig"       // Fn(elem, sig) over Args[0] and Sig
)

// FieldExpr is one node in the flat field expression table. Every field
// expression is defined over a Domain (the fixed index space it spans).
type FieldExpr struct {
	Kind      FieldKind     `json:"kind"`
	Type      TypeDesc      `json:"type"`
	Domain    DomainID      `json:"domain"`
	Const     ConstID       `json:"const,omitempty"`
	Slot      ValueSlot     `json:"slot,omitempty"`
	Fn        string        `json:"fn,omitempty"`
	Args      []FieldExprID `json:"args,omitempty"`
	Sig       SigExprID     `json:"sig,omitempty"`
	Transform TransformID   `json:"transform,omitempty"`
	Bus       int32         `json:"bus,omitempty"`
}

// EventKind discriminates event expression nodes.
type EventKind string

const (
	EventSlot       EventKind = "slot"
	EventWrap       EventKind = "wrap"   // occurrence when Sig wraps (phase reset)
	EventFilter     EventKind = "filter" // Fn filters occurrences of Args[0]
	EventMerge      EventKind = "merge"  // ordered merge of Args
	EventBusCombine EventKind = "busCombine"
)

// EventExpr is one node in the flat event expression table.
type EventExpr struct {
	Kind EventKind     `json:"kind"`
	Type TypeDesc      `json:"type"`
	Slot ValueSlot     `json:"slot,omitempty"`
	Sig  SigExprID     `json:"sig,omitempty"`
	Fn   string        `json:"fn,omitempty"`
	Args []EventExprID `json:"args,omitempty"`
	Bus  int32         `json:"bus,omitempty"`
}
