package ir

// StepKind discriminates schedule steps.
type StepKind string

const (
	StepTimeDerive       StepKind = "timeDerive"
	StepSigEval          StepKind = "sigEval"
	StepBusEval          StepKind = "busEval"
	StepMaterialize      StepKind = "materialize"
	StepMaterializeColor StepKind = "materializeColor"
	StepMaterializePath  StepKind = "materializePath"
	StepRenderAssemble   StepKind = "renderAssemble"
	StepDebugProbe       StepKind = "debugProbe"
)

// SlotWrite binds one output slot to the expression that produces it.
// The executor evaluates (Kind, Index) and writes the result to Slot.
type SlotWrite struct {
	Slot  ValueSlot `json:"slot"`
	Kind  RefKind   `json:"kind"`
	Index int32     `json:"index"`
}

// TimeSlotsIR names the slots the timeDerive step writes. The derived
// time signals are synthesized exactly once per frame by this single step
// and are read-only everywhere else.
type TimeSlotsIR struct {
	ModelMs    ValueSlot `json:"model_ms"`
	Phase01    ValueSlot `json:"phase01"`
	Progress01 ValueSlot `json:"progress01"`
	WrapEvent  ValueSlot `json:"wrap_event"`
}

// StateUpdateOp names how a state update applies its evaluated value.
type StateUpdateOp string

const (
	StateSet   StateUpdateOp = "set"   // overwrite the cell's single element
	StatePush  StateUpdateOp = "push"  // advance a ring buffer and write head
	StateAccum StateUpdateOp = "accum" // add to the cell's single element
)

// StateUpdateIR evaluates (Kind, Index) and applies Op to the state cell.
// State updates run in the end-of-frame section of the schedule, after
// every slot is final, which is what gives cycle-breaking blocks their
// previous-frame semantics.
type StateUpdateIR struct {
	State StateID       `json:"state"`
	Kind  RefKind       `json:"kind"`
	Index int32         `json:"index"`
	Op    StateUpdateOp `json:"op"`
}

// CacheMode names a step's caching policy.
type CacheMode string

const (
	CacheNone             CacheMode = "none"
	CachePerFrame         CacheMode = "perFrame"
	CacheUntilInvalidated CacheMode = "untilInvalidated"
)

// CachingIR is the per-step cache key. For untilInvalidated steps the
// executor re-runs the step only when one of DepSlots changed value since
// the cached run; DepConsts are part of the key but cannot change within a
// program's lifetime, so they matter only across hot-swaps.
type CachingIR struct {
	Mode      CacheMode   `json:"mode"`
	DepSlots  []ValueSlot `json:"dep_slots,omitempty"`
	DepConsts []ConstID   `json:"dep_consts,omitempty"`
}

// StepIR is one executable schedule entry. Kind selects which fields are
// meaningful. Steps run strictly in array order, one frame per walk.
type StepIR struct {
	Kind  StepKind `json:"kind"`
	Label string   `json:"label,omitempty"`
	Node  NodeID   `json:"node"`

	// sigEval / timeDerive
	Writes []SlotWrite  `json:"writes,omitempty"`
	Time   *TimeSlotsIR `json:"time,omitempty"`

	// busEval: index into CompiledProgram.Buses
	Bus int32 `json:"bus,omitempty"`

	// materialize*: field expression, its domain, and the output buffer
	Field  FieldExprID `json:"field,omitempty"`
	Domain DomainID    `json:"domain,omitempty"`
	Out    BufferID    `json:"out,omitempty"`

	// renderAssemble
	Camera  CameraID   `json:"camera,omitempty"`
	Buffers []BufferID `json:"buffers,omitempty"`
	Output  int32      `json:"output,omitempty"`

	// debugProbe: index into CompiledProgram.Probes
	Probe int32 `json:"probe,omitempty"`

	// Slots read by this step, in evaluation order. Drives the dependency
	// index and cache invalidation.
	Reads []ValueSlot `json:"reads,omitempty"`

	// Persistent cells this step may touch. StateWrites is the only
	// write authorization for a StateID; it is enforced by layout
	// construction at compile time, not by runtime locking.
	StateReads  []StateID       `json:"state_reads,omitempty"`
	StateWrites []StateID       `json:"state_writes,omitempty"`
	Updates     []StateUpdateIR `json:"updates,omitempty"`

	Cache CachingIR `json:"cache"`
}

// DependencyIndexIR is the precomputed slot/step adjacency for a schedule.
// SlotProducer[slot] is the step that writes the slot (None when the slot
// is seeded at initialization, e.g. materialized default constants).
// SlotConsumers[slot] lists the steps that read it, in step order.
type DependencyIndexIR struct {
	SlotProducer  []StepID    `json:"slot_producer"`
	SlotConsumers [][]StepID  `json:"slot_consumers"`
	BusOutSlot    []ValueSlot `json:"bus_out_slot"`  // bus index -> out slot
	SlotBus       []int32     `json:"slot_bus"`      // slot -> bus index or None
}

// OrderingInput is one enumerated, legitimate source of ordering in a
// compiled schedule. Anything that affects ordering and is not listed here
// is a determinism bug.
type OrderingInput struct {
	Name string `json:"name"`
	Rule string `json:"rule"`
}

// DeterminismIR enumerates the only inputs allowed to affect ordering.
type DeterminismIR struct {
	OrderingInputs []OrderingInput `json:"ordering_inputs"`
}

// DefaultDeterminism returns the determinism contract every compile
// produces: publisher order, publisher-id tie-break, and the stable
// topological node-id tie-break.
func DefaultDeterminism() DeterminismIR {
	return DeterminismIR{
		OrderingInputs: []OrderingInput{
			{Name: "publisher_sort_key", Rule: "bus publishers ordered by sort_key ascending"},
			{Name: "publisher_id", Rule: "publisher_id ascending breaks sort_key ties"},
			{Name: "node_id", Rule: "ready nodes scheduled in node id ascending order"},
		},
	}
}

// ScheduleIR is the ordered execution plan plus its derived indices.
type ScheduleIR struct {
	Steps       []StepIR          `json:"steps"`
	Deps        DependencyIndexIR `json:"deps"`
	Determinism DeterminismIR     `json:"determinism"`
	SlotCount   int32             `json:"slot_count"`
	BufferCount int32             `json:"buffer_count"`
}
