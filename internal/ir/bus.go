package ir

// CombineMode names how a bus folds its publisher terms into one value.
// Value buses (signal/field) accept the arithmetic modes; event buses use
// merge/first/last only.
type CombineMode string

const (
	CombineSum     CombineMode = "sum"
	CombineAverage CombineMode = "average"
	CombineMin     CombineMode = "min"
	CombineMax     CombineMode = "max"
	CombineFirst   CombineMode = "first"
	CombineLast    CombineMode = "last"
	CombineMerge   CombineMode = "merge" // events only
)

// ValidCombineModes defines allowed combine modes per world.
var ValidCombineModes = map[World]map[CombineMode]bool{
	WorldSignal: {
		CombineSum: true, CombineAverage: true, CombineMin: true,
		CombineMax: true, CombineFirst: true, CombineLast: true,
	},
	WorldField: {
		CombineSum: true, CombineAverage: true, CombineMin: true,
		CombineMax: true, CombineFirst: true, CombineLast: true,
	},
	WorldEvent: {
		CombineMerge: true, CombineFirst: true, CombineLast: true,
	},
}

// SilentMode names what a bus yields when zero publishers are enabled.
type SilentMode string

const (
	SilentZero    SilentMode = "zero"    // numeric zero / empty event set
	SilentDefault SilentMode = "default" // the bus's declared default const
	SilentConst   SilentMode = "const"   // an explicit silent const
)

// PublisherIR is one precomputed publisher entry. The publisher list on a
// BusIR is already in evaluation order: (SortKey asc, PublisherID asc),
// fixed at compile time. The runtime iterates it as-is and never re-sorts,
// so host map iteration order can never leak into output.
type PublisherIR struct {
	PublisherID string      `json:"publisher_id"`
	SortKey     int32       `json:"sort_key"`
	Enabled     bool        `json:"enabled"`
	SrcSlot     ValueSlot   `json:"src_slot"`
	Transform   TransformID `json:"transform"` // None for identity
}

// BusIR is one named aggregation point. OutSlot is the single slot the
// busEval step writes; listeners read it like any other slot.
type BusIR struct {
	BusID       string        `json:"bus_id"`
	Name        string        `json:"name"`
	Type        TypeDesc      `json:"type"`
	Combine     CombineMode   `json:"combine"`
	Silent      SilentMode    `json:"silent"`
	DefaultVal  ConstID       `json:"default_val"` // None when Silent == zero
	OutSlot     ValueSlot     `json:"out_slot"`
	Publishers  []PublisherIR `json:"publishers"`
	ListenerIDs []string      `json:"listener_ids,omitempty"`
}
