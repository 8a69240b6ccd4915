package ir

// TransformOp names one step in a transform chain. Transform chains unify
// type adapters (cast) and value lenses (scaleBias, ease, ...) under one
// representation so the scheduler never distinguishes them.
type TransformOp string

const (
	TransformCast      TransformOp = "cast"
	TransformMap       TransformOp = "map"       // named unary function
	TransformScaleBias TransformOp = "scaleBias" // v*scale + bias
	TransformNormalize TransformOp = "normalize" // (v-min)/(max-min)
	TransformQuantize  TransformOp = "quantize"  // round to step grid
	TransformEase      TransformOp = "ease"      // named easing curve
	TransformSlew      TransformOp = "slew"      // rate-limited follow (stateful)
)

// ValidTransformOps defines allowed transform operations.
var ValidTransformOps = map[TransformOp]bool{
	TransformCast:      true,
	TransformMap:       true,
	TransformScaleBias: true,
	TransformNormalize: true,
	TransformQuantize:  true,
	TransformEase:      true,
	TransformSlew:      true,
}

// TransformStep is one operation in a chain. Params points at a const-pool
// entry holding the step's parameter object (scale/bias, min/max, step
// size, curve or function name). State is set only for stateful ops
// (slew), claiming one persistent cell in the state layout.
type TransformStep struct {
	Op       TransformOp `json:"op"`
	FromType TypeDesc    `json:"from_type"`
	ToType   TypeDesc    `json:"to_type"`
	Cost     int32       `json:"cost"`
	Params   ConstID     `json:"params,omitempty"`
	State    StateID     `json:"state,omitempty"`
}

// TransformChain is an ordered list of steps applied left to right. The
// chain's input type is Steps[0].FromType and output type is the last
// step's ToType. An empty chain is the identity.
type TransformChain struct {
	Steps []TransformStep `json:"steps"`
}

// FromType returns the chain input type, or ok=false for the identity chain.
func (c TransformChain) FromType() (TypeDesc, bool) {
	if len(c.Steps) == 0 {
		return TypeDesc{}, false
	}
	return c.Steps[0].FromType, true
}

// ToType returns the chain output type, or ok=false for the identity chain.
func (c TransformChain) ToType() (TypeDesc, bool) {
	if len(c.Steps) == 0 {
		return TypeDesc{}, false
	}
	return c.Steps[len(c.Steps)-1].ToType, true
}

// TotalCost sums the per-step costs. Used by link resolution to prefer the
// cheapest adapter chain when more than one is admissible.
func (c TransformChain) TotalCost() int32 {
	var sum int32
	for _, s := range c.Steps {
		sum += s.Cost
	}
	return sum
}
