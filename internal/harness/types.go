package harness

// Trace event types.
const (
	EventFrame = "frame"
	EventProbe = "probe"
)

// TraceEvent is one entry in a scenario trace: either a frame boundary
// or a probe sample delivered during that frame.
type TraceEvent struct {
	Type    string  `json:"type"` // "frame" or "probe"
	Seq     int64   `json:"seq"`
	Frame   int64   `json:"frame"`
	ModelMs float64 `json:"model_ms,omitempty"`
	Probe   string  `json:"probe,omitempty"`
	Value   any     `json:"value,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// CompileID identifies the program the scenario ran.
	CompileID string `json:"compile_id"`

	// Trace contains frame and probe events in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages. Empty when Pass.
	Errors []string `json:"errors,omitempty"`

	// Probes maps probe id to its sampled values in frame order.
	Probes map[string][]any `json:"probes,omitempty"`

	// Outputs maps output name to its final buffer, widened to float64.
	// Slot outputs appear as single-element slices.
	Outputs map[string][]float64 `json:"outputs,omitempty"`

	// Frames is the number of frames that actually ran.
	Frames int64 `json:"frames"`

	// ModelMs is the model time after the final frame.
	ModelMs float64 `json:"model_ms"`
}

// NewResult creates an empty passing result.
func NewResult(compileID string) *Result {
	return &Result{
		Pass:      true,
		CompileID: compileID,
		Trace:     []TraceEvent{},
		Probes:    make(map[string][]any),
		Outputs:   make(map[string][]float64),
	}
}

// AddError records an assertion failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}
