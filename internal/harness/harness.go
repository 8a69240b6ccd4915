package harness

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/strandlab/strand/internal/blocks"
	"github.com/strandlab/strand/internal/compiler"
	"github.com/strandlab/strand/internal/engine"
	"github.com/strandlab/strand/internal/patch"
	"github.com/strandlab/strand/internal/testutil"
)

// Run executes one scenario end to end: load the patch, compile it with
// the pinned compile id, run it on a fresh engine, and evaluate the
// scenario's assertions against the trace.
//
// Compilation or engine failures return an error; assertion failures
// return a Result with Pass false.
func Run(s *Scenario) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	p, err := loadScenarioPatch(s.PatchPath())
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	prog, err := compiler.Compile(p, blocks.NewRegistry(), compiler.Options{
		Validate:  true,
		CompileID: testutil.FixedCompileID(s.CompileID),
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("scenario %s: compile: %w", s.Name, err)
	}

	result := NewResult(prog.CompileID)
	seq := testutil.NewSeqCounter()

	var pendingProbes []engine.ProbeSample
	eng, err := engine.New(prog, engine.Options{
		Checked: s.Checked,
		Logger:  logger,
		ProbeSink: func(sample engine.ProbeSample) {
			pendingProbes = append(pendingProbes, sample)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scenario %s: engine: %w", s.Name, err)
	}

	dtMs := 1000 / s.FPS
	for i := 0; i < s.Frames; i++ {
		t, err := eng.Step(dtMs)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: frame %d: %w", s.Name, i+1, err)
		}

		result.Trace = append(result.Trace, TraceEvent{
			Type:    EventFrame,
			Seq:     seq.Next(),
			Frame:   t.Frame,
			ModelMs: t.ModelMs,
		})
		for _, sample := range pendingProbes {
			result.Trace = append(result.Trace, TraceEvent{
				Type:  EventProbe,
				Seq:   seq.Next(),
				Frame: sample.Frame,
				Probe: sample.ProbeID,
				Value: sample.Value,
			})
			result.Probes[sample.ProbeID] = append(result.Probes[sample.ProbeID], sample.Value)
		}
		pendingProbes = pendingProbes[:0]

		if t.Done {
			break
		}
	}

	result.Frames = eng.Frame()
	result.ModelMs = eng.ModelMs()
	collectOutputs(result, eng)
	evaluateAssertions(result, s)
	return result, nil
}

func loadScenarioPatch(path string) (*patch.Patch, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return patch.LoadDir(path)
	}
	return patch.LoadFile(path)
}

// collectOutputs widens final output values to float64 slices so
// assertions compare uniformly.
func collectOutputs(result *Result, eng *engine.Engine) {
	outputs := eng.Outputs()
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Name < outputs[j].Name })
	for _, o := range outputs {
		switch {
		case o.F32 != nil:
			vals := make([]float64, len(o.F32))
			for i, v := range o.F32 {
				vals[i] = float64(v)
			}
			result.Outputs[o.Name] = vals
		case o.U32 != nil:
			vals := make([]float64, len(o.U32))
			for i, v := range o.U32 {
				vals[i] = float64(v)
			}
			result.Outputs[o.Name] = vals
		default:
			if f, ok := o.Value.(float64); ok {
				result.Outputs[o.Name] = []float64{f}
			}
		}
	}
}
