package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/strandlab/strand/internal/ir"
)

// TraceSnapshot is the trace shape written to golden files. Everything
// serializes through canonical JSON so goldens compare byte for byte.
type TraceSnapshot struct {
	Name      string       `json:"name"`
	CompileID string       `json:"compile_id"`
	Trace     []TraceEvent `json:"trace"`
}

// toCanonicalMap lowers a TraceSnapshot to plain maps for
// ir.MarshalCanonical, which only accepts primitives, slices, and maps.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"type":  ev.Type,
			"seq":   ev.Seq,
			"frame": ev.Frame,
		}
		if ev.Type == EventFrame {
			m["model_ms"] = ev.ModelMs
		}
		if ev.Probe != "" {
			m["probe"] = ev.Probe
		}
		if ev.Value != nil {
			m["value"] = ev.Value
		}
		trace[i] = m
	}
	return map[string]any{
		"name":       s.Name,
		"compile_id": s.CompileID,
		"trace":      trace,
	}
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{name}.golden. Regenerate goldens with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, s *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(s)
	if err != nil {
		return nil, err
	}

	snapshot := TraceSnapshot{
		Name:      s.Name,
		CompileID: result.CompileID,
		Trace:     result.Trace,
	}
	data, err := ir.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, data)
	return result, nil
}
