package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlab/strand/internal/ir"
)

func TestRunWithGoldenAccumulator(t *testing.T) {
	result, err := RunWithGolden(t, loadTestScenario(t, "accumulator.yaml"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestTraceSnapshotCanonicalForm(t *testing.T) {
	snapshot := TraceSnapshot{
		Name:      "s",
		CompileID: "c",
		Trace: []TraceEvent{
			{Type: EventFrame, Seq: 1, Frame: 1, ModelMs: 250},
			{Type: EventProbe, Seq: 2, Frame: 1, Probe: "tap", Value: 1.5},
		},
	}

	data, err := ir.MarshalCanonical(snapshot.toCanonicalMap())
	require.NoError(t, err)
	assert.Equal(t,
		`{"compile_id":"c","name":"s","trace":[`+
			`{"frame":1,"model_ms":250,"seq":1,"type":"frame"},`+
			`{"frame":1,"probe":"tap","seq":2,"type":"probe","value":1.5}]}`,
		string(data))
}

func TestTraceSnapshotDeterministic(t *testing.T) {
	s := loadTestScenario(t, "accumulator.yaml")

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := ir.MarshalCanonical((&TraceSnapshot{Name: s.Name, CompileID: first.CompileID, Trace: first.Trace}).toCanonicalMap())
	require.NoError(t, err)
	b, err := ir.MarshalCanonical((&TraceSnapshot{Name: s.Name, CompileID: second.CompileID, Trace: second.Trace}).toCanonicalMap())
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
