package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "accumulator.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "accumulator-feedback", s.Name)
	assert.Equal(t, 3, s.Frames)
	assert.Equal(t, 4.0, s.FPS)
	assert.True(t, s.Checked)
	assert.Len(t, s.Assertions, 4)
	assert.Equal(t, AssertProbeValues, s.Assertions[0].Type)

	// Patch path resolves relative to the scenario file.
	_, err = os.Stat(s.PatchPath())
	assert.NoError(t, err)
}

func TestLoadScenarioDir(t *testing.T) {
	scenarios, err := LoadScenarioDir(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.Len(t, scenarios, 3)

	// Sorted by file name.
	assert.Equal(t, "accumulator-feedback", scenarios[0].Name)
	assert.Equal(t, "finite-progress", scenarios[1].Name)
	assert.Equal(t, "scope-ramp", scenarios[2].Name)
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadScenarioRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml: ["), 0o644))

	_, err := LoadScenario(path)
	assert.ErrorContains(t, err, "parsing scenario")
}

func TestScenarioValidate(t *testing.T) {
	base := Scenario{Name: "s", Patch: "p.cue", Frames: 1, FPS: 60}

	tests := []struct {
		name    string
		mutate  func(*Scenario)
		wantErr string
	}{
		{"valid", func(s *Scenario) {}, ""},
		{"missing name", func(s *Scenario) { s.Name = "" }, "name is required"},
		{"missing patch", func(s *Scenario) { s.Patch = "" }, "patch is required"},
		{"zero frames", func(s *Scenario) { s.Frames = 0 }, "frames must be positive"},
		{"negative fps", func(s *Scenario) { s.FPS = -1 }, "fps must be positive"},
		{
			"unknown assertion",
			func(s *Scenario) { s.Assertions = []Assertion{{Type: "nope"}} },
			"unknown assertion type",
		},
		{
			"probe_values without probe",
			func(s *Scenario) { s.Assertions = []Assertion{{Type: AssertProbeValues, Values: []float64{1}}} },
			"requires a probe id",
		},
		{
			"output_values without values",
			func(s *Scenario) { s.Assertions = []Assertion{{Type: AssertOutputValues, Output: "o"}} },
			"requires values",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
