package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario: a patch to compile, a run
// to perform, and assertions over the resulting trace.
type Scenario struct {
	// Name uniquely identifies this scenario. It is also the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Patch is the path to the CUE patch document, relative to the
	// scenario file.
	Patch string `yaml:"patch"`

	// Frames is the number of frames to run. Must be positive.
	Frames int `yaml:"frames"`

	// FPS is the frame rate. Must be positive.
	FPS float64 `yaml:"fps"`

	// Checked enables runtime invariant checking for the run.
	Checked bool `yaml:"checked,omitempty"`

	// CompileID pins the program's compile id so golden traces compare
	// byte-identically. Empty defaults to "test-compile-default".
	CompileID string `yaml:"compile_id,omitempty"`

	// Assertions validate the trace and final outputs.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// dir is the directory the scenario was loaded from; patch paths
	// resolve against it.
	dir string
}

// Assertion validates one property of a scenario run.
type Assertion struct {
	// Type selects the assertion:
	//   - "probe_values": probe sampled exactly these values, in order
	//   - "probe_count": probe delivered exactly Count samples
	//   - "output_values": a final output buffer holds these values
	//   - "frame_count": the run covered exactly Count frames
	//   - "final_time": model time after the last frame
	Type string `yaml:"type"`

	// Probe is the probe id (probe_values, probe_count).
	Probe string `yaml:"probe,omitempty"`

	// Output is the output name (output_values).
	Output string `yaml:"output,omitempty"`

	// Values are the expected numeric values (probe_values,
	// output_values).
	Values []float64 `yaml:"values,omitempty"`

	// Tolerance is the per-value comparison tolerance. Zero means the
	// default of 1e-9.
	Tolerance float64 `yaml:"tolerance,omitempty"`

	// Count is the expected occurrence count (probe_count,
	// frame_count).
	Count int `yaml:"count,omitempty"`

	// ModelMs is the expected final model time (final_time).
	ModelMs float64 `yaml:"model_ms,omitempty"`
}

// Assertion type constants.
const (
	AssertProbeValues  = "probe_values"
	AssertProbeCount   = "probe_count"
	AssertOutputValues = "output_values"
	AssertFrameCount   = "frame_count"
	AssertFinalTime    = "final_time"
)

// LoadScenario loads and validates one scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	s.dir = filepath.Dir(path)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

// LoadScenarioDir loads every .yaml scenario in a directory, sorted by
// file name for deterministic iteration.
func LoadScenarioDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scenario dir %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// Validate checks structural requirements before execution.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if s.Patch == "" {
		return fmt.Errorf("scenario patch is required")
	}
	if s.Frames <= 0 {
		return fmt.Errorf("frames must be positive, got %d", s.Frames)
	}
	if s.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %v", s.FPS)
	}
	for i, a := range s.Assertions {
		if err := a.validate(); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}
	return nil
}

func (a Assertion) validate() error {
	switch a.Type {
	case AssertProbeValues:
		if a.Probe == "" {
			return fmt.Errorf("probe_values requires a probe id")
		}
		if len(a.Values) == 0 {
			return fmt.Errorf("probe_values requires values")
		}
	case AssertProbeCount:
		if a.Probe == "" {
			return fmt.Errorf("probe_count requires a probe id")
		}
	case AssertOutputValues:
		if a.Output == "" {
			return fmt.Errorf("output_values requires an output name")
		}
		if len(a.Values) == 0 {
			return fmt.Errorf("output_values requires values")
		}
	case AssertFrameCount:
		if a.Count <= 0 {
			return fmt.Errorf("frame_count requires a positive count")
		}
	case AssertFinalTime:
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// PatchPath resolves the scenario's patch path against the scenario
// file location.
func (s *Scenario) PatchPath() string {
	if filepath.IsAbs(s.Patch) || s.dir == "" {
		return s.Patch
	}
	return filepath.Join(s.dir, s.Patch)
}
