package harness

import (
	"fmt"
	"math"
	"strings"
)

// defaultTolerance bounds float comparison when an assertion does not
// set its own.
const defaultTolerance = 1e-9

// AssertionError describes one failed assertion with enough context to
// debug the trace.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual:   %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "trace:\n")
		for _, ev := range e.Trace {
			switch ev.Type {
			case EventFrame:
				fmt.Fprintf(&buf, "  [%d] frame %d @ %g ms\n", ev.Seq, ev.Frame, ev.ModelMs)
			case EventProbe:
				fmt.Fprintf(&buf, "  [%d]   probe %s = %v\n", ev.Seq, ev.Probe, ev.Value)
			}
		}
	}
	return buf.String()
}

// evaluateAssertions runs every scenario assertion against the result,
// collecting all failures rather than stopping at the first.
func evaluateAssertions(result *Result, s *Scenario) {
	for _, a := range s.Assertions {
		if err := evaluateAssertion(result, a); err != nil {
			result.AddError(err.Error())
		}
	}
}

func evaluateAssertion(result *Result, a Assertion) error {
	switch a.Type {
	case AssertProbeValues:
		return assertProbeValues(result, a)
	case AssertProbeCount:
		return assertProbeCount(result, a)
	case AssertOutputValues:
		return assertOutputValues(result, a)
	case AssertFrameCount:
		return assertFrameCount(result, a)
	case AssertFinalTime:
		return assertFinalTime(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertProbeValues(result *Result, a Assertion) error {
	got := result.Probes[a.Probe]
	if len(got) != len(a.Values) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("probe %s with %d sample(s)", a.Probe, len(a.Values)),
			Actual:   fmt.Sprintf("%d sample(s): %v", len(got), got),
			Trace:    result.Trace,
		}
	}
	tol := a.Tolerance
	if tol == 0 {
		tol = defaultTolerance
	}
	for i, want := range a.Values {
		gotF, ok := got[i].(float64)
		if !ok {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("probe %s sample %d to be numeric", a.Probe, i),
				Actual:   fmt.Sprintf("%T (%v)", got[i], got[i]),
				Trace:    result.Trace,
			}
		}
		if math.Abs(gotF-want) > tol {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("probe %s sample %d near %g (tolerance %g)", a.Probe, i, want, tol),
				Actual:   fmt.Sprintf("%g", gotF),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func assertProbeCount(result *Result, a Assertion) error {
	got := len(result.Probes[a.Probe])
	if got != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("probe %s delivered %d time(s)", a.Probe, a.Count),
			Actual:   fmt.Sprintf("%d time(s)", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertOutputValues(result *Result, a Assertion) error {
	got, ok := result.Outputs[a.Output]
	if !ok {
		names := make([]string, 0, len(result.Outputs))
		for name := range result.Outputs {
			names = append(names, name)
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("output %q present", a.Output),
			Actual:   fmt.Sprintf("outputs: %v", names),
			Trace:    result.Trace,
		}
	}
	if len(got) != len(a.Values) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("output %s with %d value(s)", a.Output, len(a.Values)),
			Actual:   fmt.Sprintf("%d value(s): %v", len(got), got),
			Trace:    result.Trace,
		}
	}
	tol := a.Tolerance
	if tol == 0 {
		tol = defaultTolerance
	}
	for i, want := range a.Values {
		if math.Abs(got[i]-want) > tol {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("output %s[%d] near %g (tolerance %g)", a.Output, i, want, tol),
				Actual:   fmt.Sprintf("%g", got[i]),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func assertFrameCount(result *Result, a Assertion) error {
	if result.Frames != int64(a.Count) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d frame(s)", a.Count),
			Actual:   fmt.Sprintf("%d frame(s)", result.Frames),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertFinalTime(result *Result, a Assertion) error {
	tol := a.Tolerance
	if tol == 0 {
		tol = defaultTolerance
	}
	if math.Abs(result.ModelMs-a.ModelMs) > tol {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("final model time near %g ms (tolerance %g)", a.ModelMs, tol),
			Actual:   fmt.Sprintf("%g ms", result.ModelMs),
			Trace:    result.Trace,
		}
	}
	return nil
}
