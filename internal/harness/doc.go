// Package harness provides a conformance testing framework for compiled
// patches.
//
// A scenario is a YAML document naming a patch, a run length and frame
// rate, and a set of assertions over the probe trace and final outputs.
// The harness compiles the patch with a pinned compile id, runs it on a
// real engine, and records every frame and probe sample as a trace
// event. Traces are deterministic: the same scenario always produces
// byte-identical canonical JSON, which is what the golden comparison in
// RunWithGolden relies on.
package harness
