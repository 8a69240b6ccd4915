// Package engine executes compiled programs frame by frame.
//
// ARCHITECTURE:
//
// Single-Writer Frame Loop:
// The engine walks the compiled schedule in one goroutine. Each frame:
//  1. An optionally staged hot-swap is applied (never mid-frame)
//  2. The frame clock derives model time from the program's time model
//  3. Schedule steps run strictly in array order
//  4. End-of-frame state updates run after every slot is final
//
// The schedule is data, not code: the executor dispatches on step kinds
// and evaluates expression tables recursively. There are no callbacks and
// no closures anywhere in the hot path, which is what makes programs
// serializable and swaps safe.
//
// Determinism: given a program, a seed, and a dt sequence, the engine
// produces identical slot values, events, and buffers on every run. The
// only ordering inputs are the ones enumerated in the schedule's
// determinism block.
//
// Checked mode: the ValueStore can enforce the one-writer-per-slot
// invariant at runtime. Violations surface as InvariantError, which
// always indicates a compiler bug, never a patch authoring error.
package engine
