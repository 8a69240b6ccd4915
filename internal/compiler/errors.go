package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// Structural and topology error codes (C100-C199).
const (
	// Structural patch errors (C100-C109): raised during dependency
	// graph construction, always fatal to the compile.
	ErrCodeDanglingConnection = "C100" // wire references a missing block
	ErrCodeDanglingEndpoint   = "C101" // publisher/listener references a missing block or bus
	ErrCodeDuplicateID        = "C102" // duplicate block/bus/wire/binding id
	ErrCodeUnknownBlockType   = "C103" // block type not in the registry
	ErrCodeUnknownPort        = "C104" // wire/binding references an undeclared port
	ErrCodeMultipleProducers  = "C105" // two wires drive one input port

	// Topology errors (C110-C119).
	ErrCodeIllegalCycle = "C110" // SCC with no cycle-breaking member
	ErrCodeTimeModel    = "C111" // zero, several, or incomplete time roots

	// Link/lowering errors (C120-C129).
	ErrCodeLink  = "C120" // link resolution failed
	ErrCodeLower = "C121" // block lowering failed
	ErrCodeBus   = "C122" // bus declaration invalid
)

// StructuralError is a patch-shape error: a dangling wire, publisher or
// listener, a duplicate id, or an unknown block type. Structural errors
// always carry the offending element id and the missing endpoint id, and
// abort the compile immediately.
type StructuralError struct {
	Code    string
	Element string // offending wire/publisher/listener/block id
	Missing string // the endpoint that does not exist, if any
	Message string
}

func (e *StructuralError) Error() string {
	if e.Missing != "" {
		return fmt.Sprintf("[%s] %s: %s (missing %q)", e.Code, e.Element, e.Message, e.Missing)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Element, e.Message)
}

// IllegalCycleError reports a strongly connected component in which no
// member block breaks combinational cycles: a value would depend on
// itself within one frame, which is undefined.
type IllegalCycleError struct {
	// Path is the cycle traversal, node names in dependency order with
	// the first repeated last: ["osc", "gain", "osc"].
	Path []string
}

func (e *IllegalCycleError) Error() string {
	return fmt.Sprintf("[%s] illegal combinational cycle: %s", ErrCodeIllegalCycle, strings.Join(e.Path, " -> "))
}

// IsIllegalCycleError reports whether err is an IllegalCycleError,
// unwrapping as needed.
func IsIllegalCycleError(err error) bool {
	var ce *IllegalCycleError
	return errors.As(err, &ce)
}

// TimeModelError reports a broken time topology: no time root, more than
// one, or a root whose declared outputs do not match what its time kind
// requires.
type TimeModelError struct {
	Blocks  []string // offending time-root block ids
	Message string
}

func (e *TimeModelError) Error() string {
	if len(e.Blocks) > 0 {
		return fmt.Sprintf("[%s] time model: %s (blocks: %s)", ErrCodeTimeModel, e.Message, strings.Join(e.Blocks, ", "))
	}
	return fmt.Sprintf("[%s] time model: %s", ErrCodeTimeModel, e.Message)
}

// LinkError reports a failure resolving one block input or lowering one
// block. It always names the block (and port when relevant) so the editor
// can highlight the offender.
type LinkError struct {
	Code    string
	Block   string
	Port    string
	Message string
	Err     error
}

func (e *LinkError) Error() string {
	loc := e.Block
	if e.Port != "" {
		loc += "." + e.Port
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Code, loc, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, loc, e.Message)
}

func (e *LinkError) Unwrap() error { return e.Err }
