package engine

import (
	"errors"
	"fmt"

	"github.com/strandlab/strand/internal/ir"
)

// InvariantError reports a broken runtime invariant detected in checked
// mode. These are compiler or executor bugs surfacing at runtime, never
// patch authoring errors, so the engine halts the frame rather than
// limping on with corrupt values.
type InvariantError struct {
	// Code identifies the invariant that broke.
	Code InvariantCode

	// Message is a human-readable description.
	Message string

	// Slot is the affected value slot, when slot-related.
	Slot ir.ValueSlot

	// Step is the schedule step that tripped the check.
	Step ir.StepID
}

// InvariantCode categorizes invariant violations.
type InvariantCode string

const (
	// ErrCodeDoubleSlotWrite indicates two steps wrote one slot in a frame.
	ErrCodeDoubleSlotWrite InvariantCode = "DOUBLE_SLOT_WRITE"

	// ErrCodeUnwrittenSlotRead indicates a read of a slot no step or seed
	// has written this frame.
	ErrCodeUnwrittenSlotRead InvariantCode = "UNWRITTEN_SLOT_READ"

	// ErrCodeUnknownStep indicates a schedule step kind the executor does
	// not dispatch.
	ErrCodeUnknownStep InvariantCode = "UNKNOWN_STEP"

	// ErrCodeBadExpr indicates an expression node the evaluator could not
	// reduce (unknown kind, unknown function, ref out of range).
	ErrCodeBadExpr InvariantCode = "BAD_EXPR"
)

// Error implements the error interface.
func (e *InvariantError) Error() string {
	if e.Slot.IsValid() {
		return fmt.Sprintf("%s: %s (slot=%d, step=%d)", e.Code, e.Message, e.Slot, e.Step)
	}
	return fmt.Sprintf("%s: %s (step=%d)", e.Code, e.Message, e.Step)
}

// IsInvariantError reports whether err wraps an InvariantError.
func IsInvariantError(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

func doubleWriteError(slot ir.ValueSlot, step ir.StepID) *InvariantError {
	return &InvariantError{
		Code:    ErrCodeDoubleSlotWrite,
		Message: "slot written twice in one frame",
		Slot:    slot,
		Step:    step,
	}
}

func unwrittenReadError(slot ir.ValueSlot, step ir.StepID) *InvariantError {
	return &InvariantError{
		Code:    ErrCodeUnwrittenSlotRead,
		Message: "slot read before any write this frame",
		Slot:    slot,
		Step:    step,
	}
}
