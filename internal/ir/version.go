package ir

// Version constants for the IR schema and runtime.
const (
	// IRVersion is the IR schema version carried on every CompiledProgram.
	IRVersion = "1"

	// RuntimeVersion is the strand runtime version.
	RuntimeVersion = "0.1.0"
)
