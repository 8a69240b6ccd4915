package testutil

// FixedCompileID returns a compile id for deterministic tests.
//
// Production compiles stamp a fresh UUID per compile, which would make
// golden snapshots differ on every run. Conformance scenarios pin the id
// instead, typically in the scenario YAML:
//
//	compile_id: "test-compile-00000000-0000-0000-0000-000000000001"
//
// An empty id maps to "test-compile-default" so scenarios that do not
// care about identity still compare byte-identically.
func FixedCompileID(id string) string {
	if id == "" {
		return "test-compile-default"
	}
	return id
}
