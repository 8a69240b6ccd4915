// Package ir provides the canonical intermediate representation for strand.
//
// This package contains type definitions, canonical serialization, and
// content hashing only. All other internal packages import ir; ir imports
// nothing internal. This ensures IR remains the foundational layer with no
// circular dependencies.
//
// Key design constraints:
//   - Every cross-reference between nodes is a dense table index, never a
//     pointer or closure. A CompiledProgram is fully serializable.
//   - All ordering decisions (publisher order, schedule order) are frozen
//     into the tables at compile time. The runtime never sorts.
//   - Canonical JSON (RFC 8785 key ordering, NFC strings, deterministic
//     float formatting) is the only serialization used for identity hashes.
//   - NaN and infinities are forbidden everywhere in the IR.
//   - All JSON tags use snake_case.
package ir
