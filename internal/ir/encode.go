package ir

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// EncodeJSON serializes a CompiledProgram to JSON. This is the
// human-readable interchange form; typed arrays are carried as JSON
// number arrays, which round-trips losslessly because the IR forbids
// non-finite floats.
func EncodeJSON(p *CompiledProgram) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode program json: %w", err)
	}
	return data, nil
}

// DecodeJSON deserializes a CompiledProgram from JSON.
func DecodeJSON(data []byte) (*CompiledProgram, error) {
	var p CompiledProgram
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode program json: %w", err)
	}
	if p.Consts == nil {
		p.Consts = NewConstPool()
	}
	return &p, nil
}

// cborEncMode is configured once: core deterministic encoding so program
// bytes are stable across encoders, which keeps content-addressed caches
// honest.
var cborEncMode cbor.EncMode

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor enc mode: %v", err))
	}
}

// EncodeCBOR serializes a CompiledProgram to deterministic CBOR. This is
// the compact binary interchange form; the typed-array payloads (const
// pool, schedule tables) encode far smaller than JSON.
func EncodeCBOR(p *CompiledProgram) ([]byte, error) {
	data, err := cborEncMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode program cbor: %w", err)
	}
	return data, nil
}

// DecodeCBOR deserializes a CompiledProgram from CBOR.
func DecodeCBOR(data []byte) (*CompiledProgram, error) {
	var p CompiledProgram
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode program cbor: %w", err)
	}
	if p.Consts == nil {
		p.Consts = NewConstPool()
	}
	return &p, nil
}
