package ir

import (
	"fmt"
	"math"
)

// ConstStorage names the backing array a const-pool entry lives in.
type ConstStorage string

const (
	ConstJSON ConstStorage = "json" // structured values, strings, bools
	ConstF64  ConstStorage = "f64"
	ConstF32  ConstStorage = "f32"
	ConstI32  ConstStorage = "i32"
)

// ConstEntry locates one interned constant inside the pool's backing
// arrays. Scalar entries have Length 1; typed-array entries span a run.
type ConstEntry struct {
	Storage ConstStorage `json:"storage"`
	Offset  int32        `json:"offset"`
	Length  int32        `json:"length"`
}

// ConstPool interns every literal value used anywhere in a program exactly
// once. Interning is keyed by canonical JSON, so two JSON-equal values
// always share one ConstID. That keeps the pool small and makes const-based
// cache keys sound.
type ConstPool struct {
	Entries []ConstEntry `json:"entries"`
	JSON    []any        `json:"json"`
	F64     []float64    `json:"f64"`
	F32     []float32    `json:"f32"`
	I32     []int32      `json:"i32"`

	// index maps canonical-value hash to existing id. Not serialized;
	// rebuilt on demand after decode.
	index map[string]ConstID
}

// NewConstPool creates an empty pool.
func NewConstPool() *ConstPool {
	return &ConstPool{index: make(map[string]ConstID)}
}

// Len returns the number of interned constants.
func (p *ConstPool) Len() int { return len(p.Entries) }

// Intern adds a value to the pool and returns its id, reusing an existing
// entry when a JSON-equal value was interned before.
//
// Storage selection:
//   - float64 / int (and friends)  -> F64 scalar
//   - []float64                    -> F64 run
//   - []float32                    -> F32 run
//   - []int32                      -> I32 run
//   - everything else              -> JSON (stored verbatim, no coercion)
//
// NaN and infinities are rejected: they cannot round-trip canonical JSON
// and would poison content hashes.
func (p *ConstPool) Intern(value any) (ConstID, error) {
	storage, norm, err := classifyConst(value)
	if err != nil {
		return None, err
	}

	key, err := constKey(storage, norm)
	if err != nil {
		return None, err
	}

	if p.index == nil {
		p.rebuildIndex()
	}
	if id, ok := p.index[key]; ok {
		return id, nil
	}

	id := ConstID(len(p.Entries))
	switch storage {
	case ConstF64:
		switch v := norm.(type) {
		case float64:
			p.Entries = append(p.Entries, ConstEntry{Storage: ConstF64, Offset: int32(len(p.F64)), Length: 1})
			p.F64 = append(p.F64, v)
		case []float64:
			p.Entries = append(p.Entries, ConstEntry{Storage: ConstF64, Offset: int32(len(p.F64)), Length: int32(len(v))})
			p.F64 = append(p.F64, v...)
		}
	case ConstF32:
		v := norm.([]float32)
		p.Entries = append(p.Entries, ConstEntry{Storage: ConstF32, Offset: int32(len(p.F32)), Length: int32(len(v))})
		p.F32 = append(p.F32, v...)
	case ConstI32:
		v := norm.([]int32)
		p.Entries = append(p.Entries, ConstEntry{Storage: ConstI32, Offset: int32(len(p.I32)), Length: int32(len(v))})
		p.I32 = append(p.I32, v...)
	case ConstJSON:
		p.Entries = append(p.Entries, ConstEntry{Storage: ConstJSON, Offset: int32(len(p.JSON)), Length: 1})
		p.JSON = append(p.JSON, norm)
	}

	p.index[key] = id
	return id, nil
}

// MustIntern is like Intern but panics on error. Use only in tests or when
// inputs are known to be valid.
func (p *ConstPool) MustIntern(value any) ConstID {
	id, err := p.Intern(value)
	if err != nil {
		panic(err)
	}
	return id
}

// Float returns the scalar float value of an F64 entry.
func (p *ConstPool) Float(id ConstID) (float64, error) {
	e, err := p.entry(id)
	if err != nil {
		return 0, err
	}
	if e.Storage != ConstF64 || e.Length != 1 {
		return 0, fmt.Errorf("const %d is not a scalar f64 (storage=%s length=%d)", id, e.Storage, e.Length)
	}
	return p.F64[e.Offset], nil
}

// Floats returns the float64 run backing an F64 entry (scalar or array).
// The returned slice aliases the pool; callers must not mutate it.
func (p *ConstPool) Floats(id ConstID) ([]float64, error) {
	e, err := p.entry(id)
	if err != nil {
		return nil, err
	}
	if e.Storage != ConstF64 {
		return nil, fmt.Errorf("const %d is not f64 (storage=%s)", id, e.Storage)
	}
	return p.F64[e.Offset : e.Offset+e.Length], nil
}

// Value returns the JSON-storage value of an entry verbatim.
func (p *ConstPool) Value(id ConstID) (any, error) {
	e, err := p.entry(id)
	if err != nil {
		return nil, err
	}
	if e.Storage != ConstJSON {
		return nil, fmt.Errorf("const %d is not json (storage=%s)", id, e.Storage)
	}
	return p.JSON[e.Offset], nil
}

// Any returns the entry's value regardless of storage: float64 for scalar
// f64, []float64 / []float32 / []int32 for runs, and the verbatim value
// for JSON storage.
func (p *ConstPool) Any(id ConstID) (any, error) {
	e, err := p.entry(id)
	if err != nil {
		return nil, err
	}
	switch e.Storage {
	case ConstF64:
		if e.Length == 1 {
			return p.F64[e.Offset], nil
		}
		return p.F64[e.Offset : e.Offset+e.Length], nil
	case ConstF32:
		return p.F32[e.Offset : e.Offset+e.Length], nil
	case ConstI32:
		return p.I32[e.Offset : e.Offset+e.Length], nil
	default:
		return p.JSON[e.Offset], nil
	}
}

func (p *ConstPool) entry(id ConstID) (ConstEntry, error) {
	if !id.IsValid() || int(id) >= len(p.Entries) {
		return ConstEntry{}, fmt.Errorf("const id %d out of range [0,%d)", id, len(p.Entries))
	}
	return p.Entries[id], nil
}

// rebuildIndex reconstructs the interning index after decode. Errors are
// impossible here because every stored value already passed Intern.
func (p *ConstPool) rebuildIndex() {
	p.index = make(map[string]ConstID, len(p.Entries))
	for i := range p.Entries {
		v, _ := p.Any(ConstID(i))
		storage := p.Entries[i].Storage
		key, err := constKey(storage, v)
		if err != nil {
			continue
		}
		p.index[key] = ConstID(i)
	}
}

// classifyConst decides storage for a value and normalizes numeric Go
// types to float64. Structured values pass through untouched: coercing a
// color hex string or a vector object here would silently corrupt data.
func classifyConst(value any) (ConstStorage, any, error) {
	switch v := value.(type) {
	case float64:
		if err := checkFinite(v); err != nil {
			return "", nil, err
		}
		return ConstF64, v, nil
	case float32:
		return classifyConst(float64(v))
	case int:
		return ConstF64, float64(v), nil
	case int32:
		return ConstF64, float64(v), nil
	case int64:
		return ConstF64, float64(v), nil
	case []float64:
		for _, f := range v {
			if err := checkFinite(f); err != nil {
				return "", nil, err
			}
		}
		return ConstF64, v, nil
	case []float32:
		for _, f := range v {
			if err := checkFinite(float64(f)); err != nil {
				return "", nil, err
			}
		}
		return ConstF32, v, nil
	case []int32:
		return ConstI32, v, nil
	default:
		return ConstJSON, value, nil
	}
}

// constKey computes the interning key: canonical JSON of the value, domain
// separated by storage so a scalar 3 in f64 and a JSON 3 never collide.
func constKey(storage ConstStorage, value any) (string, error) {
	canonical, err := MarshalCanonical(constKeyable(value))
	if err != nil {
		return "", fmt.Errorf("const intern key: %w", err)
	}
	return string(storage) + "\x00" + string(canonical), nil
}

// constKeyable widens typed slices to []any so canonical marshaling
// handles them uniformly.
func constKeyable(value any) any {
	switch v := value.(type) {
	case []float64:
		out := make([]any, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out
	case []float32:
		out := make([]any, len(v))
		for i, f := range v {
			out[i] = float64(f)
		}
		return out
	case []int32:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = int64(n)
		}
		return out
	default:
		return value
	}
}

func checkFinite(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite float forbidden in IR: %v", f)
	}
	return nil
}
