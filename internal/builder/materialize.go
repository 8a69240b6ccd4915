package builder

import (
	"fmt"

	"github.com/strandlab/strand/internal/ir"
)

// MaterializeDefault fills an unconnected input port with an IR-level
// default source for the given declared type and default value.
//
// Dispatch by type world:
//   - event: events carry no default; the result is a RefNone reference
//   - signal, numeric domain: sigConst node + seeded slot
//   - signal, non-numeric domain: const pool verbatim — coercing a color
//     hex or vector object here would silently corrupt data
//   - field: fieldConst node + seeded slot over the unit domain
//   - config with domain "domain": DomainFromN special case
//   - remaining scalar/config: const pool verbatim
//
// An unrecognized (world, domain) combination is a compiler-internal
// invariant violation, never a user-facing error; it surfaces as an error
// the compile pass treats as fatal.
func (b *Builder) MaterializeDefault(t ir.TypeDesc, value any) (ir.ValueRef, error) {
	switch t.World {
	case ir.WorldEvent:
		return ir.NoneRef(t), nil

	case ir.WorldSignal:
		if num, ok := asFloat(value); ok && ir.NumericDomains[t.Domain] {
			id, err := b.SigConst(num, t)
			if err != nil {
				return ir.ValueRef{}, err
			}
			slot := b.AllocValueSlot(t)
			b.RegisterSigSlot(id, slot)
			node, _ := b.SigNode(id)
			b.SeedSlot(slot, node.Const)
			return ir.SigRef(id, slot, t), nil
		}
		// Structured signal default (color, vec, string): stored verbatim.
		c, err := b.AllocConst(value)
		if err != nil {
			return ir.ValueRef{}, fmt.Errorf("materialize signal default: %w", err)
		}
		return ir.ConstRef(c, t), nil

	case ir.WorldField:
		domain := b.DomainFromN(1)
		id, err := b.FieldConst(value, domain, t)
		if err != nil {
			return ir.ValueRef{}, fmt.Errorf("materialize field default: %w", err)
		}
		slot := b.AllocValueSlot(t)
		b.RegisterFieldSlot(id, slot)
		node, _ := b.FieldNode(id)
		b.SeedSlot(slot, node.Const)
		return ir.FieldRef(id, slot, t), nil

	case ir.WorldConfig:
		if t.Domain == ir.DomainDomain {
			n, ok := asInt(value)
			if !ok {
				return ir.ValueRef{}, fmt.Errorf("materialize domain default: count is %T, want integer", value)
			}
			d := b.DomainFromN(int32(n))
			return ir.DomainRef(d, t), nil
		}
		c, err := b.AllocConst(value)
		if err != nil {
			return ir.ValueRef{}, fmt.Errorf("materialize config default: %w", err)
		}
		return ir.ConstRef(c, t), nil

	case ir.WorldScalar:
		c, err := b.AllocConst(value)
		if err != nil {
			return ir.ValueRef{}, fmt.Errorf("materialize scalar default: %w", err)
		}
		return ir.ConstRef(c, t), nil

	default:
		return ir.ValueRef{}, fmt.Errorf("materialize default: unrecognized world/domain %q/%q", t.World, t.Domain)
	}
}

// asFloat widens any numeric Go value to float64.
func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// asInt narrows any numeric Go value to int64 when it is integral.
func asInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}
