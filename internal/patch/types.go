// Package patch defines the source patch document: blocks, wires, buses,
// publishers, and listeners as authored in the editor. The compiler
// consumes a Patch and produces an ir.CompiledProgram; nothing in this
// package executes.
package patch

import (
	"fmt"

	"github.com/strandlab/strand/internal/ir"
)

// PortRef addresses one port on one block.
type PortRef struct {
	Block string `json:"block"`
	Port  string `json:"port"`
}

func (r PortRef) String() string {
	return r.Block + "." + r.Port
}

// Block is one node instance in the patch. Config carries the block's
// authored parameters as plain decoded values; the block's lowering
// interprets them.
type Block struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// Wire is one explicit connection between two ports.
type Wire struct {
	ID   string  `json:"id"`
	From PortRef `json:"from"`
	To   PortRef `json:"to"`
}

// TransformDecl is one authored transform step on a publisher. The
// compiler lowers the declaration list into an ir.TransformChain.
type TransformDecl struct {
	Op     ir.TransformOp `json:"op"`
	Params map[string]any `json:"params,omitempty"`
}

// BusDecl declares one named aggregation point.
type BusDecl struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Type    ir.TypeDesc    `json:"type"`
	Combine ir.CombineMode `json:"combine"`
	Silent  ir.SilentMode  `json:"silent"`
	// SilentValue is the explicit silent constant (Silent == const).
	SilentValue any `json:"silent_value,omitempty"`
	// Default is the bus default (Silent == default).
	Default any `json:"default,omitempty"`
}

// Publisher binds a block output port onto a bus. Evaluation order across
// publishers of one bus is (SortKey asc, ID asc); insertion order in this
// slice carries no meaning.
type Publisher struct {
	ID        string          `json:"id"`
	Bus       string          `json:"bus"`
	From      PortRef         `json:"from"`
	Enabled   bool            `json:"enabled"`
	SortKey   int32           `json:"sort_key"`
	Transform []TransformDecl `json:"transform,omitempty"`
}

// Listener binds a bus to a block input port.
type Listener struct {
	ID  string  `json:"id"`
	Bus string  `json:"bus"`
	To  PortRef `json:"to"`
}

// Patch is the complete source document handed to the compiler.
type Patch struct {
	ID         string      `json:"id"`
	Name       string      `json:"name,omitempty"`
	Seed       int64       `json:"seed,omitempty"`
	Blocks     []Block     `json:"blocks"`
	Wires      []Wire      `json:"wires,omitempty"`
	Buses      []BusDecl   `json:"buses,omitempty"`
	Publishers []Publisher `json:"publishers,omitempty"`
	Listeners  []Listener  `json:"listeners,omitempty"`
}

// BlockByID returns the block with the given id, if present.
func (p *Patch) BlockByID(id string) (Block, bool) {
	for _, b := range p.Blocks {
		if b.ID == id {
			return b, true
		}
	}
	return Block{}, false
}

// BusByID returns the bus with the given id, if present.
func (p *Patch) BusByID(id string) (BusDecl, bool) {
	for _, b := range p.Buses {
		if b.ID == id {
			return b, true
		}
	}
	return BusDecl{}, false
}

// RevisionHash computes the content hash of the patch document. It is the
// PatchRevision stamped onto compiled programs: two structurally equal
// patches hash identically regardless of host map iteration order.
func (p *Patch) RevisionHash() (string, error) {
	doc, err := canonicalDoc(p)
	if err != nil {
		return "", err
	}
	h, err := ir.HashCanonical(ir.HashDomainPatch, doc)
	if err != nil {
		return "", fmt.Errorf("patch revision hash: %w", err)
	}
	return h, nil
}

// canonicalDoc lowers the Patch to plain maps/slices for canonical
// marshaling. Element order inside the document is preserved: it is part
// of the authored content, unlike map key order.
func canonicalDoc(p *Patch) (map[string]any, error) {
	blocks := make([]any, len(p.Blocks))
	for i, b := range p.Blocks {
		m := map[string]any{"id": b.ID, "type": b.Type}
		if len(b.Config) > 0 {
			m["config"] = anyMap(b.Config)
		}
		blocks[i] = m
	}

	wires := make([]any, len(p.Wires))
	for i, w := range p.Wires {
		wires[i] = map[string]any{
			"id":   w.ID,
			"from": map[string]any{"block": w.From.Block, "port": w.From.Port},
			"to":   map[string]any{"block": w.To.Block, "port": w.To.Port},
		}
	}

	buses := make([]any, len(p.Buses))
	for i, b := range p.Buses {
		m := map[string]any{
			"id":      b.ID,
			"name":    b.Name,
			"world":   string(b.Type.World),
			"domain":  string(b.Type.Domain),
			"combine": string(b.Combine),
			"silent":  string(b.Silent),
		}
		if b.SilentValue != nil {
			m["silent_value"] = b.SilentValue
		}
		if b.Default != nil {
			m["default"] = b.Default
		}
		buses[i] = m
	}

	pubs := make([]any, len(p.Publishers))
	for i, pub := range p.Publishers {
		m := map[string]any{
			"id":       pub.ID,
			"bus":      pub.Bus,
			"from":     map[string]any{"block": pub.From.Block, "port": pub.From.Port},
			"enabled":  pub.Enabled,
			"sort_key": int64(pub.SortKey),
		}
		if len(pub.Transform) > 0 {
			steps := make([]any, len(pub.Transform))
			for j, s := range pub.Transform {
				sm := map[string]any{"op": string(s.Op)}
				if len(s.Params) > 0 {
					sm["params"] = anyMap(s.Params)
				}
				steps[j] = sm
			}
			m["transform"] = steps
		}
		pubs[i] = m
	}

	listeners := make([]any, len(p.Listeners))
	for i, l := range p.Listeners {
		listeners[i] = map[string]any{
			"id":  l.ID,
			"bus": l.Bus,
			"to":  map[string]any{"block": l.To.Block, "port": l.To.Port},
		}
	}

	return map[string]any{
		"id":         p.ID,
		"seed":       p.Seed,
		"blocks":     blocks,
		"wires":      wires,
		"buses":      buses,
		"publishers": pubs,
		"listeners":  listeners,
	}, nil
}

func anyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
