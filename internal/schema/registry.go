package schema

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Registry holds the compiled schema set for one pipeline, looked up by
// topic0 during classification.
type Registry struct {
	byTopic map[common.Hash]*Compiled
	byName  map[string]*Compiled
	ordered []*Compiled
}

// NewRegistry compiles the given schemas. Duplicate names or signature
// hashes are rejected.
func NewRegistry(schemas []Schema) (*Registry, error) {
	if len(schemas) == 0 {
		return nil, fmt.Errorf("at least one schema required")
	}

	r := &Registry{
		byTopic: make(map[common.Hash]*Compiled, len(schemas)),
		byName:  make(map[string]*Compiled, len(schemas)),
	}
	for _, s := range schemas {
		compiled, err := Compile(s)
		if err != nil {
			return nil, err
		}
		if _, ok := r.byName[compiled.Name]; ok {
			return nil, fmt.Errorf("duplicate schema name: %s", compiled.Name)
		}
		if prev, ok := r.byTopic[compiled.Topic0]; ok {
			return nil, fmt.Errorf("schemas %s and %s share topic0 %s", prev.Name, compiled.Name, compiled.Topic0.Hex())
		}
		r.byTopic[compiled.Topic0] = compiled
		r.byName[compiled.Name] = compiled
		r.ordered = append(r.ordered, compiled)
	}
	return r, nil
}

// Lookup returns the schema whose signature hash equals topic0.
func (r *Registry) Lookup(topic0 common.Hash) (*Compiled, bool) {
	c, ok := r.byTopic[topic0]
	return c, ok
}

// LookupHex is Lookup over a hex-encoded topic0 string.
func (r *Registry) LookupHex(topic0 string) (*Compiled, bool) {
	if !strings.HasPrefix(topic0, "0x") || len(topic0) != 66 {
		return nil, false
	}
	return r.Lookup(common.HexToHash(topic0))
}

// ByName returns the schema registered under the given kind tag.
func (r *Registry) ByName(name string) (*Compiled, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Topic0s returns every registered signature hash, in registration order.
func (r *Registry) Topic0s() []common.Hash {
	out := make([]common.Hash, 0, len(r.ordered))
	for _, c := range r.ordered {
		out = append(out, c.Topic0)
	}
	return out
}

// Schemas returns the compiled schemas in registration order.
func (r *Registry) Schemas() []*Compiled {
	out := make([]*Compiled, len(r.ordered))
	copy(out, r.ordered)
	return out
}
