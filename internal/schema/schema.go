// Package schema defines the set of event schemas the pipeline can
// classify and decode, compiled into an ABI-backed registry keyed by
// the event-signature hash (topic0).
package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"eventflow/internal/model"
)

// Param is one declared event parameter. Supported types are address
// and fixed-width integers (uintN/intN, N a multiple of 8 up to 256).
type Param struct {
	Name    string
	Type    string
	Indexed bool
}

// Schema declares one event shape. Name is the pipeline's kind tag and
// must be unique; EventName is the on-chain event name used for the
// signature hash (defaults to Name). Table names the sink table rows of
// this kind are written to.
type Schema struct {
	Name      string
	EventName string
	Table     string
	Params    []Param
}

// Compiled is a Schema with its parsed ABI event and signature hash.
type Compiled struct {
	Schema
	Event  abi.Event
	Topic0 common.Hash
}

// Signature returns the canonical event signature, e.g.
// "Transfer(address,address,uint256)".
func (s Schema) Signature() string {
	types := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		types = append(types, p.Type)
	}
	return fmt.Sprintf("%s(%s)", s.eventName(), strings.Join(types, ","))
}

func (s Schema) eventName() string {
	if s.EventName != "" {
		return s.EventName
	}
	return s.Name
}

// IndexedParams returns the indexed parameters in declaration order.
func (s Schema) IndexedParams() []Param {
	out := make([]Param, 0, len(s.Params))
	for _, p := range s.Params {
		if p.Indexed {
			out = append(out, p)
		}
	}
	return out
}

// BodyParams returns the non-indexed parameters in declaration order.
func (s Schema) BodyParams() []Param {
	out := make([]Param, 0, len(s.Params))
	for _, p := range s.Params {
		if !p.Indexed {
			out = append(out, p)
		}
	}
	return out
}

// Columns returns the sink payload column names, indexed parameters
// first, then body parameters, matching decode output order.
func (s Schema) Columns() []string {
	cols := make([]string, 0, len(s.Params))
	for _, p := range s.IndexedParams() {
		cols = append(cols, p.Name)
	}
	for _, p := range s.BodyParams() {
		cols = append(cols, p.Name)
	}
	return cols
}

// Kind maps a parameter type to its decoded value kind.
func (p Param) Kind() (model.ValueKind, error) {
	switch {
	case p.Type == "address":
		return model.KindAddress, nil
	case strings.HasPrefix(p.Type, "uint"):
		return model.KindUint, nil
	case strings.HasPrefix(p.Type, "int"):
		return model.KindInt, nil
	default:
		return 0, fmt.Errorf("unsupported param type: %s", p.Type)
	}
}

// Bits returns the declared integer width, or 0 for addresses.
func (p Param) Bits() int {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(p.Type, "uint"), "int")
	if trimmed == p.Type || trimmed == "" {
		return 0
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0
	}
	return n
}

func validateParam(p Param) error {
	if p.Name == "" {
		return fmt.Errorf("param name required")
	}
	if p.Type == "address" {
		return nil
	}
	for _, prefix := range []string{"uint", "int"} {
		rest, ok := strings.CutPrefix(p.Type, prefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n <= 0 || n > 256 || n%8 != 0 {
			return fmt.Errorf("invalid integer width in type %s", p.Type)
		}
		return nil
	}
	return fmt.Errorf("unsupported param type: %s", p.Type)
}

// Compile validates the schema and builds its ABI event.
func Compile(s Schema) (*Compiled, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("schema name required")
	}
	if s.Table == "" {
		return nil, fmt.Errorf("schema %s: table required", s.Name)
	}
	if len(s.Params) == 0 {
		return nil, fmt.Errorf("schema %s: at least one param required", s.Name)
	}
	if len(s.IndexedParams()) > 3 {
		return nil, fmt.Errorf("schema %s: at most 3 indexed params", s.Name)
	}

	args := make(abi.Arguments, 0, len(s.Params))
	for _, p := range s.Params {
		if err := validateParam(p); err != nil {
			return nil, fmt.Errorf("schema %s: %w", s.Name, err)
		}
		typ, err := abi.NewType(p.Type, "", nil)
		if err != nil {
			return nil, fmt.Errorf("schema %s: param %s: %w", s.Name, p.Name, err)
		}
		args = append(args, abi.Argument{Name: p.Name, Type: typ, Indexed: p.Indexed})
	}

	event := abi.NewEvent(s.eventName(), s.eventName(), false, args)
	return &Compiled{Schema: s, Event: event, Topic0: event.ID}, nil
}
