package model

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ValueKind tags the type of one decoded event parameter.
type ValueKind int

const (
	KindUint ValueKind = iota
	KindInt
	KindAddress
)

func (k ValueKind) String() string {
	switch k {
	case KindUint:
		return "uint"
	case KindInt:
		return "int"
	case KindAddress:
		return "address"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is one decoded event parameter. Integer kinds carry an
// arbitrary-precision value; addresses carry a 20-byte address.
// Exactly one of Int/Addr is meaningful, selected by Kind.
type Value struct {
	Kind ValueKind
	Int  *big.Int
	Addr common.Address
}

// UintValue builds an unsigned integer Value.
func UintValue(v *big.Int) Value {
	return Value{Kind: KindUint, Int: v}
}

// IntValue builds a signed integer Value.
func IntValue(v *big.Int) Value {
	return Value{Kind: KindInt, Int: v}
}

// AddressValue builds an address Value.
func AddressValue(a common.Address) Value {
	return Value{Kind: KindAddress, Addr: a}
}

// String renders the value for storage and display: decimal for integers,
// checksummed hex for addresses. Integers are never coerced to floats.
func (v Value) String() string {
	switch v.Kind {
	case KindUint, KindInt:
		if v.Int == nil {
			return "0"
		}
		return v.Int.String()
	case KindAddress:
		return v.Addr.Hex()
	default:
		return ""
	}
}
