package decode

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"eventflow/internal/model"
)

// asValue converts one value produced by ABI unpacking into the typed
// parameter union. The abi package returns native Go integers for
// widths up to 64 bits and *big.Int above that; both are normalized to
// arbitrary-precision integers here.
func asValue(raw interface{}, kind model.ValueKind) (model.Value, error) {
	switch kind {
	case model.KindAddress:
		addr, ok := raw.(common.Address)
		if !ok {
			return model.Value{}, fmt.Errorf("expected address, got %T", raw)
		}
		return model.AddressValue(addr), nil
	case model.KindUint:
		n, err := asBigInt(raw)
		if err != nil {
			return model.Value{}, err
		}
		return model.UintValue(n), nil
	case model.KindInt:
		n, err := asBigInt(raw)
		if err != nil {
			return model.Value{}, err
		}
		return model.IntValue(n), nil
	default:
		return model.Value{}, fmt.Errorf("unsupported value kind: %s", kind)
	}
}

func asBigInt(raw interface{}) (*big.Int, error) {
	switch v := raw.(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("nil big.Int")
		}
		return new(big.Int).Set(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("expected integer, got %T", raw)
	}
}
