package schema

import (
	"fmt"
	"strings"
)

// Builtins returns the event schemas this pipeline ships with: ERC-20
// transfers and approvals, Uniswap V2/V3 swaps, and the Last Tap game
// events.
func Builtins() []Schema {
	return []Schema{
		{
			Name:  "Transfer",
			Table: "erc20_transfers",
			Params: []Param{
				{Name: "from_addr", Type: "address", Indexed: true},
				{Name: "to_addr", Type: "address", Indexed: true},
				{Name: "amount", Type: "uint256"},
			},
			EventName: "Transfer",
		},
		{
			Name:  "Approval",
			Table: "erc20_approvals",
			Params: []Param{
				{Name: "owner", Type: "address", Indexed: true},
				{Name: "spender", Type: "address", Indexed: true},
				{Name: "amount", Type: "uint256"},
			},
			EventName: "Approval",
		},
		{
			Name:      "SwapV2",
			EventName: "Swap",
			Table:     "univ2_swaps",
			Params: []Param{
				{Name: "sender", Type: "address", Indexed: true},
				{Name: "amount0_in", Type: "uint256"},
				{Name: "amount1_in", Type: "uint256"},
				{Name: "amount0_out", Type: "uint256"},
				{Name: "amount1_out", Type: "uint256"},
				{Name: "to_addr", Type: "address", Indexed: true},
			},
		},
		{
			Name:      "SwapV3",
			EventName: "Swap",
			Table:     "univ3_swaps",
			Params: []Param{
				{Name: "sender", Type: "address", Indexed: true},
				{Name: "recipient", Type: "address", Indexed: true},
				{Name: "amount0", Type: "int256"},
				{Name: "amount1", Type: "int256"},
				{Name: "sqrt_price_x96", Type: "uint160"},
				{Name: "liquidity", Type: "uint128"},
				{Name: "tick", Type: "int24"},
			},
		},
		{
			Name:  "Tapped",
			Table: "lasttap_taps",
			Params: []Param{
				{Name: "round_number", Type: "uint256", Indexed: true},
				{Name: "tapper", Type: "address", Indexed: true},
				{Name: "tap_cost", Type: "uint256"},
				{Name: "new_deadline", Type: "uint256"},
			},
			EventName: "Tapped",
		},
		{
			Name:  "RoundEnded",
			Table: "lasttap_rounds",
			Params: []Param{
				{Name: "round_number", Type: "uint256", Indexed: true},
				{Name: "winner", Type: "address", Indexed: true},
				{Name: "prize", Type: "uint256"},
			},
			EventName: "RoundEnded",
		},
	}
}

// Select returns the builtin schemas matching the given kind tags,
// case-insensitively. An empty selection means all builtins.
func Select(names []string) ([]Schema, error) {
	builtins := Builtins()
	if len(names) == 0 {
		return builtins, nil
	}

	byName := make(map[string]Schema, len(builtins))
	for _, s := range builtins {
		byName[strings.ToLower(s.Name)] = s
	}

	out := make([]Schema, 0, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		s, ok := byName[key]
		if !ok {
			return nil, fmt.Errorf("unknown schema: %s", name)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("schema selection is empty")
	}
	return out, nil
}
