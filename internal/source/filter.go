package source

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Clause is one filter alternative: an optional address set plus up to
// four topic-position constraint sets. Each constraint set is a
// disjunction of exact values; positions within a clause combine
// conjunctively. Position 0 names the wanted event-signature hashes.
type Clause struct {
	Addresses []common.Address
	Topics    [4][]common.Hash
}

// Filter is a disjunction of clauses: a record matches the filter when
// it matches any clause.
type Filter []Clause

// Validate rejects filters the source cannot serve.
func (f Filter) Validate() error {
	if len(f) == 0 {
		return fmt.Errorf("filter requires at least one clause")
	}
	for i, clause := range f {
		if len(clause.Topics[0]) == 0 {
			return fmt.Errorf("clause %d: topic0 set is empty", i)
		}
	}
	return nil
}

// Query renders one clause as a range query for the remote source.
// Trailing unconstrained topic positions are omitted.
func (c Clause) Query(fromBlock, toBlock uint64) ethereum.FilterQuery {
	last := -1
	for i := range c.Topics {
		if len(c.Topics[i]) > 0 {
			last = i
		}
	}

	var topics [][]common.Hash
	if last >= 0 {
		topics = make([][]common.Hash, last+1)
		for i := 0; i <= last; i++ {
			topics[i] = c.Topics[i]
		}
	}

	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: c.Addresses,
		Topics:    topics,
	}
}
