// Package decode classifies raw log records against a schema registry
// and unpacks matched records into typed decoded events.
package decode

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"eventflow/internal/model"
	"eventflow/internal/schema"
)

// Result carries the decoded batch. Events has the same length and
// order as the input; a nil entry means the record matched no schema or
// was malformed. Malformed records are reported in Errors, unmatched
// ones only counted in Unknown.
type Result struct {
	Events  []*model.DecodedEvent
	Errors  []model.DecodeError
	Unknown int
}

// Decoded returns the number of non-nil events.
func (r Result) Decoded() int {
	n := 0
	for _, ev := range r.Events {
		if ev != nil {
			n++
		}
	}
	return n
}

// Batch decodes every record against the registry. Classification is by
// topic0 only; a per-record decode failure never fails the batch.
func Batch(records []model.LogRecord, reg *schema.Registry) Result {
	result := Result{Events: make([]*model.DecodedEvent, len(records))}
	for i := range records {
		compiled, ok := reg.LookupHex(records[i].Topic0())
		if !ok {
			result.Unknown++
			continue
		}
		event, err := one(&records[i], compiled)
		if err != nil {
			result.Errors = append(result.Errors, model.DecodeError{
				BlockNumber: records[i].BlockNumber,
				TxHash:      records[i].TxHash,
				LogIndex:    records[i].LogIndex,
				Address:     records[i].Address,
				Topic0:      records[i].Topic0(),
				Error:       err.Error(),
			})
			continue
		}
		result.Events[i] = event
	}
	return result
}

func one(record *model.LogRecord, compiled *schema.Compiled) (*model.DecodedEvent, error) {
	indexed, err := decodeIndexed(record.Topics, compiled)
	if err != nil {
		return nil, err
	}
	body, err := decodeBody(record.Data, compiled)
	if err != nil {
		return nil, err
	}
	return &model.DecodedEvent{
		Kind:    compiled.Name,
		Indexed: indexed,
		Body:    body,
		Raw:     record,
	}, nil
}

// decodeIndexed maps topic slots 1..n positionally onto the schema's
// indexed parameters. Each slot is one 32-byte word.
func decodeIndexed(topics []string, compiled *schema.Compiled) ([]model.Value, error) {
	params := compiled.IndexedParams()
	if len(topics) != len(params)+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", len(params)+1, len(topics))
	}

	values := make([]model.Value, 0, len(params))
	for i, p := range params {
		word, err := hexutil.Decode(topics[i+1])
		if err != nil {
			return nil, fmt.Errorf("topic %d: %w", i+1, err)
		}
		if len(word) != common.HashLength {
			return nil, fmt.Errorf("topic %d: length %d", i+1, len(word))
		}

		kind, err := p.Kind()
		if err != nil {
			return nil, err
		}
		switch kind {
		case model.KindAddress:
			values = append(values, model.AddressValue(common.BytesToAddress(word)))
		case model.KindUint:
			values = append(values, model.UintValue(new(big.Int).SetBytes(word)))
		case model.KindInt:
			// Topic words are sign-extended to 256 bits.
			values = append(values, model.IntValue(math.S256(new(big.Int).SetBytes(word))))
		}
	}
	return values, nil
}

// decodeBody unpacks the data payload positionally into the schema's
// non-indexed parameters via the ABI codec, which rejects short or
// malformed payloads.
func decodeBody(dataHex string, compiled *schema.Compiled) ([]model.Value, error) {
	params := compiled.BodyParams()
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}

	raw, err := compiled.Event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", compiled.Name, err)
	}
	if len(raw) != len(params) {
		return nil, fmt.Errorf("unexpected %s values: %d", compiled.Name, len(raw))
	}

	values := make([]model.Value, 0, len(params))
	for i, p := range params {
		kind, err := p.Kind()
		if err != nil {
			return nil, err
		}
		value, err := asValue(raw[i], kind)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", p.Name, err)
		}
		values = append(values, value)
	}
	return values, nil
}
