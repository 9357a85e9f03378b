// Package sink persists decoded events into named tables, idempotent on
// the (tx_hash, log_index) natural key.
package sink

import (
	"context"
	"fmt"
	"sort"

	"eventflow/internal/model"
	"eventflow/internal/schema"
)

// TableBatch groups rows by destination table.
type TableBatch map[string][]model.Row

// Rows returns the total row count across tables.
func (b TableBatch) Rows() int {
	n := 0
	for _, rows := range b {
		n += len(rows)
	}
	return n
}

// Tables returns the table names in sorted order for deterministic
// writes.
func (b TableBatch) Tables() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sink writes one table batch and the advanced cursor. Implementations
// must be idempotent on the natural key: replaying a batch overwrites
// identical rows. Empty batches still persist the cursor.
type Sink interface {
	ApplyBatch(ctx context.Context, batch TableBatch, cur model.Cursor) error
	Close()
}

// TableSpec names one sink table and its payload columns in row order.
type TableSpec struct {
	Name    string
	Columns []string
}

// SpecsFromRegistry derives the table specs for every schema in the
// registry.
func SpecsFromRegistry(reg *schema.Registry) []TableSpec {
	compiled := reg.Schemas()
	specs := make([]TableSpec, 0, len(compiled))
	for _, c := range compiled {
		specs = append(specs, TableSpec{Name: c.Table, Columns: c.Columns()})
	}
	return specs
}

// BuildBatch converts decoded events into rows grouped by table. Nil
// events (unknown or malformed records) are skipped.
func BuildBatch(events []*model.DecodedEvent, reg *schema.Registry) (TableBatch, error) {
	batch := make(TableBatch)
	for _, ev := range events {
		if ev == nil {
			continue
		}
		compiled, ok := reg.ByName(ev.Kind)
		if !ok {
			return nil, fmt.Errorf("decoded event has unregistered kind %s", ev.Kind)
		}

		payload := make([]string, 0, len(ev.Indexed)+len(ev.Body))
		for _, v := range ev.Indexed {
			payload = append(payload, v.String())
		}
		for _, v := range ev.Body {
			payload = append(payload, v.String())
		}
		if len(payload) != len(compiled.Columns()) {
			return nil, fmt.Errorf("kind %s: %d values for %d columns", ev.Kind, len(payload), len(compiled.Columns()))
		}

		batch[compiled.Table] = append(batch[compiled.Table], model.Row{
			TxHash:      ev.Raw.TxHash,
			LogIndex:    ev.Raw.LogIndex,
			BlockNumber: ev.Raw.BlockNumber,
			Address:     ev.Raw.Address,
			Payload:     payload,
		})
	}
	return batch, nil
}
