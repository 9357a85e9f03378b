package sink

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"eventflow/internal/model"
	"eventflow/internal/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(schema.Builtins())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func transferEvent(tx string, logIndex uint64, amount int64) *model.DecodedEvent {
	raw := &model.LogRecord{
		BlockNumber: 100,
		TxHash:      tx,
		LogIndex:    logIndex,
		Address:     "0x3333333333333333333333333333333333333333",
	}
	return &model.DecodedEvent{
		Kind: "Transfer",
		Indexed: []model.Value{
			model.AddressValue(common.HexToAddress("0x1111111111111111111111111111111111111111")),
			model.AddressValue(common.HexToAddress("0x2222222222222222222222222222222222222222")),
		},
		Body: []model.Value{model.UintValue(big.NewInt(amount))},
		Raw:  raw,
	}
}

func TestBuildBatchGroupsByTable(t *testing.T) {
	reg := testRegistry(t)
	events := []*model.DecodedEvent{
		transferEvent("0xa", 0, 5),
		nil, // unknown record, skipped
		transferEvent("0xa", 1, 7),
	}

	batch, err := BuildBatch(events, reg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	rows := batch["erc20_transfers"]
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if batch.Rows() != 2 {
		t.Fatalf("total rows = %d", batch.Rows())
	}
	if rows[0].Payload[2] != "5" {
		t.Fatalf("amount column = %s", rows[0].Payload[2])
	}
	if rows[0].Payload[0] != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("from column = %s", rows[0].Payload[0])
	}
}

func TestBuildBatchRejectsUnregisteredKind(t *testing.T) {
	reg := testRegistry(t)
	ev := transferEvent("0xa", 0, 1)
	ev.Kind = "Mystery"
	if _, err := BuildBatch([]*model.DecodedEvent{ev}, reg); err == nil {
		t.Fatalf("expected error for unregistered kind")
	}
}

func TestSpecsFromRegistry(t *testing.T) {
	reg := testRegistry(t)
	specs := SpecsFromRegistry(reg)
	if len(specs) != len(schema.Builtins()) {
		t.Fatalf("specs = %d", len(specs))
	}

	byName := make(map[string]TableSpec)
	for _, s := range specs {
		byName[s.Name] = s
	}
	transfers, ok := byName["erc20_transfers"]
	if !ok {
		t.Fatalf("missing erc20_transfers spec")
	}
	want := []string{"from_addr", "to_addr", "amount"}
	if len(transfers.Columns) != len(want) {
		t.Fatalf("columns = %v", transfers.Columns)
	}
	for i := range want {
		if transfers.Columns[i] != want[i] {
			t.Fatalf("columns = %v, want %v", transfers.Columns, want)
		}
	}
}

func TestUpsertSQLIsIdempotentOnNaturalKey(t *testing.T) {
	sql, err := upsertSQL(TableSpec{Name: "erc20_transfers", Columns: []string{"from_addr", "to_addr", "amount"}})
	if err != nil {
		t.Fatalf("sql: %v", err)
	}
	if !strings.Contains(sql, "ON CONFLICT (tx_hash, log_index) DO UPDATE SET") {
		t.Fatalf("upsert must resolve natural-key conflicts by overwrite: %s", sql)
	}
	if !strings.Contains(sql, "amount = EXCLUDED.amount") {
		t.Fatalf("payload columns must be overwritten on conflict: %s", sql)
	}
	if strings.Contains(sql, "tx_hash = EXCLUDED.tx_hash") {
		t.Fatalf("natural key columns must not be updated: %s", sql)
	}
}

func TestTableBatchTablesSorted(t *testing.T) {
	batch := TableBatch{"z_table": nil, "a_table": nil, "m_table": nil}
	tables := batch.Tables()
	if tables[0] != "a_table" || tables[1] != "m_table" || tables[2] != "z_table" {
		t.Fatalf("tables not sorted: %v", tables)
	}
}
