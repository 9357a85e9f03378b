package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"eventflow/internal/cursor"
	"eventflow/internal/model"
)

// JSONL appends rows as JSON lines, one file per table under dir, and
// saves the cursor through the given store after each batch. Useful for
// dry runs without a database; replays append duplicate lines, so the
// idempotency guarantee holds only for the database sink.
type JSONL struct {
	dir   string
	store cursor.Store
	mu    sync.Mutex
}

func NewJSONL(dir string, store cursor.Store) *JSONL {
	return &JSONL{dir: dir, store: store}
}

type jsonlRow struct {
	TxHash      string   `json:"tx_hash"`
	LogIndex    uint64   `json:"log_index"`
	BlockNumber uint64   `json:"block_number"`
	Address     string   `json:"address"`
	Payload     []string `json:"payload"`
}

// ApplyBatch appends every table's rows and then saves the cursor.
func (s *JSONL) ApplyBatch(ctx context.Context, batch TableBatch, cur model.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	for _, table := range batch.Tables() {
		if err := s.appendTable(table, batch[table]); err != nil {
			return err
		}
	}

	if s.store != nil {
		if err := s.store.Save(ctx, cur); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}
	return nil
}

func (s *JSONL) appendTable(table string, rows []model.Row) error {
	path := filepath.Join(s.dir, table+".jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, row := range rows {
		line, err := json.Marshal(jsonlRow{
			TxHash:      row.TxHash,
			LogIndex:    row.LogIndex,
			BlockNumber: row.BlockNumber,
			Address:     row.Address,
			Payload:     row.Payload,
		})
		if err != nil {
			return fmt.Errorf("marshal row: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}
	return writer.Flush()
}

// Close is a no-op for the JSONL sink.
func (s *JSONL) Close() {}
