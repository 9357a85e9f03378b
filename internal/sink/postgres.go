package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"eventflow/internal/model"
)

// keyColumns are shared by every event table; the first two form the
// natural key.
var keyColumns = []string{"tx_hash", "log_index", "block_number", "address"}

// Postgres upserts table batches and the cursor row in one transaction,
// so a crash between batch write and cursor save cannot happen.
type Postgres struct {
	pool     *pgxpool.Pool
	pipeline string
	upserts  map[string]string // table -> prepared upsert SQL
	arity    map[string]int    // table -> total column count
}

// NewPostgres connects and precomputes the upsert statement per table
// spec.
func NewPostgres(ctx context.Context, dsn, pipelineName string, specs []TableSpec) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if pipelineName == "" {
		return nil, fmt.Errorf("pipeline name is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	s := &Postgres{
		pool:     pool,
		pipeline: pipelineName,
		upserts:  make(map[string]string, len(specs)),
		arity:    make(map[string]int, len(specs)),
	}
	for _, spec := range specs {
		sql, err := upsertSQL(spec)
		if err != nil {
			pool.Close()
			return nil, err
		}
		s.upserts[spec.Name] = sql
		s.arity[spec.Name] = len(keyColumns) + len(spec.Columns)
	}
	return s, nil
}

func upsertSQL(spec TableSpec) (string, error) {
	if spec.Name == "" {
		return "", fmt.Errorf("table name required")
	}
	cols := append(append([]string{}, keyColumns...), spec.Columns...)

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	updates := make([]string, 0, len(cols)-2)
	for _, col := range cols[2:] { // everything except the natural key
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s, created_at, updated_at) VALUES (%s, now(), now()) ON CONFLICT (tx_hash, log_index) DO UPDATE SET %s, updated_at = now()",
		spec.Name,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	), nil
}

// ApplyBatch writes every table's rows and the cursor row atomically.
func (s *Postgres) ApplyBatch(ctx context.Context, batch TableBatch, cur model.Cursor) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	pgBatch := &pgx.Batch{}
	queued := 0
	for _, table := range batch.Tables() {
		sql, ok := s.upserts[table]
		if !ok {
			return fmt.Errorf("no table spec for %s", table)
		}
		for _, row := range batch[table] {
			args := make([]interface{}, 0, s.arity[table])
			args = append(args, row.TxHash, int64(row.LogIndex), int64(row.BlockNumber), row.Address)
			for _, v := range row.Payload {
				args = append(args, v)
			}
			if len(args) != s.arity[table] {
				return fmt.Errorf("table %s: row has %d values, want %d", table, len(args), s.arity[table])
			}
			pgBatch.Queue(sql, args...)
			queued++
		}
	}

	pgBatch.Queue(`
		INSERT INTO ingest_cursor (pipeline, next_block, endpoint, last_advanced_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (pipeline) DO UPDATE SET
			next_block = EXCLUDED.next_block,
			endpoint = EXCLUDED.endpoint,
			last_advanced_at = EXCLUDED.last_advanced_at,
			updated_at = now()
	`, s.pipeline, int64(cur.NextBlock), cur.Endpoint, cur.LastAdvancedAt)
	queued++

	br := tx.SendBatch(ctx, pgBatch)
	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Load implements cursor.Store for crash recovery at startup.
func (s *Postgres) Load(ctx context.Context) (model.Cursor, bool, error) {
	var cur model.Cursor
	row := s.pool.QueryRow(ctx,
		`SELECT next_block, endpoint, last_advanced_at FROM ingest_cursor WHERE pipeline = $1`,
		s.pipeline,
	)
	var nextBlock int64
	if err := row.Scan(&nextBlock, &cur.Endpoint, &cur.LastAdvancedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Cursor{}, false, nil
		}
		return model.Cursor{}, false, err
	}
	cur.NextBlock = uint64(nextBlock)
	return cur, true, nil
}

// Save upserts the cursor row outside a batch transaction.
func (s *Postgres) Save(ctx context.Context, cur model.Cursor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_cursor (pipeline, next_block, endpoint, last_advanced_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (pipeline) DO UPDATE SET
			next_block = EXCLUDED.next_block,
			endpoint = EXCLUDED.endpoint,
			last_advanced_at = EXCLUDED.last_advanced_at,
			updated_at = now()
	`, s.pipeline, int64(cur.NextBlock), cur.Endpoint, cur.LastAdvancedAt)
	return err
}

// Close releases the connection pool.
func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
