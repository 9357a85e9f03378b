package source

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"eventflow/internal/model"
)

// LogFetcher is the narrow client surface a stream pulls from.
type LogFetcher interface {
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// Batch is one delivered window of raw records. NextBlock is the block
// to resume from on the next call, exclusive of data already delivered.
type Batch struct {
	Records   []model.LogRecord
	FromBlock uint64
	ToBlock   uint64
	NextBlock uint64
}

// StreamConfig bounds one stream over a filter and block range.
type StreamConfig struct {
	Filter    Filter
	FromBlock uint64
	Tip       uint64
	Window    uint64
	Timeout   time.Duration
}

// Stream pulls batches of raw log records window by window until the
// range is drained up to the tip known at open time.
type Stream struct {
	fetcher LogFetcher
	cfg     StreamConfig
	next    uint64
	closed  bool
}

// Open validates the filter and positions a stream at fromBlock. A
// malformed filter is a fatal query error, never retried upstream.
func Open(fetcher LogFetcher, cfg StreamConfig) (*Stream, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("log fetcher is nil")
	}
	if err := cfg.Filter.Validate(); err != nil {
		return nil, &FatalQueryError{Err: err}
	}
	if cfg.Window == 0 {
		return nil, &FatalQueryError{Err: fmt.Errorf("window must be greater than zero")}
	}
	return &Stream{fetcher: fetcher, cfg: cfg, next: cfg.FromBlock}, nil
}

// Recv returns the next batch, or ErrEndOfRange once the range is
// drained to the tip. Each clause of the filter is queried separately;
// results are merged in (block, tx index, log index) order and deduped
// on the natural key.
func (s *Stream) Recv(ctx context.Context) (Batch, error) {
	if s.closed {
		return Batch{}, fmt.Errorf("stream is closed")
	}
	if s.next > s.cfg.Tip {
		return Batch{}, ErrEndOfRange
	}

	from := s.next
	to := from + s.cfg.Window - 1
	if to > s.cfg.Tip {
		to = s.cfg.Tip
	}

	var merged []types.Log
	for _, clause := range s.cfg.Filter {
		logs, err := s.fetchClause(ctx, clause, from, to)
		if err != nil {
			return Batch{}, err
		}
		merged = append(merged, logs...)
	}

	records := normalize(merged)
	s.next = to + 1
	return Batch{
		Records:   records,
		FromBlock: from,
		ToBlock:   to,
		NextBlock: to + 1,
	}, nil
}

func (s *Stream) fetchClause(ctx context.Context, clause Clause, from, to uint64) ([]types.Log, error) {
	callCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	logs, err := s.fetcher.FilterLogs(callCtx, clause.Query(from, to))
	if err != nil {
		return nil, Classify(err)
	}
	return logs, nil
}

// NextBlock returns the stream's current resume position.
func (s *Stream) NextBlock() uint64 {
	return s.next
}

// Close releases the stream. Safe to call multiple times.
func (s *Stream) Close() {
	s.closed = true
}

// normalize converts raw logs to records, drops duplicates delivered by
// overlapping clauses, and orders by position in the chain.
func normalize(logs []types.Log) []model.LogRecord {
	seen := make(map[string]struct{}, len(logs))
	records := make([]model.LogRecord, 0, len(logs))
	for _, log := range logs {
		record := buildLogRecord(log)
		key := record.NaturalKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].BlockNumber != records[j].BlockNumber {
			return records[i].BlockNumber < records[j].BlockNumber
		}
		if records[i].TxIndex != records[j].TxIndex {
			return records[i].TxIndex < records[j].TxIndex
		}
		return records[i].LogIndex < records[j].LogIndex
	})
	return records
}

func buildLogRecord(log types.Log) model.LogRecord {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		TxIndex:     uint64(log.TxIndex),
		LogIndex:    uint64(log.Index),
		Address:     log.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(log.Data),
		Removed:     log.Removed,
	}
}
