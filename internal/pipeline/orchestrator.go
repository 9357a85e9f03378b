// Package pipeline wires the endpoint pool, stream source, decoder,
// sink writer and cursor tracker into the resumable ingestion loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"eventflow/internal/cursor"
	"eventflow/internal/decode"
	"eventflow/internal/endpoint"
	"eventflow/internal/metrics"
	"eventflow/internal/model"
	"eventflow/internal/schema"
	"eventflow/internal/sink"
	"eventflow/internal/source"
)

// Source is one connected endpoint's pull surface.
type Source interface {
	ChainHeight(ctx context.Context) (uint64, error)
	OpenStream(cfg source.StreamConfig) (Stream, error)
	Close()
}

// Stream yields batches until the opened range is drained.
type Stream interface {
	Recv(ctx context.Context) (source.Batch, error)
	Close()
}

// Connector dials one endpoint. Errors must already be classified.
type Connector func(ctx context.Context, ep model.Endpoint) (Source, error)

// BatchApplier persists one table batch together with the advanced
// cursor.
type BatchApplier interface {
	Apply(ctx context.Context, batch sink.TableBatch, cur model.Cursor) error
}

// Config holds the orchestrator's runtime settings.
type Config struct {
	Filter         source.Filter
	Window         uint64
	RequestTimeout time.Duration
	PollInterval   time.Duration
	ProgressEvery  uint64
	Reconnect      Backoff
}

// Orchestrator drives the CONNECTING -> STREAMING -> AT_TIP loop with
// endpoint failover. It runs until the context is cancelled or a fatal
// error surfaces.
type Orchestrator struct {
	cfg       Config
	pool      *endpoint.Pool
	connector Connector
	registry  *schema.Registry
	writer    BatchApplier
	tracker   *cursor.Tracker
	stats     *Stats
	logger    *zap.Logger

	lastProgress uint64
}

// NewOrchestrator builds the ingestion loop from its collaborators.
func NewOrchestrator(
	cfg Config,
	pool *endpoint.Pool,
	connector Connector,
	registry *schema.Registry,
	writer BatchApplier,
	tracker *cursor.Tracker,
	stats *Stats,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if pool == nil || connector == nil || registry == nil || writer == nil || tracker == nil {
		return nil, fmt.Errorf("orchestrator requires pool, connector, registry, writer and tracker")
	}
	if err := cfg.Filter.Validate(); err != nil {
		return nil, err
	}
	if cfg.Window == 0 {
		return nil, fmt.Errorf("window must be greater than zero")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ProgressEvery == 0 {
		cfg.ProgressEvery = 1000
	}
	if stats == nil {
		stats = NewStats()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		pool:      pool,
		connector: connector,
		registry:  registry,
		writer:    writer,
		tracker:   tracker,
		stats:     stats,
		logger:    logger,
	}, nil
}

// Run executes the loop. It returns only on context cancellation or a
// fatal query error; transient failures trigger failover and retry
// indefinitely with capped backoff.
func (o *Orchestrator) Run(ctx context.Context) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		o.stats.SetState(StateConnecting)
		ep, err := o.pool.Current()
		if err != nil {
			return err
		}

		src, height, err := o.connect(ctx, ep)
		if err != nil {
			if source.IsFatal(err) {
				return err
			}
			if waitErr := o.failover(ctx, &failures, ep, err); waitErr != nil {
				return waitErr
			}
			continue
		}
		failures = 0
		o.pool.MarkHealthy()
		o.tracker.SetEndpoint(ep.Name)
		o.logger.Info("connected",
			zap.String("endpoint", ep.Name),
			zap.Uint64("chain_tip", height),
			zap.Uint64("next_block", o.tracker.Snapshot().NextBlock),
		)

		err = o.session(ctx, src, height)
		src.Close()
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if source.IsFatal(err) {
			return err
		}
		if waitErr := o.failover(ctx, &failures, ep, err); waitErr != nil {
			return waitErr
		}
	}
}

func (o *Orchestrator) connect(ctx context.Context, ep model.Endpoint) (Source, uint64, error) {
	src, err := o.connector(ctx, ep)
	if err != nil {
		return nil, 0, err
	}
	height, err := o.chainHeight(ctx, src)
	if err != nil {
		src.Close()
		return nil, 0, err
	}
	return src, height, nil
}

func (o *Orchestrator) chainHeight(ctx context.Context, src Source) (uint64, error) {
	callCtx := ctx
	if o.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.RequestTimeout)
		defer cancel()
	}
	height, err := src.ChainHeight(callCtx)
	if err != nil {
		return 0, source.Classify(err)
	}
	o.stats.SetChainTip(height)
	metrics.ChainTip.Set(float64(height))
	return height, nil
}

// session streams from one connected endpoint: drain to tip, poll at
// tip, reopen on growth. A panic anywhere inside is converted to a
// transient error so the outer loop reconnects instead of crashing.
func (o *Orchestrator) session(ctx context.Context, src Source, height uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in ingestion loop",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err = &source.TransientError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	for {
		stream, err := src.OpenStream(source.StreamConfig{
			Filter:    o.cfg.Filter,
			FromBlock: o.tracker.Snapshot().NextBlock,
			Tip:       height,
			Window:    o.cfg.Window,
			Timeout:   o.cfg.RequestTimeout,
		})
		if err != nil {
			return err
		}

		o.stats.SetState(StateStreaming)
		err = o.drain(ctx, stream)
		stream.Close()
		if err != nil {
			return err
		}

		o.stats.SetState(StateAtTip)
		height, err = o.awaitGrowth(ctx, src, height)
		if err != nil {
			return err
		}
	}
}

func (o *Orchestrator) drain(ctx context.Context, stream Stream) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := stream.Recv(ctx)
		if err != nil {
			if errors.Is(err, source.ErrEndOfRange) {
				return nil
			}
			return err
		}
		if err := o.process(ctx, batch); err != nil {
			return err
		}
	}
}

// process decodes one batch, writes it to the sink, and advances the
// cursor. The cursor advance is the per-batch synchronization barrier:
// it happens only after the sink write settled (succeeded or was
// dropped after exhausting its retry budget).
func (o *Orchestrator) process(ctx context.Context, batch source.Batch) error {
	o.stats.AddLogsFetched(len(batch.Records))
	metrics.LogsFetched.Add(float64(len(batch.Records)))

	result := decode.Batch(batch.Records, o.registry)
	for _, decodeErr := range result.Errors {
		o.logger.Warn("decode failure",
			zap.Uint64("block", decodeErr.BlockNumber),
			zap.String("tx_hash", decodeErr.TxHash),
			zap.Uint64("log_index", decodeErr.LogIndex),
			zap.String("topic0", decodeErr.Topic0),
			zap.String("error", decodeErr.Error),
		)
	}
	o.stats.AddUnknownLogs(result.Unknown)
	o.stats.AddDecodeErrors(len(result.Errors))
	metrics.UnknownLogs.Add(float64(result.Unknown))
	metrics.DecodeErrors.Add(float64(len(result.Errors)))

	rows, err := sink.BuildBatch(result.Events, o.registry)
	if err != nil {
		return err
	}
	for _, ev := range result.Events {
		if ev != nil {
			metrics.EventsDecoded.WithLabelValues(ev.Kind).Inc()
		}
	}
	o.stats.AddEventsDecoded(result.Decoded())

	cur := o.tracker.Snapshot()
	cur.NextBlock = batch.NextBlock
	cur.LastAdvancedAt = time.Now().UTC()

	if err := o.writer.Apply(ctx, rows, cur); err != nil {
		var writeErr *sink.WriteError
		if errors.As(err, &writeErr) {
			// Bounded retries exhausted: the batch is dropped, not
			// re-queued, and ingestion continues past it.
			o.stats.IncBatchesDropped()
			o.logger.Error("batch dropped after sink retries",
				zap.Uint64("from_block", batch.FromBlock),
				zap.Uint64("to_block", batch.ToBlock),
				zap.Int("rows", rows.Rows()),
				zap.Error(err),
			)
		} else {
			return err
		}
	} else {
		o.stats.AddRowsUpserted(rows.Rows())
	}

	o.tracker.Advance(batch.NextBlock)
	metrics.CursorBlock.Set(float64(batch.NextBlock))
	o.progress(batch)
	return nil
}

// progress emits a progress line every ProgressEvery blocks rather than
// every batch, bounding log volume.
func (o *Orchestrator) progress(batch source.Batch) {
	if batch.NextBlock < o.lastProgress+o.cfg.ProgressEvery {
		return
	}
	o.lastProgress = batch.NextBlock
	snap := o.stats.Snapshot()
	o.logger.Info("progress",
		zap.Uint64("next_block", batch.NextBlock),
		zap.Uint64("chain_tip", snap.ChainTip),
		zap.Uint64("logs_fetched", snap.LogsFetched),
		zap.Uint64("events_decoded", snap.EventsDecoded),
		zap.Uint64("unknown_logs", snap.UnknownLogs),
		zap.Uint64("batches_dropped", snap.BatchesDropped),
	)
}

// awaitGrowth polls the chain height on the current endpoint until it
// exceeds the previous tip. Staying at tip never triggers failover.
func (o *Orchestrator) awaitGrowth(ctx context.Context, src Source, height uint64) (uint64, error) {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}

		newHeight, err := o.chainHeight(ctx, src)
		if err != nil {
			return 0, err
		}
		if newHeight > height {
			return newHeight, nil
		}
	}
}

// failover marks the current endpoint unhealthy, rotates to the next
// one and sleeps. After a full cycle of failures across all endpoints
// the delay grows exponentially up to the configured cap.
func (o *Orchestrator) failover(ctx context.Context, failures *int, ep model.Endpoint, cause error) error {
	o.pool.MarkUnhealthy()
	*failures++
	o.stats.IncReconnects()
	metrics.Reconnects.WithLabelValues(reconnectReason(cause)).Inc()

	next, err := o.pool.Advance()
	if err != nil {
		return err
	}

	cycles := 0
	if size := o.pool.Size(); size > 0 {
		cycles = *failures / size
	}
	delay := o.cfg.Reconnect.Delay(cycles)
	o.logger.Warn("endpoint failed, rotating",
		zap.String("failed_endpoint", ep.Name),
		zap.String("next_endpoint", next.Name),
		zap.Int("consecutive_failures", *failures),
		zap.Duration("backoff", delay),
		zap.Error(cause),
	)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func reconnectReason(err error) string {
	switch {
	case source.IsTransient(err):
		return "transient"
	case source.IsFatal(err):
		return "fatal"
	default:
		return "other"
	}
}
