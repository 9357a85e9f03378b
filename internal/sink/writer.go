package sink

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"eventflow/internal/metrics"
	"eventflow/internal/model"
)

// WriteError tags a batch that failed after exhausting the retry
// budget. The batch is dropped, not re-queued.
type WriteError struct {
	Attempts int
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("sink write failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Writer wraps a Sink with a bounded retry budget and exponential
// backoff. The batch is all-or-nothing: it is never split for partial
// retry.
type Writer struct {
	sink        Sink
	maxAttempts int
	baseBackoff time.Duration
	logger      *zap.Logger
}

// NewWriter builds a writer. maxAttempts is the total number of write
// attempts; the backoff doubles after each failure.
func NewWriter(s Sink, maxAttempts int, baseBackoff time.Duration, logger *zap.Logger) *Writer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseBackoff <= 0 {
		baseBackoff = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{sink: s, maxAttempts: maxAttempts, baseBackoff: baseBackoff, logger: logger}
}

// Apply writes the batch and cursor, retrying up to the budget. On
// success the per-table row counters advance; on exhaustion it returns
// a WriteError and counts the batch as dropped.
func (w *Writer) Apply(ctx context.Context, batch TableBatch, cur model.Cursor) error {
	delay := w.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.sink.ApplyBatch(ctx, batch, cur)
		if err == nil {
			for _, table := range batch.Tables() {
				metrics.RowsUpserted.WithLabelValues(table).Add(float64(len(batch[table])))
			}
			return nil
		}
		lastErr = err
		metrics.SinkFailures.Inc()
		w.logger.Warn("sink write failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", w.maxAttempts),
			zap.Int("rows", batch.Rows()),
			zap.Error(err),
		)
		if attempt == w.maxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}

	metrics.BatchesDropped.Inc()
	return &WriteError{Attempts: w.maxAttempts, Err: lastErr}
}

// Close closes the wrapped sink.
func (w *Writer) Close() {
	w.sink.Close()
}
