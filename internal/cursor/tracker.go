// Package cursor tracks and persists the pipeline's next-block
// watermark.
package cursor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"eventflow/internal/model"
)

// Tracker holds the in-memory cursor. Advance is monotonic: a value
// below the current watermark is ignored with a warning, guarding
// against out-of-order updates racing with crash recovery.
type Tracker struct {
	mu     sync.RWMutex
	cur    model.Cursor
	logger *zap.Logger
}

// NewTracker starts a tracker at the given cursor position.
func NewTracker(cur model.Cursor, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{cur: cur, logger: logger}
}

// Advance moves the watermark to nextBlock. Returns true when the
// cursor actually moved.
func (t *Tracker) Advance(nextBlock uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if nextBlock < t.cur.NextBlock {
		t.logger.Warn("ignoring cursor regression",
			zap.Uint64("current", t.cur.NextBlock),
			zap.Uint64("proposed", nextBlock),
		)
		return false
	}
	t.cur.NextBlock = nextBlock
	t.cur.LastAdvancedAt = time.Now().UTC()
	return true
}

// SetEndpoint records which endpoint the cursor is being driven from.
func (t *Tracker) SetEndpoint(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur.Endpoint = name
}

// Snapshot returns a copy of the current cursor for persistence and
// reporting.
func (t *Tracker) Snapshot() model.Cursor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cur
}
