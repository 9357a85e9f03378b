package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"eventflow/internal/cursor"
	"eventflow/internal/endpoint"
	"eventflow/internal/model"
	"eventflow/internal/schema"
	"eventflow/internal/sink"
	"eventflow/internal/source"
)

const transferTopic0 = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

func transferRecord(block uint64) model.LogRecord {
	return model.LogRecord{
		BlockNumber: block,
		TxHash:      "0xaaaa000000000000000000000000000000000000000000000000000000000001",
		LogIndex:    0,
		Address:     "0x3333333333333333333333333333333333333333",
		Topics: []string{
			transferTopic0,
			"0x0000000000000000000000001111111111111111111111111111111111111111",
			"0x0000000000000000000000002222222222222222222222222222222222222222",
		},
		Data: "0x" + strings.Repeat("0", 63) + "5",
	}
}

type fakeStream struct {
	mu      sync.Mutex
	batches []source.Batch
	idx     int
}

func (f *fakeStream) Recv(_ context.Context) (source.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.batches) {
		return source.Batch{}, source.ErrEndOfRange
	}
	b := f.batches[f.idx]
	f.idx++
	return b, nil
}

func (f *fakeStream) Close() {}

type fakeSource struct {
	mu          sync.Mutex
	height      uint64
	batches     []source.Batch
	opens       int
	heightCalls int
}

func (f *fakeSource) ChainHeight(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heightCalls++
	return f.height, nil
}

func (f *fakeSource) OpenStream(_ source.StreamConfig) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	batches := f.batches
	f.batches = nil // subsequent opens find the range drained
	return &fakeStream{batches: batches}, nil
}

func (f *fakeSource) Close() {}

func (f *fakeSource) counts() (opens, heightCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.heightCalls
}

type recordedApply struct {
	batch sink.TableBatch
	cur   model.Cursor
}

type fakeApplier struct {
	mu      sync.Mutex
	applies []recordedApply
}

func (f *fakeApplier) Apply(_ context.Context, batch sink.TableBatch, cur model.Cursor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applies = append(f.applies, recordedApply{batch: batch, cur: cur})
	return nil
}

func (f *fakeApplier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applies)
}

func (f *fakeApplier) last() recordedApply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applies[len(f.applies)-1]
}

func testConfig() Config {
	return Config{
		Filter:        source.Filter{{Topics: [4][]common.Hash{{common.HexToHash(transferTopic0)}}}},
		Window:        100,
		PollInterval:  time.Millisecond,
		ProgressEvery: 1,
		Reconnect:     Backoff{Base: time.Millisecond, Max: 10 * time.Millisecond},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(schema.Builtins())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func runOrchestrator(t *testing.T, pool *endpoint.Pool, connector Connector, applier BatchApplier, tracker *cursor.Tracker, stats *Stats) (cancel func(), done chan error) {
	t.Helper()
	orch, err := NewOrchestrator(testConfig(), pool, connector, testRegistry(t), applier, tracker, stats, nil)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	done = make(chan error, 1)
	go func() { done <- orch.Run(ctx); close(done) }()

	t.Cleanup(func() {
		stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("orchestrator did not stop")
		}
	})
	return stop, done
}

func TestOrchestratorProcessesBatchAndAdvancesCursor(t *testing.T) {
	src := &fakeSource{
		height: 103,
		batches: []source.Batch{
			{Records: []model.LogRecord{transferRecord(100)}, FromBlock: 100, ToBlock: 100, NextBlock: 101},
		},
	}
	connector := func(_ context.Context, _ model.Endpoint) (Source, error) { return src, nil }

	applier := &fakeApplier{}
	tracker := cursor.NewTracker(model.Cursor{NextBlock: 100}, nil)
	stats := NewStats()
	pool := endpoint.NewPool([]model.Endpoint{{Name: "primary", URL: "https://a"}})

	runOrchestrator(t, pool, connector, applier, tracker, stats)

	waitFor(t, "batch applied", func() bool { return applier.count() >= 1 })

	applied := applier.last()
	if applied.cur.NextBlock != 101 {
		t.Fatalf("applied cursor = %d", applied.cur.NextBlock)
	}
	rows := applied.batch["erc20_transfers"]
	if len(rows) != 1 {
		t.Fatalf("rows upserted = %d", len(rows))
	}
	if rows[0].Payload[2] != "5" {
		t.Fatalf("amount = %s", rows[0].Payload[2])
	}

	waitFor(t, "cursor advance", func() bool { return tracker.Snapshot().NextBlock == 101 })
	if got := stats.Snapshot().EventsDecoded; got != 1 {
		t.Fatalf("events decoded = %d", got)
	}
}

func TestOrchestratorAtTipPollsSameEndpoint(t *testing.T) {
	src := &fakeSource{height: 200}
	connects := 0
	var mu sync.Mutex
	connector := func(_ context.Context, _ model.Endpoint) (Source, error) {
		mu.Lock()
		connects++
		mu.Unlock()
		return src, nil
	}

	tracker := cursor.NewTracker(model.Cursor{NextBlock: 201}, nil)
	stats := NewStats()
	pool := endpoint.NewPool([]model.Endpoint{
		{Name: "primary", URL: "https://a"},
		{Name: "secondary", URL: "https://b"},
	})

	runOrchestrator(t, pool, connector, &fakeApplier{}, tracker, stats)

	waitFor(t, "repeated height polls", func() bool {
		_, heightCalls := src.counts()
		return heightCalls >= 3
	})

	if stats.State() != StateAtTip {
		t.Fatalf("state = %s", stats.State())
	}
	mu.Lock()
	if connects != 1 {
		t.Fatalf("connects = %d, unchanged height must not reconnect", connects)
	}
	mu.Unlock()
	cur, err := pool.Current()
	if err != nil || cur.Name != "primary" {
		t.Fatalf("pool rotated at tip: %v %v", cur, err)
	}
}

func TestOrchestratorReopensStreamOnHeightGrowth(t *testing.T) {
	src := &fakeSource{height: 100}
	connector := func(_ context.Context, _ model.Endpoint) (Source, error) { return src, nil }

	tracker := cursor.NewTracker(model.Cursor{NextBlock: 101}, nil)
	pool := endpoint.NewPool([]model.Endpoint{{Name: "primary", URL: "https://a"}})

	runOrchestrator(t, pool, connector, &fakeApplier{}, tracker, NewStats())

	waitFor(t, "first open", func() bool {
		opens, _ := src.counts()
		return opens >= 1
	})

	src.mu.Lock()
	src.height = 105
	src.mu.Unlock()

	waitFor(t, "stream reopened at new height", func() bool {
		opens, _ := src.counts()
		return opens >= 2
	})
}

func TestOrchestratorFailsOverWithinPoolSize(t *testing.T) {
	good := &fakeSource{height: 50}
	connector := func(_ context.Context, ep model.Endpoint) (Source, error) {
		if ep.Name == "bad" {
			return nil, &source.TransientError{Err: errors.New("connection refused")}
		}
		return good, nil
	}

	tracker := cursor.NewTracker(model.Cursor{NextBlock: 51}, nil)
	stats := NewStats()
	pool := endpoint.NewPool([]model.Endpoint{
		{Name: "bad", URL: "https://bad"},
		{Name: "good", URL: "https://good"},
	})

	runOrchestrator(t, pool, connector, &fakeApplier{}, tracker, stats)

	waitFor(t, "failover to good endpoint", func() bool {
		opens, _ := good.counts()
		return opens >= 1
	})

	snap := stats.Snapshot()
	if snap.Reconnects != 1 {
		t.Fatalf("reconnects = %d, want 1", snap.Reconnects)
	}
	cur, err := pool.Current()
	if err != nil || cur.Name != "good" {
		t.Fatalf("pool current = %v %v", cur, err)
	}
	desc := pool.Describe()
	if desc[0].Health != model.HealthUnhealthy {
		t.Fatalf("bad endpoint health = %s", desc[0].Health)
	}
	if tracker.Snapshot().Endpoint != "good" {
		t.Fatalf("cursor endpoint = %s", tracker.Snapshot().Endpoint)
	}
}

type failingSink struct {
	mu    sync.Mutex
	calls int
}

func (f *failingSink) ApplyBatch(_ context.Context, _ sink.TableBatch, _ model.Cursor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("disk full")
}

func (f *failingSink) Close() {}

func (f *failingSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestOrchestratorDropsBatchAfterBoundedSinkRetries(t *testing.T) {
	src := &fakeSource{
		height: 103,
		batches: []source.Batch{
			{Records: []model.LogRecord{transferRecord(100)}, FromBlock: 100, ToBlock: 100, NextBlock: 101},
		},
	}
	connector := func(_ context.Context, _ model.Endpoint) (Source, error) { return src, nil }

	failing := &failingSink{}
	writer := sink.NewWriter(failing, 3, time.Millisecond, nil)
	tracker := cursor.NewTracker(model.Cursor{NextBlock: 100}, nil)
	stats := NewStats()
	pool := endpoint.NewPool([]model.Endpoint{{Name: "primary", URL: "https://a"}})

	runOrchestrator(t, pool, connector, writer, tracker, stats)

	waitFor(t, "batch dropped", func() bool { return stats.Snapshot().BatchesDropped >= 1 })
	waitFor(t, "cursor advanced past dropped batch", func() bool {
		return tracker.Snapshot().NextBlock == 101
	})

	// Allow any in-flight attempt to settle, then check the budget.
	time.Sleep(20 * time.Millisecond)
	if got := failing.count(); got != 3 {
		t.Fatalf("sink calls = %d, want exactly 3", got)
	}
	if stats.Snapshot().RowsUpserted != 0 {
		t.Fatalf("dropped batch must not count as upserted")
	}
}

func TestOrchestratorFatalErrorStopsRun(t *testing.T) {
	connector := func(_ context.Context, _ model.Endpoint) (Source, error) {
		return nil, &source.FatalQueryError{Err: errors.New("invalid argument")}
	}

	tracker := cursor.NewTracker(model.Cursor{NextBlock: 1}, nil)
	pool := endpoint.NewPool([]model.Endpoint{{Name: "primary", URL: "https://a"}})

	_, done := runOrchestrator(t, pool, connector, &fakeApplier{}, tracker, NewStats())

	select {
	case err := <-done:
		if !source.IsFatal(err) {
			t.Fatalf("expected fatal error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop on fatal error")
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}
	if b.Delay(0) != time.Second {
		t.Fatalf("delay(0) = %v", b.Delay(0))
	}
	if b.Delay(2) != 4*time.Second {
		t.Fatalf("delay(2) = %v", b.Delay(2))
	}
	if b.Delay(10) != 10*time.Second {
		t.Fatalf("delay(10) = %v", b.Delay(10))
	}
	if b.Delay(60) != 10*time.Second { // no overflow at large attempts
		t.Fatalf("delay(60) = %v", b.Delay(60))
	}
}
