package pipeline

import (
	"sync/atomic"
	"time"
)

// State is the orchestrator's current position in its state machine.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateAtTip
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateAtTip:
		return "at_tip"
	default:
		return "unknown"
	}
}

// Stats is the process-wide counter container shared between the
// ingestion loop and the status reporter. The loop writes, the reporter
// reads an eventually-consistent snapshot; neither blocks the other.
type Stats struct {
	state          atomic.Int32
	chainTip       atomic.Uint64
	logsFetched    atomic.Uint64
	eventsDecoded  atomic.Uint64
	unknownLogs    atomic.Uint64
	decodeErrors   atomic.Uint64
	rowsUpserted   atomic.Uint64
	batchesDropped atomic.Uint64
	reconnects     atomic.Uint64
	startedAt      time.Time
}

// NewStats builds a zeroed container stamped with the start time.
func NewStats() *Stats {
	return &Stats{startedAt: time.Now().UTC()}
}

func (s *Stats) SetState(state State)       { s.state.Store(int32(state)) }
func (s *Stats) State() State               { return State(s.state.Load()) }
func (s *Stats) SetChainTip(height uint64)  { s.chainTip.Store(height) }
func (s *Stats) AddLogsFetched(n int)       { s.logsFetched.Add(uint64(n)) }
func (s *Stats) AddEventsDecoded(n int)     { s.eventsDecoded.Add(uint64(n)) }
func (s *Stats) AddUnknownLogs(n int)       { s.unknownLogs.Add(uint64(n)) }
func (s *Stats) AddDecodeErrors(n int)      { s.decodeErrors.Add(uint64(n)) }
func (s *Stats) AddRowsUpserted(n int)      { s.rowsUpserted.Add(uint64(n)) }
func (s *Stats) IncBatchesDropped()         { s.batchesDropped.Add(1) }
func (s *Stats) IncReconnects()             { s.reconnects.Add(1) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	State          string    `json:"state"`
	ChainTip       uint64    `json:"chain_tip"`
	LogsFetched    uint64    `json:"logs_fetched"`
	EventsDecoded  uint64    `json:"events_decoded"`
	UnknownLogs    uint64    `json:"unknown_logs"`
	DecodeErrors   uint64    `json:"decode_errors"`
	RowsUpserted   uint64    `json:"rows_upserted"`
	BatchesDropped uint64    `json:"batches_dropped"`
	Reconnects     uint64    `json:"reconnects"`
	StartedAt      time.Time `json:"started_at"`
}

// Snapshot reads every counter once. Values are individually atomic,
// not mutually consistent, which is sufficient for reporting.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		State:          s.State().String(),
		ChainTip:       s.chainTip.Load(),
		LogsFetched:    s.logsFetched.Load(),
		EventsDecoded:  s.eventsDecoded.Load(),
		UnknownLogs:    s.unknownLogs.Load(),
		DecodeErrors:   s.decodeErrors.Load(),
		RowsUpserted:   s.rowsUpserted.Load(),
		BatchesDropped: s.batchesDropped.Load(),
		Reconnects:     s.reconnects.Load(),
		StartedAt:      s.startedAt,
	}
}
