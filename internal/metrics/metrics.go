// Package metrics exposes the pipeline's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LogsFetched tracks raw log records delivered by the stream source.
	LogsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventflow_logs_fetched_total",
			Help: "Total raw log records fetched from the stream source",
		},
	)

	// EventsDecoded tracks decoded events per kind.
	EventsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventflow_events_decoded_total",
			Help: "Total decoded events",
		},
		[]string{"kind"},
	)

	// UnknownLogs tracks records whose topic0 matched no schema.
	UnknownLogs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventflow_unknown_logs_total",
			Help: "Total log records matching no known schema",
		},
	)

	// DecodeErrors tracks per-record decode failures.
	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventflow_decode_errors_total",
			Help: "Total log records that failed to decode",
		},
	)

	// RowsUpserted tracks rows written to the sink per table.
	RowsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventflow_rows_upserted_total",
			Help: "Total rows upserted into the sink",
		},
		[]string{"table"},
	)

	// SinkFailures tracks failed sink write attempts.
	SinkFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventflow_sink_failures_total",
			Help: "Total failed sink write attempts",
		},
	)

	// BatchesDropped tracks batches abandoned after exhausting sink retries.
	BatchesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventflow_batches_dropped_total",
			Help: "Total batches dropped after exhausting sink retries",
		},
	)

	// Reconnects tracks reconnect cycles, labeled by trigger.
	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventflow_reconnects_total",
			Help: "Total reconnect cycles",
		},
		[]string{"reason"},
	)

	// CursorBlock is the pipeline's next-block watermark.
	CursorBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventflow_cursor_block",
			Help: "Next block the pipeline will request",
		},
	)

	// ChainTip is the highest block known to the current endpoint.
	ChainTip = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventflow_chain_tip_block",
			Help: "Highest block known to the current endpoint",
		},
	)
)
