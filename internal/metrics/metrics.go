// Package metrics exposes Prometheus instrumentation for the engine.
//
// All collectors are registered on the default registry and served by
// internal/health alongside the liveness endpoint. Label cardinality is
// bounded: modalities, event kinds and action names are closed sets.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Capture pipeline.

	EventsCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_captured_total",
			Help: "Raw input events retained after pairing and throttling",
		},
		[]string{"kind"}, // "key", "move", "click", "scroll"
	)

	EventsDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_discarded_total",
			Help: "Raw input events dropped before buffering",
		},
		[]string{"kind", "reason"}, // reason: "throttled", "short_dwell", "unpaired", "no_session"
	)

	// Telemetry buffers and flushes.

	BufferedEvents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_buffered_events",
			Help: "Events currently waiting in a modality buffer",
		},
		[]string{"modality"},
	)

	BufferOverflowDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_buffer_overflow_drops_total",
			Help: "Oldest events evicted because a modality buffer hit its cap",
		},
		[]string{"modality"},
	)

	FlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_flushes_total",
			Help: "Flush attempts by outcome",
		},
		[]string{"modality", "outcome"}, // outcome: "ok", "error", "skipped"
	)

	FlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_flush_duration_seconds",
			Help:    "Wall time of one flush cycle including the collector round trip",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"modality"},
	)

	// Trust state.

	TrustScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_trust_score",
			Help: "Most recent server trust score in [0,1]",
		},
	)

	TrustLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_trust_level",
			Help: "Most recent trust level as an ordinal (0=critical .. 4=maximum)",
		},
	)

	TrustPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_trust_polls_total",
			Help: "Trust score poll attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Live channel.

	LiveMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_live_messages_total",
			Help: "Messages received on the live channel by type",
		},
		[]string{"type"}, // includes "invalid" for schema rejects
	)

	LiveReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_live_reconnects_total",
			Help: "Reconnect attempts scheduled after a live channel drop",
		},
	)

	LiveConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_live_connected",
			Help: "1 while the live channel is established",
		},
	)

	// Security actions and session upkeep.

	ActionsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_actions_dispatched_total",
			Help: "Security actions executed by the dispatcher",
		},
		[]string{"action"},
	)

	SessionKeepalives = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_session_keepalives_total",
			Help: "Session activity keep-alive attempts by outcome",
		},
		[]string{"outcome"},
	)
)
