// Package metrics exposes Prometheus counters/gauges/histograms for
// the ingest, broadcast, order, and matching components.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contest_ticks_ingested_total",
			Help: "Total ticks received from the upstream feed, by code",
		},
		[]string{"code"},
	)

	IngestConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "contest_ingest_connected",
			Help: "Whether the upstream ingest connection is currently live (1=connected, 0=disconnected)",
		},
	)

	BroadcastFanoutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contest_broadcast_fanout_total",
			Help: "Total tick deliveries to connected viewers",
		},
		[]string{"code"},
	)

	BroadcastViewersDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contest_broadcast_viewers_dropped_total",
			Help: "Tick deliveries dropped for a viewer whose delivery buffer was full (best-effort delivery)",
		},
		[]string{"code"},
	)

	ActiveViewers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "contest_broadcast_active_viewers",
			Help: "Current number of registered WebSocket viewers",
		},
	)

	OrderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contest_order_latency_milliseconds",
			Help:    "Order creation latency in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"order_type", "side"},
	)

	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contest_orders_total",
			Help: "Total orders created, by type, side, and outcome",
		},
		[]string{"order_type", "side", "outcome"},
	)

	OrderErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contest_order_errors_total",
			Help: "Order errors by typed error kind",
		},
		[]string{"kind"},
	)

	MatchingFillsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contest_matching_fills_total",
			Help: "Resting limit orders filled by the matching engine",
		},
		[]string{"code", "side"},
	)

	MatchingFillLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contest_matching_fill_latency_milliseconds",
			Help:    "Wall-clock time to process one tick's worth of eligible fills",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	CompetitionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contest_competition_transitions_total",
			Help: "Competition lifecycle transitions, by target state and trigger",
		},
		[]string{"to_status", "triggered_by"},
	)

	OrderCancelsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contest_order_cancels_total",
			Help: "Order cancellations, by side and outcome",
		},
		[]string{"side", "outcome"},
	)
)

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
