// Package metrics holds the Prometheus counters for the ledger, publisher and
// ingestor. Each Metrics owns its registry so tests and multiple instances do
// not collide on the global one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of counters the core increments.
type Metrics struct {
	registry *prometheus.Registry

	ZapEventsRecorded   prometheus.Counter
	ZapEventsDuplicate  prometheus.Counter
	ZapEventsRejected   *prometheus.CounterVec // label: kind
	ZapMsatsRecorded    *prometheus.CounterVec // label: target_type
	RelayPublishTotal   *prometheus.CounterVec // labels: relay, result
	RelayQueryTotal     *prometheus.CounterVec // labels: relay, result
	ReplyParseFailures  prometheus.Counter
	RepliesStored       prometheus.Counter
	ReplyJobsNacked     prometheus.Counter
	RelayCallDuration   *prometheus.HistogramVec // labels: op
	ReceiptMessagesSeen prometheus.Counter
}

// Relay call results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// New creates and registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ZapEventsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zapline_zap_events_recorded_total",
			Help: "Zap receipts accepted into the ledger",
		}),
		ZapEventsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zapline_zap_events_duplicate_total",
			Help: "Zap receipts replayed after their first application",
		}),
		ZapEventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zapline_zap_events_rejected_total",
			Help: "Zap receipts rejected, by error kind",
		}, []string{"kind"}),
		ZapMsatsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zapline_zap_msats_recorded_total",
			Help: "Millisatoshis folded into ledger totals",
		}, []string{"target_type"}),
		RelayPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zapline_relay_publish_total",
			Help: "Release-note publish attempts per relay",
		}, []string{"relay", "result"}),
		RelayQueryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zapline_relay_query_total",
			Help: "Reply queries per relay",
		}, []string{"relay", "result"}),
		ReplyParseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zapline_reply_parse_failures_total",
			Help: "Relay reply events skipped as malformed",
		}),
		RepliesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zapline_replies_stored_total",
			Help: "New replies stored",
		}),
		ReplyJobsNacked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zapline_reply_jobs_nacked_total",
			Help: "Reply jobs returned to the queue because every relay failed",
		}),
		RelayCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zapline_relay_call_duration_seconds",
			Help:    "Duration of relay HTTP calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		ReceiptMessagesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zapline_receipt_messages_total",
			Help: "Zap receipt messages received from the bus",
		}),
	}
	m.registry.MustRegister(
		m.ZapEventsRecorded,
		m.ZapEventsDuplicate,
		m.ZapEventsRejected,
		m.ZapMsatsRecorded,
		m.RelayPublishTotal,
		m.RelayQueryTotal,
		m.ReplyParseFailures,
		m.RepliesStored,
		m.ReplyJobsNacked,
		m.RelayCallDuration,
		m.ReceiptMessagesSeen,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
