// Package metrics holds the Prometheus instruments of the bot. A Metrics
// value owns its registry so tests can create as many as they like.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upload outcomes used as the "outcome" label.
const (
	OutcomeUploaded   = "uploaded"
	OutcomeRejected   = "rejected"
	OutcomeTransient  = "transient"
	OutcomeSuperseded = "superseded"
)

type Metrics struct {
	registry *prometheus.Registry

	// Inbound messaging
	EventsReceived *prometheus.CounterVec

	// Allocation and capture
	BatchesAllocated  prometheus.Counter
	SentencesAssigned prometheus.Counter
	Captures          prometheus.Counter
	BackupFailures    prometheus.Counter

	// Reconciliation
	Uploads               *prometheus.CounterVec
	ReconcilePasses       prometheus.Counter
	ReconcileDuration     prometheus.Histogram
	ContributorsBackedOff prometheus.Gauge

	// Credentials
	CredentialRefreshes *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cvbot_events_received_total",
			Help: "Total number of inbound chat events by kind",
		}, []string{"kind"}),

		BatchesAllocated: f.NewCounter(prometheus.CounterOpts{
			Name: "cvbot_batches_allocated_total",
			Help: "Total number of sentence batches allocated",
		}),
		SentencesAssigned: f.NewCounter(prometheus.CounterOpts{
			Name: "cvbot_sentences_assigned_total",
			Help: "Total number of sentences assigned to contributors",
		}),
		Captures: f.NewCounter(prometheus.CounterOpts{
			Name: "cvbot_captures_total",
			Help: "Total number of recordings captured",
		}),
		BackupFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "cvbot_backup_failures_total",
			Help: "Total number of recordings whose backup copy failed",
		}),

		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cvbot_uploads_total",
			Help: "Total number of submission attempts by outcome",
		}, []string{"outcome"}),
		ReconcilePasses: f.NewCounter(prometheus.CounterOpts{
			Name: "cvbot_reconcile_passes_total",
			Help: "Total number of per-contributor reconcile passes",
		}),
		ReconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cvbot_reconcile_pass_duration_seconds",
			Help:    "Duration of per-contributor reconcile passes",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),
		ContributorsBackedOff: f.NewGauge(prometheus.GaugeOpts{
			Name: "cvbot_contributors_backed_off",
			Help: "Current number of contributors waiting out a backoff",
		}),

		CredentialRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cvbot_credential_refreshes_total",
			Help: "Total number of credential refreshes by result",
		}, []string{"result"}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordEvent(kind string) {
	m.EventsReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordBatch(size int) {
	m.BatchesAllocated.Inc()
	m.SentencesAssigned.Add(float64(size))
}

func (m *Metrics) RecordCapture(backupFailed bool) {
	m.Captures.Inc()
	if backupFailed {
		m.BackupFailures.Inc()
	}
}

func (m *Metrics) RecordUpload(outcome string) {
	m.Uploads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordPass(d time.Duration) {
	m.ReconcilePasses.Inc()
	m.ReconcileDuration.Observe(d.Seconds())
}

func (m *Metrics) SetBackedOff(n int) {
	m.ContributorsBackedOff.Set(float64(n))
}

func (m *Metrics) RecordRefresh(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.CredentialRefreshes.WithLabelValues(result).Inc()
}
