package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PostingMetrics mencatat hasil setiap event posting ledger.
type PostingMetrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lockWait prometheus.Histogram
}

// NewPostingMetrics mendaftarkan metrik posting ke registerer yang diberikan.
func NewPostingMetrics(registerer prometheus.Registerer) *PostingMetrics {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_posting_events_total",
		Help: "Jumlah event posting berdasarkan operasi dan hasil.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_posting_duration_seconds",
		Help:    "Durasi event posting per operasi.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_posting_lock_wait_seconds",
		Help:    "Waktu tunggu lock sku sebelum transaksi dimulai.",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	})
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(events, duration, lockWait)
	return &PostingMetrics{events: events, duration: duration, lockWait: lockWait}
}

// Observe mencatat satu event. outcome berisi "ok" atau kelas error.
func (m *PostingMetrics) Observe(operation, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// ObserveLockWait mencatat lama menunggu lock.
func (m *PostingMetrics) ObserveLockWait(wait time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(wait.Seconds())
}
