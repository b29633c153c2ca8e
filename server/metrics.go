package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const opsSubsystem = "exporter"

// Metrics counts scrapes served by the handler. A nil *Metrics discards
// everything.
type Metrics struct {
	scrapes  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

// NewMetrics creates the scrape metrics and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scrapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: opsSubsystem,
			Name:      "scrapes_total",
			Help:      "Total number of metric expositions served, by format.",
		}, []string{"format"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: opsSubsystem,
			Name:      "scrape_duration_seconds",
			Help:      "Time taken to write a metric exposition, in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"format"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: opsSubsystem,
			Name:      "scrape_bytes_total",
			Help:      "Total number of exposition bytes written, by format.",
		}, []string{"format"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: opsSubsystem,
			Name:      "http_errors_total",
			Help:      "Total number of HTTP requests answered with an error status.",
		}, []string{"code"}),
	}

	if reg != nil {
		reg.MustRegister(m.scrapes, m.duration, m.bytes, m.errors)
	}
	return m
}

func (m *Metrics) observeScrape(format string, n int64, d time.Duration) {
	if m == nil {
		return
	}
	m.scrapes.WithLabelValues(format).Inc()
	m.duration.WithLabelValues(format).Observe(d.Seconds())
	m.bytes.WithLabelValues(format).Add(float64(n))
}

func (m *Metrics) incErrors(code string) {
	if m != nil {
		m.errors.WithLabelValues(code).Inc()
	}
}
