package collector

import (
	"github.com/prometheus/client_golang/prometheus"
)

const opsSubsystem = "exporter"

// Metrics counts store activity for the exporter's own metrics endpoint.
// A nil *Metrics discards everything.
type Metrics struct {
	registrations      prometheus.Counter
	unregistrations    prometheus.Counter
	unmatched          prometheus.Counter
	mergeFailures      *prometheus.CounterVec
	collectionFailures *prometheus.CounterVec
	families           prometheus.Gauge
}

// NewMetrics creates the store metrics and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: opsSubsystem,
			Name:      "object_registrations_total",
			Help:      "Total number of registry objects offered to the collector factories.",
		}),
		unregistrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: opsSubsystem,
			Name:      "object_unregistrations_total",
			Help:      "Total number of registry objects removed.",
		}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: opsSubsystem,
			Name:      "unmatched_objects_total",
			Help:      "Total number of registry objects no collector factory applied to.",
		}),
		mergeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: opsSubsystem,
			Name:      "merge_failures_total",
			Help:      "Total number of registrations refused because they collided with an existing series.",
		}, []string{"family"}),
		collectionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: opsSubsystem,
			Name:      "collection_failures_total",
			Help:      "Total number of scrapes a metric family was omitted from because collection failed.",
		}, []string{"family"}),
		families: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: opsSubsystem,
			Name:      "metric_families",
			Help:      "Number of metric families currently held.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.registrations,
			m.unregistrations,
			m.unmatched,
			m.mergeFailures,
			m.collectionFailures,
			m.families,
		)
	}
	return m
}

func (m *Metrics) incRegistrations() {
	if m != nil {
		m.registrations.Inc()
	}
}

func (m *Metrics) incUnregistrations() {
	if m != nil {
		m.unregistrations.Inc()
	}
}

func (m *Metrics) incUnmatched() {
	if m != nil {
		m.unmatched.Inc()
	}
}

func (m *Metrics) incMergeFailures(family string) {
	if m != nil {
		m.mergeFailures.WithLabelValues(family).Inc()
	}
}

func (m *Metrics) incCollectionFailures(family string) {
	if m != nil {
		m.collectionFailures.WithLabelValues(family).Inc()
	}
}

func (m *Metrics) setFamilies(n int) {
	if m != nil {
		m.families.Set(float64(n))
	}
}
