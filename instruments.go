package exporter

import (
	"fmt"
	"math"
	"slices"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nikiz24/registry-exporter/collector"
	"github.com/nikiz24/registry-exporter/metric"
	"github.com/nikiz24/registry-exporter/registry"
)

// Object types understood by the instrument factories. An instrument is
// registered as <domain>:type=<Type>,name=<family>[,label=value...]; the
// remaining key properties become metric labels.
const (
	CounterType   = "Counter"
	GaugeType     = "Gauge"
	HistogramType = "Histogram"
)

// Counter is a monotonically increasing count.
type Counter struct {
	v atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.v.Add(1) }

// Add adds delta, which should not be negative.
func (c *Counter) Add(delta int64) { c.v.Add(delta) }

// Get returns the current count.
func (c *Counter) Get() int64 { return c.v.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	bits atomic.Uint64
}

// Set sets the gauge.
func (g *Gauge) Set(v float64) { g.bits.Store(math.Float64bits(v)) }

// Add adds delta.
func (g *Gauge) Add(delta float64) {
	for {
		old := g.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if g.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Inc adds 1.
func (g *Gauge) Inc() { g.Add(1) }

// Dec subtracts 1.
func (g *Gauge) Dec() { g.Add(-1) }

// Get returns the current value.
func (g *Gauge) Get() float64 { return math.Float64frombits(g.bits.Load()) }

// DefaultBuckets suit response times in microseconds: fine steps up to 5,
// then growing by half each step.
var DefaultBuckets = append(
	[]float64{0.1, 0.25, 0.5, 0.75, 1.0, 1.5, 2.0, 2.5, 3.0, 3.5, 4.0, 4.5},
	prometheus.ExponentialBuckets(5, 1.5, 42)...,
)

// Histogram counts observations into fixed buckets.
type Histogram struct {
	bounds []*metric.Quantile
	counts []atomic.Int64 // last slot counts observations above every bound
	count  atomic.Int64
	sum    atomic.Uint64
}

// NewHistogram creates a histogram with the given upper bounds, which are
// sorted and deduplicated. Without bounds DefaultBuckets is used.
func NewHistogram(buckets ...float64) *Histogram {
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}
	buckets = slices.Clone(buckets)
	slices.Sort(buckets)
	buckets = slices.Compact(buckets)
	if n := len(buckets); n > 0 && math.IsInf(buckets[n-1], 1) {
		buckets = buckets[:n-1]
	}

	h := &Histogram{
		bounds: make([]*metric.Quantile, len(buckets)),
		counts: make([]atomic.Int64, len(buckets)+1),
	}
	for i, b := range buckets {
		h.bounds[i] = metric.NewQuantile(b)
	}
	return h
}

// Observe records one value.
func (h *Histogram) Observe(v float64) {
	i, _ := slices.BinarySearchFunc(h.bounds, v, func(q *metric.Quantile, v float64) int {
		switch {
		case q.Value() < v:
			return -1
		case q.Value() > v:
			return 1
		}
		return 0
	})
	h.counts[i].Add(1)
	h.count.Add(1)
	for {
		old := h.sum.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if h.sum.CompareAndSwap(old, next) {
			return
		}
	}
}

// Snapshot returns cumulative bucket counts. Observations racing with the
// snapshot may be counted in the total but not yet in a bucket.
func (h *Histogram) Snapshot() metric.HistogramMetric {
	m := metric.HistogramMetric{
		Buckets: make([]metric.Interval, len(h.bounds)),
	}
	var cumulative int64
	for i, q := range h.bounds {
		cumulative += h.counts[i].Load()
		m.Buckets[i] = metric.Interval{Quantile: q, Value: float64(cumulative)}
	}
	m.Count = float64(max(h.count.Load(), cumulative))
	m.Sum = math.Float64frombits(h.sum.Load())
	return m
}

// InstrumentFactories returns factories for the Counter, Gauge and
// Histogram objects registered under domain. The family is the "name"
// key property prefixed with namespace.
func InstrumentFactories(domain, namespace string) collector.Chain {
	return collector.Chain{
		instrumentFactory(domain, CounterType, namespace,
			collector.CounterOf(func(c *Counter) float64 { return float64(c.Get()) })),
		instrumentFactory(domain, GaugeType, namespace,
			collector.GaugeOf(func(g *Gauge) float64 { return g.Get() })),
		instrumentFactory(domain, HistogramType, namespace,
			collector.HistogramOf(func(h *Histogram) metric.HistogramMetric { return h.Snapshot() })),
	}
}

func instrumentFactory(domain, typ, namespace string, ctor collector.Constructor) collector.Factory {
	pattern := registry.MustParsePattern(domain + ":type=" + typ + ",*")

	return collector.FactoryFunc(func(n registry.NamedObject) (collector.Collector, error) {
		if !pattern.Matches(n.Name) {
			return nil, nil
		}

		props := n.Name.Properties()
		name, ok := props["name"]
		if !ok {
			return nil, nil
		}
		family := prefixed(namespace, name)
		if !metric.ValidLabelName(family) {
			return nil, fmt.Errorf("%s: invalid family name %q", n.Name, family)
		}

		delete(props, "type")
		delete(props, "name")
		for k := range props {
			if !metric.ValidLabelName(k) {
				return nil, fmt.Errorf("%s: invalid label name %q", n.Name, k)
			}
		}
		return ctor(family, "", metric.NewLabels(props), n)
	})
}

// InstrumentName builds the object name of an instrument. labels are
// key/value pairs.
func InstrumentName(domain, typ, name string, labels ...string) (registry.ObjectName, error) {
	if len(labels)%2 != 0 {
		return registry.ObjectName{}, fmt.Errorf("odd number of label arguments for %s", name)
	}
	props := make(map[string]string, len(labels)/2+2)
	for i := 0; i < len(labels); i += 2 {
		props[labels[i]] = labels[i+1]
	}
	props["type"] = typ
	props["name"] = name
	return registry.NewObjectName(domain, props)
}

func prefixed(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "_" + name
}
