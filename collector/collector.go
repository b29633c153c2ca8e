// Package collector turns registry objects into metric families and keeps
// the family-name to Collector mapping current as objects come and go.
package collector

import (
	"errors"
	"iter"

	"github.com/nikiz24/registry-exporter/metric"
	"github.com/nikiz24/registry-exporter/registry"
)

var (
	// ErrDuplicateLabels is returned when two fragments claim the same label set.
	ErrDuplicateLabels = errors.New("duplicate label set")

	// ErrIncompatibleCollectors is returned when fragments of one family
	// disagree on collector kind or family type.
	ErrIncompatibleCollectors = errors.New("incompatible collectors")

	// ErrReservedLabel is returned when a fragment uses a global or interval label name.
	ErrReservedLabel = errors.New("reserved label name")

	// ErrReservedFamily is returned when a fragment claims a family name the
	// store produces itself.
	ErrReservedFamily = errors.New("reserved family name")

	// ErrMismatch is returned by a factory whose pattern matched an object of
	// the wrong underlying kind.
	ErrMismatch = errors.New("object kind mismatch")
)

// Collector owns the contributing objects of exactly one metric family.
// Implementations are immutable: Merge and RemoveObject return new values.
type Collector interface {
	// Name is the family name.
	Name() string

	// Objects lists every object contributing to the family.
	Objects() []registry.ObjectName

	// Merge combines the fragments of c and other.
	Merge(other Collector) (Collector, error)

	// RemoveObject drops the named object. It returns nil when nothing remains.
	RemoveObject(name registry.ObjectName) Collector

	// Collect reads current values.
	Collect() (metric.Family, error)
}

// Labeled is implemented by collectors that can report their metric-local
// label sets ahead of collection.
type Labeled interface {
	LabelSets() []metric.Labels
}

// Kind binds a metric value type to a family type.
type Kind[M any] struct {
	typ   metric.Type
	build func(name, help string, metrics iter.Seq[M]) metric.Family
}

// Type returns the family type produced by k.
func (k Kind[M]) Type() metric.Type { return k.typ }

// The kinds of the five family types.
var (
	// Counters builds counter families from numeric metrics.
	Counters = Kind[metric.NumericMetric]{metric.TypeCounter, func(n, h string, s iter.Seq[metric.NumericMetric]) metric.Family {
		return metric.NewCounterFamily(n, h, s)
	}}
	// Gauges builds gauge families from numeric metrics.
	Gauges = Kind[metric.NumericMetric]{metric.TypeGauge, func(n, h string, s iter.Seq[metric.NumericMetric]) metric.Family {
		return metric.NewGaugeFamily(n, h, s)
	}}
	// Summaries builds summary families.
	Summaries = Kind[metric.SummaryMetric]{metric.TypeSummary, func(n, h string, s iter.Seq[metric.SummaryMetric]) metric.Family {
		return metric.NewSummaryFamily(n, h, s)
	}}
	// Histograms builds histogram families.
	Histograms = Kind[metric.HistogramMetric]{metric.TypeHistogram, func(n, h string, s iter.Seq[metric.HistogramMetric]) metric.Family {
		return metric.NewHistogramFamily(n, h, s)
	}}
	// Untypeds builds untyped families.
	Untypeds = Kind[metric.UntypedMetric]{metric.TypeUntyped, func(n, h string, s iter.Seq[metric.UntypedMetric]) metric.Family {
		return metric.NewUntypedFamily(n, h, s)
	}}
)

func checkIntervalLabels(typ metric.Type, labels metric.Labels) error {
	switch typ {
	case metric.TypeSummary:
		if labels.Has(metric.QuantileLabel) {
			return ErrReservedLabel
		}
	case metric.TypeHistogram:
		if labels.Has(metric.BucketLabel) {
			return ErrReservedLabel
		}
	}
	return nil
}
