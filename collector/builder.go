package collector

import (
	"fmt"

	"github.com/nikiz24/registry-exporter/metric"
	"github.com/nikiz24/registry-exporter/registry"
)

// LabelMaker derives labels from an object's key properties. Returning
// ok=false vetoes the object: the factory then does not apply.
type LabelMaker func(props map[string]string) (labels map[string]string, ok bool)

// Constructor creates a fragment for an object that matched a Builder.
type Constructor func(family, help string, labels metric.Labels, n registry.NamedObject) (Collector, error)

// Builder assembles a Factory from an object-name pattern, a family name,
// label makers and a Constructor.
type Builder struct {
	pattern     *registry.Pattern
	family      string
	help        string
	labelMakers []LabelMaker
}

// NewBuilder starts a factory for objects matching pattern.
func NewBuilder(pattern, family string) (*Builder, error) {
	p, err := registry.ParsePattern(pattern)
	if err != nil {
		return nil, err
	}
	return &Builder{pattern: p, family: family}, nil
}

// MustBuilder is NewBuilder for patterns known to be valid.
func MustBuilder(pattern, family string) *Builder {
	b, err := NewBuilder(pattern, family)
	if err != nil {
		panic(err)
	}
	return b
}

// WithHelp sets the family help text.
func (b *Builder) WithHelp(help string) *Builder {
	b.help = help
	return b
}

// WithLabels appends label makers. Later makers override earlier ones.
func (b *Builder) WithLabels(makers ...LabelMaker) *Builder {
	b.labelMakers = append(b.labelMakers, makers...)
	return b
}

// Build returns the Factory.
func (b *Builder) Build(ctor Constructor) Factory {
	pattern, family, help := b.pattern, b.family, b.help
	makers := append([]LabelMaker(nil), b.labelMakers...)

	return FactoryFunc(func(n registry.NamedObject) (Collector, error) {
		if !pattern.Matches(n.Name) {
			return nil, nil
		}

		props := n.Name.Properties()
		labels := make(map[string]string)
		for _, mk := range makers {
			l, ok := mk(props)
			if !ok {
				return nil, nil
			}
			for k, v := range l {
				labels[k] = v
			}
		}
		for k := range labels {
			if !metric.ValidLabelName(k) {
				return nil, fmt.Errorf("family %s: invalid label name %q", family, k)
			}
		}

		return ctor(family, help, metric.NewLabels(labels), n)
	})
}

// FromProperty copies key property prop to label. Objects without the
// property are vetoed.
func FromProperty(prop, label string) LabelMaker {
	return func(props map[string]string) (map[string]string, bool) {
		v, ok := props[prop]
		if !ok {
			return nil, false
		}
		return map[string]string{label: v}, true
	}
}

// OptionalProperty copies key property prop to label when present.
func OptionalProperty(prop, label string) LabelMaker {
	return func(props map[string]string) (map[string]string, bool) {
		if v, ok := props[prop]; ok {
			return map[string]string{label: v}, true
		}
		return nil, true
	}
}

// Constant adds a fixed label.
func Constant(label, value string) LabelMaker {
	return func(map[string]string) (map[string]string, bool) {
		return map[string]string{label: value}, true
	}
}

// objectAs returns the object of n as T, or ErrMismatch.
func objectAs[T any](n registry.NamedObject) (T, error) {
	t, ok := registry.As[T](n)
	if !ok {
		return t, fmt.Errorf("%s: %w: %T", n.Name, ErrMismatch, n.Object)
	}
	return t, nil
}

func single[T, M any](kind Kind[M], fn func(T, metric.Labels) M) Constructor {
	return func(family, help string, labels metric.Labels, n registry.NamedObject) (Collector, error) {
		if _, err := objectAs[T](n); err != nil {
			return nil, err
		}
		return fragment(NewFamilyCollector(family, help, kind, labels, n,
			func(labels metric.Labels, n registry.NamedObject) (M, error) {
				t, err := objectAs[T](n)
				if err != nil {
					var zero M
					return zero, err
				}
				return fn(t, labels), nil
			}))
	}
}

func numeric[T any](kind Kind[metric.NumericMetric], fn func(T) float64) Constructor {
	return single(kind, func(t T, labels metric.Labels) metric.NumericMetric {
		return metric.NumericMetric{Labels: labels, Value: fn(t)}
	})
}

// GaugeOf reads a gauge from objects of type T.
func GaugeOf[T any](fn func(T) float64) Constructor { return numeric(Gauges, fn) }

// CounterOf reads a counter from objects of type T.
func CounterOf[T any](fn func(T) float64) Constructor { return numeric(Counters, fn) }

// UntypedOf reads an untyped value from objects of type T.
func UntypedOf[T any](fn func(T) float64) Constructor {
	return single(Untypeds, func(t T, labels metric.Labels) metric.UntypedMetric {
		return metric.UntypedMetric{Labels: labels, Value: fn(t)}
	})
}

// SummaryOf reads a summary from objects of type T. The labels of the
// returned metric are replaced.
func SummaryOf[T any](fn func(T) metric.SummaryMetric) Constructor {
	return single(Summaries, func(t T, labels metric.Labels) metric.SummaryMetric {
		m := fn(t)
		m.Labels = labels
		return m
	})
}

// HistogramOf reads a histogram from objects of type T. The labels of the
// returned metric are replaced.
func HistogramOf[T any](fn func(T) metric.HistogramMetric) Constructor {
	return single(Histograms, func(t T, labels metric.Labels) metric.HistogramMetric {
		m := fn(t)
		m.Labels = labels
		return m
	})
}

// fragment drops c when err is set so callers never see a typed nil.
func fragment(c Collector, err error) (Collector, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}

const (
	latencyTimerSlot = iota
	latencyTotalSlot
	latencySlots
)

// LatencyOf combines two objects sharing a label set into one summary: a
// timer of type Timer supplying the count and quantiles, and a counter of
// type Total supplying the running sum. The summary is only exposed once
// both objects are registered. Objects satisfying Timer take the timer slot.
func LatencyOf[Timer, Total any](timer func(Timer) (count float64, quantiles []metric.Interval), total func(Total) float64) Constructor {
	reader := NewGroupReader(func(labels metric.Labels, members []registry.NamedObject) (metric.SummaryMetric, error) {
		t, err := objectAs[Timer](members[latencyTimerSlot])
		if err != nil {
			return metric.SummaryMetric{}, err
		}
		s, err := objectAs[Total](members[latencyTotalSlot])
		if err != nil {
			return metric.SummaryMetric{}, err
		}

		count, quantiles := timer(t)
		return metric.SummaryMetric{
			Labels:    labels,
			Sum:       total(s),
			Count:     count,
			Quantiles: quantiles,
		}, nil
	})

	return func(family, help string, labels metric.Labels, n registry.NamedObject) (Collector, error) {
		slot := -1
		if _, ok := registry.As[Timer](n); ok {
			slot = latencyTimerSlot
		} else if _, ok := registry.As[Total](n); ok {
			slot = latencyTotalSlot
		}
		if slot < 0 {
			return nil, fmt.Errorf("%s: %w: %T", n.Name, ErrMismatch, n.Object)
		}

		return fragment(NewGroupCollector(family, help, Summaries, latencySlots, slot, labels, n, reader))
	}
}
