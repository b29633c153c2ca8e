package metric

import (
	"fmt"
	"iter"
	"slices"
)

// Type is the declared type of a family.
type Type int

const (
	TypeCounter Type = iota
	TypeGauge
	TypeSummary
	TypeHistogram
	TypeUntyped
)

var typeNames = [...]string{"counter", "gauge", "summary", "histogram", "untyped"}

// String returns the lowercase name used by the text format.
func (t Type) String() string {
	if t >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// NumericMetric carries a single counter or gauge value.
type NumericMetric struct {
	Labels Labels
	Value  float64
}

// SummaryMetric carries a sum, a count and quantile intervals.
type SummaryMetric struct {
	Labels    Labels
	Sum       float64
	Count     float64
	Quantiles []Interval
}

// HistogramMetric carries a sum, a count and cumulative bucket intervals.
// The +Inf bucket is implied by Count and must not appear in Buckets.
type HistogramMetric struct {
	Labels  Labels
	Sum     float64
	Count   float64
	Buckets []Interval
}

// UntypedMetric carries a single value of unknown type.
type UntypedMetric struct {
	Labels Labels
	Value  float64
}

// Family is a named, typed group of metrics. The only implementations are
// *CounterFamily, *GaugeFamily, *SummaryFamily, *HistogramFamily and
// *UntypedFamily.
type Family interface {
	Name() string
	Help() string
	Type() Type

	family()
}

type header struct {
	name string
	help string
}

func (h header) Name() string { return h.name }
func (h header) Help() string { return h.help }
func (header) family()        {}

type CounterFamily struct {
	header
	Metrics iter.Seq[NumericMetric]
}

type GaugeFamily struct {
	header
	Metrics iter.Seq[NumericMetric]
}

type SummaryFamily struct {
	header
	Metrics iter.Seq[SummaryMetric]
}

type HistogramFamily struct {
	header
	Metrics iter.Seq[HistogramMetric]
}

type UntypedFamily struct {
	header
	Metrics iter.Seq[UntypedMetric]
}

func (*CounterFamily) Type() Type   { return TypeCounter }
func (*GaugeFamily) Type() Type     { return TypeGauge }
func (*SummaryFamily) Type() Type   { return TypeSummary }
func (*HistogramFamily) Type() Type { return TypeHistogram }
func (*UntypedFamily) Type() Type   { return TypeUntyped }

func NewCounterFamily(name, help string, metrics iter.Seq[NumericMetric]) *CounterFamily {
	return &CounterFamily{header{name, help}, orEmpty(metrics)}
}

func NewGaugeFamily(name, help string, metrics iter.Seq[NumericMetric]) *GaugeFamily {
	return &GaugeFamily{header{name, help}, orEmpty(metrics)}
}

func NewSummaryFamily(name, help string, metrics iter.Seq[SummaryMetric]) *SummaryFamily {
	return &SummaryFamily{header{name, help}, orEmpty(metrics)}
}

func NewHistogramFamily(name, help string, metrics iter.Seq[HistogramMetric]) *HistogramFamily {
	return &HistogramFamily{header{name, help}, orEmpty(metrics)}
}

func NewUntypedFamily(name, help string, metrics iter.Seq[UntypedMetric]) *UntypedFamily {
	return &UntypedFamily{header{name, help}, orEmpty(metrics)}
}

func orEmpty[M any](seq iter.Seq[M]) iter.Seq[M] {
	if seq == nil {
		return func(func(M) bool) {}
	}
	return seq
}

// Cases handles each family kind. Adding a kind adds a method here, which
// breaks every implementation until it is handled.
type Cases[R any] interface {
	Counter(*CounterFamily) R
	Gauge(*GaugeFamily) R
	Summary(*SummaryFamily) R
	Histogram(*HistogramFamily) R
	Untyped(*UntypedFamily) R
}

// Match dispatches f to the method of c for its kind.
func Match[R any](f Family, c Cases[R]) R {
	switch f := f.(type) {
	case *CounterFamily:
		return c.Counter(f)
	case *GaugeFamily:
		return c.Gauge(f)
	case *SummaryFamily:
		return c.Summary(f)
	case *HistogramFamily:
		return c.Histogram(f)
	case *UntypedFamily:
		return c.Untyped(f)
	default:
		panic(fmt.Sprintf("metric: unknown family type %T", f))
	}
}

// Materialize reads every metric of f into a new family backed by a slice,
// so the result can be iterated more than once without recomputing values.
// It also reports the number of metrics read.
func Materialize(f Family) (Family, int) {
	m := Match[materialized](f, materializer{})
	return m.family, m.count
}

type materialized struct {
	family Family
	count  int
}

type materializer struct{}

func collect[M any](seq iter.Seq[M]) (iter.Seq[M], int) {
	s := slices.Collect(seq)
	return slices.Values(s), len(s)
}

func (materializer) Counter(f *CounterFamily) materialized {
	seq, n := collect(f.Metrics)
	return materialized{&CounterFamily{f.header, seq}, n}
}

func (materializer) Gauge(f *GaugeFamily) materialized {
	seq, n := collect(f.Metrics)
	return materialized{&GaugeFamily{f.header, seq}, n}
}

func (materializer) Summary(f *SummaryFamily) materialized {
	seq, n := collect(f.Metrics)
	return materialized{&SummaryFamily{f.header, seq}, n}
}

func (materializer) Histogram(f *HistogramFamily) materialized {
	seq, n := collect(f.Metrics)
	return materialized{&HistogramFamily{f.header, seq}, n}
}

func (materializer) Untyped(f *UntypedFamily) materialized {
	seq, n := collect(f.Metrics)
	return materialized{&UntypedFamily{f.header, seq}, n}
}
