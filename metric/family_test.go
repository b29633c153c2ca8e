package metric

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

type kindName struct{}

func (kindName) Counter(*CounterFamily) string     { return "counter" }
func (kindName) Gauge(*GaugeFamily) string         { return "gauge" }
func (kindName) Summary(*SummaryFamily) string     { return "summary" }
func (kindName) Histogram(*HistogramFamily) string { return "histogram" }
func (kindName) Untyped(*UntypedFamily) string     { return "untyped" }

func TestMatch(t *testing.T) {
	families := []Family{
		NewCounterFamily("c", "", nil),
		NewGaugeFamily("g", "", nil),
		NewSummaryFamily("s", "", nil),
		NewHistogramFamily("h", "", nil),
		NewUntypedFamily("u", "", nil),
	}

	for _, f := range families {
		assert.Equal(t, f.Type().String(), Match[string](f, kindName{}))
	}
}

func TestMatch_UnknownPanics(t *testing.T) {
	assert.Panics(t, func() { Match[string](nil, kindName{}) })
}

func TestMaterialize(t *testing.T) {
	calls := 0
	f := NewGaugeFamily("x", "help", func(yield func(NumericMetric) bool) {
		calls++
		for i := range 3 {
			if !yield(NumericMetric{Labels: FromPairs("i", FormatFloat(float64(i))), Value: float64(i)}) {
				return
			}
		}
	})

	m, n := Materialize(f)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "x", m.Name())
	assert.Equal(t, "help", m.Help())

	g := m.(*GaugeFamily)
	assert.Len(t, slices.Collect(g.Metrics), 3)
	assert.Len(t, slices.Collect(g.Metrics), 3)
	assert.Equal(t, 1, calls, "materialized family must not re-run the source")
}

func TestQuantile(t *testing.T) {
	assert.Equal(t, "0.999", Q999.String())
	assert.Equal(t, `quantile="0.5"`, Q50.SummaryLabels().Text())
	assert.Equal(t, `le="0.95"`, Q95.BucketLabels().Text())
	assert.Equal(t, `le="+Inf"`, PositiveInfinity.BucketLabels().Text())
	assert.Len(t, StandardQuantiles(), 6)

	in := Interval{Quantile: Q99, Value: 2e6}
	out := in.Transform(MicrosecondsToSeconds)
	assert.Equal(t, 2.0, out.Value)
	assert.Same(t, Q99, out.Quantile)
	assert.Equal(t, 2e6, in.Value)

	ivs := Intervals([]*Quantile{Q50, Q75}, func(q *Quantile) float64 { return q.Value() * 10 })
	assert.Equal(t, []Interval{{Q50, 5}, {Q75, 7.5}}, ivs)
}
