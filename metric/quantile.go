package metric

import "math"

// Quantile is a summary φ-value or a histogram bucket upper bound.
// The label forms used by both exposition shapes are cached.
type Quantile struct {
	value  float64
	repr   string
	summ   Labels
	bucket Labels
}

// NewQuantile builds a Quantile for value.
func NewQuantile(value float64) *Quantile {
	repr := FormatFloat(value)
	return &Quantile{
		value:  value,
		repr:   repr,
		summ:   FromPairs(QuantileLabel, repr),
		bucket: FromPairs(BucketLabel, repr),
	}
}

// Label names reserved for intervals.
const (
	QuantileLabel = "quantile"
	BucketLabel   = "le"
)

var (
	Q50  = NewQuantile(.5)
	Q75  = NewQuantile(.75)
	Q95  = NewQuantile(.95)
	Q98  = NewQuantile(.98)
	Q99  = NewQuantile(.99)
	Q999 = NewQuantile(.999)

	// PositiveInfinity is the implicit last histogram bucket.
	PositiveInfinity = NewQuantile(math.Inf(1))
)

// StandardQuantiles returns the default φ set in ascending order.
func StandardQuantiles() []*Quantile {
	return []*Quantile{Q50, Q75, Q95, Q98, Q99, Q999}
}

// Value returns the numeric value.
func (q *Quantile) Value() float64 { return q.value }

// SummaryLabels returns {quantile="<q>"}.
func (q *Quantile) SummaryLabels() Labels { return q.summ }

// BucketLabels returns {le="<q>"}.
func (q *Quantile) BucketLabels() Labels { return q.bucket }

func (q *Quantile) String() string { return q.repr }

// Interval pairs a quantile with its observed value.
type Interval struct {
	Quantile *Quantile
	Value    float64
}

// Transform returns a copy with fn applied to the value.
func (i Interval) Transform(fn func(float64) float64) Interval {
	if fn == nil {
		return i
	}
	return Interval{Quantile: i.Quantile, Value: fn(i.Value)}
}

// Intervals builds one Interval per quantile using valueFn.
func Intervals(quantiles []*Quantile, valueFn func(*Quantile) float64) []Interval {
	out := make([]Interval, 0, len(quantiles))
	for _, q := range quantiles {
		out = append(out, Interval{Quantile: q, Value: valueFn(q)})
	}
	return out
}

// Common value scalers.
var (
	MicrosecondsToSeconds = func(v float64) float64 { return v / 1e6 }
	NanosecondsToSeconds  = func(v float64) float64 { return v / 1e9 }
	MillisecondsToSeconds = func(v float64) float64 { return v / 1e3 }
)
