package remotewrite

import (
	"cmp"
	"iter"
	"slices"
	"time"

	"github.com/eryajf/promwrite"

	"github.com/nikiz24/registry-exporter/metric"
)

const nameLabel = "__name__"

// Convert expands families into remote-write series the way the text format
// lays out samples: summaries become _sum, _count and one series per
// quantile, histograms become _sum, _count and cumulative _bucket series
// ending in le="+Inf". Every series carries base, the global labels and
// its own labels, sorted by name. A metric label overrides a base or global
// label of the same name.
func Convert(families iter.Seq[metric.Family], base, globals metric.Labels, ts time.Time) []promwrite.TimeSeries {
	c := &converter{ts: ts, shared: append(base.Pairs(), globals.Pairs()...)}
	for f := range families {
		metric.Match[struct{}](f, c)
	}
	return c.out
}

type converter struct {
	ts     time.Time
	shared []metric.Label
	out    []promwrite.TimeSeries
}

func (c *converter) add(name string, value float64, sets ...metric.Labels) {
	n := 1 + len(c.shared)
	for _, s := range sets {
		n += s.Len()
	}

	labels := make([]promwrite.Label, 0, n)
	for _, l := range c.shared {
		labels = append(labels, promwrite.Label{Name: l.Name, Value: l.Value})
	}
	for _, s := range sets {
		for _, l := range s.Pairs() {
			labels = append(labels, promwrite.Label{Name: l.Name, Value: l.Value})
		}
	}
	labels = append(labels, promwrite.Label{Name: nameLabel, Value: name})
	slices.SortStableFunc(labels, func(a, b promwrite.Label) int { return cmp.Compare(a.Name, b.Name) })
	labels = dedupe(labels)

	c.out = append(c.out, promwrite.TimeSeries{
		Labels: labels,
		Sample: promwrite.Sample{Time: c.ts, Value: value},
	})
}

// dedupe keeps the last of each run of equal names in sorted labels, so a
// metric's own label wins over a shared label of the same name and the
// series name wins over both.
func dedupe(labels []promwrite.Label) []promwrite.Label {
	out := labels[:0]
	for i, l := range labels {
		if i+1 < len(labels) && labels[i+1].Name == l.Name {
			continue
		}
		out = append(out, l)
	}
	return out
}

func (c *converter) numeric(name string, seq iter.Seq[metric.NumericMetric]) struct{} {
	for m := range seq {
		c.add(name, m.Value, m.Labels)
	}
	return struct{}{}
}

func (c *converter) Counter(f *metric.CounterFamily) struct{} { return c.numeric(f.Name(), f.Metrics) }
func (c *converter) Gauge(f *metric.GaugeFamily) struct{}     { return c.numeric(f.Name(), f.Metrics) }

func (c *converter) Summary(f *metric.SummaryFamily) struct{} {
	for m := range f.Metrics {
		c.add(f.Name()+"_sum", m.Sum, m.Labels)
		c.add(f.Name()+"_count", m.Count, m.Labels)
		for _, i := range m.Quantiles {
			c.add(f.Name(), i.Value, m.Labels, i.Quantile.SummaryLabels())
		}
	}
	return struct{}{}
}

func (c *converter) Histogram(f *metric.HistogramFamily) struct{} {
	for m := range f.Metrics {
		c.add(f.Name()+"_sum", m.Sum, m.Labels)
		c.add(f.Name()+"_count", m.Count, m.Labels)
		for _, i := range m.Buckets {
			c.add(f.Name()+"_bucket", i.Value, m.Labels, i.Quantile.BucketLabels())
		}
		c.add(f.Name()+"_bucket", m.Count, m.Labels, metric.PositiveInfinity.BucketLabels())
	}
	return struct{}{}
}

func (c *converter) Untyped(f *metric.UntypedFamily) struct{} {
	for m := range f.Metrics {
		c.add(f.Name(), m.Value, m.Labels)
	}
	return struct{}{}
}
