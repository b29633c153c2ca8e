package exposition

import (
	"bytes"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/nikiz24/registry-exporter/metric"
)

// TextContentType is the media type of the text format.
const TextContentType = "text/plain; version=0.0.4; charset=utf-8"

const textBanner = `# registry-exporter
#
# Metrics are collected from the registry at the time of this request.
# Families are sorted by name. Help text may be suppressed with ?help=false.

`

type textFormat struct {
	timestamp   string
	globals     metric.Labels
	includeHelp bool
}

// NewText returns an Exposition writing the Prometheus text format, version
// 0.0.4. Every sample carries ts in milliseconds and the global labels.
func NewText(families iter.Seq[metric.Family], ts time.Time, globals metric.Labels, includeHelp bool) Exposition {
	return newMachine(families, &textFormat{
		timestamp:   " " + strconv.FormatInt(ts.UnixMilli(), 10),
		globals:     globals,
		includeHelp: includeHelp,
	})
}

func (t *textFormat) banner(buf *bytes.Buffer) {
	buf.WriteString(textBanner)
}

func (t *textFormat) family(buf *bytes.Buffer, f metric.Family, _ bool) cursor {
	if t.includeHelp && f.Help() != "" {
		buf.WriteString("# HELP ")
		buf.WriteString(f.Name())
		buf.WriteByte(' ')
		buf.WriteString(metric.EscapeHelp(f.Help()))
		buf.WriteByte('\n')
	}

	buf.WriteString("# TYPE ")
	buf.WriteString(f.Name())
	buf.WriteByte(' ')
	buf.WriteString(f.Type().String())
	buf.WriteByte('\n')

	return metric.Match[cursor](f, textMetrics{t, f.Name()})
}

func (t *textFormat) familyEnd(buf *bytes.Buffer) {
	buf.WriteByte('\n')
}

func (t *textFormat) footer(buf *bytes.Buffer, stats Stats) {
	buf.WriteString("\n\n# Thanks and come again!\n\n")
	fmt.Fprintf(buf, "# Wrote %d metrics for %d metric families in %s\n", stats.Metrics, stats.Families, stats.Elapsed)
}

// textMetrics writes the samples of one family.
type textMetrics struct {
	*textFormat
	name string
}

// sample writes `name[suffix]{local,interval,global} value timestamp`.
// Braces are left out when there are no labels at all.
func (w textMetrics) sample(buf *bytes.Buffer, suffix string, value float64, local, interval metric.Labels) {
	buf.WriteString(w.name)
	buf.WriteString(suffix)

	comma := false
	for _, set := range [...]metric.Labels{local, interval, w.globals} {
		if set.IsEmpty() {
			continue
		}
		if comma {
			buf.WriteByte(',')
		} else {
			buf.WriteByte('{')
		}
		buf.WriteString(set.Text())
		comma = true
	}
	if comma {
		buf.WriteByte('}')
	}

	buf.WriteByte(' ')
	appendFloat(buf, value)
	buf.WriteString(w.timestamp)
	buf.WriteByte('\n')
}

func (w textMetrics) numeric(seq iter.Seq[metric.NumericMetric]) cursor {
	return pull(seq, func(buf *bytes.Buffer, m metric.NumericMetric, _ bool) {
		w.sample(buf, "", m.Value, m.Labels, metric.EmptyLabels)
	})
}

func (w textMetrics) Counter(f *metric.CounterFamily) cursor { return w.numeric(f.Metrics) }
func (w textMetrics) Gauge(f *metric.GaugeFamily) cursor     { return w.numeric(f.Metrics) }

func (w textMetrics) Summary(f *metric.SummaryFamily) cursor {
	return pull(f.Metrics, func(buf *bytes.Buffer, m metric.SummaryMetric, _ bool) {
		w.sample(buf, "_sum", m.Sum, m.Labels, metric.EmptyLabels)
		w.sample(buf, "_count", m.Count, m.Labels, metric.EmptyLabels)
		for _, i := range m.Quantiles {
			w.sample(buf, "", i.Value, m.Labels, i.Quantile.SummaryLabels())
		}
	})
}

func (w textMetrics) Histogram(f *metric.HistogramFamily) cursor {
	return pull(f.Metrics, func(buf *bytes.Buffer, m metric.HistogramMetric, _ bool) {
		w.sample(buf, "_sum", m.Sum, m.Labels, metric.EmptyLabels)
		w.sample(buf, "_count", m.Count, m.Labels, metric.EmptyLabels)
		for _, i := range m.Buckets {
			w.sample(buf, "_bucket", i.Value, m.Labels, i.Quantile.BucketLabels())
		}
		w.sample(buf, "_bucket", m.Count, m.Labels, metric.PositiveInfinity.BucketLabels())
	})
}

func (w textMetrics) Untyped(f *metric.UntypedFamily) cursor {
	return pull(f.Metrics, func(buf *bytes.Buffer, m metric.UntypedMetric, _ bool) {
		w.sample(buf, "", m.Value, m.Labels, metric.EmptyLabels)
	})
}
