package exposition

import (
	"bytes"
	"iter"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nikiz24/registry-exporter/metric"
)

// JSONContentType is the media type of the JSON document.
const JSONContentType = "application/json; charset=utf-8"

type jsonFormat struct {
	timestamp   int64
	globals     metric.Labels
	includeHelp bool
}

// NewJSON returns an Exposition writing a single JSON object:
//
//	{"timestamp":<ms>,"globalLabels":{...},
//	 "metricFamilies":{"<name>":{"type":"GAUGE","help":"...","metrics":[{"labels":{...},"value":<v>}]}},
//	 "statistics":{"expositionTime":<ms>,"metricFamilyCount":<n>,"metricCount":<n>}}
//
// Summary and histogram values are objects holding sum, count and a
// "quantiles" or "buckets" object keyed by the interval bound. Non-finite
// numbers are written as the strings "NaN", "+Inf" and "-Inf".
func NewJSON(families iter.Seq[metric.Family], ts time.Time, globals metric.Labels, includeHelp bool) Exposition {
	return newMachine(families, &jsonFormat{
		timestamp:   ts.UnixMilli(),
		globals:     globals,
		includeHelp: includeHelp,
	})
}

func (j *jsonFormat) banner(buf *bytes.Buffer) {
	buf.WriteString(`{"timestamp":`)
	buf.WriteString(strconv.FormatInt(j.timestamp, 10))
	buf.WriteString(`,"globalLabels":`)
	buf.WriteString(j.globals.JSON())
	buf.WriteString(`,"metricFamilies":{`)
}

func (j *jsonFormat) family(buf *bytes.Buffer, f metric.Family, first bool) cursor {
	if !first {
		buf.WriteByte(',')
	}
	buf.WriteString(metric.QuoteJSON(f.Name()))
	buf.WriteString(`:{"type":"`)
	buf.WriteString(strings.ToUpper(f.Type().String()))
	buf.WriteByte('"')
	if j.includeHelp && f.Help() != "" {
		buf.WriteString(`,"help":`)
		buf.WriteString(metric.QuoteJSON(f.Help()))
	}
	buf.WriteString(`,"metrics":[`)

	return metric.Match[cursor](f, jsonMetrics{})
}

func (j *jsonFormat) familyEnd(buf *bytes.Buffer) {
	buf.WriteString("]}")
}

func (j *jsonFormat) footer(buf *bytes.Buffer, stats Stats) {
	buf.WriteString(`},"statistics":{"expositionTime":`)
	buf.WriteString(strconv.FormatInt(stats.Elapsed.Milliseconds(), 10))
	buf.WriteString(`,"metricFamilyCount":`)
	buf.WriteString(strconv.Itoa(stats.Families))
	buf.WriteString(`,"metricCount":`)
	buf.WriteString(strconv.Itoa(stats.Metrics))
	buf.WriteString("}}")
}

type jsonMetrics struct{}

// element wraps value in {"labels":...,"value":...}.
func element[M any](labels func(M) metric.Labels, value func(*bytes.Buffer, M)) func(*bytes.Buffer, M, bool) {
	return func(buf *bytes.Buffer, m M, first bool) {
		if !first {
			buf.WriteByte(',')
		}
		buf.WriteString(`{"labels":`)
		buf.WriteString(labels(m).JSON())
		buf.WriteString(`,"value":`)
		value(buf, m)
		buf.WriteByte('}')
	}
}

func jsonFloat(buf *bytes.Buffer, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		buf.WriteByte('"')
		appendFloat(buf, v)
		buf.WriteByte('"')
		return
	}
	buf.Write(strconv.AppendFloat(buf.AvailableBuffer(), v, 'g', -1, 64))
}

func jsonIntervals(buf *bytes.Buffer, key string, sum, count float64, intervals []metric.Interval, inf bool) {
	buf.WriteString(`{"sum":`)
	jsonFloat(buf, sum)
	buf.WriteString(`,"count":`)
	jsonFloat(buf, count)
	buf.WriteString(`,"`)
	buf.WriteString(key)
	buf.WriteString(`":{`)
	for n, i := range intervals {
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(metric.QuoteJSON(i.Quantile.String()))
		buf.WriteByte(':')
		jsonFloat(buf, i.Value)
	}
	if inf {
		if len(intervals) > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(metric.QuoteJSON(metric.PositiveInfinity.String()))
		buf.WriteByte(':')
		jsonFloat(buf, count)
	}
	buf.WriteString("}}")
}

func numericLabels(m metric.NumericMetric) metric.Labels { return m.Labels }

func numericValue(buf *bytes.Buffer, m metric.NumericMetric) { jsonFloat(buf, m.Value) }

func (jsonMetrics) Counter(f *metric.CounterFamily) cursor {
	return pull(f.Metrics, element(numericLabels, numericValue))
}

func (jsonMetrics) Gauge(f *metric.GaugeFamily) cursor {
	return pull(f.Metrics, element(numericLabels, numericValue))
}

func (jsonMetrics) Summary(f *metric.SummaryFamily) cursor {
	return pull(f.Metrics, element(
		func(m metric.SummaryMetric) metric.Labels { return m.Labels },
		func(buf *bytes.Buffer, m metric.SummaryMetric) {
			jsonIntervals(buf, "quantiles", m.Sum, m.Count, m.Quantiles, false)
		}))
}

func (jsonMetrics) Histogram(f *metric.HistogramFamily) cursor {
	return pull(f.Metrics, element(
		func(m metric.HistogramMetric) metric.Labels { return m.Labels },
		func(buf *bytes.Buffer, m metric.HistogramMetric) {
			jsonIntervals(buf, "buckets", m.Sum, m.Count, m.Buckets, true)
		}))
}

func (jsonMetrics) Untyped(f *metric.UntypedFamily) cursor {
	return pull(f.Metrics, element(
		func(m metric.UntypedMetric) metric.Labels { return m.Labels },
		func(buf *bytes.Buffer, m metric.UntypedMetric) { jsonFloat(buf, m.Value) }))
}
