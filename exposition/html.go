package exposition

import (
	"bytes"
	"fmt"
	"html"
	"iter"
	"time"

	"github.com/nikiz24/registry-exporter/metric"
)

// HTMLContentType is the media type of the HTML page.
const HTMLContentType = "text/html; charset=utf-8"

const htmlHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Metrics</title>
<style>
body { font-family: sans-serif; }
table { border-collapse: collapse; margin-bottom: 2em; }
th, td { border: 1px solid #ccc; padding: 2px 8px; text-align: left; }
td.value { font-family: monospace; text-align: right; }
</style>
</head>
<body>
`

type htmlFormat struct {
	timestamp   time.Time
	globals     metric.Labels
	includeHelp bool
}

// NewHTML returns an Exposition writing a page with one table per family.
func NewHTML(families iter.Seq[metric.Family], ts time.Time, globals metric.Labels, includeHelp bool) Exposition {
	return newMachine(families, &htmlFormat{timestamp: ts, globals: globals, includeHelp: includeHelp})
}

func (h *htmlFormat) banner(buf *bytes.Buffer) {
	buf.WriteString(htmlHead)
	fmt.Fprintf(buf, "<h1>Metrics</h1>\n<p>Collected at %s.", html.EscapeString(h.timestamp.UTC().Format(time.RFC3339Nano)))
	if !h.globals.IsEmpty() {
		fmt.Fprintf(buf, " Global labels: <code>%s</code>.", html.EscapeString(h.globals.Text()))
	}
	buf.WriteString("</p>\n")
}

func (h *htmlFormat) family(buf *bytes.Buffer, f metric.Family, _ bool) cursor {
	fmt.Fprintf(buf, "<h2 id=\"%[1]s\">%[1]s <small>%[2]s</small></h2>\n", html.EscapeString(f.Name()), f.Type())
	if h.includeHelp && f.Help() != "" {
		fmt.Fprintf(buf, "<p>%s</p>\n", html.EscapeString(f.Help()))
	}
	buf.WriteString("<table>\n<tr><th>Labels</th><th>Value</th></tr>\n")
	return metric.Match[cursor](f, htmlMetrics{})
}

func (h *htmlFormat) familyEnd(buf *bytes.Buffer) {
	buf.WriteString("</table>\n")
}

func (h *htmlFormat) footer(buf *bytes.Buffer, stats Stats) {
	fmt.Fprintf(buf, "<p><small>Wrote %d metrics for %d metric families in %s.</small></p>\n</body>\n</html>\n",
		stats.Metrics, stats.Families, stats.Elapsed)
}

type htmlMetrics struct{}

func row(buf *bytes.Buffer, labels metric.Labels, value string) {
	buf.WriteString("<tr><td>")
	buf.WriteString(html.EscapeString(labels.Text()))
	buf.WriteString(`</td><td class="value">`)
	buf.WriteString(value)
	buf.WriteString("</td></tr>\n")
}

func intervalsRow(buf *bytes.Buffer, labels metric.Labels, sum, count float64, intervals []metric.Interval, label string) {
	var v bytes.Buffer
	fmt.Fprintf(&v, "sum=%s count=%s", metric.FormatFloat(sum), metric.FormatFloat(count))
	for _, i := range intervals {
		fmt.Fprintf(&v, "<br>%s=%s: %s", label, html.EscapeString(i.Quantile.String()), metric.FormatFloat(i.Value))
	}
	row(buf, labels, v.String())
}

func (htmlMetrics) Counter(f *metric.CounterFamily) cursor {
	return pull(f.Metrics, func(buf *bytes.Buffer, m metric.NumericMetric, _ bool) {
		row(buf, m.Labels, metric.FormatFloat(m.Value))
	})
}

func (htmlMetrics) Gauge(f *metric.GaugeFamily) cursor {
	return pull(f.Metrics, func(buf *bytes.Buffer, m metric.NumericMetric, _ bool) {
		row(buf, m.Labels, metric.FormatFloat(m.Value))
	})
}

func (htmlMetrics) Summary(f *metric.SummaryFamily) cursor {
	return pull(f.Metrics, func(buf *bytes.Buffer, m metric.SummaryMetric, _ bool) {
		intervalsRow(buf, m.Labels, m.Sum, m.Count, m.Quantiles, metric.QuantileLabel)
	})
}

func (htmlMetrics) Histogram(f *metric.HistogramFamily) cursor {
	return pull(f.Metrics, func(buf *bytes.Buffer, m metric.HistogramMetric, _ bool) {
		intervalsRow(buf, m.Labels, m.Sum, m.Count, m.Buckets, metric.BucketLabel)
	})
}

func (htmlMetrics) Untyped(f *metric.UntypedFamily) cursor {
	return pull(f.Metrics, func(buf *bytes.Buffer, m metric.UntypedMetric, _ bool) {
		row(buf, m.Labels, metric.FormatFloat(m.Value))
	})
}
