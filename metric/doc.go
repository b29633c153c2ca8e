// Package metric defines the value types handed from collectors to the
// exposition writers.
//
// The family set is closed: counter, gauge, summary, histogram and untyped.
// Every Family value is one of the five concrete *XxxFamily types and callers
// dispatch over them with Match, which takes a Cases implementation with one
// method per kind:
//
//	type typeName struct{}
//
//	func (typeName) Counter(*metric.CounterFamily) string     { return "counter" }
//	func (typeName) Gauge(*metric.GaugeFamily) string         { return "gauge" }
//	func (typeName) Summary(*metric.SummaryFamily) string     { return "summary" }
//	func (typeName) Histogram(*metric.HistogramFamily) string { return "histogram" }
//	func (typeName) Untyped(*metric.UntypedFamily) string     { return "untyped" }
//
//	name := metric.Match[string](family, typeName{})
//
// All values carried by metrics are final. Writers never scale or convert.
package metric
