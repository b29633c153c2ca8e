// Package exposition serializes metric families into the Prometheus text
// format, a JSON document and an HTML page.
//
// Each serializer is a pull-driven state machine: every NextSlice call
// appends a small, bounded piece of output (the banner, one family header,
// one metric or the footer) so a response can be streamed in chunks without
// ever holding the whole document in memory.
package exposition

import (
	"bytes"
	"iter"
	"time"

	"github.com/nikiz24/registry-exporter/metric"
)

// Exposition produces a document one slice at a time.
type Exposition interface {
	// NextSlice appends the next piece of output to buf. It does nothing
	// once EOF reports true.
	NextSlice(buf *bytes.Buffer)

	// EOF reports whether the whole document has been written.
	EOF() bool

	// Close releases the family iterator. It must be called when the
	// document is abandoned before EOF and is safe to call more than once.
	Close()
}

type state int

const (
	stateBanner state = iota
	stateFamily
	stateMetric
	stateFooter
	stateEOF
)

// Stats are the totals reported in a document's footer.
type Stats struct {
	Families int
	Metrics  int
	Elapsed  time.Duration
}

// cursor writes the metrics of one family, one per call.
type cursor struct {
	// write appends the next metric and reports whether there was one.
	write func(buf *bytes.Buffer, first bool) bool
	stop  func()
}

// format is the per-syntax half of a machine.
type format interface {
	banner(buf *bytes.Buffer)
	family(buf *bytes.Buffer, f metric.Family, first bool) cursor
	familyEnd(buf *bytes.Buffer)
	footer(buf *bytes.Buffer, stats Stats)
}

type machine struct {
	format format

	next func() (metric.Family, bool)
	stop func()

	state    state
	cur      cursor
	inFamily int
	stats    Stats
	start    time.Time
}

func newMachine(families iter.Seq[metric.Family], f format) *machine {
	if families == nil {
		families = func(func(metric.Family) bool) {}
	}
	next, stop := iter.Pull(families)
	return &machine{format: f, next: next, stop: stop}
}

func (m *machine) NextSlice(buf *bytes.Buffer) {
	switch m.state {
	case stateBanner:
		m.start = time.Now()
		m.format.banner(buf)
		m.state = stateFamily

	case stateFamily:
		f, ok := m.next()
		if !ok {
			m.state = stateFooter
			return
		}
		m.cur = m.format.family(buf, f, m.stats.Families == 0)
		m.stats.Families++
		m.inFamily = 0
		m.state = stateMetric

	case stateMetric:
		if m.cur.write(buf, m.inFamily == 0) {
			m.inFamily++
			m.stats.Metrics++
			return
		}
		m.cur.stop()
		m.cur = cursor{}
		m.format.familyEnd(buf)
		m.state = stateFamily

	case stateFooter:
		m.stats.Elapsed = time.Since(m.start)
		m.format.footer(buf, m.stats)
		m.stop()
		m.state = stateEOF

	case stateEOF:
	}
}

func (m *machine) EOF() bool { return m.state == stateEOF }

func (m *machine) Close() {
	if m.cur.stop != nil {
		m.cur.stop()
		m.cur = cursor{}
	}
	m.stop()
	m.state = stateEOF
}

// pull turns a metric sequence into a cursor that writes each element with fn.
func pull[M any](seq iter.Seq[M], fn func(buf *bytes.Buffer, m M, first bool)) cursor {
	next, stop := iter.Pull(seq)
	return cursor{
		write: func(buf *bytes.Buffer, first bool) bool {
			m, ok := next()
			if !ok {
				return false
			}
			fn(buf, m, first)
			return true
		},
		stop: stop,
	}
}

// WriteAll drives e to completion into buf.
func WriteAll(e Exposition, buf *bytes.Buffer) {
	defer e.Close()
	for !e.EOF() {
		e.NextSlice(buf)
	}
}

func appendFloat(buf *bytes.Buffer, v float64) {
	buf.Write(metric.AppendFloat(buf.AvailableBuffer(), v))
}
