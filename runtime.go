package exporter

import (
	"bufio"
	"errors"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/nikiz24/registry-exporter/collector"
	"github.com/nikiz24/registry-exporter/metric"
	"github.com/nikiz24/registry-exporter/registry"
)

// RuntimeDomain is the object-name domain of the Go runtime objects.
const RuntimeDomain = "go.runtime"

// RuntimeValue is a runtime object exposing one reading.
type RuntimeValue struct {
	read func() float64
}

// Value returns the current reading.
func (v *RuntimeValue) Value() float64 { return v.read() }

// GCPauses is the runtime object for recent garbage collection pauses.
type GCPauses struct {
	stats *runtimeStats
}

// Summary returns the pause quantiles in seconds.
func (p *GCPauses) Summary() metric.SummaryMetric {
	gc := p.stats.gc()
	m := metric.SummaryMetric{
		Sum:   gc.PauseTotal.Seconds(),
		Count: float64(gc.NumGC),
	}
	if len(gc.PauseQuantiles) == len(pauseQuantiles) {
		m.Quantiles = make([]metric.Interval, len(pauseQuantiles))
		for i, q := range pauseQuantiles {
			m.Quantiles[i] = metric.Interval{Quantile: q, Value: gc.PauseQuantiles[i].Seconds()}
		}
	}
	return m
}

// debug.ReadGCStats fills min, quartiles and max when given five slots.
var pauseQuantiles = []*metric.Quantile{
	metric.NewQuantile(0), metric.NewQuantile(.25), metric.Q50, metric.Q75, metric.NewQuantile(1),
}

// runtimeStats caches runtime readings so one scrape of many runtime
// objects stops the world at most once per refresh.
type runtimeStats struct {
	refresh time.Duration

	mu       sync.Mutex
	memRead  time.Time
	mem      runtime.MemStats
	gcRead   time.Time
	gcStats  debug.GCStats
	gcPauses [5]time.Duration
}

func newRuntimeStats(refresh time.Duration) *runtimeStats {
	return &runtimeStats{refresh: refresh}
}

func (s *runtimeStats) memStats() runtime.MemStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now := time.Now(); now.Sub(s.memRead) >= s.refresh {
		runtime.ReadMemStats(&s.mem)
		s.memRead = now
	}
	return s.mem
}

func (s *runtimeStats) gc() debug.GCStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now := time.Now(); now.Sub(s.gcRead) >= s.refresh {
		s.gcStats.PauseQuantiles = s.gcPauses[:]
		debug.ReadGCStats(&s.gcStats)
		s.gcRead = now
	}
	gc := s.gcStats
	gc.Pause, gc.PauseEnd = nil, nil
	gc.PauseQuantiles = append([]time.Duration(nil), s.gcStats.PauseQuantiles...)
	return gc
}

func (s *runtimeStats) memory(fn func(*runtime.MemStats) uint64) *RuntimeValue {
	return &RuntimeValue{read: func() float64 {
		ms := s.memStats()
		return float64(fn(&ms))
	}}
}

type runtimeObject struct {
	name string
	obj  any
}

// RuntimeObjects returns the Go runtime objects: memory areas, goroutines,
// GC statistics and, where /proc is available, RSS and open descriptors.
// Readings are cached for refresh.
func RuntimeObjects(refresh time.Duration) []registry.NamedObject {
	s := newRuntimeStats(refresh)

	objects := []runtimeObject{
		{"go.runtime:type=Memory,area=alloc", s.memory(func(ms *runtime.MemStats) uint64 { return ms.Alloc })},
		{"go.runtime:type=Memory,area=sys", s.memory(func(ms *runtime.MemStats) uint64 { return ms.Sys })},
		{"go.runtime:type=Memory,area=heap_alloc", s.memory(func(ms *runtime.MemStats) uint64 { return ms.HeapAlloc })},
		{"go.runtime:type=Memory,area=heap_inuse", s.memory(func(ms *runtime.MemStats) uint64 { return ms.HeapInuse })},
		{"go.runtime:type=Memory,area=heap_sys", s.memory(func(ms *runtime.MemStats) uint64 { return ms.HeapSys })},
		{"go.runtime:type=Memory,area=stack_inuse", s.memory(func(ms *runtime.MemStats) uint64 { return ms.StackInuse })},
		{"go.runtime:type=Memory,area=stack_sys", s.memory(func(ms *runtime.MemStats) uint64 { return ms.StackSys })},
		{"go.runtime:type=Goroutines", &RuntimeValue{read: func() float64 { return float64(runtime.NumGoroutine()) }}},
		{"go.runtime:type=GC,name=Runs", s.memory(func(ms *runtime.MemStats) uint64 { return uint64(ms.NumGC) })},
		{"go.runtime:type=GC,name=Pauses", &GCPauses{stats: s}},
	}
	if getProcessRSS() > 0 {
		objects = append(objects, runtimeObject{"go.runtime:type=Memory,area=rss", &RuntimeValue{read: func() float64 { return float64(getProcessRSS()) }}})
	}
	if getOpenFileDescriptors() > 0 {
		objects = append(objects, runtimeObject{"go.runtime:type=Process,name=OpenFileDescriptors", &RuntimeValue{read: func() float64 { return float64(getOpenFileDescriptors()) }}})
	}

	out := make([]registry.NamedObject, 0, len(objects))
	for _, o := range objects {
		out = append(out, registry.NamedObject{Name: registry.MustParseObjectName(o.name), Object: o.obj})
	}
	return out
}

// RegisterRuntimeObjects registers RuntimeObjects with reg. The returned
// func unregisters them.
func RegisterRuntimeObjects(reg *registry.Registry, refresh time.Duration) (unregister func() error, err error) {
	objects := RuntimeObjects(refresh)
	var registered []registry.ObjectName

	unregister = func() error {
		var errs error
		for _, name := range registered {
			errs = multierr.Append(errs, reg.Unregister(name))
		}
		return errs
	}

	for _, n := range objects {
		if err := reg.Register(n.Name, n.Object); err != nil {
			return nil, multierr.Append(err, unregister())
		}
		registered = append(registered, n.Name)
	}
	return unregister, nil
}

// RuntimeFactories returns the factories for the runtime objects. Family
// names are prefixed with namespace.
func RuntimeFactories(namespace string) collector.Chain {
	value := func(v *RuntimeValue) float64 { return v.Value() }

	return collector.Chain{
		collector.MustBuilder("go.runtime:type=Memory,area=*", prefixed(namespace, "go_memory_bytes")).
			WithHelp("Bytes of memory by area, as reported by the Go runtime and /proc.").
			WithLabels(collector.FromProperty("area", "area")).
			Build(collector.GaugeOf(value)),
		collector.MustBuilder("go.runtime:type=Goroutines", prefixed(namespace, "go_goroutines")).
			WithHelp("Number of goroutines that currently exist.").
			Build(collector.GaugeOf(value)),
		collector.MustBuilder("go.runtime:type=GC,name=Runs", prefixed(namespace, "go_gc_runs_total")).
			WithHelp("Number of completed GC cycles.").
			Build(collector.CounterOf(value)),
		collector.MustBuilder("go.runtime:type=GC,name=Pauses", prefixed(namespace, "go_gc_pause_seconds")).
			WithHelp("Summary of GC stop-the-world pause durations.").
			Build(collector.SummaryOf(func(p *GCPauses) metric.SummaryMetric { return p.Summary() })),
		collector.MustBuilder("go.runtime:type=Process,name=OpenFileDescriptors", prefixed(namespace, "process_open_fds")).
			WithHelp("Number of open file descriptors.").
			Build(collector.GaugeOf(value)),
	}
}

// getProcessRSS returns the resident set size in bytes, or 0 when
// /proc/self/status is unavailable.
func getProcessRSS() int64 {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0
	}
	defer f.Close()

	rss, err := parseVmRSS(bufio.NewScanner(f))
	if err != nil {
		return 0
	}
	return rss
}

var errNoVmRSS = errors.New("VmRSS not found")

func parseVmRSS(scanner *bufio.Scanner) (int64, error) {
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, errNoVmRSS
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, errNoVmRSS
}

// getOpenFileDescriptors returns the number of open descriptors, or 0 when
// /proc/self/fd is unavailable.
func getOpenFileDescriptors() int {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return 0
	}
	return len(entries)
}
