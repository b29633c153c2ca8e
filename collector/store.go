package collector

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nikiz24/registry-exporter/metric"
	"github.com/nikiz24/registry-exporter/registry"
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger. The default discards.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGlobalLabels sets the process-wide labels. They are also reserved:
// fragments using one of their names are refused.
func WithGlobalLabels(g *GlobalLabels) StoreOption {
	return func(s *Store) { s.globals = g }
}

// WithExclusions drops matching objects and families.
func WithExclusions(es Exclusions) StoreOption {
	return func(s *Store) { s.exclusions = es }
}

// WithRegistrationDelay defers every event by d before it is applied.
func WithRegistrationDelay(d time.Duration) StoreOption {
	return func(s *Store) { s.delay = d }
}

// WithCollectorTiming appends a counter family with the cumulative time
// spent collecting each family, named <namespace>_exporter_collection_time_seconds_total.
func WithCollectorTiming(namespace string) StoreOption {
	return func(s *Store) {
		s.timingFamily = "exporter_collection_time_seconds_total"
		if namespace != "" {
			s.timingFamily = namespace + "_" + s.timingFamily
		}
	}
}

// WithMetrics records store activity.
func WithMetrics(m *Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

type snapshot struct {
	collectors map[string]Collector
	names      []string
}

type event struct {
	due        time.Time
	registered bool
	object     registry.NamedObject
	name       registry.ObjectName
}

// Store holds the family-name to Collector map.
//
// Registry events are queued by Registered and Unregistered and applied in
// order by a single writer (Start). Each batch of events is applied to a copy
// of the map, which is then published atomically; Collect reads whatever
// map was last published and never blocks the writer.
type Store struct {
	chain        Chain
	exclusions   Exclusions
	globals      *GlobalLabels
	delay        time.Duration
	timingFamily string
	logger       *zap.Logger
	metrics      *Metrics

	current atomic.Pointer[snapshot]

	// writer state
	wmu    sync.Mutex
	owners map[string]string

	qmu    sync.Mutex
	queue  []event
	signal chan struct{}

	fmu      sync.Mutex
	failures map[string]int

	unmatched atomic.Int64
	timings   sync.Map // family name -> *atomic.Int64 nanoseconds
}

// NewStore creates an empty Store using chain to build collectors.
func NewStore(chain Chain, opts ...StoreOption) *Store {
	s := &Store{
		chain:    chain,
		logger:   zap.NewNop(),
		owners:   make(map[string]string),
		signal:   make(chan struct{}, 1),
		failures: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(&snapshot{collectors: map[string]Collector{}})
	return s
}

var _ registry.Listener = (*Store)(nil)

// Registered queues a registration. It never blocks on the writer.
func (s *Store) Registered(n registry.NamedObject) {
	s.enqueue(event{registered: true, object: n, name: n.Name})
}

// Unregistered queues an unregistration. It never blocks on the writer.
func (s *Store) Unregistered(name registry.ObjectName) {
	s.enqueue(event{name: name})
}

func (s *Store) enqueue(e event) {
	e.due = time.Now().Add(s.delay)

	s.qmu.Lock()
	s.queue = append(s.queue, e)
	s.qmu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Start applies queued events until ctx is done.
func (s *Store) Start(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		batch, next := s.dequeue(time.Now())
		if len(batch) > 0 {
			s.apply(batch)
		}

		if !next.IsZero() {
			timer.Reset(time.Until(next))
		}

		select {
		case <-s.signal:
		case <-timer.C:
		case <-ctx.Done():
			return nil
		}

		if !next.IsZero() && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// dequeue removes events due by now. next is the due time of the first
// remaining event, or zero.
func (s *Store) dequeue(now time.Time) (batch []event, next time.Time) {
	s.qmu.Lock()
	defer s.qmu.Unlock()

	i := 0
	for i < len(s.queue) && !s.queue[i].due.After(now) {
		i++
	}
	batch = slices.Clone(s.queue[:i])
	s.queue = slices.Delete(s.queue, 0, i)
	if len(s.queue) > 0 {
		next = s.queue[0].due
	}
	return batch, next
}

// Pending returns the number of queued events.
func (s *Store) Pending() int {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return len(s.queue)
}

// ApplyRegistered applies a registration immediately, bypassing the queue
// and the registration delay.
func (s *Store) ApplyRegistered(n registry.NamedObject) {
	s.apply([]event{{registered: true, object: n, name: n.Name}})
}

// ApplyUnregistered applies an unregistration immediately.
func (s *Store) ApplyUnregistered(name registry.ObjectName) {
	s.apply([]event{{name: name}})
}

func (s *Store) apply(batch []event) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	collectors := maps.Clone(s.current.Load().collectors)
	for _, e := range batch {
		if e.registered {
			s.register(collectors, e.object)
		} else {
			s.unregister(collectors, e.name)
		}
	}

	names := slices.Collect(maps.Keys(collectors))
	sort.Strings(names)
	s.current.Store(&snapshot{collectors: collectors, names: names})
	s.metrics.setFamilies(len(names))
}

func (s *Store) register(collectors map[string]Collector, n registry.NamedObject) {
	s.metrics.incRegistrations()

	if s.exclusions.ExcludesObject(n.Name) {
		s.logger.Debug("Object excluded", zap.Stringer("object", n.Name))
		return
	}

	c := s.create(n)
	if c == nil {
		s.unmatched.Add(1)
		s.metrics.incUnmatched()
		s.logger.Debug("No collector factory applies to object", zap.Stringer("object", n.Name))
		return
	}

	family := c.Name()
	if s.exclusions.ExcludesFamily(family) {
		s.logger.Debug("Metric family excluded",
			zap.String("family", family), zap.Stringer("object", n.Name))
		return
	}

	if s.timingFamily != "" && family == s.timingFamily {
		s.refuse(family, n.Name, fmt.Errorf("%w: %q holds collector timings", ErrReservedFamily, family))
		return
	}

	if err := s.checkReserved(c); err != nil {
		s.refuse(family, n.Name, err)
		return
	}

	if existing, ok := collectors[family]; ok {
		merged, err := merge(existing, c)
		if err != nil {
			s.refuse(family, n.Name, err)
			return
		}
		c = merged
	}

	collectors[family] = c
	s.owners[n.Name.String()] = family
	s.logger.Debug("Registered object",
		zap.String("family", family), zap.Stringer("object", n.Name))
}

// create returns the first fragment produced by the chain. Factory errors
// and panics are logged and the next factory is tried.
func (s *Store) create(n registry.NamedObject) Collector {
	for i, f := range s.chain {
		c, err := tryCreate(f, n)
		switch {
		case errors.Is(err, ErrMismatch):
			s.logger.Debug("Collector factory skipped object of the wrong kind",
				zap.Int("factory", i), zap.Stringer("object", n.Name), zap.Error(err))
		case err != nil:
			s.logger.Warn("Collector factory failed",
				zap.Int("factory", i), zap.Stringer("object", n.Name), zap.Error(err))
		case c != nil:
			return c
		}
	}
	return nil
}

func tryCreate(f Factory, n registry.NamedObject) (c Collector, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("factory panic: %v", r)
		}
	}()
	return f.TryCreate(n)
}

func merge(existing, c Collector) (merged Collector, err error) {
	defer func() {
		if r := recover(); r != nil {
			merged, err = nil, fmt.Errorf("merge panic: %v", r)
		}
	}()
	return existing.Merge(c)
}

func (s *Store) checkReserved(c Collector) error {
	l, ok := c.(Labeled)
	if !ok || s.globals == nil {
		return nil
	}
	for _, labels := range l.LabelSets() {
		for _, name := range s.globals.Reserved() {
			if labels.Has(name) {
				return fmt.Errorf("%w: %q is a global label", ErrReservedLabel, name)
			}
		}
	}
	return nil
}

func (s *Store) refuse(family string, object registry.ObjectName, err error) {
	s.fmu.Lock()
	s.failures[family]++
	s.fmu.Unlock()

	s.metrics.incMergeFailures(family)
	s.logger.Error("Refusing object registration",
		zap.String("family", family), zap.Stringer("object", object), zap.Error(err))
}

func (s *Store) unregister(collectors map[string]Collector, name registry.ObjectName) {
	s.metrics.incUnregistrations()

	key := name.String()
	family, ok := s.owners[key]
	if !ok {
		return
	}
	delete(s.owners, key)

	c, ok := collectors[family]
	if !ok {
		return
	}

	remaining, err := removeObject(c, name)
	switch {
	case err != nil:
		s.logger.Error("Failed to remove object from collector; dropping family",
			zap.String("family", family), zap.Stringer("object", name), zap.Error(err))
		delete(collectors, family)
		for k, f := range s.owners {
			if f == family {
				delete(s.owners, k)
			}
		}
	case remaining == nil:
		delete(collectors, family)
		s.timings.Delete(family)
		s.logger.Debug("Removed metric family", zap.String("family", family))
	default:
		collectors[family] = remaining
	}
}

func removeObject(c Collector, name registry.ObjectName) (remaining Collector, err error) {
	defer func() {
		if r := recover(); r != nil {
			remaining, err = nil, fmt.Errorf("remove panic: %v", r)
		}
	}()
	return c.RemoveObject(name), nil
}

// Collect returns the current families in name order. Each family is
// collected when the sequence reaches it. A family whose collection fails
// or yields no metrics is left out.
func (s *Store) Collect() iter.Seq[metric.Family] {
	snap := s.current.Load()

	return func(yield func(metric.Family) bool) {
		for _, name := range snap.names {
			f, ok := s.collectFamily(name, snap.collectors[name])
			if !ok {
				continue
			}
			if !yield(f) {
				return
			}
		}

		if s.timingFamily != "" {
			if f, ok := s.collectTimings(snap.names); ok {
				yield(f)
			}
		}
	}
}

func (s *Store) collectFamily(name string, c Collector) (f metric.Family, ok bool) {
	start := time.Now()
	defer func() {
		if s.timingFamily != "" {
			s.addTiming(name, time.Since(start))
		}
		if r := recover(); r != nil {
			s.metrics.incCollectionFailures(name)
			s.logger.Warn("Metric family collection panicked, skipping",
				zap.String("family", name), zap.Any("panic", r))
			f, ok = nil, false
		}
	}()

	family, err := c.Collect()
	if err != nil {
		s.metrics.incCollectionFailures(name)
		s.logger.Warn("Metric family collection failed, skipping",
			zap.String("family", name), zap.Error(err))
		return nil, false
	}
	if family == nil {
		return nil, false
	}

	family, n := metric.Materialize(family)
	if n == 0 {
		return nil, false
	}
	return family, true
}

func (s *Store) addTiming(name string, d time.Duration) {
	v, _ := s.timings.LoadOrStore(name, new(atomic.Int64))
	v.(*atomic.Int64).Add(int64(d))
}

func (s *Store) collectTimings(names []string) (metric.Family, bool) {
	metrics := make([]metric.NumericMetric, 0, len(names))
	for _, name := range names {
		v, ok := s.timings.Load(name)
		if !ok {
			continue
		}
		metrics = append(metrics, metric.NumericMetric{
			Labels: metric.FromPairs("collector", name),
			Value:  time.Duration(v.(*atomic.Int64).Load()).Seconds(),
		})
	}
	if len(metrics) == 0 {
		return nil, false
	}
	return metric.NewCounterFamily(s.timingFamily,
		"Cumulative time taken to run each metrics collector.", slices.Values(metrics)), true
}

// GlobalLabels returns the current process-wide labels.
func (s *Store) GlobalLabels() metric.Labels {
	return s.globals.Labels()
}

// Families returns the names of the current families, sorted.
func (s *Store) Families() []string {
	return slices.Clone(s.current.Load().names)
}

// Collector returns the collector for a family.
func (s *Store) Collector(family string) (Collector, bool) {
	c, ok := s.current.Load().collectors[family]
	return c, ok
}

// Len returns the number of families.
func (s *Store) Len() int {
	return len(s.current.Load().names)
}

// Unmatched returns how many registrations no factory applied to.
func (s *Store) Unmatched() int64 {
	return s.unmatched.Load()
}

// Failures returns the number of refused registrations per family.
func (s *Store) Failures() map[string]int {
	s.fmu.Lock()
	defer s.fmu.Unlock()
	return maps.Clone(s.failures)
}
