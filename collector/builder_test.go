package collector

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikiz24/registry-exporter/metric"
	"github.com/nikiz24/registry-exporter/registry"
)

type timer struct {
	count float64
	p50   float64
}

type total struct{ micros float64 }

func latencyFactory() Factory {
	return MustBuilder("test:type=Latency,*", "test_latency").
		WithHelp("Request latency.").
		WithLabels(FromProperty("scope", "scope")).
		Build(LatencyOf(
			func(t *timer) (float64, []metric.Interval) {
				return t.count, []metric.Interval{{Quantile: metric.Q50, Value: t.p50}}
			},
			func(c *total) float64 { return metric.MicrosecondsToSeconds(c.micros) },
		))
}

func TestLatency_PartialMerge(t *testing.T) {
	s := NewStore(Chain{latencyFactory()})

	s.ApplyRegistered(object("test:type=Latency,scope=read,name=Timer", &timer{count: 4, p50: 0.25}))
	assert.Equal(t, []string{"test_latency"}, s.Families())
	assert.Empty(t, gather(s), "a half-populated group is not exposed")

	s.ApplyRegistered(object("test:type=Latency,scope=read,name=Total", &total{micros: 3e6}))
	assert.Equal(t, map[string][]string{
		"test_latency": {`{scope="read"} 3.0 4.0`, `{scope="read"} 0.25 q=0.5`},
	}, gather(s))
	assert.Empty(t, s.Failures())

	s.ApplyRegistered(object("test:type=Latency,scope=read,name=Timer2", &timer{count: 9}))
	assert.Equal(t, 1, s.Failures()["test_latency"], "a third fragment for a filled slot is a collision")

	s.ApplyUnregistered(registry.MustParseObjectName("test:type=Latency,scope=read,name=Total"))
	assert.Empty(t, gather(s))
	assert.Equal(t, 1, s.Len())

	s.ApplyUnregistered(registry.MustParseObjectName("test:type=Latency,scope=read,name=Timer"))
	assert.Equal(t, 0, s.Len())
}

func TestLatency_Mismatch(t *testing.T) {
	_, err := latencyFactory().TryCreate(object("test:type=Latency,scope=read", &pool{}))
	assert.ErrorIs(t, err, ErrMismatch)
}

func gaugeFragment(t *testing.T, name string, labels metric.Labels) Collector {
	t.Helper()
	c, err := NewFamilyCollector("x", "", Gauges, labels, object(name, &pool{1}),
		func(labels metric.Labels, _ registry.NamedObject) (metric.NumericMetric, error) {
			return metric.NumericMetric{Labels: labels, Value: 1}, nil
		})
	require.NoError(t, err)
	return c
}

func labelKeys(t *testing.T, c Collector) []string {
	t.Helper()
	f, err := c.Collect()
	require.NoError(t, err)
	var out []string
	for m := range f.(*metric.GaugeFamily).Metrics {
		out = append(out, m.Labels.String())
	}
	return out
}

func TestFamilyCollector_MergeAssociative(t *testing.T) {
	a := gaugeFragment(t, "d:k=a", metric.FromPairs("a", "1"))
	b := gaugeFragment(t, "d:k=b", metric.FromPairs("a", "2"))
	c := gaugeFragment(t, "d:k=c", metric.FromPairs("a", "3"))

	ab, err := a.Merge(b)
	require.NoError(t, err)
	left, err := ab.Merge(c)
	require.NoError(t, err)

	bc, err := b.Merge(c)
	require.NoError(t, err)
	right, err := a.Merge(bc)
	require.NoError(t, err)

	assert.Equal(t, labelKeys(t, left), labelKeys(t, right))
	assert.Equal(t, []string{`{a="1"}`, `{a="2"}`, `{a="3"}`}, labelKeys(t, left))
	assert.Len(t, left.Objects(), 3)

	assert.Len(t, labelKeys(t, a), 1, "merge does not modify its operands")
}

func TestFamilyCollector_OverlapAlwaysFatal(t *testing.T) {
	a := gaugeFragment(t, "d:k=a", metric.FromPairs("a", "1"))
	b := gaugeFragment(t, "d:k=b", metric.FromPairs("a", "2"))
	dup := gaugeFragment(t, "d:k=dup", metric.FromPairs("a", "1"))

	ab, err := a.Merge(b)
	require.NoError(t, err)

	_, err = ab.Merge(dup)
	assert.ErrorIs(t, err, ErrDuplicateLabels)
	_, err = dup.Merge(ab)
	assert.ErrorIs(t, err, ErrDuplicateLabels)
	_, err = dup.Merge(a)
	assert.ErrorIs(t, err, ErrDuplicateLabels)
}

func TestFamilyCollector_RemoveObject(t *testing.T) {
	a := gaugeFragment(t, "d:k=a", metric.FromPairs("a", "1"))
	b := gaugeFragment(t, "d:k=b", metric.FromPairs("a", "2"))
	ab, err := a.Merge(b)
	require.NoError(t, err)

	rest := ab.RemoveObject(registry.MustParseObjectName("d:k=a"))
	require.NotNil(t, rest)
	assert.Equal(t, []string{`{a="2"}`}, labelKeys(t, rest))
	assert.Len(t, labelKeys(t, ab), 2)

	assert.Same(t, ab, ab.RemoveObject(registry.MustParseObjectName("d:k=zzz")))
	assert.Nil(t, rest.RemoveObject(registry.MustParseObjectName("d:k=b")))
}

func TestFamilyCollector_Incompatible(t *testing.T) {
	g := gaugeFragment(t, "d:k=a", metric.FromPairs("a", "1"))
	c, err := NewFamilyCollector("x", "", Counters, metric.FromPairs("a", "2"), object("d:k=b", &pool{}),
		func(labels metric.Labels, _ registry.NamedObject) (metric.NumericMetric, error) {
			return metric.NumericMetric{Labels: labels}, nil
		})
	require.NoError(t, err)

	_, err = g.Merge(c)
	assert.ErrorIs(t, err, ErrIncompatibleCollectors)
}

func TestIntervalLabelsReserved(t *testing.T) {
	_, err := NewFamilyCollector("x", "", Summaries, metric.FromPairs("quantile", "1"), object("d:k=a", &pool{}),
		func(metric.Labels, registry.NamedObject) (metric.SummaryMetric, error) { return metric.SummaryMetric{}, nil })
	assert.ErrorIs(t, err, ErrReservedLabel)

	_, err = NewGroupCollector("x", "", Histograms, 2, 0, metric.FromPairs("le", "1"), object("d:k=a", &pool{}),
		NewGroupReader(func(metric.Labels, []registry.NamedObject) (metric.HistogramMetric, error) { return metric.HistogramMetric{}, nil }))
	assert.ErrorIs(t, err, ErrReservedLabel)

	f, err := HistogramOf(func(*pool) metric.HistogramMetric { return metric.HistogramMetric{} })(
		"x", "", metric.FromPairs("le", "1"), object("d:k=a", &pool{}))
	assert.ErrorIs(t, err, ErrReservedLabel)
	assert.Nil(t, f)
}

func TestBuilder_Labels(t *testing.T) {
	f := MustBuilder("db:type=Table,*", "db_table_reads").
		WithLabels(
			FromProperty("keyspace", "keyspace"),
			OptionalProperty("table", "table"),
			Constant("source", "test"),
		).
		Build(CounterOf(func(p *pool) float64 { return p.size }))

	c, err := f.TryCreate(object("db:type=Table,keyspace=ks,table=t1", &pool{5}))
	require.NoError(t, err)
	require.NotNil(t, c)

	fam, err := c.Collect()
	require.NoError(t, err)
	assert.Equal(t, metric.TypeCounter, fam.Type())
	assert.Equal(t, []string{`{keyspace="ks",source="test",table="t1"} 5.0`},
		metric.Match[[]string](fam, flatten{}))

	c, err = f.TryCreate(object("db:type=Table,table=t1", &pool{5}))
	assert.NoError(t, err)
	assert.Nil(t, c, "missing required property vetoes the object")

	bad := MustBuilder("db:*", "bad").WithLabels(Constant("not-valid", "x")).Build(GaugeOf(func(p *pool) float64 { return 0 }))
	_, err = bad.TryCreate(object("db:k=v", &pool{}))
	assert.Error(t, err)

	_, err = NewBuilder("no-colon", "x")
	assert.ErrorIs(t, err, registry.ErrInvalidObjectName)
}

func TestBuilder_SummaryAndUntyped(t *testing.T) {
	summary := MustBuilder("db:type=Sampler,*", "db_sample").
		Build(SummaryOf(func(p *pool) metric.SummaryMetric {
			return metric.SummaryMetric{
				Labels:    metric.FromPairs("ignored", "x"),
				Sum:       p.size,
				Count:     2,
				Quantiles: metric.Intervals([]*metric.Quantile{metric.Q99}, func(*metric.Quantile) float64 { return 1 }),
			}
		}))
	c, err := summary.TryCreate(object("db:type=Sampler,name=a", &pool{7}))
	require.NoError(t, err)
	fam, err := c.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"{} 7.0 2.0", "{} 1.0 q=0.99"}, metric.Match[[]string](fam, flatten{}))

	untyped := MustBuilder("db:type=Raw,*", "db_raw").Build(UntypedOf(func(p *pool) float64 { return p.size }))
	c, err = untyped.TryCreate(object("db:type=Raw,name=a", &pool{3}))
	require.NoError(t, err)
	fam, err = c.Collect()
	require.NoError(t, err)
	assert.Equal(t, metric.TypeUntyped, fam.Type())
}

func TestChain_Append(t *testing.T) {
	base := Chain{poolFactory()}
	extended := base.Append(latencyFactory())
	assert.Len(t, base, 1)
	assert.Len(t, extended, 2)
}

func TestParseExclusions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exclusions.txt")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment
test:type=Pool,name=a

test_latency
`), 0o600))

	es, err := ParseExclusions([]string{"@" + path, "other_family", "@" + path})
	require.NoError(t, err)

	got := make([]string, 0, len(es))
	for _, e := range es {
		got = append(got, e.String())
	}
	assert.Equal(t, []string{"test:type=Pool,name=a", "test_latency", "other_family"}, got)

	assert.True(t, es.ExcludesObject(registry.MustParseObjectName("test:name=a,type=Pool")))
	assert.False(t, es.ExcludesObject(registry.MustParseObjectName("test:name=b,type=Pool")))
	assert.True(t, es.ExcludesFamily("test_latency"))
	assert.False(t, es.ExcludesFamily("test_pool_size"))
}

func TestParseExclusions_Errors(t *testing.T) {
	_, err := ParseExclusions([]string{"bad:", "@/does/not/exist", "  "})
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrInvalidObjectName)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestGlobalLabels(t *testing.T) {
	topo := &mutableTopology{StaticTopology{Cluster: "c1", Node: "10.0.0.1", DC: "dc1", RackName: "r1"}}
	g := NewGlobalLabels("app", topo, ClusterLabel, NodeLabel, HostIDLabel)

	first := g.Labels()
	assert.Equal(t, `{app_cluster="c1",app_node="10.0.0.1"}`, first.String(), "empty host id is omitted")
	assert.True(t, slices.Contains(g.Reserved(), "app_rack"))

	topo.Node = "10.0.0.2"
	assert.Equal(t, `{app_cluster="c1",app_node="10.0.0.2"}`, g.Labels().String())

	g.SetTopology(nil)
	assert.True(t, g.Labels().IsEmpty())

	var none *GlobalLabels
	assert.True(t, none.Labels().IsEmpty())

	l, err := ParseGlobalLabel(" Datacenter ")
	require.NoError(t, err)
	assert.Equal(t, DatacenterLabel, l)
	_, err = ParseGlobalLabel("zone")
	assert.Error(t, err)
}

type mutableTopology struct{ StaticTopology }

type cacheStats struct{ hits, misses float64 }

type other struct{}

func TestMerge_KeepsReaderPerObject(t *testing.T) {
	hits := MustBuilder("test:type=Cache,op=hit", "test_cache_ops").
		WithLabels(FromProperty("op", "op")).
		Build(GaugeOf(func(c *cacheStats) float64 { return c.hits }))
	misses := MustBuilder("test:type=Cache,op=miss", "test_cache_ops").
		WithLabels(FromProperty("op", "op")).
		Build(GaugeOf(func(c *cacheStats) float64 { return c.misses }))

	s := NewStore(Chain{hits, misses})
	s.ApplyRegistered(object("test:type=Cache,op=hit", &cacheStats{hits: 10, misses: 3}))
	s.ApplyRegistered(object("test:type=Cache,op=miss", &cacheStats{hits: 10, misses: 3}))

	assert.Empty(t, s.Failures())
	assert.Equal(t, map[string][]string{
		"test_cache_ops": {`{op="hit"} 10.0`, `{op="miss"} 3.0`},
	}, gather(s))
}

func TestMerge_DifferentObjectTypes(t *testing.T) {
	pools := MustBuilder("test:type=Mixed,name=pool", "test_mixed").
		WithLabels(FromProperty("name", "name")).
		Build(GaugeOf(func(p *pool) float64 { return p.size }))
	others := MustBuilder("test:type=Mixed,name=other", "test_mixed").
		WithLabels(FromProperty("name", "name")).
		Build(GaugeOf(func(*other) float64 { return 9 }))

	s := NewStore(Chain{pools, others})
	s.ApplyRegistered(object("test:type=Mixed,name=pool", &pool{2}))
	s.ApplyRegistered(object("test:type=Mixed,name=other", &other{}))

	assert.Empty(t, s.Failures())
	assert.Equal(t, map[string][]string{
		"test_mixed": {`{name="other"} 9.0`, `{name="pool"} 2.0`},
	}, gather(s))

	s.ApplyUnregistered(registry.MustParseObjectName("test:type=Mixed,name=other"))
	assert.Equal(t, map[string][]string{"test_mixed": {`{name="pool"} 2.0`}}, gather(s))
}

func TestLatency_GroupsFromDifferentFactories(t *testing.T) {
	s := NewStore(Chain{latencyFactory()})
	s.ApplyRegistered(object("test:type=Latency,scope=read,name=Timer", &timer{count: 4}))

	// A second factory for the same family may not fill the other slot.
	c, err := latencyFactory().TryCreate(object("test:type=Latency,scope=read,name=Total", &total{micros: 1}))
	require.NoError(t, err)
	existing, ok := s.Collector("test_latency")
	require.True(t, ok)
	_, err = existing.Merge(c)
	assert.ErrorIs(t, err, ErrIncompatibleCollectors)

	// Disjoint groups from another factory merge.
	c, err = latencyFactory().TryCreate(object("test:type=Latency,scope=write,name=Total", &total{micros: 1}))
	require.NoError(t, err)
	merged, err := existing.Merge(c)
	require.NoError(t, err)
	assert.Len(t, merged.Objects(), 2)
}

func TestFamilyCollector_ReaderMismatchIsAnError(t *testing.T) {
	c, err := GaugeOf(func(p *pool) float64 { return p.size })("x", "", metric.EmptyLabels, object("d:k=a", &pool{1}))
	require.NoError(t, err)

	bad, err := NewFamilyCollector("x", "", Gauges, metric.FromPairs("a", "1"), object("d:k=b", &other{}),
		func(labels metric.Labels, n registry.NamedObject) (metric.NumericMetric, error) {
			p, err := objectAs[*pool](n)
			if err != nil {
				return metric.NumericMetric{}, err
			}
			return metric.NumericMetric{Labels: labels, Value: p.size}, nil
		})
	require.NoError(t, err)

	merged, err := c.Merge(bad)
	require.NoError(t, err)
	_, err = merged.Collect()
	assert.ErrorIs(t, err, ErrMismatch)
}
