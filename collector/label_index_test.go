package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nikiz24/registry-exporter/metric"
)

func TestLabelIndex(t *testing.T) {
	ix := labelIndex[int]{}
	ix.put(metric.FromPairs("b", "2"), 2)
	ix.put(metric.FromPairs("a", "1"), 1)

	v, ok := ix.get(metric.FromPairs("a", "1"))
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = ix.get(metric.FromPairs("a", "2"))
	assert.False(t, ok)

	c := ix.clone()
	c.put(metric.FromPairs("a", "1"), 10)
	c.put(metric.FromPairs("c", "3"), 3)

	v, _ = ix.get(metric.FromPairs("a", "1"))
	assert.Equal(t, 1, v, "a clone does not share updates")
	assert.Equal(t, 2, ix.len())
	assert.Equal(t, 3, c.len())

	var keys []string
	for _, e := range c.entries() {
		keys = append(keys, e.labels.Key())
	}
	assert.Equal(t, []string{`a="1"`, `b="2"`, `c="3"`}, keys)
}

// Entries sharing a fingerprint are kept apart by their text.
func TestLabelIndex_SharedBucket(t *testing.T) {
	a, other := metric.FromPairs("k", "a"), metric.FromPairs("k", "b")
	fp := a.Fingerprint()
	ix := labelIndex[string]{fp: {{other, "other"}, {a, "first"}}}

	v, ok := ix.get(a)
	assert.True(t, ok)
	assert.Equal(t, "first", v)

	ix.put(a, "updated")
	v, _ = ix.get(a)
	assert.Equal(t, "updated", v)
	assert.Equal(t, 2, ix.len())
	assert.Equal(t, "other", ix[fp][0].value)
}
