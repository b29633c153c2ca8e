package collector

import (
	"maps"
	"slices"
	"strings"

	"github.com/nikiz24/registry-exporter/metric"
)

type labelEntry[V any] struct {
	labels metric.Labels
	value  V
}

// labelIndex maps label sets to values by fingerprint. Sets whose
// fingerprints collide share a bucket and are told apart with Equal.
// Buckets are never modified in place, so a clone shares them safely.
type labelIndex[V any] map[uint64][]labelEntry[V]

func (ix labelIndex[V]) get(labels metric.Labels) (V, bool) {
	for _, e := range ix[labels.Fingerprint()] {
		if e.labels.Equal(labels) {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// put sets labels to v in ix. Callers own ix, not its buckets.
func (ix labelIndex[V]) put(labels metric.Labels, v V) {
	fp := labels.Fingerprint()
	bucket := slices.Clone(ix[fp])
	for i, e := range bucket {
		if e.labels.Equal(labels) {
			bucket[i].value = v
			ix[fp] = bucket
			return
		}
	}
	ix[fp] = append(bucket, labelEntry[V]{labels, v})
}

func (ix labelIndex[V]) clone() labelIndex[V] { return maps.Clone(ix) }

func (ix labelIndex[V]) len() int {
	n := 0
	for _, b := range ix {
		n += len(b)
	}
	return n
}

// entries returns every entry in label order.
func (ix labelIndex[V]) entries() []labelEntry[V] {
	out := make([]labelEntry[V], 0, len(ix))
	for _, b := range ix {
		out = append(out, b...)
	}
	slices.SortFunc(out, func(a, b labelEntry[V]) int { return strings.Compare(a.labels.Key(), b.labels.Key()) })
	return out
}
