package collector

import (
	"fmt"
	"slices"

	"github.com/nikiz24/registry-exporter/metric"
	"github.com/nikiz24/registry-exporter/registry"
)

// GroupFunc reads one metric from a complete group. members is indexed by slot.
type GroupFunc[M any] func(labels metric.Labels, members []registry.NamedObject) (M, error)

// GroupReader is the identity of a GroupFunc. Fragments fill slots of the
// same group only when they share a reader.
type GroupReader[M any] struct {
	read GroupFunc[M]
}

// NewGroupReader wraps fn. Create one per factory.
func NewGroupReader[M any](fn GroupFunc[M]) *GroupReader[M] {
	return &GroupReader[M]{read: fn}
}

type group[M any] struct {
	reader  *GroupReader[M]
	members []*registry.NamedObject
}

func (g group[M]) complete() bool {
	for _, m := range g.members {
		if m == nil {
			return false
		}
	}
	return true
}

func (g group[M]) empty() bool {
	for _, m := range g.members {
		if m != nil {
			return false
		}
	}
	return true
}

// GroupCollector combines a fixed number of objects per label set into one
// metric, one object per slot. A group with empty slots is waiting for the
// rest of its objects and is left out of Collect. Filling a slot twice is a
// fatal collision.
type GroupCollector[M any] struct {
	name   string
	help   string
	kind   Kind[M]
	slots  int
	groups labelIndex[group[M]]
}

// NewGroupCollector creates a fragment with n in the given slot.
func NewGroupCollector[M any](name, help string, kind Kind[M], slots, slot int, labels metric.Labels, n registry.NamedObject, r *GroupReader[M]) (*GroupCollector[M], error) {
	if slot < 0 || slot >= slots {
		return nil, fmt.Errorf("family %s: slot %d out of range [0,%d)", name, slot, slots)
	}
	if err := checkIntervalLabels(kind.typ, labels); err != nil {
		return nil, fmt.Errorf("family %s: %w", name, err)
	}

	members := make([]*registry.NamedObject, slots)
	members[slot] = &n
	groups := labelIndex[group[M]]{}
	groups.put(labels, group[M]{r, members})
	return &GroupCollector[M]{name: name, help: help, kind: kind, slots: slots, groups: groups}, nil
}

func (c *GroupCollector[M]) Name() string { return c.name }

func (c *GroupCollector[M]) Objects() []registry.ObjectName {
	var out []registry.ObjectName
	for _, e := range c.groups.entries() {
		for _, m := range e.value.members {
			if m != nil {
				out = append(out, m.Name)
			}
		}
	}
	return out
}

func (c *GroupCollector[M]) LabelSets() []metric.Labels {
	out := make([]metric.Labels, 0, c.groups.len())
	for _, e := range c.groups.entries() {
		out = append(out, e.labels)
	}
	return out
}

func (c *GroupCollector[M]) Merge(other Collector) (Collector, error) {
	o, ok := other.(*GroupCollector[M])
	if !ok || o.kind.typ != c.kind.typ || o.slots != c.slots {
		return nil, fmt.Errorf("family %s: %w: %T and %T", c.name, ErrIncompatibleCollectors, c, other)
	}

	groups := c.groups.clone()
	for _, e := range o.groups.entries() {
		existing, exists := groups.get(e.labels)
		if !exists {
			groups.put(e.labels, e.value)
			continue
		}
		if existing.reader != e.value.reader {
			return nil, fmt.Errorf("family %s: %w: group %s is read by another factory",
				c.name, ErrIncompatibleCollectors, e.labels)
		}

		members := slices.Clone(existing.members)
		for slot, m := range e.value.members {
			if m == nil {
				continue
			}
			if members[slot] != nil {
				return nil, fmt.Errorf("family %s: %w %s: slot %d held by %s, offered %s",
					c.name, ErrDuplicateLabels, e.labels, slot, members[slot].Name, m.Name)
			}
			members[slot] = m
		}
		groups.put(e.labels, group[M]{existing.reader, members})
	}

	help := c.help
	if help == "" {
		help = o.help
	}
	return &GroupCollector[M]{name: c.name, help: help, kind: c.kind, slots: c.slots, groups: groups}, nil
}

func (c *GroupCollector[M]) RemoveObject(name registry.ObjectName) Collector {
	groups := labelIndex[group[M]]{}
	changed := false
	for _, e := range c.groups.entries() {
		members := slices.Clone(e.value.members)
		for slot, m := range members {
			if m != nil && m.Name.Equal(name) {
				members[slot] = nil
				changed = true
			}
		}
		g := group[M]{e.value.reader, members}
		if !g.empty() {
			groups.put(e.labels, g)
		}
	}
	if len(groups) == 0 {
		return nil
	}
	if !changed {
		return c
	}
	return &GroupCollector[M]{name: c.name, help: c.help, kind: c.kind, slots: c.slots, groups: groups}
}

// Collect reads every complete group, in label order.
func (c *GroupCollector[M]) Collect() (metric.Family, error) {
	entries := c.groups.entries()
	metrics := make([]M, 0, len(entries))
	for _, e := range entries {
		g := e.value
		if !g.complete() {
			continue
		}

		members := make([]registry.NamedObject, len(g.members))
		for i, m := range g.members {
			members[i] = *m
		}

		m, err := g.reader.read(e.labels, members)
		if err != nil {
			return nil, fmt.Errorf("family %s: group %s: %w", c.name, e.labels, err)
		}
		metrics = append(metrics, m)
	}
	return c.kind.build(c.name, c.help, slices.Values(metrics)), nil
}
