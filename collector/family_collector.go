package collector

import (
	"fmt"
	"slices"

	"github.com/nikiz24/registry-exporter/metric"
	"github.com/nikiz24/registry-exporter/registry"
)

// MetricFunc reads one metric from an object. The returned metric must
// carry labels.
type MetricFunc[M any] func(labels metric.Labels, n registry.NamedObject) (M, error)

// labeledObject keeps the reader of the fragment that contributed the
// object, so merged fragments from different factories read correctly.
type labeledObject[M any] struct {
	object registry.NamedObject
	read   MetricFunc[M]
}

// FamilyCollector maps each label set of a family to exactly one object.
// A second object with the same label set is a fatal collision.
type FamilyCollector[M any] struct {
	name    string
	help    string
	kind    Kind[M]
	objects labelIndex[labeledObject[M]]
}

// NewFamilyCollector creates a single-object fragment.
func NewFamilyCollector[M any](name, help string, kind Kind[M], labels metric.Labels, n registry.NamedObject, fn MetricFunc[M]) (*FamilyCollector[M], error) {
	if err := checkIntervalLabels(kind.typ, labels); err != nil {
		return nil, fmt.Errorf("family %s: %w", name, err)
	}
	objects := labelIndex[labeledObject[M]]{}
	objects.put(labels, labeledObject[M]{n, fn})
	return &FamilyCollector[M]{name: name, help: help, kind: kind, objects: objects}, nil
}

func (c *FamilyCollector[M]) Name() string { return c.name }

func (c *FamilyCollector[M]) Objects() []registry.ObjectName {
	out := make([]registry.ObjectName, 0, c.objects.len())
	for _, e := range c.objects.entries() {
		out = append(out, e.value.object.Name)
	}
	return out
}

func (c *FamilyCollector[M]) LabelSets() []metric.Labels {
	out := make([]metric.Labels, 0, c.objects.len())
	for _, e := range c.objects.entries() {
		out = append(out, e.labels)
	}
	return out
}

func (c *FamilyCollector[M]) Merge(other Collector) (Collector, error) {
	o, ok := other.(*FamilyCollector[M])
	if !ok || o.kind.typ != c.kind.typ {
		return nil, fmt.Errorf("family %s: %w: %T and %T", c.name, ErrIncompatibleCollectors, c, other)
	}

	objects := c.objects.clone()
	for _, e := range o.objects.entries() {
		if existing, exists := objects.get(e.labels); exists {
			return nil, fmt.Errorf("family %s: %w %s: %s and %s",
				c.name, ErrDuplicateLabels, e.labels, existing.object.Name, e.value.object.Name)
		}
		objects.put(e.labels, e.value)
	}

	help := c.help
	if help == "" {
		help = o.help
	}
	return &FamilyCollector[M]{name: c.name, help: help, kind: c.kind, objects: objects}, nil
}

func (c *FamilyCollector[M]) RemoveObject(name registry.ObjectName) Collector {
	objects := labelIndex[labeledObject[M]]{}
	for _, e := range c.objects.entries() {
		if !e.value.object.Name.Equal(name) {
			objects.put(e.labels, e.value)
		}
	}
	if len(objects) == 0 {
		return nil
	}
	if objects.len() == c.objects.len() {
		return c
	}
	return &FamilyCollector[M]{name: c.name, help: c.help, kind: c.kind, objects: objects}
}

// Collect reads every object, in label order.
func (c *FamilyCollector[M]) Collect() (metric.Family, error) {
	entries := c.objects.entries()
	metrics := make([]M, 0, len(entries))
	for _, e := range entries {
		m, err := e.value.read(e.labels, e.value.object)
		if err != nil {
			return nil, fmt.Errorf("family %s: object %s: %w", c.name, e.value.object.Name, err)
		}
		metrics = append(metrics, m)
	}
	return c.kind.build(c.name, c.help, slices.Values(metrics)), nil
}
