package collector

import (
	"github.com/nikiz24/registry-exporter/registry"
)

// Factory turns a registered object into a collector fragment. It returns
// (nil, nil) when the object is not one it handles. Factories must be
// stateless and free of side effects.
type Factory interface {
	TryCreate(n registry.NamedObject) (Collector, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(n registry.NamedObject) (Collector, error)

func (f FactoryFunc) TryCreate(n registry.NamedObject) (Collector, error) { return f(n) }

// Chain is an ordered list of factories. More specific factories must come
// before generic ones; the store uses the first fragment returned.
type Chain []Factory

// Append returns a new chain with factories added at the end.
func (c Chain) Append(factories ...Factory) Chain {
	out := make(Chain, 0, len(c)+len(factories))
	out = append(out, c...)
	return append(out, factories...)
}
