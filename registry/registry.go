package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// NamedObject pairs a registered object with its name. The object is
// borrowed from the registry and is only valid between its registration
// and unregistration events.
type NamedObject struct {
	Name   ObjectName
	Object any
}

// NewNamedObject validates and builds a NamedObject.
func NewNamedObject(name ObjectName, object any) (NamedObject, error) {
	if name.IsZero() {
		return NamedObject{}, fmt.Errorf("%w: empty name", ErrInvalidObjectName)
	}
	if object == nil {
		return NamedObject{}, fmt.Errorf("%s: %w", name, ErrNilObject)
	}
	return NamedObject{Name: name, Object: object}, nil
}

// As returns the object as a T. ok is false when the object is another kind.
func As[T any](n NamedObject) (T, bool) {
	t, ok := n.Object.(T)
	return t, ok
}

// Listener receives registry change events.
type Listener interface {
	Registered(NamedObject)
	Unregistered(ObjectName)
}

// Source lists the objects currently registered.
type Source interface {
	Snapshot(ctx context.Context) ([]NamedObject, error)
}

// Registry is an in-process managed-object registry. Listeners are notified
// synchronously, in registration order, while the registry lock is held, so
// they must not block or call back into the registry.
type Registry struct {
	mu        sync.RWMutex
	objects   map[string]NamedObject
	listeners map[int]Listener
	nextID    int
	logger    *zap.Logger
}

// New creates an empty Registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		objects:   make(map[string]NamedObject),
		listeners: make(map[int]Listener),
		logger:    logger,
	}
}

// Register adds object under name and notifies listeners.
func (r *Registry) Register(name ObjectName, object any) error {
	n, err := NewNamedObject(name, object)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := name.String()
	if _, exists := r.objects[key]; exists {
		return fmt.Errorf("%s: %w", key, ErrAlreadyRegistered)
	}
	r.objects[key] = n

	r.logger.Debug("Object registered", zap.Stringer("object", name))
	for _, id := range r.listenerIDs() {
		r.listeners[id].Registered(n)
	}
	return nil
}

// Unregister removes the named object and notifies listeners.
func (r *Registry) Unregister(name ObjectName) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := name.String()
	if _, exists := r.objects[key]; !exists {
		return fmt.Errorf("%s: %w", key, ErrNotRegistered)
	}
	delete(r.objects, key)

	r.logger.Debug("Object unregistered", zap.Stringer("object", name))
	for _, id := range r.listenerIDs() {
		r.listeners[id].Unregistered(name)
	}
	return nil
}

// Subscribe replays every registered object to l and then delivers future
// events. The returned func stops delivery.
func (r *Registry) Subscribe(l Listener) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range r.sorted() {
		l.Registered(n)
	}

	id := r.nextID
	r.nextID++
	r.listeners[id] = l

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Snapshot returns every registered object sorted by name.
func (r *Registry) Snapshot(context.Context) ([]NamedObject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(), nil
}

// Query returns the registered objects matching p, sorted by name.
func (r *Registry) Query(p *Pattern) []NamedObject {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []NamedObject
	for _, n := range r.sorted() {
		if p.Matches(n.Name) {
			out = append(out, n)
		}
	}
	return out
}

// Lookup returns the object registered under name.
func (r *Registry) Lookup(name ObjectName) (NamedObject, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.objects[name.String()]
	return n, ok
}

// Len returns the number of registered objects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

func (r *Registry) sorted() []NamedObject {
	out := make([]NamedObject, 0, len(r.objects))
	for _, n := range r.objects {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name.String() < out[j].Name.String() })
	return out
}

func (r *Registry) listenerIDs() []int {
	ids := make([]int, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
