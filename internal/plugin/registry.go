package plugin

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownPlugin is returned when an id is neither linked in nor listed in the
// library manifest.
var ErrUnknownPlugin = errors.New("unknown plugin")

// ConstructionPanic is returned by Resolve when a factory panics. Error is a
// single line; Stack holds the goroutine stack for debug logging.
type ConstructionPanic struct {
	ID    string
	Value any
	Stack []byte
}

func (e *ConstructionPanic) Error() string {
	return fmt.Sprintf("plugin %q panicked during construction: %v", e.ID, e.Value)
}

// Factory creates a fresh plugin instance.
type Factory func() (Plugin, error)

// Registry holds plugin factories indexed by id.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	libraries *LibraryLoader
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under id.
func (r *Registry) Register(id string, f Factory) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("plugin id is empty")
	}
	if f == nil {
		return fmt.Errorf("plugin %q has nil factory", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("plugin %q already registered", id)
	}
	r.factories[id] = f
	return nil
}

// MustRegister is Register for package-level wiring of linked-in plugins.
func (r *Registry) MustRegister(id string, f Factory) {
	if err := r.Register(id, f); err != nil {
		panic(err)
	}
}

// UseLibraries lets Resolve fall back to the co-located library manifest for ids
// that are not linked in.
func (r *Registry) UseLibraries(l *LibraryLoader) {
	r.mu.Lock()
	r.libraries = l
	r.mu.Unlock()
}

// IDs returns the linked-in plugin ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve instantiates the plugin registered under id. A factory that panics is
// reported as an error so one broken plugin cannot take the others down.
func (r *Registry) Resolve(id string) (p Plugin, err error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("plugin id is empty")
	}

	r.mu.RLock()
	f, ok := r.factories[id]
	libs := r.libraries
	r.mu.RUnlock()

	if !ok {
		if libs == nil || !libs.Has(id) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
		}
		f = func() (Plugin, error) { return libs.Load(id) }
	}

	defer func() {
		if rec := recover(); rec != nil {
			p = nil
			err = &ConstructionPanic{ID: id, Value: rec, Stack: debug.Stack()}
		}
	}()

	p, err = f()
	if err != nil {
		return nil, fmt.Errorf("create plugin %q: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("create plugin %q: factory returned nil", id)
	}
	return p, nil
}

// ResolveAs resolves id and checks that the plugin implements T.
func ResolveAs[T Plugin](r *Registry, id string) (T, error) {
	var zero T
	p, err := r.Resolve(id)
	if err != nil {
		return zero, err
	}
	t, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("plugin %q (%T) does not implement %T", id, p, (*T)(nil))
	}
	return t, nil
}
