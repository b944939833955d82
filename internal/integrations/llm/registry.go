package llm

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Factory builds a provider for the given model; an empty model selects the
// backend default.
type Factory func(model string) (Provider, error)

// Registry maps provider names to constructors. Registration happens at
// start; lookups afterwards are read-only.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a factory to one or more case-insensitive names.
func (r *Registry) Register(f Factory, names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		r.factories[normalize(n)] = f
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalize(name)]
	return ok
}

// New constructs the named provider. model overrides the backend default
// when non-empty.
func (r *Registry) New(name, model string) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedProvider, "%q", name)
	}
	p, err := f(strings.TrimSpace(model))
	if err != nil {
		return nil, errors.Wrapf(err, "llm: construct provider %q", name)
	}
	return p, nil
}

// Names lists the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
