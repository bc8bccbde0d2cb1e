package kernel

import (
	"fmt"
	"sync"
)

// Registry holds the kernel types known to an engine. Types are added at
// setup time; lookups afterwards are safe from any goroutine.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
	order []string
}

// NewRegistry returns a registry holding types.
func NewRegistry(types ...Type) (*Registry, error) {
	r := &Registry{types: make(map[string]Type)}
	for _, t := range types {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Builtins returns the built-in kernel types: Perlin, Worley, Fbm over
// each of them, Invert and Blend.
func Builtins() []Type {
	perlin, worley := PerlinType(), WorleyType()
	return []Type{
		perlin,
		worley,
		FbmOf(perlin),
		FbmOf(worley),
		InvertType(),
		BlendType(),
	}
}

// Register adds t. Registering the same tag twice fails.
func (r *Registry) Register(t Type) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[t.Tag]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTag, t.Tag)
	}
	r.types[t.Tag] = t
	r.order = append(r.order, t.Tag)
	return nil
}

// Lookup returns the type registered under tag.
func (r *Registry) Lookup(tag string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[tag]
	return t, ok
}

// Types returns all registered types in registration order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.order))
	for _, tag := range r.order {
		out = append(out, r.types[tag])
	}
	return out
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
