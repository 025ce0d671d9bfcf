package image

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry resolves image capabilities by provider name. A single client
// may be registered for several capabilities.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
	editors    map[string]Editor
	variers    map[string]Varier
}

func NewRegistry() *Registry {
	return &Registry{
		generators: map[string]Generator{},
		editors:    map[string]Editor{},
		variers:    map[string]Varier{},
	}
}

// Register adds every image capability p implements.
func (r *Registry) Register(p interface{ Name() string }) {
	name := strings.ToLower(p.Name())
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := p.(Generator); ok {
		r.generators[name] = g
	}
	if e, ok := p.(Editor); ok {
		r.editors[name] = e
	}
	if v, ok := p.(Varier); ok {
		r.variers[name] = v
	}
}

func (r *Registry) Generator(name string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g, ok := r.generators[strings.ToLower(name)]; ok {
		return g, nil
	}
	return nil, fmt.Errorf("image provider %q does not support generation (available: %s)", name, keys(r.generators))
}

func (r *Registry) Editor(name string) (Editor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.editors[strings.ToLower(name)]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("image provider %q does not support edits (available: %s)", name, keys(r.editors))
}

func (r *Registry) Varier(name string) (Varier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.variers[strings.ToLower(name)]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("image provider %q does not support variations (available: %s)", name, keys(r.variers))
}

func keys[T any](m map[string]T) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return "none"
	}
	return strings.Join(out, ",")
}
