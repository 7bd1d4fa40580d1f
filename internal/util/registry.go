// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"fmt"
	"slices"
	"sync"
)

// Registry maps names to handlers. Entries are added at init time and read
// concurrently afterwards; a name can be registered only once.
type Registry[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// NewRegistry creates an empty registry.
func NewRegistry[V any]() *Registry[V] {
	return &Registry[V]{items: make(map[string]V)}
}

// Register adds name. It fails if name is empty or already registered.
func (r *Registry[V]) Register(name string, value V) error {
	if name == "" {
		return fmt.Errorf("registry: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[name]; exists {
		return fmt.Errorf("registry: %q already registered", name)
	}
	r.items[name] = value
	return nil
}

// MustRegister is Register for init-time tables; it panics on error.
func (r *Registry[V]) MustRegister(name string, value V) {
	if err := r.Register(name, value); err != nil {
		panic(err)
	}
}

// Lookup returns the value registered under name.
func (r *Registry[V]) Lookup(name string) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[name]
	return v, ok
}

// Has reports whether name is registered.
func (r *Registry[V]) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry[V]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
