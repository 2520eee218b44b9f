// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownModel is returned by Resolve for unregistered model names.
var ErrUnknownModel = errors.New("llm: unknown model")

// Registry maps model names to generators.
//
// # Description
//
// The first registered generator becomes the default unless SetDefault is
// called. Resolve("") returns the default. The registry is passed
// explicitly to the chat service; there is no package-level instance.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]TokenGenerator
	def        string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]TokenGenerator)}
}

// Register adds g under g.Model(). Re-registering a name replaces it.
func (r *Registry) Register(g TokenGenerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := g.Model()
	r.generators[name] = g
	if r.def == "" {
		r.def = name
	}
}

// SetDefault selects the generator used when a request names no model.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.generators[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	r.def = name
	return nil
}

// Resolve returns the generator for name, or the default for "".
func (r *Registry) Resolve(name string) (TokenGenerator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.def
	}
	g, ok := r.generators[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return g, nil
}

// Models lists registered model names in sorted order.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
