// Copyright 2016 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merkle

import "sync"

// Factory constructs a zero-value Node of a registered class, ready to
// be populated by a deserializer.
type Factory func() Node

// Registry is a process-wide class-id -> factory table used to
// deserialize nodes off the wire (the "constructable registry", §3).
// Registration is append-only: re-registering a class-id is an error.
type Registry struct {
	mu        sync.RWMutex
	factories map[uint64]Factory
}

// NewRegistry returns an empty registry. Most callers should use the
// lazily-initialized DefaultRegistry instead.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[uint64]Factory)}
}

// Register adds a factory for classID. It returns ErrAlreadyRegistered if
// classID has already been registered.
func (r *Registry) Register(classID uint64, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[classID]; ok {
		return &ErrAlreadyRegistered{ClassID: classID}
	}
	r.factories[classID] = f
	return nil
}

// Create constructs a new Node for classID, or returns
// ErrClassNotFoundInRegistry.
func (r *Registry) Create(classID uint64) (Node, error) {
	r.mu.RLock()
	f, ok := r.factories[classID]
	r.mu.RUnlock()
	if !ok {
		return nil, &ErrClassNotFoundInRegistry{ClassID: classID}
	}
	return f(), nil
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns the lazily-initialized, process-wide
// constructable registry.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}
