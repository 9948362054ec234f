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

// Package genmap implements a thread-safe, generation-tagged associative
// structure that can be bulk-purged by generation. It underpins orphan
// buffering and event dedup in the gossip substrate, and shares the same
// race-free-insertion invariants as the reconnect core's other shared
// state (§4.4).
package genmap

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// MinStripes is the minimum recommended stripe count (parallelism), per
// §4.4.
const MinStripes = 1024

type storedEntry[V any] struct {
	value V
	gen   int64
}

// Map is keyed by K with values V; every entry carries an implicit
// generation tag. Reads are lock-free; writes are serialized against
// Purge by a stripe lock keyed on the entry's generation.
type Map[K comparable, V any] struct {
	store   sync.Map // K -> storedEntry[V]
	stripes []sync.Mutex
	purged  int64 // atomic
	group   singleflight.Group
}

// New returns a Map with at least MinStripes lock stripes.
func New[K comparable, V any]() *Map[K, V] {
	return NewStriped[K, V](MinStripes)
}

// NewStriped returns a Map with the given stripe count (clamped up to
// MinStripes).
func NewStriped[K comparable, V any](stripeCount int) *Map[K, V] {
	if stripeCount < MinStripes {
		stripeCount = MinStripes
	}
	return &Map[K, V]{stripes: make([]sync.Mutex, stripeCount)}
}

func (m *Map[K, V]) stripeFor(gen int64) *sync.Mutex {
	idx := uint64(gen) % uint64(len(m.stripes))
	return &m.stripes[idx]
}

func (m *Map[K, V]) purgedGeneration() int64 {
	return atomic.LoadInt64(&m.purged)
}

// Put inserts or overwrites the value for k at generation gen. It is a
// no-op if gen is already purged.
func (m *Map[K, V]) Put(k K, v V, gen int64) {
	if gen < m.purgedGeneration() {
		return
	}
	s := m.stripeFor(gen)
	s.Lock()
	defer s.Unlock()
	if gen < m.purgedGeneration() {
		return
	}
	m.store.Store(k, storedEntry[V]{value: v, gen: gen})
}

// Get returns the value for k, if present.
func (m *Map[K, V]) Get(k K) (V, bool) {
	v, ok := m.store.Load(k)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(storedEntry[V]).value, true
}

// Contains reports whether k has a live entry.
func (m *Map[K, V]) Contains(k K) bool {
	_, ok := m.store.Load(k)
	return ok
}

// Remove deletes the entry for k, if any.
func (m *Map[K, V]) Remove(k K) {
	m.store.Delete(k)
}

// PutIfAbsent inserts v for k at generation gen if absent, returning the
// existing value and true if one was already present. It returns the
// zero value and false both when the insert succeeded and when gen was
// already purged (in neither case was there a pre-existing value).
func (m *Map[K, V]) PutIfAbsent(k K, v V, gen int64) (V, bool) {
	if gen < m.purgedGeneration() {
		var zero V
		return zero, false
	}
	s := m.stripeFor(gen)
	s.Lock()
	defer s.Unlock()
	if gen < m.purgedGeneration() {
		var zero V
		return zero, false
	}
	if existing, ok := m.store.Load(k); ok {
		return existing.(storedEntry[V]).value, true
	}
	m.store.Store(k, storedEntry[V]{value: v, gen: gen})
	var zero V
	return zero, false
}

// ComputeIfAbsent invokes f at most once per key even under concurrent
// callers, storing its result at generation gen unless gen is already
// purged (or becomes purged before f's result is durably stored, in
// which case this is a no-op and the second return is false).
func (m *Map[K, V]) ComputeIfAbsent(k K, gen int64, f func() V) (V, bool) {
	if gen < m.purgedGeneration() {
		var zero V
		return zero, false
	}
	if se, ok := m.store.Load(k); ok {
		return se.(storedEntry[V]).value, true
	}

	key := fmt.Sprintf("%v", k)
	m.group.Do(key, func() (interface{}, error) {
		if _, ok := m.store.Load(k); ok {
			return nil, nil
		}
		if gen < m.purgedGeneration() {
			return nil, nil
		}
		s := m.stripeFor(gen)
		s.Lock()
		defer s.Unlock()
		if gen < m.purgedGeneration() {
			return nil, nil
		}
		m.store.Store(k, storedEntry[V]{value: f(), gen: gen})
		return nil, nil
	})

	if se, ok := m.store.Load(k); ok {
		return se.(storedEntry[V]).value, true
	}
	var zero V
	return zero, false
}

// Purge atomically raises the purged generation to belowGeneration and
// removes every entry with gen < belowGeneration, reporting each removed
// entry exactly once to onPurge. It holds every stripe lock for the
// duration, so any Put/PutIfAbsent/ComputeIfAbsent already past its
// pre-check is drained (forced to re-check and no-op) before Purge
// returns — no entry can survive its own purge window (P3).
func (m *Map[K, V]) Purge(belowGeneration int64, onPurge func(k K, v V)) {
	for i := range m.stripes {
		m.stripes[i].Lock()
	}
	defer func() {
		for i := range m.stripes {
			m.stripes[i].Unlock()
		}
	}()

	atomic.StoreInt64(&m.purged, belowGeneration)

	var toRemove []K
	m.store.Range(func(key, value any) bool {
		if value.(storedEntry[V]).gen < belowGeneration {
			toRemove = append(toRemove, key.(K))
		}
		return true
	})
	for _, k := range toRemove {
		v, ok := m.store.Load(k)
		if !ok {
			continue
		}
		m.store.Delete(k)
		if onPurge != nil {
			onPurge(k, v.(storedEntry[V]).value)
		}
	}
}

// PurgedGeneration returns the current purge floor.
func (m *Map[K, V]) PurgedGeneration() int64 {
	return m.purgedGeneration()
}
