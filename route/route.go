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

// Package route implements compact, append-only path-from-root
// identifiers for nodes in an n-ary Merkle tree.
package route

import (
	"errors"
	"hash/fnv"
)

// ErrInvalidRoute is returned when a caller attempts to extend a route
// with a negative step.
var ErrInvalidRoute = errors.New("route: invalid step")

// ErrCorruptRoute is returned by iteration when the underlying storage of
// a route contains a forbidden element (a zero word, or a word that is
// neither a valid n-ary step nor a tagged packed-binary word).
var ErrCorruptRoute = errors.New("route: corrupt storage")

// Route is a path from the root of a tree, expressed as an ordered
// sequence of child indices. Routes are immutable; Extend always
// produces a new Route.
type Route interface {
	// Size returns the number of steps in the route.
	Size() uint32

	// Iter returns an iterator over the steps, in order from the root.
	Iter() Iterator

	// Extend returns a new Route with step appended. step must be >= 0.
	Extend(step int32) (Route, error)

	// Equal reports whether two routes denote the same logical step
	// sequence, regardless of which encoding produced them.
	Equal(other Route) bool

	// BitHash returns a fast hash over the route's raw bit pattern. Two
	// routes built with the same encoding and the same steps always
	// produce the same BitHash; it is not guaranteed stable across
	// encodings (see Equal for cross-encoding comparisons).
	BitHash() uint64
}

// Iterator yields the steps of a Route in order. Next returns
// ErrCorruptRoute if the underlying storage is malformed.
type Iterator interface {
	// HasNext reports whether another step is available.
	HasNext() bool
	// Next returns the next step, or an error if the route is corrupt.
	Next() (int32, error)
}

// Empty returns the root path (zero steps), encoded compactly.
func Empty() Route {
	return emptyCompressed()
}

// collectSteps drains it into a slice, used by Equal.
func collectSteps(it Iterator) ([]int32, error) {
	steps := make([]int32, 0, 4)
	for it.HasNext() {
		s, err := it.Next()
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func stepsEqual(a, b Route) bool {
	ai, bi := a.Iter(), b.Iter()
	as, aerr := collectSteps(ai)
	bs, berr := collectSteps(bi)
	if aerr != nil || berr != nil {
		return false
	}
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func fnvHashInt32s(steps []int32) uint64 {
	h := fnv.New64a()
	buf := make([]byte, 4)
	for _, s := range steps {
		buf[0] = byte(s >> 24)
		buf[1] = byte(s >> 16)
		buf[2] = byte(s >> 8)
		buf[3] = byte(s)
		h.Write(buf)
	}
	return h.Sum64()
}
