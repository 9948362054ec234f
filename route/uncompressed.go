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

package route

// uncompressedRoute stores one 32-bit integer per step. Simple, fast,
// higher memory than the compressed binary encoding.
type uncompressedRoute struct {
	steps []int32
}

// EmptyUncompressed returns the root path using the uncompressed encoding.
func EmptyUncompressed() Route {
	return &uncompressedRoute{}
}

func (r *uncompressedRoute) Size() uint32 {
	return uint32(len(r.steps))
}

func (r *uncompressedRoute) Iter() Iterator {
	return &uncompressedIterator{steps: r.steps}
}

func (r *uncompressedRoute) Extend(step int32) (Route, error) {
	if step < 0 {
		return nil, ErrInvalidRoute
	}
	next := make([]int32, len(r.steps)+1)
	copy(next, r.steps)
	next[len(r.steps)] = step
	return &uncompressedRoute{steps: next}, nil
}

func (r *uncompressedRoute) Equal(other Route) bool {
	if o, ok := other.(*uncompressedRoute); ok {
		if len(r.steps) != len(o.steps) {
			return false
		}
		for i := range r.steps {
			if r.steps[i] != o.steps[i] {
				return false
			}
		}
		return true
	}
	return stepsEqual(r, other)
}

func (r *uncompressedRoute) BitHash() uint64 {
	return fnvHashInt32s(r.steps)
}

type uncompressedIterator struct {
	steps []int32
	pos   int
}

func (it *uncompressedIterator) HasNext() bool {
	return it.pos < len(it.steps)
}

func (it *uncompressedIterator) Next() (int32, error) {
	if it.pos >= len(it.steps) {
		return 0, ErrCorruptRoute
	}
	v := it.steps[it.pos]
	it.pos++
	return v, nil
}
