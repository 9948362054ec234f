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

import "math/bits"

// compressedRoute exploits the observation that many trees are binary.
// Each stored word is either:
//   - a positive value >= 2, encoding a single n-ary step, or
//   - a word with its high bit (bit 31) set, packing up to
//     wordPackCapacity binary (0/1) steps, represented as
//     (1<<n)|data where n is the count of packed steps and data holds
//     them ordered from the first-appended (highest data bit) to the
//     most-recently-appended (bit 0).
//
// The value 0 is forbidden in either position.
type compressedRoute struct {
	words []uint32
}

const (
	tagBit = uint32(1) << 31
	// wordPackCapacity is Word-size - 2: one bit reserved for the tag,
	// one for the fact that a fresh word always carries an implicit
	// sentinel bit even when empty.
	wordPackCapacity = 30
)

// emptyCompressed returns the root path in the compressed encoding; it
// backs route.Empty.
func emptyCompressed() Route {
	return &compressedRoute{}
}

// EmptyCompressed returns the root path using the compressed binary
// encoding.
func EmptyCompressed() Route {
	return &compressedRoute{}
}

func (r *compressedRoute) Size() uint32 {
	var n uint32
	for _, w := range r.words {
		if w&tagBit != 0 {
			n += uint32(packedCount(w &^ tagBit))
		} else {
			n++
		}
	}
	return n
}

// packedCount returns the number of binary steps packed into val, where
// val = (1<<n)|data (the tag bit already stripped).
func packedCount(val uint32) int {
	if val == 0 {
		return 0
	}
	return bits.Len32(val) - 1
}

func (r *compressedRoute) Iter() Iterator {
	return &compressedIterator{words: r.words}
}

func (r *compressedRoute) Extend(step int32) (Route, error) {
	if step < 0 {
		return nil, ErrInvalidRoute
	}
	next := make([]uint32, len(r.words))
	copy(next, r.words)

	if step >= 2 {
		next = append(next, uint32(step))
		return &compressedRoute{words: next}, nil
	}

	// step is 0 or 1: pack into the trailing packed-binary word if it
	// has remaining capacity, otherwise allocate a new one.
	if n := len(next); n > 0 && next[n-1]&tagBit != 0 {
		val := next[n-1] &^ tagBit
		if packedCount(val) < wordPackCapacity {
			next[n-1] = tagBit | ((val << 1) | uint32(step))
			return &compressedRoute{words: next}, nil
		}
	}
	// Seed a new packed-binary word: sentinel at bit 0, no data bits yet,
	// then append the new step immediately.
	seed := uint32(1)
	seed = (seed << 1) | uint32(step)
	next = append(next, tagBit|seed)
	return &compressedRoute{words: next}, nil
}

func (r *compressedRoute) Equal(other Route) bool {
	if o, ok := other.(*compressedRoute); ok {
		if len(r.words) != len(o.words) {
			return false
		}
		for i := range r.words {
			if r.words[i] != o.words[i] {
				return false
			}
		}
		return true
	}
	return stepsEqual(r, other)
}

func (r *compressedRoute) BitHash() uint64 {
	h := uint64(1469598103934665603) // FNV offset basis
	for _, w := range r.words {
		h ^= uint64(w)
		h *= 1099511628211
	}
	return h
}

type compressedIterator struct {
	words []uint32
	wpos  int

	// packed holds the still-to-yield bits of the current packed-binary
	// word, highest data bit first; packedPos is the next index into it.
	packed    []int32
	packedPos int
}

func (it *compressedIterator) HasNext() bool {
	if it.packedPos < len(it.packed) {
		return true
	}
	return it.wpos < len(it.words)
}

func (it *compressedIterator) Next() (int32, error) {
	for it.packedPos >= len(it.packed) {
		if it.wpos >= len(it.words) {
			return 0, ErrCorruptRoute
		}
		w := it.words[it.wpos]
		it.wpos++
		if w == 0 {
			return 0, ErrCorruptRoute
		}
		if w&tagBit == 0 {
			if w < 2 {
				return 0, ErrCorruptRoute
			}
			return int32(w), nil
		}
		val := w &^ tagBit
		if val == 0 {
			return 0, ErrCorruptRoute
		}
		n := packedCount(val)
		bitsOut := make([]int32, n)
		for i := 0; i < n; i++ {
			// First-appended step sits at data bit (n-1), most recent at
			// bit 0; yield oldest-first.
			shift := uint(n - 1 - i)
			bitsOut[i] = int32((val >> shift) & 1)
		}
		it.packed = bitsOut
		it.packedPos = 0
	}
	v := it.packed[it.packedPos]
	it.packedPos++
	return v, nil
}
