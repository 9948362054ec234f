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

// Package merkle implements the polymorphic Merkle node model (leaf /
// internal / self-hashing) and the hashing engine that computes and
// verifies tree root hashes, either synchronously or over a worker pool.
package merkle

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
)

// HashSize is the width of a Merkle hash: 48 bytes, SHA-384.
const HashSize = 48

// Hash is a fixed-width byte string with value equality and a fast total
// ordering by bytes.
type Hash [HashSize]byte

// Less gives Hash a total ordering by raw byte value.
func (h Hash) Less(other Hash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

// IsZero reports whether h is the zero value (not to be confused with
// NullChildHash, the well-known sentinel for an absent child).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// NullChildHash is the fixed, well-known hash substituted for a nil child
// link when computing an internal node's hash (I2).
var NullChildHash = digest([]byte("merkle-reconnect:null-child-sentinel"))

func digest(parts ...[]byte) Hash {
	h := sha512.New384()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func be64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// hashLeaf implements I3: hash(leaf) = H(class-id || version || payload).
func hashLeaf(classID uint64, version uint32, payload []byte) Hash {
	return digest(be64(classID), be32(version), payload)
}

// hashInternal implements I2: hash(internal) = H(class-id || version ||
// child-count || hash(child0) || ... || hash(childN-1)), with absent
// children contributing NullChildHash.
func hashInternal(classID uint64, version uint32, childHashes []Hash) Hash {
	parts := make([][]byte, 0, 3+len(childHashes))
	parts = append(parts, be64(classID), be32(version), be32(uint32(len(childHashes))))
	for _, h := range childHashes {
		hh := h
		parts = append(parts, hh[:])
	}
	return digest(parts...)
}
