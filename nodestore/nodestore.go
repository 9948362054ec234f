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

// Package nodestore defines the contract a teacher's authoritative tree
// snapshot is persisted behind (§4.5), and the record format every
// backend (mysql, postgres, spanner) reads and writes.
package nodestore

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/google/merkle-reconnect/merkle"
	"github.com/google/merkle-reconnect/route"
)

// ErrNotFound reports a route with no stored record. GetNodes does not
// return it: keys with no record are skipped.
var ErrNotFound = errors.New("nodestore: not found")

// Record is one persisted Merkle node, keyed by its route from the root
// (the step-sequence key produced by RouteKey).
type Record struct {
	RouteKey   []byte
	ClassID    uint64
	Version    uint32
	ChildCount int
	Hash       merkle.Hash
	Payload    []byte
}

// NodeStorage persists the nodes of one authoritative tree snapshot.
// Implementations are keyed by RouteKey and must make SetNodes
// idempotent: writing the same record twice leaves the same stored state
// as writing it once.
type NodeStorage interface {
	// GetNodes returns the records found for routeKeys, skipping any
	// key with no stored record (not an error: the caller distinguishes
	// "absent" from "fetch failed" by the returned slice's length).
	GetNodes(ctx context.Context, routeKeys [][]byte) ([]Record, error)

	// SetNodes persists records, overwriting any existing record sharing
	// a RouteKey.
	SetNodes(ctx context.Context, records []Record) error

	Close() error
}

// RouteKey derives a storage key from r's step sequence directly (not
// from whichever wire encoding produced r, which BitHash is not stable
// across). Each step is a big-endian uint32; ErrCorruptRoute from a
// malformed route propagates to the caller.
func RouteKey(r route.Route) ([]byte, error) {
	it := r.Iter()
	key := make([]byte, 0, r.Size()*4)
	var buf [4]byte
	for it.HasNext() {
		step, err := it.Next()
		if err != nil {
			return nil, err
		}
		binary.BigEndian.PutUint32(buf[:], uint32(step))
		key = append(key, buf[:]...)
	}
	return key, nil
}
