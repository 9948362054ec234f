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

// Package validator implements the signed-state validator (C7): the
// address book mapping node-id to public key and stake, and the
// weighted-stake quorum check gating acceptance of a reconnected state.
package validator

import (
	"fmt"

	"github.com/google/btree"
)

// Entry is one address book record.
type Entry struct {
	NodeID    uint64
	PublicKey []byte
	Stake     int64
}

func (e Entry) Less(than btree.Item) bool {
	return e.NodeID < than.(Entry).NodeID
}

// AddressBookViolation reports an invariant violation while building an
// AddressBook: non-negative stake, non-empty book, monotonically
// increasing node-ids, and no re-insertion of an existing node-id.
type AddressBookViolation struct {
	Reason string
}

func (e *AddressBookViolation) Error() string {
	return fmt.Sprintf("address book violation: %s", e.Reason)
}

// AddressBook is an ordered, append-only snapshot of node-id -> (public
// key, stake) at a given round, backed by a btree for ordered iteration
// and point lookups. Entries are inserted via a Builder; the resulting
// AddressBook is immutable.
type AddressBook struct {
	tree       *btree.BTree
	totalStake int64
}

// Builder accumulates Entry values under the monotonic next-id and
// no-reinsertion invariants, then freezes them into an AddressBook.
type Builder struct {
	tree   *btree.BTree
	nextID uint64
	total  int64
	err    error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{tree: btree.New(32)}
}

// Add appends an entry. Node-ids must be strictly increasing across
// calls and stakes must be non-negative; violations are latched and
// surfaced by Build.
func (b *Builder) Add(nodeID uint64, publicKey []byte, stake int64) *Builder {
	if b.err != nil {
		return b
	}
	if stake < 0 {
		b.err = &AddressBookViolation{Reason: fmt.Sprintf("negative stake %d for node %d", stake, nodeID)}
		return b
	}
	if b.tree.Len() > 0 && nodeID <= b.nextID-1 {
		b.err = &AddressBookViolation{Reason: fmt.Sprintf("node-id %d is not greater than previous %d", nodeID, b.nextID-1)}
		return b
	}
	entry := Entry{NodeID: nodeID, PublicKey: publicKey, Stake: stake}
	if existing := b.tree.ReplaceOrInsert(entry); existing != nil {
		b.err = &AddressBookViolation{Reason: fmt.Sprintf("node-id %d already present", nodeID)}
		return b
	}
	b.nextID = nodeID + 1
	b.total += stake
	return b
}

// Build freezes the accumulated entries into an AddressBook. A book with
// zero entries is itself a violation (§9: AddressBookViolation covers
// "non-empty book").
func (b *Builder) Build() (*AddressBook, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.tree.Len() == 0 {
		return nil, &AddressBookViolation{Reason: "address book must not be empty"}
	}
	return &AddressBook{tree: b.tree, totalStake: b.total}, nil
}

// Lookup returns the entry for nodeID, if present.
func (ab *AddressBook) Lookup(nodeID uint64) (Entry, bool) {
	item := ab.tree.Get(Entry{NodeID: nodeID})
	if item == nil {
		return Entry{}, false
	}
	return item.(Entry), true
}

// TotalStake returns the sum of every entry's stake.
func (ab *AddressBook) TotalStake() int64 {
	return ab.totalStake
}

// Size returns the number of entries.
func (ab *AddressBook) Size() int {
	return ab.tree.Len()
}

// Ascend calls f for every entry in ascending node-id order until f
// returns false.
func (ab *AddressBook) Ascend(f func(Entry) bool) {
	ab.tree.Ascend(func(item btree.Item) bool {
		return f(item.(Entry))
	})
}
