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

import (
	"sync"

	"github.com/google/merkle-reconnect/route"
)

// Kind distinguishes the three node shapes the core understands; deep
// type-hierarchies are deliberately flattened into this tagged variant
// plus capability views (see the reconnect package's View interface).
type Kind int

const (
	KindLeaf Kind = iota
	KindInternal
	KindSelfHashing
)

// Bounds carries the version-dependent child-count bounds an internal
// node class must satisfy (I5).
type Bounds struct {
	Min, Max int
}

// Node is a polymorphic Merkle tree node: a leaf (opaque payload), an
// internal node (ordered child links), or a self-hashing node (reports
// its own hash without reading children).
type Node interface {
	Kind() Kind
	IsLeaf() bool
	IsInternal() bool
	IsSelfHashing() bool

	ClassID() uint64
	Version() uint32

	// Hash returns the node's hash and whether it has been set.
	Hash() (Hash, bool)
	// SetHash records the node's hash, making it immutable (I1). It is an
	// error to call SetHash twice.
	SetHash(h Hash) error

	ChildCount() int
	GetChild(i int) (Node, error)
	// SetChild fails with ErrStateImmutable once the node's hash is set.
	SetChild(i int, child Node) error

	// Route reconstructs this node's path from the root via advisory
	// parent back-references (not reference-counted).
	Route() route.Route

	// MarkForInitialization flags an internal node assembled during
	// reconnect; NeedsInitialization reports the flag.
	MarkForInitialization()
	NeedsInitialization() bool

	// Payload returns the leaf payload, or nil for internal nodes.
	Payload() []byte

	// setParent records the advisory (non-owning) back-reference used by
	// Route(). Only the tree-assembly code (internal package + reconnect)
	// should call this.
	setParent(p Node, pos int)
}

// Initializer is optionally implemented by application node types that
// need a one-shot post-assembly hook (run bottom-up after reconnect
// splices a new tree together, before hashes are recomputed).
type Initializer interface {
	Initialize() error
}

type parentLink struct {
	parent Node
	pos    int
}

// baseNode carries the fields and lock shared by every concrete node.
type baseNode struct {
	mu sync.Mutex

	classID uint64
	version uint32

	hash    Hash
	hashSet bool

	needsInit bool

	parent parentLink
}

func (b *baseNode) ClassID() uint64 { return b.classID }
func (b *baseNode) Version() uint32 { return b.version }

func (b *baseNode) Hash() (Hash, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hash, b.hashSet
}

func (b *baseNode) setHashLocked(h Hash) error {
	if b.hashSet {
		return ErrStateImmutable
	}
	b.hash = h
	b.hashSet = true
	return nil
}

func (b *baseNode) MarkForInitialization() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.needsInit = true
}

func (b *baseNode) NeedsInitialization() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.needsInit
}

// ensureHash atomically checks-and-computes a node's hash under its
// per-node lock, so concurrent hashing-engine workers visiting the same
// node never race (§4.3, §5). compute is only invoked if the hash is not
// already set.
func (b *baseNode) ensureHash(compute func() (Hash, error)) (Hash, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hashSet {
		return b.hash, false, nil
	}
	h, err := compute()
	if err != nil {
		return Hash{}, false, err
	}
	b.hash = h
	b.hashSet = true
	return h, true, nil
}

func (b *baseNode) setParent(p Node, pos int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parent = parentLink{parent: p, pos: pos}
}

func (b *baseNode) routeFrom(self Node) route.Route {
	var steps []int32
	cur := self
	for {
		b, ok := cur.(interface {
			getParentLink() (Node, int, bool)
		})
		if !ok {
			break
		}
		parent, pos, ok := b.getParentLink()
		if !ok {
			break
		}
		steps = append(steps, int32(pos))
		cur = parent
	}
	r := route.Empty()
	for i := len(steps) - 1; i >= 0; i-- {
		var err error
		r, err = r.Extend(steps[i])
		if err != nil {
			// steps are always >= 0 positions, Extend cannot fail here.
			panic(err)
		}
	}
	return r
}

func (b *baseNode) getParentLink() (Node, int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.parent.parent == nil {
		return nil, 0, false
	}
	return b.parent.parent, b.parent.pos, true
}

// LeafNode is an opaque payload plus class-id and version.
type LeafNode struct {
	baseNode
	payload []byte
}

// NewLeaf constructs a leaf node. Its hash is left unset; call SetHash
// (typically via the hashing engine) before treating it as immutable.
func NewLeaf(classID uint64, version uint32, payload []byte) *LeafNode {
	n := &LeafNode{payload: payload}
	n.classID = classID
	n.version = version
	return n
}

func (n *LeafNode) Kind() Kind         { return KindLeaf }
func (n *LeafNode) IsLeaf() bool       { return true }
func (n *LeafNode) IsInternal() bool   { return false }
func (n *LeafNode) IsSelfHashing() bool { return false }
func (n *LeafNode) Payload() []byte    { return n.payload }

func (n *LeafNode) SetHash(h Hash) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.setHashLocked(h)
}

func (n *LeafNode) ChildCount() int { return 0 }

func (n *LeafNode) GetChild(i int) (Node, error) {
	return nil, errLeafHasNoChildren()
}

func (n *LeafNode) SetChild(i int, child Node) error {
	return errLeafHasNoChildren()
}

func (n *LeafNode) Route() route.Route { return n.routeFrom(n) }

// SelfHashingNode computes its own hash without reading children; its
// reported hash is accepted as authoritative (I4) and must never be
// recomputed by callers.
type SelfHashingNode struct {
	baseNode
	payload []byte
}

// NewSelfHashing constructs a self-hashing node whose identity hash is
// supplied by the caller (e.g. decoded from a wire payload that embeds
// its own digest).
func NewSelfHashing(classID uint64, version uint32, payload []byte, h Hash) *SelfHashingNode {
	n := &SelfHashingNode{payload: payload}
	n.classID = classID
	n.version = version
	n.hash = h
	n.hashSet = true
	return n
}

func (n *SelfHashingNode) Kind() Kind          { return KindSelfHashing }
func (n *SelfHashingNode) IsLeaf() bool        { return false }
func (n *SelfHashingNode) IsInternal() bool    { return false }
func (n *SelfHashingNode) IsSelfHashing() bool { return true }
func (n *SelfHashingNode) Payload() []byte     { return n.payload }

func (n *SelfHashingNode) SetHash(h Hash) error {
	// I4: a self-hashing node's hash is its identity; recomputation or
	// override is never valid, even on first assignment past
	// construction.
	return ErrStateImmutable
}

func (n *SelfHashingNode) ChildCount() int { return 0 }

func (n *SelfHashingNode) GetChild(i int) (Node, error) {
	return nil, errLeafHasNoChildren()
}

func (n *SelfHashingNode) SetChild(i int, child Node) error {
	return errLeafHasNoChildren()
}

func (n *SelfHashingNode) Route() route.Route { return n.routeFrom(n) }

// InternalNode is an ordered sequence of child links whose length must
// lie within [bounds.Min, bounds.Max].
type InternalNode struct {
	baseNode
	bounds   Bounds
	children []Node
}

// NewInternal constructs an internal node with nChildren slots (all
// initially nil), enforcing bounds at construction time (I5 extends to
// construction, not just deserialization, so callers can't build an
// invalid shape in the first place).
func NewInternal(classID uint64, version uint32, bounds Bounds, nChildren int) (*InternalNode, error) {
	if nChildren < bounds.Min || nChildren > bounds.Max {
		return nil, &ErrIllegalChildCount{ClassID: classID, Version: version, Got: nChildren, Min: bounds.Min, Max: bounds.Max}
	}
	n := &InternalNode{bounds: bounds, children: make([]Node, nChildren)}
	n.classID = classID
	n.version = version
	return n, nil
}

func (n *InternalNode) Kind() Kind          { return KindInternal }
func (n *InternalNode) IsLeaf() bool        { return false }
func (n *InternalNode) IsInternal() bool    { return true }
func (n *InternalNode) IsSelfHashing() bool { return false }
func (n *InternalNode) Payload() []byte     { return nil }

func (n *InternalNode) Bounds() Bounds { return n.bounds }

func (n *InternalNode) SetHash(h Hash) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.setHashLocked(h)
}

func (n *InternalNode) ChildCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.children)
}

func (n *InternalNode) GetChild(i int) (Node, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if i < 0 || i >= len(n.children) {
		return nil, errChildOutOfRange(i, len(n.children))
	}
	return n.children[i], nil
}

func (n *InternalNode) SetChild(i int, child Node) error {
	n.mu.Lock()
	if n.hashSet {
		n.mu.Unlock()
		return ErrStateImmutable
	}
	if i < 0 || i >= len(n.children) {
		n.mu.Unlock()
		return errChildOutOfRange(i, len(n.children))
	}
	n.children[i] = child
	n.mu.Unlock()
	if child != nil {
		child.setParent(n, i)
	}
	return nil
}

func (n *InternalNode) Route() route.Route { return n.routeFrom(n) }

// childHashes gathers the hash of every child slot, substituting
// NullChildHash for absent children, for use by hashInternal.
func (n *InternalNode) childHashes() ([]Hash, bool) {
	n.mu.Lock()
	children := make([]Node, len(n.children))
	copy(children, n.children)
	n.mu.Unlock()

	out := make([]Hash, len(children))
	for i, c := range children {
		if c == nil {
			out[i] = NullChildHash
			continue
		}
		h, ok := c.Hash()
		if !ok {
			return nil, false
		}
		out[i] = h
	}
	return out, true
}
