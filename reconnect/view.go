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

// Package reconnect implements the teacher (C5) and learner (C6) sides
// of the state-synchronization protocol: streaming a Merkle tree from a
// peer that has it to a peer that needs it, transmitting only the
// subtrees that differ.
package reconnect

import (
	"fmt"

	"github.com/google/merkle-reconnect/merkle"
)

// View abstracts the differences among tree flavors so the teacher and
// learner can operate without depending on one concrete node
// implementation: how to read a node's shape and children, how to
// serialize/deserialize a node off the wire, and how to extract a
// child's hash. A View is held for the lifetime of one subtree job and
// must have Close called on every exit path.
type View interface {
	ClassID(n merkle.Node) uint64
	Kind(n merkle.Node) merkle.Kind
	ChildCount(n merkle.Node) int
	GetChild(n merkle.Node, i int) (merkle.Node, error)
	SetChild(parent merkle.Node, i int, child merkle.Node) error
	ChildHash(n merkle.Node, i int) (merkle.Hash, bool)

	// CustomViewClassID reports whether child, offered as a child of
	// parent, roots a subtree governed by a view-class-id different from
	// the surrounding tree, and if so, that view-class-id (§4.5). parent
	// is never nil when called by the teacher: the session's own root is
	// never checked against itself.
	CustomViewClassID(parent, child merkle.Node) (viewClassID uint64, ok bool)

	// Serialize returns the wire payload for n's own fields (not its
	// children): a leaf's raw payload, or a self-hashing node's
	// hash-prefixed payload. Internal nodes serialize to nil; their
	// shape is carried by ChildCount instead.
	Serialize(n merkle.Node) ([]byte, error)

	// Deserialize constructs a node of the given class and version from
	// its wire payload. isInternal reflects the wire lesson's own tag
	// (NodeLesson (internal) vs. NodeLesson (leaf)); for an internal
	// node, childCount is the number of child slots to allocate
	// (version-dependent bounds are enforced here, §4.2). A class-id the
	// view does not recognize is a fatal ErrClassNotFoundInRegistry.
	Deserialize(classID uint64, version uint32, isInternal bool, childCount int, payload []byte) (merkle.Node, error)

	// WaitUntilReady blocks until the view's backing snapshot is ready to
	// be walked (§5, suspension point iv).
	WaitUntilReady() error

	Close()
}

// BoundsLookup resolves the version-dependent child-count bounds for a
// class-id, as required by C2's deserialization-time enforcement.
type BoundsLookup func(classID uint64, version uint32) merkle.Bounds

// CustomViewLookup resolves whether a class-id roots a custom-view
// subtree, and if so, which view-class-id the teacher and learner
// should associate with it (§4.5's "view-class-id different from the
// surrounding tree"). A false ok means childClassID is governed by
// whatever view is already walking it.
type CustomViewLookup func(childClassID uint64) (viewClassID uint64, ok bool)

// DefaultView implements View directly over the merkle package's node
// model, suitable for the common case where the reconnected tree has no
// custom-view subtrees. Deserialize resolves a class-id's shape (leaf,
// internal, or self-hashing) by constructing a template node through
// Registry (§3's "process-wide constructable registry"); a class-id
// with no registered factory is a fatal ErrClassNotFoundInRegistry,
// same as any other unrecognized class-id on the wire.
type DefaultView struct {
	Bounds      BoundsLookup
	Registry    *merkle.Registry
	CustomViews CustomViewLookup
}

// NewDefaultView returns a DefaultView using the given bounds lookup and
// registry. A nil BoundsLookup defaults every class to {0, 1<<30}; a nil
// registry defaults to merkle.DefaultRegistry(). CustomViews defaults to
// nil, meaning no class-id ever roots a custom-view subtree; set the
// field directly afterward to change that.
func NewDefaultView(bounds BoundsLookup, registry *merkle.Registry) *DefaultView {
	if bounds == nil {
		bounds = func(uint64, uint32) merkle.Bounds { return merkle.Bounds{Min: 0, Max: 1 << 30} }
	}
	if registry == nil {
		registry = merkle.DefaultRegistry()
	}
	return &DefaultView{Bounds: bounds, Registry: registry}
}

func (v *DefaultView) ClassID(n merkle.Node) uint64  { return n.ClassID() }
func (v *DefaultView) Kind(n merkle.Node) merkle.Kind { return n.Kind() }
func (v *DefaultView) ChildCount(n merkle.Node) int  { return n.ChildCount() }

func (v *DefaultView) GetChild(n merkle.Node, i int) (merkle.Node, error) {
	return n.GetChild(i)
}

func (v *DefaultView) SetChild(parent merkle.Node, i int, child merkle.Node) error {
	return parent.SetChild(i, child)
}

func (v *DefaultView) ChildHash(n merkle.Node, i int) (merkle.Hash, bool) {
	c, err := n.GetChild(i)
	if err != nil || c == nil {
		return merkle.Hash{}, false
	}
	return c.Hash()
}

func (v *DefaultView) CustomViewClassID(parent, child merkle.Node) (uint64, bool) {
	if v.CustomViews == nil {
		return 0, false
	}
	return v.CustomViews(child.ClassID())
}

func (v *DefaultView) Serialize(n merkle.Node) ([]byte, error) {
	switch n.Kind() {
	case merkle.KindLeaf:
		return n.Payload(), nil
	case merkle.KindSelfHashing:
		h, _ := n.Hash()
		return append(append([]byte(nil), h[:]...), n.Payload()...), nil
	default:
		return nil, nil
	}
}

func (v *DefaultView) Deserialize(classID uint64, version uint32, isInternal bool, childCount int, payload []byte) (merkle.Node, error) {
	template, err := v.Registry.Create(classID)
	if err != nil {
		return nil, err
	}
	kind := template.Kind()

	if isInternal {
		bounds := v.Bounds(classID, version)
		return merkle.NewInternal(classID, version, bounds, childCount)
	}

	if kind == merkle.KindSelfHashing {
		if len(payload) < merkle.HashSize {
			return nil, &MerkleSerializationError{
				Reason: fmt.Sprintf("self-hashing payload shorter than a hash (%d bytes)", len(payload)),
				Node:   classID,
			}
		}
		var h merkle.Hash
		copy(h[:], payload[:merkle.HashSize])
		return merkle.NewSelfHashing(classID, version, payload[merkle.HashSize:], h), nil
	}
	return merkle.NewLeaf(classID, version, payload), nil
}

func (v *DefaultView) WaitUntilReady() error { return nil }

func (v *DefaultView) Close() {}
