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
	"math/rand"
	"sync"
	"sync/atomic"
)

// hashable is implemented by every concrete node via the embedded
// baseNode; it lets the hashing engine work through the Node interface
// without re-exposing locking primitives publicly.
type hashable interface {
	ensureHash(compute func() (Hash, error)) (Hash, bool, error)
}

// computeLeaf returns the compute func for a leaf node's hash (I3).
func computeLeaf(n Node) func() (Hash, error) {
	return func() (Hash, error) {
		return hashLeaf(n.ClassID(), n.Version(), n.Payload()), nil
	}
}

// computeInternal returns the compute func for an internal node's hash
// (I2), requiring every child already hashed (or absent). The returned
// func runs inside ensureHash with n's lock already held, so it reads
// n.children directly instead of calling childHashes, which takes that
// same lock.
func computeInternal(n *InternalNode) func() (Hash, error) {
	return func() (Hash, error) {
		hashes := make([]Hash, len(n.children))
		for i, c := range n.children {
			if c == nil {
				hashes[i] = NullChildHash
				continue
			}
			h, ok := c.Hash()
			if !ok {
				return Hash{}, ErrIllegalChildHash
			}
			hashes[i] = h
		}
		return hashInternal(n.ClassID(), n.Version(), hashes), nil
	}
}

// hashOne hashes a single node under its per-node lock if it doesn't
// already have a hash. Self-hashing nodes are skipped (I4): their hash
// is never computed here.
func hashOne(n Node) error {
	if n == nil || n.IsSelfHashing() {
		return nil
	}
	h, ok := n.(hashable)
	if !ok {
		return nil
	}
	var compute func() (Hash, error)
	if in, isInternal := n.(*InternalNode); isInternal {
		compute = computeInternal(in)
	} else {
		compute = computeLeaf(n)
	}
	_, _, err := h.ensureHash(compute)
	return err
}

// postOrder returns the nodes of the tree rooted at root in a valid
// post-order (every node preceded by all of its descendants). When rnd
// is non-nil, children are visited in a permuted order at every level,
// producing a pseudo-random post-order that still respects the
// children-before-parent constraint.
func postOrder(root Node, rnd *rand.Rand) []Node {
	var out []Node
	var visit func(Node)
	visit = func(n Node) {
		if n == nil {
			return
		}
		if n.IsInternal() {
			count := n.ChildCount()
			order := make([]int, count)
			for i := range order {
				order[i] = i
			}
			if rnd != nil {
				rnd.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
			}
			for _, idx := range order {
				c, err := n.GetChild(idx)
				if err != nil {
					continue
				}
				visit(c)
			}
		}
		out = append(out, n)
	}
	visit(root)
	return out
}

// HashSync computes the Merkle root hash of root synchronously, via a
// single post-order traversal.
func HashSync(root Node) (Hash, error) {
	if root == nil {
		return Hash{}, nil
	}
	for _, n := range postOrder(root, nil) {
		if err := hashOne(n); err != nil {
			return Hash{}, err
		}
	}
	h, ok := root.Hash()
	if !ok {
		return Hash{}, ErrIllegalChildHash
	}
	return h, nil
}

// HashParallel computes the Merkle root hash of root using a fixed pool
// of workers. Worker 0 walks the tree in the same deterministic
// post-order as HashSync; workers 1..workers-1 walk in a pseudo-random
// post-order seeded by their worker index. The output is bitwise
// identical to HashSync regardless of the worker count (P1): every
// worker computes the same I2/I3 formulas under the same per-node locks,
// and worker 0's full deterministic traversal guarantees every node is
// eventually visited even if the other workers abandon theirs early.
func HashParallel(root Node, workers int) (Hash, error) {
	if root == nil {
		return Hash{}, nil
	}
	if workers < 1 {
		workers = 1
	}

	var (
		active   = int32(workers)
		firstErr error
		errMu    sync.Mutex
		wg       sync.WaitGroup
	)
	recordErr := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer atomic.AddInt32(&active, -1)

			var rnd *rand.Rand
			if idx != 0 {
				rnd = rand.New(rand.NewSource(int64(idx)))
			}
			order := postOrder(root, rnd)

			for _, n := range order {
				// Non-in-order workers abandon their traversal as soon as
				// they observe that some other worker has already
				// finished (or aborted): worker 0's deterministic,
				// complete traversal is guaranteed to cover whatever is
				// left (§4.3).
				if idx != 0 && atomic.LoadInt32(&active) < int32(workers) {
					return
				}
				if err := hashOne(n); err != nil {
					recordErr(err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if firstErr != nil {
		return Hash{}, firstErr
	}
	h, ok := root.Hash()
	if !ok {
		return Hash{}, ErrIllegalChildHash
	}
	return h, nil
}

// Mismatch describes a node whose stored hash did not match its
// recomputed hash, for the checking-mode callback.
type Mismatch struct {
	Node     Node
	Expected Hash
	Got      Hash
	NullHash bool
}

// CheckHashes traverses root and, for every non-self-hashing node,
// recomputes its hash and compares it to the stored value, reporting
// mismatches via cb. Null-hash nodes are always reported as mismatches.
// Internal nodes with any child whose hash is unset are skipped, since
// they are dependent on child hashing completing first.
func CheckHashes(root Node, cb func(Mismatch)) {
	if root == nil {
		return
	}
	for _, n := range postOrder(root, nil) {
		if n.IsSelfHashing() {
			continue
		}
		stored, ok := n.Hash()
		if !ok {
			cb(Mismatch{Node: n, NullHash: true})
			continue
		}
		var recomputed Hash
		if in, isInternal := n.(*InternalNode); isInternal {
			hashes, allHashed := in.childHashes()
			if !allHashed {
				continue
			}
			recomputed = hashInternal(n.ClassID(), n.Version(), hashes)
		} else {
			recomputed = hashLeaf(n.ClassID(), n.Version(), n.Payload())
		}
		if recomputed != stored {
			cb(Mismatch{Node: n, Expected: recomputed, Got: stored})
		}
	}
}

// CollectMismatches is a convenience wrapper around CheckHashes that
// collects mismatches into a slice instead of invoking a callback.
func CollectMismatches(root Node) []Mismatch {
	var out []Mismatch
	CheckHashes(root, func(m Mismatch) { out = append(out, m) })
	return out
}
