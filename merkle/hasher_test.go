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
	"fmt"
	"testing"
)

// buildTestTree builds a balanced binary tree of the given depth whose
// leaves all carry the same payload, fresh (unhashed) on every call.
func buildTestTree(depth int) Node {
	if depth == 0 {
		return NewLeaf(1, 0, []byte(fmt.Sprintf("leaf")))
	}
	n, err := NewInternal(2, 0, Bounds{0, 2}, 2)
	if err != nil {
		panic(err)
	}
	if err := n.SetChild(0, buildTestTree(depth-1)); err != nil {
		panic(err)
	}
	if err := n.SetChild(1, buildTestTree(depth-1)); err != nil {
		panic(err)
	}
	return n
}

func TestHashDeterminismAcrossWorkerCounts(t *testing.T) {
	want, err := HashSync(buildTestTree(8))
	if err != nil {
		t.Fatalf("HashSync: %v", err)
	}
	for _, w := range []int{1, 2, 3, 4, 8, 16} {
		got, err := HashParallel(buildTestTree(8), w)
		if err != nil {
			t.Fatalf("HashParallel(%d): %v", w, err)
		}
		if got != want {
			t.Errorf("HashParallel(%d) = %x, want %x", w, got, want)
		}
	}
}

func TestHashDiffersOnDifferentPayload(t *testing.T) {
	a, err := HashSync(buildTestTree(3))
	if err != nil {
		t.Fatal(err)
	}
	tree := buildTestTree(3)
	lvl2, _ := tree.(*InternalNode).GetChild(0)
	lvl1, _ := lvl2.(*InternalNode).GetChild(0)
	lvl0, _ := lvl1.(*InternalNode).GetChild(0)
	lvl0.(*LeafNode).payload = []byte("different")
	b, err := HashSync(tree)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("expected different hashes for different payloads")
	}
}

func TestCheckHashesIdempotent(t *testing.T) {
	tree := buildTestTree(5)
	if _, err := HashSync(tree); err != nil {
		t.Fatalf("HashSync: %v", err)
	}
	if m := CollectMismatches(tree); len(m) != 0 {
		t.Fatalf("first check: unexpected mismatches: %+v", m)
	}
	if m := CollectMismatches(tree); len(m) != 0 {
		t.Fatalf("second check: unexpected mismatches: %+v", m)
	}
}

func TestCheckHashesReportsNullHash(t *testing.T) {
	leaf := NewLeaf(1, 0, []byte("x"))
	ms := CollectMismatches(leaf)
	if len(ms) != 1 || !ms[0].NullHash {
		t.Fatalf("CollectMismatches = %+v, want one NullHash mismatch", ms)
	}
}

func TestCheckHashesSkipsUnhashedChildren(t *testing.T) {
	n, err := NewInternal(2, 0, Bounds{0, 2}, 2)
	if err != nil {
		t.Fatal(err)
	}
	leaf := NewLeaf(1, 0, []byte("x"))
	if err := n.SetChild(0, leaf); err != nil {
		t.Fatal(err)
	}
	// Give the internal node a stored hash so that only its unhashed
	// child can be the reason it is skipped (a node with no stored hash
	// is always reported as a NullHash mismatch).
	if err := n.SetHash(Hash{1}); err != nil {
		t.Fatal(err)
	}
	// leaf is unhashed; internal node should be skipped, not flagged.
	ms := CollectMismatches(n)
	found := false
	for _, m := range ms {
		if m.Node == Node(n) {
			found = true
		}
	}
	if found {
		t.Errorf("internal node with unhashed child should be skipped, got %+v", ms)
	}
}

func TestSelfHashingSkippedByHasher(t *testing.T) {
	sh := NewSelfHashing(1, 0, []byte("x"), Hash{42})
	n, err := NewInternal(2, 0, Bounds{0, 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.SetChild(0, sh); err != nil {
		t.Fatal(err)
	}
	if _, err := HashSync(n); err != nil {
		t.Fatalf("HashSync: %v", err)
	}
	h, ok := sh.Hash()
	if !ok || h != (Hash{42}) {
		t.Errorf("self-hashing node's hash changed: %v, %v", h, ok)
	}
}
