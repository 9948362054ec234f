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

package reconnect

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/merkle-reconnect/merkle"
	"github.com/google/merkle-reconnect/transport"
)

const (
	classLeaf     = uint64(100)
	classInternal = uint64(200)
	classCustom   = uint64(300)
	customViewID  = uint64(0xAB)
)

func testBounds(uint64, uint32) merkle.Bounds { return merkle.Bounds{Min: 0, Max: 16} }

// testRegistry builds a fresh constructable registry (not the shared
// DefaultRegistry) so each test gets its own append-only class-id table
// and tests never collide registering the same class-id twice.
func testRegistry() *merkle.Registry {
	r := merkle.NewRegistry()
	r.Register(classLeaf, func() merkle.Node { return merkle.NewLeaf(classLeaf, 0, nil) })
	r.Register(classInternal, func() merkle.Node {
		n, _ := merkle.NewInternal(classInternal, 0, merkle.Bounds{Min: 0, Max: 16}, 0)
		return n
	})
	return r
}

func newTestView() *DefaultView { return NewDefaultView(testBounds, testRegistry()) }

// newCustomView builds a view recognizing only classCustom, standing in
// for a different tree flavor a custom-view subtree might be governed
// by.
func newCustomView() *DefaultView {
	r := merkle.NewRegistry()
	r.Register(classCustom, func() merkle.Node { return merkle.NewLeaf(classCustom, 0, nil) })
	return NewDefaultView(testBounds, r)
}

func leaf(payload string) merkle.Node {
	return merkle.NewLeaf(classLeaf, 1, []byte(payload))
}

func customLeaf(payload string) merkle.Node {
	return merkle.NewLeaf(classCustom, 1, []byte(payload))
}

func internalOf(t *testing.T, children ...merkle.Node) merkle.Node {
	t.Helper()
	n, err := merkle.NewInternal(classInternal, 1, merkle.Bounds{Min: 0, Max: 16}, len(children))
	if err != nil {
		t.Fatalf("NewInternal: %v", err)
	}
	for i, c := range children {
		if err := n.SetChild(i, c); err != nil {
			t.Fatalf("SetChild(%d): %v", i, err)
		}
	}
	return n
}

func mustHash(t *testing.T, n merkle.Node) merkle.Hash {
	t.Helper()
	h, err := merkle.HashSync(n)
	if err != nil {
		t.Fatalf("HashSync: %v", err)
	}
	return h
}

// harness wires a teacher and learner together over two net.Pipe
// connections (one per direction) and runs both to completion.
type harness struct {
	teacher *Teacher
	learner *Learner
}

func newHarness(teacherRoot, previousRoot merkle.Node) *harness {
	tlClient, tlServer := net.Pipe() // teacher -> learner
	ltClient, ltServer := net.Pipe() // learner -> teacher

	teacherOut := transport.NewOutputStream(tlClient)
	learnerIn := transport.NewInputStream(tlServer)
	learnerOut := transport.NewOutputStream(ltClient)
	teacherIn := transport.NewInputStream(ltServer)

	breakTeacher := func() { tlClient.Close(); ltServer.Close() }
	breakLearner := func() { tlServer.Close(); ltClient.Close() }

	return &harness{
		teacher: NewTeacher(teacherRoot, newTestView(), teacherOut, teacherIn, breakTeacher),
		learner: NewLearner(previousRoot, newTestView(), learnerOut, learnerIn, breakLearner),
	}
}

func (h *harness) run(t *testing.T) (merkle.Node, error, error) {
	t.Helper()
	teacherDone := make(chan error, 1)
	go func() { teacherDone <- h.teacher.Run() }()

	root, learnerErr := h.learner.Run()

	var teacherErr error
	select {
	case teacherErr = <-teacherDone:
	case <-time.After(5 * time.Second):
		t.Fatal("teacher.Run did not return")
	}
	return root, teacherErr, learnerErr
}

// Scenario A: identical trees. The learner already has every node the
// teacher would send, so the whole subtree collapses to a single
// NodeLesson for the root plus UpToDateLessons for its children.
func TestIdenticalTreesSpliceOriginalNodes(t *testing.T) {
	teacherRoot := internalOf(t, leaf("a"), leaf("b"))
	previousRoot := internalOf(t, leaf("a"), leaf("b"))

	wantHash := mustHash(t, teacherRoot)
	mustHash(t, previousRoot)

	h := newHarness(teacherRoot, previousRoot)
	root, teacherErr, learnerErr := h.run(t)
	if teacherErr != nil {
		t.Fatalf("teacher.Run: %v", teacherErr)
	}
	if learnerErr != nil {
		t.Fatalf("learner.Run: %v", learnerErr)
	}

	gotHash, err := merkle.HashSync(root)
	if err != nil {
		t.Fatalf("HashSync(root): %v", err)
	}
	if gotHash != wantHash {
		t.Errorf("assembled root hash = %x, want %x", gotHash, wantHash)
	}

	// The children should be the learner's own previously-retained leaf
	// nodes, not freshly built ones: confirm by identity.
	origChild0, _ := previousRoot.GetChild(0)
	gotChild0, _ := root.GetChild(0)
	if gotChild0 != origChild0 {
		t.Errorf("child 0 was not spliced from the previous tree")
	}
}

// Scenario B: one changed leaf. Only the differing leaf should be
// retransmitted; the unchanged sibling is spliced from the previous tree.
func TestOneChangedLeafRetransmitsOnlyThatLeaf(t *testing.T) {
	teacherRoot := internalOf(t, leaf("unchanged"), leaf("new-value"))
	previousRoot := internalOf(t, leaf("unchanged"), leaf("old-value"))

	wantHash := mustHash(t, teacherRoot)
	mustHash(t, previousRoot)

	h := newHarness(teacherRoot, previousRoot)
	root, teacherErr, learnerErr := h.run(t)
	if teacherErr != nil {
		t.Fatalf("teacher.Run: %v", teacherErr)
	}
	if learnerErr != nil {
		t.Fatalf("learner.Run: %v", learnerErr)
	}

	gotHash, err := merkle.HashSync(root)
	if err != nil {
		t.Fatalf("HashSync(root): %v", err)
	}
	if gotHash != wantHash {
		t.Errorf("assembled root hash = %x, want %x", gotHash, wantHash)
	}

	origChild0, _ := previousRoot.GetChild(0)
	gotChild0, _ := root.GetChild(0)
	if gotChild0 != origChild0 {
		t.Errorf("unchanged child 0 should have been spliced, not rebuilt")
	}

	gotChild1, _ := root.GetChild(1)
	if gotChild1 == nil || string(gotChild1.Payload()) != "new-value" {
		t.Errorf("child 1 = %v, want a fresh leaf with payload new-value", gotChild1)
	}
}

// A peer starting from nothing must deserialize the entire tree from
// scratch.
func TestLearnerWithNoPreviousTreeBuildsEverything(t *testing.T) {
	teacherRoot := internalOf(t, leaf("a"), internalOf(t, leaf("b"), leaf("c")))
	wantHash := mustHash(t, teacherRoot)

	h := newHarness(teacherRoot, nil)
	root, teacherErr, learnerErr := h.run(t)
	if teacherErr != nil {
		t.Fatalf("teacher.Run: %v", teacherErr)
	}
	if learnerErr != nil {
		t.Fatalf("learner.Run: %v", learnerErr)
	}

	gotHash, err := merkle.HashSync(root)
	if err != nil {
		t.Fatalf("HashSync(root): %v", err)
	}
	if gotHash != wantHash {
		t.Errorf("assembled root hash = %x, want %x", gotHash, wantHash)
	}
}

// Scenario C: the root has 3 children; child 1 roots a custom-view
// subtree of a different class-id. The learner must observe a
// CustomViewRootLesson at position 1, assemble that child under the
// nested view, and still assemble children 0 and 2 under the outer view.
func TestCustomViewSubtreeUsesNestedView(t *testing.T) {
	outerView := newTestView()
	outerView.CustomViews = func(classID uint64) (uint64, bool) {
		if classID == classCustom {
			return customViewID, true
		}
		return 0, false
	}
	customView := newCustomView()
	viewFor := func(viewClassID uint64) View {
		if viewClassID == customViewID {
			return customView
		}
		return outerView
	}

	teacherRoot := internalOf(t, leaf("a"), customLeaf("special"), leaf("c"))
	wantHash := mustHash(t, teacherRoot)

	tlClient, tlServer := net.Pipe()
	ltClient, ltServer := net.Pipe()
	teacherOut := transport.NewOutputStream(tlClient)
	learnerIn := transport.NewInputStream(tlServer)
	learnerOut := transport.NewOutputStream(ltClient)
	teacherIn := transport.NewInputStream(ltServer)
	breakTeacher := func() { tlClient.Close(); ltServer.Close() }
	breakLearner := func() { tlServer.Close(); ltClient.Close() }

	teacher := NewTeacher(teacherRoot, outerView, teacherOut, teacherIn, breakTeacher)
	teacher.ViewFor = viewFor
	learner := NewLearner(nil, outerView, learnerOut, learnerIn, breakLearner)
	learner.ViewFor = viewFor

	teacherDone := make(chan error, 1)
	go func() { teacherDone <- teacher.Run() }()

	root, learnerErr := learner.Run()
	if learnerErr != nil {
		t.Fatalf("learner.Run: %v", learnerErr)
	}
	select {
	case teacherErr := <-teacherDone:
		if teacherErr != nil {
			t.Fatalf("teacher.Run: %v", teacherErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("teacher.Run did not return")
	}

	gotHash, err := merkle.HashSync(root)
	if err != nil {
		t.Fatalf("HashSync(root): %v", err)
	}
	if gotHash != wantHash {
		t.Errorf("assembled root hash = %x, want %x", gotHash, wantHash)
	}

	gotChild1, _ := root.GetChild(1)
	if gotChild1 == nil || gotChild1.ClassID() != classCustom || string(gotChild1.Payload()) != "special" {
		t.Errorf("child 1 = %v, want a custom-view leaf with payload special", gotChild1)
	}
}

// Scenario E: an adversarially large tree must be rejected via the
// node-count guard rather than exhausted.
func TestNodeLimitExceededStopsAssembly(t *testing.T) {
	var children []merkle.Node
	for i := 0; i < 20; i++ {
		children = append(children, leaf("x"))
	}
	teacherRoot := internalOf(t, children...)
	mustHash(t, teacherRoot)

	tlClient, tlServer := net.Pipe()
	ltClient, ltServer := net.Pipe()
	teacherOut := transport.NewOutputStream(tlClient)
	learnerIn := transport.NewInputStream(tlServer)
	learnerOut := transport.NewOutputStream(ltClient)
	teacherIn := transport.NewInputStream(ltServer)
	breakTeacher := func() { tlClient.Close(); ltServer.Close() }
	breakLearner := func() { tlServer.Close(); ltClient.Close() }

	teacher := NewTeacher(teacherRoot, newTestView(), teacherOut, teacherIn, breakTeacher)
	learner := NewLearner(nil, newTestView(), learnerOut, learnerIn, breakLearner)
	learner.SetMaxNodesToDeserialize(5)

	go teacher.Run()

	_, err := learner.Run()
	if err == nil {
		t.Fatal("expected learner.Run to fail with a node limit error")
	}
	var limitErr *NodeLimitExceeded
	var failed *ReconnectFailed
	if !errors.As(err, &failed) || !errors.As(err, &limitErr) {
		t.Errorf("learner.Run err = %v, want a ReconnectFailed wrapping NodeLimitExceeded", err)
	}
}

// Scenario F: a peer that stops responding mid-stream must surface a
// transport failure instead of hanging forever.
func TestPeerHangUpSurfacesTransportFailure(t *testing.T) {
	tlClient, tlServer := net.Pipe() // the vanished teacher's write side, and the learner's read side
	ltClient, ltServer := net.Pipe()
	learnerOut := transport.NewOutputStream(ltClient)
	learnerIn := transport.NewInputStream(tlServer)
	_ = ltServer

	var broken bool
	breakLearner := func() { broken = true; tlServer.Close(); ltClient.Close() }

	previousRoot := internalOf(t, leaf("a"))
	mustHash(t, previousRoot)

	learner := NewLearner(previousRoot, newTestView(), learnerOut, learnerIn, breakLearner)

	done := make(chan struct{})
	go func() {
		_, err := learner.Run()
		if err == nil {
			t.Error("expected learner.Run to fail after the teacher vanished")
		}
		close(done)
	}()

	// Simulate the teacher vanishing mid-stream: its write side closes
	// without ever sending a lesson, so the learner's blocked read fails.
	tlClient.Close()

	select {
	case <-done:
		if !broken {
			t.Error("break-connection action was not invoked")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("learner.Run did not return after the peer disappeared")
	}
}
