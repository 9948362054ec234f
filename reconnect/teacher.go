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
	"fmt"
	"time"

	"github.com/google/merkle-reconnect/merkle"
	"github.com/google/merkle-reconnect/transport"
)

// MaxAckDelay bounds how long the sender waits for a QueryResponse
// before giving up and sending the full lesson unconditionally (§4.5).
const MaxAckDelay = 2 * time.Second

// subtreeJob is one queued unit of work: a subtree root to stream under
// a particular view.
type subtreeJob struct {
	root *shadowEntry
	view View
}

// Teacher streams lessons for root to a learner over out, answering
// QueryResponses read from in (§4.5).
type Teacher struct {
	root      merkle.Node
	view      View
	out       *transport.OutputStream
	in        *transport.InputStream
	breakConn func()
	ackDelay  time.Duration

	// ViewFor selects the View to use for a custom-view subtree rooted
	// at viewClassID. It defaults to reusing the surrounding view, which
	// is correct as long as no custom-view subtrees appear on the wire
	// (the common case).
	ViewFor func(viewClassID uint64) View
}

// NewTeacher returns a Teacher for root, streaming over out/in. breakConn
// closes the underlying transport, unblocking any task stuck in I/O.
func NewTeacher(root merkle.Node, view View, out *transport.OutputStream, in *transport.InputStream, breakConn func()) *Teacher {
	return &Teacher{root: root, view: view, out: out, in: in, breakConn: breakConn, ackDelay: MaxAckDelay}
}

// Run executes the full teacher protocol: a queue of subtree jobs,
// seeded with the root and its default view, drained one at a time
// (serial across subtrees, parallel within a subtree via a sender and
// receiver task pair) (§4.5). Any failure is returned as a
// *ReconnectFailed.
func (t *Teacher) Run() error {
	queue := []subtreeJob{{root: newSubtreeRootEntry(t.root, 0), view: t.view}}

	for len(queue) > 0 {
		job := queue[0]
		queue = queue[1:]

		if err := job.view.WaitUntilReady(); err != nil {
			job.view.Close()
			return &ReconnectFailed{FirstCause: fmt.Errorf("reconnect: teacher view not ready: %w", err)}
		}

		nested, err := t.runSubtree(job)
		job.view.Close()
		if err != nil {
			return &ReconnectFailed{FirstCause: err}
		}
		queue = append(queue, nested...)
	}
	return nil
}

// runSubtree spawns the sender/receiver pair for one subtree job and
// returns any nested custom-view jobs the sender discovered.
func (t *Teacher) runSubtree(job subtreeJob) ([]subtreeJob, error) {
	wg := transport.NewWorkGroup(t.breakConn)
	var nested []subtreeJob

	wg.Go(func() error {
		_, err := t.send(nil, job.root, job.view, &nested)
		return err
	})
	wg.Go(func() error {
		return t.receive(job.root, job.view)
	})

	if err := wg.Wait(); err != nil {
		return nil, fmt.Errorf("reconnect: subtree streaming failed: %w", err)
	}
	return nested, nil
}

// send walks entry's subtree depth-first, left-to-right, sending a
// lesson for every node. Internal nodes also carry their children's
// hashes so the learner can answer in one round (§4.5 step 3). parent
// is the enclosing node entry was offered from, or nil for a subtree
// job's own root.
func (t *Teacher) send(parent merkle.Node, entry *shadowEntry, view View, nested *[]subtreeJob) (int, error) {
	if entry.isCancelled() {
		return 0, t.out.Send(0, MerkleProtocolVersion, EncodeLesson(Lesson{Tag: TagUpToDateLesson}))
	}

	node := entry.node
	classID := view.ClassID(node)

	if viewClassID, isCustom := t.customViewClass(parent, node, view); isCustom {
		if err := t.out.Send(0, MerkleProtocolVersion, EncodeLesson(Lesson{
			Tag:               TagCustomViewRootLesson,
			CustomViewClassID: viewClassID,
		})); err != nil {
			return 0, err
		}
		nestedView := view
		if t.ViewFor != nil {
			nestedView = t.ViewFor(viewClassID)
		}
		*nested = append(*nested, subtreeJob{root: newSubtreeRootEntry(node, entry.position), view: nestedView})
		return 1, nil
	}

	if entry.awaitable {
		entry.awaitResponse(t.ackDelay)
	}
	if entry.isCancelled() {
		return 0, t.out.Send(0, MerkleProtocolVersion, EncodeLesson(Lesson{Tag: TagUpToDateLesson}))
	}

	if view.Kind(node) == merkle.KindInternal {
		count := view.ChildCount(node)
		hashes := make([]merkle.Hash, count)
		for i := 0; i < count; i++ {
			h, _ := view.ChildHash(node, i)
			hashes[i] = h
		}
		if err := t.out.Send(0, MerkleProtocolVersion, EncodeLesson(Lesson{
			Tag: TagNodeLessonInternal, ClassID: classID, Version: node.Version(),
			ChildCount: count, ChildHashes: hashes,
		})); err != nil {
			return 0, err
		}
		sent := 1
		for i := 0; i < count; i++ {
			child, err := view.GetChild(node, i)
			if err != nil {
				return sent, err
			}
			childEntry := newShadowChildEntry(child, i)
			entry.addChild(childEntry)
			childSent, err := t.send(node, childEntry, view, nested)
			if err != nil {
				return sent, err
			}
			sent += childSent
		}
		return sent, nil
	}

	payload, err := view.Serialize(node)
	if err != nil {
		return 0, err
	}
	if err := t.out.Send(0, MerkleProtocolVersion, EncodeLesson(Lesson{
		Tag: TagNodeLessonLeaf, ClassID: classID, Version: node.Version(), Payload: payload,
	})); err != nil {
		return 0, err
	}
	return 1, nil
}

// customViewClass reports whether node, offered as a child of parent,
// roots a subtree governed by a view-class-id different from the
// surrounding tree (§4.5). parent is nil only for a subtree job's own
// root, which can never be a custom-view root relative to itself.
func (t *Teacher) customViewClass(parent, node merkle.Node, view View) (uint64, bool) {
	if parent == nil {
		return 0, false
	}
	return view.CustomViewClassID(parent, node)
}

// receive reads QueryResponses for entry's subtree and records them on
// the shadow tree. Because responses arrive in the same depth-first
// order the sender offered children (§5: "QueryResponses are produced
// by the learner in the exact order of the teacher's queries"), a single
// recursive walk mirroring send's order consumes them correctly.
func (t *Teacher) receive(entry *shadowEntry, view View) error {
	if view.Kind(entry.node) != merkle.KindInternal {
		return nil
	}
	count := view.ChildCount(entry.node)
	for i := 0; i < count; i++ {
		slot := t.in.AnticipateMessage(func(f transport.Frame) (interface{}, error) {
			return DecodeQueryResponse(f.Payload)
		})
		v, err := t.in.ReadAnticipated(slot)
		if err != nil {
			return err
		}
		qr := v.(QueryResponse)

		entry.mu.Lock()
		children := entry.children
		entry.mu.Unlock()
		// The matching shadow child may not have been appended yet if
		// receive outruns send; wait briefly for it to appear.
		for len(children) <= i {
			time.Sleep(time.Millisecond)
			entry.mu.Lock()
			children = entry.children
			entry.mu.Unlock()
		}
		children[i].markResponse(qr.AlreadyHave)
		if err := t.receive(children[i], view); err != nil {
			return err
		}
	}
	return nil
}
