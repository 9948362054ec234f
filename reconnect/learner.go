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

	"github.com/google/merkle-reconnect/merkle"
	"github.com/google/merkle-reconnect/transport"
)

// DefaultMaxNodesToDeserialize bounds how many nodes a single reconnect
// session will construct, guarding against an adversarial peer inflating
// the learner's in-flight work (§6, §8 scenario E).
const DefaultMaxNodesToDeserialize = 1 << 20

// Learner assembles a new tree by merging lessons read from in with the
// retained previous tree, splicing in only the subtrees the teacher
// actually sent (§4.6).
type Learner struct {
	view         View
	out          *transport.OutputStream
	in           *transport.InputStream
	previousRoot merkle.Node
	maxNodes     int
	breakConn    func()

	// ViewFor selects the View to use for a custom-view subtree rooted
	// at classID. It defaults to always returning the learner's own
	// view, which is correct as long as no custom-view subtrees appear
	// on the wire (the common case).
	ViewFor func(classID uint64) View

	deserialized int
	toInit       []merkle.Node // internal nodes marked for initialization, collected bottom-up
}

// NewLearner returns a Learner that merges the stream read from in/out
// with previousRoot (nil if the learner starts from nothing), using
// view to interpret and construct nodes.
func NewLearner(previousRoot merkle.Node, view View, out *transport.OutputStream, in *transport.InputStream, breakConn func()) *Learner {
	return &Learner{
		view: view, out: out, in: in, previousRoot: previousRoot,
		maxNodes: DefaultMaxNodesToDeserialize, breakConn: breakConn,
	}
}

// SetMaxNodesToDeserialize overrides DefaultMaxNodesToDeserialize.
func (l *Learner) SetMaxNodesToDeserialize(max int) { l.maxNodes = max }

// Run executes the full learner protocol and returns the newly-assembled
// root. On any error, the caller must treat l.previousRoot as still
// authoritative: Run never mutates it (§7 user-visible behavior).
func (l *Learner) Run() (merkle.Node, error) {
	root, err := l.expect(nil, 0, l.previousRoot)
	if err != nil {
		if l.breakConn != nil {
			l.breakConn()
		}
		return nil, &ReconnectFailed{FirstCause: err}
	}

	for _, n := range l.toInit {
		if init, ok := n.(merkle.Initializer); ok {
			if err := init.Initialize(); err != nil {
				return nil, &ReconnectFailed{FirstCause: err}
			}
		}
	}

	if _, err := merkle.HashSync(root); err != nil {
		return nil, &ReconnectFailed{FirstCause: fmt.Errorf("post-assembly rehash: %w", err)}
	}
	return root, nil
}

// expect reads the next lesson in wire order (matching the teacher's
// depth-first send order exactly) and assembles the node it describes,
// recursing into children before returning (so that bottom-up
// initialization order falls out of normal call-stack unwinding).
// parent/position identify where the assembled node should be spliced;
// original is the learner's previously-retained node at this position,
// if any.
func (l *Learner) expect(parent merkle.Node, position int, original merkle.Node) (merkle.Node, error) {
	l.deserialized++
	if l.deserialized > l.maxNodes {
		return nil, &NodeLimitExceeded{Max: l.maxNodes, Observed: l.deserialized}
	}

	slot := l.in.AnticipateMessage(func(f transport.Frame) (interface{}, error) {
		return DecodeLesson(f.Payload)
	})
	v, err := l.in.ReadAnticipated(slot)
	if err != nil {
		return nil, err
	}
	lesson := v.(Lesson)

	switch lesson.Tag {
	case TagUpToDateLesson:
		return l.splice(parent, position, original)

	case TagCustomViewRootLesson:
		var basis merkle.Node
		if original != nil && l.view.ClassID(original) == lesson.CustomViewClassID {
			basis = original
		}
		// The custom-view subtree is processed as its own nested
		// expectation, still against the same stream (serial across
		// subtrees, §4.5), under whatever view owns that class-id.
		nestedView := l.view
		if l.ViewFor != nil {
			nestedView = l.ViewFor(lesson.CustomViewClassID)
		}
		outerView := l.view
		l.view = nestedView
		node, err := l.expect(nil, 0, basis)
		l.view = outerView
		if err != nil {
			return nil, err
		}
		return l.splice(parent, position, node)

	case TagNodeLessonLeaf:
		node, err := l.view.Deserialize(lesson.ClassID, lesson.Version, false, 0, lesson.Payload)
		if err != nil {
			return nil, err
		}
		return l.spliceFresh(parent, position, node)

	case TagNodeLessonInternal:
		// Prefer the original child's identity only at the very root of a
		// non-root-of-state subtree; the outer walk already did that via
		// the CustomViewRootLesson branch, so here we always build fresh.
		node, err := l.view.Deserialize(lesson.ClassID, lesson.Version, true, lesson.ChildCount, nil)
		if err != nil {
			return nil, err
		}
		node.MarkForInitialization()

		for i := 0; i < lesson.ChildCount; i++ {
			var origChild merkle.Node
			if original != nil && l.view.Kind(original) == merkle.KindInternal && i < l.view.ChildCount(original) {
				origChild, _ = l.view.GetChild(original, i)
			}
			matches := false
			if origChild != nil {
				if oh, ok := origChild.Hash(); ok {
					matches = oh == lesson.ChildHashes[i]
				}
			}
			if err := l.out.Send(0, MerkleProtocolVersion, EncodeQueryResponse(QueryResponse{AlreadyHave: matches})); err != nil {
				return nil, err
			}

			// expect splices the assembled child into node[i] itself
			// (via spliceFresh/splice), since node is passed as parent.
			if _, err := l.expect(node, i, origChild); err != nil {
				return nil, err
			}
		}

		l.toInit = append(l.toInit, node)
		return l.spliceFresh(parent, position, node)

	default:
		return nil, fmt.Errorf("reconnect: unexpected lesson tag %d", lesson.Tag)
	}
}

// spliceFresh publishes a freshly constructed node at parent/position.
func (l *Learner) spliceFresh(parent merkle.Node, position int, node merkle.Node) (merkle.Node, error) {
	if parent == nil {
		return node, nil
	}
	if err := l.view.SetChild(parent, position, node); err != nil {
		return nil, err
	}
	return node, nil
}

// splice reuses original (already-hashed) at parent/position, for an
// UpToDateLesson or a custom-view root the learner already had.
func (l *Learner) splice(parent merkle.Node, position int, original merkle.Node) (merkle.Node, error) {
	if parent == nil {
		return original, nil
	}
	if original == nil {
		// The teacher claims we're up to date on a node we never had;
		// nothing to splice, leave the slot nil.
		return nil, nil
	}
	if err := l.view.SetChild(parent, position, original); err != nil {
		return nil, err
	}
	return original, nil
}
