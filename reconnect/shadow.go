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
	"sync"
	"time"

	"github.com/google/merkle-reconnect/merkle"
)

// shadowEntry wraps one node the teacher intends to send, tracking the
// learner's acknowledgement state so that a subtree the learner already
// has can be pruned without walking it (§4.5).
type shadowEntry struct {
	mu sync.Mutex

	node     merkle.Node
	position int

	responseReceived bool
	learnerHasIt      bool
	cancelled         bool
	ackCh             chan struct{}

	// awaitable is false for a subtree job's own root: nothing can query
	// it before it has been sent at least once, so the sender never
	// waits on its ackCh. It is true for every offered child, which the
	// parent's NodeLesson gives the learner a chance to query first.
	awaitable bool

	children []*shadowEntry
}

func newSubtreeRootEntry(node merkle.Node, position int) *shadowEntry {
	return &shadowEntry{node: node, position: position, ackCh: make(chan struct{})}
}

func newShadowChildEntry(node merkle.Node, position int) *shadowEntry {
	return &shadowEntry{node: node, position: position, ackCh: make(chan struct{}), awaitable: true}
}

// hasResponded reports whether a QueryResponse has already been
// recorded for this entry, without blocking.
func (e *shadowEntry) hasResponded() bool {
	select {
	case <-e.ackCh:
		return true
	default:
		return false
	}
}

// addChild records a shadow child as the sender offers it to the
// learner.
func (e *shadowEntry) addChild(child *shadowEntry) {
	e.mu.Lock()
	e.children = append(e.children, child)
	e.mu.Unlock()
}

// markResponse records the learner's QueryResponse for this entry. When
// the learner already has the node, the entire subtree rooted here is
// cancelled by a breadth-first walk of whatever shadow children have
// been recorded so far (more may still be added concurrently by the
// sender; cancellation is sticky and checked again at send time).
func (e *shadowEntry) markResponse(alreadyHave bool) {
	e.mu.Lock()
	if e.responseReceived {
		e.mu.Unlock()
		return
	}
	e.responseReceived = true
	e.learnerHasIt = alreadyHave
	e.mu.Unlock()
	close(e.ackCh)

	if alreadyHave {
		e.cancelSubtree()
	}
}

func (e *shadowEntry) cancelSubtree() {
	queue := []*shadowEntry{e}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		cur.mu.Lock()
		already := cur.cancelled
		cur.cancelled = true
		children := append([]*shadowEntry(nil), cur.children...)
		cur.mu.Unlock()

		if already {
			continue
		}
		queue = append(queue, children...)
	}
}

func (e *shadowEntry) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// awaitResponse blocks until a QueryResponse has arrived for this entry
// or maxDelay elapses, whichever comes first. It returns whether a
// response was observed within the deadline (the "unconditional send
// time", §4.5).
func (e *shadowEntry) awaitResponse(maxDelay time.Duration) (responded bool, alreadyHave bool) {
	select {
	case <-e.ackCh:
	case <-time.After(maxDelay):
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.responseReceived, e.learnerHasIt
}
