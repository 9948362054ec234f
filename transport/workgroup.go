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

package transport

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// BreakConnection is invoked at most once by a WorkGroup, the first time
// any of its tasks fails, to unblock the other tasks sitting in I/O.
type BreakConnection func()

// WorkGroup supervises a set of cooperating tasks (typically a
// sender/receiver pair) that share a single break-connection action. If
// any task returns an error, the group invokes breakFn once and waits for
// the rest to terminate (§4.8). Only the first task error is kept; errors
// returned by other tasks are discarded.
type WorkGroup struct {
	g       *errgroup.Group
	breakFn BreakConnection
	once    sync.Once
}

// NewWorkGroup returns a WorkGroup that calls breakFn the first time any
// supervised task fails.
func NewWorkGroup(breakFn BreakConnection) *WorkGroup {
	return &WorkGroup{g: new(errgroup.Group), breakFn: breakFn}
}

// Go schedules task to run under supervision. A non-nil return triggers
// the break-connection action exactly once, regardless of how many tasks
// fail concurrently.
func (wg *WorkGroup) Go(task func() error) {
	wg.g.Go(func() error {
		err := task()
		if err != nil {
			wg.once.Do(func() {
				if wg.breakFn != nil {
					wg.breakFn()
				}
			})
		}
		return err
	})
}

// Wait blocks until every scheduled task has returned, then reports the
// first non-nil error observed (or nil if all tasks succeeded).
func (wg *WorkGroup) Wait() error {
	return wg.g.Wait()
}
