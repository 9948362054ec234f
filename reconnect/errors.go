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

import "fmt"

// NodeLimitExceeded reports that the teacher sent more nodes than the
// configured guard against adversarial inflation of the learner's
// expected-lesson queue (§6, §8 scenario E).
type NodeLimitExceeded struct {
	Max      int
	Observed int
}

func (e *NodeLimitExceeded) Error() string {
	return fmt.Sprintf("node limit exceeded: observed %d nodes, max %d", e.Observed, e.Max)
}

// MerkleSerializationError wraps an unsupported serialization strategy
// or corrupt payload encountered while assembling a received node.
type MerkleSerializationError struct {
	Reason string
	Node   interface{}
}

func (e *MerkleSerializationError) Error() string {
	return fmt.Sprintf("merkle serialization error: %s", e.Reason)
}

// ReconnectFailed is the single top-level error surfaced to the caller
// when any part of a reconnect session fails (§7): the previous tree is
// left intact and the gossip subsystem is free to retry with another
// peer.
type ReconnectFailed struct {
	FirstCause error
}

func (e *ReconnectFailed) Error() string {
	return fmt.Sprintf("reconnect failed: %v", e.FirstCause)
}

func (e *ReconnectFailed) Unwrap() error { return e.FirstCause }
