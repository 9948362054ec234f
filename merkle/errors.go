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
	"errors"
	"fmt"
)

// ErrStateImmutable is returned by any mutator called on a node whose
// hash has already been set (I1).
var ErrStateImmutable = errors.New("merkle: node is immutable once hashed")

// ErrClassNotFoundInRegistry is returned when a class-id has no
// registered factory.
type ErrClassNotFoundInRegistry struct {
	ClassID uint64
}

func (e *ErrClassNotFoundInRegistry) Error() string {
	return fmt.Sprintf("merkle: class %d not found in registry", e.ClassID)
}

// ErrIllegalChildCount is returned when a deserialized internal node
// violates its version's child-count bounds (I5).
type ErrIllegalChildCount struct {
	ClassID          uint64
	Version          uint32
	Got, Min, Max    int
}

func (e *ErrIllegalChildCount) Error() string {
	return fmt.Sprintf("merkle: class %d version %d: got %d children, want [%d,%d]",
		e.ClassID, e.Version, e.Got, e.Min, e.Max)
}

// ErrIllegalChildHash is returned when hash recomputation fails a
// child-hash precondition (an internal node's child is unhashed).
var ErrIllegalChildHash = errors.New("merkle: child hash not available")

// ErrAlreadyRegistered is returned when a class-id is registered twice;
// registration in the constructable registry is append-only.
type ErrAlreadyRegistered struct {
	ClassID uint64
}

func (e *ErrAlreadyRegistered) Error() string {
	return fmt.Sprintf("merkle: class %d already registered", e.ClassID)
}

func errLeafHasNoChildren() error {
	return errors.New("merkle: node has no children")
}

func errChildOutOfRange(i, n int) error {
	return fmt.Errorf("merkle: child index %d out of range [0,%d)", i, n)
}
