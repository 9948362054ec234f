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
	"encoding/binary"
	"fmt"

	"github.com/google/merkle-reconnect/merkle"
	"github.com/google/merkle-reconnect/transport"
)

// LessonTag is the wire tag preceding a lesson's payload (§6).
type LessonTag uint8

const (
	TagNodeLessonInternal LessonTag = 0
	TagNodeLessonLeaf     LessonTag = 1
	TagUpToDateLesson     LessonTag = 2
	TagCustomViewRootLesson LessonTag = 3
)

// MerkleProtocolVersion is the Merkle-tree serialization protocol
// version. It travels in the version field of every lesson and
// query-response frame; no separate version message is sent before the
// root lesson.
const MerkleProtocolVersion uint32 = 1

// Lesson is the tagged union the teacher streams for every node it owns.
// Exactly one of the typed fields is meaningful, selected by Tag.
type Lesson struct {
	Tag LessonTag

	// Populated for TagNodeLessonInternal / TagNodeLessonLeaf.
	ClassID     uint64
	Version     uint32
	ChildCount  int      // internal only
	ChildHashes []merkle.Hash // internal only, parallel to child position
	Payload     []byte   // leaf only

	// Populated for TagCustomViewRootLesson.
	CustomViewClassID uint64
}

// EncodeLesson serializes l into a frame payload.
func EncodeLesson(l Lesson) []byte {
	buf := []byte{byte(l.Tag)}
	switch l.Tag {
	case TagNodeLessonInternal:
		var head [16]byte
		binary.BigEndian.PutUint64(head[0:8], l.ClassID)
		binary.BigEndian.PutUint32(head[8:12], l.Version)
		binary.BigEndian.PutUint32(head[12:16], uint32(l.ChildCount))
		buf = append(buf, head[:]...)
		for _, h := range l.ChildHashes {
			buf = append(buf, h[:]...)
		}
	case TagNodeLessonLeaf:
		var head [12]byte
		binary.BigEndian.PutUint64(head[0:8], l.ClassID)
		binary.BigEndian.PutUint32(head[8:12], l.Version)
		buf = append(buf, head[:]...)
		buf = transport.PutBytes(buf, l.Payload)
	case TagUpToDateLesson:
		// no payload
	case TagCustomViewRootLesson:
		var head [8]byte
		binary.BigEndian.PutUint64(head[:], l.CustomViewClassID)
		buf = append(buf, head[:]...)
	}
	return buf
}

// DecodeLesson parses a frame payload produced by EncodeLesson.
func DecodeLesson(payload []byte) (Lesson, error) {
	if len(payload) < 1 {
		return Lesson{}, fmt.Errorf("reconnect: empty lesson payload")
	}
	tag := LessonTag(payload[0])
	rest := payload[1:]

	switch tag {
	case TagNodeLessonInternal:
		if len(rest) < 16 {
			return Lesson{}, fmt.Errorf("reconnect: truncated internal node lesson")
		}
		classID := binary.BigEndian.Uint64(rest[0:8])
		version := binary.BigEndian.Uint32(rest[8:12])
		childCount := int(binary.BigEndian.Uint32(rest[12:16]))
		rest = rest[16:]
		if len(rest) != childCount*merkle.HashSize {
			return Lesson{}, fmt.Errorf("reconnect: internal lesson child-hash length mismatch: got %d bytes for %d children", len(rest), childCount)
		}
		hashes := make([]merkle.Hash, childCount)
		for i := range hashes {
			copy(hashes[i][:], rest[i*merkle.HashSize:(i+1)*merkle.HashSize])
		}
		return Lesson{Tag: tag, ClassID: classID, Version: version, ChildCount: childCount, ChildHashes: hashes}, nil

	case TagNodeLessonLeaf:
		if len(rest) < 12 {
			return Lesson{}, fmt.Errorf("reconnect: truncated leaf node lesson")
		}
		classID := binary.BigEndian.Uint64(rest[0:8])
		version := binary.BigEndian.Uint32(rest[8:12])
		payload, _, err := transport.GetBytes(rest[12:])
		if err != nil {
			return Lesson{}, fmt.Errorf("reconnect: leaf lesson payload: %w", err)
		}
		return Lesson{Tag: tag, ClassID: classID, Version: version, Payload: payload}, nil

	case TagUpToDateLesson:
		return Lesson{Tag: tag}, nil

	case TagCustomViewRootLesson:
		if len(rest) < 8 {
			return Lesson{}, fmt.Errorf("reconnect: truncated custom-view-root lesson")
		}
		return Lesson{Tag: tag, CustomViewClassID: binary.BigEndian.Uint64(rest[0:8])}, nil

	default:
		return Lesson{}, fmt.Errorf("reconnect: unknown lesson tag %d", tag)
	}
}

// QueryResponse is sent by the learner for each child hash a NodeLesson
// offered, reporting whether the learner already has that child
// unchanged.
type QueryResponse struct {
	AlreadyHave bool
}

// EncodeQueryResponse serializes r into a frame payload.
func EncodeQueryResponse(r QueryResponse) []byte {
	if r.AlreadyHave {
		return []byte{1}
	}
	return []byte{0}
}

// DecodeQueryResponse parses a frame payload produced by
// EncodeQueryResponse.
func DecodeQueryResponse(payload []byte) (QueryResponse, error) {
	if len(payload) != 1 {
		return QueryResponse{}, fmt.Errorf("reconnect: malformed query response")
	}
	return QueryResponse{AlreadyHave: payload[0] != 0}, nil
}

// ExpectedLesson describes what the learner expects the next lesson to
// refer to and where to splice it (§4.6). Learner does not keep a queue
// of these: Learner.expect carries the same fields as arguments while it
// recurses in wire order.
type ExpectedLesson struct {
	Parent         merkle.Node // nil for the root expectation
	Position       int
	Original       merkle.Node // nil if the learner had no prior child here
	AlreadyPresent bool
}
