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

// Package transport implements the asynchronous framed duplex streams
// and the supervised task group that a reconnect session runs its
// sender/receiver tasks under (§4.8, §6).
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameBytes bounds a single frame's payload length, guarding against
// a corrupt or adversarial peer inflating a length prefix.
const MaxFrameBytes = 64 << 20

// ConnectMagic is the single byte exchanged after the peer-identification
// handshake to begin a reconnect session (§6).
const ConnectMagic byte = 0xC7

// Frame is one wire message: a class-id, a format version, and an
// opaque, already-serialized payload.
type Frame struct {
	ClassID uint64
	Version uint32
	Payload []byte
}

// WriteFrame writes f to w using the wire framing in §6: a 32-bit
// big-endian total length, a 64-bit class-id, a 32-bit version, then the
// payload.
func WriteFrame(w io.Writer, f Frame) error {
	body := make([]byte, 12+len(f.Payload))
	binary.BigEndian.PutUint64(body[0:8], f.ClassID)
	binary.BigEndian.PutUint32(body[8:12], f.Version)
	copy(body[12:], f.Payload)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("transport: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("transport: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads and decodes one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n < 12 || n > MaxFrameBytes {
		return Frame{}, fmt.Errorf("transport: frame length %d out of bounds", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("transport: read frame body: %w", err)
	}
	return Frame{
		ClassID: binary.BigEndian.Uint64(body[0:8]),
		Version: binary.BigEndian.Uint32(body[8:12]),
		Payload: body[12:],
	}, nil
}

// PutBytes appends a 32-bit big-endian length-prefixed byte string to
// dst, per §6's string encoding.
func PutBytes(dst []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, b...)
}

// GetBytes reads a length-prefixed byte string from the front of src,
// returning it and the remainder.
func GetBytes(src []byte) (b []byte, rest []byte, err error) {
	if len(src) < 4 {
		return nil, nil, fmt.Errorf("transport: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(src[0:4])
	src = src[4:]
	if uint32(len(src)) < n {
		return nil, nil, fmt.Errorf("transport: truncated byte string, want %d have %d", n, len(src))
	}
	return src[:n], src[n:], nil
}
