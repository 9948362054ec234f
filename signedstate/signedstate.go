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

// Package signedstate reads and writes the signed-state file format
// (§6), bit-exact for compatibility with files produced by the
// standalone signing tool. Version 5 is the current format; pre-v5
// "legacy" files are readable but are never produced by Write.
package signedstate

import (
	"encoding/binary"
	"fmt"
	"io"
)

// CurrentVersion is the version written by Write.
const CurrentVersion uint32 = 5

const (
	legacyTypeHash      byte = 0x04
	legacyTypeSignature byte = 0x03
)

// HashSize is the fixed digest length used throughout the signed-state
// format.
const HashSize = 48

// Signature is the algorithm-id ‖ length ‖ bytes encoding from §6.
type Signature struct {
	AlgorithmID byte
	Bytes       []byte
}

func writeSignature(w io.Writer, s Signature) error {
	if _, err := w.Write([]byte{s.AlgorithmID}); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s.Bytes)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(s.Bytes)
	return err
}

func readSignature(r io.Reader) (Signature, error) {
	var head [5]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Signature{}, fmt.Errorf("signedstate: read signature header: %w", err)
	}
	n := binary.BigEndian.Uint32(head[1:5])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Signature{}, fmt.Errorf("signedstate: read signature bytes: %w", err)
	}
	return Signature{AlgorithmID: head[0], Bytes: buf}, nil
}

// File is the in-memory representation of a version-5 signed-state
// file: the hash and signature over the entire state, and the hash and
// signature over its metadata alone.
type File struct {
	EntireHash      [HashSize]byte
	EntireSignature Signature
	MetaHash        [HashSize]byte
	MetaSignature   Signature

	// Legacy is set when the file was read in the pre-v5 format, which
	// carries only a single hash/signature pair. Write always emits the
	// current version-5 format regardless of how the File was read
	// (§9: bit-exact legacy output is an open question left to the
	// standalone signing tool, not this reader).
	Legacy bool
}

// Write serializes f as a version-5 signed-state file.
func Write(w io.Writer, f File) error {
	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], CurrentVersion)
	if _, err := w.Write(verBuf[:]); err != nil {
		return fmt.Errorf("signedstate: write version: %w", err)
	}
	if _, err := w.Write(f.EntireHash[:]); err != nil {
		return fmt.Errorf("signedstate: write entire hash: %w", err)
	}
	if err := writeSignature(w, f.EntireSignature); err != nil {
		return fmt.Errorf("signedstate: write entire signature: %w", err)
	}
	if _, err := w.Write(f.MetaHash[:]); err != nil {
		return fmt.Errorf("signedstate: write meta hash: %w", err)
	}
	if err := writeSignature(w, f.MetaSignature); err != nil {
		return fmt.Errorf("signedstate: write meta signature: %w", err)
	}
	return nil
}

// Read parses a signed-state file, recognizing both the current
// version-5 format and the pre-v5 legacy format (a bare type-tagged
// hash/signature pair with no separate metadata hash).
func Read(r io.Reader) (File, error) {
	var verBuf [4]byte
	if _, err := io.ReadFull(r, verBuf[:]); err != nil {
		return File{}, fmt.Errorf("signedstate: read version: %w", err)
	}
	version := binary.BigEndian.Uint32(verBuf[:])

	if version == CurrentVersion {
		return readV5(r)
	}
	return readLegacy(r, version)
}

func readV5(r io.Reader) (File, error) {
	var f File
	if _, err := io.ReadFull(r, f.EntireHash[:]); err != nil {
		return File{}, fmt.Errorf("signedstate: read entire hash: %w", err)
	}
	sig, err := readSignature(r)
	if err != nil {
		return File{}, err
	}
	f.EntireSignature = sig
	if _, err := io.ReadFull(r, f.MetaHash[:]); err != nil {
		return File{}, fmt.Errorf("signedstate: read meta hash: %w", err)
	}
	sig, err = readSignature(r)
	if err != nil {
		return File{}, err
	}
	f.MetaSignature = sig
	return f, nil
}

// readLegacy parses the pre-v5 concatenated format: the 4-byte "version"
// field that was just read is actually the first type-tag byte plus
// three bytes of the hash, so the type byte is re-derived from the
// version field's first (most significant) byte per the legacy layout (type 0x04, 48-byte
// hash, type 0x03, 4-byte sig length, signature bytes). Legacy files
// have no independent metadata hash; MetaHash mirrors EntireHash and
// MetaSignature mirrors EntireSignature so validator code can treat
// every File uniformly.
func readLegacy(r io.Reader, versionField uint32) (File, error) {
	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], versionField)
	if verBuf[0] != legacyTypeHash {
		return File{}, fmt.Errorf("signedstate: unrecognized file version/type tag %#x", verBuf[0])
	}

	var f File
	f.Legacy = true
	copy(f.EntireHash[:3], verBuf[1:4])
	if _, err := io.ReadFull(r, f.EntireHash[3:]); err != nil {
		return File{}, fmt.Errorf("signedstate: read legacy hash: %w", err)
	}

	var typeByte [1]byte
	if _, err := io.ReadFull(r, typeByte[:]); err != nil {
		return File{}, fmt.Errorf("signedstate: read legacy signature type: %w", err)
	}
	if typeByte[0] != legacyTypeSignature {
		return File{}, fmt.Errorf("signedstate: unexpected legacy signature type tag %#x", typeByte[0])
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return File{}, fmt.Errorf("signedstate: read legacy signature length: %w", err)
	}
	sigBytes := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, sigBytes); err != nil {
		return File{}, fmt.Errorf("signedstate: read legacy signature bytes: %w", err)
	}
	f.EntireSignature = Signature{AlgorithmID: 0, Bytes: sigBytes}
	f.MetaHash = f.EntireHash
	f.MetaSignature = f.EntireSignature
	return f, nil
}
