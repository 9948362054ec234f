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

package signedstate

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWriteReadRoundTripV5(t *testing.T) {
	var f File
	for i := range f.EntireHash {
		f.EntireHash[i] = byte(i)
	}
	for i := range f.MetaHash {
		f.MetaHash[i] = byte(i + 1)
	}
	f.EntireSignature = Signature{AlgorithmID: 1, Bytes: []byte("entire-sig")}
	f.MetaSignature = Signature{AlgorithmID: 2, Bytes: []byte("meta-sig")}

	var buf bytes.Buffer
	if err := Write(&buf, f); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.EntireHash != f.EntireHash || got.MetaHash != f.MetaHash {
		t.Errorf("hashes did not round-trip")
	}
	if got.EntireSignature.AlgorithmID != 1 || string(got.EntireSignature.Bytes) != "entire-sig" {
		t.Errorf("entire signature mismatch: %+v", got.EntireSignature)
	}
	if got.MetaSignature.AlgorithmID != 2 || string(got.MetaSignature.Bytes) != "meta-sig" {
		t.Errorf("meta signature mismatch: %+v", got.MetaSignature)
	}
	if got.Legacy {
		t.Errorf("Legacy should be false for a version-5 round trip")
	}
}

func TestReadLegacyFormat(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0x04)
	hash := make([]byte, HashSize)
	for i := range hash {
		hash[i] = byte(i)
	}
	buf.Write(hash)
	buf.WriteByte(0x03)
	sig := []byte("legacy-signature")
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(sig)))
	buf.Write(lenBuf[:])
	buf.Write(sig)

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read legacy: %v", err)
	}
	if !got.Legacy {
		t.Errorf("expected Legacy = true")
	}
	if !bytes.Equal(got.EntireHash[:], hash) {
		t.Errorf("legacy hash mismatch")
	}
	if string(got.EntireSignature.Bytes) != "legacy-signature" {
		t.Errorf("legacy signature mismatch: %q", got.EntireSignature.Bytes)
	}
	if got.MetaHash != got.EntireHash {
		t.Errorf("legacy MetaHash should mirror EntireHash")
	}
}

func TestWriteAlwaysEmitsCurrentVersion(t *testing.T) {
	legacy := File{Legacy: true}
	var buf bytes.Buffer
	if err := Write(&buf, legacy); err != nil {
		t.Fatalf("Write: %v", err)
	}
	version := binary.BigEndian.Uint32(buf.Bytes()[:4])
	if version != CurrentVersion {
		t.Errorf("Write emitted version %d, want %d", version, CurrentVersion)
	}
}
