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

package etcdbook

import (
	"testing"

	"github.com/google/merkle-reconnect/validator"
)

func buildBook(t *testing.T) *validator.AddressBook {
	t.Helper()
	ab, err := validator.NewBuilder().
		Add(1, []byte("key-one"), 100).
		Add(2, []byte("key-two"), 200).
		Add(3, nil, 50).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return ab
}

func TestRoundTripEncodeDecode(t *testing.T) {
	ab := buildBook(t)
	payload := encode(ab)

	got, err := decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Size() != ab.Size() || got.TotalStake() != ab.TotalStake() {
		t.Fatalf("decode = size %d stake %d, want size %d stake %d", got.Size(), got.TotalStake(), ab.Size(), ab.TotalStake())
	}
	entry, ok := got.Lookup(2)
	if !ok || string(entry.PublicKey) != "key-two" || entry.Stake != 200 {
		t.Errorf("Lookup(2) = %+v, %v", entry, ok)
	}
}

func TestDecodeTruncatedHeaderFails(t *testing.T) {
	if _, err := decode([]byte{1, 2, 3}); err == nil {
		t.Error("decode with a truncated header should fail")
	}
}

// The last entry (node 3) has an empty key, so dropping the final byte
// cuts into that entry's fixed-size fields.
func TestDecodeTruncatedEntryFails(t *testing.T) {
	payload := encode(buildBook(t))
	if _, err := decode(payload[:len(payload)-1]); err == nil {
		t.Error("decode with a truncated trailing entry should fail")
	}
}

func TestRoundKeyOrdersByRound(t *testing.T) {
	if roundKey(1) >= roundKey(2) {
		t.Errorf("roundKey(1) = %q should sort before roundKey(2) = %q", roundKey(1), roundKey(2))
	}
}
