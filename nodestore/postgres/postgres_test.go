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

package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/google/merkle-reconnect/nodestore"
)

func testStorage(t *testing.T) *Storage {
	t.Helper()
	dsn := os.Getenv("NODESTORE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NODESTORE_POSTGRES_DSN not set; skipping PostgreSQL-backed nodestore test")
	}
	s, err := Open(context.Background(), dsn, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetThenGetRoundTrip(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	rec := nodestore.Record{
		RouteKey:   []byte{0, 0, 0, 1},
		ClassID:    42,
		Version:    1,
		ChildCount: 2,
		Payload:    []byte("hello"),
	}
	rec.Hash[0] = 0xAB

	if err := s.SetNodes(ctx, []nodestore.Record{rec}); err != nil {
		t.Fatalf("SetNodes: %v", err)
	}

	got, err := s.GetNodes(ctx, [][]byte{rec.RouteKey})
	if err != nil {
		t.Fatalf("GetNodes: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("GetNodes returned %d records, want 1", len(got))
	}
	if got[0].ClassID != rec.ClassID || got[0].Hash != rec.Hash || string(got[0].Payload) != string(rec.Payload) {
		t.Errorf("GetNodes = %+v, want %+v", got[0], rec)
	}
}

func TestGetNodesSkipsMissingKeys(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	got, err := s.GetNodes(ctx, [][]byte{{0xFF, 0xFF, 0xFF, 0xFF}})
	if err != nil {
		t.Fatalf("GetNodes: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("GetNodes for an absent key returned %d records, want 0", len(got))
	}
}

func TestSetNodesOverwritesExisting(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	key := []byte{0, 0, 0, 2}
	first := nodestore.Record{RouteKey: key, ClassID: 1, Version: 1, Payload: []byte("v1")}
	second := nodestore.Record{RouteKey: key, ClassID: 1, Version: 2, Payload: []byte("v2")}

	if err := s.SetNodes(ctx, []nodestore.Record{first}); err != nil {
		t.Fatalf("SetNodes(first): %v", err)
	}
	if err := s.SetNodes(ctx, []nodestore.Record{second}); err != nil {
		t.Fatalf("SetNodes(second): %v", err)
	}

	got, err := s.GetNodes(ctx, [][]byte{key})
	if err != nil {
		t.Fatalf("GetNodes: %v", err)
	}
	if len(got) != 1 || string(got[0].Payload) != "v2" {
		t.Errorf("GetNodes after overwrite = %+v, want payload v2", got)
	}
}
