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

// Package spanner implements nodestore.NodeStorage over Cloud Spanner,
// grounded directly on trillian's storage/cloudspanner tree storage:
// parallel per-key reads fanned out over goroutines and a channel pair,
// and a ReadOnlyStaleness knob for replica-local reads.
package spanner

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"github.com/golang/glog"
	"google.golang.org/grpc/codes"

	"github.com/google/merkle-reconnect/nodestore"
)

const (
	nodesTable  = "MerkleNodes"
	colTreeID   = "TreeID"
	colRouteKey = "RouteKey"
	colClassID  = "ClassID"
	colVersion  = "Version"
	colChildren = "ChildCount"
	colHash     = "Hash"
	colPayload  = "Payload"
)

// Options configures read behavior, mirroring trillian's
// TreeStorageOptions.
type Options struct {
	// ReadOnlyStaleness controls how far in the past a read-only
	// snapshot transaction reads, letting Spanner serve reads from local
	// replicas. Zero means strong reads.
	ReadOnlyStaleness time.Duration
}

// Storage is a nodestore.NodeStorage backed by a Cloud Spanner database,
// scoped to one treeID.
type Storage struct {
	client *spanner.Client
	treeID int64
	opts   Options
}

// Open wraps an already-configured *spanner.Client. Callers own the
// client's lifecycle beyond Close, which only releases this Storage's
// reference semantics (consistent with how the client is typically
// shared across several tree IDs).
func Open(client *spanner.Client, treeID int64, opts Options) *Storage {
	return &Storage{client: client, treeID: treeID, opts: opts}
}

func (s *Storage) readTx() *spanner.ReadOnlyTransaction {
	if s.opts.ReadOnlyStaleness > 0 {
		return s.client.Single().WithTimestampBound(spanner.MaxStaleness(s.opts.ReadOnlyStaleness))
	}
	return s.client.Single()
}

// GetNodes implements nodestore.NodeStorage. Reads are fanned out one
// goroutine per key, as trillian's treeTX.GetMerkleNodes does for its
// per-subtree reads, since Spanner point reads don't batch across
// non-contiguous keys any better than issuing them concurrently.
func (s *Storage) GetNodes(ctx context.Context, routeKeys [][]byte) ([]nodestore.Record, error) {
	if len(routeKeys) == 0 {
		return nil, nil
	}
	type result struct {
		rec nodestore.Record
		ok  bool
	}
	recs := make(chan result, len(routeKeys))
	errc := make(chan error, len(routeKeys))

	tx := s.readTx()
	defer tx.Close()

	for _, k := range routeKeys {
		k := k
		go func() {
			row, err := tx.ReadRow(ctx, nodesTable, spanner.Key{s.treeID, k},
				[]string{colRouteKey, colClassID, colVersion, colChildren, colHash, colPayload})
			if spanner.ErrCode(err) == codes.NotFound {
				recs <- result{}
				return
			}
			if err != nil {
				errc <- err
				return
			}
			var rec nodestore.Record
			var hash []byte
			var classID, version, childCount int64
			if err := row.Columns(&rec.RouteKey, &classID, &version, &childCount, &hash, &rec.Payload); err != nil {
				errc <- err
				return
			}
			rec.ClassID = uint64(classID)
			rec.Version = uint32(version)
			rec.ChildCount = int(childCount)
			copy(rec.Hash[:], hash)
			recs <- result{rec: rec, ok: true}
		}()
	}

	out := make([]nodestore.Record, 0, len(routeKeys))
	for range routeKeys {
		select {
		case err := <-errc:
			return nil, fmt.Errorf("nodestore/spanner: read: %w", err)
		case r := <-recs:
			if r.ok {
				out = append(out, r.rec)
			}
		}
	}
	return out, nil
}

// SetNodes implements nodestore.NodeStorage, buffering one InsertOrUpdate
// mutation per record and applying them in a single read-write
// transaction, as trillian's treeTX.storeSubtrees does for subtree rows.
func (s *Storage) SetNodes(ctx context.Context, records []nodestore.Record) error {
	if len(records) == 0 {
		return nil
	}
	muts := make([]*spanner.Mutation, 0, len(records))
	for _, rec := range records {
		muts = append(muts, spanner.InsertOrUpdate(nodesTable,
			[]string{colTreeID, colRouteKey, colClassID, colVersion, colChildren, colHash, colPayload},
			[]interface{}{s.treeID, rec.RouteKey, int64(rec.ClassID), int64(rec.Version), int64(rec.ChildCount), rec.Hash[:], rec.Payload}))
	}
	if _, err := s.client.Apply(ctx, muts); err != nil {
		return fmt.Errorf("nodestore/spanner: apply: %w", err)
	}
	glog.V(2).Infof("nodestore/spanner: wrote %d nodes for tree %d", len(records), s.treeID)
	return nil
}

// Close implements nodestore.NodeStorage. The underlying *spanner.Client
// is owned by the caller of Open and is not closed here.
func (s *Storage) Close() error { return nil }
