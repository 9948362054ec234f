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

// Package etcdbook watches a shared etcd keyspace for address book
// snapshots published by whichever node runs the round-advance, letting
// every other node validate a received state against the same book
// without an extra out-of-band distribution mechanism.
package etcdbook

import (
	"context"
	"encoding/binary"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/google/merkle-reconnect/validator"
)

// KeyPrefix is the etcd key prefix under which address book snapshots
// are published, one key per round: KeyPrefix + big-endian round number.
const KeyPrefix = "/merkle-reconnect/addressbook/"

// Watcher observes etcd for newly published address books.
type Watcher struct {
	client *clientv3.Client
}

// New returns a Watcher using client.
func New(client *clientv3.Client) *Watcher {
	return &Watcher{client: client}
}

func roundKey(round uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], round)
	return KeyPrefix + string(buf[:])
}

// encode serializes ab as repeated (node-id, stake, pubkey-length,
// pubkey) records in ascending node-id order.
func encode(ab *validator.AddressBook) []byte {
	var payload []byte
	ab.Ascend(func(e validator.Entry) bool {
		var head [20]byte
		binary.BigEndian.PutUint64(head[0:8], e.NodeID)
		binary.BigEndian.PutUint64(head[8:16], uint64(e.Stake))
		binary.BigEndian.PutUint32(head[16:20], uint32(len(e.PublicKey)))
		payload = append(payload, head[:]...)
		payload = append(payload, e.PublicKey...)
		return true
	})
	return payload
}

// Publish stores the serialized address book entries for round, encoded
// as repeated (node-id, stake, pubkey-length, pubkey) records.
func (w *Watcher) Publish(ctx context.Context, round uint64, ab *validator.AddressBook) error {
	if _, err := w.client.Put(ctx, roundKey(round), string(encode(ab))); err != nil {
		return fmt.Errorf("etcdbook: publish round %d: %w", round, err)
	}
	return nil
}

// Fetch retrieves and decodes the address book published for round.
func (w *Watcher) Fetch(ctx context.Context, round uint64) (*validator.AddressBook, error) {
	resp, err := w.client.Get(ctx, roundKey(round))
	if err != nil {
		return nil, fmt.Errorf("etcdbook: fetch round %d: %w", round, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcdbook: no address book published for round %d", round)
	}
	return decode(resp.Kvs[0].Value)
}

func decode(payload []byte) (*validator.AddressBook, error) {
	b := validator.NewBuilder()
	for len(payload) > 0 {
		if len(payload) < 20 {
			return nil, fmt.Errorf("etcdbook: truncated record header")
		}
		nodeID := binary.BigEndian.Uint64(payload[0:8])
		stake := int64(binary.BigEndian.Uint64(payload[8:16]))
		pkLen := binary.BigEndian.Uint32(payload[16:20])
		payload = payload[20:]
		if uint32(len(payload)) < pkLen {
			return nil, fmt.Errorf("etcdbook: truncated public key")
		}
		pk := append([]byte(nil), payload[:pkLen]...)
		payload = payload[pkLen:]
		b.Add(nodeID, pk, stake)
	}
	return b.Build()
}

// Watch streams subsequent address book publications to onBook, until
// ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context, onBook func(round uint64, ab *validator.AddressBook)) {
	rch := w.client.Watch(ctx, KeyPrefix, clientv3.WithPrefix())
	go func() {
		for resp := range rch {
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				key := ev.Kv.Key
				if len(key) < len(KeyPrefix)+8 {
					continue
				}
				round := binary.BigEndian.Uint64(key[len(KeyPrefix):])
				ab, err := decode(ev.Kv.Value)
				if err != nil {
					continue
				}
				onBook(round, ab)
			}
		}
	}()
}
