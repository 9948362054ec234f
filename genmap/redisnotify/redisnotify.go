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

// Package redisnotify fans a node's local generation-purge events out to
// its sibling processes over a redis pub/sub channel, so a purge
// triggered on one process (after a round completes and its state comes
// due for garbage collection) is mirrored everywhere the same
// generation-tagged data is cached.
package redisnotify

import (
	"encoding/binary"
	"fmt"

	"github.com/go-redis/redis"
	"github.com/golang/glog"
)

// DefaultChannel is the pub/sub channel used when none is specified.
const DefaultChannel = "merkle-reconnect:purge"

// Notifier publishes and observes purge-below-generation events over
// redis pub/sub.
type Notifier struct {
	client  *redis.Client
	channel string
}

// New returns a Notifier backed by client, publishing and subscribing on
// channel.
func New(client *redis.Client, channel string) *Notifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Notifier{client: client, channel: channel}
}

// encodeGeneration serializes belowGeneration as the 8-byte big-endian
// wire payload a purge-notification message carries.
func encodeGeneration(belowGeneration int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(belowGeneration))
	return buf
}

// decodeGeneration parses a purge-notification payload, reporting false
// if payload is not a valid 8-byte generation.
func decodeGeneration(payload []byte) (int64, bool) {
	if len(payload) != 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(payload)), true
}

// Publish announces that every generation below belowGeneration has been
// purged locally.
func (n *Notifier) Publish(belowGeneration int64) error {
	if err := n.client.Publish(n.channel, encodeGeneration(belowGeneration)).Err(); err != nil {
		return fmt.Errorf("redisnotify: publish: %w", err)
	}
	return nil
}

// Subscribe starts a background goroutine delivering every
// belowGeneration announced by other processes (including this one's own
// Publish calls) to onPurge, until stop is closed. Malformed payloads are
// logged and skipped rather than propagated, since a single bad message
// should never take down the purge-notification loop.
func (n *Notifier) Subscribe(stop <-chan struct{}, onPurge func(belowGeneration int64)) error {
	sub := n.client.Subscribe(n.channel)
	if _, err := sub.Receive(); err != nil {
		return fmt.Errorf("redisnotify: subscribe: %w", err)
	}

	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-stop:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				generation, ok := decodeGeneration([]byte(msg.Payload))
				if !ok {
					glog.Warningf("redisnotify: dropping malformed purge message of length %d", len(msg.Payload))
					continue
				}
				onPurge(generation)
			}
		}
	}()
	return nil
}
