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

package validator

import (
	"fmt"
	"sync"
)

// Hash48 is the 48-byte digest the signed state is validated against.
type Hash48 [48]byte

// Signature pairs a node-id with the signature it produced over a
// state's root hash.
type Signature struct {
	NodeID uint64
	Sig    []byte
}

// SignedState is whatever the gossip/intake collaborator supplies for
// validation: a root hash and the per-node signatures collected over it.
type SignedState struct {
	RootHash   Hash48
	Signatures []Signature
}

// Verifier cryptographically checks one signature against a hash and
// public key. Implementations may run verification in parallel; Verify
// dispatches work and returns a future-like handle.
type Verifier interface {
	Verify(hash Hash48, sig []byte, publicKey []byte) Future
}

// Future is the result of a single in-flight signature verification.
type Future interface {
	// Wait blocks until the verification completes and returns whether
	// the signature was valid.
	Wait() (bool, error)
}

type syncFuture struct {
	ok  bool
	err error
}

func (f syncFuture) Wait() (bool, error) { return f.ok, f.err }

// InsufficientStake reports that a signed state failed the quorum check.
type InsufficientStake struct {
	ValidStake int64
	TotalStake int64
}

func (e *InsufficientStake) Error() string {
	return fmt.Sprintf("insufficient stake: valid=%d total=%d (need 3v > total)", e.ValidStake, e.TotalStake)
}

// SignatureVerificationFailed is collected as a diagnostic for a single
// signature; it never aborts validation on its own.
type SignatureVerificationFailed struct {
	NodeID uint64
	Reason error
}

func (e *SignatureVerificationFailed) Error() string {
	return fmt.Sprintf("signature verification failed for node %d: %v", e.NodeID, e.Reason)
}

// Result is returned by Validate: whether quorum was reached, plus every
// per-signature diagnostic observed along the way.
type Result struct {
	ValidStake int64
	TotalStake int64
	Diagnostics []*SignatureVerificationFailed
}

// Validate checks signedState against ab using verifier, requiring
// 3*validStake > totalStake (P5). Signatures from node-ids absent from
// ab are ignored, not diagnosed (§4.7 step 1); signatures that fail
// cryptographic verification are recorded in Diagnostics but do not by
// themselves fail validation, unless they prevent quorum from being
// reached.
func Validate(state SignedState, ab *AddressBook, verifier Verifier) (*Result, error) {
	type pending struct {
		entry  Entry
		future Future
	}
	var inFlight []pending

	for _, sig := range state.Signatures {
		entry, ok := ab.Lookup(sig.NodeID)
		if !ok {
			continue
		}
		inFlight = append(inFlight, pending{
			entry:  entry,
			future: verifier.Verify(state.RootHash, sig.Sig, entry.PublicKey),
		})
	}

	res := &Result{TotalStake: ab.TotalStake()}
	var mu sync.Mutex
	for _, p := range inFlight {
		ok, err := p.future.Wait()
		if err != nil {
			mu.Lock()
			res.Diagnostics = append(res.Diagnostics, &SignatureVerificationFailed{NodeID: p.entry.NodeID, Reason: err})
			mu.Unlock()
			continue
		}
		if !ok {
			mu.Lock()
			res.Diagnostics = append(res.Diagnostics, &SignatureVerificationFailed{NodeID: p.entry.NodeID, Reason: fmt.Errorf("signature did not verify")})
			mu.Unlock()
			continue
		}
		if p.entry.Stake > 0 {
			res.ValidStake += p.entry.Stake
		}
	}

	if 3*res.ValidStake <= res.TotalStake {
		return res, &InsufficientStake{ValidStake: res.ValidStake, TotalStake: res.TotalStake}
	}
	return res, nil
}

// SyncVerifier adapts a plain verification function into a Verifier
// whose Future resolves immediately, for callers that have no need for
// real concurrency (e.g. tests, or a single-core deployment).
type SyncVerifier struct {
	VerifyFunc func(hash Hash48, sig []byte, publicKey []byte) (bool, error)
}

func (v SyncVerifier) Verify(hash Hash48, sig []byte, publicKey []byte) Future {
	ok, err := v.VerifyFunc(hash, sig, publicKey)
	return syncFuture{ok: ok, err: err}
}

// PoolVerifier dispatches each Verify call to its own goroutine,
// modeling a verifier that "may execute checks in parallel" (§4.7).
type PoolVerifier struct {
	VerifyFunc func(hash Hash48, sig []byte, publicKey []byte) (bool, error)
}

type chanFuture struct {
	ch chan syncFuture
}

func (f chanFuture) Wait() (bool, error) {
	r := <-f.ch
	return r.ok, r.err
}

func (v PoolVerifier) Verify(hash Hash48, sig []byte, publicKey []byte) Future {
	ch := make(chan syncFuture, 1)
	go func() {
		ok, err := v.VerifyFunc(hash, sig, publicKey)
		ch <- syncFuture{ok: ok, err: err}
	}()
	return chanFuture{ch: ch}
}
