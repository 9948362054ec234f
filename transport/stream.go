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

package transport

import (
	"io"
	"sync"
)

// Decoder turns a decoded Frame into a caller-defined message type. It is
// supplied once per anticipated slot, letting the input stream stay
// generic over message shapes.
type Decoder func(Frame) (interface{}, error)

// anticipation is one registered slot awaiting a specific message.
type anticipation struct {
	decode Decoder
	result chan anticipationResult
}

type anticipationResult struct {
	value interface{}
	err   error
}

// OutputStream serializes and frames outgoing messages, writing them to
// an underlying io.Writer. Writes are serialized with a mutex so that
// FIFO per-message ordering is preserved even when multiple goroutines
// enqueue messages concurrently; the call returns once the frame has
// been handed to the OS, not once the peer has acknowledged it.
type OutputStream struct {
	mu sync.Mutex
	w  io.Writer
}

// NewOutputStream returns an OutputStream writing frames to w.
func NewOutputStream(w io.Writer) *OutputStream {
	return &OutputStream{w: w}
}

// Send frames and writes a single message. It is safe for concurrent
// use; callers are serialized in call order.
func (s *OutputStream) Send(classID uint64, version uint32, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := WriteFrame(s.w, Frame{ClassID: classID, Version: version, Payload: payload}); err != nil {
		return &TransportFailure{Cause: err}
	}
	return nil
}

// InputStream reads framed messages from an underlying io.Reader and
// dispatches them to whichever anticipation slot was registered first,
// in strict FIFO order. A single background goroutine pumps frames off
// the wire; any frame that arrives while no slot is anticipating it is a
// protocol violation.
type InputStream struct {
	r io.Reader

	mu      sync.Mutex
	pending []*anticipation
	closed  bool
	closeCh chan struct{}

	pumpOnce sync.Once
}

// NewInputStream returns an InputStream reading frames from r.
func NewInputStream(r io.Reader) *InputStream {
	return &InputStream{r: r, closeCh: make(chan struct{})}
}

// AnticipateMessage registers a slot for the next incoming message,
// decoded via decode once it arrives. It must be called before the
// corresponding frame can be read; calling ReadAnticipated without a
// prior matching AnticipateMessage blocks forever (by design: it is a
// programming error in the caller's protocol sequencing, not a runtime
// fault).
func (s *InputStream) AnticipateMessage(decode Decoder) *anticipation {
	a := &anticipation{decode: decode, result: make(chan anticipationResult, 1)}
	s.mu.Lock()
	s.pending = append(s.pending, a)
	closed := s.closed
	s.mu.Unlock()
	s.ensurePump()
	if closed {
		a.result <- anticipationResult{err: ErrClosed}
	}
	return a
}

// ReadAnticipated blocks until slot's message has arrived and returns
// its decoded value.
func (s *InputStream) ReadAnticipated(slot *anticipation) (interface{}, error) {
	res := <-slot.result
	return res.value, res.err
}

// ensurePump lazily starts the single background read loop.
func (s *InputStream) ensurePump() {
	s.pumpOnce.Do(func() {
		go s.pump()
	})
}

func (s *InputStream) pump() {
	for {
		f, err := ReadFrame(s.r)
		if err != nil {
			s.fail(&TransportFailure{Cause: err})
			return
		}

		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			s.fail(ErrProtocolViolation)
			return
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		v, err := next.decode(f)
		next.result <- anticipationResult{value: v, err: err}
		if err != nil {
			s.fail(err)
			return
		}
	}
}

// fail delivers err to every still-pending slot and marks the stream
// closed, so that current and future ReadAnticipated/AnticipateMessage
// calls unblock instead of hanging when the transport breaks.
func (s *InputStream) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = nil
	close(s.closeCh)
	s.mu.Unlock()

	for _, a := range pending {
		a.result <- anticipationResult{err: err}
	}
}

// Close unblocks any blocked ReadAnticipated calls with ErrClosed. It is
// idempotent.
func (s *InputStream) Close() {
	s.fail(ErrClosed)
}

// Closed reports whether the stream has failed or been closed.
func (s *InputStream) Closed() <-chan struct{} {
	return s.closeCh
}
