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

import "fmt"

// TransportFailure wraps any I/O failure on a framed stream. It is always
// fatal for the owning session and triggers the break-connection action.
type TransportFailure struct {
	Cause error
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Cause)
}

func (e *TransportFailure) Unwrap() error { return e.Cause }

// ErrProtocolViolation is returned by InputStream when a message arrives
// that does not match the next anticipated slot.
var ErrProtocolViolation = fmt.Errorf("transport: message received outside anticipation order")

// ErrClosed is returned by stream operations after Close has been
// called, or after the peer's connection has been broken.
var ErrClosed = fmt.Errorf("transport: stream closed")
