/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package transport provides the capabilities a clock is constructed with:
// a timestamp source and a message transport. Implementations here cover
// real UDP networking and an in-memory bus for tests and simulation;
// the engine itself never opens sockets or reads the system clock directly.
package transport

import (
	"context"
	"time"
)

// Timestamper reads the local timestamp source. Implementations must be
// safe for concurrent use.
type Timestamper interface {
	Now() (time.Time, error)
}

// Handler is called for every received message with its receive timestamp.
// The byte slice is owned by the handler.
type Handler func(b []byte, rxTS time.Time)

// Transport carries encoded messages to and from the network. Send returns
// the transmit timestamp of the message. Listen blocks delivering inbound
// messages to the handler until the context is cancelled or the transport
// is closed.
type Transport interface {
	Send(b []byte) (time.Time, error)
	Listen(ctx context.Context, h Handler) error
	Close() error
}

// SystemTimestamper reads the OS clock
type SystemTimestamper struct{}

// Now returns the current system time
func (SystemTimestamper) Now() (time.Time, error) {
	return time.Now(), nil
}

// TimestamperFunc adapts a plain function to the Timestamper interface
type TimestamperFunc func() time.Time

// Now returns the function's value
func (f TimestamperFunc) Now() (time.Time, error) {
	return f(), nil
}
