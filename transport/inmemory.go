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

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Bus is an in-memory broadcast network. Every message sent by one endpoint
// is delivered synchronously to all others, stamped by the bus clock, which
// makes multi-node simulations fully deterministic when driven by a virtual
// timestamper.
type Bus struct {
	mu        sync.Mutex
	now       func() time.Time
	delay     time.Duration
	relay     func(b []byte) []byte
	endpoints []*Endpoint
	dropped   int
}

// NewBus creates a bus stamping messages with the given clock, time.Now
// when nil
func NewBus(now func() time.Time) *Bus {
	if now == nil {
		now = time.Now
	}
	return &Bus{now: now}
}

// SetPropagationDelay makes every delivery arrive that much after it was sent
func (b *Bus) SetPropagationDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = d
}

// SetRelay installs a hook every transiting message passes through, e.g. a
// chain of transparent bridges rewriting the correction field. Returning nil
// drops the message.
func (b *Bus) SetRelay(fn func(b []byte) []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relay = fn
}

// Dropped returns how many messages the relay discarded
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Endpoint attaches a new endpoint to the bus
func (b *Bus) Endpoint(name string) *Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := &Endpoint{bus: b, name: name, closed: make(chan struct{})}
	b.endpoints = append(b.endpoints, e)
	return e
}

func (b *Bus) broadcast(from *Endpoint, msg []byte) {
	b.mu.Lock()
	targets := make([]*Endpoint, 0, len(b.endpoints))
	for _, e := range b.endpoints {
		if e != from {
			targets = append(targets, e)
		}
	}
	relay := b.relay
	rxTS := b.now().Add(b.delay)
	b.mu.Unlock()

	for _, e := range targets {
		data := make([]byte, len(msg))
		copy(data, msg)
		if relay != nil {
			data = relay(data)
			if data == nil {
				b.mu.Lock()
				b.dropped++
				b.mu.Unlock()
				continue
			}
		}
		e.deliver(data, rxTS)
	}
}

// Endpoint is one attachment point of the bus, implementing Transport
type Endpoint struct {
	bus  *Bus
	name string

	mu      sync.Mutex
	handler Handler
	closed  chan struct{}
}

// Name returns the endpoint name
func (e *Endpoint) Name() string {
	return e.name
}

// Handle registers the receive handler without blocking
func (e *Endpoint) Handle(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// Send broadcasts the message to all other endpoints and returns its
// transmit timestamp
func (e *Endpoint) Send(b []byte) (time.Time, error) {
	select {
	case <-e.closed:
		return time.Time{}, fmt.Errorf("endpoint %q is closed", e.name)
	default:
	}
	txTS := e.bus.now()
	e.bus.broadcast(e, b)
	return txTS, nil
}

// Listen registers the handler and blocks until the context is cancelled or
// the endpoint is closed
func (e *Endpoint) Listen(ctx context.Context, h Handler) error {
	e.Handle(h)
	select {
	case <-ctx.Done():
		return nil
	case <-e.closed:
		return nil
	}
}

// Close detaches the endpoint
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.closed:
	default:
		close(e.closed)
	}
	return nil
}

func (e *Endpoint) deliver(b []byte, rxTS time.Time) {
	e.mu.Lock()
	h := e.handler
	closed := false
	select {
	case <-e.closed:
		closed = true
	default:
	}
	e.mu.Unlock()
	if h == nil || closed {
		return
	}
	h(b, rxTS)
}
