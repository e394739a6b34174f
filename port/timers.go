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

package port

import (
	"sort"
	"sync"
	"time"
)

// TimerHandle identifies one scheduled callback
type TimerHandle uint64

// Timers is the timer service capability the engine is given at construction.
// Schedule runs fn once after d; Cancel guarantees fn will not run afterwards
// (though it may already be queued as an event, which generation counters
// at the call site filter out).
type Timers interface {
	Schedule(d time.Duration, fn func()) TimerHandle
	Cancel(h TimerHandle)
}

// SystemTimers implements Timers on top of time.AfterFunc
type SystemTimers struct {
	mu     sync.Mutex
	next   TimerHandle
	active map[TimerHandle]*time.Timer
}

// NewSystemTimers creates a Timers implementation backed by the runtime clock
func NewSystemTimers() *SystemTimers {
	return &SystemTimers{active: map[TimerHandle]*time.Timer{}}
}

// Schedule runs fn once after d
func (t *SystemTimers) Schedule(d time.Duration, fn func()) TimerHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	h := t.next
	t.active[h] = time.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.active, h)
		t.mu.Unlock()
		fn()
	})
	return h
}

// Cancel stops the timer behind h, if it's still pending
func (t *SystemTimers) Cancel(h TimerHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm, ok := t.active[h]; ok {
		tm.Stop()
		delete(t.active, h)
	}
}

// virtualTimer is one pending callback of VirtualTimers
type virtualTimer struct {
	handle TimerHandle
	at     time.Time
	fn     func()
}

// VirtualTimers is a deterministic Timers implementation driven by Advance
// instead of the runtime clock. It doubles as a timestamp source, which makes
// multi-clock simulations and timeout tests fully reproducible.
type VirtualTimers struct {
	mu      sync.Mutex
	now     time.Time
	next    TimerHandle
	pending []*virtualTimer
}

// NewVirtualTimers creates a virtual timer service starting at the given instant
func NewVirtualTimers(start time.Time) *VirtualTimers {
	return &VirtualTimers{now: start}
}

// Schedule registers fn to run when the virtual clock passes now+d
func (v *VirtualTimers) Schedule(d time.Duration, fn func()) TimerHandle {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.next++
	v.pending = append(v.pending, &virtualTimer{handle: v.next, at: v.now.Add(d), fn: fn})
	return v.next
}

// Cancel drops the pending callback behind h
func (v *VirtualTimers) Cancel(h TimerHandle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, tm := range v.pending {
		if tm.handle == h {
			v.pending = append(v.pending[:i], v.pending[i+1:]...)
			return
		}
	}
}

// Now returns the current virtual time
func (v *VirtualTimers) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Advance moves the virtual clock forward by d, firing due callbacks in
// timestamp order. Callbacks run with the lock released and may schedule
// more timers, which are honored within the same Advance if they fall due.
func (v *VirtualTimers) Advance(d time.Duration) {
	v.mu.Lock()
	deadline := v.now.Add(d)
	for {
		var due *virtualTimer
		idx := -1
		for i, tm := range v.pending {
			if tm.at.After(deadline) {
				continue
			}
			if due == nil || tm.at.Before(due.at) || (tm.at.Equal(due.at) && tm.handle < due.handle) {
				due = tm
				idx = i
			}
		}
		if due == nil {
			break
		}
		v.pending = append(v.pending[:idx], v.pending[idx+1:]...)
		if due.at.After(v.now) {
			v.now = due.at
		}
		v.mu.Unlock()
		due.fn()
		v.mu.Lock()
	}
	v.now = deadline
	v.mu.Unlock()
}

// PendingCount returns how many callbacks are scheduled, for tests
func (v *VirtualTimers) PendingCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// PendingAt lists pending fire times in order, for tests
func (v *VirtualTimers) PendingAt() []time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]time.Time, 0, len(v.pending))
	for _, tm := range v.pending {
		out = append(out, tm.at)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
