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

// Package stats tracks engine counters and serves them as JSON over HTTP
// and through a prometheus collector.
package stats

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"

	ptp "github.com/meshtime/ptpsync/protocol"
)

// Counter names not derived from message types
const (
	MalformedRX       = "rx.malformed"
	UnmatchedRX       = "rx.unmatched"
	AnnounceTimeouts  = "timeout.announce_receipt"
	SyncTimeouts      = "timeout.sync_receipt"
	PortFaults        = "port.faults"
	Reselections      = "bmca.reselections"
	MeasurementsTotal = "measurements.total"
)

// Stats is a threadsafe set of named counters and gauges
type Stats struct {
	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]float64
}

// NewStats creates an empty counter set
func NewStats() *Stats {
	return &Stats{
		counters: map[string]int64{},
		gauges:   map[string]float64{},
	}
}

// Inc bumps a named counter
func (s *Stats) Inc(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name]++
}

// IncRX bumps the receive counter of a message type
func (s *Stats) IncRX(t ptp.MessageType) {
	s.Inc(fmt.Sprintf("rx.%s", t))
}

// IncTX bumps the transmit counter of a message type
func (s *Stats) IncTX(t ptp.MessageType) {
	s.Inc(fmt.Sprintf("tx.%s", t))
}

// IncTransition bumps the counter of entries into a port state
func (s *Stats) IncTransition(state ptp.PortState) {
	s.Inc(fmt.Sprintf("transitions.%s", state))
}

// SetGauge records a point-in-time value like the current offset
func (s *Stats) SetGauge(name string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges[name] = v
}

// Counters returns a copy of all counters
func (s *Stats) Counters() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// Gauges returns a copy of all gauges
func (s *Stats) Gauges() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.gauges))
	for k, v := range s.gauges {
		out[k] = v
	}
	return out
}

// Get returns one counter's value
func (s *Stats) Get(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[name]
}

// Report is what the HTTP endpoint serves
type Report struct {
	Counters map[string]int64   `json:"counters"`
	Gauges   map[string]float64 `json:"gauges"`
}

// ServeHTTP implements http.Handler returning all counters as JSON
func (s *Stats) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(Report{Counters: s.Counters(), Gauges: s.Gauges()}); err != nil {
		log.Errorf("failed to encode stats: %v", err)
	}
}
