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

package bmc

import (
	"time"

	ptp "github.com/meshtime/ptpsync/protocol"
)

// QualificationAnnounces is how many Announces a foreign master has to send
// within the qualification window before we consider it a candidate
// (FOREIGN_MASTER_THRESHOLD).
const QualificationAnnounces = 2

// ForeignMasterRecord holds the most recent dataset advertised by one remote
// port, together with its qualification bookkeeping.
type ForeignMasterRecord struct {
	Dataset   *Dataset
	Announces int
	LastSeen  time.Time
}

// Qualified reports whether the record has seen enough Announces and is not stale
func (r *ForeignMasterRecord) Qualified(now time.Time, timeout time.Duration) bool {
	return r.Announces >= QualificationAnnounces && now.Sub(r.LastSeen) <= timeout
}

// ForeignMasterSet tracks every distinct foreign master observed on one port.
// At most one record exists per sender port identity; a new Announce from a
// known sender overwrites its dataset. The set is owned by the port's event
// loop and is not safe for concurrent use.
type ForeignMasterSet struct {
	window  time.Duration // qualification window
	timeout time.Duration // announce receipt timeout
	records map[ptp.PortIdentity]*ForeignMasterRecord
}

// NewForeignMasterSet creates an empty set with the given qualification
// window and announce receipt timeout.
func NewForeignMasterSet(window, timeout time.Duration) *ForeignMasterSet {
	return &ForeignMasterSet{
		window:  window,
		timeout: timeout,
		records: map[ptp.PortIdentity]*ForeignMasterRecord{},
	}
}

// Observe records a received Announce. Announces separated by more than the
// qualification window restart the counter instead of extending it.
func (s *ForeignMasterSet) Observe(a *ptp.Announce, now time.Time) {
	sender := a.Header.SourcePortIdentity
	r, found := s.records[sender]
	if !found {
		s.records[sender] = &ForeignMasterRecord{
			Dataset:   DatasetFromAnnounce(a),
			Announces: 1,
			LastSeen:  now,
		}
		return
	}
	if now.Sub(r.LastSeen) > s.window {
		r.Announces = 1
	} else {
		r.Announces++
	}
	r.Dataset = DatasetFromAnnounce(a)
	r.LastSeen = now
}

// Prune discards records that have not been refreshed within the announce
// receipt timeout. Returns the number of records dropped.
func (s *ForeignMasterSet) Prune(now time.Time) int {
	dropped := 0
	for id, r := range s.records {
		if now.Sub(r.LastSeen) > s.timeout {
			delete(s.records, id)
			dropped++
		}
	}
	return dropped
}

// Best returns the best qualified foreign dataset, or nil if none qualifies.
// Stale records are pruned on the way.
func (s *ForeignMasterSet) Best(now time.Time) *Dataset {
	s.Prune(now)
	var best *Dataset
	for _, r := range s.records {
		if !r.Qualified(now, s.timeout) {
			continue
		}
		if best == nil || Better(r.Dataset, best) {
			best = r.Dataset
		}
	}
	return best
}

// Len returns the number of tracked records, qualified or not
func (s *ForeignMasterSet) Len() int {
	return len(s.records)
}

// Records returns a snapshot of all tracked records
func (s *ForeignMasterSet) Records() []*ForeignMasterRecord {
	out := make([]*ForeignMasterRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

// Reset drops all records, used on port re-initialization
func (s *ForeignMasterSet) Reset() {
	s.records = map[ptp.PortIdentity]*ForeignMasterRecord{}
}
