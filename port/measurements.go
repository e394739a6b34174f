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
	"errors"
	"time"

	ptp "github.com/meshtime/ptpsync/protocol"
)

var errNotEnoughData = errors.New("not enough data")

// ErrUnmatchedResponse means a response arrived with no pending request or
// sync to pair with. Such packets are dropped with no state change.
var ErrUnmatchedResponse = errors.New("unmatched response")

// how many delay request intervals an incomplete exchange survives
const pendingMaxIntervals = 3

// mData is a single measured raw data of master to slave communication.
// All four timestamps and both corrections have to be present before the
// exchange contributes to offset and delay.
type mData struct {
	seq      uint16
	t1       ptp.Timestamp  // departure time of Sync from the master
	t2       ptp.Timestamp  // arrival time of Sync on this port
	t3       ptp.Timestamp  // departure time of DelayReq from this port
	t4       ptp.Timestamp  // arrival time of DelayReq on the master
	c1       ptp.Correction // correctionField of Sync/FollowUp
	c2       ptp.Correction // correctionField of DelayResp
	haveT1   bool
	haveT2   bool
	haveT3   bool
	haveT4   bool
	lastSeen time.Time
}

func (d *mData) syncComplete() bool {
	return d.haveT1 && d.haveT2
}

func (d *mData) delayComplete() bool {
	return d.haveT3 && d.haveT4
}

// pData is a single Pdelay_Req/Resp/Resp_Follow_Up exchange
type pData struct {
	seq      uint16
	t1       ptp.Timestamp // departure of PdelayReq from this port
	t2       ptp.Timestamp // arrival of PdelayReq on the peer
	t3       ptp.Timestamp // departure of PdelayResp from the peer
	t4       ptp.Timestamp // arrival of PdelayResp on this port
	haveResp bool
	lastSeen time.Time
}

// MeasurementResult is a single measured datapoint in fixed point
type MeasurementResult struct {
	Offset        ptp.Correction
	MeanPathDelay ptp.Correction
	Timestamp     time.Time
}

// measurements tracks sync/delay exchanges keyed by sequence number.
// It's owned by the port's event loop and needs no locking.
type measurements struct {
	syncData   map[uint16]*mData
	pdelayData map[uint16]*pData

	meanPathDelay ptp.Correction
	haveDelay     bool
}

func newMeasurements() *measurements {
	return &measurements{
		syncData:   map[uint16]*mData{},
		pdelayData: map[uint16]*pData{},
	}
}

// addSync stores arrival timestamp and correction of a SYNC packet
func (m *measurements) addSync(seq uint16, t2 ptp.Timestamp, c1 ptp.Correction, now time.Time) {
	v, found := m.syncData[seq]
	if !found {
		v = &mData{seq: seq}
		m.syncData[seq] = v
	}
	v.t2 = t2
	v.c1 = c1
	v.haveT2 = true
	v.lastSeen = now
}

// addOneStepSync completes a one-step SYNC where origin timestamp is on the wire
func (m *measurements) addOneStepSync(seq uint16, t1, t2 ptp.Timestamp, c1 ptp.Correction, now time.Time) {
	m.addSync(seq, t2, c1, now)
	v := m.syncData[seq]
	v.t1 = t1
	v.haveT1 = true
}

// addFollowUp pairs a FOLLOW_UP with its SYNC. A follow-up with no sync
// observed first is an unmatched response.
func (m *measurements) addFollowUp(seq uint16, t1 ptp.Timestamp, now time.Time) error {
	v, found := m.syncData[seq]
	if !found || !v.haveT2 {
		return ErrUnmatchedResponse
	}
	v.t1 = t1
	v.haveT1 = true
	v.lastSeen = now
	return nil
}

// addDelayReq stores departure timestamp of our DELAY_REQ
func (m *measurements) addDelayReq(seq uint16, t3 ptp.Timestamp, now time.Time) {
	v, found := m.syncData[seq]
	if !found {
		v = &mData{seq: seq}
		m.syncData[seq] = v
	}
	v.t3 = t3
	v.haveT3 = true
	v.lastSeen = now
}

// addDelayResp pairs a DELAY_RESP with its pending DELAY_REQ by sequence number
func (m *measurements) addDelayResp(seq uint16, t4 ptp.Timestamp, c2 ptp.Correction, now time.Time) error {
	v, found := m.syncData[seq]
	if !found || !v.haveT3 {
		return ErrUnmatchedResponse
	}
	v.t4 = t4
	v.c2 = c2
	v.haveT4 = true
	v.lastSeen = now
	return nil
}

// addPDelayReq stores departure timestamp of our PDELAY_REQ
func (m *measurements) addPDelayReq(seq uint16, t1 ptp.Timestamp, now time.Time) {
	m.pdelayData[seq] = &pData{seq: seq, t1: t1, lastSeen: now}
}

// addPDelayResp pairs a PDELAY_RESP with its pending request
func (m *measurements) addPDelayResp(seq uint16, t2, t4 ptp.Timestamp, now time.Time) error {
	v, found := m.pdelayData[seq]
	if !found {
		return ErrUnmatchedResponse
	}
	v.t2 = t2
	v.t4 = t4
	v.haveResp = true
	v.lastSeen = now
	return nil
}

// addPDelayRespFollowUp completes the exchange and updates the link delay.
// linkDelay = ((t4 − t1) − (t3 − t2)) / 2
func (m *measurements) addPDelayRespFollowUp(seq uint16, t3 ptp.Timestamp, now time.Time) (ptp.Correction, error) {
	v, found := m.pdelayData[seq]
	if !found || !v.haveResp {
		return 0, ErrUnmatchedResponse
	}
	v.t3 = t3
	delete(m.pdelayData, seq)
	turnaround := ptp.SubTimestamps(v.t4, v.t1)
	peerResidence := ptp.SubTimestamps(t3, v.t2)
	delay := turnaround.Sub(peerResidence).Half()
	m.meanPathDelay = delay
	m.haveDelay = true
	return delay, nil
}

// latest computes offset and mean path delay from the freshest complete data.
// meanPathDelay = ((t2 − t1 − c1) + (t4 − t3 − c2)) / 2
// offsetFromMaster = (t2 − t1 − c1) − meanPathDelay
// A sync exchange with no fresh delay pair reuses the previously measured
// path delay, so a cycle with an expired DelayReq skips the delay update only.
func (m *measurements) latest() (*MeasurementResult, error) {
	var lastSync *mData
	var lastDelay *mData
	for _, v := range m.syncData {
		if v.syncComplete() && (lastSync == nil || v.t2.Time().After(lastSync.t2.Time())) {
			lastSync = v
		}
		if v.delayComplete() && (lastDelay == nil || v.t4.Time().After(lastDelay.t4.Time())) {
			lastDelay = v
		}
	}
	if lastSync == nil {
		return nil, errNotEnoughData
	}
	masterToSlave := ptp.SubTimestamps(lastSync.t2, lastSync.t1).Sub(lastSync.c1)
	if lastDelay != nil {
		slaveToMaster := ptp.SubTimestamps(lastDelay.t4, lastDelay.t3).Sub(lastDelay.c2)
		m.meanPathDelay = masterToSlave.Add(slaveToMaster).Half()
		m.haveDelay = true
	}
	if !m.haveDelay {
		return nil, errNotEnoughData
	}
	return &MeasurementResult{
		Offset:        masterToSlave.Sub(m.meanPathDelay),
		MeanPathDelay: m.meanPathDelay,
		Timestamp:     lastSync.t2.Time(),
	}, nil
}

// cleanup expires complete exchanges and unmatched requests older than
// pendingMaxIntervals worth of the delay request interval
func (m *measurements) cleanup(now time.Time, interval time.Duration) {
	maxAge := time.Duration(pendingMaxIntervals) * interval
	for seq, v := range m.syncData {
		if v.syncComplete() && v.delayComplete() {
			delete(m.syncData, seq)
			continue
		}
		if now.Sub(v.lastSeen) > maxAge {
			delete(m.syncData, seq)
		}
	}
	for seq, v := range m.pdelayData {
		if now.Sub(v.lastSeen) > maxAge {
			delete(m.pdelayData, seq)
		}
	}
}

// reset drops all in-progress pairing state
func (m *measurements) reset() {
	m.syncData = map[uint16]*mData{}
	m.pdelayData = map[uint16]*pData{}
	m.meanPathDelay = 0
	m.haveDelay = false
}
