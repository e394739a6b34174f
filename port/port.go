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

// Package port implements the per-port PTP state machine: the states, the
// timers that drive them, and the offset/delay bookkeeping fed by message
// exchanges. All methods are meant to be called from a single event loop,
// the clock coordinator's; timers hand their expiry back into that loop
// through the OnTimer callback instead of mutating state concurrently.
package port

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/meshtime/ptpsync/bmc"
	ptp "github.com/meshtime/ptpsync/protocol"
	"github.com/meshtime/ptpsync/stats"
)

// TimerKind distinguishes the timers a port owns
type TimerKind uint8

// Port timers
const (
	TimerAnnounceReceipt TimerKind = iota
	TimerSyncReceipt
	TimerQualification
	TimerAnnounceTx
	TimerSyncTx
	TimerDelayReqTx
)

// TimerKindToString is a map from TimerKind to string
var TimerKindToString = map[TimerKind]string{
	TimerAnnounceReceipt: "ANNOUNCE_RECEIPT",
	TimerSyncReceipt:     "SYNC_RECEIPT",
	TimerQualification:   "QUALIFICATION",
	TimerAnnounceTx:      "ANNOUNCE_TX",
	TimerSyncTx:          "SYNC_TX",
	TimerDelayReqTx:      "DELAYREQ_TX",
}

func (k TimerKind) String() string {
	return TimerKindToString[k]
}

// Advertised is what a Master port puts into its Announce messages. For a
// grandmaster it's the local dataset; a Boundary Clock slaved to an upstream
// master advertises that master's credentials with stepsRemoved bumped.
type Advertised struct {
	Dataset    *bmc.Dataset
	TimeSource ptp.TimeSource
	UTCOffset  int16
}

// Deps are the capabilities a port is given at construction. None of them
// may block: Send hands the packet to the transport and returns the egress
// timestamp, Now reads the timestamp source, OnTimer delivers a timer expiry
// into the owning event loop.
type Deps struct {
	Timers     Timers
	Now        func() (time.Time, error)
	Send       func(p ptp.Packet) (time.Time, error)
	OnTimer    func(k TimerKind, gen uint64)
	OnState    func(old, new ptp.PortState)
	Advertised func() Advertised
	Stats      *stats.Stats
}

// Port is one PTP port: identity, state, timers, foreign master records and
// in-flight exchange bookkeeping
type Port struct {
	cfg      Config
	identity ptp.PortIdentity
	deps     Deps

	state           ptp.PortState
	announceExpired bool

	foreign *bmc.ForeignMasterSet
	meas    *measurements

	announceSeq uint16
	syncSeq     uint16
	delayReqSeq uint16
	pdelaySeq   uint16

	handles map[TimerKind]TimerHandle
	gens    map[TimerKind]uint64

	sendFailures int

	lastResult *MeasurementResult
	lastErr    error
}

// New creates a port in the Initializing state
func New(cfg Config, clockID ptp.ClockIdentity, deps Deps) (*Port, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, fmt.Errorf("invalid config for port %d: %w", cfg.PortNumber, err)
	}
	if deps.Timers == nil || deps.Now == nil || deps.Send == nil || deps.OnTimer == nil || deps.Advertised == nil {
		return nil, fmt.Errorf("port %d: missing capability", cfg.PortNumber)
	}
	if deps.Stats == nil {
		deps.Stats = stats.NewStats()
	}
	p := &Port{
		cfg:      cfg,
		identity: ptp.PortIdentity{ClockIdentity: clockID, PortNumber: cfg.PortNumber},
		deps:     deps,
		state:    ptp.PortStateInitializing,
		foreign:  bmc.NewForeignMasterSet(cfg.QualificationWindow(), cfg.AnnounceReceiptTimeout()),
		meas:     newMeasurements(),
		handles:  map[TimerKind]TimerHandle{},
		gens:     map[TimerKind]uint64{},
	}
	return p, nil
}

// Identity returns the port identity
func (p *Port) Identity() ptp.PortIdentity {
	return p.identity
}

// State returns the current port state
func (p *Port) State() ptp.PortState {
	return p.state
}

// Config returns the port configuration
func (p *Port) Config() Config {
	return p.cfg
}

// BestForeign returns the best qualified foreign dataset seen on this port.
// A timestamp source failure latches the port Faulty.
func (p *Port) BestForeign() *bmc.Dataset {
	now, err := p.deps.Now()
	if err != nil {
		p.Fault(err)
		return nil
	}
	return p.foreign.Best(now)
}

// ForeignRecords returns all tracked foreign master records
func (p *Port) ForeignRecords() []*bmc.ForeignMasterRecord {
	return p.foreign.Records()
}

// LastMeasurement returns the latest completed offset/delay pair, nil until
// the first full sync/delay cycle
func (p *Port) LastMeasurement() *MeasurementResult {
	return p.lastResult
}

// timers

func (p *Port) arm(k TimerKind, d time.Duration) {
	p.disarm(k)
	gen := p.gens[k]
	p.handles[k] = p.deps.Timers.Schedule(d, func() { p.deps.OnTimer(k, gen) })
}

// disarm cancels the timer and invalidates any expiry already in flight
func (p *Port) disarm(k TimerKind) {
	if h, ok := p.handles[k]; ok {
		p.deps.Timers.Cancel(h)
		delete(p.handles, k)
	}
	p.gens[k]++
}

func (p *Port) disarmAll() {
	for k := range TimerKindToString {
		p.disarm(k)
	}
}

// state transitions

func (p *Port) setState(s ptp.PortState) {
	if p.state == s {
		return
	}
	old := p.state
	p.state = s
	log.Infof("port %s: state %s -> %s", p.identity, old, s)

	// a transition invalidates every timer of the state we left
	p.disarmAll()

	switch s {
	case ptp.PortStateListening:
		p.announceExpired = false
		p.arm(TimerAnnounceReceipt, p.cfg.AnnounceReceiptTimeout())
	case ptp.PortStatePreMaster:
		p.arm(TimerQualification, p.cfg.AnnounceInterval)
	case ptp.PortStateMaster:
		p.arm(TimerAnnounceTx, 0)
		p.arm(TimerSyncTx, 0)
	case ptp.PortStateUncalibrated, ptp.PortStateSlave:
		p.arm(TimerSyncReceipt, p.cfg.SyncReceiptTimeout())
		p.arm(TimerDelayReqTx, p.cfg.DelayReqInterval)
		p.arm(TimerAnnounceReceipt, p.cfg.AnnounceReceiptTimeout())
	case ptp.PortStatePassive:
		p.arm(TimerAnnounceReceipt, p.cfg.AnnounceReceiptTimeout())
	case ptp.PortStateFaulty:
		// all timers stay cancelled until reset
		p.meas.reset()
	}

	if p.deps.OnState != nil {
		p.deps.OnState(old, s)
	}
}

// InterfaceReady is the external readiness signal moving the port out of
// Initializing
func (p *Port) InterfaceReady() {
	if p.state != ptp.PortStateInitializing {
		return
	}
	p.setState(ptp.PortStateListening)
}

// Reset forces the port back to Initializing, synchronously invalidating all
// in-flight timers and pairing state. It is the only way out of Faulty.
func (p *Port) Reset() {
	p.disarmAll()
	p.foreign.Reset()
	p.meas.reset()
	p.lastResult = nil
	p.lastErr = nil
	p.sendFailures = 0
	p.announceExpired = false
	old := p.state
	p.state = ptp.PortStateInitializing
	if old != ptp.PortStateInitializing {
		log.Infof("port %s: reset from %s", p.identity, old)
		if p.deps.OnState != nil {
			p.deps.OnState(old, ptp.PortStateInitializing)
		}
	}
}

// Fault moves the port to Faulty, cancelling all timers. Only Reset exits it.
func (p *Port) Fault(err error) {
	if p.state == ptp.PortStateFaulty {
		return
	}
	p.lastErr = err
	p.deps.Stats.Inc(stats.PortFaults)
	log.Errorf("port %s: fault: %v", p.identity, err)
	p.setState(ptp.PortStateFaulty)
}

// LastError returns the error that took the port to Faulty, if any
func (p *Port) LastError() error {
	return p.lastErr
}

// AnnounceWindowExpired reports whether a full announce receipt window has
// passed without a better master, the gate for concluding we can be one
func (p *Port) AnnounceWindowExpired() bool {
	return p.announceExpired
}

// HandleTimer processes a timer expiry delivered through the event loop.
// Stale expiries, cancelled after queueing, carry an old generation and are
// dropped. A timestamp source failure while handling an expiry latches the
// port Faulty. Returns true if the clock should re-run master selection.
func (p *Port) HandleTimer(k TimerKind, gen uint64) bool {
	if p.gens[k] != gen {
		return false
	}
	if p.state == ptp.PortStateFaulty || p.state == ptp.PortStateInitializing {
		return false
	}
	switch k {
	case TimerAnnounceReceipt:
		now, err := p.deps.Now()
		if err != nil {
			p.Fault(err)
			return true
		}
		p.announceExpired = true
		p.foreign.Prune(now)
		p.deps.Stats.Inc(stats.AnnounceTimeouts)
		p.arm(TimerAnnounceReceipt, p.cfg.AnnounceReceiptTimeout())
		return true
	case TimerSyncReceipt:
		if p.state == ptp.PortStateSlave || p.state == ptp.PortStateUncalibrated {
			log.Warningf("port %s: no SYNC within %s, master is gone, re-electing", p.identity, p.cfg.SyncReceiptTimeout())
			p.deps.Stats.Inc(stats.SyncTimeouts)
			p.setState(ptp.PortStateListening)
			return true
		}
	case TimerQualification:
		if p.state == ptp.PortStatePreMaster {
			p.setState(ptp.PortStateMaster)
		}
	case TimerAnnounceTx:
		if p.state == ptp.PortStateMaster {
			p.sendAnnounce()
			// a send failure may have taken us Faulty mid-handler
			if p.state == ptp.PortStateMaster {
				p.arm(TimerAnnounceTx, p.cfg.AnnounceInterval)
			}
		}
	case TimerSyncTx:
		if p.state == ptp.PortStateMaster {
			p.sendSyncCycle()
			if p.state == ptp.PortStateMaster {
				p.arm(TimerSyncTx, p.cfg.SyncInterval)
			}
		}
	case TimerDelayReqTx:
		if p.state == ptp.PortStateSlave || p.state == ptp.PortStateUncalibrated {
			now, err := p.deps.Now()
			if err != nil {
				p.Fault(err)
				return true
			}
			p.meas.cleanup(now, p.cfg.DelayReqInterval)
			if p.cfg.DelayMechanism == P2P {
				p.sendPDelayReq()
			} else {
				p.sendDelayReq()
			}
			if p.state == ptp.PortStateSlave || p.state == ptp.PortStateUncalibrated {
				p.arm(TimerDelayReqTx, p.cfg.DelayReqInterval)
			}
		}
	}
	return false
}

// ApplyRecommendation drives the port towards the state BMCA recommends.
// best is the clock-wide best foreign dataset, bestOnThisPort tells whether
// this port is the one hearing it.
func (p *Port) ApplyRecommendation(local, best *bmc.Dataset, bestOnThisPort bool) {
	switch p.state {
	case ptp.PortStateInitializing, ptp.PortStateFaulty, ptp.PortStateDisabled:
		return
	}
	recommended := bmc.RecommendState(local, best, bestOnThisPort)
	switch recommended {
	case ptp.PortStateMaster:
		// never claim mastership before sitting through a full announce window
		if !p.announceExpired {
			return
		}
		switch p.state {
		case ptp.PortStatePreMaster, ptp.PortStateMaster:
		default:
			p.setState(ptp.PortStatePreMaster)
		}
	case ptp.PortStateSlave:
		switch p.state {
		case ptp.PortStateSlave, ptp.PortStateUncalibrated:
		default:
			p.setState(ptp.PortStateUncalibrated)
		}
	case ptp.PortStatePassive:
		p.setState(ptp.PortStatePassive)
	}
}

// message handling

// HandlePacket dispatches one inbound packet with its receive timestamp.
// Returns true if the foreign master set changed and the clock should re-run
// master selection.
func (p *Port) HandlePacket(pkt ptp.Packet, rxTS time.Time) bool {
	if p.state == ptp.PortStateFaulty || p.state == ptp.PortStateInitializing {
		return false
	}
	hdr := packetHeader(pkt)
	if hdr == nil {
		return false
	}
	if hdr.DomainNumber != p.cfg.DomainNumber {
		log.Debugf("port %s: ignoring %s from domain %d", p.identity, hdr.MessageType(), hdr.DomainNumber)
		return false
	}
	if hdr.SourcePortIdentity.ClockIdentity == p.identity.ClockIdentity {
		// our own traffic reflected back
		return false
	}
	switch v := pkt.(type) {
	case *ptp.Announce:
		return p.handleAnnounce(v, rxTS)
	case *ptp.SyncDelayReq:
		if hdr.MessageType() == ptp.MessageSync {
			p.handleSync(v, rxTS)
		} else {
			p.handleDelayReq(v, rxTS)
		}
	case *ptp.FollowUp:
		p.handleFollowUp(v, rxTS)
	case *ptp.DelayResp:
		p.handleDelayResp(v, rxTS)
	case *ptp.PDelayReq:
		p.handlePDelayReq(v, rxTS)
	case *ptp.PDelayResp:
		p.handlePDelayResp(v, rxTS)
	case *ptp.PDelayRespFollowUp:
		p.handlePDelayRespFollowUp(v, rxTS)
	default:
		log.Debugf("port %s: unsupported packet %s, ignoring", p.identity, hdr.MessageType())
	}
	return false
}

func (p *Port) handleAnnounce(a *ptp.Announce, rxTS time.Time) bool {
	log.Debugf("port %s: ANNOUNCE seq=%d gm=%s stepsRemoved=%d",
		p.identity, a.SequenceID, a.GrandmasterIdentity, a.StepsRemoved)
	p.foreign.Observe(a, rxTS)
	return true
}

func (p *Port) handleSync(s *ptp.SyncDelayReq, rxTS time.Time) {
	if p.state != ptp.PortStateSlave && p.state != ptp.PortStateUncalibrated {
		return
	}
	log.Debugf("port %s: SYNC seq=%d", p.identity, s.SequenceID)
	p.arm(TimerSyncReceipt, p.cfg.SyncReceiptTimeout())
	if s.FlagField&ptp.FlagTwoStep != 0 {
		p.meas.addSync(s.SequenceID, ptp.NewTimestamp(rxTS), s.CorrectionField, rxTS)
		return
	}
	p.meas.addOneStepSync(s.SequenceID, s.OriginTimestamp, ptp.NewTimestamp(rxTS), s.CorrectionField, rxTS)
	p.completeCycle()
}

func (p *Port) handleFollowUp(f *ptp.FollowUp, rxTS time.Time) {
	if p.state != ptp.PortStateSlave && p.state != ptp.PortStateUncalibrated {
		return
	}
	log.Debugf("port %s: FOLLOW_UP seq=%d", p.identity, f.SequenceID)
	if err := p.meas.addFollowUp(f.SequenceID, f.PreciseOriginTimestamp, rxTS); err != nil {
		p.countUnmatched(err)
		log.Warningf("port %s: FOLLOW_UP seq=%d: %v", p.identity, f.SequenceID, err)
		return
	}
	p.completeCycle()
}

func (p *Port) handleDelayReq(d *ptp.SyncDelayReq, rxTS time.Time) {
	if p.state != ptp.PortStateMaster {
		return
	}
	log.Debugf("port %s: DELAY_REQ seq=%d from %s", p.identity, d.SequenceID, d.SourcePortIdentity)
	resp := &ptp.DelayResp{
		Header: p.newHeader(ptp.MessageDelayResp, uint16(binary.Size(ptp.DelayResp{}))),
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp:       ptp.NewTimestamp(rxTS),
			RequestingPortIdentity: d.SourcePortIdentity,
		},
	}
	resp.SetSequence(d.SequenceID)
	resp.SetCorrection(d.CorrectionField)
	resp.LogMessageInterval = logIntervalOrZero(p.cfg.DelayReqInterval)
	p.transmit(resp)
}

func (p *Port) handleDelayResp(d *ptp.DelayResp, rxTS time.Time) {
	if p.state != ptp.PortStateSlave && p.state != ptp.PortStateUncalibrated {
		return
	}
	if d.RequestingPortIdentity != p.identity {
		return
	}
	log.Debugf("port %s: DELAY_RESP seq=%d", p.identity, d.SequenceID)
	if err := p.meas.addDelayResp(d.SequenceID, d.ReceiveTimestamp, d.CorrectionField, rxTS); err != nil {
		p.countUnmatched(err)
		log.Warningf("port %s: DELAY_RESP seq=%d: %v", p.identity, d.SequenceID, err)
		return
	}
	p.completeCycle()
}

// Pdelay runs independently of the master/slave relationship: any port
// answers requests so its neighbors can measure the link.
func (p *Port) handlePDelayReq(d *ptp.PDelayReq, rxTS time.Time) {
	log.Debugf("port %s: PDELAY_REQ seq=%d from %s", p.identity, d.SequenceID, d.SourcePortIdentity)
	resp := &ptp.PDelayResp{
		Header: p.newHeader(ptp.MessagePDelayResp, uint16(binary.Size(ptp.PDelayResp{}))),
		PDelayRespBody: ptp.PDelayRespBody{
			RequestReceiptTimestamp: ptp.NewTimestamp(rxTS),
			RequestingPortIdentity:  d.SourcePortIdentity,
		},
	}
	resp.SetSequence(d.SequenceID)
	resp.FlagField |= ptp.FlagTwoStep
	txTS, err := p.transmit(resp)
	if err != nil {
		return
	}
	fu := &ptp.PDelayRespFollowUp{
		Header: p.newHeader(ptp.MessagePDelayRespFollowUp, uint16(binary.Size(ptp.PDelayRespFollowUp{}))),
		PDelayRespFollowUpBody: ptp.PDelayRespFollowUpBody{
			ResponseOriginTimestamp: ptp.NewTimestamp(txTS),
			RequestingPortIdentity:  d.SourcePortIdentity,
		},
	}
	fu.SetSequence(d.SequenceID)
	p.transmit(fu)
}

func (p *Port) handlePDelayResp(d *ptp.PDelayResp, rxTS time.Time) {
	if d.RequestingPortIdentity != p.identity {
		return
	}
	if err := p.meas.addPDelayResp(d.SequenceID, d.RequestReceiptTimestamp, ptp.NewTimestamp(rxTS), rxTS); err != nil {
		p.countUnmatched(err)
		log.Warningf("port %s: PDELAY_RESP seq=%d: %v", p.identity, d.SequenceID, err)
	}
}

func (p *Port) handlePDelayRespFollowUp(d *ptp.PDelayRespFollowUp, rxTS time.Time) {
	if d.RequestingPortIdentity != p.identity {
		return
	}
	delay, err := p.meas.addPDelayRespFollowUp(d.SequenceID, d.ResponseOriginTimestamp, rxTS)
	if err != nil {
		p.countUnmatched(err)
		log.Warningf("port %s: PDELAY_RESP_FOLLOW_UP seq=%d: %v", p.identity, d.SequenceID, err)
		return
	}
	log.Debugf("port %s: link delay %s", p.identity, delay)
}

func (p *Port) countUnmatched(err error) {
	if errors.Is(err, ErrUnmatchedResponse) {
		p.deps.Stats.Inc(stats.UnmatchedRX)
	}
}

// completeCycle recomputes offset/delay after new data and promotes
// Uncalibrated to Slave on the first full measurement
func (p *Port) completeCycle() {
	res, err := p.meas.latest()
	if err != nil {
		return
	}
	p.lastResult = res
	log.Debugf("port %s: offset %s, mean path delay %s", p.identity, res.Offset, res.MeanPathDelay)
	if p.state == ptp.PortStateUncalibrated {
		p.setState(ptp.PortStateSlave)
	}
}

// message emission

func (p *Port) newHeader(t ptp.MessageType, length uint16) ptp.Header {
	return ptp.Header{
		SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(t, 0),
		Version:            ptp.Version,
		MessageLength:      length,
		DomainNumber:       p.cfg.DomainNumber,
		SourcePortIdentity: p.identity,
	}
}

func logIntervalOrZero(d time.Duration) ptp.LogInterval {
	li, err := ptp.NewLogInterval(d)
	if err != nil {
		return 0
	}
	return li
}

// transmit sends the packet, tracking consecutive transport failures.
// A failed send is retried on the next scheduled interval; persistent
// failure beyond the configured threshold takes the port Faulty.
func (p *Port) transmit(pkt ptp.Packet) (time.Time, error) {
	txTS, err := p.deps.Send(pkt)
	if err != nil {
		p.sendFailures++
		log.Warningf("port %s: failed to send %s (%d consecutive): %v",
			p.identity, pkt.MessageType(), p.sendFailures, err)
		if p.sendFailures >= p.cfg.TransportFailureThreshold {
			p.Fault(fmt.Errorf("transport failed %d times in a row: %w", p.sendFailures, err))
		}
		return time.Time{}, err
	}
	p.sendFailures = 0
	return txTS, nil
}

func (p *Port) sendAnnounce() {
	adv := p.deps.Advertised()
	a := &ptp.Announce{
		Header: p.newHeader(ptp.MessageAnnounce, uint16(binary.Size(ptp.Announce{}))),
		AnnounceBody: ptp.AnnounceBody{
			CurrentUTCOffset:        adv.UTCOffset,
			GrandmasterPriority1:    adv.Dataset.Priority1,
			GrandmasterClockQuality: adv.Dataset.ClockQuality,
			GrandmasterPriority2:    adv.Dataset.Priority2,
			GrandmasterIdentity:     adv.Dataset.ClockIdentity,
			StepsRemoved:            adv.Dataset.StepsRemoved,
			TimeSource:              adv.TimeSource,
		},
	}
	a.LogMessageInterval = logIntervalOrZero(p.cfg.AnnounceInterval)
	a.SetSequence(p.announceSeq)
	p.announceSeq++
	p.transmit(a)
}

// sendSyncCycle emits a two-step Sync followed by the Follow_Up carrying the
// precise egress timestamp
func (p *Port) sendSyncCycle() {
	sync := &ptp.SyncDelayReq{
		Header: p.newHeader(ptp.MessageSync, uint16(binary.Size(ptp.SyncDelayReq{}))),
	}
	sync.FlagField |= ptp.FlagTwoStep
	sync.LogMessageInterval = logIntervalOrZero(p.cfg.SyncInterval)
	sync.SetSequence(p.syncSeq)
	seq := p.syncSeq
	p.syncSeq++
	txTS, err := p.transmit(sync)
	if err != nil {
		return
	}
	fu := &ptp.FollowUp{
		Header: p.newHeader(ptp.MessageFollowUp, uint16(binary.Size(ptp.FollowUp{}))),
		FollowUpBody: ptp.FollowUpBody{
			PreciseOriginTimestamp: ptp.NewTimestamp(txTS),
		},
	}
	fu.SetSequence(seq)
	p.transmit(fu)
}

func (p *Port) sendDelayReq() {
	req := &ptp.SyncDelayReq{
		Header: p.newHeader(ptp.MessageDelayReq, uint16(binary.Size(ptp.SyncDelayReq{}))),
	}
	req.SetSequence(p.delayReqSeq)
	seq := p.delayReqSeq
	p.delayReqSeq++
	txTS, err := p.transmit(req)
	if err != nil {
		return
	}
	p.meas.addDelayReq(seq, ptp.NewTimestamp(txTS), txTS)
}

func (p *Port) sendPDelayReq() {
	req := &ptp.PDelayReq{
		Header: p.newHeader(ptp.MessagePDelayReq, uint16(binary.Size(ptp.PDelayReq{}))),
	}
	req.SetSequence(p.pdelaySeq)
	seq := p.pdelaySeq
	p.pdelaySeq++
	txTS, err := p.transmit(req)
	if err != nil {
		return
	}
	p.meas.addPDelayReq(seq, ptp.NewTimestamp(txTS), txTS)
}

func packetHeader(pkt ptp.Packet) *ptp.Header {
	switch v := pkt.(type) {
	case *ptp.Announce:
		return &v.Header
	case *ptp.SyncDelayReq:
		return &v.Header
	case *ptp.FollowUp:
		return &v.Header
	case *ptp.DelayResp:
		return &v.Header
	case *ptp.PDelayReq:
		return &v.Header
	case *ptp.PDelayResp:
		return &v.Header
	case *ptp.PDelayRespFollowUp:
		return &v.Header
	}
	return nil
}
