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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshtime/ptpsync/bmc"
	ptp "github.com/meshtime/ptpsync/protocol"
	"github.com/meshtime/ptpsync/stats"
)

const (
	localClockID  = ptp.ClockIdentity(0x001122fffe334455)
	remoteClockID = ptp.ClockIdentity(0x00aabbfffeccddee)
)

// testEnv wires a port to virtual timers and plays the role of the clock
// coordinator's event loop: timer expiries and selection re-runs happen
// synchronously inside Advance.
type testEnv struct {
	t       *testing.T
	vt      *VirtualTimers
	p       *Port
	sts     *stats.Stats
	sent    []ptp.Packet
	sendErr error
	nowErr  error
	states  []ptp.PortState
}

func newTestEnv(t *testing.T) *testEnv {
	e := &testEnv{t: t, vt: NewVirtualTimers(time.Unix(1672531200, 0)), sts: stats.NewStats()}
	cfg := DefaultConfig(1)
	deps := Deps{
		Timers: e.vt,
		Now: func() (time.Time, error) {
			if e.nowErr != nil {
				return time.Time{}, e.nowErr
			}
			return e.vt.Now(), nil
		},
		Send: func(p ptp.Packet) (time.Time, error) {
			if e.sendErr != nil {
				return time.Time{}, e.sendErr
			}
			e.sent = append(e.sent, p)
			return e.vt.Now(), nil
		},
		OnTimer: func(k TimerKind, gen uint64) {
			if e.p.HandleTimer(k, gen) {
				e.reselect()
			}
		},
		OnState: func(old, new ptp.PortState) { e.states = append(e.states, new) },
		Advertised: func() Advertised {
			return Advertised{Dataset: e.localDataset(), TimeSource: ptp.TimeSourceInternalOscillator}
		},
		Stats: e.sts,
	}
	p, err := New(cfg, localClockID, deps)
	require.NoError(t, err)
	e.p = p
	return e
}

func (e *testEnv) localDataset() *bmc.Dataset {
	return &bmc.Dataset{
		Priority1:     128,
		ClockQuality:  ptp.ClockQuality{ClockClass: ptp.ClockClassDefault, ClockAccuracy: ptp.ClockAccuracyUnknown, OffsetScaledLogVariance: 0xffff},
		Priority2:     128,
		ClockIdentity: localClockID,
	}
}

// reselect mimics the clock-wide BMCA run after a state-relevant event
func (e *testEnv) reselect() {
	best := e.p.BestForeign()
	e.p.ApplyRecommendation(e.localDataset(), best, best != nil)
}

func (e *testEnv) deliver(pkt ptp.Packet) {
	if e.p.HandlePacket(pkt, e.vt.Now()) {
		e.reselect()
	}
}

func (e *testEnv) sentOfType(t ptp.MessageType) []ptp.Packet {
	var out []ptp.Packet
	for _, p := range e.sent {
		if p.MessageType() == t {
			out = append(out, p)
		}
	}
	return out
}

func announceFrom(clockID ptp.ClockIdentity, seq uint16, priority1 uint8) *ptp.Announce {
	a := &ptp.Announce{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageAnnounce, 0),
			Version:            ptp.Version,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: clockID, PortNumber: 1},
			SequenceID:         seq,
		},
		AnnounceBody: ptp.AnnounceBody{
			GrandmasterPriority1:    priority1,
			GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass6, ClockAccuracy: ptp.ClockAccuracyMicrosecond1},
			GrandmasterPriority2:    128,
			GrandmasterIdentity:     clockID,
		},
	}
	return a
}

func syncFrom(clockID ptp.ClockIdentity, seq uint16) *ptp.SyncDelayReq {
	s := &ptp.SyncDelayReq{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageSync, 0),
			Version:            ptp.Version,
			FlagField:          ptp.FlagTwoStep,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: clockID, PortNumber: 1},
			SequenceID:         seq,
		},
	}
	return s
}

func TestPortBecomesMasterAfterAnnounceTimeout(t *testing.T) {
	e := newTestEnv(t)
	require.Equal(t, ptp.PortStateInitializing, e.p.State())

	e.p.InterfaceReady()
	require.Equal(t, ptp.PortStateListening, e.p.State())
	require.False(t, e.p.AnnounceWindowExpired())

	// announce receipt timeout is 3 * 2s; nothing heard, so we qualify
	// ourselves through PreMaster and start advertising
	e.vt.Advance(6 * time.Second)
	require.True(t, e.p.AnnounceWindowExpired())
	require.Equal(t, ptp.PortStatePreMaster, e.p.State())
	require.Equal(t, int64(1), e.sts.Get(stats.AnnounceTimeouts))

	e.vt.Advance(2 * time.Second)
	require.Equal(t, ptp.PortStateMaster, e.p.State())

	// master emits Announce and two-step Sync/FollowUp cycles
	e.vt.Advance(4 * time.Second)
	require.NotEmpty(t, e.sentOfType(ptp.MessageAnnounce))
	syncs := e.sentOfType(ptp.MessageSync)
	fus := e.sentOfType(ptp.MessageFollowUp)
	require.NotEmpty(t, syncs)
	require.Len(t, fus, len(syncs))
	sync := syncs[0].(*ptp.SyncDelayReq)
	require.NotZero(t, sync.FlagField&ptp.FlagTwoStep)

	fu := fus[0].(*ptp.FollowUp)
	require.Equal(t, sync.SequenceID, fu.SequenceID)
	require.False(t, fu.PreciseOriginTimestamp.Empty())
}

func TestPortStaysListeningWhileBetterMasterHeard(t *testing.T) {
	e := newTestEnv(t)
	e.p.InterfaceReady()

	// better master announces regularly, we must never claim mastership
	seq := uint16(0)
	for i := 0; i < 10; i++ {
		e.deliver(announceFrom(remoteClockID, seq, 1))
		seq++
		e.vt.Advance(2 * time.Second)
	}
	require.NotEqual(t, ptp.PortStateMaster, e.p.State())
	require.NotEqual(t, ptp.PortStatePreMaster, e.p.State())
	require.Empty(t, e.sentOfType(ptp.MessageAnnounce))
}

func TestPortSlavePath(t *testing.T) {
	e := newTestEnv(t)
	e.p.InterfaceReady()

	// one announce is not enough to qualify
	e.deliver(announceFrom(remoteClockID, 0, 1))
	require.Equal(t, ptp.PortStateListening, e.p.State())

	e.vt.Advance(2 * time.Second)
	e.deliver(announceFrom(remoteClockID, 1, 1))
	require.Equal(t, ptp.PortStateUncalibrated, e.p.State())

	// sync + follow up alone keep us Uncalibrated, no path delay yet
	e.deliver(syncFrom(remoteClockID, 0))
	fu := &ptp.FollowUp{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageFollowUp, 0),
			Version:            ptp.Version,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: remoteClockID, PortNumber: 1},
		},
		FollowUpBody: ptp.FollowUpBody{PreciseOriginTimestamp: ptp.NewTimestamp(e.vt.Now())},
	}
	e.deliver(fu)
	require.Equal(t, ptp.PortStateUncalibrated, e.p.State())
	require.Nil(t, e.p.LastMeasurement())

	// delay request goes out on its interval
	e.vt.Advance(time.Second)
	reqs := e.sentOfType(ptp.MessageDelayReq)
	require.Len(t, reqs, 1)
	req := reqs[0].(*ptp.SyncDelayReq)

	// and the response completes the first measurement, promoting to Slave
	resp := &ptp.DelayResp{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageDelayResp, 0),
			Version:            ptp.Version,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: remoteClockID, PortNumber: 1},
			SequenceID:         req.SequenceID,
		},
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp:       ptp.NewTimestamp(e.vt.Now().Add(100 * time.Nanosecond)),
			RequestingPortIdentity: e.p.Identity(),
		},
	}
	e.deliver(resp)
	require.Equal(t, ptp.PortStateSlave, e.p.State())
	require.NotNil(t, e.p.LastMeasurement())
}

func TestPortSyncTimeoutDemotes(t *testing.T) {
	e := newTestEnv(t)
	e.p.InterfaceReady()
	e.deliver(announceFrom(remoteClockID, 0, 1))
	e.vt.Advance(2 * time.Second)
	e.deliver(announceFrom(remoteClockID, 1, 1))
	require.Equal(t, ptp.PortStateUncalibrated, e.p.State())

	// master goes silent: sync receipt timeout (3 * 1s) drops the port back
	// to Listening, but re-election picks the same still-fresh foreign master
	e.vt.Advance(3 * time.Second)
	require.Contains(t, e.states, ptp.PortStateListening)
	require.Equal(t, ptp.PortStateUncalibrated, e.p.State())
	require.Equal(t, int64(1), e.sts.Get(stats.SyncTimeouts))

	// once its announces age out the demotion sticks
	e.vt.Advance(6 * time.Second)
	require.Equal(t, ptp.PortStateListening, e.p.State())

	// and with nobody else announcing, the port claims mastership
	e.vt.Advance(8 * time.Second)
	require.Equal(t, ptp.PortStateMaster, e.p.State())
}

func TestPortFaultyLatch(t *testing.T) {
	e := newTestEnv(t)
	e.p.InterfaceReady()
	e.vt.Advance(6 * time.Second)
	e.vt.Advance(2 * time.Second)
	require.Equal(t, ptp.PortStateMaster, e.p.State())

	// transport starts failing on every send; threshold is 5 consecutive
	e.sendErr = errors.New("interface down")
	e.vt.Advance(20 * time.Second)
	require.Equal(t, ptp.PortStateFaulty, e.p.State())
	require.Error(t, e.p.LastError())
	require.Equal(t, int64(1), e.sts.Get(stats.PortFaults))

	// Faulty latches: time passing and traffic change nothing
	before := len(e.sent)
	e.vt.Advance(time.Minute)
	e.deliver(announceFrom(remoteClockID, 0, 1))
	require.Equal(t, ptp.PortStateFaulty, e.p.State())
	require.Equal(t, before, len(e.sent))
	require.Equal(t, int64(1), e.sts.Get(stats.PortFaults))

	// only an explicit reset recovers
	e.sendErr = nil
	e.p.Reset()
	require.Equal(t, ptp.PortStateInitializing, e.p.State())
	require.NoError(t, e.p.LastError())
	e.p.InterfaceReady()
	require.Equal(t, ptp.PortStateListening, e.p.State())
}

func TestPortTimestampSourceFailureFaults(t *testing.T) {
	e := newTestEnv(t)
	e.p.InterfaceReady()
	require.Equal(t, ptp.PortStateListening, e.p.State())

	// the timestamp source dies: the next expiry needing it must latch the
	// port Faulty instead of quietly carrying on
	e.nowErr = errors.New("oscillator read failed")
	e.vt.Advance(30 * time.Second)
	require.Equal(t, ptp.PortStateFaulty, e.p.State())
	require.ErrorIs(t, e.p.LastError(), e.nowErr)
	require.Equal(t, int64(1), e.sts.Get(stats.PortFaults))

	// recovery is explicit, like any other fault
	e.nowErr = nil
	e.p.Reset()
	e.p.InterfaceReady()
	require.Equal(t, ptp.PortStateListening, e.p.State())
}

func TestPortSlaveTimestampSourceFailureFaults(t *testing.T) {
	e := newTestEnv(t)
	e.p.InterfaceReady()
	e.deliver(announceFrom(remoteClockID, 0, 1))
	e.vt.Advance(2 * time.Second)
	e.deliver(announceFrom(remoteClockID, 1, 1))
	require.Equal(t, ptp.PortStateUncalibrated, e.p.State())

	// the delay request tick reads the clock before sending
	e.nowErr = errors.New("oscillator read failed")
	e.vt.Advance(time.Second)
	require.Equal(t, ptp.PortStateFaulty, e.p.State())
	require.Empty(t, e.sentOfType(ptp.MessageDelayReq))
}

func TestPortBestForeignTimestampFailureFaults(t *testing.T) {
	e := newTestEnv(t)
	e.p.InterfaceReady()
	e.deliver(announceFrom(remoteClockID, 0, 1))

	e.nowErr = errors.New("oscillator read failed")
	require.Nil(t, e.p.BestForeign())
	require.Equal(t, ptp.PortStateFaulty, e.p.State())
	require.ErrorIs(t, e.p.LastError(), e.nowErr)
}

func TestPortUnmatchedDelayRespCounted(t *testing.T) {
	e := newTestEnv(t)
	e.p.InterfaceReady()
	e.deliver(announceFrom(remoteClockID, 0, 1))
	e.vt.Advance(2 * time.Second)
	e.deliver(announceFrom(remoteClockID, 1, 1))
	require.Equal(t, ptp.PortStateUncalibrated, e.p.State())

	// a response to a request we never sent
	resp := &ptp.DelayResp{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageDelayResp, 0),
			Version:            ptp.Version,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: remoteClockID, PortNumber: 1},
			SequenceID:         9999,
		},
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp:       ptp.NewTimestamp(e.vt.Now()),
			RequestingPortIdentity: e.p.Identity(),
		},
	}
	e.deliver(resp)
	require.Equal(t, int64(1), e.sts.Get(stats.UnmatchedRX))
	require.Equal(t, ptp.PortStateUncalibrated, e.p.State())
}

func TestPortSendFailureCounterResets(t *testing.T) {
	e := newTestEnv(t)
	e.p.InterfaceReady()
	e.vt.Advance(6 * time.Second)
	e.vt.Advance(2 * time.Second)
	require.Equal(t, ptp.PortStateMaster, e.p.State())

	// a few failures followed by a success must not accumulate
	e.sendErr = errors.New("transient")
	e.vt.Advance(2 * time.Second)
	require.Equal(t, ptp.PortStateMaster, e.p.State())
	e.sendErr = nil
	e.vt.Advance(2 * time.Second)
	require.Zero(t, e.p.sendFailures)
	require.Equal(t, ptp.PortStateMaster, e.p.State())
}

func TestPortMasterAnswersDelayReq(t *testing.T) {
	e := newTestEnv(t)
	e.p.InterfaceReady()
	e.vt.Advance(6 * time.Second)
	e.vt.Advance(2 * time.Second)
	require.Equal(t, ptp.PortStateMaster, e.p.State())

	req := &ptp.SyncDelayReq{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageDelayReq, 0),
			Version:            ptp.Version,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: remoteClockID, PortNumber: 1},
			SequenceID:         77,
			CorrectionField:    ptp.NewCorrection(42),
		},
	}
	e.deliver(req)
	resps := e.sentOfType(ptp.MessageDelayResp)
	require.Len(t, resps, 1)
	resp := resps[0].(*ptp.DelayResp)
	require.Equal(t, uint16(77), resp.SequenceID)
	require.Equal(t, req.SourcePortIdentity, resp.RequestingPortIdentity)
	require.Equal(t, ptp.NewCorrection(42), resp.CorrectionField)
	require.False(t, resp.ReceiveTimestamp.Empty())
}

func TestPortAnswersPDelayReqInAnyState(t *testing.T) {
	e := newTestEnv(t)
	e.p.InterfaceReady()
	require.Equal(t, ptp.PortStateListening, e.p.State())

	req := &ptp.PDelayReq{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessagePDelayReq, 0),
			Version:            ptp.Version,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: remoteClockID, PortNumber: 1},
			SequenceID:         5,
		},
	}
	e.deliver(req)
	resps := e.sentOfType(ptp.MessagePDelayResp)
	fus := e.sentOfType(ptp.MessagePDelayRespFollowUp)
	require.Len(t, resps, 1)
	require.Len(t, fus, 1)
	resp := resps[0].(*ptp.PDelayResp)
	fu := fus[0].(*ptp.PDelayRespFollowUp)
	require.Equal(t, uint16(5), resp.SequenceID)
	require.Equal(t, uint16(5), fu.SequenceID)
	require.Equal(t, req.SourcePortIdentity, resp.RequestingPortIdentity)
	require.False(t, fu.ResponseOriginTimestamp.Empty())
}

func TestPortIgnoresOtherDomainAndOwnTraffic(t *testing.T) {
	e := newTestEnv(t)
	e.p.InterfaceReady()

	other := announceFrom(remoteClockID, 0, 1)
	other.DomainNumber = 42
	require.False(t, e.p.HandlePacket(other, e.vt.Now()))

	own := announceFrom(localClockID, 0, 1)
	require.False(t, e.p.HandlePacket(own, e.vt.Now()))
	require.Zero(t, e.p.foreign.Len())
}

func TestPortStaleTimerGenerationIgnored(t *testing.T) {
	e := newTestEnv(t)
	e.p.InterfaceReady()

	// an expiry queued before the transition away from Listening must not act
	gen := e.p.gens[TimerAnnounceReceipt]
	e.deliver(announceFrom(remoteClockID, 0, 1))
	e.vt.Advance(time.Second)
	e.deliver(announceFrom(remoteClockID, 1, 1))
	require.Equal(t, ptp.PortStateUncalibrated, e.p.State())
	require.False(t, e.p.HandleTimer(TimerAnnounceReceipt, gen))
	require.False(t, e.p.AnnounceWindowExpired())
}

func TestPortPDelayMechanism(t *testing.T) {
	e := newTestEnv(t)
	cfg := DefaultConfig(1)
	cfg.DelayMechanism = P2P
	p, err := New(cfg, localClockID, e.p.deps)
	require.NoError(t, err)
	e.p = p
	e.p.InterfaceReady()

	e.deliver(announceFrom(remoteClockID, 0, 1))
	e.vt.Advance(2 * time.Second)
	e.deliver(announceFrom(remoteClockID, 1, 1))
	require.Equal(t, ptp.PortStateUncalibrated, e.p.State())

	// P2P slaves probe the link with PdelayReq instead of DelayReq
	e.vt.Advance(time.Second)
	require.Empty(t, e.sentOfType(ptp.MessageDelayReq))
	reqs := e.sentOfType(ptp.MessagePDelayReq)
	require.Len(t, reqs, 1)
}
