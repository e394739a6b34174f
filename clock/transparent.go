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

package clock

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	ptp "github.com/meshtime/ptpsync/protocol"
	"github.com/meshtime/ptpsync/stats"
)

// TransparentClock is a bridge that forwards messages unchanged except for
// accumulating its residence time into the correction field of event
// messages. It keeps no state machine and never takes part in BMCA, so
// chaining any number of them between master and slave only grows the
// correction, in any order.
type TransparentClock struct {
	sts *stats.Stats
}

// NewTransparentClock creates a transparent bridge
func NewTransparentClock(sts *stats.Stats) *TransparentClock {
	if sts == nil {
		sts = stats.NewStats()
	}
	return &TransparentClock{sts: sts}
}

// Forward processes one transiting message: event messages get the residence
// time between ingress and egress added to their correction field, all
// others pass through untouched. Malformed input is dropped with a nil
// result and no error, matching how a hardware bridge behaves.
func (t *TransparentClock) Forward(b []byte, ingressTS, egressTS time.Time) ([]byte, error) {
	pkt, err := ptp.DecodePacket(b)
	if err != nil {
		t.sts.Inc(stats.MalformedRX)
		log.Debugf("transparent clock: dropping malformed packet: %v", err)
		return nil, nil
	}
	switch pkt.MessageType() {
	case ptp.MessageSync, ptp.MessageDelayReq, ptp.MessagePDelayReq, ptp.MessagePDelayResp:
	default:
		// general messages carry no event timestamps to correct for
		return b, nil
	}
	residence := egressTS.Sub(ingressTS)
	if residence < 0 {
		return nil, fmt.Errorf("egress %s before ingress %s", egressTS, ingressTS)
	}
	hdr := headerOf(pkt)
	hdr.SetCorrection(hdr.CorrectionField.Add(ptp.DurationToCorrection(residence)))
	out, err := ptp.Bytes(pkt)
	if err != nil {
		return nil, fmt.Errorf("re-encoding %s: %w", pkt.MessageType(), err)
	}
	t.sts.IncTX(pkt.MessageType())
	return out, nil
}

// Relay adapts the bridge to an in-memory bus hook, charging a fixed
// residence time per transit; handy in simulations
func (t *TransparentClock) Relay(residence time.Duration, now func() time.Time) func(b []byte) []byte {
	return func(b []byte) []byte {
		ingress := now()
		out, err := t.Forward(b, ingress, ingress.Add(residence))
		if err != nil {
			log.Warningf("transparent clock: %v", err)
			return nil
		}
		return out
	}
}

func headerOf(pkt ptp.Packet) *ptp.Header {
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
