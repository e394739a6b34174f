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
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshtime/ptpsync/port"
	ptp "github.com/meshtime/ptpsync/protocol"
	"github.com/meshtime/ptpsync/transport"
)

func syncBytes(t *testing.T, correction ptp.Correction) []byte {
	pkt := &ptp.SyncDelayReq{
		Header: ptp.Header{
			SdoIDAndMsgType: ptp.NewSdoIDAndMsgType(ptp.MessageSync, 0),
			Version:         ptp.Version,
			MessageLength:   uint16(binary.Size(ptp.SyncDelayReq{})),
			FlagField:       ptp.FlagTwoStep,
			CorrectionField: correction,
			SourcePortIdentity: ptp.PortIdentity{
				ClockIdentity: 0xaabbccddeeff0001,
				PortNumber:    1,
			},
		},
	}
	b, err := ptp.Bytes(pkt)
	require.NoError(t, err)
	return b
}

func correctionOf(t *testing.T, b []byte) ptp.Correction {
	pkt, err := ptp.DecodePacket(b)
	require.NoError(t, err)
	hdr := headerOf(pkt)
	require.NotNil(t, hdr)
	return hdr.CorrectionField
}

func TestTransparentClockAddsResidence(t *testing.T) {
	tc := NewTransparentClock(nil)
	ingress := time.Unix(1672531200, 0)

	out, err := tc.Forward(syncBytes(t, 0), ingress, ingress.Add(10*time.Nanosecond))
	require.NoError(t, err)
	require.InDelta(t, 10.0, correctionOf(t, out).Nanoseconds(), 0.001)

	// general messages pass through untouched
	fu := &ptp.FollowUp{
		Header: ptp.Header{
			SdoIDAndMsgType: ptp.NewSdoIDAndMsgType(ptp.MessageFollowUp, 0),
			Version:         ptp.Version,
			MessageLength:   uint16(binary.Size(ptp.FollowUp{})),
		},
	}
	raw, err := ptp.Bytes(fu)
	require.NoError(t, err)
	out, err = tc.Forward(raw, ingress, ingress.Add(10*time.Nanosecond))
	require.NoError(t, err)
	require.Equal(t, raw, out)
}

func TestTransparentClockChaining(t *testing.T) {
	a := NewTransparentClock(nil)
	b := NewTransparentClock(nil)
	ingress := time.Unix(1672531200, 0)

	forward := func(tc *TransparentClock, in []byte, residence time.Duration) []byte {
		out, err := tc.Forward(in, ingress, ingress.Add(residence))
		require.NoError(t, err)
		return out
	}

	// two bridges accumulate the sum of their residence times
	out := forward(b, forward(a, syncBytes(t, 0), 10*time.Nanosecond), 20*time.Nanosecond)
	require.InDelta(t, 30.0, correctionOf(t, out).Nanoseconds(), 0.001)

	// in either order
	out = forward(a, forward(b, syncBytes(t, 0), 20*time.Nanosecond), 10*time.Nanosecond)
	require.InDelta(t, 30.0, correctionOf(t, out).Nanoseconds(), 0.001)

	// and on top of an existing correction
	out = forward(a, syncBytes(t, ptp.NewCorrection(5)), 10*time.Nanosecond)
	require.InDelta(t, 15.0, correctionOf(t, out).Nanoseconds(), 0.001)
}

func TestTransparentClockErrors(t *testing.T) {
	tc := NewTransparentClock(nil)
	ingress := time.Unix(1672531200, 0)

	// malformed input is dropped without error
	out, err := tc.Forward([]byte{1, 2, 3}, ingress, ingress)
	require.NoError(t, err)
	require.Nil(t, out)

	// egress before ingress is a caller bug
	_, err = tc.Forward(syncBytes(t, 0), ingress, ingress.Add(-time.Nanosecond))
	require.Error(t, err)
}

func TestTransparentClockOnBus(t *testing.T) {
	// a slave syncing through a transparent bridge still measures a zero
	// offset: the bridge's residence time is charged to the correction field
	// and subtracted from the sync interval math
	vt := port.NewVirtualTimers(time.Unix(1672531200, 0))
	bus := transport.NewBus(vt.Now)
	bus.SetPropagationDelay(40 * time.Nanosecond)
	tc := NewTransparentClock(nil)
	bus.SetRelay(tc.Relay(40*time.Nanosecond, vt.Now))

	gm := newSimNode(t, vt, ordinaryConfig("aa:00:00:00:00:01", 1), map[uint16]*transport.Bus{1: bus})
	leaf := newSimNode(t, vt, ordinaryConfig("aa:00:00:00:00:02", 2), map[uint16]*transport.Bus{1: bus})

	vt.Advance(30 * time.Second)

	st, err := gm.c.State(1)
	require.NoError(t, err)
	require.Equal(t, ptp.PortStateMaster, st)
	st, err = leaf.c.State(1)
	require.NoError(t, err)
	require.Equal(t, ptp.PortStateSlave, st)

	snap := leaf.c.BestMaster()
	require.NotNil(t, snap)
	require.InDelta(t, 0.0, snap.OffsetFromMaster.Nanoseconds(), 0.001)
	require.InDelta(t, 0.0, snap.MeanPathDelay.Nanoseconds(), 0.001)
}
