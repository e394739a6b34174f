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

package protocol

// all references are given for IEEE 1588-2019 Standard

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Version is what version of PTP protocol we implement
const Version uint8 = 2

/* UDP port numbers
The UDP destination port of a PTP event message shall be 319.
The UDP destination port of a multicast PTP general message shall be 320.
*/
const (
	PortEvent   = 319
	PortGeneral = 320
)

// ErrMalformedMessage means the raw bytes couldn't be decoded into a full packet.
// Callers are expected to drop such packets without any state change.
var ErrMalformedMessage = errors.New("malformed message")

// HeaderSize is the size of the common message header on the wire
var HeaderSize = binary.Size(Header{})

// Header Table 35 Common PTP message header
type Header struct {
	SdoIDAndMsgType     SdoIDAndMsgType // first 4 bits is SdoId, next 4 bits are msgtype
	Version             uint8
	MessageLength       uint16
	DomainNumber        uint8
	MinorSdoID          uint8
	FlagField           uint16
	CorrectionField     Correction
	MessageTypeSpecific uint32
	SourcePortIdentity  PortIdentity
	SequenceID          uint16
	ControlField        uint8
	LogMessageInterval  LogInterval // see Table 42 Values of logMessageInterval field
}

// MessageType returns MessageType
func (p *Header) MessageType() MessageType {
	return p.SdoIDAndMsgType.MsgType()
}

// SetSequence populates sequence field
func (p *Header) SetSequence(sequence uint16) {
	p.SequenceID = sequence
}

// SetCorrection populates correction field
func (p *Header) SetCorrection(c Correction) {
	p.CorrectionField = c
}

// flags used in FlagField as per Table 37 Values of flagField
const (
	// first octet
	FlagAlternateMaster uint16 = 1 << (8 + 0)
	FlagTwoStep         uint16 = 1 << (8 + 1)
	FlagUnicast         uint16 = 1 << (8 + 2)
	// second octet
	FlagLeap61                uint16 = 1 << 0
	FlagLeap59                uint16 = 1 << 1
	FlagCurrentUtcOffsetValid uint16 = 1 << 2
	FlagPTPTimescale          uint16 = 1 << 3
	FlagTimeTraceable         uint16 = 1 << 4
	FlagFrequencyTraceable    uint16 = 1 << 5
)

// All packets are split in two parts: Header (which is common) and body that is unique
// for most packets (both in length and structure).

// AnnounceBody Table 43 Announce message fields
type AnnounceBody struct {
	OriginTimestamp         Timestamp
	CurrentUTCOffset        int16
	Reserved                uint8
	GrandmasterPriority1    uint8
	GrandmasterClockQuality ClockQuality
	GrandmasterPriority2    uint8
	GrandmasterIdentity     ClockIdentity
	StepsRemoved            uint16
	TimeSource              TimeSource
}

// Announce is a full Announce packet
type Announce struct {
	Header
	AnnounceBody
}

// SyncDelayReqBody Table 44 Sync and Delay_Req message fields
type SyncDelayReqBody struct {
	OriginTimestamp Timestamp
}

// SyncDelayReq is a full Sync/Delay_Req packet
type SyncDelayReq struct {
	Header
	SyncDelayReqBody
}

// FollowUpBody Table 45 Follow_Up message fields
type FollowUpBody struct {
	PreciseOriginTimestamp Timestamp
}

// FollowUp is a full Follow_Up packet
type FollowUp struct {
	Header
	FollowUpBody
}

// DelayRespBody Table 46 Delay_Resp message fields
type DelayRespBody struct {
	ReceiveTimestamp       Timestamp
	RequestingPortIdentity PortIdentity
}

// DelayResp is a full Delay_Resp packet
type DelayResp struct {
	Header
	DelayRespBody
}

// PDelayReqBody Table 47 Pdelay_Req message fields
type PDelayReqBody struct {
	OriginTimestamp Timestamp
	Reserved        [10]uint8
}

// PDelayReq is a full Pdelay_Req packet
type PDelayReq struct {
	Header
	PDelayReqBody
}

// PDelayRespBody Table 48 Pdelay_Resp message fields
type PDelayRespBody struct {
	RequestReceiptTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

// PDelayResp is a full Pdelay_Resp packet
type PDelayResp struct {
	Header
	PDelayRespBody
}

// PDelayRespFollowUpBody Table 49 Pdelay_Resp_Follow_Up message fields
type PDelayRespFollowUpBody struct {
	ResponseOriginTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

// PDelayRespFollowUp is a full Pdelay_Resp_Follow_Up packet
type PDelayRespFollowUp struct {
	Header
	PDelayRespFollowUpBody
}

// Packet is an interface to abstract all different packets
type Packet interface {
	MessageType() MessageType
	SetSequence(uint16)
}

// Bytes converts any packet to []bytes.
// Encoding is total: it always succeeds for in-range field values.
func Bytes(p Packet) ([]byte, error) {
	var b bytes.Buffer
	if err := binary.Write(&b, binary.BigEndian, p); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// FromBytes parses []byte into any packet
func FromBytes(rawBytes []byte, p Packet) error {
	reader := bytes.NewReader(rawBytes)
	return binary.Read(reader, binary.BigEndian, p)
}

// DecodePacket provides single entry point to try and decode any []bytes to a PTPv2 packet.
// Anything that doesn't parse into a complete packet of the advertised type comes back
// as ErrMalformedMessage, with no partially populated result.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is too short for a header", ErrMalformedMessage, len(b))
	}
	head := &Header{}
	r := bytes.NewReader(b)
	if err := binary.Read(r, binary.BigEndian, head); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrMalformedMessage, err)
	}
	if head.Version != Version {
		return nil, fmt.Errorf("%w: unsupported protocol version %d", ErrMalformedMessage, head.Version)
	}
	if int(head.MessageLength) > len(b) {
		return nil, fmt.Errorf("%w: header claims %d bytes, got %d", ErrMalformedMessage, head.MessageLength, len(b))
	}
	var p Packet
	switch msgType := head.MessageType(); msgType {
	case MessageSync, MessageDelayReq:
		p = &SyncDelayReq{}
	case MessagePDelayReq:
		p = &PDelayReq{}
	case MessagePDelayResp:
		p = &PDelayResp{}
	case MessageFollowUp:
		p = &FollowUp{}
	case MessageDelayResp:
		p = &DelayResp{}
	case MessagePDelayRespFollowUp:
		p = &PDelayRespFollowUp{}
	case MessageAnnounce:
		p = &Announce{}
	default:
		return nil, fmt.Errorf("%w: unsupported type %s", ErrMalformedMessage, msgType)
	}

	if err := FromBytes(b, p); err != nil {
		return nil, fmt.Errorf("%w: reading %s body: %v", ErrMalformedMessage, head.MessageType(), err)
	}
	return p, nil
}
