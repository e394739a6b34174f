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

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"time"
)

// 2 ** 16
const twoPow16 = 65536

// MessageType is type for Message Types
type MessageType uint8

// As per Table 36 Values of messageType field
const (
	MessageSync               MessageType = 0x0
	MessageDelayReq           MessageType = 0x1
	MessagePDelayReq          MessageType = 0x2
	MessagePDelayResp         MessageType = 0x3
	MessageFollowUp           MessageType = 0x8
	MessageDelayResp          MessageType = 0x9
	MessagePDelayRespFollowUp MessageType = 0xA
	MessageAnnounce           MessageType = 0xB
)

// MessageTypeToString is a map from MessageType to string
var MessageTypeToString = map[MessageType]string{
	MessageSync:               "SYNC",
	MessageDelayReq:           "DELAY_REQ",
	MessagePDelayReq:          "PDELAY_REQ",
	MessagePDelayResp:         "PDELAY_RESP",
	MessageFollowUp:           "FOLLOW_UP",
	MessageDelayResp:          "DELAY_RESP",
	MessagePDelayRespFollowUp: "PDELAY_RESP_FOLLOW_UP",
	MessageAnnounce:           "ANNOUNCE",
}

func (m MessageType) String() string {
	return MessageTypeToString[m]
}

// SdoIDAndMsgType is a uint8 where first 4 bits contain SdoID and last 4 bits MessageType
type SdoIDAndMsgType uint8

// MsgType extracts MessageType from SdoIDAndMsgType
func (m SdoIDAndMsgType) MsgType() MessageType {
	return MessageType(m & 0xf) // last 4 bits
}

// NewSdoIDAndMsgType builds new SdoIDAndMsgType from MessageType and sdoID
func NewSdoIDAndMsgType(msgType MessageType, sdoID uint8) SdoIDAndMsgType {
	return SdoIDAndMsgType(sdoID<<4 | uint8(msgType))
}

// ProbeMsgType reads first 8 bits of data and tries to decode it to SdoIDAndMsgType, then return MessageType
func ProbeMsgType(data []byte) (msg MessageType, err error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("not enough data to probe MsgType")
	}
	return SdoIDAndMsgType(data[0]).MsgType(), nil
}

/*
TimeInterval is the time interval expressed in nanoseconds, multiplied by 2**16.
Positive or negative time intervals outside the maximum range of this data type shall be encoded as the largest
positive and negative values of the data type, respectively.
For example, 2.5 ns is expressed as 0000 0000 0002 8000 base 16
*/
type TimeInterval int64

// Nanoseconds decodes TimeInterval to human-understandable nanoseconds
func (t TimeInterval) Nanoseconds() float64 {
	return float64(t) / twoPow16
}

func (t TimeInterval) String() string {
	return fmt.Sprintf("TimeInterval(%.3fns)", t.Nanoseconds())
}

// NewTimeInterval returns TimeInterval built from Nanoseconds
func NewTimeInterval(ns float64) TimeInterval {
	return TimeInterval(NewCorrection(ns))
}

/*
Correction is the value of the correction measured in nanoseconds and multiplied by 2**16.
For example, 2.5 ns is represented as 0000 0000 0002 8000 base 16
Values outside the representable range are saturated to the largest positive or
negative value, which TooBig reports as an overflow marker.
*/
type Correction int64

// Nanoseconds decodes Correction to human-understandable nanoseconds
func (t Correction) Nanoseconds() float64 {
	if t.TooBig() {
		if t < 0 {
			return math.Inf(-1)
		}
		return math.Inf(1)
	}
	return float64(t) / twoPow16
}

// Duration converts Correction to time.Duration, ignoring
// case where correction is too big, and dropping fractions of nanoseconds
func (t Correction) Duration() time.Duration {
	if !t.TooBig() {
		return time.Duration(t.Nanoseconds())
	}
	return 0
}

func (t Correction) String() string {
	if t.TooBig() {
		return "Correction(Too big)"
	}
	return fmt.Sprintf("Correction(%.3fns)", t.Nanoseconds())
}

// TooBig means correction is too big to be represented.
func (t Correction) TooBig() bool {
	return t == math.MaxInt64 || t == math.MinInt64
}

// Add returns t+u, saturating instead of wrapping around
func (t Correction) Add(u Correction) Correction {
	s := t + u
	if t > 0 && u > 0 && s < 0 {
		return Correction(math.MaxInt64)
	}
	if t < 0 && u < 0 && s >= 0 {
		return Correction(math.MinInt64)
	}
	return s
}

// Sub returns t-u, saturating instead of wrapping around
func (t Correction) Sub(u Correction) Correction {
	if u == math.MinInt64 {
		return t.Add(Correction(math.MaxInt64))
	}
	return t.Add(-u)
}

// Half returns t/2, used by mean path delay calculations
func (t Correction) Half() Correction {
	return t / 2
}

// NewCorrection returns Correction built from Nanoseconds
func NewCorrection(ns float64) Correction {
	t := ns * twoPow16
	if t >= float64(math.MaxInt64) {
		return Correction(math.MaxInt64)
	}
	if t <= float64(math.MinInt64) {
		return Correction(math.MinInt64)
	}
	return Correction(t)
}

// DurationToCorrection converts time.Duration to Correction
func DurationToCorrection(d time.Duration) Correction {
	return NewCorrection(float64(d.Nanoseconds()))
}

// The ClockIdentity type identifies unique entities within a PTP Network, e.g. a PTP Instance or an entity of a common service.
type ClockIdentity uint64

// String formats ClockIdentity same way ptp4l pmc client does
func (c ClockIdentity) String() string {
	ptr := make([]byte, 8)
	binary.BigEndian.PutUint64(ptr, uint64(c))
	return fmt.Sprintf("%02x%02x%02x.%02x%02x.%02x%02x%02x",
		ptr[0], ptr[1], ptr[2], ptr[3],
		ptr[4], ptr[5], ptr[6], ptr[7],
	)
}

// NewClockIdentity creates new ClockIdentity from MAC address
func NewClockIdentity(mac net.HardwareAddr) (ClockIdentity, error) {
	b := [8]byte{}
	switch len(mac) {
	case 6: // EUI-48
		b[0] = mac[0]
		b[1] = mac[1]
		b[2] = mac[2]
		b[3] = 0xFF
		b[4] = 0xFE
		b[5] = mac[3]
		b[6] = mac[4]
		b[7] = mac[5]
	case 8: // EUI-64
		copy(b[:], mac)
	default:
		return 0, fmt.Errorf("unsupported MAC %v, must be either EUI48 or EUI64", mac)
	}
	return ClockIdentity(binary.BigEndian.Uint64(b[:])), nil
}

// The PortIdentity type identifies a PTP Port or a Link Port
type PortIdentity struct {
	ClockIdentity ClockIdentity
	PortNumber    uint16
}

// String formats PortIdentity same way ptp4l pmc client does
func (p PortIdentity) String() string {
	return fmt.Sprintf("%s-%d", p.ClockIdentity, p.PortNumber)
}

// Compare returns an integer comparing two port identities. The result will be 0 if p == q, -1 if p < q, and +1 if p > q.
// Port identities sort first by clock identity, then their port numbers.
func (p PortIdentity) Compare(q PortIdentity) int {
	switch {
	case p.ClockIdentity < q.ClockIdentity:
		return -1
	case p.ClockIdentity > q.ClockIdentity:
		return 1
	}
	switch {
	case p.PortNumber < q.PortNumber:
		return -1
	case p.PortNumber > q.PortNumber:
		return 1
	}
	return 0
}

// Less reports whether p sorts before q.
func (p PortIdentity) Less(q PortIdentity) bool { return p.Compare(q) == -1 }

// Seconds48 is the 48-bit seconds field of a PTP timestamp,
// a 16-bit high part followed by a 32-bit low part, big endian.
type Seconds48 [6]uint8

// Empty returns true for 0 seconds
func (s Seconds48) Empty() bool {
	return s == Seconds48{}
}

// High returns the upper 16 bits of the seconds value
func (s Seconds48) High() uint16 {
	return uint16(s[1]) | uint16(s[0])<<8
}

// Low returns the lower 32 bits of the seconds value
func (s Seconds48) Low() uint32 {
	return uint32(s[5]) | uint32(s[4])<<8 | uint32(s[3])<<16 | uint32(s[2])<<24
}

// Total returns number of seconds as uint64
func (s Seconds48) Total() uint64 {
	return uint64(s.Low()) | uint64(s.High())<<32
}

// Time returns number of seconds as Time
func (s Seconds48) Time() time.Time {
	if s.Empty() {
		return time.Time{}
	}
	return time.Unix(int64(s.Total()), 0)
}

// String returns number of seconds as String
func (s Seconds48) String() string {
	if s.Empty() {
		return "Seconds48(empty)"
	}
	return fmt.Sprintf("Seconds48(%s)", s.Time())
}

// NewSeconds48 creates seconds field from a seconds count, saturating at 2**48-1
func NewSeconds48(v uint64) Seconds48 {
	if v > 1<<48-1 {
		v = 1<<48 - 1
	}
	s := Seconds48{}
	s[0] = byte(v >> 40)
	s[1] = byte(v >> 32)
	s[2] = byte(v >> 24)
	s[3] = byte(v >> 16)
	s[4] = byte(v >> 8)
	s[5] = byte(v)
	return s
}

/*
Timestamp type represents a positive time with respect to the epoch.
The secondsField member is the integer portion of the timestamp in units of seconds.
The nanosecondsField member is the fractional portion of the timestamp in units of nanoseconds.
The nanosecondsField member is always less than 10**9.
For example:
+2.000000001 seconds is represented by secondsField = 0000 0000 0002 base 16 and nanosecondsField = 0000 0001 base 16.
*/
type Timestamp struct {
	Seconds     Seconds48
	Nanoseconds uint32
}

// Valid reports whether the nanoseconds field is within range
func (t Timestamp) Valid() bool {
	return t.Nanoseconds < 1e9
}

// Time turns Timestamp into normal Go time.Time
func (t Timestamp) Time() time.Time {
	if t.Empty() {
		return time.Time{}
	}
	return time.Unix(int64(t.Seconds.Total()), int64(t.Nanoseconds))
}

// Empty timestamp
func (t Timestamp) Empty() bool {
	return t.Nanoseconds == 0 && t.Seconds.Empty()
}

// String representation of the timestamp
func (t Timestamp) String() string {
	if t.Empty() {
		return "Timestamp(empty)"
	}
	return fmt.Sprintf("Timestamp(%s)", t.Time())
}

// NewTimestamp allows to create Timestamp from time.Time
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{
		Seconds:     NewSeconds48(uint64(t.Unix())),
		Nanoseconds: uint32(t.Nanosecond()),
	}
}

// SubTimestamps returns a-b as a fixed point Correction.
// Differences outside the representable range saturate.
func SubTimestamps(a, b Timestamp) Correction {
	const maxNs = math.MaxInt64 >> 16
	secDiff := int64(a.Seconds.Total()) - int64(b.Seconds.Total())
	// reject seconds deltas that would overflow the ns multiplication
	if secDiff > maxNs/int64(time.Second)+1 {
		return Correction(math.MaxInt64)
	}
	if secDiff < -maxNs/int64(time.Second)-1 {
		return Correction(math.MinInt64)
	}
	nsDiff := secDiff*int64(time.Second) + int64(a.Nanoseconds) - int64(b.Nanoseconds)
	if nsDiff > maxNs {
		return Correction(math.MaxInt64)
	}
	if nsDiff < math.MinInt64>>16 {
		return Correction(math.MinInt64)
	}
	return Correction(nsDiff << 16)
}

// ClockClass represents a PTP clock class
type ClockClass uint8

// Available Clock Classes
// https://datatracker.ietf.org/doc/html/rfc8173#section-7.6.2.4
const (
	ClockClass6         ClockClass = 6
	ClockClass7         ClockClass = 7
	ClockClass13        ClockClass = 13
	ClockClass52        ClockClass = 52
	ClockClass58        ClockClass = 58
	ClockClassDefault   ClockClass = 248
	ClockClassSlaveOnly ClockClass = 255
)

// ClockAccuracy represents a PTP clock accuracy
type ClockAccuracy uint8

// Available Clock Accuracy
// https://datatracker.ietf.org/doc/html/rfc8173#section-7.6.2.5
const (
	ClockAccuracyNanosecond25   ClockAccuracy = 0x20
	ClockAccuracyNanosecond100  ClockAccuracy = 0x21
	ClockAccuracyNanosecond250  ClockAccuracy = 0x22
	ClockAccuracyMicrosecond1   ClockAccuracy = 0x23
	ClockAccuracyMicrosecond10  ClockAccuracy = 0x25
	ClockAccuracyMicrosecond100 ClockAccuracy = 0x27
	ClockAccuracyMillisecond1   ClockAccuracy = 0x29
	ClockAccuracyMillisecond10  ClockAccuracy = 0x2B
	ClockAccuracySecond1        ClockAccuracy = 0x2F
	ClockAccuracyUnknown        ClockAccuracy = 0xFE
)

// ClockQuality represents the quality of a clock.
type ClockQuality struct {
	ClockClass              ClockClass    `json:"clock_class"`
	ClockAccuracy           ClockAccuracy `json:"clock_accuracy"`
	OffsetScaledLogVariance uint16        `json:"offset_scaled_log_variance"`
}

// TimeSource indicates the immediate source of time used by the Grandmaster PTP Instance
type TimeSource uint8

// TimeSource values, Table 6 timeSource enumeration
const (
	TimeSourceAtomicClock        TimeSource = 0x10
	TimeSourceGNSS               TimeSource = 0x20
	TimeSourceTerrestrialRadio   TimeSource = 0x30
	TimeSourcePTP                TimeSource = 0x40
	TimeSourceNTP                TimeSource = 0x50
	TimeSourceHandSet            TimeSource = 0x60
	TimeSourceOther              TimeSource = 0x90
	TimeSourceInternalOscillator TimeSource = 0xa0
)

// TimeSourceToString is a map from TimeSource to string
var TimeSourceToString = map[TimeSource]string{
	TimeSourceAtomicClock:        "ATOMIC_CLOCK",
	TimeSourceGNSS:               "GNSS",
	TimeSourceTerrestrialRadio:   "TERRESTRIAL_RADIO",
	TimeSourcePTP:                "PTP",
	TimeSourceNTP:                "NTP",
	TimeSourceHandSet:            "HAND_SET",
	TimeSourceOther:              "OTHER",
	TimeSourceInternalOscillator: "INTERNAL_OSCILLATOR",
}

func (t TimeSource) String() string {
	return TimeSourceToString[t]
}

// LogInterval shall be the logarithm, to base 2, of the requested period in seconds.
// In layman's terms, it's specified as a power of two in seconds.
type LogInterval int8

// Duration returns LogInterval as time.Duration
func (i LogInterval) Duration() time.Duration {
	secs := math.Pow(2, float64(i))
	return time.Duration(secs * float64(time.Second))
}

// NewLogInterval returns new LogInterval from time.Duration.
// The values of these logarithmic attributes shall be selected from integers in the range -128 to 127 subject to
// further limits established in the applicable PTP Profile.
func NewLogInterval(d time.Duration) (LogInterval, error) {
	li := int(math.Log2(d.Seconds()))
	if li > 127 {
		return 0, fmt.Errorf("logInterval %d is too big", li)
	}
	if li < -128 {
		return 0, fmt.Errorf("logInterval %d is too small", li)
	}
	return LogInterval(li), nil
}

// PortState is a enum describing one of possible states of port state machines
type PortState uint8

// Table 20 PTP state enumeration
const (
	PortStateInitializing PortState = iota + 1
	PortStateFaulty
	PortStateDisabled
	PortStateListening
	PortStatePreMaster
	PortStateMaster
	PortStatePassive
	PortStateUncalibrated
	PortStateSlave
)

// PortStateToString is a map from PortState to string
var PortStateToString = map[PortState]string{
	PortStateInitializing: "INITIALIZING",
	PortStateFaulty:       "FAULTY",
	PortStateDisabled:     "DISABLED",
	PortStateListening:    "LISTENING",
	PortStatePreMaster:    "PRE_MASTER",
	PortStateMaster:       "MASTER",
	PortStatePassive:      "PASSIVE",
	PortStateUncalibrated: "UNCALIBRATED",
	PortStateSlave:        "SLAVE",
}

func (ps PortState) String() string {
	return PortStateToString[ps]
}
