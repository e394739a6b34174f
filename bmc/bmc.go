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

// Package bmc implements the Best Master Clock Algorithm: a total-order
// comparison of clock datasets and the state decision derived from it.
// Everything here is pure functions over datasets, owned by nobody.
package bmc

import (
	ptp "github.com/meshtime/ptpsync/protocol"
)

// ComparisonResult is the type to represent comparisons
type ComparisonResult int8

const (
	// ABetterTopo means A is better based on topology
	ABetterTopo ComparisonResult = 2
	// ABetter means A is better based on dataset content
	ABetter ComparisonResult = 1
	// Unknown means we failed to determine better
	Unknown ComparisonResult = 0
	// BBetter means B is better based on dataset content
	BBetter ComparisonResult = -1
	// BBetterTopo means B is better based on topology
	BBetterTopo ComparisonResult = -2
)

// Dataset is a clock's advertised timing credentials, either our own
// ("local", SourcePortIdentity left zero) or taken from a received Announce.
type Dataset struct {
	Priority1          uint8
	ClockQuality       ptp.ClockQuality
	Priority2          uint8
	ClockIdentity      ptp.ClockIdentity
	StepsRemoved       uint16
	SourcePortIdentity ptp.PortIdentity
}

// DatasetFromAnnounce builds a foreign dataset from a received Announce
func DatasetFromAnnounce(a *ptp.Announce) *Dataset {
	return &Dataset{
		Priority1:          a.GrandmasterPriority1,
		ClockQuality:       a.GrandmasterClockQuality,
		Priority2:          a.GrandmasterPriority2,
		ClockIdentity:      a.GrandmasterIdentity,
		StepsRemoved:       a.StepsRemoved,
		SourcePortIdentity: a.Header.SourcePortIdentity,
	}
}

// Dscmp2 finds the better dataset based on network topology:
// fewer steps from the grandmaster wins, sender port identity breaks ties.
func Dscmp2(a, b *Dataset) ComparisonResult {
	if a.StepsRemoved+1 < b.StepsRemoved {
		return ABetter
	}
	if b.StepsRemoved+1 < a.StepsRemoved {
		return BBetter
	}
	diff := a.SourcePortIdentity.Compare(b.SourcePortIdentity)
	if diff < 0 {
		return ABetterTopo
	}
	if diff > 0 {
		return BBetterTopo
	}
	return Unknown
}

// Compare finds the better of two datasets.
// The comparison order is fixed by the standard and must never change:
// priority1, clockClass, clockAccuracy, offsetScaledLogVariance, priority2,
// then grandmaster identity. Identical grandmasters fall through to topology.
func Compare(a, b *Dataset) ComparisonResult {
	if a.ClockIdentity == b.ClockIdentity {
		return Dscmp2(a, b)
	}
	if a.Priority1 < b.Priority1 {
		return ABetter
	}
	if a.Priority1 > b.Priority1 {
		return BBetter
	}
	if a.ClockQuality.ClockClass < b.ClockQuality.ClockClass {
		return ABetter
	}
	if a.ClockQuality.ClockClass > b.ClockQuality.ClockClass {
		return BBetter
	}
	if a.ClockQuality.ClockAccuracy < b.ClockQuality.ClockAccuracy {
		return ABetter
	}
	if a.ClockQuality.ClockAccuracy > b.ClockQuality.ClockAccuracy {
		return BBetter
	}
	if a.ClockQuality.OffsetScaledLogVariance < b.ClockQuality.OffsetScaledLogVariance {
		return ABetter
	}
	if a.ClockQuality.OffsetScaledLogVariance > b.ClockQuality.OffsetScaledLogVariance {
		return BBetter
	}
	if a.Priority2 < b.Priority2 {
		return ABetter
	}
	if a.Priority2 > b.Priority2 {
		return BBetter
	}
	if a.ClockIdentity < b.ClockIdentity {
		return ABetter
	}
	return BBetter
}

// Better reports whether a wins over b, by content or topology
func Better(a, b *Dataset) bool {
	return Compare(a, b) > 0
}

// RecommendState derives the recommended port state from the local dataset
// and the clock's best qualified foreign dataset. bestOnThisPort tells whether
// the best foreign master was received on the port being decided: on a multi
// port clock only that port goes Slave, the rest go Passive.
func RecommendState(local, best *Dataset, bestOnThisPort bool) ptp.PortState {
	if best == nil {
		return ptp.PortStateMaster
	}
	if Better(local, best) {
		return ptp.PortStateMaster
	}
	if bestOnThisPort {
		return ptp.PortStateSlave
	}
	return ptp.PortStatePassive
}
