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
	"fmt"
	"time"
)

// DelayMechanism selects how path delay is measured
type DelayMechanism string

// Supported delay mechanisms
const (
	// E2E measures delay to the master via Delay_Req/Delay_Resp
	E2E DelayMechanism = "E2E"
	// P2P measures per-link delay via Pdelay_Req/Pdelay_Resp exchanges
	P2P DelayMechanism = "P2P"
)

// Config is a per-port configuration structure
type Config struct {
	PortNumber                       uint16         `yaml:"port_number"`
	DomainNumber                     uint8          `yaml:"domain_number"`
	AnnounceInterval                 time.Duration  `yaml:"announce_interval"`
	SyncInterval                     time.Duration  `yaml:"sync_interval"`
	DelayReqInterval                 time.Duration  `yaml:"delayreq_interval"`
	AnnounceReceiptTimeoutMultiplier int            `yaml:"announce_receipt_timeout_multiplier"`
	DelayMechanism                   DelayMechanism `yaml:"delay_mechanism"`
	// how many consecutive send failures we tolerate before going Faulty
	TransportFailureThreshold int `yaml:"transport_failure_threshold"`
}

// DefaultConfig returns port configuration with standard profile defaults
func DefaultConfig(portNumber uint16) Config {
	return Config{
		PortNumber:                       portNumber,
		AnnounceInterval:                 2 * time.Second,
		SyncInterval:                     time.Second,
		DelayReqInterval:                 time.Second,
		AnnounceReceiptTimeoutMultiplier: 3,
		DelayMechanism:                   E2E,
		TransportFailureThreshold:        5,
	}
}

// Normalize fills zero values with defaults and validates the result
func (c *Config) Normalize() error {
	def := DefaultConfig(c.PortNumber)
	if c.AnnounceInterval == 0 {
		c.AnnounceInterval = def.AnnounceInterval
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = def.SyncInterval
	}
	if c.DelayReqInterval == 0 {
		c.DelayReqInterval = def.DelayReqInterval
	}
	if c.AnnounceReceiptTimeoutMultiplier == 0 {
		c.AnnounceReceiptTimeoutMultiplier = def.AnnounceReceiptTimeoutMultiplier
	}
	if c.DelayMechanism == "" {
		c.DelayMechanism = def.DelayMechanism
	}
	if c.TransportFailureThreshold == 0 {
		c.TransportFailureThreshold = def.TransportFailureThreshold
	}
	if c.PortNumber == 0 {
		return fmt.Errorf("port number must be non-zero")
	}
	if c.DelayMechanism != E2E && c.DelayMechanism != P2P {
		return fmt.Errorf("unsupported delay mechanism %q", c.DelayMechanism)
	}
	if c.AnnounceInterval < 0 || c.SyncInterval < 0 || c.DelayReqInterval < 0 {
		return fmt.Errorf("intervals must be positive")
	}
	return nil
}

// AnnounceReceiptTimeout is how long we wait for Announces before concluding
// no better master exists
func (c *Config) AnnounceReceiptTimeout() time.Duration {
	return c.AnnounceInterval * time.Duration(c.AnnounceReceiptTimeoutMultiplier)
}

// SyncReceiptTimeout is how long a Slave port waits for Syncs before
// forcing re-election
func (c *Config) SyncReceiptTimeout() time.Duration {
	return c.SyncInterval * time.Duration(c.AnnounceReceiptTimeoutMultiplier)
}

// QualificationWindow bounds how far apart Announces may be and still count
// towards foreign master qualification
func (c *Config) QualificationWindow() time.Duration {
	return 4 * c.AnnounceInterval
}
