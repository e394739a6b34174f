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
	"net"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/meshtime/ptpsync/port"
	ptp "github.com/meshtime/ptpsync/protocol"
	"github.com/meshtime/ptpsync/transport"
)

// PortConfig binds a port to its network endpoint
type PortConfig struct {
	Port port.Config         `yaml:"port"`
	UDP  transport.UDPConfig `yaml:"udp"`
}

// Config describes one clock: its identity and advertised quality, plus the
// ports it runs
type Config struct {
	// Identity is the MAC address the clock identity is derived from,
	// e.g. "0c:42:a1:6d:7c:a6"
	Identity                string            `yaml:"identity"`
	DomainNumber            uint8             `yaml:"domain_number"`
	Priority1               uint8             `yaml:"priority1"`
	Priority2               uint8             `yaml:"priority2"`
	ClockClass              ptp.ClockClass    `yaml:"clock_class"`
	ClockAccuracy           ptp.ClockAccuracy `yaml:"clock_accuracy"`
	OffsetScaledLogVariance uint16            `yaml:"offset_scaled_log_variance"`
	TimeSource              ptp.TimeSource    `yaml:"time_source"`
	CurrentUTCOffset        int16             `yaml:"utc_offset"`
	Ports                   []PortConfig      `yaml:"ports"`
	StatsAddr               string            `yaml:"stats_addr"`
	LogLevel                string            `yaml:"log_level"`
}

// Normalize fills defaults and validates the configuration
func (c *Config) Normalize() error {
	if c.Priority1 == 0 {
		c.Priority1 = 128
	}
	if c.Priority2 == 0 {
		c.Priority2 = 128
	}
	if c.ClockClass == 0 {
		c.ClockClass = ptp.ClockClassDefault
	}
	if c.ClockAccuracy == 0 {
		c.ClockAccuracy = ptp.ClockAccuracyUnknown
	}
	if c.OffsetScaledLogVariance == 0 {
		c.OffsetScaledLogVariance = 0xffff
	}
	if c.TimeSource == 0 {
		c.TimeSource = ptp.TimeSourceInternalOscillator
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.Ports) == 0 {
		return fmt.Errorf("at least one port required")
	}
	seen := map[uint16]bool{}
	for i := range c.Ports {
		pc := &c.Ports[i].Port
		pc.DomainNumber = c.DomainNumber
		if err := pc.Normalize(); err != nil {
			return err
		}
		if seen[pc.PortNumber] {
			return fmt.Errorf("duplicate port number %d", pc.PortNumber)
		}
		seen[pc.PortNumber] = true
	}
	if _, err := c.ClockIdentity(); err != nil {
		return err
	}
	return nil
}

// ClockIdentity derives the clock identity from the configured MAC address
func (c *Config) ClockIdentity() (ptp.ClockIdentity, error) {
	mac, err := net.ParseMAC(c.Identity)
	if err != nil {
		return 0, fmt.Errorf("parsing identity %q: %w", c.Identity, err)
	}
	return ptp.NewClockIdentity(mac)
}

// Quality returns the advertised clock quality
func (c *Config) Quality() ptp.ClockQuality {
	return ptp.ClockQuality{
		ClockClass:              c.ClockClass,
		ClockAccuracy:           c.ClockAccuracy,
		OffsetScaledLogVariance: c.OffsetScaledLogVariance,
	}
}

// ReadConfig loads and normalizes a yaml config file
func ReadConfig(path string) (*Config, error) {
	c := &Config{}
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(cData, c); err != nil {
		return nil, fmt.Errorf("parsing %q: %w", path, err)
	}
	if err := c.Normalize(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return c, nil
}
