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

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// MaxPacketSize is enough for any supported message
const MaxPacketSize = 508

// UDPConfig describes one UDP transport endpoint
type UDPConfig struct {
	// LocalAddr is the address to listen on, e.g. "0.0.0.0:319"
	LocalAddr string `yaml:"local_addr"`
	// RemoteAddr is where Send delivers, a unicast peer or the PTP
	// multicast group "224.0.1.129:319"
	RemoteAddr string `yaml:"remote_addr"`
	// Interface to join multicast on, empty picks the default
	Interface string `yaml:"iface"`
}

// UDP is a Transport over a UDP socket with software timestamps taken as
// close to the socket operations as the net package allows
type UDP struct {
	conn *net.UDPConn
	dst  *net.UDPAddr
	ts   Timestamper
}

// NewUDP opens the socket described by cfg. Multicast destinations are
// joined for receiving.
func NewUDP(cfg UDPConfig, ts Timestamper) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving local addr %q: %w", cfg.LocalAddr, err)
	}
	dst, err := net.ResolveUDPAddr("udp", cfg.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving remote addr %q: %w", cfg.RemoteAddr, err)
	}
	var conn *net.UDPConn
	if dst.IP.IsMulticast() {
		var iface *net.Interface
		if cfg.Interface != "" {
			iface, err = net.InterfaceByName(cfg.Interface)
			if err != nil {
				return nil, fmt.Errorf("looking up interface %q: %w", cfg.Interface, err)
			}
		}
		conn, err = net.ListenMulticastUDP("udp", iface, &net.UDPAddr{IP: dst.IP, Port: laddr.Port})
	} else {
		conn, err = net.ListenUDP("udp", laddr)
	}
	if err != nil {
		return nil, fmt.Errorf("listening on %q: %w", cfg.LocalAddr, err)
	}
	log.Debugf("udp transport on %s, sending to %s", conn.LocalAddr(), dst)
	return &UDP{conn: conn, dst: dst, ts: ts}, nil
}

// Send writes the message and returns its transmit timestamp
func (u *UDP) Send(b []byte) (time.Time, error) {
	txTS, err := u.ts.Now()
	if err != nil {
		return time.Time{}, fmt.Errorf("reading tx timestamp: %w", err)
	}
	if _, err := u.conn.WriteToUDP(b, u.dst); err != nil {
		return time.Time{}, fmt.Errorf("sending to %s: %w", u.dst, err)
	}
	return txTS, nil
}

// Listen delivers inbound messages to h until ctx is cancelled or the
// socket is closed
func (u *UDP) Listen(ctx context.Context, h Handler) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		// unblock the reader
		u.conn.SetReadDeadline(time.Now())
		return nil
	})
	eg.Go(func() error {
		buf := make([]byte, MaxPacketSize)
		for {
			n, addr, err := u.conn.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("reading from %s: %w", u.conn.LocalAddr(), err)
			}
			rxTS, err := u.ts.Now()
			if err != nil {
				return fmt.Errorf("reading rx timestamp: %w", err)
			}
			log.Debugf("udp: %d bytes from %s", n, addr)
			b := make([]byte, n)
			copy(b, buf[:n])
			h(b, rxTS)
		}
	})
	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close shuts the socket down
func (u *UDP) Close() error {
	return u.conn.Close()
}
