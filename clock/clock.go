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

// Package clock is the coordinator tying ports, BMCA and transports into one
// PTP clock. A single event loop owns all mutable state: transports and
// timers hand their work in as events and never touch ports directly. An
// Ordinary Clock is simply a Boundary Clock with one port.
package clock

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/meshtime/ptpsync/bmc"
	"github.com/meshtime/ptpsync/port"
	ptp "github.com/meshtime/ptpsync/protocol"
	"github.com/meshtime/ptpsync/stats"
	"github.com/meshtime/ptpsync/transport"
)

// ErrClockFault is a failure of the clock's own timestamp source
var ErrClockFault = errors.New("clock hardware fault")

// Deps are the capabilities a clock is constructed with. Transports are
// keyed by port number; every configured port needs one.
type Deps struct {
	Timers      port.Timers
	Timestamper transport.Timestamper
	Transports  map[uint16]transport.Transport
	Stats       *stats.Stats
}

// Snapshot is the published view of the currently selected master and the
// latest measurement against it. Readers always see a complete, immutable
// snapshot.
type Snapshot struct {
	GrandmasterIdentity ptp.ClockIdentity
	ParentPort          ptp.PortIdentity
	StepsRemoved        uint16
	LocalPort           uint16
	OffsetFromMaster    ptp.Correction
	MeanPathDelay       ptp.Correction
	Timestamp           time.Time
}

type event interface{}

type packetEvent struct {
	portNumber uint16
	data       []byte
	rxTS       time.Time
}

type timerEvent struct {
	portNumber uint16
	kind       port.TimerKind
	gen        uint64
}

type readyEvent struct {
	portNumber uint16
}

type resetEvent struct {
	portNumber uint16
	done       chan error
}

type reconfigEvent struct {
	cfg  Config
	done chan error
}

// Clock is a multi-port PTP clock instance
type Clock struct {
	cfg  Config
	id   ptp.ClockIdentity
	deps Deps
	sts  *stats.Stats

	ports []*port.Port

	events  chan event
	running atomic.Bool
	// inline mode executor state, single driving goroutine only
	pending    []event
	processing bool

	parent   atomic.Pointer[bmc.Dataset]
	snapshot atomic.Pointer[Snapshot]
}

// New builds a clock from its configuration and capabilities
func New(cfg Config, deps Deps) (*Clock, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if deps.Timers == nil || deps.Timestamper == nil {
		return nil, fmt.Errorf("missing timers or timestamper")
	}
	if deps.Stats == nil {
		deps.Stats = stats.NewStats()
	}
	id, err := cfg.ClockIdentity()
	if err != nil {
		return nil, err
	}
	c := &Clock{
		cfg:    cfg,
		id:     id,
		deps:   deps,
		sts:    deps.Stats,
		events: make(chan event, 128),
	}
	if err := c.buildPorts(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Clock) buildPorts() error {
	c.ports = nil
	for _, pc := range c.cfg.Ports {
		tr, ok := c.deps.Transports[pc.Port.PortNumber]
		if !ok {
			return fmt.Errorf("no transport for port %d", pc.Port.PortNumber)
		}
		pn := pc.Port.PortNumber
		p, err := port.New(pc.Port, c.id, port.Deps{
			Timers: c.deps.Timers,
			Now:    c.now,
			Send:   c.sender(tr),
			OnTimer: func(k port.TimerKind, gen uint64) {
				// expiries rearm inside the handler, losing one would
				// silence the timer for good, so never drop them
				c.control(timerEvent{portNumber: pn, kind: k, gen: gen})
			},
			OnState: func(old, new ptp.PortState) {
				c.sts.IncTransition(new)
			},
			Advertised: c.advertised,
			Stats:      c.sts,
		})
		if err != nil {
			return err
		}
		c.ports = append(c.ports, p)
	}
	return nil
}

func (c *Clock) now() (time.Time, error) {
	t, err := c.deps.Timestamper.Now()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrClockFault, err)
	}
	return t, nil
}

func (c *Clock) sender(tr transport.Transport) func(pkt ptp.Packet) (time.Time, error) {
	return func(pkt ptp.Packet) (time.Time, error) {
		b, err := ptp.Bytes(pkt)
		if err != nil {
			return time.Time{}, fmt.Errorf("encoding %s: %w", pkt.MessageType(), err)
		}
		txTS, err := tr.Send(b)
		if err != nil {
			return time.Time{}, err
		}
		c.sts.IncTX(pkt.MessageType())
		return txTS, nil
	}
}

// Identity returns the clock identity
func (c *Clock) Identity() ptp.ClockIdentity {
	return c.id
}

// Dataset returns the clock's own timing credentials
func (c *Clock) Dataset() *bmc.Dataset {
	return &bmc.Dataset{
		Priority1:     c.cfg.Priority1,
		ClockQuality:  c.cfg.Quality(),
		Priority2:     c.cfg.Priority2,
		ClockIdentity: c.id,
	}
}

// advertised is what Master ports announce: our own dataset when we are the
// grandmaster, the upstream master's dataset one step further when we are a
// boundary clock slaved to it
func (c *Clock) advertised() port.Advertised {
	if parent := c.parent.Load(); parent != nil {
		d := *parent
		d.StepsRemoved++
		return port.Advertised{Dataset: &d, TimeSource: ptp.TimeSourcePTP, UTCOffset: c.cfg.CurrentUTCOffset}
	}
	return port.Advertised{Dataset: c.Dataset(), TimeSource: c.cfg.TimeSource, UTCOffset: c.cfg.CurrentUTCOffset}
}

// BestMaster returns the latest published master snapshot, nil while the
// clock is (or believes to be) the grandmaster with no measurements
func (c *Clock) BestMaster() *Snapshot {
	return c.snapshot.Load()
}

// State returns the state of one port
func (c *Clock) State(portNumber uint16) (ptp.PortState, error) {
	p := c.port(portNumber)
	if p == nil {
		return 0, fmt.Errorf("no port %d", portNumber)
	}
	return p.State(), nil
}

// PortNumbers lists the configured ports
func (c *Clock) PortNumbers() []uint16 {
	out := make([]uint16, 0, len(c.ports))
	for _, p := range c.ports {
		out = append(out, p.Identity().PortNumber)
	}
	return out
}

func (c *Clock) port(portNumber uint16) *port.Port {
	for _, p := range c.ports {
		if p.Identity().PortNumber == portNumber {
			return p
		}
	}
	return nil
}

// Reset forces one port through Initializing back into operation. It is the
// only way out of Faulty.
func (c *Clock) Reset(portNumber uint16) error {
	done := make(chan error, 1)
	c.control(resetEvent{portNumber: portNumber, done: done})
	return <-done
}

// Reconfigure atomically replaces the clock configuration, rebuilding all
// ports. The clock identity must not change.
func (c *Clock) Reconfigure(cfg Config) error {
	if err := cfg.Normalize(); err != nil {
		return err
	}
	id, err := cfg.ClockIdentity()
	if err != nil {
		return err
	}
	if id != c.id {
		return fmt.Errorf("identity change from %s to %s requires a new clock", c.id, id)
	}
	done := make(chan error, 1)
	c.control(reconfigEvent{cfg: cfg, done: done})
	return <-done
}

// Deliver hands one received message to the clock, used by transports
func (c *Clock) Deliver(portNumber uint16, b []byte, rxTS time.Time) {
	c.dispatch(packetEvent{portNumber: portNumber, data: b, rxTS: rxTS})
}

// dispatch queues the event for the running loop, or processes it inline
// when no loop runs, which keeps single-threaded simulations deterministic.
// Only packet events travel this lossy path, timer and control events go
// through control.
func (c *Clock) dispatch(ev event) {
	if c.running.Load() {
		select {
		case c.events <- ev:
		default:
			log.Warningf("clock %s: event queue full, dropping %T", c.id, ev)
		}
		return
	}
	c.dispatchInline(ev)
}

// dispatchInline runs events to completion one at a time. Events arriving
// while one is being processed, such as a synchronous reply from an
// in-memory peer, are queued and drained by the outermost call. Inline mode
// is only safe from a single driving goroutine.
func (c *Clock) dispatchInline(ev event) {
	c.pending = append(c.pending, ev)
	if c.processing {
		return
	}
	c.processing = true
	defer func() { c.processing = false }()
	for len(c.pending) > 0 {
		next := c.pending[0]
		c.pending = c.pending[1:]
		c.process(next)
	}
}

// control enqueues an event that must not be dropped: timer expiries, and
// requests whose sender is blocked waiting for a reply
func (c *Clock) control(ev event) {
	if c.running.Load() {
		c.events <- ev
		return
	}
	c.dispatchInline(ev)
}

// Run starts the event loop and all transport listeners, blocking until the
// context is cancelled
func (c *Clock) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	c.running.Store(true)
	defer c.running.Store(false)

	eg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-c.events:
				c.process(ev)
			}
		}
	})
	for _, p := range c.ports {
		pn := p.Identity().PortNumber
		tr := c.deps.Transports[pn]
		eg.Go(func() error {
			return tr.Listen(ctx, func(b []byte, rxTS time.Time) {
				c.Deliver(pn, b, rxTS)
			})
		})
		c.events <- readyEvent{portNumber: pn}
	}
	log.Infof("clock %s: running %d port(s)", c.id, len(c.ports))
	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// process runs one event to completion; the caller guarantees mutual exclusion
func (c *Clock) process(ev event) {
	switch v := ev.(type) {
	case packetEvent:
		c.processPacket(v)
	case timerEvent:
		if p := c.port(v.portNumber); p != nil {
			if p.HandleTimer(v.kind, v.gen) {
				c.reselect()
			}
			c.publish(p)
		}
	case readyEvent:
		if p := c.port(v.portNumber); p != nil {
			p.InterfaceReady()
		}
	case resetEvent:
		p := c.port(v.portNumber)
		if p == nil {
			v.done <- fmt.Errorf("no port %d", v.portNumber)
			return
		}
		p.Reset()
		p.InterfaceReady()
		c.reselect()
		v.done <- nil
	case reconfigEvent:
		v.done <- c.applyConfig(v.cfg)
	}
}

func (c *Clock) processPacket(ev packetEvent) {
	p := c.port(ev.portNumber)
	if p == nil {
		return
	}
	pkt, err := ptp.DecodePacket(ev.data)
	if err != nil {
		// malformed input never disturbs the state machine
		c.sts.Inc(stats.MalformedRX)
		log.Debugf("clock %s: dropping malformed packet on port %d: %v", c.id, ev.portNumber, err)
		return
	}
	c.sts.IncRX(pkt.MessageType())
	if p.HandlePacket(pkt, ev.rxTS) {
		c.reselect()
	}
	c.publish(p)
}

// reselect runs the clock-wide best master selection and steers every port
// towards its recommended state
func (c *Clock) reselect() {
	c.sts.Inc(stats.Reselections)
	local := c.Dataset()

	var best *bmc.Dataset
	var bestPort uint16
	for _, p := range c.ports {
		d := p.BestForeign()
		if d == nil {
			continue
		}
		if best == nil || bmc.Better(d, best) {
			best = d
			bestPort = p.Identity().PortNumber
		}
	}

	// the dataset our Master ports compete with: the upstream grandmaster
	// one step further when we are slaved to one, ourselves otherwise
	adv := local
	slaved := best != nil && bmc.Better(best, local)
	if slaved {
		d := *best
		d.StepsRemoved++
		adv = &d
	}
	for _, p := range c.ports {
		if slaved && p.Identity().PortNumber == bestPort {
			// the port hearing the best master follows it
			p.ApplyRecommendation(local, best, true)
			continue
		}
		// every other port decides against its own segment only
		p.ApplyRecommendation(adv, p.BestForeign(), false)
	}

	// parent tracking: we are our own grandmaster unless some port is
	// actually slaved to the selected foreign master
	if slaved {
		if p := c.port(bestPort); p != nil {
			switch p.State() {
			case ptp.PortStateSlave, ptp.PortStateUncalibrated:
				c.parent.Store(best)
				return
			}
		}
	}
	c.parent.Store(nil)
	c.snapshot.Store(nil)
}

// publish refreshes the master snapshot from a slave port's measurements
func (c *Clock) publish(p *port.Port) {
	if p.State() != ptp.PortStateSlave {
		return
	}
	parent := c.parent.Load()
	res := p.LastMeasurement()
	if parent == nil || res == nil {
		return
	}
	old := c.snapshot.Load()
	if old != nil && !res.Timestamp.After(old.Timestamp) {
		return
	}
	pn := p.Identity().PortNumber
	c.snapshot.Store(&Snapshot{
		GrandmasterIdentity: parent.ClockIdentity,
		ParentPort:          parent.SourcePortIdentity,
		StepsRemoved:        parent.StepsRemoved,
		LocalPort:           pn,
		OffsetFromMaster:    res.Offset,
		MeanPathDelay:       res.MeanPathDelay,
		Timestamp:           res.Timestamp,
	})
	c.sts.Inc(stats.MeasurementsTotal)
	c.sts.SetGauge(fmt.Sprintf("port%d.offset_ns", pn), res.Offset.Nanoseconds())
	c.sts.SetGauge(fmt.Sprintf("port%d.mean_path_delay_ns", pn), res.MeanPathDelay.Nanoseconds())
}

// applyConfig rebuilds all ports under the new configuration
func (c *Clock) applyConfig(cfg Config) error {
	for _, p := range c.ports {
		p.Reset()
	}
	old := c.cfg
	c.cfg = cfg
	if err := c.buildPorts(); err != nil {
		c.cfg = old
		if rerr := c.buildPorts(); rerr != nil {
			return fmt.Errorf("rebuilding ports after failed reconfigure: %v (original: %w)", rerr, err)
		}
		c.activate()
		return err
	}
	c.parent.Store(nil)
	c.snapshot.Store(nil)
	c.activate()
	log.Infof("clock %s: reconfigured with %d port(s)", c.id, len(c.ports))
	return nil
}

// activate marks every port's interface ready, used after rebuilds; during
// Run the readiness events do this
func (c *Clock) activate() {
	for _, p := range c.ports {
		p.InterfaceReady()
	}
}
