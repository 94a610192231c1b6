// NAT gateway control loop
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package gateway owns the LAN/WAN forwarding engine and drives it with
// a single poll loop, grounded in original_source's net_demo.c main
// loop: poll both interfaces, age out idle NAT/ARP state, and issue
// periodic ARP requests and ICMP echo liveness probes.
package gateway

import (
	"time"

	"gvisor.dev/gvisor/pkg/tcpip"

	"github.com/usbarmory/natgw/internal/syslog"
	"github.com/usbarmory/natgw/net/arpcache"
	"github.com/usbarmory/natgw/net/forward"
	"github.com/usbarmory/natgw/net/nat"
)

// idleTicksPerARP and successTicksPerEcho mirror net_demo.c's
// idle_ticks/echo_period thresholds (10 and 5 loop iterations).
const (
	idleTicksPerARP     = 10
	successTicksPerEcho = 5

	pollDelay = 100 * time.Millisecond

	rxBufferSize = 2048

	// echoIdentifier is the fixed ICMP identifier used for the control
	// loop's own liveness probes, distinct from any NAT-allocated port.
	echoIdentifier = 0x1234
)

// echoPayload is the liveness probe's fixed payload, incrementing bytes
// 1..16.
var echoPayload = func() [16]byte {
	var p [16]byte
	for i := range p {
		p[i] = byte(i + 1)
	}
	return p
}()

// Config collects the gateway's compile-time parameters, kept as a
// struct rather than package globals so tests can instantiate
// alternate configurations (per §1's no-dynamic-configuration
// Non-goal, everything here is a Go constant or literal at the call
// site, never read from a file or flag).
type Config struct {
	LANSubnet [3]byte
	LANIP     [4]byte
	LANPeerIP [4]byte
	WANIP     [4]byte
	WANPeerIP [4]byte
}

// Gateway owns the forwarding engine, both network interfaces, and the
// poll-loop bookkeeping (idle/echo tick counters, monotonic clock).
// A single instance per board, matching net_demo.c's static g_lan_if/
// g_wan_if/g_nat_table globals folded into one addressable struct per
// the re-architecting guidance.
type Gateway struct {
	Engine *forward.Engine

	now func() uint32

	idleTicks  uint32
	lanEchoes  uint32
	wanEchoes  uint32
	lanSeq     uint16
	wanSeq     uint16

	log *syslog.Logger
}

// New builds a Gateway wiring lan/wan into a forwarding engine per cfg.
// now is the monotonic millisecond clock used for NAT/ARP aging; on the
// real board this is the ARM generic timer's counter, divided down to
// milliseconds.
func New(cfg Config, lan, wan *forward.Interface, now func() uint32) *Gateway {
	var natTable nat.Table
	natTable.Init()

	var arp arpcache.Cache

	lan.LocalIP = tcpip.Address(cfg.LANIP[:])
	lan.PeerIP = tcpip.Address(cfg.LANPeerIP[:])
	wan.LocalIP = tcpip.Address(cfg.WANIP[:])
	wan.PeerIP = tcpip.Address(cfg.WANPeerIP[:])

	engine := &forward.Engine{
		LAN:       lan,
		WAN:       wan,
		LANSubnet: cfg.LANSubnet,
		WANIP:     tcpip.Address(cfg.WANIP[:]),
		NAT:       &natTable,
		ARP:       &arp,
	}

	return &Gateway{
		Engine: engine,
		now:    now,
		lanSeq: 1,
		wanSeq: 1,
		log:    syslog.New("NAT"),
	}
}

// Run polls both interfaces forever, never returning under normal
// operation. Call it from the board's main goroutine after Init.
func (g *Gateway) Run() {
	g.announce()

	buf := make([]byte, rxBufferSize)

	for {
		lanProgressed := g.poll(g.Engine.LAN, buf)
		wanProgressed := g.poll(g.Engine.WAN, buf)

		g.updateTickCounters(lanProgressed, wanProgressed)

		if g.idleTicks >= idleTicksPerARP {
			g.idleTicks = 0
			g.announce()
		}

		g.probe(g.Engine.LAN, &g.lanEchoes, &g.lanSeq)
		g.probe(g.Engine.WAN, &g.wanEchoes, &g.wanSeq)

		now := g.now()
		g.Engine.NAT.CleanupExpired(now)
		g.Engine.ARP.CleanupExpired(now)

		time.Sleep(pollDelay)
	}
}

// updateTickCounters resets the shared idle counter when either
// interface made progress, and each interface's own echo counter only
// when that interface made progress, matching net_demo.c's separate
// lan_echo_period/wan_echo_period against its single shared idle_ticks.
func (g *Gateway) updateTickCounters(lanProgressed, wanProgressed bool) {
	if lanProgressed || wanProgressed {
		g.idleTicks = 0
	} else {
		g.idleTicks++
	}

	if lanProgressed {
		g.lanEchoes = 0
	}

	if wanProgressed {
		g.wanEchoes = 0
	}
}

// poll drains iface's device of every pending frame, handing each one to
// the engine. It reports whether any frame was processed, used to reset
// the idle/echo tick counters.
func (g *Gateway) poll(iface *forward.Interface, buf []byte) (progressed bool) {
	dev, ok := iface.Device.(pollable)

	if !ok {
		return false
	}

	for dev.HasPending() {
		n, empty := dev.Poll(buf)

		if empty {
			break
		}

		progressed = true

		if err := g.Engine.Process(iface, buf[:n], g.now()); err != nil {
			g.log.Printf("%s: %v", iface.Name, err)
		}
	}

	return progressed
}

// pollable is satisfied by *virtio.Device; declared locally so this
// package doesn't import net/virtio directly (net/forward already
// keeps that boundary via its Sender interface, and the control loop
// preserves it).
type pollable interface {
	HasPending() bool
	Poll(out []byte) (n int, empty bool)
}

// announce sends one broadcast ARP request on every interface with a
// device attached: a request for the interface's PeerIP when one is
// configured, otherwise a gratuitous ARP for its own address.
func (g *Gateway) announce() {
	for _, iface := range []*forward.Interface{g.Engine.LAN, g.Engine.WAN} {
		if iface == nil || iface.Device == nil {
			continue
		}

		frame := forward.BuildGratuitousARP(iface)

		if len(iface.PeerIP) != 0 {
			frame = forward.BuildARPRequest(iface, iface.PeerIP)
		}

		if err := iface.Device.Send(frame); err != nil {
			g.log.Printf("%s: ARP request send failed: %v", iface.Name, err)
		}
	}
}

// probe sends a periodic ICMP echo liveness probe on iface once its
// peer MAC is resolved and successTicksPerEcho iterations have elapsed
// since the last one.
func (g *Gateway) probe(iface *forward.Interface, ticks *uint32, seq *uint16) {
	if iface == nil || iface.Device == nil {
		return
	}

	if _, valid := iface.PeerMAC(); !valid {
		return
	}

	*ticks++

	if *ticks < successTicksPerEcho {
		return
	}

	*ticks = 0

	payload := echoPayload
	frame, ok := forward.BuildEchoRequest(iface, echoIdentifier, *seq, payload[:])
	*seq++

	if !ok {
		return
	}

	if err := iface.Device.Send(frame); err != nil {
		g.log.Printf("%s: echo request send failed: %v", iface.Name, err)
	}
}
