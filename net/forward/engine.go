// Packet forwarding engine
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package forward implements the gateway's Ethernet/ARP/IPv4 forwarding
// engine: local termination of ARP and ICMP echo, and NAT'd LAN<->WAN
// relaying, grounded in original_source's net_demo packet path.
package forward

import (
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"github.com/usbarmory/natgw/net/arpcache"
	"github.com/usbarmory/natgw/net/nat"
)

// Sender abstracts the single method the engine needs from a network
// device driver, so this package can be tested without net/virtio.
type Sender interface {
	Send(frame []byte) error
}

// Interface binds one network device to a named, addressed side of the
// gateway (LAN or WAN).
type Interface struct {
	Name    string
	Device  Sender
	MAC     tcpip.LinkAddress
	LocalIP tcpip.Address

	// PeerIP is the address periodically solicited for liveness (the
	// default route's next hop on WAN, the configured LAN peer on LAN).
	PeerIP tcpip.Address

	peerMAC      tcpip.LinkAddress
	peerMACValid bool
}

// PeerMAC returns the interface's resolved peer MAC, if any.
func (i *Interface) PeerMAC() (mac tcpip.LinkAddress, valid bool) {
	return i.peerMAC, i.peerMACValid
}

// Engine owns the NAT table, ARP cache and LAN/WAN interface bindings,
// and decides, for each inbound frame, exactly one of: drop, reply
// locally, forward to the peer interface, or learn-only.
type Engine struct {
	LAN *Interface
	WAN *Interface

	// LANSubnet is the configured LAN subnet's first three octets; a
	// LAN-sourced packet is only eligible for NAT outbound translation
	// when its source IP matches it.
	LANSubnet [3]byte

	// WANIP is the gateway's external address, rewritten into every
	// NAT-translated outbound packet's source.
	WANIP tcpip.Address

	NAT *nat.Table
	ARP *arpcache.Cache

	Stats Stats
}

// Stats counts engine-level disposition outcomes.
type Stats struct {
	Dropped        uint32
	RepliedLocally uint32
	Forwarded      uint32
	LearnedOnly    uint32
}

// Process handles one inbound Ethernet frame received on iface.
func (e *Engine) Process(iface *Interface, frame []byte, now uint32) error {
	if len(frame) < ethHeaderLen {
		e.Stats.Dropped++
		return ErrMalformedPacket
	}

	switch ethType(frame) {
	case EtherTypeARP:
		return e.processARP(iface, frame, now)
	case EtherTypeIPv4:
		return e.processIPv4(iface, frame, now)
	default:
		e.Stats.Dropped++
		return nil
	}
}

func (e *Engine) processARP(iface *Interface, frame []byte, now uint32) error {
	if len(frame) < ethHeaderLen+arpLen {
		e.Stats.Dropped++
		return ErrMalformedPacket
	}

	body := frame[ethHeaderLen:]

	switch arpOp(body) {
	case ARPRequest:
		if arpTPA(body) != iface.LocalIP {
			e.Stats.LearnedOnly++
			return nil
		}

		reply := buildARPReply(iface, arpSHA(body), arpSPA(body))

		if err := iface.Device.Send(reply); err != nil {
			e.Stats.Dropped++
			return err
		}

		e.Stats.RepliedLocally++

		return nil

	case ARPReply:
		e.ARP.Add(arpSPA(body), arpSHA(body), now)

		if arpSPA(body) == iface.PeerIP {
			iface.peerMAC = arpSHA(body)
			iface.peerMACValid = true
		}

		e.Stats.LearnedOnly++

		return nil
	}

	e.Stats.Dropped++

	return nil
}

func (e *Engine) processIPv4(iface *Interface, frame []byte, now uint32) error {
	if len(frame) < ethHeaderLen+ipv4MinHeaderLen {
		e.Stats.Dropped++
		return ErrMalformedPacket
	}

	ip := frame[ethHeaderLen:]

	if ipv4Version(ip) != 4 || ipv4IHL(ip) < ipv4MinHeaderLen {
		e.Stats.Dropped++
		return ErrMalformedPacket
	}

	e.ARP.Add(ipv4Src(ip), ethSrc(frame), now)

	dst := ipv4Dst(ip)
	isLocal := dst == iface.LocalIP || (iface == e.LAN && dst == e.WANIP)

	if isLocal && ipv4Proto(ip) == nat.ICMP {
		icmp := ip[ipv4IHL(ip):]

		if len(icmp) >= 8 && icmpType(icmp) == ICMPEchoRequest {
			e.replyEchoLocally(iface, frame)
			e.Stats.RepliedLocally++
			return nil
		}
	}

	if iface == e.LAN && matchesLANSubnet(ipv4Src(ip), e.LANSubnet) && dst != iface.LocalIP && dst != e.WANIP {
		return e.natOutbound(frame, now)
	}

	if iface == e.WAN && dst == e.WANIP {
		return e.natInbound(frame, now)
	}

	e.Stats.Dropped++

	return nil
}

func matchesLANSubnet(ip tcpip.Address, subnet [3]byte) bool {
	if len(ip) != 4 {
		return false
	}

	return ip[0] == subnet[0] && ip[1] == subnet[1] && ip[2] == subnet[2]
}

// replyEchoLocally answers an ICMP echo request addressed to this
// interface (or, on LAN, to the gateway's WAN address) in place.
func (e *Engine) replyEchoLocally(iface *Interface, frame []byte) {
	reply := append([]byte(nil), frame...)

	eth := reply
	setEthDst(eth, ethSrc(frame))
	setEthSrc(eth, iface.MAC)

	ip := reply[ethHeaderLen:]
	srcIP := ipv4Src(ip)
	dstIP := ipv4Dst(ip)
	setIPv4Src(ip, dstIP)
	setIPv4Dst(ip, srcIP)
	setIPv4TTL(ip, 64)

	hdrLen := ipv4IHL(ip)
	zeroIPv4Checksum(ip)
	setIPv4Checksum(ip, ipv4Checksum(ip[:hdrLen]))

	icmp := ip[hdrLen:ipv4TotalLen(ip)]
	setICMPType(icmp, ICMPEchoReply)
	zeroICMPChecksum(icmp)
	setICMPChecksum(icmp, ipv4Checksum(icmp))

	iface.Device.Send(reply[:ethHeaderLen+ipv4TotalLen(ip)])
}

func (e *Engine) natOutbound(frame []byte, now uint32) error {
	ip := frame[ethHeaderLen:]
	hdrLen := ipv4IHL(ip)
	proto := ipv4Proto(ip)
	transport := ip[hdrLen:ipv4TotalLen(ip)]

	var lanPort, dstPort uint16

	switch proto {
	case nat.ICMP:
		if len(transport) < 8 || icmpType(transport) != ICMPEchoRequest {
			e.Stats.Dropped++
			return nil
		}

		lanPort = icmpID(transport)
	case nat.TCP, nat.UDP:
		lanPort = transportSrcPort(transport)
		dstPort = transportDstPort(transport)
	default:
		e.Stats.Dropped++
		return ErrUnsupportedProtocol
	}

	lanIP := ipv4Src(ip)
	dstIP := ipv4Dst(ip)

	wanPort, err := e.NAT.TranslateOutbound(proto, lanIP, lanPort, dstIP, dstPort, now)

	if err != nil {
		e.Stats.Dropped++
		return err
	}

	peerMAC, ok := e.ARP.Lookup(dstIP)

	if !ok {
		e.Stats.Dropped++
		return ErrARPMiss
	}

	out := append([]byte(nil), frame...)

	setEthDst(out, peerMAC)
	setEthSrc(out, e.WAN.MAC)

	outIP := out[ethHeaderLen:]
	setIPv4Src(outIP, e.WANIP)
	setIPv4TTL(outIP, ipv4TTL(outIP)-1)

	outTransport := outIP[hdrLen:ipv4TotalLen(outIP)]

	switch proto {
	case nat.ICMP:
		setICMPID(outTransport, wanPort)
		zeroICMPChecksum(outTransport)
		setICMPChecksum(outTransport, ipv4Checksum(outTransport))
	case nat.TCP:
		setTransportSrcPort(outTransport, wanPort)
		zeroTCPChecksum(outTransport)
		setTCPChecksum(outTransport, transportChecksum(header.TCPProtocolNumber, e.WANIP, dstIP, outTransport))
	case nat.UDP:
		setTransportSrcPort(outTransport, wanPort)
		zeroUDPChecksum(outTransport)
		setUDPChecksum(outTransport, transportChecksum(header.UDPProtocolNumber, e.WANIP, dstIP, outTransport))
	}

	zeroIPv4Checksum(outIP)
	setIPv4Checksum(outIP, ipv4Checksum(outIP[:hdrLen]))

	if err := e.WAN.Device.Send(out[:ethHeaderLen+ipv4TotalLen(outIP)]); err != nil {
		e.Stats.Dropped++
		return err
	}

	e.Stats.Forwarded++

	return nil
}

func (e *Engine) natInbound(frame []byte, now uint32) error {
	ip := frame[ethHeaderLen:]
	hdrLen := ipv4IHL(ip)
	proto := ipv4Proto(ip)
	transport := ip[hdrLen:ipv4TotalLen(ip)]

	var wanPort, srcPort uint16

	switch proto {
	case nat.ICMP:
		if len(transport) < 8 || icmpType(transport) != ICMPEchoReply {
			e.Stats.Dropped++
			return nil
		}

		wanPort = icmpID(transport)
	case nat.TCP, nat.UDP:
		wanPort = transportDstPort(transport)
		srcPort = transportSrcPort(transport)
	default:
		e.Stats.Dropped++
		return ErrUnsupportedProtocol
	}

	srcIP := ipv4Src(ip)

	lanIP, lanPort, err := e.NAT.TranslateInbound(proto, wanPort, srcIP, srcPort, now)

	if err != nil {
		e.Stats.Dropped++
		return err
	}

	peerMAC, ok := e.ARP.Lookup(lanIP)

	if !ok {
		e.Stats.Dropped++
		return ErrARPMiss
	}

	out := append([]byte(nil), frame...)

	setEthDst(out, peerMAC)
	setEthSrc(out, e.LAN.MAC)

	outIP := out[ethHeaderLen:]
	setIPv4Dst(outIP, lanIP)
	setIPv4TTL(outIP, ipv4TTL(outIP)-1)

	outTransport := outIP[hdrLen:ipv4TotalLen(outIP)]

	switch proto {
	case nat.ICMP:
		setICMPID(outTransport, lanPort)
		zeroICMPChecksum(outTransport)
		setICMPChecksum(outTransport, ipv4Checksum(outTransport))
	case nat.TCP:
		setTransportDstPort(outTransport, lanPort)
		zeroTCPChecksum(outTransport)
		setTCPChecksum(outTransport, transportChecksum(header.TCPProtocolNumber, srcIP, lanIP, outTransport))
	case nat.UDP:
		setTransportDstPort(outTransport, lanPort)
		zeroUDPChecksum(outTransport)
		setUDPChecksum(outTransport, transportChecksum(header.UDPProtocolNumber, srcIP, lanIP, outTransport))
	}

	zeroIPv4Checksum(outIP)
	setIPv4Checksum(outIP, ipv4Checksum(outIP[:hdrLen]))

	if err := e.LAN.Device.Send(out[:ethHeaderLen+ipv4TotalLen(outIP)]); err != nil {
		e.Stats.Dropped++
		return err
	}

	e.Stats.Forwarded++

	return nil
}
