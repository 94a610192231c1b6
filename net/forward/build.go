// Frame construction helpers
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package forward

import (
	"encoding/binary"

	"gvisor.dev/gvisor/pkg/tcpip"

	"github.com/usbarmory/natgw/net/nat"
)

var broadcastMAC = tcpip.LinkAddress([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})

var zeroMAC = tcpip.LinkAddress([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00})

func buildARP(srcMAC, ethDst tcpip.LinkAddress, op uint16, senderIP, targetIP tcpip.Address, tha tcpip.LinkAddress) []byte {
	frame := make([]byte, ethHeaderLen+arpLen)

	setEthDst(frame, ethDst)
	setEthSrc(frame, srcMAC)
	binary.BigEndian.PutUint16(frame[ethTypeOffset:], EtherTypeARP)

	body := frame[ethHeaderLen:]
	binary.BigEndian.PutUint16(body[0:], 1) // hardware type: Ethernet
	binary.BigEndian.PutUint16(body[2:], EtherTypeIPv4)
	body[4] = 6 // hardware address length
	body[5] = 4 // protocol address length
	binary.BigEndian.PutUint16(body[arpOpOffset:], op)
	copy(body[arpSHAOffset:], srcMAC)
	copy(body[arpSPAOffset:], senderIP)
	copy(body[arpTHAOffset:], tha)
	copy(body[arpTPAOffset:], targetIP)

	return frame
}

// buildARPReply answers a request from requesterMAC/requesterIP, sent by
// iface's own address.
func buildARPReply(iface *Interface, requesterMAC tcpip.LinkAddress, requesterIP tcpip.Address) []byte {
	return buildARP(iface.MAC, requesterMAC, ARPReply, iface.LocalIP, requesterIP, requesterMAC)
}

// BuildGratuitousARP constructs a broadcast ARP request announcing
// iface's own address, used by the control loop's periodic liveness
// announcements.
func BuildGratuitousARP(iface *Interface) []byte {
	return buildARP(iface.MAC, broadcastMAC, ARPRequest, iface.LocalIP, iface.LocalIP, zeroMAC)
}

// BuildARPRequest constructs a request for targetIP's MAC address, sent
// from iface.
func BuildARPRequest(iface *Interface, targetIP tcpip.Address) []byte {
	return buildARP(iface.MAC, broadcastMAC, ARPRequest, iface.LocalIP, targetIP, zeroMAC)
}

// BuildEchoRequest constructs an ICMP echo request from iface to
// iface.PeerIP, used by the control loop as a liveness probe. It
// requires iface's peer MAC to already be resolved.
func BuildEchoRequest(iface *Interface, id, seq uint16, payload []byte) (frame []byte, ok bool) {
	peerMAC, valid := iface.PeerMAC()

	if !valid {
		return nil, false
	}

	icmpLen := 8 + len(payload)
	totalLen := ipv4MinHeaderLen + icmpLen

	frame = make([]byte, ethHeaderLen+totalLen)

	setEthDst(frame, peerMAC)
	setEthSrc(frame, iface.MAC)
	binary.BigEndian.PutUint16(frame[ethTypeOffset:], EtherTypeIPv4)

	ip := frame[ethHeaderLen:]
	ip[0] = 0x45 // version 4, IHL 5
	binary.BigEndian.PutUint16(ip[2:], uint16(totalLen))
	setIPv4TTL(ip, 64)
	ip[ipv4ProtoOffset] = nat.ICMP
	setIPv4Src(ip, iface.LocalIP)
	setIPv4Dst(ip, iface.PeerIP)

	icmp := ip[ipv4MinHeaderLen:]
	setICMPType(icmp, ICMPEchoRequest)
	setICMPID(icmp, id)
	binary.BigEndian.PutUint16(icmp[6:], seq)
	copy(icmp[8:], payload)

	zeroICMPChecksum(icmp)
	setICMPChecksum(icmp, ipv4Checksum(icmp))

	zeroIPv4Checksum(ip)
	setIPv4Checksum(ip, ipv4Checksum(ip[:ipv4MinHeaderLen]))

	return frame, true
}
