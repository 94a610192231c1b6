// Ethernet/ARP/IPv4/ICMP/TCP/UDP wire access
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
)

// Ethernet header layout (14 octets).
const (
	ethHeaderLen = 14
	ethDstOffset = 0
	ethSrcOffset = 6
	ethTypeOffset = 12

	EtherTypeARP  = 0x0806
	EtherTypeIPv4 = 0x0800
)

func ethDst(f []byte) tcpip.LinkAddress { return tcpip.LinkAddress(f[ethDstOffset : ethDstOffset+6]) }
func ethSrc(f []byte) tcpip.LinkAddress { return tcpip.LinkAddress(f[ethSrcOffset : ethSrcOffset+6]) }
func ethType(f []byte) uint16           { return binary.BigEndian.Uint16(f[ethTypeOffset:]) }

func setEthDst(f []byte, mac tcpip.LinkAddress) { copy(f[ethDstOffset:ethDstOffset+6], mac) }
func setEthSrc(f []byte, mac tcpip.LinkAddress) { copy(f[ethSrcOffset:ethSrcOffset+6], mac) }

// ARP packet layout (Ethernet/IPv4 ARP, 28 bytes, immediately following
// the Ethernet header).
const (
	arpLen = 28

	arpOpOffset  = 6
	arpSHAOffset = 8
	arpSPAOffset = 14
	arpTHAOffset = 18
	arpTPAOffset = 24

	ARPRequest = 1
	ARPReply   = 2
)

func arpOp(b []byte) uint16                { return binary.BigEndian.Uint16(b[arpOpOffset:]) }
func arpSHA(b []byte) tcpip.LinkAddress     { return tcpip.LinkAddress(b[arpSHAOffset : arpSHAOffset+6]) }
func arpSPA(b []byte) tcpip.Address         { return tcpip.Address(b[arpSPAOffset : arpSPAOffset+4]) }
func arpTHA(b []byte) tcpip.LinkAddress     { return tcpip.LinkAddress(b[arpTHAOffset : arpTHAOffset+6]) }
func arpTPA(b []byte) tcpip.Address         { return tcpip.Address(b[arpTPAOffset : arpTPAOffset+4]) }

// IPv4 header layout (no options support: IHL is read but only the
// 20-byte fixed header is interpreted, matching original_source's
// net_demo parser).
const (
	ipv4MinHeaderLen = 20

	ipv4VerIHLOffset  = 0
	ipv4TotalLenOffset = 2
	ipv4TTLOffset      = 8
	ipv4ProtoOffset    = 9
	ipv4ChecksumOffset = 10
	ipv4SrcOffset      = 12
	ipv4DstOffset      = 16
)

func ipv4Version(b []byte) int  { return int(b[ipv4VerIHLOffset] >> 4) }
func ipv4IHL(b []byte) int      { return int(b[ipv4VerIHLOffset]&0x0f) * 4 }
func ipv4TotalLen(b []byte) int { return int(binary.BigEndian.Uint16(b[ipv4TotalLenOffset:])) }
func ipv4TTL(b []byte) uint8    { return b[ipv4TTLOffset] }
func ipv4Proto(b []byte) uint8  { return b[ipv4ProtoOffset] }
func ipv4Src(b []byte) tcpip.Address { return tcpip.Address(b[ipv4SrcOffset : ipv4SrcOffset+4]) }
func ipv4Dst(b []byte) tcpip.Address { return tcpip.Address(b[ipv4DstOffset : ipv4DstOffset+4]) }

func setIPv4TTL(b []byte, ttl uint8)        { b[ipv4TTLOffset] = ttl }
func setIPv4Checksum(b []byte, sum uint16)  { binary.BigEndian.PutUint16(b[ipv4ChecksumOffset:], sum) }
func zeroIPv4Checksum(b []byte)             { setIPv4Checksum(b, 0) }
func setIPv4Src(b []byte, ip tcpip.Address) { copy(b[ipv4SrcOffset:ipv4SrcOffset+4], ip) }
func setIPv4Dst(b []byte, ip tcpip.Address) { copy(b[ipv4DstOffset:ipv4DstOffset+4], ip) }

// ICMP header layout (echo request/reply).
const (
	icmpTypeOffset     = 0
	icmpChecksumOffset = 2
	icmpIDOffset       = 4

	ICMPEchoRequest = 8
	ICMPEchoReply   = 0
)

func icmpType(b []byte) uint8       { return b[icmpTypeOffset] }
func icmpID(b []byte) uint16        { return binary.BigEndian.Uint16(b[icmpIDOffset:]) }
func setICMPType(b []byte, t uint8) { b[icmpTypeOffset] = t }
func setICMPID(b []byte, id uint16) { binary.BigEndian.PutUint16(b[icmpIDOffset:], id) }
func setICMPChecksum(b []byte, sum uint16) {
	binary.BigEndian.PutUint16(b[icmpChecksumOffset:], sum)
}
func zeroICMPChecksum(b []byte) { setICMPChecksum(b, 0) }

// TCP/UDP share the first four bytes (source port, destination port).
const (
	portSrcOffset = 0
	portDstOffset = 2

	udpChecksumOffset = 6
	tcpChecksumOffset = 16
)

func transportSrcPort(b []byte) uint16 { return binary.BigEndian.Uint16(b[portSrcOffset:]) }
func transportDstPort(b []byte) uint16 { return binary.BigEndian.Uint16(b[portDstOffset:]) }

func setTransportSrcPort(b []byte, port uint16) {
	binary.BigEndian.PutUint16(b[portSrcOffset:], port)
}
func setTransportDstPort(b []byte, port uint16) {
	binary.BigEndian.PutUint16(b[portDstOffset:], port)
}

func zeroUDPChecksum(b []byte) { binary.BigEndian.PutUint16(b[udpChecksumOffset:], 0) }
func setUDPChecksum(b []byte, sum uint16) {
	binary.BigEndian.PutUint16(b[udpChecksumOffset:], sum)
}

func zeroTCPChecksum(b []byte) { binary.BigEndian.PutUint16(b[tcpChecksumOffset:], 0) }
func setTCPChecksum(b []byte, sum uint16) {
	binary.BigEndian.PutUint16(b[tcpChecksumOffset:], sum)
}
