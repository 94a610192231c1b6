// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package forward

import (
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// ipv4Checksum computes the one's-complement 16-bit internet checksum of
// an IPv4 header with its checksum field already zeroed.
func ipv4Checksum(hdr []byte) uint16 {
	return ^header.Checksum(hdr, 0)
}

// transportChecksum computes a TCP/UDP checksum over payload using
// the IPv4 pseudo-header (source/destination address, zero, protocol,
// transport length).
func transportChecksum(proto tcpip.TransportProtocolNumber, src, dst tcpip.Address, payload []byte) uint16 {
	sum := header.PseudoHeaderChecksum(proto, src, dst, uint16(len(payload)))
	sum = header.Checksum(payload, sum)

	return ^sum
}
