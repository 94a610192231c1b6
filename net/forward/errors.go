// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package forward

import "errors"

var (
	// ErrMalformedPacket is returned for frames too short to carry a
	// complete header at the layer being parsed.
	ErrMalformedPacket = errors.New("forward: malformed packet")
	// ErrARPMiss is returned when a next-hop MAC address is not (yet)
	// resolved in the ARP cache.
	ErrARPMiss = errors.New("forward: ARP cache miss")
	// ErrUnsupportedProtocol is returned for IPv4 protocol numbers this
	// engine does not translate (anything but ICMP/TCP/UDP).
	ErrUnsupportedProtocol = errors.New("forward: unsupported protocol")
)
