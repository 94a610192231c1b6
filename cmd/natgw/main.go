// NAT gateway entry point for QEMU's `virt` machine
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm64

// Command natgw boots a bare-metal dual-homed NAT gateway on QEMU's
// `virt` machine, binding the first two virtio-mmio network devices
// scanned at boot to the LAN and WAN segments (see SPEC_FULL.md §6).
package main

import (
	"log"
	"net"

	"gvisor.dev/gvisor/pkg/tcpip"

	"github.com/usbarmory/natgw/arm64"
	"github.com/usbarmory/natgw/board/qemu/virt"
	"github.com/usbarmory/natgw/net/forward"
	"github.com/usbarmory/natgw/net/gateway"
)

// Static addressing (spec.md's configuration table).
var config = gateway.Config{
	LANSubnet: [3]byte{192, 168, 1},
	LANIP:     [4]byte{192, 168, 1, 1},
	LANPeerIP: [4]byte{192, 168, 1, 103},
	WANIP:     [4]byte{10, 3, 5, 99},
	WANPeerIP: [4]byte{10, 3, 5, 1},
}

func init() {
	log.SetFlags(0)
	log.SetOutput(virt.UART0)
}

// bind resolves the i'th scanned virtio-mmio device into a named
// forwarding interface, exiting via log.Fatalf if QEMU wasn't given enough
// `-device virtio-net-device` instances.
func bind(name string, i int) *forward.Interface {
	dev, err := virt.Net.Get(i)
	if err != nil {
		log.Fatalf("natgw: %s: %v", name, err)
	}

	virt.GIC.EnableInterrupt(dev.IRQ)

	mac := dev.MAC()

	return &forward.Interface{
		Name:   name,
		Device: dev,
		MAC:    tcpip.LinkAddress(mac[:]),
	}
}

func main() {
	lan := bind("LAN", 0)
	wan := bind("WAN", 1)

	gw := gateway.New(config, lan, wan, now)

	log.Printf("natgw: LAN %s (%x) WAN %s (%x)\n",
		net.IP(config.LANIP[:]), lan.MAC, net.IP(config.WANIP[:]), wan.MAC)

	go arm64.ServiceInterrupts(func() {
		if id := virt.GIC.GetInterrupt(); id >= 0 {
			virt.Net.IRQHandler(id)
		}
	})

	gw.Run()
}

// now returns the gateway's monotonic clock in milliseconds, derived
// from the ARM generic timer, for NAT/ARP entry aging.
func now() uint32 {
	return uint32(virt.ARM.GetTime() / 1e6)
}
