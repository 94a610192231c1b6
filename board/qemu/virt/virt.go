// QEMU virt support for tamago/arm64
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package virt provides hardware initialization, automatically on
// import, for QEMU's `virt` machine (`-machine virt,gic-version=3`)
// configured with a single ARM Cortex-A53 core: a GICv3 interrupt
// controller, a PL011 console, the ARM generic timer, and the two
// virtio-mmio network transports the gateway binds to its LAN and WAN
// segments.
//
// This package is only meant to be used with `GOOS=tamago GOARCH=arm64`
// as supported by the TamaGo framework for bare metal Go, see
// https://github.com/usbarmory/tamago.
package virt

import (
	_ "unsafe"

	"github.com/usbarmory/natgw/arm64"
	"github.com/usbarmory/natgw/arm64/gic"
	"github.com/usbarmory/natgw/dma"
	"github.com/usbarmory/natgw/net/virtio"
	"github.com/usbarmory/natgw/soc/arm/pl011"
)

// Peripheral base addresses, as exposed by QEMU's `virt` machine model
// with `gic-version=3` (see SPEC_FULL.md §6).
const (
	GICDBase = 0x08000000
	GICRBase = 0x080a0000

	UART0Base = 0x09000000

	dmaStart = 0x48000000
	dmaSize  = 0x04000000 // 64MB
)

// Peripheral instances.
var (
	ARM = &arm64.CPU{}

	GIC = &gic.GIC{
		GICD: GICDBase,
		GICR: GICRBase,
	}

	UART0 = &pl011.UART{
		Base: UART0Base,
	}

	// Net is populated by Init with every virtio-mmio network device
	// detected at boot, in scan order; the caller binds indices 0 and 1
	// to the LAN and WAN segments (see cmd/natgw).
	Net virtio.Manager
)

//go:linkname nanotime1 runtime/goos.Nanotime
func nanotime1() int64 {
	return ARM.GetTime()
}

// Init takes care of the lower level SoC initialization triggered early
// in runtime setup (post World start).
//
//go:linkname Init runtime/goos.Hwinit1
func Init() {
	ARM.Init(0)
	ARM.InitGenericTimers(0, 0)

	GIC.Init()
	ARM.EnableInterrupts()

	UART0.Init()

	dma.Init(dmaStart, dmaSize)

	Net.Scan()
}
