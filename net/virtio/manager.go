// Paravirtualized network device discovery
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package virtio

import (
	"github.com/usbarmory/natgw/internal/reg"
)

// ScanBase and ScanStride fix the candidate MMIO window addresses QEMU's
// `virt` machine places virtio-mmio transports at: ScanBase,
// ScanBase+ScanStride, ScanBase+2*ScanStride, ... The paired IRQ numbers
// mirror the same fixed list used by original_source's virtio_net_scan.
const (
	ScanBase   = 0x0a000000
	ScanStride = 0x200
	ScanCount  = 16
	firstIRQ   = 48
)

// CandidateIRQ returns the IRQ number QEMU's `virt` machine pairs with the
// n'th candidate MMIO window.
func CandidateIRQ(n int) int {
	return firstIRQ + n
}

// CandidateBase returns the physical base address of the n'th candidate
// MMIO window.
func CandidateBase(n int) uint32 {
	return ScanBase + uint32(n)*ScanStride
}

// Manager owns the set of discovered network devices, indexed in scan
// order (§4.1 "Discovery rule").
type Manager struct {
	devices []*Device
}

// Scan probes up to ScanCount candidate MMIO windows and brings up every
// one presenting MAGIC and a network-class (or legacy wildcard zero)
// device ID, assigning indices in scan order. It returns the number of
// devices successfully initialized; a failure on one candidate does not
// prevent scanning the rest.
func (m *Manager) Scan() (count int) {
	for n := 0; n < ScanCount; n++ {
		base := CandidateBase(n)

		if reg.Read(base+regMagic) != MAGIC {
			continue
		}

		devID := reg.Read(base + regDeviceID)

		if devID != NetworkDeviceID && devID != 0 {
			continue
		}

		dev := NewDevice(base, CandidateIRQ(n))

		if err := dev.Init(); err != nil {
			continue
		}

		m.devices = append(m.devices, dev)
		count++
	}

	return count
}

// Count returns the number of successfully initialized devices.
func (m *Manager) Count() int {
	return len(m.devices)
}

// Get returns the device at index i.
func (m *Manager) Get(i int) (*Device, error) {
	if i < 0 || i >= len(m.devices) {
		return nil, ErrDeviceAbsent
	}

	return m.devices[i], nil
}

// IRQHandler services every managed device whose configured IRQ equals
// source. Devices never share an IRQ in this design (one per candidate
// window) but the dispatch is written to tolerate it.
func (m *Manager) IRQHandler(source int) {
	for _, dev := range m.devices {
		if dev.IRQ == source {
			dev.IRQHandler()
		}
	}
}
