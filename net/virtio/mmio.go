// VirtIO over MMIO transport
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package virtio

import (
	"github.com/usbarmory/natgw/bits"
	"github.com/usbarmory/natgw/dma"
	"github.com/usbarmory/natgw/internal/reg"
)

// MMIO register offsets (VirtIO 1.2 §4.2.2).
const (
	regMagic             = 0x000
	regVersion           = 0x004
	regDeviceID          = 0x008
	regVendorID          = 0x00c
	regDeviceFeatures    = 0x010
	regDeviceFeaturesSel = 0x014
	regDriverFeatures    = 0x020
	regDriverFeaturesSel = 0x024
	regQueueSel          = 0x030
	regQueueNumMax       = 0x034
	regQueueNum          = 0x038
	regQueueReady        = 0x044
	regQueueNotify       = 0x050
	regInterruptStatus   = 0x060
	regInterruptACK      = 0x064
	regStatus            = 0x070
	regQueueDescLow      = 0x080
	regQueueDescHigh     = 0x084
	regQueueDriverLow    = 0x090
	regQueueDriverHigh   = 0x094
	regQueueDeviceLow    = 0x0a0
	regQueueDeviceHigh   = 0x0a4
	regConfigGeneration  = 0x0fc
	regConfig            = 0x100
)

// MMIO implements Transport over a VirtIO MMIO register window.
type MMIO struct {
	// Base is the physical address of the device's MMIO register
	// window.
	Base uint32

	features uint64

	// DMA buffer backing Config()
	config []byte
}

func (io *MMIO) negotiate(driverFeatures uint64) (err error) {
	io.features = negotiate(io.DeviceFeatures(), driverFeatures)
	io.setDriverFeatures(io.features)

	reg.Set(io.Base+regStatus, FeaturesOk)

	if !reg.IsSet(io.Base+regStatus, FeaturesOk) {
		return ErrFeaturesNotAccepted
	}

	return
}

// Init initializes a VirtIO over MMIO device instance.
func (io *MMIO) Init(features uint64) (err error) {
	if io.Base == 0 || reg.Read(io.Base+regMagic) != MAGIC {
		return ErrBadMagic
	}

	if reg.Read(io.Base+regVersion) != VERSION {
		return ErrUnsupportedVersion
	}

	// reset
	reg.Write(io.Base+regStatus, 0x0)

	// initialize driver
	reg.Set(io.Base+regStatus, Acknowledge)
	reg.Set(io.Base+regStatus, Driver)

	return io.negotiate(features)
}

// Config returns a copy of the device configuration space.
func (io *MMIO) Config(size int) (config []byte) {
	if io.config == nil {
		r, err := dma.NewRegion(uint(io.Base+regConfig), size, false)

		if err != nil {
			return
		}

		_, io.config = r.Reserve(size, 0)
	}

	config = make([]byte, size)
	copy(config, io.config)

	return
}

// DeviceID returns the VirtIO subsystem device ID.
func (io *MMIO) DeviceID() uint32 {
	return reg.Read(io.Base + regDeviceID)
}

// DeviceFeatures returns the device feature bits (both 32-bit feature
// words).
func (io *MMIO) DeviceFeatures() (features uint64) {
	for i := uint32(0); i <= 1; i++ {
		reg.Write(io.Base+regDeviceFeaturesSel, i)
		features |= uint64(reg.Read(io.Base+regDeviceFeatures)) << (i * 32)
	}

	return
}

func (io *MMIO) setDriverFeatures(features uint64) {
	for i := uint32(0); i <= 1; i++ {
		reg.Write(io.Base+regDriverFeaturesSel, i)
		reg.Write(io.Base+regDriverFeatures, uint32(features>>(i*32)))
	}
}

// NegotiatedFeatures returns the set of negotiated feature bits.
func (io *MMIO) NegotiatedFeatures() (features uint64) {
	return io.features
}

// MaxQueueSize returns the maximum supported virtual queue size.
func (io *MMIO) MaxQueueSize(index int) int {
	reg.Write(io.Base+regQueueSel, uint32(index))
	return int(reg.Read(io.Base + regQueueNumMax))
}

// SetQueueSize sets the chosen virtual queue size.
func (io *MMIO) SetQueueSize(index int, n int) {
	reg.Write(io.Base+regQueueSel, uint32(index))
	reg.Write(io.Base+regQueueNum, uint32(n))
}

// InterruptStatus returns the interrupt status and reason.
func (io *MMIO) InterruptStatus() (buffer bool, config bool) {
	s := reg.Read(io.Base + regInterruptStatus)

	buffer = bits.IsSet(&s, 0)
	config = bits.IsSet(&s, 1)

	return
}

// AckInterrupt acknowledges the serviced interrupt causes.
func (io *MMIO) AckInterrupt(buffer bool, config bool) {
	var ack uint32

	if buffer {
		ack |= 1 << 0
	}

	if config {
		ack |= 1 << 1
	}

	reg.Write(io.Base+regInterruptACK, ack)
}

// Status returns the device status.
func (io *MMIO) Status() uint32 {
	return reg.Read(io.Base + regStatus)
}

// SetQueue registers the indexed virtual queue for device access.
func (io *MMIO) SetQueue(index int, queue *VirtualQueue) {
	desc, driver, device := queue.Address()

	reg.Write(io.Base+regQueueSel, uint32(index))

	reg.Write(io.Base+regQueueDescLow, uint32(desc))
	reg.Write(io.Base+regQueueDescHigh, uint32(uint64(desc)>>32))

	reg.Write(io.Base+regQueueDriverLow, uint32(driver))
	reg.Write(io.Base+regQueueDriverHigh, uint32(uint64(driver)>>32))

	reg.Write(io.Base+regQueueDeviceLow, uint32(device))
	reg.Write(io.Base+regQueueDeviceHigh, uint32(uint64(device)>>32))

	reg.Write(io.Base+regQueueReady, 1)
}

// SetReady indicates that the driver is set up and ready to drive the
// device.
func (io *MMIO) SetReady() {
	reg.Set(io.Base+regStatus, DriverOk)
}

// QueueNotify notifies the device that a queue can be processed.
func (io *MMIO) QueueNotify(index int) {
	reg.Write(io.Base+regQueueNotify, uint32(index))
}

// ConfigVersion returns the device configuration generation counter.
func (io *MMIO) ConfigVersion() uint32 {
	return reg.Read(io.Base + regConfigGeneration)
}
