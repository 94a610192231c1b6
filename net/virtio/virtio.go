// VirtIO over MMIO transport
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package virtio implements the paravirtualized network device driver: MMIO
// device discovery, feature negotiation, split virtqueue setup, an
// interrupt-driven receive-completion pipeline and lazily-reclaimed
// transmit enqueue, following the VirtIO 1.2 MMIO transport and the network
// device class.
//
// This package is only meant to be used with `GOOS=tamago GOARCH=arm64` as
// supported by the TamaGo framework for bare metal Go.
package virtio

import (
	"github.com/usbarmory/natgw/bits"
)

// Reserved feature bits cleared during negotiation: this driver never
// negotiates the packed-ring layout or notification-data extensions.
const (
	Packed           = 34
	NotificationData = 38
)

// Device status bits (VirtIO 1.2 §2.1).
const (
	Acknowledge      = 0
	Driver           = 1
	DriverOk         = 2
	FeaturesOk       = 3
	DeviceNeedsReset = 6
	Failed           = 7
)

const (
	// MAGIC is the required value of the Magic register for a present
	// VirtIO MMIO device ("virt" in little-endian ASCII).
	MAGIC = 0x74726976
	// VERSION is the only MMIO transport version this driver supports.
	VERSION = 0x02

	// NetworkDeviceID is the VirtIO subsystem device class for network
	// cards.
	NetworkDeviceID = 1

	// bits 0 to 23, and 50 to 63
	deviceSpecificFeatureMask = 0xfffc000000ffffff
	// bits 24 to 49
	deviceReservedFeatureMask = 0x0003ffffff000000
)

// Transport abstracts the VirtIO MMIO register window so that the device
// logic in this package can be tested against a fake implementation.
type Transport interface {
	// Init initializes a VirtIO device instance, negotiating the given
	// driver feature bits.
	Init(features uint64) (err error)
	// Config returns a snapshot of the device configuration space.
	Config(size int) []byte
	// DeviceID returns the VirtIO subsystem device ID.
	DeviceID() uint32
	// DeviceFeatures returns the device feature bits.
	DeviceFeatures() (features uint64)
	// NegotiatedFeatures returns the set of negotiated feature bits.
	NegotiatedFeatures() (features uint64)
	// MaxQueueSize returns the maximum virtual queue size for a queue.
	MaxQueueSize(index int) int
	// SetQueueSize sets the virtual queue size.
	SetQueueSize(index int, n int)
	// InterruptStatus returns the interrupt status and reason.
	InterruptStatus() (buffer bool, config bool)
	// AckInterrupt acknowledges a serviced interrupt.
	AckInterrupt(buffer bool, config bool)
	// Status returns the device status.
	Status() uint32
	// SetQueue registers the indexed virtual queue for device access.
	SetQueue(index int, queue *VirtualQueue)
	// SetReady indicates that the driver is set up and ready to drive
	// the device.
	SetReady()
	// QueueNotify notifies the device that a queue can be processed.
	QueueNotify(index int)
}

func negotiate(deviceFeatures, driverFeatures uint64) (features uint64) {
	features = deviceFeatures

	// clear unsupported features
	bits.Clear64(&features, Packed)
	bits.Clear64(&features, NotificationData)

	// keep all offered reserved (transport) features unconditionally,
	// but device-specific ones (e.g. VIRTIO_NET_F_MAC) only if the
	// driver explicitly requested them
	features &= deviceReservedFeatureMask | (deviceSpecificFeatureMask & driverFeatures)

	return
}
