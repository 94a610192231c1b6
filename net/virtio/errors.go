// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package virtio

import "errors"

var (
	// ErrBadMagic is returned when a candidate MMIO window's magic
	// register does not match MAGIC.
	ErrBadMagic = errors.New("virtio: bad magic value")
	// ErrUnsupportedVersion is returned when the MMIO transport version
	// register does not match VERSION.
	ErrUnsupportedVersion = errors.New("virtio: unsupported transport version")
	// ErrNotNetworkClass names a present device whose class is not the
	// network device class (and not the legacy wildcard 0). No function
	// returns it: Manager.Scan skips such devices without an error.
	ErrNotNetworkClass = errors.New("virtio: not a network class device")
	// ErrFeaturesNotAccepted is returned when the device does not latch
	// the FEATURES_OK status bit after negotiation.
	ErrFeaturesNotAccepted = errors.New("virtio: features not accepted")
	// ErrQueueUnavailable is returned when a queue's maximum size is
	// zero (the device does not implement it).
	ErrQueueUnavailable = errors.New("virtio: queue unavailable")
	// ErrTxQueueFull is returned by Send when the TX queue has no free
	// descriptor slot.
	ErrTxQueueFull = errors.New("virtio: TX queue full")
	// ErrInvalidFrameLen is returned by Send when the frame exceeds the
	// maximum supported length.
	ErrInvalidFrameLen = errors.New("virtio: invalid frame length")
	// ErrRxDescOutOfRange names a used-ring entry that references a
	// descriptor index outside the queue. No function returns it:
	// IRQHandler counts such entries in DeviceStats.RxDescErrors and skips
	// them.
	ErrRxDescOutOfRange = errors.New("virtio: RX descriptor out of range")
	// ErrDeviceAbsent is returned by Manager.Get for an unassigned
	// device index.
	ErrDeviceAbsent = errors.New("virtio: device absent")
)
