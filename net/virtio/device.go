// Paravirtualized network device driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package virtio

import (
	"sync"
)

const (
	// rxQueue and txQueue are the fixed virtqueue indices for a network
	// device (VirtIO 1.2 §5.1.2).
	rxQueue = 0
	txQueue = 1

	// QueueSize is the implementation's virtqueue size cap, clamped
	// against whatever the device advertises as its maximum.
	QueueSize = 8

	// BufferSize is the per-descriptor DMA buffer size, large enough for
	// the device header plus a maximum size Ethernet frame.
	BufferSize = 2048

	// DeviceHeaderLen is the size of the virtio-net packet header
	// prepended to every RX and TX buffer.
	DeviceHeaderLen = 10

	// MaxFrameSize is the maximum supported Ethernet frame payload.
	MaxFrameSize = 1518
)

// netFeatureMAC is the VIRTIO_NET_F_MAC feature bit, advertised when the
// device configuration space carries a usable MAC address.
const netFeatureMAC = 5

// completionEntry is one record of the RX completion queue: a device
// descriptor index together with the total (header+payload) length the
// device wrote.
type completionEntry struct {
	descID uint16
	length uint32
}

// completionRing is the bounded single-producer (IRQ handler) /
// single-consumer (control loop) FIFO of RX completion records described
// in the data model: capacity equals the queue size, and a late arrival
// when full is recycled back to the device immediately rather than
// dropped or blocked on.
type completionRing struct {
	sync.Mutex

	entries [QueueSize]completionEntry
	head    int
	tail    int
	count   int
}

func (r *completionRing) full() bool {
	return r.count == QueueSize
}

func (r *completionRing) push(e completionEntry) (ok bool) {
	if r.full() {
		return false
	}

	r.entries[r.tail] = e
	r.tail = (r.tail + 1) % QueueSize
	r.count++

	return true
}

func (r *completionRing) pop() (e completionEntry, ok bool) {
	if r.count == 0 {
		return completionEntry{}, false
	}

	e = r.entries[r.head]
	r.head = (r.head + 1) % QueueSize
	r.count--

	return e, true
}

// DeviceStats counts driver-level events, supplementing the core spec with
// the equivalent of original_source's per-device counters, kept for
// observability and test assertions rather than behavior.
type DeviceStats struct {
	FramesSent     uint32
	FramesReceived uint32
	TxQueueFull    uint32
	RxDescErrors   uint32
	RxRecycled     uint32
}

// Device drives one paravirtualized network device: a pair of virtqueues
// (RX=0, TX=1), their DMA buffer storage, a 6-byte MAC, and the RX
// completion ring shared with the IRQ handler.
type Device struct {
	Base uint32
	IRQ  int

	transport Transport
	rx        VirtualQueue
	tx        VirtualQueue

	mac [6]byte

	rxLastUsed uint16
	txLastUsed uint16

	completion completionRing

	ready bool
	stats DeviceStats
}

// NewDevice returns a Device bound to the given MMIO base address and IRQ
// number, using the default MMIO transport.
func NewDevice(base uint32, irq int) *Device {
	return &Device{
		Base:      base,
		IRQ:       irq,
		transport: &MMIO{Base: base},
	}
}

// Init brings the device up following the sequence in §4.1: reset,
// ACKNOWLEDGE, DRIVER, feature negotiation (requesting the MAC feature when
// advertised), FEATURES_OK, MAC readout, queue setup for RX and TX, RX
// descriptors pre-published to the device, DRIVER_OK.
func (d *Device) Init() (err error) {
	deviceFeatures := (&MMIO{Base: d.Base}).DeviceFeatures()

	var driverFeatures uint64

	if deviceFeatures&(1<<netFeatureMAC) != 0 {
		driverFeatures |= 1 << netFeatureMAC
	}

	if err = d.transport.Init(driverFeatures); err != nil {
		return err
	}

	config := d.transport.Config(6)

	if len(config) >= 6 {
		copy(d.mac[:], config[:6])
	}

	for _, q := range []struct {
		index int
		vq    *VirtualQueue
		flags uint16
	}{
		{rxQueue, &d.rx, Write},
		{txQueue, &d.tx, 0},
	} {
		max := d.transport.MaxQueueSize(q.index)

		if max == 0 {
			return ErrQueueUnavailable
		}

		size := QueueSize

		if max < size {
			size = max
		}

		d.transport.SetQueueSize(q.index, size)
		q.vq.Init(size, BufferSize, q.flags)
		d.transport.SetQueue(q.index, q.vq)
	}

	// make every RX buffer immediately available to the device
	for i := uint16(0); i < d.rx.Size(); i++ {
		d.rx.Available.Set(i, i)
	}

	d.rx.Available.PublishIndex(d.rx.Size())
	d.transport.QueueNotify(rxQueue)

	d.transport.SetReady()
	d.ready = true

	return nil
}

// MAC returns the device's 6-byte hardware address.
func (d *Device) MAC() [6]byte {
	return d.mac
}

// Ready reports whether Init completed successfully.
func (d *Device) Ready() bool {
	return d.ready
}

// Stats returns a snapshot of the device's driver-level counters.
func (d *Device) Stats() DeviceStats {
	return d.stats
}

// HasPending reports whether the RX completion queue holds at least one
// entry.
func (d *Device) HasPending() bool {
	d.completion.Lock()
	defer d.completion.Unlock()

	return d.completion.count > 0
}

// Send enqueues a frame for transmission (§4.1 "TX enqueue"). It reclaims
// completed TX slots first, fails with ErrTxQueueFull if none are free,
// then prepends a zeroed device header, publishes the descriptor and
// notifies the device. It does not wait for completion.
func (d *Device) Send(frame []byte) (err error) {
	if len(frame) > MaxFrameSize {
		return ErrInvalidFrameLen
	}

	d.tx.Lock()
	defer d.tx.Unlock()

	d.txLastUsed = d.tx.Used.Index()

	if int(d.tx.Available.Index()-d.txLastUsed) == int(d.tx.Size()) {
		d.stats.TxQueueFull++
		return ErrTxQueueFull
	}

	idx := d.tx.Available.Index() % d.tx.Size()
	desc := d.tx.Descriptors[idx]

	buf := desc.Payload()

	for i := range buf[:DeviceHeaderLen] {
		buf[i] = 0
	}

	copy(buf[DeviceHeaderLen:], frame)
	desc.Length(uint32(DeviceHeaderLen + len(frame)))

	d.tx.Available.Set(d.tx.Available.Index()%d.tx.Size(), idx)
	d.tx.Available.PublishIndex(d.tx.Available.Index() + 1)

	d.transport.QueueNotify(txQueue)
	d.stats.FramesSent++

	return nil
}

// Poll dequeues one completed receive (§4.1 "Poll"). The completion queue
// dequeue happens inside a lock standing in for the spec's
// interrupt-masking critical section; the buffer copy and descriptor
// recycling happen outside it.
func (d *Device) Poll(out []byte) (n int, empty bool) {
	d.completion.Lock()
	e, ok := d.completion.pop()
	d.completion.Unlock()

	if !ok {
		return 0, true
	}

	if int(e.length) <= DeviceHeaderLen {
		d.recycleRX(uint16(e.descID))
		return 0, true
	}

	payload := int(e.length) - DeviceHeaderLen

	if payload > len(out) {
		payload = len(out)
	}

	if int(e.descID) < len(d.rx.Descriptors) {
		copy(out[:payload], d.rx.Descriptors[e.descID].Payload()[DeviceHeaderLen:DeviceHeaderLen+payload])
	}

	d.recycleRX(uint16(e.descID))
	d.stats.FramesReceived++

	return payload, false
}

// recycleRX returns an RX descriptor to the device's available ring and
// notifies it.
func (d *Device) recycleRX(descID uint16) {
	d.rx.Lock()
	idx := d.rx.Available.Index() % d.rx.Size()
	d.rx.Available.Set(idx, descID)
	d.rx.Available.PublishIndex(d.rx.Available.Index() + 1)
	d.rx.Unlock()

	d.transport.QueueNotify(rxQueue)
}

// IRQHandler services the device from interrupt context (§4.1, §5). It
// must only touch this device's own state: the interrupt status/ack
// registers, the TX last-used cursor, the RX used ring, and the RX
// completion queue. It never calls into the forwarding engine or NAT
// table.
func (d *Device) IRQHandler() {
	buffer, config := d.transport.InterruptStatus()

	if !buffer {
		d.transport.AckInterrupt(buffer, config)
		return
	}

	d.txLastUsed = d.tx.Used.Index()

	recycled := false

	for used := d.rx.Used.Index(); d.rxLastUsed != used; d.rxLastUsed++ {
		elem := d.rx.Used.At(d.rxLastUsed % d.rx.Size())

		if elem.Index >= uint32(len(d.rx.Descriptors)) {
			d.stats.RxDescErrors++
			continue
		}

		entry := completionEntry{descID: uint16(elem.Index), length: elem.Length}

		d.completion.Lock()
		ok := d.completion.push(entry)
		d.completion.Unlock()

		if !ok {
			// completion queue full: recycle immediately, per §4.1
			d.rx.Lock()
			idx := d.rx.Available.Index() % d.rx.Size()
			d.rx.Available.Set(idx, entry.descID)
			d.rx.Available.PublishIndex(d.rx.Available.Index() + 1)
			d.rx.Unlock()

			d.stats.RxRecycled++
			recycled = true
		}
	}

	if recycled {
		d.transport.QueueNotify(rxQueue)
	}

	d.transport.AckInterrupt(buffer, config)
}
