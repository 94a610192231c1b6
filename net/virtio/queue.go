// VirtIO split virtqueue support
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package virtio

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/usbarmory/natgw/dma"
)

// Descriptor flags (VirtIO 1.2 §2.7.5).
const (
	Next  = 1
	Write = 2
)

// Descriptor represents a single split virtqueue descriptor-table entry.
type Descriptor struct {
	Address uint64
	length  uint32
	Flags   uint16
	Next    uint16

	// DMA buffer backing the descriptor's payload
	buf []byte

	// entry is the 16-byte slice of the virtqueue's descriptor table
	// holding this descriptor's device-visible wire encoding, set by
	// VirtualQueue.Init once the table is placed in DMA memory. Length
	// writes through it so the device observes updated lengths without
	// a re-copy of the whole table.
	entry []byte
}

// Bytes converts the descriptor to its wire format.
func (d *Descriptor) Bytes() []byte {
	buf := new(bytes.Buffer)

	binary.Write(buf, binary.LittleEndian, d.Address)
	binary.Write(buf, binary.LittleEndian, d.length)
	binary.Write(buf, binary.LittleEndian, d.Flags)
	binary.Write(buf, binary.LittleEndian, d.Next)

	return buf.Bytes()
}

// Length updates the descriptor length field, visible to the device.
func (d *Descriptor) Length(length uint32) {
	d.length = length

	if d.entry != nil {
		binary.LittleEndian.PutUint32(d.entry[8:], length)
	}
}

// Payload returns the descriptor's DMA-visible buffer.
func (d *Descriptor) Payload() []byte {
	return d.buf
}

// Init allocates a DMA buffer of the given length for the descriptor.
func (d *Descriptor) Init(length int, flags uint16) {
	addr, buf := dma.Reserve(length, 0)

	d.Address = uint64(addr)
	d.length = uint32(length)
	d.Flags = flags

	d.buf = buf
}

// Destroy releases the descriptor's DMA buffer.
func (d *Descriptor) Destroy() {
	dma.Release(uint(d.Address))
}

// Available represents the driver-to-device available ring.
type Available struct {
	Flags      uint16
	index      uint16
	ring       []uint16
	EventIndex uint16

	buf []byte
}

// Bytes converts the ring to its wire format.
func (d *Available) Bytes() []byte {
	buf := new(bytes.Buffer)

	binary.Write(buf, binary.LittleEndian, d.Flags)
	binary.Write(buf, binary.LittleEndian, d.index)

	for _, ring := range d.ring {
		binary.Write(buf, binary.LittleEndian, ring)
	}

	binary.Write(buf, binary.LittleEndian, d.EventIndex)

	return buf.Bytes()
}

// Index returns the published avail.idx value.
func (d *Available) Index() uint16 {
	return d.index
}

// PublishIndex updates the avail.idx field, making it visible to the
// device.
func (d *Available) PublishIndex(index uint16) {
	binary.LittleEndian.PutUint16(d.buf[2:], index)
	d.index = index
}

// Set updates the ring entry at position n to reference descriptor
// index.
func (d *Available) Set(n uint16, index uint16) {
	off := 4 + int(n)*2
	binary.LittleEndian.PutUint16(d.buf[off:], index)
	d.ring[n] = index
}

// usedElem represents one entry of the device-to-driver used ring.
type usedElem struct {
	Index  uint32
	Length uint32
}

func (e *usedElem) bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, e)
	return buf.Bytes()
}

// Used represents the device-to-driver used ring.
type Used struct {
	Flags      uint16
	index      uint16
	ring       []usedElem
	AvailEvent uint16

	buf []byte
}

// Bytes converts the ring to its wire format.
func (d *Used) Bytes() []byte {
	buf := new(bytes.Buffer)

	binary.Write(buf, binary.LittleEndian, d.Flags)
	binary.Write(buf, binary.LittleEndian, d.index)

	for _, e := range d.ring {
		buf.Write(e.bytes())
	}

	binary.Write(buf, binary.LittleEndian, d.AvailEvent)

	return buf.Bytes()
}

// Index re-reads and returns the device-published used.idx value.
func (d *Used) Index() uint16 {
	d.index = binary.LittleEndian.Uint16(d.buf[2:])
	return d.index
}

// At returns the used-ring entry at position n.
func (d *Used) At(n uint16) usedElem {
	off := 4 + int(n)*8

	var e usedElem
	e.Index = binary.LittleEndian.Uint32(d.buf[off:])
	e.Length = binary.LittleEndian.Uint32(d.buf[off+4:])

	return e
}

// VirtualQueue represents one split virtqueue: descriptor table, available
// ring and used ring, allocated as a single contiguous DMA region.
type VirtualQueue struct {
	sync.Mutex

	Descriptors []*Descriptor
	Available   Available
	Used        Used

	buf    []byte
	desc   uint
	driver uint
	device uint

	size uint16
}

func (d *VirtualQueue) bytes() ([]byte, int, int) {
	buf := new(bytes.Buffer)

	for _, desc := range d.Descriptors {
		buf.Write(desc.Bytes())
	}

	driver := buf.Len()
	buf.Write(d.Available.Bytes())

	device := buf.Len()
	buf.Write(d.Used.Bytes())

	return buf.Bytes(), driver, device
}

// Init allocates a split virtqueue of size entries, each with a length
// byte buffer and descriptor flags (Write for an RX queue, 0 for a TX
// queue).
func (d *VirtualQueue) Init(size int, length int, flags uint16) {
	d.Lock()
	defer d.Unlock()

	d.Available.ring = make([]uint16, size)
	d.Used.ring = make([]usedElem, size)

	for i := 0; i < size; i++ {
		desc := &Descriptor{}
		desc.Init(length, flags)

		d.Descriptors = append(d.Descriptors, desc)
	}

	buf, driver, device := d.bytes()
	d.desc, d.buf = dma.Reserve(len(buf), 4096)
	copy(d.buf, buf)

	for i, desc := range d.Descriptors {
		desc.entry = d.buf[i*16 : i*16+16]
	}

	d.driver = d.desc + uint(driver)
	d.device = d.desc + uint(device)
	d.size = uint16(size)

	d.Available.buf = d.buf[driver:device]
	d.Used.buf = d.buf[device:]
}

// Size returns the queue's entry count.
func (d *VirtualQueue) Size() uint16 {
	return d.size
}

// Address returns the virtqueue's three physical base addresses (desc,
// driver/available, device/used).
func (d *VirtualQueue) Address() (desc uint, driver uint, device uint) {
	return d.desc, d.driver, d.device
}

// Destroy releases the virtqueue's DMA buffers.
func (d *VirtualQueue) Destroy() {
	for _, desc := range d.Descriptors {
		desc.Destroy()
	}

	dma.Release(d.desc)
}
