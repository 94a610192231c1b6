// First-fit memory allocator for DMA buffers
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import (
	"container/list"
	"errors"
)

// Init initializes the global DMA region used by the package level helper
// functions (Reserve, Alloc, Read, Write, Free, Release).
func Init(start uint, size int) {
	dma = &Region{
		start:      start,
		size:       uint(size),
		freeBlocks: list.New(),
		usedBlocks: make(map[uint]*block),
	}

	dma.freeBlocks.PushBack(&block{
		addr: start,
		size: uint(size),
	})
}

// NewRegion allocates a new DMA region, separate from the default one
// initialized with Init(), to be used as a private pool (e.g. a VirtIO
// device configuration space). When reserved is true, the whole region is
// marked as a single used block, available for Read/Write access without a
// prior Alloc/Reserve call.
func NewRegion(start uint, size int, reserved bool) (r *Region, err error) {
	if size <= 0 {
		return nil, errors.New("invalid region size")
	}

	r = &Region{
		start:      start,
		size:       uint(size),
		freeBlocks: list.New(),
		usedBlocks: make(map[uint]*block),
	}

	b := &block{
		addr: start,
		size: uint(size),
		res:  reserved,
	}

	if reserved {
		r.usedBlocks[start] = b
	} else {
		r.freeBlocks.PushBack(b)
	}

	return r, nil
}

// Reserve allocates a slice of bytes within the default DMA region, see
// Region.Reserve.
func Reserve(size int, align int) (addr uint, buf []byte) {
	return dma.Reserve(size, align)
}

// Reserved returns whether a slice of bytes is allocated within the default
// DMA region, see Region.Reserved.
func Reserved(buf []byte) (res bool, addr uint) {
	return dma.Reserved(buf)
}

// Alloc reserves a memory region within the default DMA region, see
// Region.Alloc.
func Alloc(buf []byte, align int) (addr uint) {
	return dma.Alloc(buf, align)
}

// Read reads from the default DMA region, see Region.Read.
func Read(addr uint, off int, buf []byte) {
	dma.Read(addr, off, buf)
}

// Write writes to the default DMA region, see Region.Write.
func Write(addr uint, off int, buf []byte) {
	dma.Write(addr, off, buf)
}

// Free releases an Alloc'd buffer within the default DMA region, see
// Region.Free.
func Free(addr uint) {
	dma.Free(addr)
}

// Release releases a Reserve'd buffer within the default DMA region, see
// Region.Release.
func Release(addr uint) {
	dma.Release(addr)
}
