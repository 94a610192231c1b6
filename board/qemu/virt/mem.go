// QEMU virt support for tamago/arm64
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build !linkramsize

package virt

import (
	_ "unsafe"
)

// Applications can override ramSize with the `linkramsize` build tag.

//go:linkname ramSize runtime/goos.RamSize
var ramSize uint = 0x20000000 // 512MB
