// ARM PL011 UART driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pl011 implements a driver for the ARM PrimeCell PL011 UART,
// the console device QEMU's `virt` machine exposes at a fixed MMIO
// address, grounded in original_source's bsp/uart.c register layout
// and initialization sequence.
package pl011

import (
	"github.com/usbarmory/natgw/internal/reg"
)

// Register offsets (ARM PrimeCell UART (PL011) Technical Reference
// Manual).
const (
	UARTDR   = 0x00
	UARTFR   = 0x18
	UARTIBRD = 0x24
	UARTFBRD = 0x28
	UARTLCRH = 0x2c
	UARTCR   = 0x30
	UARTIMSC = 0x38

	FR_TXFF = 5

	LCRH_WLEN  = 5 // 8-bit words (0b11 << 5)
	LCRH_FEN   = 4
	CR_RXE     = 9
	CR_TXE     = 8
	CR_UARTEN  = 0
)

// UART represents a PL011 serial port instance.
type UART struct {
	// Base register address.
	Base uint32

	// Divisor registers, matching QEMU's fixed 24MHz UARTCLK and a
	// 115200 baud rate (original_source's IBRD=13, FBRD=2).
	IBRD uint32
	FBRD uint32
}

// Init initializes the UART for 8N1 operation at the configured baud
// rate divisors.
func (hw *UART) Init() {
	if hw.Base == 0 {
		panic("invalid UART controller instance")
	}

	if hw.IBRD == 0 {
		hw.IBRD = 13
		hw.FBRD = 2
	}

	reg.Write(hw.Base+UARTCR, 0)
	reg.Write(hw.Base+UARTIMSC, 0)
	reg.Write(hw.Base+UARTIBRD, hw.IBRD)
	reg.Write(hw.Base+UARTFBRD, hw.FBRD)
	reg.Write(hw.Base+UARTLCRH, (3<<LCRH_WLEN)|(1<<LCRH_FEN))
	reg.Write(hw.Base+UARTCR, (1<<CR_RXE)|(1<<CR_TXE)|(1<<CR_UARTEN))
}

func (hw *UART) txFull() bool {
	return reg.Get(hw.Base+UARTFR, FR_TXFF, 1) == 1
}

// Tx transmits a single character to the serial port, translating a
// bare line feed into a carriage return + line feed pair.
func (hw *UART) Tx(c byte) {
	if c == '\n' {
		hw.Tx('\r')
	}

	for hw.txFull() {
	}

	reg.Write(hw.Base+UARTDR, uint32(c))
}

// Write transmits buf a byte at a time.
func (hw *UART) Write(buf []byte) (n int, err error) {
	for _, c := range buf {
		hw.Tx(c)
	}

	return len(buf), nil
}
