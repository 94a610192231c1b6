// NAT session table
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package nat implements the gateway's source NAT / PAT session table: a
// bounded, aging 5-tuple table with an O(1) hash-indexed reverse lookup and
// a monotonic port allocator.
package nat

import (
	"fmt"

	"gvisor.dev/gvisor/pkg/tcpip"
)

// Transport protocol numbers (as carried in the IPv4 header).
const (
	ICMP = 1
	TCP  = 6
	UDP  = 17
)

const (
	// TableSize is the maximum number of concurrent sessions.
	TableSize = 64
	// HashSize is the reverse-lookup hash table size, a power of two.
	HashSize = 128

	// PortRangeStart and PortRangeEnd bound the WAN port/ICMP identifier
	// allocator.
	PortRangeStart = 20000
	PortRangeEnd   = 30000
)

// Per-protocol session timeouts, in seconds.
const (
	TimeoutICMP    = 60
	TimeoutUDP     = 120
	TimeoutTCPInit = 300
)

// entry is one NAT session.
type entry struct {
	active bool
	proto  uint8

	lanIP   tcpip.Address
	lanPort uint16
	wanPort uint16

	dstIP   tcpip.Address
	dstPort uint16

	lastActivity uint32
	timeout      uint32
}

func (e *entry) matchesOutbound(proto uint8, lanIP tcpip.Address, lanPort uint16, dstIP tcpip.Address, dstPort uint16) bool {
	return e.active && e.proto == proto && e.lanIP == lanIP && e.lanPort == lanPort && e.dstIP == dstIP && e.dstPort == dstPort
}

func (e *entry) matchesInbound(proto uint8, wanPort uint16, srcIP tcpip.Address, srcPort uint16) bool {
	return e.active && e.proto == proto && e.wanPort == wanPort && e.dstIP == srcIP && e.dstPort == srcPort
}

// Stats counts table-level events.
type Stats struct {
	Translated uint32
	TableFull  uint32
	NoMatch    uint32
	Expired    uint32
}

// Table is the NAT session table. The zero value is not ready for use;
// call Init first.
type Table struct {
	entries  [TableSize]entry
	hash     [HashSize]int16
	nextPort uint16
	stats    Stats
}

// Init resets the table to empty: all entries inactive, hash table
// cleared, statistics zeroed, port allocator reset to the range start.
func (t *Table) Init() {
	*t = Table{}

	for i := range t.hash {
		t.hash[i] = -1
	}

	t.nextPort = PortRangeStart
}

func timeoutFor(proto uint8) uint32 {
	switch proto {
	case ICMP:
		return TimeoutICMP
	case UDP:
		return TimeoutUDP
	default:
		return TimeoutTCPInit
	}
}

func hashOf(wanPort uint16) int {
	return int(wanPort) & (HashSize - 1)
}

// allocPort returns the next port from the allocator, wrapping to
// PortRangeStart once PortRangeEnd is reached. It performs no
// duplicate-port detection.
func (t *Table) allocPort() (port uint16) {
	port = t.nextPort

	if t.nextPort == PortRangeEnd {
		t.nextPort = PortRangeStart
	} else {
		t.nextPort++
	}

	return port
}

// TranslateOutbound returns the WAN port (or ICMP identifier) assigned to
// the given LAN-side session, creating a new session if none exists.
// now is the current tick (milliseconds).
func (t *Table) TranslateOutbound(proto uint8, lanIP tcpip.Address, lanPort uint16, dstIP tcpip.Address, dstPort uint16, now uint32) (wanPort uint16, err error) {
	for i := range t.entries {
		e := &t.entries[i]

		if e.matchesOutbound(proto, lanIP, lanPort, dstIP, dstPort) {
			e.lastActivity = now
			return e.wanPort, nil
		}
	}

	idx := -1

	for i := range t.entries {
		if !t.entries[i].active {
			idx = i
			break
		}
	}

	if idx < 0 {
		t.stats.TableFull++
		return 0, ErrTableFull
	}

	wanPort = t.allocPort()

	t.entries[idx] = entry{
		active:       true,
		proto:        proto,
		lanIP:        lanIP,
		lanPort:      lanPort,
		wanPort:      wanPort,
		dstIP:        dstIP,
		dstPort:      dstPort,
		lastActivity: now,
		timeout:      timeoutFor(proto),
	}

	t.hash[hashOf(wanPort)] = int16(idx)
	t.stats.Translated++

	return wanPort, nil
}

// TranslateInbound resolves a WAN-side reply back to its LAN originator.
// The hash bucket is probed first; a linear scan is attempted only when
// the bucket is occupied but does not match (an empty bucket is a
// definitive miss), matching original_source's nat_find_reverse_entry.
func (t *Table) TranslateInbound(proto uint8, wanPort uint16, srcIP tcpip.Address, srcPort uint16, now uint32) (lanIP tcpip.Address, lanPort uint16, err error) {
	bucket := hashOf(wanPort)
	idx := t.hash[bucket]

	if idx >= 0 {
		e := &t.entries[idx]

		if e.matchesInbound(proto, wanPort, srcIP, srcPort) {
			e.lastActivity = now
			return e.lanIP, e.lanPort, nil
		}

		for i := range t.entries {
			e := &t.entries[i]

			if e.matchesInbound(proto, wanPort, srcIP, srcPort) {
				e.lastActivity = now
				return e.lanIP, e.lanPort, nil
			}
		}
	}

	t.stats.NoMatch++

	return "", 0, ErrNoMatch
}

// CleanupExpired deactivates every session whose age (now minus its last
// activity tick, converted from milliseconds to seconds by integer
// division) has reached its protocol timeout, clearing the hash bucket if
// it still refers to the expired entry. It returns the number of sessions
// expired.
func (t *Table) CleanupExpired(now uint32) (expired int) {
	for i := range t.entries {
		e := &t.entries[i]

		if !e.active {
			continue
		}

		age := (now - e.lastActivity) / 1000

		if age < e.timeout {
			continue
		}

		e.active = false

		bucket := hashOf(e.wanPort)

		if t.hash[bucket] == int16(i) {
			t.hash[bucket] = -1
		}

		t.stats.Expired++
		expired++
	}

	return expired
}

// Stats returns a snapshot of the table's counters.
func (t *Table) Stats() Stats {
	return t.stats
}

// ResetStats zeroes the table's counters.
func (t *Table) ResetStats() {
	t.stats = Stats{}
}

// String renders the table's active sessions, for debug logging in place
// of original_source's nat_print_table.
func (t *Table) String() string {
	s := fmt.Sprintf("NAT table: %d/%d active\n", t.activeCount(), TableSize)

	for i := range t.entries {
		e := &t.entries[i]

		if !e.active {
			continue
		}

		s += fmt.Sprintf("  [%02d] proto=%d %s:%d <-> wan:%d <-> %s:%d age_timeout=%ds\n",
			i, e.proto, e.lanIP, e.lanPort, e.wanPort, e.dstIP, e.dstPort, e.timeout)
	}

	return s
}

func (t *Table) activeCount() (n int) {
	for i := range t.entries {
		if t.entries[i].active {
			n++
		}
	}

	return n
}
