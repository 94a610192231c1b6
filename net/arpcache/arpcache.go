// ARP cache
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package arpcache implements the gateway's next-hop MAC resolution
// cache: a small fixed-capacity table aged on a last-update timestamp and
// evicted LRU-by-oldest.
package arpcache

import (
	"fmt"

	"gvisor.dev/gvisor/pkg/tcpip"
)

const (
	// Capacity is the maximum number of resolved next hops held at once.
	Capacity = 32
	// AgeLimit is the number of seconds after which an entry is
	// considered stale and eligible for cleanup.
	AgeLimit = 300
)

type entry struct {
	inUse      bool
	ip         tcpip.Address
	mac        tcpip.LinkAddress
	lastUpdate uint32
}

// Cache is a fixed-capacity ARP cache. The zero value is ready to use.
type Cache struct {
	entries [Capacity]entry
}

// Add records (or refreshes) the MAC address for ip, following
// original_source's arp_cache_add eviction order: an existing entry for
// this IP is updated in place; failing that, the first unused slot is
// claimed; failing that, the entry with the oldest lastUpdate is
// overwritten.
func (c *Cache) Add(ip tcpip.Address, mac tcpip.LinkAddress, now uint32) {
	for i := range c.entries {
		e := &c.entries[i]

		if e.inUse && e.ip == ip {
			e.mac = mac
			e.lastUpdate = now
			return
		}
	}

	for i := range c.entries {
		e := &c.entries[i]

		if !e.inUse {
			*e = entry{inUse: true, ip: ip, mac: mac, lastUpdate: now}
			return
		}
	}

	oldest := 0

	for i := range c.entries {
		if c.entries[i].lastUpdate < c.entries[oldest].lastUpdate {
			oldest = i
		}
	}

	c.entries[oldest] = entry{inUse: true, ip: ip, mac: mac, lastUpdate: now}
}

// Lookup returns the MAC address cached for ip, if any.
func (c *Cache) Lookup(ip tcpip.Address) (mac tcpip.LinkAddress, ok bool) {
	for i := range c.entries {
		e := &c.entries[i]

		if e.inUse && e.ip == ip {
			return e.mac, true
		}
	}

	return "", false
}

// CleanupExpired clears every entry whose age (now minus lastUpdate,
// converted from milliseconds to seconds) has reached AgeLimit. It
// returns the number of entries cleared.
func (c *Cache) CleanupExpired(now uint32) (expired int) {
	for i := range c.entries {
		e := &c.entries[i]

		if !e.inUse {
			continue
		}

		if (now-e.lastUpdate)/1000 < AgeLimit {
			continue
		}

		*e = entry{}
		expired++
	}

	return expired
}

// String renders the cache's occupied entries, for debug logging in
// place of original_source's arp_cache_print.
func (c *Cache) String() string {
	s := fmt.Sprintf("ARP cache: %d/%d entries\n", c.count(), Capacity)

	for i := range c.entries {
		e := &c.entries[i]

		if !e.inUse {
			continue
		}

		s += fmt.Sprintf("  [%02d] %s -> %s\n", i, e.ip, e.mac)
	}

	return s
}

func (c *Cache) count() (n int) {
	for i := range c.entries {
		if c.entries[i].inUse {
			n++
		}
	}

	return n
}
