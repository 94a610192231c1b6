package arpcache

import (
	"testing"

	"gvisor.dev/gvisor/pkg/tcpip"
)

func ip(last byte) tcpip.Address {
	return tcpip.Address([]byte{192, 168, 1, last})
}

func mac(last byte) tcpip.LinkAddress {
	return tcpip.LinkAddress([]byte{0x02, 0x00, 0x00, 0x00, 0x00, last})
}

func TestAddAndLookup(t *testing.T) {
	var c Cache

	c.Add(ip(1), mac(1), 0)

	got, ok := c.Lookup(ip(1))

	if !ok || got != mac(1) {
		t.Fatalf("Lookup = (%v, %v), want (%v, true)", got, ok, mac(1))
	}

	if _, ok := c.Lookup(ip(2)); ok {
		t.Fatalf("Lookup of absent IP unexpectedly succeeded")
	}
}

func TestAddRefreshesExistingEntry(t *testing.T) {
	var c Cache

	c.Add(ip(1), mac(1), 0)
	c.Add(ip(1), mac(2), 1000)

	got, _ := c.Lookup(ip(1))

	if got != mac(2) {
		t.Fatalf("Lookup after refresh = %v, want %v", got, mac(2))
	}

	if c.count() != 1 {
		t.Fatalf("count = %d, want 1 (refresh must not grow the table)", c.count())
	}
}

func TestAddEvictsOldestWhenFull(t *testing.T) {
	var c Cache

	for i := 0; i < Capacity; i++ {
		c.Add(ip(byte(i)), mac(byte(i)), uint32(i*1000))
	}

	// ip(0) is the oldest (lastUpdate=0); a new address must evict it.
	c.Add(ip(200), mac(200), uint32(Capacity*1000))

	if _, ok := c.Lookup(ip(0)); ok {
		t.Fatalf("expected the oldest entry to be evicted")
	}

	if got, ok := c.Lookup(ip(200)); !ok || got != mac(200) {
		t.Fatalf("Lookup(ip(200)) = (%v, %v), want (%v, true)", got, ok, mac(200))
	}

	if _, ok := c.Lookup(ip(1)); !ok {
		t.Fatalf("expected the second-oldest entry to survive")
	}
}

func TestCleanupExpired(t *testing.T) {
	var c Cache

	c.Add(ip(1), mac(1), 0)
	c.Add(ip(2), mac(2), 100000)

	expired := c.CleanupExpired(AgeLimit*1000 + 1)

	if expired != 1 {
		t.Fatalf("CleanupExpired = %d, want 1", expired)
	}

	if _, ok := c.Lookup(ip(1)); ok {
		t.Fatalf("expected ip(1) to be expired")
	}

	if _, ok := c.Lookup(ip(2)); !ok {
		t.Fatalf("expected ip(2) to survive (not yet aged out)")
	}
}
