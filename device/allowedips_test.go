/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"net/netip"
	"testing"
)

func TestAllowedIPsLongestPrefixMatch(t *testing.T) {
	var table AllowedIPs
	wide := new(Tunnel)
	narrow := new(Tunnel)

	table.Insert(netip.MustParsePrefix("10.0.0.0/8"), wide)
	table.Insert(netip.MustParsePrefix("10.0.1.0/24"), narrow)

	if got := table.Lookup([]byte{10, 0, 1, 5}); got != narrow {
		t.Fatal("expected the /24 tunnel for an address inside it")
	}
	if got := table.Lookup([]byte{10, 2, 3, 4}); got != wide {
		t.Fatal("expected the /8 tunnel for an address outside the /24")
	}
	if got := table.Lookup([]byte{192, 0, 2, 1}); got != nil {
		t.Fatal("expected no tunnel for an unrouted address")
	}
}

func TestAllowedIPsV6(t *testing.T) {
	var table AllowedIPs
	tun := new(Tunnel)

	table.Insert(netip.MustParsePrefix("2001:db8::/32"), tun)

	addr := netip.MustParseAddr("2001:db8::1").As16()
	if got := table.Lookup(addr[:]); got != tun {
		t.Fatal("expected v6 prefix to route to its tunnel")
	}
	other := netip.MustParseAddr("2001:db9::1").As16()
	if got := table.Lookup(other[:]); got != nil {
		t.Fatal("expected address outside the prefix to be unrouted")
	}
}

func TestAllowedIPsRemoveByTunnel(t *testing.T) {
	var table AllowedIPs
	keep := new(Tunnel)
	drop := new(Tunnel)

	table.Insert(netip.MustParsePrefix("10.1.0.0/16"), keep)
	table.Insert(netip.MustParsePrefix("10.2.0.0/16"), drop)
	table.Insert(netip.MustParsePrefix("10.3.0.0/16"), drop)

	table.RemoveByTunnel(drop)

	if got := table.Lookup([]byte{10, 2, 0, 1}); got != nil {
		t.Fatal("expected removed tunnel's prefixes to be gone")
	}
	if got := table.Lookup([]byte{10, 1, 0, 1}); got != keep {
		t.Fatal("expected surviving tunnel's prefix to remain")
	}

	count := 0
	table.EntriesForTunnel(drop, func(netip.Prefix) bool { count++; return true })
	if count != 0 {
		t.Fatalf("expected no entries for removed tunnel, found %d", count)
	}
}

func TestAllowedIPsExactReplace(t *testing.T) {
	var table AllowedIPs
	first := new(Tunnel)
	second := new(Tunnel)

	prefix := netip.MustParsePrefix("172.16.0.0/12")
	table.Insert(prefix, first)
	table.Insert(prefix, second)

	if got := table.Lookup([]byte{172, 16, 5, 5}); got != second {
		t.Fatal("expected re-insertion of a prefix to rebind it")
	}

	// Remove with the wrong owner is a no-op.
	table.Remove(prefix, first)
	if got := table.Lookup([]byte{172, 16, 5, 5}); got != second {
		t.Fatal("remove by non-owner must not unroute the prefix")
	}
	table.Remove(prefix, second)
	if got := table.Lookup([]byte{172, 16, 5, 5}); got != nil {
		t.Fatal("expected prefix to be unrouted after removal by owner")
	}
}

func TestVerifySource(t *testing.T) {
	p := newTestPair(t)
	p.dev1.AllowedIPs().Insert(netip.MustParsePrefix("10.9.0.2/32"), p.tun1)

	packet := make([]byte, 28)
	packet[0] = 4 << 4
	copy(packet[IPv4offsetSrc:], []byte{10, 9, 0, 2})

	if !p.dev1.VerifySource(packet, p.tun1) {
		t.Fatal("expected packet from allowed source to verify")
	}

	copy(packet[IPv4offsetSrc:], []byte{10, 9, 0, 3})
	if p.dev1.VerifySource(packet, p.tun1) {
		t.Fatal("expected packet from disallowed source to fail verification")
	}
	if p.dev1.VerifySource(nil, p.tun1) {
		t.Fatal("expected empty packet to fail verification")
	}
}
