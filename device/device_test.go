/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/NordSecurity/NepTUN/config"
)

func TestAddTunnelRejectsSelf(t *testing.T) {
	sk, err := newPrivateKey()
	assertNil(t, err)
	dev := NewDevice(sk)
	t.Cleanup(dev.Close)

	if _, err := dev.AddTunnel(PeerIdentity{PublicKey: sk.publicKey()}); err == nil {
		t.Fatal("expected adding the device's own key as a peer to fail")
	}
}

func TestAddTunnelRejectsDuplicate(t *testing.T) {
	sk1, err := newPrivateKey()
	assertNil(t, err)
	sk2, err := newPrivateKey()
	assertNil(t, err)

	dev := NewDevice(sk1)
	t.Cleanup(dev.Close)

	if _, err := dev.AddTunnel(PeerIdentity{PublicKey: sk2.publicKey()}); err != nil {
		t.Fatal(err)
	}
	if _, err := dev.AddTunnel(PeerIdentity{PublicKey: sk2.publicKey()}); err != ErrPeerExists {
		t.Fatalf("expected ErrPeerExists, got %v", err)
	}
}

func TestRemoveTunnelDestroysSessions(t *testing.T) {
	p := newTestPair(t)
	now := time.Now()
	p.completeHandshake(t, now)

	data := expectNetwork(t, p.tun2.Encapsulate([]byte("addressed to a gone peer"), now), 0)

	p.dev1.RemoveTunnel(p.tun1.handshake.remoteStatic)
	if p.dev1.LookupTunnel(p.tun1.handshake.remoteStatic) != nil {
		t.Fatal("expected peer to be gone after removal")
	}
	expectErr(t, p.dev1.Decapsulate(endpoint2, data, now), ErrUnknownIndex)
}

func TestUnderLoadLatch(t *testing.T) {
	sk, err := newPrivateKey()
	assertNil(t, err)
	dev := NewDevice(sk)
	t.Cleanup(dev.Close)

	now := time.Now()
	if dev.IsUnderLoad(now) {
		t.Fatal("fresh device must not report being under load")
	}
	dev.ForceUnderLoad(now.Add(time.Minute))
	if !dev.IsUnderLoad(now) {
		t.Fatal("expected device to report load after ForceUnderLoad")
	}
	if dev.IsUnderLoad(now.Add(2 * time.Minute)) {
		t.Fatal("expected under-load latch to expire")
	}
}

// TestDeviceFromConfig walks the path a host takes from a YAML file to a
// configured device.
func TestDeviceFromConfig(t *testing.T) {
	devKey := GeneratePrivateKey()
	peerKey := GeneratePrivateKey()
	peerPub, err := PublicKeyFromPrivateKey(peerKey)
	assertNil(t, err)

	doc := strings.Join([]string{
		"privateKey: " + devKey,
		"peers:",
		"  - name: alice",
		"    publicKey: " + peerPub,
		"    allowedIPs: [\"10.0.0.2/32\"]",
		"    persistentKeepaliveInterval: 25s",
	}, "\n")

	cfg, err := config.Parse([]byte(doc))
	assertNil(t, err)

	sk, err := ParsePrivateKey(cfg.PrivateKey)
	assertNil(t, err)
	dev := NewDevice(sk)
	t.Cleanup(dev.Close)

	for _, peer := range cfg.Peers {
		pk, err := ParsePublicKey(peer.PublicKey)
		assertNil(t, err)
		tun, err := dev.AddTunnel(PeerIdentity{
			PublicKey:           pk,
			PersistentKeepalive: peer.PersistentKeepaliveInterval,
		})
		assertNil(t, err)
		for _, cidr := range peer.AllowedIPs {
			prefix, err := netip.ParsePrefix(cidr)
			assertNil(t, err)
			dev.AllowedIPs().Insert(prefix, tun)
		}
	}

	pk, _ := ParsePublicKey(peerPub)
	tun := dev.LookupTunnel(pk)
	if tun == nil {
		t.Fatal("expected configured peer to be present")
	}
	if got := dev.AllowedIPs().Lookup([]byte{10, 0, 0, 2}); got != tun {
		t.Fatal("expected allowed IP to route to the configured peer")
	}
}
