/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NordSecurity/NepTUN/ratelimiter"
)

// Device is the cross-peer container: the local static identity, the
// index table demultiplexing inbound packets across every Tunnel, the
// cookie checker guarding handshakes, and the per-source rate limiter
// feeding the under-load detector. A Device owns no sockets, no TUN
// handle, and no goroutines of its own (the rate limiter's garbage
// collector excepted); every operation is a synchronous call on byte
// buffers supplied by the host.
type Device struct {
	staticIdentity struct {
		sync.RWMutex
		privateKey NoisePrivateKey
		publicKey  NoisePublicKey
	}

	peers struct {
		sync.RWMutex
		keyMap map[NoisePublicKey]*Tunnel
	}

	rate struct {
		underLoadUntil atomic.Int64
		limiter        ratelimiter.Ratelimiter
	}

	allowedips    AllowedIPs
	indexTable    IndexTable
	cookieChecker CookieChecker

	log    *slog.Logger
	closed atomic.Bool
}

// DeviceOption customizes a Device at construction.
type DeviceOption func(*Device)

// WithLogger directs the device's debug and lifecycle logging to log.
func WithLogger(log *slog.Logger) DeviceOption {
	return func(d *Device) { d.log = log }
}

// NewDevice creates a Device around the given static private key. The
// public key is derived, the index table and cookie checker initialized,
// and the source-address rate limiter started.
func NewDevice(privateKey NoisePrivateKey, opts ...DeviceOption) *Device {
	device := new(Device)
	device.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, opt := range opts {
		opt(device)
	}

	privateKey.clamp()
	device.staticIdentity.privateKey = privateKey
	device.staticIdentity.publicKey = privateKey.publicKey()

	device.peers.keyMap = make(map[NoisePublicKey]*Tunnel)
	device.indexTable.Init()
	device.cookieChecker.Init(device.staticIdentity.publicKey)
	device.rate.limiter.Init()

	return device
}

// PeerIdentity describes a remote peer: its static public key, an
// optional preshared key (all zeros when absent), an optional preset
// endpoint, and the persistent-keepalive interval (0 disables).
// Immutable after AddTunnel consumes it.
type PeerIdentity struct {
	PublicKey           NoisePublicKey
	PresharedKey        NoisePresharedKey
	Endpoint            netip.AddrPort
	PersistentKeepalive time.Duration
}

// AddTunnel registers a peer and returns the Tunnel driving all traffic
// to and from it. A peer whose public key equals the device's own, or
// one already configured, is rejected.
func (device *Device) AddTunnel(peer PeerIdentity) (*Tunnel, error) {
	device.staticIdentity.RLock()
	defer device.staticIdentity.RUnlock()

	if peer.PublicKey.Equals(device.staticIdentity.publicKey) {
		return nil, errInvalidPublicKey
	}

	device.peers.Lock()
	defer device.peers.Unlock()

	if _, ok := device.peers.keyMap[peer.PublicKey]; ok {
		return nil, ErrPeerExists
	}

	tun := new(Tunnel)
	tun.device = device
	tun.cookieGenerator.Init(peer.PublicKey)
	tun.timers.persistentKeepaliveInterval = peer.PersistentKeepalive

	handshake := &tun.handshake
	handshake.mutex.Lock()
	handshake.remoteStatic = peer.PublicKey
	handshake.presharedKey = peer.PresharedKey
	handshake.precomputedStaticStatic, _ = device.staticIdentity.privateKey.sharedSecret(peer.PublicKey)
	handshake.mutex.Unlock()

	if peer.Endpoint.IsValid() {
		tun.setEndpointLocked(peer.Endpoint)
	}

	device.peers.keyMap[peer.PublicKey] = tun
	device.log.Info("peer added", "peer", tun.String())
	return tun, nil
}

// LookupTunnel returns the Tunnel configured for pk, or nil.
func (device *Device) LookupTunnel(pk NoisePublicKey) *Tunnel {
	device.peers.RLock()
	defer device.peers.RUnlock()
	return device.peers.keyMap[pk]
}

// RemoveTunnel tears down the peer for pk: its allowed-IP entries are
// dropped, its indices released, and all key material zeroed.
func (device *Device) RemoveTunnel(pk NoisePublicKey) {
	device.peers.Lock()
	tun := device.peers.keyMap[pk]
	delete(device.peers.keyMap, pk)
	device.peers.Unlock()

	if tun == nil {
		return
	}
	device.allowedips.RemoveByTunnel(tun)
	tun.mutex.Lock()
	tun.zeroAndClearLocked()
	tun.mutex.Unlock()
}

// Close tears down every Tunnel and stops the rate limiter. The Device
// must not be used afterwards.
func (device *Device) Close() {
	if device.closed.Swap(true) {
		return
	}

	device.peers.Lock()
	for pk, tun := range device.peers.keyMap {
		delete(device.peers.keyMap, pk)
		device.allowedips.RemoveByTunnel(tun)
		tun.mutex.Lock()
		tun.zeroAndClearLocked()
		tun.mutex.Unlock()
	}
	device.peers.Unlock()

	device.rate.limiter.Close()

	device.staticIdentity.Lock()
	setZero(device.staticIdentity.privateKey[:])
	device.staticIdentity.Unlock()

	device.log.Info("device closed")
}

// IsUnderLoad reports whether handshake processing should demand a valid
// MAC2 (cookie) before doing expensive work. The flag latches for
// UnderLoadAfterTime past the last overload observation, so a burst
// doesn't flap the cookie requirement per packet.
func (device *Device) IsUnderLoad(now time.Time) bool {
	return now.UnixNano() < device.rate.underLoadUntil.Load()
}

// noteLoad extends the under-load latch; called when the rate limiter
// rejects a source address.
func (device *Device) noteLoad(now time.Time) {
	device.rate.underLoadUntil.Store(now.Add(UnderLoadAfterTime).UnixNano())
}

// ForceUnderLoad makes the device behave as under load until the given
// time, regardless of observed traffic. Hosts use this to tie the cookie
// machinery to their own CPU or queue measurements.
func (device *Device) ForceUnderLoad(until time.Time) {
	device.rate.underLoadUntil.Store(until.UnixNano())
}
