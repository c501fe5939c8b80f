/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"encoding/base64"
	"fmt"
)

// Key accessors for hosting applications. Only public material is ever
// returned; nothing here can reach a private key once it is inside a
// Device.

// PublicKey returns the device's static public key, base64-encoded the
// way wg(8) prints keys.
func (d *Device) PublicKey() string {
	d.staticIdentity.RLock()
	defer d.staticIdentity.RUnlock()
	return base64.StdEncoding.EncodeToString(d.staticIdentity.publicKey[:])
}

// GeneratePrivateKey produces a fresh clamped Curve25519 private key,
// base64-encoded.
func GeneratePrivateKey() string {
	sk, _ := newPrivateKey()
	return base64.StdEncoding.EncodeToString(sk[:])
}

// PublicKeyFromPrivateKey derives the base64-encoded public key for a
// base64-encoded private key.
func PublicKeyFromPrivateKey(privKeyBase64 string) (string, error) {
	keyBytes, err := base64.StdEncoding.DecodeString(privKeyBase64)
	if err != nil || len(keyBytes) != NoisePrivateKeySize {
		return "", fmt.Errorf("invalid private key")
	}
	var sk NoisePrivateKey
	copy(sk[:], keyBytes)
	pk := sk.publicKey()
	return base64.StdEncoding.EncodeToString(pk[:]), nil
}

// ParsePrivateKey decodes a base64-encoded private key into its typed
// form, for handing to NewDevice.
func ParsePrivateKey(privKeyBase64 string) (NoisePrivateKey, error) {
	var sk NoisePrivateKey
	keyBytes, err := base64.StdEncoding.DecodeString(privKeyBase64)
	if err != nil || len(keyBytes) != NoisePrivateKeySize {
		return sk, fmt.Errorf("invalid private key")
	}
	copy(sk[:], keyBytes)
	return sk, nil
}

// ParsePublicKey decodes a base64-encoded public key into its typed
// form, for use in a PeerIdentity.
func ParsePublicKey(pubKeyBase64 string) (NoisePublicKey, error) {
	var pk NoisePublicKey
	keyBytes, err := base64.StdEncoding.DecodeString(pubKeyBase64)
	if err != nil || len(keyBytes) != NoisePublicKeySize {
		return pk, fmt.Errorf("invalid public key")
	}
	copy(pk[:], keyBytes)
	return pk, nil
}

// ForEachTunnel visits every configured peer's Tunnel under the peers
// read lock, for hosts iterating timer ticks or collecting stats.
func (d *Device) ForEachTunnel(fn func(*Tunnel)) {
	d.peers.RLock()
	defer d.peers.RUnlock()
	for _, tun := range d.peers.keyMap {
		fn(tun)
	}
}

// AllowedIPs exposes the routing table for the hosting device to
// populate and query.
func (d *Device) AllowedIPs() *AllowedIPs {
	return &d.allowedips
}
