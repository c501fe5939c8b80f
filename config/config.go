/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package config loads the static, construction-time description of a
// device and its peers from YAML. It has no live-reconfiguration surface;
// a Config is read once, validated, and handed to device.NewDevice.
package config

import (
	"encoding/base64"
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level description of one WireGuard interface.
type Config struct {
	// PrivateKey is the base64-encoded Curve25519 private key of this device.
	PrivateKey string `yaml:"privateKey"`
	// ListenPort is informational only; this library performs no socket I/O.
	ListenPort uint16 `yaml:"listenPort,omitempty"`
	// Peers lists every remote peer this device should be able to tunnel to.
	Peers []PeerConfig `yaml:"peers"`
}

// PeerConfig is the configuration for a single remote peer.
type PeerConfig struct {
	// Name is an optional human-readable label, never sent on the wire.
	Name string `yaml:"name,omitempty"`
	// PublicKey is the base64-encoded Curve25519 public key of the peer.
	PublicKey string `yaml:"publicKey"`
	// PresharedKey is an optional base64-encoded 32-byte PSK (Noise_IKpsk2).
	PresharedKey string `yaml:"presharedKey,omitempty"`
	// AllowedIPs lists the CIDR prefixes routed to this peer.
	AllowedIPs []string `yaml:"allowedIPs,omitempty"`
	// PersistentKeepaliveInterval, if nonzero, is how often to send an
	// otherwise-empty transport message to keep NAT state alive.
	PersistentKeepaliveInterval time.Duration `yaml:"persistentKeepaliveInterval,omitempty"`
}

// Load reads and parses a Config from a YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every key material field decodes to the right size
// and that peer public keys are unique, without touching the network.
func (c *Config) Validate() error {
	if _, err := decodeKey(c.PrivateKey); err != nil {
		return fmt.Errorf("config: private key: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Peers))
	for i := range c.Peers {
		p := &c.Peers[i]
		if _, err := decodeKey(p.PublicKey); err != nil {
			return fmt.Errorf("config: peer %q public key: %w", p.Name, err)
		}
		if _, ok := seen[p.PublicKey]; ok {
			return fmt.Errorf("config: duplicate peer public key %q", p.PublicKey)
		}
		seen[p.PublicKey] = struct{}{}
		if p.PresharedKey != "" {
			if _, err := decodeKey(p.PresharedKey); err != nil {
				return fmt.Errorf("config: peer %q preshared key: %w", p.Name, err)
			}
		}
		for _, cidr := range p.AllowedIPs {
			if _, err := netip.ParsePrefix(cidr); err != nil {
				return fmt.Errorf("config: peer %q allowed IP %q: %w", p.Name, cidr, err)
			}
		}
	}
	return nil
}

func decodeKey(b64 string) ([32]byte, error) {
	var key [32]byte
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return key, err
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}
