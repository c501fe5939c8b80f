/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/cipher"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NordSecurity/NepTUN/replay"
)

/* Due to limitations in Go and /x/crypto there is currently
 * no way to ensure that key material is securely erased in memory.
 */

// Keypair is one derived session: a send/receive AEAD pair, the replay
// filter guarding the receive side, and the index pair used to demux
// transport messages through the device's IndexTable.
type Keypair struct {
	sendNonce    atomic.Uint64
	send         cipher.AEAD
	receive      cipher.AEAD
	replayFilter replay.Filter
	isInitiator  bool
	created      time.Time
	localIndex   uint32
	remoteIndex  uint32
}

// Keypairs is the three-slot session ring (previous/current/next) a
// Tunnel rotates through as handshakes complete; see BeginSymmetricSession
// and ReceivedWithKeypair for the rotation rules.
type Keypairs struct {
	sync.RWMutex
	current  *Keypair
	previous *Keypair
	next     atomic.Pointer[Keypair]
}

func (kp *Keypairs) Current() *Keypair {
	kp.RLock()
	defer kp.RUnlock()
	return kp.current
}

// DeleteKeypair removes key's local index from the device's IndexTable.
// It is a no-op on a nil key so callers don't need to guard every call.
func (device *Device) DeleteKeypair(key *Keypair) {
	if key != nil {
		device.indexTable.Delete(key.localIndex)
	}
}
