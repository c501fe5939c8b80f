/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

// indexTableEntry is what a local index resolves to: either an
// in-progress Handshake (before the session is derived) or a completed
// Keypair (after). Exactly one of the two is non-nil.
type indexTableEntry struct {
	tunnel    *Tunnel
	handshake *Handshake
	keypair   *Keypair
}

// IndexTable demultiplexes incoming packets to a Tunnel across the whole
// device: every handshake and keypair is assigned a random uint32 local
// index, shared across peers, so a receiver index alone is enough to
// route a packet without first knowing which peer it came from.
type IndexTable struct {
	mutex sync.RWMutex
	table map[uint32]indexTableEntry
}

// Init prepares (or resets) the table for use.
func (t *IndexTable) Init() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.table = make(map[uint32]indexTableEntry)
}

func randUint32() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// NewIndexForHandshake draws a fresh random index not currently in use
// and binds it to handshake, retrying a bounded number of times before
// reporting the table exhausted.
func (t *IndexTable) NewIndexForHandshake(tun *Tunnel, handshake *Handshake) (uint32, error) {
	for attempt := 0; attempt < indexAssignAttempts; attempt++ {
		index, err := randUint32()
		if err != nil {
			return 0, err
		}

		t.mutex.Lock()
		if _, taken := t.table[index]; taken {
			t.mutex.Unlock()
			continue
		}
		t.table[index] = indexTableEntry{tunnel: tun, handshake: handshake}
		t.mutex.Unlock()
		return index, nil
	}
	return 0, ErrIndexExhausted
}

// SwapIndexForKeypair rebinds index, previously assigned to a Handshake,
// to point at the Keypair derived from it.
func (t *IndexTable) SwapIndexForKeypair(index uint32, keypair *Keypair) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	entry, ok := t.table[index]
	if !ok {
		return
	}
	entry.handshake = nil
	entry.keypair = keypair
	t.table[index] = entry
}

// Lookup returns the entry bound to index, or a zero-value entry if
// nothing is currently bound to it.
func (t *IndexTable) Lookup(index uint32) indexTableEntry {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.table[index]
}

// Delete releases index, making it available for reassignment. It is
// always safe to call with index 0 (the "no index assigned" sentinel).
func (t *IndexTable) Delete(index uint32) {
	if index == 0 {
		return
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	delete(t.table, index)
}
