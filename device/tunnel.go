/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"container/list"
	"encoding/binary"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// Tunnel is the peer-scoped driver: handshake state, the session ring,
// timers, and cookie state for one remote peer. A Tunnel owns no
// goroutines and performs no I/O; every exported method is a direct,
// synchronous call guarded by its mutex.
type Tunnel struct {
	mutex sync.Mutex

	device          *Device
	handshake       Handshake
	keypairs        Keypairs
	cookieGenerator CookieGenerator
	timers          TimerRecord

	endpointMu   sync.Mutex
	endpoint     netip.AddrPort
	haveEndpoint bool

	// staged holds at most one plaintext packet awaiting a session, per
	// the encapsulate guarantee that a fresh call displaces the last one.
	staged []byte

	txBytes           atomic.Uint64
	rxBytes           atomic.Uint64
	lastHandshakeNano atomic.Int64

	// trieEntries indexes this Tunnel's allowed-IP prefixes so the
	// table can drop them all without a full trie walk.
	trieEntries list.List
}

// String renders an abbreviated identifier for log lines.
func (tun *Tunnel) String() string {
	tun.handshake.mutex.RLock()
	pk := tun.handshake.remoteStatic
	tun.handshake.mutex.RUnlock()
	return "peer(" + shortKey(pk) + ")"
}

func shortKey(pk NoisePublicKey) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 8)
	for i := 0; i < 4; i++ {
		b[i*2] = hex[pk[i]>>4]
		b[i*2+1] = hex[pk[i]&0xf]
	}
	return string(b)
}

// Endpoint returns the last address a packet was received from, or the
// preset endpoint from PeerIdentity if none has been learned yet.
func (tun *Tunnel) Endpoint() (netip.AddrPort, bool) {
	tun.endpointMu.Lock()
	defer tun.endpointMu.Unlock()
	return tun.endpoint, tun.haveEndpoint
}

func (tun *Tunnel) setEndpointLocked(addr netip.AddrPort) {
	tun.endpointMu.Lock()
	defer tun.endpointMu.Unlock()
	tun.endpoint = addr
	tun.haveEndpoint = true
}

// Encapsulate transforms an outbound plaintext packet into a ciphertext
// datagram. It never fails with an AEAD error: if no usable session
// exists it stages the packet and emits a handshake initiation instead,
// and the staged packet is flushed when the handshake completes.
func (tun *Tunnel) Encapsulate(plaintext []byte, now time.Time) Outcome {
	tun.mutex.Lock()
	defer tun.mutex.Unlock()

	keypair := tun.keypairs.Current()
	if keypair == nil || now.Sub(keypair.created) >= RejectAfterTime {
		tun.staged = append(tun.staged[:0:0], plaintext...)
		return tun.attemptHandshakeInitiationLocked(now)
	}

	packet, err := tun.sealTransportLocked(keypair, plaintext, now)
	if err != nil {
		return errOutcome(err)
	}

	rekey := tun.keepKeyFreshSendingLocked(keypair, now)
	return multi(writeToNetwork(packet), rekey)
}

// sealTransportLocked assigns the next send counter from keypair and
// seals plaintext into a type-4 transport datagram. The plaintext is
// padded to PaddingMultiple only when paddingSize finds its IP header
// describes its length; other payloads are sealed unpadded. A
// zero-length plaintext produces a keepalive.
func (tun *Tunnel) sealTransportLocked(keypair *Keypair, plaintext []byte, now time.Time) ([]byte, error) {
	counter := keypair.sendNonce.Add(1) - 1
	if counter >= RejectAfterMessages {
		keypair.sendNonce.Store(RejectAfterMessages)
		return nil, ErrCounterExhausted
	}

	padding := paddingSize(plaintext, DefaultMTU)
	padded := make([]byte, len(plaintext)+padding)
	copy(padded, plaintext)

	packet := make([]byte, MessageTransportHeaderSize, MessageTransportHeaderSize+len(padded)+chacha20poly1305.Overhead)
	binary.LittleEndian.PutUint32(packet[0:4], MessageTransportType)
	binary.LittleEndian.PutUint32(packet[4:8], keypair.remoteIndex)
	binary.LittleEndian.PutUint64(packet[8:16], counter)

	var nonce [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	packet = keypair.send.Seal(packet, nonce[:], padded, nil)

	tun.timers.lastSend = now
	tun.timers.anyAuthenticatedPacketTraversal(now)
	if len(plaintext) > 0 {
		tun.timers.authSend = now
	} else {
		tun.timers.keepaliveSent = now
	}
	tun.txBytes.Add(uint64(len(packet)))

	return packet, nil
}

// keepKeyFreshSendingLocked triggers a rekey alongside whatever packet
// was just sent when the session nears its message or time budget,
// rather than waiting for the next tick.
func (tun *Tunnel) keepKeyFreshSendingLocked(keypair *Keypair, now time.Time) Outcome {
	nonce := keypair.sendNonce.Load()
	if nonce > RekeyAfterMessages || (keypair.isInitiator && now.Sub(keypair.created) > RekeyAfterTime) {
		return tun.attemptHandshakeInitiationLocked(now)
	}
	return nothing()
}

// keepKeyFreshReceivingLocked preemptively starts a new handshake, once
// per session, when an initiator's current session is close to expiry.
func (tun *Tunnel) keepKeyFreshReceivingLocked(now time.Time) Outcome {
	if tun.timers.sentLastMinuteHandshake {
		return nothing()
	}
	keypair := tun.keypairs.Current()
	if keypair == nil || !keypair.isInitiator {
		return nothing()
	}
	if now.Sub(keypair.created) <= RejectAfterTime-KeepaliveTimeout-RekeyTimeout {
		return nothing()
	}
	tun.timers.sentLastMinuteHandshake = true
	return tun.attemptHandshakeInitiationLocked(now)
}

// attemptHandshakeInitiationLocked rate-limits to one initiation per
// RekeyTimeout and builds and MACs a fresh one.
func (tun *Tunnel) attemptHandshakeInitiationLocked(now time.Time) Outcome {
	tun.handshake.mutex.RLock()
	tooSoon := now.Sub(tun.handshake.lastSentHandshake) < RekeyTimeout
	tun.handshake.mutex.RUnlock()
	if tooSoon {
		return nothing()
	}

	msg, err := tun.device.CreateMessageInitiation(tun)
	if err != nil {
		return errOutcome(err)
	}

	packet := make([]byte, MessageInitiationSize)
	if err := msg.marshal(packet); err != nil {
		return errOutcome(err)
	}
	tun.cookieGenerator.AddMacs(packet)

	tun.handshake.mutex.Lock()
	tun.handshake.lastSentHandshake = now
	tun.handshake.mutex.Unlock()

	if tun.timers.handshakeAttempts == 0 {
		tun.timers.handshakeStarted = now
	}
	tun.timers.handshakeAttempts++
	tun.timers.retransmitJitter = handshakeJitter()
	tun.timers.anyAuthenticatedPacketTraversal(now)
	tun.timers.lastSend = now

	return writeToNetwork(packet)
}

// completeResponderHandshakeLocked derives the responder's keypair right
// after the handshake response has been built.
func (tun *Tunnel) completeResponderHandshakeLocked(now time.Time) error {
	if err := tun.BeginSymmetricSession(); err != nil {
		return err
	}
	tun.timers.sessionEstablished = now
	return nil
}

// completeInitiatorHandshakeLocked derives the initiator's keypair after
// consuming a handshake response, and flushes a staged packet (or a bare
// keepalive) to confirm the session to the peer.
func (tun *Tunnel) completeInitiatorHandshakeLocked(now time.Time) (Outcome, error) {
	if err := tun.BeginSymmetricSession(); err != nil {
		return Outcome{}, err
	}
	tun.timers.sessionEstablished = now
	tun.timers.handshakeCompleted = now
	tun.timers.handshakeAttempts = 0
	tun.timers.sentLastMinuteHandshake = false
	tun.lastHandshakeNano.Store(now.UnixNano())

	keypair := tun.keypairs.Current()
	if keypair == nil {
		return nothing(), nil
	}

	var plaintext []byte
	if len(tun.staged) > 0 {
		plaintext = tun.staged
		tun.staged = nil
	}
	packet, err := tun.sealTransportLocked(keypair, plaintext, now)
	if err != nil {
		return Outcome{}, err
	}
	return writeToNetwork(packet), nil
}

// Stats is a point-in-time snapshot of a Tunnel's traffic counters and
// handshake state. No accessor exposes key material.
type Stats struct {
	TxBytes           uint64
	RxBytes           uint64
	LastHandshakeNano int64
	HasSession        bool
}

func (tun *Tunnel) Stats() Stats {
	tun.mutex.Lock()
	defer tun.mutex.Unlock()
	return Stats{
		TxBytes:           tun.txBytes.Load(),
		RxBytes:           tun.rxBytes.Load(),
		LastHandshakeNano: tun.lastHandshakeNano.Load(),
		HasSession:        tun.keypairs.Current() != nil,
	}
}

// SetPersistentKeepaliveInterval configures (or disables, with 0) the
// periodic empty-transport-message keepalive evaluated by TimerTick.
func (tun *Tunnel) SetPersistentKeepaliveInterval(d time.Duration) {
	tun.mutex.Lock()
	defer tun.mutex.Unlock()
	tun.timers.persistentKeepaliveInterval = d
}

// zeroAndClearLocked destroys all session and handshake key material, for
// use when a Tunnel is dropped from its Device.
func (tun *Tunnel) zeroAndClearLocked() {
	tun.keypairs.Lock()
	tun.device.DeleteKeypair(tun.keypairs.previous)
	tun.device.DeleteKeypair(tun.keypairs.current)
	tun.device.DeleteKeypair(tun.keypairs.next.Load())
	tun.keypairs.previous = nil
	tun.keypairs.current = nil
	tun.keypairs.next.Store(nil)
	tun.keypairs.Unlock()

	tun.handshake.mutex.Lock()
	tun.device.indexTable.Delete(tun.handshake.localIndex)
	tun.handshake.Clear()
	setZero(tun.handshake.presharedKey[:])
	setZero(tun.handshake.precomputedStaticStatic[:])
	tun.handshake.mutex.Unlock()

	tun.staged = nil
}
