/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"math/rand"
	"time"
)

// TimerRecord tracks the wall-clock events a Tunnel's timer rules key
// off of. Nothing here schedules its own wakeup: every field is read and
// compared against `now` only when the host calls Tunnel.TimerTick, or
// opportunistically alongside Encapsulate/Decapsulate.
type TimerRecord struct {
	lastSend                    time.Time
	lastRecv                    time.Time
	handshakeStarted            time.Time
	handshakeCompleted          time.Time
	authSend                    time.Time
	authRecv                    time.Time
	sessionEstablished          time.Time
	keepaliveSent               time.Time
	cookieReceived              time.Time
	persistentKeepaliveInterval time.Duration
	handshakeAttempts           int
	retransmitJitter            time.Duration
	sentLastMinuteHandshake     bool
}

func handshakeJitter() time.Duration {
	return time.Duration(rand.Uint32()%rekeyTimeoutJitterMaxMs) * time.Millisecond
}

// anyAuthenticatedPacketTraversal resets the persistent-keepalive clock:
// any authenticated packet, sent or received, counts as NAT-keepalive
// traffic.
func (t *TimerRecord) anyAuthenticatedPacketTraversal(now time.Time) {
	if t.persistentKeepaliveInterval > 0 {
		t.lastSend = now
	}
}

// TimerTick evaluates the time-driven transition rules against now,
// applying at most one rule's action per call (the rules short-circuit
// on the first that fires). Hosts call this at least every 250ms.
func (tun *Tunnel) TimerTick(now time.Time) Outcome {
	tun.mutex.Lock()
	defer tun.mutex.Unlock()

	if out, acted := tun.expireOldKeypairLocked(now); acted {
		return out
	}
	if out, acted := tun.unresponsiveSessionLocked(now); acted {
		return out
	}
	if out, acted := tun.initiatorRekeyLocked(now); acted {
		return out
	}
	if out, acted := tun.responderRekeyLocked(now); acted {
		return out
	}
	if out, acted := tun.retransmitHandshakeLocked(now); acted {
		return out
	}
	if out, acted := tun.persistentKeepaliveLocked(now); acted {
		return out
	}
	return nothing()
}

// expireOldKeypairLocked destroys a current session older than
// RejectAfterTime since establishment.
func (tun *Tunnel) expireOldKeypairLocked(now time.Time) (Outcome, bool) {
	keypair := tun.keypairs.Current()
	if keypair == nil || now.Sub(keypair.created) < RejectAfterTime {
		return Outcome{}, false
	}
	tun.keypairs.Lock()
	if tun.keypairs.current == keypair {
		tun.device.DeleteKeypair(tun.keypairs.current)
		tun.keypairs.current = nil
	}
	tun.keypairs.Unlock()
	return nothing(), true
}

// unresponsiveSessionLocked starts a new handshake if we've been sending
// data over an established session without hearing anything back for
// KeepaliveTimeout+RekeyTimeout. Handshake traffic doesn't count as
// data, and an initiation already in flight is left to the retransmit
// rule, which tracks attempts and gives up.
func (tun *Tunnel) unresponsiveSessionLocked(now time.Time) (Outcome, bool) {
	if tun.keypairs.Current() == nil {
		return Outcome{}, false
	}
	tun.handshake.mutex.RLock()
	inFlight := tun.handshake.state == handshakeInitiationCreated
	tun.handshake.mutex.RUnlock()
	if inFlight {
		return Outcome{}, false
	}
	if !tun.timers.authSend.After(tun.timers.authRecv) {
		return Outcome{}, false
	}
	if now.Sub(tun.timers.lastRecv) <= KeepaliveTimeout+RekeyTimeout {
		return Outcome{}, false
	}
	return tun.attemptHandshakeInitiationLocked(now), true
}

// initiatorRekeyLocked starts a new handshake if the current session is an
// initiator-side session that has aged out or exhausted its message budget.
func (tun *Tunnel) initiatorRekeyLocked(now time.Time) (Outcome, bool) {
	keypair := tun.keypairs.Current()
	if keypair == nil || !keypair.isInitiator {
		return Outcome{}, false
	}
	if now.Sub(keypair.created) < RekeyAfterTime && keypair.sendNonce.Load() < RekeyAfterMessages {
		return Outcome{}, false
	}
	return tun.attemptHandshakeInitiationLocked(now), true
}

// responderRekeyLocked starts a new handshake on the responder side if
// data hasn't been received in a while, anticipating a forced expiry.
func (tun *Tunnel) responderRekeyLocked(now time.Time) (Outcome, bool) {
	keypair := tun.keypairs.Current()
	if keypair == nil || keypair.isInitiator {
		return Outcome{}, false
	}
	threshold := RejectAfterTime - KeepaliveTimeout - RekeyTimeout
	if now.Sub(tun.timers.lastRecv) < threshold {
		return Outcome{}, false
	}
	if tun.timers.sentLastMinuteHandshake {
		return Outcome{}, false
	}
	tun.timers.sentLastMinuteHandshake = true
	return tun.attemptHandshakeInitiationLocked(now), true
}

// retransmitHandshakeLocked retries an in-flight initiation every
// RekeyTimeout, giving up after MaxTimerHandshakes attempts.
func (tun *Tunnel) retransmitHandshakeLocked(now time.Time) (Outcome, bool) {
	tun.handshake.mutex.RLock()
	inFlight := tun.handshake.state == handshakeInitiationCreated
	lastSent := tun.handshake.lastSentHandshake
	tun.handshake.mutex.RUnlock()

	if !inFlight {
		return Outcome{}, false
	}
	if now.Sub(lastSent) < RekeyTimeout+tun.timers.retransmitJitter {
		return Outcome{}, false
	}
	if tun.timers.handshakeAttempts >= MaxTimerHandshakes {
		tun.abandonHandshakeLocked()
		return nothing(), true
	}
	return tun.attemptHandshakeInitiationLocked(now), true
}

// persistentKeepaliveLocked emits a zero-length transport message if a
// persistent-keepalive interval is configured and elapsed.
func (tun *Tunnel) persistentKeepaliveLocked(now time.Time) (Outcome, bool) {
	interval := tun.timers.persistentKeepaliveInterval
	if interval <= 0 || now.Sub(tun.timers.lastSend) < interval {
		return Outcome{}, false
	}
	keypair := tun.keypairs.Current()
	if keypair == nil {
		return tun.attemptHandshakeInitiationLocked(now), true
	}
	packet, err := tun.sealTransportLocked(keypair, nil, now)
	if err != nil {
		return errOutcome(err), true
	}
	tun.timers.keepaliveSent = now
	return writeToNetwork(packet), true
}

// abandonHandshakeLocked clears handshake state after MaxTimerHandshakes
// unanswered retransmits; the handshake gives up silently.
func (tun *Tunnel) abandonHandshakeLocked() {
	tun.device.indexTable.Delete(tun.handshake.localIndex)
	tun.handshake.mutex.Lock()
	tun.handshake.Clear()
	tun.handshake.mutex.Unlock()
	tun.timers.handshakeAttempts = 0
	tun.staged = nil
}
