/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"testing"
	"time"
)

func TestUnresponsiveSessionStartsHandshake(t *testing.T) {
	p := newTestPair(t)
	now := time.Now()
	p.completeHandshake(t, now)

	// Data goes out, nothing ever comes back.
	sendAt := now.Add(time.Second)
	expectNetwork(t, p.tun1.Encapsulate([]byte("unanswered"), sendAt), 0)

	if out := p.tun1.TimerTick(sendAt.Add(KeepaliveTimeout)); out.Kind != OutcomeNothing {
		t.Fatalf("rekey fired too early: %v", out.Kind)
	}
	expectNetwork(t, p.tun1.TimerTick(sendAt.Add(KeepaliveTimeout+RekeyTimeout+time.Second)), MessageInitiationSize)
}

func TestInitiatorRekeyAfterTime(t *testing.T) {
	p := newTestPair(t)
	now := time.Now()
	p.completeHandshake(t, now)

	// Backdate the session so the tick sees it past RekeyAfterTime but
	// not yet expired.
	keypair := p.tun1.keypairs.Current()
	keypair.created = keypair.created.Add(-RekeyAfterTime - time.Second)

	out := p.tun1.TimerTick(now.Add(RekeyTimeout + time.Second))
	expectNetwork(t, out, MessageInitiationSize)
}

func TestResponderRekeyBeforeExpiry(t *testing.T) {
	p := newTestPair(t)
	now := time.Now()
	p.completeHandshake(t, now)

	// The responder anticipates expiry when it has heard nothing for
	// RejectAfterTime - KeepaliveTimeout - RekeyTimeout, and does so only
	// once per session.
	threshold := RejectAfterTime - KeepaliveTimeout - RekeyTimeout
	at := now.Add(threshold + time.Second)
	expectNetwork(t, p.tun2.TimerTick(at), MessageInitiationSize)

	if out := p.tun2.TimerTick(at.Add(time.Second)); out.Kind == OutcomeWriteToNetwork && len(out.Network) == MessageInitiationSize {
		t.Fatal("responder pre-expiry rekey must fire only once per session")
	}
}

func TestNoActionOnQuietHealthySession(t *testing.T) {
	p := newTestPair(t)
	now := time.Now()
	p.completeHandshake(t, now)

	for _, tick := range []time.Duration{time.Second, 30 * time.Second, 100 * time.Second} {
		if out := p.tun1.TimerTick(now.Add(tick)); out.Kind != OutcomeNothing {
			t.Fatalf("tick at +%v produced %v on a quiet healthy session", tick, out.Kind)
		}
	}
}

func TestPaddingSizes(t *testing.T) {
	cases := []struct {
		size, mtu, want int
	}{
		{0, 1420, 0},
		{1, 1420, 15},
		{16, 1420, 0},
		{45, 1420, 3},
		{1419, 1420, 1},
		{1420, 1420, 0},
	}
	for _, c := range cases {
		if got := calculatePaddingSize(c.size, c.mtu); got != c.want {
			t.Errorf("calculatePaddingSize(%d, %d) = %d, want %d", c.size, c.mtu, got, c.want)
		}
	}
}
