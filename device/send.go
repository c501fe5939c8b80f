/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"encoding/binary"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// SendHandshakeInitiation builds and MACs a fresh initiation for this
// peer, subject to the same one-per-RekeyTimeout pacing the tick rules
// apply to their own retransmits.
func (tun *Tunnel) SendHandshakeInitiation(now time.Time) Outcome {
	tun.mutex.Lock()
	defer tun.mutex.Unlock()
	return tun.attemptHandshakeInitiationLocked(now)
}

// SendKeepalive emits a zero-length transport message, or falls back to
// a handshake initiation when no session exists to carry it.
func (tun *Tunnel) SendKeepalive(now time.Time) Outcome {
	tun.mutex.Lock()
	defer tun.mutex.Unlock()

	keypair := tun.keypairs.Current()
	if keypair == nil || now.Sub(keypair.created) >= RejectAfterTime {
		return tun.attemptHandshakeInitiationLocked(now)
	}
	packet, err := tun.sealTransportLocked(keypair, nil, now)
	if err != nil {
		return errOutcome(err)
	}
	return writeToNetwork(packet)
}

// sendHandshakeResponseLocked completes the responder's half of the
// handshake: build and MAC the response message, then derive the next
// session from the finished transcript so the first inbound transport
// packet can promote it.
func (tun *Tunnel) sendHandshakeResponseLocked(now time.Time) Outcome {
	response, err := tun.device.CreateMessageResponse(tun)
	if err != nil {
		return errOutcome(err)
	}

	packet := make([]byte, MessageResponseSize)
	if err := response.marshal(packet); err != nil {
		return errOutcome(err)
	}
	tun.cookieGenerator.AddMacs(packet)

	if err := tun.completeResponderHandshakeLocked(now); err != nil {
		return errOutcome(err)
	}

	tun.timers.lastSend = now
	tun.timers.authSend = now
	tun.timers.anyAuthenticatedPacketTraversal(now)
	tun.txBytes.Add(uint64(len(packet)))

	return writeToNetwork(packet)
}

// paddingSize decides how many zero bytes to append to a transport
// payload before encryption. Only packets whose true length is written
// in their own IP header are padded; an opaque payload gets none, since
// the receiver would have no way to strip the trailing zeros.
func paddingSize(packet []byte, mtu int) int {
	if !lengthIsSelfDescribed(packet) {
		return 0
	}
	return calculatePaddingSize(len(packet), mtu)
}

// lengthIsSelfDescribed reports whether packet is an IPv4 or IPv6 packet
// whose header-declared length matches its actual length.
func lengthIsSelfDescribed(packet []byte) bool {
	if len(packet) == 0 {
		return false
	}
	switch packet[0] >> 4 {
	case 4:
		return len(packet) >= ipv4.HeaderLen &&
			int(binary.BigEndian.Uint16(packet[IPv4offsetTotalLength:])) == len(packet)
	case 6:
		return len(packet) >= ipv6.HeaderLen &&
			int(binary.BigEndian.Uint16(packet[IPv6offsetPayloadLength:]))+ipv6.HeaderLen == len(packet)
	default:
		return false
	}
}

// calculatePaddingSize rounds a transport payload up to PaddingMultiple
// without ever padding past the MTU, so a full-size packet is never
// grown beyond what the link can carry.
func calculatePaddingSize(packetSize, mtu int) int {
	lastUnit := packetSize
	if mtu == 0 {
		return ((lastUnit + PaddingMultiple - 1) & ^(PaddingMultiple - 1)) - lastUnit
	}
	if lastUnit > mtu {
		lastUnit %= mtu
	}
	paddedSize := (lastUnit + PaddingMultiple - 1) & ^(PaddingMultiple - 1)
	if paddedSize > mtu {
		paddedSize = mtu
	}
	return paddedSize - lastUnit
}
