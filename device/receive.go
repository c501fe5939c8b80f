/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"encoding/binary"
	"net/netip"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Decapsulate consumes one inbound UDP payload, dispatching on the
// message type in the first byte: handshake initiations and responses
// run the Noise engine, cookie replies feed the peer's cookie generator,
// and transport messages are decrypted against the session identified by
// their receiver index. The returned Outcome tells the host what to put
// on the wire or hand to the TUN device; the core never does either
// itself.
func (device *Device) Decapsulate(src netip.AddrPort, datagram []byte, now time.Time) Outcome {
	if len(datagram) < 4 {
		return errOutcome(ErrInvalidPacket)
	}

	switch binary.LittleEndian.Uint32(datagram[:4]) {
	case MessageInitiationType:
		if len(datagram) != MessageInitiationSize {
			return errOutcome(ErrInvalidPacket)
		}
		return device.consumeInitiation(src, datagram, now)

	case MessageResponseType:
		if len(datagram) != MessageResponseSize {
			return errOutcome(ErrInvalidPacket)
		}
		return device.consumeResponse(src, datagram, now)

	case MessageCookieReplyType:
		if len(datagram) != MessageCookieReplySize {
			return errOutcome(ErrInvalidPacket)
		}
		return device.consumeCookieReply(datagram, now)

	case MessageTransportType:
		if len(datagram) < MessageTransportSize {
			return errOutcome(ErrInvalidPacket)
		}
		return device.consumeTransport(src, datagram, now)

	default:
		return errOutcome(ErrInvalidPacket)
	}
}

// admitHandshakeMessage applies the MAC and flood checks shared by both
// handshake message types: MAC1 always, MAC2 plus the source rate limit
// only while the device is under load. A failed MAC2 yields a cookie
// reply bound to src rather than an error.
func (device *Device) admitHandshakeMessage(src netip.AddrPort, datagram []byte, now time.Time) (Outcome, bool) {
	if !device.cookieChecker.CheckMAC1(datagram) {
		device.log.Debug("handshake message with invalid mac1", "src", src)
		return errOutcome(ErrInvalidMac), false
	}

	if !device.IsUnderLoad(now) {
		return Outcome{}, true
	}

	srcBytes := sourceToBytes(src)
	if !device.cookieChecker.CheckMAC2(datagram, srcBytes) {
		sender := binary.LittleEndian.Uint32(datagram[4:8])
		reply, err := device.cookieChecker.CreateReply(datagram, sender, srcBytes)
		if err != nil {
			return errOutcome(err), false
		}
		packet := make([]byte, MessageCookieReplySize)
		if err := reply.marshal(packet); err != nil {
			return errOutcome(err), false
		}
		device.log.Debug("handshake message without valid mac2, sending cookie", "src", src)
		return writeToNetwork(packet), false
	}

	if !device.rate.limiter.Allow(src.Addr()) {
		device.noteLoad(now)
		return errOutcome(ErrHandshakeRateLimited), false
	}

	return Outcome{}, true
}

func (device *Device) consumeInitiation(src netip.AddrPort, datagram []byte, now time.Time) Outcome {
	if out, ok := device.admitHandshakeMessage(src, datagram, now); !ok {
		return out
	}

	var msg MessageInitiation
	if err := msg.unmarshal(datagram); err != nil {
		return errOutcome(ErrInvalidPacket)
	}

	tun := device.ConsumeMessageInitiation(&msg)
	if tun == nil {
		device.log.Debug("invalid handshake initiation", "src", src)
		return errOutcome(ErrHandshakeFailed)
	}

	tun.mutex.Lock()
	defer tun.mutex.Unlock()

	tun.setEndpointLocked(src)
	tun.rxBytes.Add(uint64(len(datagram)))
	tun.timers.authRecv = now
	tun.timers.lastRecv = now

	device.log.Debug("received handshake initiation", "peer", tun.String())
	return tun.sendHandshakeResponseLocked(now)
}

func (device *Device) consumeResponse(src netip.AddrPort, datagram []byte, now time.Time) Outcome {
	if out, ok := device.admitHandshakeMessage(src, datagram, now); !ok {
		return out
	}

	var msg MessageResponse
	if err := msg.unmarshal(datagram); err != nil {
		return errOutcome(ErrInvalidPacket)
	}

	tun := device.ConsumeMessageResponse(&msg)
	if tun == nil {
		device.log.Debug("invalid handshake response", "src", src)
		return errOutcome(ErrHandshakeFailed)
	}

	tun.mutex.Lock()
	defer tun.mutex.Unlock()

	tun.setEndpointLocked(src)
	tun.rxBytes.Add(uint64(len(datagram)))
	tun.timers.authRecv = now
	tun.timers.lastRecv = now

	device.log.Info("handshake complete", "peer", tun.String())

	out, err := tun.completeInitiatorHandshakeLocked(now)
	if err != nil {
		return errOutcome(err)
	}
	return out
}

func (device *Device) consumeCookieReply(datagram []byte, now time.Time) Outcome {
	var msg MessageCookieReply
	if err := msg.unmarshal(datagram); err != nil {
		return errOutcome(ErrInvalidPacket)
	}

	entry := device.indexTable.Lookup(msg.Receiver)
	if entry.tunnel == nil {
		return errOutcome(ErrUnknownIndex)
	}
	tun := entry.tunnel

	tun.mutex.Lock()
	defer tun.mutex.Unlock()

	if !tun.cookieGenerator.ConsumeReply(&msg) {
		device.log.Debug("could not decrypt cookie reply", "peer", tun.String())
		return errOutcome(ErrInvalidPacket)
	}
	tun.timers.cookieReceived = now
	device.log.Debug("received cookie reply", "peer", tun.String())
	return nothing()
}

func (device *Device) consumeTransport(src netip.AddrPort, datagram []byte, now time.Time) Outcome {
	receiver := binary.LittleEndian.Uint32(datagram[MessageTransportOffsetReceiver:MessageTransportOffsetCounter])
	entry := device.indexTable.Lookup(receiver)
	keypair := entry.keypair
	if entry.tunnel == nil || keypair == nil {
		return errOutcome(ErrUnknownIndex)
	}
	tun := entry.tunnel

	tun.mutex.Lock()
	defer tun.mutex.Unlock()

	if now.Sub(keypair.created) >= RejectAfterTime {
		return errOutcome(ErrNoSession)
	}

	counter := binary.LittleEndian.Uint64(datagram[MessageTransportOffsetCounter:MessageTransportOffsetContent])
	var nonce [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[4:], counter)

	plaintext, err := keypair.receive.Open(nil, nonce[:], datagram[MessageTransportOffsetContent:], nil)
	if err != nil {
		device.log.Debug("failed to decrypt transport message", "peer", tun.String())
		return errOutcome(ErrDecryptionFailure)
	}

	if !keypair.replayFilter.ValidateCounter(counter, RejectAfterMessages) {
		device.log.Debug("replayed or out-of-window counter", "peer", tun.String(), "counter", counter)
		return errOutcome(ErrReplayedCounter)
	}

	if tun.ReceivedWithKeypair(keypair) {
		tun.timers.handshakeCompleted = now
		tun.timers.sentLastMinuteHandshake = false
		tun.lastHandshakeNano.Store(now.UnixNano())
	}

	tun.setEndpointLocked(src)
	tun.rxBytes.Add(uint64(len(datagram)))
	tun.timers.lastRecv = now
	tun.timers.authRecv = now
	tun.timers.anyAuthenticatedPacketTraversal(now)

	rekey := tun.keepKeyFreshReceivingLocked(now)

	if len(plaintext) == 0 {
		device.log.Debug("received keepalive", "peer", tun.String())
		return rekey
	}

	plaintext = plaintext[:packetLength(plaintext)]
	return multi(writeToTun(plaintext), rekey)
}

// packetLength recovers the true length of a decrypted inner packet from
// its IP header, discarding the zero padding added before encryption.
// Packets that don't parse as IPv4 or IPv6 are passed through unchanged;
// the host's TUN layer is the final judge of validity.
func packetLength(packet []byte) int {
	if len(packet) == 0 {
		return 0
	}
	switch packet[0] >> 4 {
	case 4:
		if len(packet) < ipv4.HeaderLen {
			return len(packet)
		}
		length := int(binary.BigEndian.Uint16(packet[IPv4offsetTotalLength:]))
		if length < ipv4.HeaderLen || length > len(packet) {
			return len(packet)
		}
		return length
	case 6:
		if len(packet) < ipv6.HeaderLen {
			return len(packet)
		}
		length := int(binary.BigEndian.Uint16(packet[IPv6offsetPayloadLength:])) + ipv6.HeaderLen
		if length > len(packet) {
			return len(packet)
		}
		return length
	default:
		return len(packet)
	}
}

// VerifySource reports whether the source IP of a decrypted inner packet
// is routed to tun by the allowed-IPs table. Hosts call this before
// delivering plaintext to the TUN device; the Tunnel itself has no
// IP-layer awareness.
func (device *Device) VerifySource(packet []byte, tun *Tunnel) bool {
	if len(packet) == 0 {
		return false
	}
	switch packet[0] >> 4 {
	case 4:
		if len(packet) < ipv4.HeaderLen {
			return false
		}
		src := packet[IPv4offsetSrc : IPv4offsetSrc+4]
		return device.allowedips.Lookup(src) == tun
	case 6:
		if len(packet) < ipv6.HeaderLen {
			return false
		}
		src := packet[IPv6offsetSrc : IPv6offsetSrc+16]
		return device.allowedips.Lookup(src) == tun
	default:
		return false
	}
}

// sourceToBytes flattens an address and port for cookie computation,
// matching the byte layout handshake cookies are keyed on: the raw
// address bytes followed by the port in little-endian order.
func sourceToBytes(src netip.AddrPort) []byte {
	addr := src.Addr().AsSlice()
	b := make([]byte, 0, len(addr)+2)
	b = append(b, addr...)
	b = binary.LittleEndian.AppendUint16(b, src.Port())
	return b
}
