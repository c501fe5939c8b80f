/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import "errors"

// Sentinel errors returned by Tunnel and Device operations. Callers should
// compare against these with errors.Is rather than inspecting strings.
var (
	ErrInvalidPacket        = errors.New("device: invalid packet")
	ErrUnknownIndex         = errors.New("device: unknown receiver index")
	ErrInvalidMac           = errors.New("device: mac1 or mac2 verification failed")
	ErrReplayedCounter      = errors.New("device: replayed transport counter")
	ErrDecryptionFailure    = errors.New("device: AEAD decryption failed")
	ErrHandshakeRateLimited = errors.New("device: handshake rate limited")
	ErrHandshakeFailed      = errors.New("device: handshake failed")
	ErrNoSession            = errors.New("device: no active session")
	ErrNoEndpoint           = errors.New("device: peer has no known endpoint")
	ErrCounterExhausted     = errors.New("device: session send counter exhausted")
	ErrIndexExhausted       = errors.New("device: index table exhausted")
	ErrPeerExists           = errors.New("device: peer already configured")
	errInvalidPublicKey     = errors.New("device: invalid public key")
)
