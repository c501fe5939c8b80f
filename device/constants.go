/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import "time"

// Timer and session-lifetime constants, as specified by the WireGuard
// protocol (see the "Timers" section of the whitepaper). A TimerTick call
// evaluates these against the TimerRecord of a single Tunnel; nothing
// here schedules its own wakeups.
const (
	RekeyAfterTime          = time.Second * 120
	RekeyAttemptTime        = time.Second * 90
	RekeyTimeout            = time.Second * 5
	rekeyTimeoutJitterMaxMs = 334
	MaxTimerHandshakes      = int(RekeyAttemptTime / RekeyTimeout)
	RejectAfterTime         = time.Second * 180
	KeepaliveTimeout        = time.Second * 10
	CookieRefreshTime       = time.Second * 120
	HandshakeInitationRate  = time.Second / 20
	UnderLoadAfterTime      = time.Second
)

const (
	RekeyAfterMessages  = uint64(1) << 60
	RejectAfterMessages = ^uint64(0) - (uint64(1) << 13)
)

// PaddingMultiple is the block size transport payloads are padded to.
const PaddingMultiple = 16

// DefaultMTU is assumed when a hosting application doesn't supply one.
const DefaultMTU = 1420

// indexAssignAttempts bounds how many random draws NewIndexForHandshake
// makes before reporting the table exhausted.
const indexAssignAttempts = 8
