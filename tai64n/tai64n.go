/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package tai64n implements the TAI64N timestamp format used to defend
// WireGuard's handshake initiation message against replay.
package tai64n

import (
	"encoding/binary"
	"time"
)

const (
	// TimestampSize is the wire size of a TAI64N timestamp: 8 bytes of
	// seconds since the TAI epoch, plus 4 bytes of nanoseconds.
	TimestampSize = 12
	base          = uint64(4611686018427387914)
)

// Timestamp is a 12-byte big-endian TAI64N value.
type Timestamp [TimestampSize]byte

// Now returns the current time encoded as a TAI64N timestamp.
func Now() Timestamp {
	return stamp(time.Now())
}

func stamp(t time.Time) Timestamp {
	var tai64n Timestamp
	secs := base + uint64(t.Unix())
	nano := uint32(t.Nanosecond())
	binary.BigEndian.PutUint64(tai64n[:8], secs)
	binary.BigEndian.PutUint32(tai64n[8:12], nano)
	return tai64n
}

// After reports whether t is strictly later than t2, matching the
// anti-replay comparison the handshake engine needs: the zero timestamp
// never counts as "after" anything.
func (t *Timestamp) After(t2 Timestamp) bool {
	for i := 0; i < TimestampSize; i++ {
		if t[i] > t2[i] {
			return true
		}
		if t[i] < t2[i] {
			return false
		}
	}
	return false
}
