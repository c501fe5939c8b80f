/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"testing"
)

func TestCookieMAC1(t *testing.T) {
	var (
		checker   CookieChecker
		generator CookieGenerator
	)

	sk, err := newPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	pk := sk.publicKey()

	generator.Init(pk)
	checker.Init(pk)

	// MAC1 alone

	msg := []byte{
		0x6d, 0xd7, 0xc3, 0x2e, 0xb0, 0x76, 0xd8, 0xdf,
		0x30, 0x65, 0x7d, 0x62, 0x4e, 0xf2, 0xe7, 0xd8,
		0x30, 0x9e, 0x64, 0xe3, 0xf8, 0x7d, 0x14, 0x05,
		0x65, 0x27, 0x2f, 0x77, 0x28, 0x50, 0x25, 0xdb,
		0x84, 0x67, 0x68, 0xa1, 0x97, 0xaa, 0x0f, 0x6d,
		0x10, 0x8e, 0x74, 0x74, 0x9f, 0xdd, 0xdc, 0xd4,
		0x52, 0xb3, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}

	generator.AddMacs(msg)
	if !checker.CheckMAC1(msg) {
		t.Fatal("MAC1 generation/verification failed")
	}
	if checker.CheckMAC2(msg, []byte{192, 0, 2, 1, 0x12, 0x34}) {
		t.Fatal("MAC2 must not verify before any cookie was issued")
	}

	msg[5] ^= 0x20
	if checker.CheckMAC1(msg) {
		t.Fatal("MAC1 must not verify after message tampering")
	}
	msg[5] ^= 0x20

	// MAC2 after a cookie reply round-trip

	src := []byte{192, 0, 2, 1, 0xa2, 0x9c}
	reply, err := checker.CreateReply(msg, 1377, src)
	if err != nil {
		t.Fatal(err)
	}
	if !generator.ConsumeReply(reply) {
		t.Fatal("cookie reply failed to decrypt with matching generator")
	}

	generator.AddMacs(msg)
	if !checker.CheckMAC1(msg) {
		t.Fatal("MAC1 failed after cookie installation")
	}
	if !checker.CheckMAC2(msg, src) {
		t.Fatal("MAC2 failed for the address the cookie was bound to")
	}
	if checker.CheckMAC2(msg, []byte{192, 0, 2, 9, 0xa2, 0x9c}) {
		t.Fatal("MAC2 must not verify for a different source address")
	}

	msg[7] ^= 0x80
	if checker.CheckMAC2(msg, src) {
		t.Fatal("MAC2 must not verify after message tampering")
	}
	msg[7] ^= 0x80
}

func TestCookieReplyWrongGenerator(t *testing.T) {
	var checker CookieChecker
	var generator CookieGenerator

	sk1, _ := newPrivateKey()
	sk2, _ := newPrivateKey()

	checker.Init(sk1.publicKey())
	generator.Init(sk2.publicKey())

	msg := make([]byte, 96)
	generator.AddMacs(msg)

	reply, err := checker.CreateReply(msg, 42, []byte{10, 0, 0, 1, 0, 80})
	if err != nil {
		t.Fatal(err)
	}
	if generator.ConsumeReply(reply) {
		t.Fatal("cookie reply for another public key must not decrypt")
	}
}
