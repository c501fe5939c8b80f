/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/subtle"
	"hash"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/curve25519"
)

const (
	NoisePublicKeySize    = 32
	NoisePrivateKeySize   = 32
	NoisePresharedKeySize = 32
)

type (
	NoisePublicKey    [NoisePublicKeySize]byte
	NoisePrivateKey   [NoisePrivateKeySize]byte
	NoisePresharedKey [NoisePresharedKeySize]byte
)

func (sk *NoisePrivateKey) clamp() {
	sk[0] &= 248
	sk[31] = (sk[31] & 127) | 64
}

func newPrivateKey() (sk NoisePrivateKey, err error) {
	_, err = rand.Read(sk[:])
	if err != nil {
		return
	}
	sk.clamp()
	return
}

func (sk *NoisePrivateKey) publicKey() (pk NoisePublicKey) {
	apk := (*[NoisePublicKeySize]byte)(&pk)
	ask := (*[NoisePrivateKeySize]byte)(sk)
	curve25519.ScalarBaseMult(apk, ask)
	return
}

func (sk NoisePrivateKey) Equals(tar NoisePrivateKey) bool {
	return subtle.ConstantTimeCompare(sk[:], tar[:]) == 1
}

func (pk NoisePublicKey) Equals(tar NoisePublicKey) bool {
	return subtle.ConstantTimeCompare(pk[:], tar[:]) == 1
}

func (sk *NoisePrivateKey) sharedSecret(pk NoisePublicKey) (ss [NoisePublicKeySize]byte, err error) {
	apk := (*[NoisePublicKeySize]byte)(&pk)
	ask := (*[NoisePrivateKeySize]byte)(sk)
	curve25519.ScalarMult(&ss, ask, apk)
	if isZero(ss[:]) {
		return ss, errInvalidPublicKey
	}
	return ss, nil
}

// KDF1 derives one 32-byte output from the chaining key and input.
func KDF1(t0 *[blake2s.Size]byte, key, input []byte) {
	KDF2(t0, nil, key, input)
}

// KDF2 derives two 32-byte outputs, feeding the first back as the next
// chaining key as HKDF-Expand does with its counter bytes.
func KDF2(t0, t1 *[blake2s.Size]byte, key, input []byte) {
	var prk [blake2s.Size]byte
	hmac1(&prk, key, input)
	hmac1(t0, prk[:], []byte{0x1})
	if t1 != nil {
		hmac1(t1, prk[:], append(t0[:], 0x2))
	}
	setZero(prk[:])
}

// KDF3 derives three 32-byte outputs (used when mixing in the PSK).
func KDF3(t0, t1, t2 *[blake2s.Size]byte, key, input []byte) {
	var prk [blake2s.Size]byte
	hmac1(&prk, key, input)
	hmac1(t0, prk[:], []byte{0x1})
	hmac1(t1, prk[:], append(t0[:], 0x2))
	hmac1(t2, prk[:], append(t1[:], 0x3))
	setZero(prk[:])
}

func hmac1(sum *[blake2s.Size]byte, key, input []byte) {
	mac := hmac.New(newBlake2sHash, key)
	mac.Write(input)
	mac.Sum(sum[:0])
}

func newBlake2sHash() hash.Hash {
	h, _ := blake2s.New256(nil)
	return h
}

func isZero(val []byte) bool {
	acc := byte(0)
	for _, b := range val {
		acc |= b
	}
	return acc == 0
}

func setZero(arr []byte) {
	for i := range arr {
		arr[i] = 0
	}
}
