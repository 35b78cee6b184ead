// Package ratchet implements the pure chain-key and message-key derivation
// functions of the Double Ratchet: advancing a chain key is a total
// function of its current value, and deriving message keys from a chain
// key never fails. Everything stateful (which chain is current, which
// counters have been skipped) lives in package session; this package only
// knows how to turn bytes into other bytes.
package ratchet

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// RootKeyLen is the width of the Double Ratchet root key.
	RootKeyLen = 32
	// ChainKeyLen is the width of a chain key.
	ChainKeyLen = 32
	// CipherKeyLen, MacKeyLen, IVLen are the widths of the three secrets
	// derived per message.
	CipherKeyLen = 32
	MacKeyLen    = 32
	IVLen        = 16

	// KDF info strings, following the teacher's ratchet.go convention of
	// domain-separating each HKDF application with a fixed label.
	kdfRootInfo         = "ZenTalk Double Ratchet Root"
	kdfMessageKeysInfo  = "ZenTalk Double Ratchet Message Keys"
	chainKeyDerivedByte = 0x02
	messageKeyDeriveTag = 0x01
)

// RootKey is the Double Ratchet's root secret: mixed with DH output to
// produce new chain keys on a ratchet step.
type RootKey [RootKeyLen]byte

// ChainKey is an immutable ratchet chain secret paired with the counter of
// the next message it will derive. Advancing produces a new ChainKey;
// invariant 1 of spec.md §3 holds by construction: Index always equals the
// counter of the message MessageKeys() would derive next.
type ChainKey struct {
	Key   [ChainKeyLen]byte
	Index uint32
}

// MessageKeys is the per-message secret triple derived from a ChainKey at a
// specific counter.
type MessageKeys struct {
	CipherKey [CipherKeyLen]byte
	MacKey    [MacKeyLen]byte
	IV        [IVLen]byte
	Counter   uint32
}

// DH performs X25519 Diffie-Hellman and returns the shared secret.
func DH(priv, pub [32]byte) ([]byte, error) {
	secret, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return nil, err
	}
	return secret, nil
}

// KDF_RK derives a new root key and the first chain key of a freshly
// ratcheted chain from the current root key and a DH output. This is
// component A's contribution to the DH ratchet step (component B in
// package session drives it).
func KDF_RK(rootKey RootKey, dhOutput []byte) (RootKey, ChainKey, error) {
	reader := hkdf.New(sha256.New, dhOutput, rootKey[:], []byte(kdfRootInfo))

	out := make([]byte, RootKeyLen+ChainKeyLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return RootKey{}, ChainKey{}, err
	}

	var newRoot RootKey
	var newChain ChainKey
	copy(newRoot[:], out[:RootKeyLen])
	copy(newChain.Key[:], out[RootKeyLen:])
	newChain.Index = 0
	return newRoot, newChain, nil
}

// Next advances the chain key by one step using HMAC-SHA256, the symmetric
// ratchet of spec.md §4.A. The receiver never needs the message keys of
// this exact step to advance, so Next and MessageKeys are independent
// derivations from the same parent key, as in the teacher's KDF_CK.
func (ck ChainKey) Next() ChainKey {
	mac := hmac.New(sha256.New, ck.Key[:])
	mac.Write([]byte{chainKeyDerivedByte})
	sum := mac.Sum(nil)

	var next ChainKey
	copy(next.Key[:], sum)
	next.Index = ck.Index + 1
	return next
}

// MessageKeys derives the MessageKeys for this chain key's current index.
// It first contracts the chain key to a single per-message seed (matching
// the teacher's HMAC(key, 0x01) step) and then expands that seed via HKDF
// into the cipher key / mac key / IV triple the spec's MessageKeys requires.
func (ck ChainKey) MessageKeys() MessageKeys {
	mac := hmac.New(sha256.New, ck.Key[:])
	mac.Write([]byte{messageKeyDeriveTag})
	seed := mac.Sum(nil)

	reader := hkdf.New(sha256.New, seed, nil, []byte(kdfMessageKeysInfo))
	out := make([]byte, CipherKeyLen+MacKeyLen+IVLen)
	// HKDF over a fixed-size HMAC output cannot fail for these lengths.
	_, _ = io.ReadFull(reader, out)

	var mk MessageKeys
	copy(mk.CipherKey[:], out[:CipherKeyLen])
	copy(mk.MacKey[:], out[CipherKeyLen:CipherKeyLen+MacKeyLen])
	copy(mk.IV[:], out[CipherKeyLen+MacKeyLen:])
	mk.Counter = ck.Index
	return mk
}
