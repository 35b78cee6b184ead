// Package x3dh implements key generation, key bundles, and the X3DH
// extended triple Diffie-Hellman key agreement that bootstraps a fresh
// Double Ratchet session, generalizing the teacher's
// pkg/protocol/x3dh.go from its fixed 20-byte Address to addr.ProtocolAddress
// and from its own ad hoc InitialMessage/RatchetState pair into the
// session.SessionState/SessionRecord and wire.PreKeySignalMessage types the
// rest of this module shares.
package x3dh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/zentalk/ratchetcore/pkg/addr"
)

// IdentityKeyPair is a long-term identity: an Ed25519 pair for signing
// prekeys, and an X25519 pair for the DH operations themselves, mirroring
// the teacher's split rather than attempting a unified Montgomery/Edwards
// key (a conversion the teacher's own VerifySignedPreKey comment flags as
// unfinished).
type IdentityKeyPair struct {
	SigningPublic  ed25519.PublicKey
	SigningPrivate ed25519.PrivateKey
	DHPublic       [32]byte
	DHPrivate      [32]byte
}

// GenerateIdentityKeyPair creates a fresh long-term identity.
func GenerateIdentityKeyPair() (*IdentityKeyPair, error) {
	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("x3dh: generate identity signing key: %w", err)
	}

	var dhPriv [32]byte
	if _, err := rand.Read(dhPriv[:]); err != nil {
		return nil, fmt.Errorf("x3dh: generate identity dh key: %w", err)
	}
	var dhPub [32]byte
	curve25519.ScalarBaseMult(&dhPub, &dhPriv)

	return &IdentityKeyPair{
		SigningPublic:  edPub,
		SigningPrivate: edPriv,
		DHPublic:       dhPub,
		DHPrivate:      dhPriv,
	}, nil
}

// SignedPreKey is a medium-term X25519 key pair, signed by the owner's
// identity signing key so a peer fetching it from a directory can verify
// provenance before using it.
type SignedPreKey struct {
	ID         uint32
	PublicKey  [32]byte
	PrivateKey [32]byte
	Signature  [64]byte
	Timestamp  uint64
}

func signedPreKeySigData(id uint32, public [32]byte, timestamp uint64) []byte {
	buf := make([]byte, 4+32+8)
	binary.BigEndian.PutUint32(buf[0:4], id)
	copy(buf[4:36], public[:])
	binary.BigEndian.PutUint64(buf[36:44], timestamp)
	return buf
}

// GenerateSignedPreKey creates a signed prekey under the given identity,
// stamped with timestamp (a caller-supplied Unix time, since this package
// never calls time.Now itself).
func GenerateSignedPreKey(id uint32, identity *IdentityKeyPair, timestamp uint64) (*SignedPreKey, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("x3dh: generate signed prekey: %w", err)
	}
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)

	sig := ed25519.Sign(identity.SigningPrivate, signedPreKeySigData(id, pub, timestamp))

	spk := &SignedPreKey{ID: id, PublicKey: pub, PrivateKey: priv, Timestamp: timestamp}
	copy(spk.Signature[:], sig)
	return spk, nil
}

// VerifySignedPreKey checks a signed prekey's signature against the
// claimed owner's identity signing key.
func VerifySignedPreKey(signingKey ed25519.PublicKey, id uint32, public [32]byte, timestamp uint64, signature [64]byte) bool {
	return ed25519.Verify(signingKey, signedPreKeySigData(id, public, timestamp), signature[:])
}

// OneTimePreKey is a single-use X25519 key pair, consumed on its first use
// in an X3DH exchange and then deleted (forward secrecy against a
// compromise of the long-term or signed-prekey material).
type OneTimePreKey struct {
	ID         uint32
	PublicKey  [32]byte
	PrivateKey [32]byte
}

// GenerateOneTimePreKeys creates count sequentially-numbered one-time
// prekeys starting at startID.
func GenerateOneTimePreKeys(startID uint32, count int) ([]*OneTimePreKey, error) {
	keys := make([]*OneTimePreKey, count)
	for i := 0; i < count; i++ {
		var priv [32]byte
		if _, err := rand.Read(priv[:]); err != nil {
			return nil, fmt.Errorf("x3dh: generate one-time prekey %d: %w", i, err)
		}
		var pub [32]byte
		curve25519.ScalarBaseMult(&pub, &priv)
		keys[i] = &OneTimePreKey{ID: startID + uint32(i), PublicKey: pub, PrivateKey: priv}
	}
	return keys, nil
}

// KeyBundle is the public material a peer publishes so others can
// establish a session without an interactive handshake.
type KeyBundle struct {
	Address         addr.ProtocolAddress
	IdentitySigning ed25519.PublicKey
	IdentityDH      [32]byte
	SignedPreKey    struct {
		ID        uint32
		PublicKey [32]byte
		Signature [64]byte
		Timestamp uint64
	}
	OneTimePreKey *struct {
		ID        uint32
		PublicKey [32]byte
	}
	RegistrationID uint32
}

// CreateKeyBundle assembles the public bundle for address, optionally
// including one of the owner's published one-time prekeys.
func CreateKeyBundle(address addr.ProtocolAddress, identity *IdentityKeyPair, spk *SignedPreKey, otpk *OneTimePreKey, registrationID uint32) *KeyBundle {
	bundle := &KeyBundle{
		Address:         address,
		IdentitySigning: identity.SigningPublic,
		IdentityDH:      identity.DHPublic,
		RegistrationID:  registrationID,
	}
	bundle.SignedPreKey.ID = spk.ID
	bundle.SignedPreKey.PublicKey = spk.PublicKey
	bundle.SignedPreKey.Signature = spk.Signature
	bundle.SignedPreKey.Timestamp = spk.Timestamp

	if otpk != nil {
		bundle.OneTimePreKey = &struct {
			ID        uint32
			PublicKey [32]byte
		}{ID: otpk.ID, PublicKey: otpk.PublicKey}
	}
	return bundle
}
