package x3dh

import (
	"context"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/zentalk/ratchetcore/pkg/addr"
	"github.com/zentalk/ratchetcore/pkg/rcerr"
	"github.com/zentalk/ratchetcore/pkg/ratchet"
	"github.com/zentalk/ratchetcore/pkg/session"
	"github.com/zentalk/ratchetcore/pkg/store"
	"github.com/zentalk/ratchetcore/pkg/wire"
)

// SessionVersion is the only message_version this module speaks; a fresh
// SessionState always carries it, and decrypt_message_with_state rejects
// anything else (spec.md §4.D step 2).
const SessionVersion byte = 1

// EstablishedSession is what InitiateSession hands back to the caller: a
// ready-to-persist SessionRecord for the new session plus the
// PreKeySignalMessage fields the caller needs to build the first outbound
// envelope, mirroring the teacher's InitialMessage.
type EstablishedSession struct {
	Record         *session.SessionRecord
	BaseKey        [32]byte
	PreKeyID       *uint32
	SignedPreKeyID uint32
}

// InitiateSession runs the initiator (Alice) side of X3DH against a peer's
// published KeyBundle and bootstraps a fresh SessionState: one X3DH DH
// agreement seeds the root key, then a single DH ratchet step using a
// freshly generated base key against the peer's signed prekey produces
// Alice's first sending chain, matching the teacher's
// NewRatchetState(sharedSecret, ...) bootstrap generalized onto the shared
// session.SessionState type.
func InitiateSession(localIdentity *IdentityKeyPair, localRegistrationID uint32, bundle *KeyBundle) (*EstablishedSession, error) {
	if len(bundle.IdentitySigning) == 0 {
		return nil, fmt.Errorf("x3dh: key bundle missing identity signing key")
	}
	if !VerifySignedPreKey(bundle.IdentitySigning, bundle.SignedPreKey.ID, bundle.SignedPreKey.PublicKey, bundle.SignedPreKey.Timestamp, bundle.SignedPreKey.Signature) {
		return nil, fmt.Errorf("x3dh: signed prekey signature does not verify")
	}

	var basePriv [32]byte
	if _, err := rand.Read(basePriv[:]); err != nil {
		return nil, fmt.Errorf("x3dh: generate base key: %w", err)
	}
	var basePub [32]byte
	curve25519.ScalarBaseMult(&basePub, &basePriv)

	dh1, err := ratchet.DH(localIdentity.DHPrivate, bundle.SignedPreKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("x3dh: dh1: %w", err)
	}
	dh2, err := ratchet.DH(basePriv, bundle.IdentityDH)
	if err != nil {
		return nil, fmt.Errorf("x3dh: dh2: %w", err)
	}
	dh3, err := ratchet.DH(basePriv, bundle.SignedPreKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("x3dh: dh3: %w", err)
	}

	dhOutputs := [][]byte{dh1, dh2, dh3}
	var usedPreKeyID *uint32
	if bundle.OneTimePreKey != nil {
		dh4, err := ratchet.DH(basePriv, bundle.OneTimePreKey.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("x3dh: dh4: %w", err)
		}
		dhOutputs = append(dhOutputs, dh4)
		id := bundle.OneTimePreKey.ID
		usedPreKeyID = &id
	}

	rootKey, err := deriveSharedSecret(dhOutputs...)
	if err != nil {
		return nil, err
	}

	// Alice's first ratchet step: her base key pair against Bob's signed
	// prekey produces her initial sending chain.
	newRoot, chainKey, err := ratchet.KDF_RK(rootKey, dh3)
	if err != nil {
		return nil, fmt.Errorf("x3dh: initial sender ratchet step: %w", err)
	}

	remoteIdentity := bundle.IdentityDH

	state := &session.SessionState{
		SessionVersion: SessionVersion,
		RootKey:        newRoot,
		SenderChain: &session.SenderChain{
			RatchetPublic:  basePub,
			RatchetPrivate: basePriv,
			ChainKey:       chainKey,
		},
		LocalIdentityKey:     localIdentity.DHPublic,
		RemoteIdentityKey:    &remoteIdentity,
		LocalRegistrationID:  localRegistrationID,
		RemoteRegistrationID: bundle.RegistrationID,
		UnacknowledgedPreKeyMessageItems: &session.UnacknowledgedPreKeyMessageItems{
			PreKeyID:       usedPreKeyID,
			SignedPreKeyID: bundle.SignedPreKey.ID,
			BaseKey:        basePub,
		},
	}

	record := session.NewFreshRecord()
	record.CurrentState = state

	return &EstablishedSession{
		Record:         record,
		BaseKey:        basePub,
		PreKeyID:       usedPreKeyID,
		SignedPreKeyID: bundle.SignedPreKey.ID,
	}, nil
}

// ProcessPreKey is the responder (Bob) side collaborator spec.md §4.F.4
// step 2 delegates to. It consumes a PreKeySignalMessage's key-agreement
// fields, mutates record with a brand new current SessionState (archiving
// whatever was current before, since a fresh X3DH exchange supersedes it),
// and returns the one-time prekey id that was consumed, if any. Unlike
// package session's component B, this performs the identity trust check
// itself, per spec.md §4.F.4's note that the prekey-bootstrap collaborator
// is expected to validate identity.
func ProcessPreKey(
	ctx context.Context,
	remote addr.ProtocolAddress,
	record *session.SessionRecord,
	msg *wire.PreKeySignalMessage,
	localIdentity *IdentityKeyPair,
	localRegistrationID uint32,
	identities store.IdentityKeyStore,
	preKeys store.PreKeyStore,
	signedPreKeys store.SignedPreKeyStore,
) (*uint32, error) {
	trusted, err := identities.IsTrustedIdentity(ctx, remote, msg.IdentityKey, store.DirectionReceiving)
	if err != nil {
		return nil, fmt.Errorf("x3dh: trust check: %w", err)
	}
	if !trusted {
		return nil, &rcerr.UntrustedIdentityError{Address: remote}
	}

	spkRecord, err := signedPreKeys.LoadSignedPreKey(ctx, msg.SignedPreKeyID)
	if err != nil {
		return nil, fmt.Errorf("x3dh: load signed prekey %d: %w", msg.SignedPreKeyID, err)
	}

	var usedPreKeyID *uint32
	var otpkPriv *[32]byte
	if msg.PreKeyID != nil {
		rec, err := preKeys.LoadPreKey(ctx, *msg.PreKeyID)
		if err != nil {
			return nil, fmt.Errorf("x3dh: load one-time prekey %d: %w", *msg.PreKeyID, err)
		}
		priv := rec.PrivateKey
		otpkPriv = &priv
		id := *msg.PreKeyID
		usedPreKeyID = &id
	}

	dh1, err := ratchet.DH(spkRecord.PrivateKey, msg.IdentityKey)
	if err != nil {
		return nil, fmt.Errorf("x3dh: dh1: %w", err)
	}
	dh2, err := ratchet.DH(localIdentity.DHPrivate, msg.BaseKey)
	if err != nil {
		return nil, fmt.Errorf("x3dh: dh2: %w", err)
	}
	dh3, err := ratchet.DH(spkRecord.PrivateKey, msg.BaseKey)
	if err != nil {
		return nil, fmt.Errorf("x3dh: dh3: %w", err)
	}

	dhOutputs := [][]byte{dh1, dh2, dh3}
	if otpkPriv != nil {
		dh4, err := ratchet.DH(*otpkPriv, msg.BaseKey)
		if err != nil {
			return nil, fmt.Errorf("x3dh: dh4: %w", err)
		}
		dhOutputs = append(dhOutputs, dh4)
	}

	rootKey, err := deriveSharedSecret(dhOutputs...)
	if err != nil {
		return nil, err
	}

	remoteIdentity := msg.IdentityKey

	state := &session.SessionState{
		SessionVersion:       SessionVersion,
		RootKey:              rootKey,
		LocalIdentityKey:     localIdentity.DHPublic,
		RemoteIdentityKey:    &remoteIdentity,
		LocalRegistrationID:  localRegistrationID,
		RemoteRegistrationID: msg.RegistrationID,
		// SenderChain is a placeholder reusing the signed prekey pair,
		// needed only so GetOrCreateReceiverChainKey has a DH private key
		// to mix with Alice's base key. It is replaced below once the
		// real receiver chain exists.
		SenderChain: &session.SenderChain{
			RatchetPublic:  spkRecord.PublicKey,
			RatchetPrivate: spkRecord.PrivateKey,
		},
	}

	if _, err := state.GetOrCreateReceiverChainKey(msg.BaseKey); err != nil {
		return nil, fmt.Errorf("x3dh: bootstrap receiver chain: %w", err)
	}

	// Bob's own sending chain: a freshly generated ratchet key pair
	// ratcheted against Alice's base key, distinct from the signed
	// prekey pair used for the receiver chain above so the two
	// directions never share a chain.
	var sendPriv [32]byte
	if _, err := rand.Read(sendPriv[:]); err != nil {
		return nil, fmt.Errorf("x3dh: generate responder ratchet key: %w", err)
	}
	var sendPub [32]byte
	curve25519.ScalarBaseMult(&sendPub, &sendPriv)

	sendDH, err := ratchet.DH(sendPriv, msg.BaseKey)
	if err != nil {
		return nil, fmt.Errorf("x3dh: responder sender dh: %w", err)
	}
	newRoot, sendChainKey, err := ratchet.KDF_RK(state.RootKey, sendDH)
	if err != nil {
		return nil, fmt.Errorf("x3dh: responder sender ratchet step: %w", err)
	}

	state.RootKey = newRoot
	state.SenderChain = &session.SenderChain{
		RatchetPublic:  sendPub,
		RatchetPrivate: sendPriv,
		ChainKey:       sendChainKey,
	}

	if _, err := identities.SaveIdentity(ctx, remote, msg.IdentityKey); err != nil {
		return nil, fmt.Errorf("x3dh: save identity: %w", err)
	}

	record.ArchiveCurrentState()
	record.CurrentState = state

	return usedPreKeyID, nil
}
