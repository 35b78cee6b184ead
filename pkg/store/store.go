// Package store defines the interfaces the session cipher orchestrator
// consumes for persistence and trust decisions (spec.md §6.1). All methods
// take a context.Context because a real backend (disk, a database, a remote
// key-transparency service) may suspend, matching the teacher's
// pkg/storage/database.go convention of threading a context through every
// store call even where the in-memory implementation never blocks.
package store

import (
	"context"

	"github.com/zentalk/ratchetcore/pkg/addr"
	"github.com/zentalk/ratchetcore/pkg/session"
)

// Direction distinguishes the two trust-check call sites: encrypt checks
// Sending, decrypt_signal checks Receiving (spec.md §4.F.1 step 8, §4.F.3
// step 4).
type Direction int

const (
	DirectionSending Direction = iota
	DirectionReceiving
)

func (d Direction) String() string {
	switch d {
	case DirectionSending:
		return "sending"
	case DirectionReceiving:
		return "receiving"
	default:
		return "unknown"
	}
}

// SessionStore persists the SessionRecord for a remote address.
type SessionStore interface {
	LoadSession(ctx context.Context, address addr.ProtocolAddress) (*session.SessionRecord, error)
	StoreSession(ctx context.Context, address addr.ProtocolAddress, record *session.SessionRecord) error
}

// IdentityKeyStore decides whether to trust an identity key bound to a
// session and persists identity keys seen from the network.
type IdentityKeyStore interface {
	IsTrustedIdentity(ctx context.Context, address addr.ProtocolAddress, identityKey [32]byte, direction Direction) (bool, error)
	SaveIdentity(ctx context.Context, address addr.ProtocolAddress, identityKey [32]byte) (replaced bool, err error)
	GetLocalRegistrationID(ctx context.Context) (uint32, error)
}

// PreKeyID identifies a one-time prekey by its numeric id, matching the
// optional pre_key_id field a PreKeySignalMessage may or may not carry.
type PreKeyID = uint32

// PreKeyRecord is the stored keypair for one published one-time prekey.
type PreKeyRecord struct {
	ID         PreKeyID
	PublicKey  [32]byte
	PrivateKey [32]byte
}

// PreKeyStore holds one-time prekeys. The core only ever removes a
// consumed prekey (spec.md §4.F.4 step 5); loading and storing are used by
// the prekey-agreement collaborator in pkg/x3dh.
type PreKeyStore interface {
	LoadPreKey(ctx context.Context, id PreKeyID) (*PreKeyRecord, error)
	StorePreKey(ctx context.Context, id PreKeyID, record *PreKeyRecord) error
	RemovePreKey(ctx context.Context, id PreKeyID) error
	ContainsPreKey(ctx context.Context, id PreKeyID) (bool, error)
}

// SignedPreKeyRecord is the stored keypair plus the Ed25519 signature
// binding it to an identity key, used only by the external prekey
// collaborator (spec.md §6.1).
type SignedPreKeyRecord struct {
	ID         uint32
	PublicKey  [32]byte
	PrivateKey [32]byte
	Signature  [64]byte
	Timestamp  uint64
}

// SignedPreKeyStore holds signed prekeys, rotated on a slower cadence than
// one-time prekeys.
type SignedPreKeyStore interface {
	LoadSignedPreKey(ctx context.Context, id uint32) (*SignedPreKeyRecord, error)
	StoreSignedPreKey(ctx context.Context, id uint32, record *SignedPreKeyRecord) error
	ContainsSignedPreKey(ctx context.Context, id uint32) (bool, error)
}
