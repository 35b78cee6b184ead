// Package memstore implements store.SessionStore, store.IdentityKeyStore,
// store.PreKeyStore, and store.SignedPreKeyStore over plain in-process maps,
// guarded by a mutex the way the teacher's pkg/network client keeps its
// in-memory peer tables. It has no persistence and is meant for tests and
// cmd/sessionctl's demo round trip.
package memstore

import (
	"context"
	"sync"

	"github.com/zentalk/ratchetcore/pkg/addr"
	"github.com/zentalk/ratchetcore/pkg/rcerr"
	"github.com/zentalk/ratchetcore/pkg/session"
	"github.com/zentalk/ratchetcore/pkg/store"
)

// Sessions is an in-memory store.SessionStore keyed by address string.
type Sessions struct {
	mu      sync.Mutex
	records map[string]*session.SessionRecord
}

// NewSessions returns an empty session store.
func NewSessions() *Sessions {
	return &Sessions{records: make(map[string]*session.SessionRecord)}
}

func (s *Sessions) LoadSession(_ context.Context, address addr.ProtocolAddress) (*session.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[address.String()], nil
}

func (s *Sessions) StoreSession(_ context.Context, address addr.ProtocolAddress, record *session.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[address.String()] = record
	return nil
}

// TrustMode controls how a fresh Identities store reacts to an identity key
// it has never seen before.
type TrustMode int

const (
	// TrustOnFirstUse accepts any never-seen identity key, the default
	// Signal-style trust-on-first-use policy, and rejects a later key
	// change for the same address.
	TrustOnFirstUse TrustMode = iota
	// TrustAlways accepts every identity key unconditionally; useful for
	// tests that churn identity keys without caring about pinning.
	TrustAlways
)

// Identities is an in-memory store.IdentityKeyStore.
type Identities struct {
	mu                sync.Mutex
	mode              TrustMode
	localRegID        uint32
	trustedIdentities map[string][32]byte
}

// NewIdentities returns an identity store seeded with the local
// registration id the core reports via get_local_registration_id.
func NewIdentities(localRegistrationID uint32, mode TrustMode) *Identities {
	return &Identities{
		mode:              mode,
		localRegID:        localRegistrationID,
		trustedIdentities: make(map[string][32]byte),
	}
}

func (id *Identities) IsTrustedIdentity(_ context.Context, address addr.ProtocolAddress, identityKey [32]byte, _ store.Direction) (bool, error) {
	if id.mode == TrustAlways {
		return true, nil
	}

	id.mu.Lock()
	defer id.mu.Unlock()

	known, ok := id.trustedIdentities[address.String()]
	if !ok {
		return true, nil
	}
	return known == identityKey, nil
}

func (id *Identities) SaveIdentity(_ context.Context, address addr.ProtocolAddress, identityKey [32]byte) (bool, error) {
	id.mu.Lock()
	defer id.mu.Unlock()

	known, existed := id.trustedIdentities[address.String()]
	id.trustedIdentities[address.String()] = identityKey
	replaced := existed && known != identityKey
	return replaced, nil
}

func (id *Identities) GetLocalRegistrationID(_ context.Context) (uint32, error) {
	return id.localRegID, nil
}

// PreKeys is an in-memory store.PreKeyStore.
type PreKeys struct {
	mu   sync.Mutex
	keys map[store.PreKeyID]*store.PreKeyRecord
}

// NewPreKeys returns an empty one-time prekey store.
func NewPreKeys() *PreKeys {
	return &PreKeys{keys: make(map[store.PreKeyID]*store.PreKeyRecord)}
}

func (p *PreKeys) LoadPreKey(_ context.Context, id store.PreKeyID) (*store.PreKeyRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.keys[id]
	if !ok {
		return nil, rcerr.ErrSessionNotFound
	}
	return rec, nil
}

func (p *PreKeys) StorePreKey(_ context.Context, id store.PreKeyID, record *store.PreKeyRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[id] = record
	return nil
}

func (p *PreKeys) RemovePreKey(_ context.Context, id store.PreKeyID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, id)
	return nil
}

func (p *PreKeys) ContainsPreKey(_ context.Context, id store.PreKeyID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.keys[id]
	return ok, nil
}

// SignedPreKeys is an in-memory store.SignedPreKeyStore.
type SignedPreKeys struct {
	mu   sync.Mutex
	keys map[uint32]*store.SignedPreKeyRecord
}

// NewSignedPreKeys returns an empty signed prekey store.
func NewSignedPreKeys() *SignedPreKeys {
	return &SignedPreKeys{keys: make(map[uint32]*store.SignedPreKeyRecord)}
}

func (s *SignedPreKeys) LoadSignedPreKey(_ context.Context, id uint32) (*store.SignedPreKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.keys[id]
	if !ok {
		return nil, rcerr.ErrSessionNotFound
	}
	return rec, nil
}

func (s *SignedPreKeys) StoreSignedPreKey(_ context.Context, id uint32, record *store.SignedPreKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = record
	return nil
}

func (s *SignedPreKeys) ContainsSignedPreKey(_ context.Context, id uint32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[id]
	return ok, nil
}
