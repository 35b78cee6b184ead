// Package session implements the Double Ratchet data model and the DH
// ratchet engine, skipped-key cache, per-state decryptor, and record-level
// fallback decryptor described in spec.md §§3-4 (components B through E).
// It generalizes the teacher's pkg/protocol/ratchet.go RatchetState (one
// chain each way, no fallback) into the current-plus-archived-states model
// the spec requires.
package session

import (
	"fmt"

	"github.com/zentalk/ratchetcore/pkg/rcerr"
	"github.com/zentalk/ratchetcore/pkg/ratchet"
)

// MaxReceiverChains bounds how many receiver chains a SessionState keeps
// before evicting the oldest; spec.md §3 recommends 5.
const MaxReceiverChains = 5

// MaxForwardJumps bounds how many chain-key advances get_or_create_message_key
// will perform in one call, per spec.md §4.C.
const MaxForwardJumps = 2000

// SenderChain is the outbound half of a SessionState's ratchet: the local
// ratchet key pair currently in use plus its chain key.
type SenderChain struct {
	RatchetPublic  [32]byte
	RatchetPrivate [32]byte
	ChainKey       ratchet.ChainKey
}

// ReceiverChain is one inbound chain, keyed by the peer ratchet public key
// that produced it, together with the skipped message keys not yet
// consumed on that chain.
type ReceiverChain struct {
	RatchetKey         [32]byte
	ChainKey           ratchet.ChainKey
	SkippedMessageKeys map[uint32]ratchet.MessageKeys
}

func newReceiverChain(ratchetKey [32]byte, ck ratchet.ChainKey) *ReceiverChain {
	return &ReceiverChain{
		RatchetKey:         ratchetKey,
		ChainKey:           ck,
		SkippedMessageKeys: make(map[uint32]ratchet.MessageKeys),
	}
}

func (rc *ReceiverChain) clone() *ReceiverChain {
	out := &ReceiverChain{
		RatchetKey:         rc.RatchetKey,
		ChainKey:           rc.ChainKey,
		SkippedMessageKeys: make(map[uint32]ratchet.MessageKeys, len(rc.SkippedMessageKeys)),
	}
	for k, v := range rc.SkippedMessageKeys {
		out.SkippedMessageKeys[k] = v
	}
	return out
}

// UnacknowledgedPreKeyMessageItems records that the next outbound message on
// this state must be wrapped as a PreKeySignalMessage; it is cleared on
// first successful decryption from the peer (spec.md §3, §4.D step 7).
type UnacknowledgedPreKeyMessageItems struct {
	PreKeyID       *uint32
	SignedPreKeyID uint32
	BaseKey        [32]byte
}

func (u *UnacknowledgedPreKeyMessageItems) clone() *UnacknowledgedPreKeyMessageItems {
	if u == nil {
		return nil
	}
	out := &UnacknowledgedPreKeyMessageItems{
		SignedPreKeyID: u.SignedPreKeyID,
		BaseKey:        u.BaseKey,
	}
	if u.PreKeyID != nil {
		id := *u.PreKeyID
		out.PreKeyID = &id
	}
	return out
}

// SessionState is the full Double Ratchet state for one direction-pair, as
// described in spec.md §3.
type SessionState struct {
	SessionVersion byte
	RootKey        ratchet.RootKey

	// SenderChain is nil for a freshly-received-only state; HasSenderChain
	// must be true to decrypt (spec.md §3 invariant).
	SenderChain *SenderChain

	// ReceiverChains is ordered most-recently-added first.
	ReceiverChains []*ReceiverChain

	LocalIdentityKey  [32]byte
	RemoteIdentityKey *[32]byte

	PreviousCounter uint32

	LocalRegistrationID  uint32
	RemoteRegistrationID uint32

	UnacknowledgedPreKeyMessageItems *UnacknowledgedPreKeyMessageItems
}

// HasSenderChain reports whether this state can currently encrypt/be used
// to decrypt (spec.md §4.D step 1).
func (s *SessionState) HasSenderChain() bool {
	return s.SenderChain != nil
}

// Clone deep-copies the state so the record-level decryptor (component E)
// can try a candidate without mutating the original on failure.
func (s *SessionState) Clone() *SessionState {
	out := &SessionState{
		SessionVersion:       s.SessionVersion,
		RootKey:              s.RootKey,
		LocalIdentityKey:     s.LocalIdentityKey,
		PreviousCounter:      s.PreviousCounter,
		LocalRegistrationID:  s.LocalRegistrationID,
		RemoteRegistrationID: s.RemoteRegistrationID,
	}
	if s.SenderChain != nil {
		sc := *s.SenderChain
		out.SenderChain = &sc
	}
	if s.RemoteIdentityKey != nil {
		id := *s.RemoteIdentityKey
		out.RemoteIdentityKey = &id
	}
	out.UnacknowledgedPreKeyMessageItems = s.UnacknowledgedPreKeyMessageItems.clone()

	out.ReceiverChains = make([]*ReceiverChain, len(s.ReceiverChains))
	for i, rc := range s.ReceiverChains {
		out.ReceiverChains[i] = rc.clone()
	}
	return out
}

func (s *SessionState) findReceiverChain(ratchetKey [32]byte) *ReceiverChain {
	for _, rc := range s.ReceiverChains {
		if rc.RatchetKey == ratchetKey {
			return rc
		}
	}
	return nil
}

// addReceiverChain inserts a new receiver chain at the front, evicting the
// oldest beyond MaxReceiverChains (spec.md §4.B step 2d).
func (s *SessionState) addReceiverChain(rc *ReceiverChain) {
	chains := append([]*ReceiverChain{rc}, s.ReceiverChains...)
	if len(chains) > MaxReceiverChains {
		chains = chains[:MaxReceiverChains]
	}
	s.ReceiverChains = chains
}

// GetOrCreateReceiverChainKey is component B, the DH ratchet engine's
// receiver-half step. If peerRatchetPub is already known, its current
// chain key is returned unchanged; otherwise a new receiver chain is
// derived by mixing a fresh DH output into the root key, exactly as
// spec.md §4.B describes. Only the receiver half runs here — the sender
// half (a fresh local ratchet key pair and a new sender chain) is the
// responsibility of whichever higher layer decides to rotate the local
// ratchet, per the note in spec.md §4.B.
func (s *SessionState) GetOrCreateReceiverChainKey(peerRatchetPub [32]byte) (ratchet.ChainKey, error) {
	if rc := s.findReceiverChain(peerRatchetPub); rc != nil {
		return rc.ChainKey, nil
	}

	if s.SenderChain == nil {
		return ratchet.ChainKey{}, rcerr.ErrInvalidSessionStructure
	}

	dhOutput, err := ratchet.DH(s.SenderChain.RatchetPrivate, peerRatchetPub)
	if err != nil {
		return ratchet.ChainKey{}, fmt.Errorf("session: dh ratchet: %w", err)
	}

	newRoot, newChainKey, err := ratchet.KDF_RK(s.RootKey, dhOutput)
	if err != nil {
		return ratchet.ChainKey{}, fmt.Errorf("session: kdf_rk: %w", err)
	}

	s.RootKey = newRoot
	s.addReceiverChain(newReceiverChain(peerRatchetPub, newChainKey))

	return newChainKey, nil
}

// GetOrCreateMessageKeys is component C, the skipped-key cache. Given the
// receiver chain key at index i and the ciphertext's counter c, it returns
// the MessageKeys for c, deriving and caching any skipped keys for
// counters in [i, c) along the way (spec.md §4.C).
func (s *SessionState) GetOrCreateMessageKeys(peerRatchetPub [32]byte, chainKey ratchet.ChainKey, counter uint32) (ratchet.MessageKeys, error) {
	rc := s.findReceiverChain(peerRatchetPub)
	if rc == nil {
		return ratchet.MessageKeys{}, rcerr.ErrInvalidSessionStructure
	}

	if chainKey.Index > counter {
		mk, ok := rc.SkippedMessageKeys[counter]
		if !ok {
			return ratchet.MessageKeys{}, &rcerr.DuplicatedMessageError{
				ChainIndex: chainKey.Index,
				Counter:    counter,
			}
		}
		delete(rc.SkippedMessageKeys, counter)
		return mk, nil
	}

	jump := counter - chainKey.Index
	if jump > MaxForwardJumps {
		return ratchet.MessageKeys{}, &rcerr.InvalidMessageError{Reason: "too far into the future"}
	}

	ck := chainKey
	for ck.Index < counter {
		rc.SkippedMessageKeys[ck.Index] = ck.MessageKeys()
		ck = ck.Next()
	}

	messageKeys := ck.MessageKeys()
	rc.ChainKey = ck.Next()

	return messageKeys, nil
}
