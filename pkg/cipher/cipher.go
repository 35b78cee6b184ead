// Package cipher implements the session cipher orchestrator: encrypt,
// decrypt (dispatching on envelope kind), and the accessor methods, wiring
// together package session's ratchet engine, package x3dh's prekey
// bootstrap, package wire's envelope/MAC/AES-CBC primitives, and the store
// interfaces. It generalizes the teacher's pkg/network/session_manager.go
// (one fixed AES-256-GCM session per peer, no fallback states, no trust
// store) into the full encrypt/decrypt_signal/decrypt_prekey orchestration
// with the store-operation orderings the ratchet protocol depends on for
// safety and compatibility.
package cipher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zentalk/ratchetcore/pkg/addr"
	"github.com/zentalk/ratchetcore/pkg/rcerr"
	"github.com/zentalk/ratchetcore/pkg/session"
	"github.com/zentalk/ratchetcore/pkg/store"
	"github.com/zentalk/ratchetcore/pkg/wire"
	"github.com/zentalk/ratchetcore/pkg/x3dh"
)

// SessionCipher is the orchestrator bound to one local identity and one set
// of stores; callers construct one per process (or per identity, in a
// multi-account host) and call Encrypt/Decrypt per remote address.
type SessionCipher struct {
	Sessions      store.SessionStore
	Identities    store.IdentityKeyStore
	PreKeys       store.PreKeyStore
	SignedPreKeys store.SignedPreKeyStore

	LocalIdentity *x3dh.IdentityKeyPair

	Logger *slog.Logger
}

func (c *SessionCipher) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Encrypt is spec.md §4.F.1: encrypt plaintext for remote using the
// session currently on file, advance the sender chain, and persist the
// result. The identity trust check runs after the cryptographic work and
// before persistence, and a rejection there must not persist anything —
// this ordering is preserved for compatibility with historical behavior
// even though it looks backwards.
func (c *SessionCipher) Encrypt(ctx context.Context, remote addr.ProtocolAddress, plaintext []byte) (wire.Envelope, error) {
	record, err := c.Sessions.LoadSession(ctx, remote)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("cipher: load session: %w", err)
	}
	if record == nil || record.CurrentState == nil {
		return wire.Envelope{}, rcerr.ErrSessionNotFound
	}

	state := record.CurrentState
	if !state.HasSenderChain() {
		return wire.Envelope{}, &rcerr.InvalidMessageError{Reason: "no sender chain"}
	}
	if state.RemoteIdentityKey == nil {
		return wire.Envelope{}, rcerr.ErrInvalidSessionStructure
	}

	chainKey := state.SenderChain.ChainKey
	messageKeys := chainKey.MessageKeys()

	ciphertext, err := wire.EncryptWithMessageKeys(plaintext, messageKeys)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("cipher: encrypt: %w", err)
	}

	inner := &wire.SignalMessage{
		MessageVersion:   state.SessionVersion,
		SenderRatchetKey: state.SenderChain.RatchetPublic,
		Counter:          chainKey.Index,
		PreviousCounter:  state.PreviousCounter,
		CipherText:       ciphertext,
	}
	remoteIdentity := *state.RemoteIdentityKey
	inner.SetMAC(state.LocalIdentityKey, remoteIdentity, messageKeys.MacKey)

	var envelope wire.Envelope
	if items := state.UnacknowledgedPreKeyMessageItems; items != nil {
		c.logger().Info("building prekey envelope", "remote_address", remote.String(), "pre_key_id", preKeyIDLog(items.PreKeyID))
		envelope = wire.Envelope{PreKey: &wire.PreKeySignalMessage{
			MessageVersion: state.SessionVersion,
			RegistrationID: state.LocalRegistrationID,
			PreKeyID:       items.PreKeyID,
			SignedPreKeyID: items.SignedPreKeyID,
			BaseKey:        items.BaseKey,
			IdentityKey:    state.LocalIdentityKey,
			InnerMessage:   *inner,
		}}
	} else {
		envelope = wire.Envelope{Signal: inner}
	}

	// Symmetric ratchet step: advance the sender chain for the next call.
	state.SenderChain.ChainKey = chainKey.Next()

	trusted, err := c.Identities.IsTrustedIdentity(ctx, remote, remoteIdentity, store.DirectionSending)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("cipher: trust check: %w", err)
	}
	if !trusted {
		return wire.Envelope{}, &rcerr.UntrustedIdentityError{Address: remote}
	}

	if _, err := c.Identities.SaveIdentity(ctx, remote, remoteIdentity); err != nil {
		return wire.Envelope{}, fmt.Errorf("cipher: save identity: %w", err)
	}
	if err := c.Sessions.StoreSession(ctx, remote, record); err != nil {
		return wire.Envelope{}, fmt.Errorf("cipher: store session: %w", err)
	}

	return envelope, nil
}

func preKeyIDLog(id *uint32) string {
	if id == nil {
		return "<none>"
	}
	return fmt.Sprintf("%d", *id)
}

// Decrypt is spec.md §4.F.2's dispatch: route to DecryptSignal or
// DecryptPreKey depending on which envelope field is populated, failing
// with ErrInvalidArgument if neither (or both) are set.
func (c *SessionCipher) Decrypt(ctx context.Context, remote addr.ProtocolAddress, envelope wire.Envelope) ([]byte, error) {
	switch {
	case envelope.Signal != nil && envelope.PreKey == nil:
		return c.DecryptSignal(ctx, remote, envelope.Signal)
	case envelope.PreKey != nil && envelope.Signal == nil:
		return c.DecryptPreKey(ctx, remote, envelope.PreKey)
	default:
		return nil, rcerr.ErrInvalidArgument
	}
}

// DecryptSignal is spec.md §4.F.3. Note the ordering: store_session runs
// before the trust check, so a rejected identity after decryption still
// leaves the session advanced on disk. This is intentional and must be
// preserved; see spec.md §5's ordering guarantees.
func (c *SessionCipher) DecryptSignal(ctx context.Context, remote addr.ProtocolAddress, msg *wire.SignalMessage) ([]byte, error) {
	record, err := c.Sessions.LoadSession(ctx, remote)
	if err != nil {
		return nil, fmt.Errorf("cipher: load session: %w", err)
	}
	if record == nil {
		return nil, rcerr.ErrSessionNotFound
	}

	plaintext, err := session.DecryptMessageWithRecord(record, remote, msg, c.logger())
	if err != nil {
		return nil, err
	}

	if record.CurrentState == nil || record.CurrentState.RemoteIdentityKey == nil {
		return nil, rcerr.ErrInvalidSessionStructure
	}
	remoteIdentity := *record.CurrentState.RemoteIdentityKey

	if err := c.Sessions.StoreSession(ctx, remote, record); err != nil {
		return nil, fmt.Errorf("cipher: store session: %w", err)
	}

	trusted, err := c.Identities.IsTrustedIdentity(ctx, remote, remoteIdentity, store.DirectionReceiving)
	if err != nil {
		return nil, fmt.Errorf("cipher: trust check: %w", err)
	}
	if !trusted {
		return nil, &rcerr.UntrustedIdentityError{Address: remote}
	}

	if _, err := c.Identities.SaveIdentity(ctx, remote, remoteIdentity); err != nil {
		return nil, fmt.Errorf("cipher: save identity: %w", err)
	}

	return plaintext, nil
}

// DecryptPreKey is spec.md §4.F.4. remove_pre_key runs last so a failed
// decryption never consumes a one-time prekey.
func (c *SessionCipher) DecryptPreKey(ctx context.Context, remote addr.ProtocolAddress, msg *wire.PreKeySignalMessage) ([]byte, error) {
	record, err := c.Sessions.LoadSession(ctx, remote)
	if err != nil {
		return nil, fmt.Errorf("cipher: load session: %w", err)
	}
	if record == nil {
		record = session.NewFreshRecord()
	}

	localRegistrationID, err := c.Identities.GetLocalRegistrationID(ctx)
	if err != nil {
		return nil, fmt.Errorf("cipher: get local registration id: %w", err)
	}

	usedPreKeyID, err := x3dh.ProcessPreKey(ctx, remote, record, msg, c.LocalIdentity, localRegistrationID, c.Identities, c.PreKeys, c.SignedPreKeys)
	if err != nil {
		return nil, err
	}

	innerMsg := msg.InnerMessage
	plaintext, err := session.DecryptMessageWithRecord(record, remote, &innerMsg, c.logger())
	if err != nil {
		return nil, err
	}

	if err := c.Sessions.StoreSession(ctx, remote, record); err != nil {
		return nil, fmt.Errorf("cipher: store session: %w", err)
	}

	if usedPreKeyID != nil {
		if err := c.PreKeys.RemovePreKey(ctx, *usedPreKeyID); err != nil {
			return nil, fmt.Errorf("cipher: remove consumed prekey: %w", err)
		}
	}

	return plaintext, nil
}

// RemoteRegistrationID is spec.md §4.F.5.
func (c *SessionCipher) RemoteRegistrationID(ctx context.Context, remote addr.ProtocolAddress) (uint32, error) {
	record, err := c.Sessions.LoadSession(ctx, remote)
	if err != nil {
		return 0, fmt.Errorf("cipher: load session: %w", err)
	}
	if record == nil || record.CurrentState == nil {
		return 0, rcerr.ErrSessionNotFound
	}
	return record.CurrentState.RemoteRegistrationID, nil
}

// SessionVersion is spec.md §4.F.5.
func (c *SessionCipher) SessionVersion(ctx context.Context, remote addr.ProtocolAddress) (byte, error) {
	record, err := c.Sessions.LoadSession(ctx, remote)
	if err != nil {
		return 0, fmt.Errorf("cipher: load session: %w", err)
	}
	if record == nil || record.CurrentState == nil {
		return 0, rcerr.ErrSessionNotFound
	}
	return record.CurrentState.SessionVersion, nil
}
