package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zentalk/ratchetcore/pkg/addr"
	"github.com/zentalk/ratchetcore/pkg/ratchet"
	"github.com/zentalk/ratchetcore/pkg/session"
	"github.com/zentalk/ratchetcore/pkg/store"
)

func openTestStore(t *testing.T, registrationID uint32) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(path, registrationID)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord() *session.SessionRecord {
	remote := [32]byte{9, 9, 9}
	state := &session.SessionState{
		SessionVersion: 1,
		RootKey:        ratchet.RootKey{1, 2, 3},
		SenderChain: &session.SenderChain{
			RatchetPublic:  [32]byte{4, 5, 6},
			RatchetPrivate: [32]byte{7, 8, 9},
			ChainKey:       ratchet.ChainKey{Key: [32]byte{1}, Index: 3},
		},
		LocalIdentityKey:     [32]byte{10},
		RemoteIdentityKey:    &remote,
		LocalRegistrationID:  11,
		RemoteRegistrationID: 22,
	}
	record := session.NewFreshRecord()
	record.CurrentState = state
	return record
}

func TestSessionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 1)
	address := addr.New("alice", 1)

	missing, err := s.LoadSession(ctx, address)
	require.NoError(t, err)
	require.Nil(t, missing)

	record := testRecord()
	require.NoError(t, s.StoreSession(ctx, address, record))

	loaded, err := s.LoadSession(ctx, address)
	require.NoError(t, err)
	require.NotNil(t, loaded.CurrentState)
	require.Equal(t, record.CurrentState.RootKey, loaded.CurrentState.RootKey)
	require.Equal(t, record.CurrentState.SenderChain.ChainKey, loaded.CurrentState.SenderChain.ChainKey)
	require.Equal(t, *record.CurrentState.RemoteIdentityKey, *loaded.CurrentState.RemoteIdentityKey)

	// Overwriting an existing address replaces, it does not duplicate.
	record.CurrentState.SenderChain.ChainKey.Index = 7
	require.NoError(t, s.StoreSession(ctx, address, record))
	reloaded, err := s.LoadSession(ctx, address)
	require.NoError(t, err)
	require.Equal(t, uint32(7), reloaded.CurrentState.SenderChain.ChainKey.Index)
}

func TestIdentitiesTrustOnFirstUseAndPersistence(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 5)
	address := addr.New("bob", 1)

	var key1, key2 [32]byte
	key1[0] = 1
	key2[0] = 2

	trusted, err := s.IsTrustedIdentity(ctx, address, key1, store.DirectionReceiving)
	require.NoError(t, err)
	require.True(t, trusted)

	replaced, err := s.SaveIdentity(ctx, address, key1)
	require.NoError(t, err)
	require.False(t, replaced)

	trusted, err = s.IsTrustedIdentity(ctx, address, key1, store.DirectionReceiving)
	require.NoError(t, err)
	require.True(t, trusted)

	trusted, err = s.IsTrustedIdentity(ctx, address, key2, store.DirectionReceiving)
	require.NoError(t, err)
	require.False(t, trusted)

	replaced, err = s.SaveIdentity(ctx, address, key2)
	require.NoError(t, err)
	require.True(t, replaced)
}

func TestLocalRegistrationIDPersists(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 4242)

	id, err := s.GetLocalRegistrationID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(4242), id)
}

func TestPreKeysStoreLoadRemove(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 1)

	_, err := s.LoadPreKey(ctx, 42)
	require.Error(t, err)

	rec := &store.PreKeyRecord{ID: 42, PublicKey: [32]byte{1}, PrivateKey: [32]byte{2}}
	require.NoError(t, s.StorePreKey(ctx, 42, rec))

	exists, err := s.ContainsPreKey(ctx, 42)
	require.NoError(t, err)
	require.True(t, exists)

	loaded, err := s.LoadPreKey(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, rec.PublicKey, loaded.PublicKey)
	require.Equal(t, rec.PrivateKey, loaded.PrivateKey)

	require.NoError(t, s.RemovePreKey(ctx, 42))
	exists, err = s.ContainsPreKey(ctx, 42)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSignedPreKeysStoreLoad(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 1)

	exists, err := s.ContainsSignedPreKey(ctx, 7)
	require.NoError(t, err)
	require.False(t, exists)

	rec := &store.SignedPreKeyRecord{
		ID:        7,
		PublicKey: [32]byte{3},
		Signature: [64]byte{4},
		Timestamp: 99,
	}
	require.NoError(t, s.StoreSignedPreKey(ctx, 7, rec))

	loaded, err := s.LoadSignedPreKey(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, rec.PublicKey, loaded.PublicKey)
	require.Equal(t, rec.Signature, loaded.Signature)
	require.Equal(t, rec.Timestamp, loaded.Timestamp)
}
