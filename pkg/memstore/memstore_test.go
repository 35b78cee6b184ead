package memstore

import (
	"context"
	"testing"

	"github.com/zentalk/ratchetcore/pkg/addr"
	"github.com/zentalk/ratchetcore/pkg/session"
	"github.com/zentalk/ratchetcore/pkg/store"
)

func TestSessionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewSessions()
	a := addr.New("alice", 1)

	got, err := s.LoadSession(ctx, a)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got != nil {
		t.Fatal("expected no session for an address never stored")
	}

	record := session.NewFreshRecord()
	if err := s.StoreSession(ctx, a, record); err != nil {
		t.Fatalf("StoreSession: %v", err)
	}

	got, err = s.LoadSession(ctx, a)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got != record {
		t.Error("LoadSession should return the exact record previously stored")
	}
}

func TestIdentitiesTrustOnFirstUse(t *testing.T) {
	ctx := context.Background()
	ids := NewIdentities(42, TrustOnFirstUse)
	a := addr.New("bob", 1)

	var key1, key2 [32]byte
	key1[0] = 1
	key2[0] = 2

	trusted, err := ids.IsTrustedIdentity(ctx, a, key1, store.DirectionReceiving)
	if err != nil || !trusted {
		t.Fatalf("a never-seen identity should be trusted on first use: trusted=%v err=%v", trusted, err)
	}

	if _, err := ids.SaveIdentity(ctx, a, key1); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}

	trusted, err = ids.IsTrustedIdentity(ctx, a, key1, store.DirectionReceiving)
	if err != nil || !trusted {
		t.Fatalf("the saved identity should remain trusted: trusted=%v err=%v", trusted, err)
	}

	trusted, err = ids.IsTrustedIdentity(ctx, a, key2, store.DirectionReceiving)
	if err != nil {
		t.Fatalf("IsTrustedIdentity: %v", err)
	}
	if trusted {
		t.Error("a changed identity key for a pinned address must not be trusted")
	}
}

func TestIdentitiesSaveIdentityReportsReplacement(t *testing.T) {
	ctx := context.Background()
	ids := NewIdentities(1, TrustOnFirstUse)
	a := addr.New("carol", 1)

	var key1, key2 [32]byte
	key1[0] = 1
	key2[0] = 2

	replaced, err := ids.SaveIdentity(ctx, a, key1)
	if err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}
	if replaced {
		t.Error("the first save for an address must not report a replacement")
	}

	replaced, err = ids.SaveIdentity(ctx, a, key2)
	if err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}
	if !replaced {
		t.Error("saving a different identity key for a known address must report a replacement")
	}
}

func TestIdentitiesTrustAlways(t *testing.T) {
	ctx := context.Background()
	ids := NewIdentities(1, TrustAlways)
	a := addr.New("dave", 1)

	var key [32]byte
	key[0] = 9
	trusted, err := ids.IsTrustedIdentity(ctx, a, key, store.DirectionSending)
	if err != nil || !trusted {
		t.Fatalf("TrustAlways must accept any identity: trusted=%v err=%v", trusted, err)
	}
}

func TestPreKeysStoreLoadRemove(t *testing.T) {
	ctx := context.Background()
	pk := NewPreKeys()

	rec := &store.PreKeyRecord{ID: 7}
	if err := pk.StorePreKey(ctx, 7, rec); err != nil {
		t.Fatalf("StorePreKey: %v", err)
	}

	ok, err := pk.ContainsPreKey(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("ContainsPreKey(7) = %v, %v, want true, nil", ok, err)
	}

	got, err := pk.LoadPreKey(ctx, 7)
	if err != nil {
		t.Fatalf("LoadPreKey: %v", err)
	}
	if got != rec {
		t.Error("LoadPreKey should return the stored record")
	}

	if err := pk.RemovePreKey(ctx, 7); err != nil {
		t.Fatalf("RemovePreKey: %v", err)
	}
	ok, err = pk.ContainsPreKey(ctx, 7)
	if err != nil || ok {
		t.Fatalf("ContainsPreKey(7) after removal = %v, %v, want false, nil", ok, err)
	}

	if _, err := pk.LoadPreKey(ctx, 7); err == nil {
		t.Error("LoadPreKey after removal should fail")
	}
}

func TestSignedPreKeysStoreLoad(t *testing.T) {
	ctx := context.Background()
	spk := NewSignedPreKeys()

	rec := &store.SignedPreKeyRecord{ID: 3}
	if err := spk.StoreSignedPreKey(ctx, 3, rec); err != nil {
		t.Fatalf("StoreSignedPreKey: %v", err)
	}

	ok, err := spk.ContainsSignedPreKey(ctx, 3)
	if err != nil || !ok {
		t.Fatalf("ContainsSignedPreKey(3) = %v, %v, want true, nil", ok, err)
	}

	got, err := spk.LoadSignedPreKey(ctx, 3)
	if err != nil {
		t.Fatalf("LoadSignedPreKey: %v", err)
	}
	if got != rec {
		t.Error("LoadSignedPreKey should return the stored record")
	}

	if _, err := spk.LoadSignedPreKey(ctx, 99); err == nil {
		t.Error("LoadSignedPreKey for an unknown id should fail")
	}
}
