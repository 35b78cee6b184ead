package x3dh

import (
	"bytes"
	"context"
	"testing"

	"github.com/zentalk/ratchetcore/pkg/addr"
	"github.com/zentalk/ratchetcore/pkg/memstore"
	"github.com/zentalk/ratchetcore/pkg/session"
	"github.com/zentalk/ratchetcore/pkg/store"
	"github.com/zentalk/ratchetcore/pkg/wire"
)

func TestInitiateSessionVerifiesSignedPreKeySignature(t *testing.T) {
	bobIdentity, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("GenerateIdentityKeyPair: %v", err)
	}
	spk, err := GenerateSignedPreKey(1, bobIdentity, 1000)
	if err != nil {
		t.Fatalf("GenerateSignedPreKey: %v", err)
	}
	bundle := CreateKeyBundle(addr.New("bob", 1), bobIdentity, spk, nil, 99)

	bundle.SignedPreKey.Signature[0] ^= 0xFF

	aliceIdentity, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("GenerateIdentityKeyPair: %v", err)
	}
	if _, err := InitiateSession(aliceIdentity, 1, bundle); err == nil {
		t.Error("InitiateSession should reject a bundle with a tampered signed prekey signature")
	}
}

// fullHandshake builds Alice's EstablishedSession against Bob's published
// bundle and then runs Bob's ProcessPreKey over the resulting
// PreKeySignalMessage fields, returning both sides' live SessionRecords.
func fullHandshake(t *testing.T, withOneTimePreKey bool) (aliceRecord, bobRecord *session.SessionRecord, aliceIdentity, bobIdentity *IdentityKeyPair) {
	t.Helper()
	ctx := context.Background()

	var err error
	aliceIdentity, err = GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("GenerateIdentityKeyPair (alice): %v", err)
	}
	bobIdentity, err = GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("GenerateIdentityKeyPair (bob): %v", err)
	}

	spk, err := GenerateSignedPreKey(1, bobIdentity, 1000)
	if err != nil {
		t.Fatalf("GenerateSignedPreKey: %v", err)
	}

	bobPreKeys := memstore.NewPreKeys()
	bobSignedPreKeys := memstore.NewSignedPreKeys()
	spkRecord := &store.SignedPreKeyRecord{
		ID:         spk.ID,
		PublicKey:  spk.PublicKey,
		PrivateKey: spk.PrivateKey,
		Signature:  spk.Signature,
		Timestamp:  spk.Timestamp,
	}
	if err := bobSignedPreKeys.StoreSignedPreKey(ctx, spk.ID, spkRecord); err != nil {
		t.Fatalf("StoreSignedPreKey: %v", err)
	}

	var otpk *OneTimePreKey
	if withOneTimePreKey {
		keys, err := GenerateOneTimePreKeys(1, 1)
		if err != nil {
			t.Fatalf("GenerateOneTimePreKeys: %v", err)
		}
		otpk = keys[0]
		otpkRecord := &store.PreKeyRecord{ID: otpk.ID, PublicKey: otpk.PublicKey, PrivateKey: otpk.PrivateKey}
		if err := bobPreKeys.StorePreKey(ctx, otpk.ID, otpkRecord); err != nil {
			t.Fatalf("StorePreKey: %v", err)
		}
	}

	bundle := CreateKeyBundle(addr.New("bob", 1), bobIdentity, spk, otpk, 77)

	established, err := InitiateSession(aliceIdentity, 42, bundle)
	if err != nil {
		t.Fatalf("InitiateSession: %v", err)
	}

	aliceState := established.Record.CurrentState
	innerForBob := &wire.SignalMessage{
		MessageVersion:   aliceState.SessionVersion,
		SenderRatchetKey: aliceState.SenderChain.RatchetPublic,
		Counter:          0,
	}
	preKeyMsg := &wire.PreKeySignalMessage{
		MessageVersion: aliceState.SessionVersion,
		RegistrationID: 42,
		PreKeyID:       established.PreKeyID,
		SignedPreKeyID: established.SignedPreKeyID,
		BaseKey:        established.BaseKey,
		IdentityKey:    aliceIdentity.DHPublic,
		InnerMessage:   *innerForBob,
	}

	bobIdentities := memstore.NewIdentities(77, memstore.TrustAlways)
	bobRecord = session.NewFreshRecord()

	usedPreKeyID, err := ProcessPreKey(ctx, addr.New("alice", 1), bobRecord, preKeyMsg, bobIdentity, 77, bobIdentities, bobPreKeys, bobSignedPreKeys)
	if err != nil {
		t.Fatalf("ProcessPreKey: %v", err)
	}
	if withOneTimePreKey {
		if usedPreKeyID == nil || *usedPreKeyID != otpk.ID {
			t.Errorf("usedPreKeyID = %v, want %d", usedPreKeyID, otpk.ID)
		}
	} else if usedPreKeyID != nil {
		t.Errorf("usedPreKeyID = %v, want nil", usedPreKeyID)
	}

	return established.Record, bobRecord, aliceIdentity, bobIdentity
}

func TestHandshakeProducesMatchingReceiverAndSenderChain(t *testing.T) {
	for _, withOTPK := range []bool{false, true} {
		aliceRecord, bobRecord, _, _ := fullHandshake(t, withOTPK)

		alice := aliceRecord.CurrentState
		bob := bobRecord.CurrentState

		// Bob performs one extra ratchet step after bootstrapping his
		// receiver chain (to set up his own sending chain), so his root
		// key has advanced one step further than alice's at this point;
		// what must match is the receiver/sender chain pair itself.
		bobReceiver := bob.ReceiverChains
		if len(bobReceiver) != 1 {
			t.Fatalf("withOTPK=%v: bob should have exactly one receiver chain after processing the prekey message, got %d", withOTPK, len(bobReceiver))
		}
		if bobReceiver[0].RatchetKey != alice.SenderChain.RatchetPublic {
			t.Errorf("withOTPK=%v: bob's receiver chain key does not match alice's sender ratchet public", withOTPK)
		}
		if bobReceiver[0].ChainKey != alice.SenderChain.ChainKey {
			t.Errorf("withOTPK=%v: bob's receiver chain key material does not match alice's sender chain key", withOTPK)
		}
	}
}

func TestHandshakeAliceCanDecryptBobsFirstReply(t *testing.T) {
	aliceRecord, bobRecord, aliceIdentity, bobIdentity := fullHandshake(t, false)

	bob := bobRecord.CurrentState
	plaintext := []byte("hello alice, this is bob")

	mk := bob.SenderChain.ChainKey.MessageKeys()
	ciphertext, err := wire.EncryptWithMessageKeys(plaintext, mk)
	if err != nil {
		t.Fatalf("EncryptWithMessageKeys: %v", err)
	}

	msg := &wire.SignalMessage{
		MessageVersion:   bob.SessionVersion,
		SenderRatchetKey: bob.SenderChain.RatchetPublic,
		Counter:          mk.Counter,
		CipherText:       ciphertext,
	}
	msg.SetMAC(bobIdentity.DHPublic, aliceIdentity.DHPublic, mk.MacKey)

	got, err := session.DecryptMessageWithRecord(aliceRecord, addr.New("bob", 1), msg, nil)
	if err != nil {
		t.Fatalf("DecryptMessageWithRecord: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("plaintext = %q, want %q", got, plaintext)
	}
}
