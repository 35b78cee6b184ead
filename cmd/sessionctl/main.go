// Command sessionctl demonstrates a full two-party session cipher round
// trip over in-memory stores: Bob publishes a prekey bundle, Alice
// initiates a session against it and sends a message, and Bob replies,
// following the flag-driven single-shot demo structure of cmd/relay/main.go
// without the relay's networking or persistence.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/zentalk/ratchetcore/pkg/addr"
	"github.com/zentalk/ratchetcore/pkg/cipher"
	"github.com/zentalk/ratchetcore/pkg/memstore"
	"github.com/zentalk/ratchetcore/pkg/store"
	"github.com/zentalk/ratchetcore/pkg/x3dh"
)

func main() {
	message := flag.String("message", "hello from alice", "message alice sends to bob")
	reply := flag.String("reply", "hello back from bob", "message bob sends to alice")
	flag.Parse()

	fmt.Println("session cipher round trip demo")
	fmt.Println("===============================")

	ctx := context.Background()
	aliceAddr := addr.New("alice", 1)
	bobAddr := addr.New("bob", 1)

	aliceIdentity, err := x3dh.GenerateIdentityKeyPair()
	if err != nil {
		log.Fatalf("generate alice identity: %v", err)
	}
	bobIdentity, err := x3dh.GenerateIdentityKeyPair()
	if err != nil {
		log.Fatalf("generate bob identity: %v", err)
	}

	aliceSessions := memstore.NewSessions()
	aliceIdentities := memstore.NewIdentities(11, memstore.TrustOnFirstUse)
	bobSessions := memstore.NewSessions()
	bobIdentities := memstore.NewIdentities(22, memstore.TrustOnFirstUse)
	bobPreKeys := memstore.NewPreKeys()
	bobSignedPreKeys := memstore.NewSignedPreKeys()

	spk, err := x3dh.GenerateSignedPreKey(1, bobIdentity, 1000)
	if err != nil {
		log.Fatalf("generate bob signed prekey: %v", err)
	}
	if err := bobSignedPreKeys.StoreSignedPreKey(ctx, spk.ID, &store.SignedPreKeyRecord{
		ID: spk.ID, PublicKey: spk.PublicKey, PrivateKey: spk.PrivateKey,
		Signature: spk.Signature, Timestamp: spk.Timestamp,
	}); err != nil {
		log.Fatalf("store signed prekey: %v", err)
	}

	otpks, err := x3dh.GenerateOneTimePreKeys(1, 1)
	if err != nil {
		log.Fatalf("generate bob one-time prekeys: %v", err)
	}
	otpk := otpks[0]
	if err := bobPreKeys.StorePreKey(ctx, otpk.ID, &store.PreKeyRecord{
		ID: otpk.ID, PublicKey: otpk.PublicKey, PrivateKey: otpk.PrivateKey,
	}); err != nil {
		log.Fatalf("store one-time prekey: %v", err)
	}

	bundle := x3dh.CreateKeyBundle(bobAddr, bobIdentity, spk, otpk, 22)
	fmt.Printf("bob published a prekey bundle (signed prekey id %d, one-time prekey id %d)\n", spk.ID, otpk.ID)

	established, err := x3dh.InitiateSession(aliceIdentity, 11, bundle)
	if err != nil {
		log.Fatalf("alice initiate session: %v", err)
	}
	if err := aliceSessions.StoreSession(ctx, bobAddr, established.Record); err != nil {
		log.Fatalf("alice store session: %v", err)
	}
	fmt.Println("alice completed X3DH against bob's bundle")

	aliceCipher := &cipher.SessionCipher{
		Sessions: aliceSessions, Identities: aliceIdentities,
		PreKeys: memstore.NewPreKeys(), SignedPreKeys: memstore.NewSignedPreKeys(),
		LocalIdentity: aliceIdentity,
	}
	bobCipher := &cipher.SessionCipher{
		Sessions: bobSessions, Identities: bobIdentities,
		PreKeys: bobPreKeys, SignedPreKeys: bobSignedPreKeys,
		LocalIdentity: bobIdentity,
	}

	envelope, err := aliceCipher.Encrypt(ctx, bobAddr, []byte(*message))
	if err != nil {
		log.Fatalf("alice encrypt: %v", err)
	}
	fmt.Printf("alice -> bob: %q\n", *message)

	plaintext, err := bobCipher.Decrypt(ctx, aliceAddr, envelope)
	if err != nil {
		log.Fatalf("bob decrypt: %v", err)
	}
	fmt.Printf("bob received: %q\n", plaintext)

	replyEnvelope, err := bobCipher.Encrypt(ctx, aliceAddr, []byte(*reply))
	if err != nil {
		log.Fatalf("bob encrypt: %v", err)
	}
	fmt.Printf("bob -> alice: %q\n", *reply)

	replyPlaintext, err := aliceCipher.Decrypt(ctx, bobAddr, replyEnvelope)
	if err != nil {
		log.Fatalf("alice decrypt: %v", err)
	}
	fmt.Printf("alice received: %q\n", replyPlaintext)

	fmt.Println()
	fmt.Println("round trip complete")
}
