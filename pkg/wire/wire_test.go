package wire

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptCBCRoundTrip(t *testing.T) {
	var key [32]byte
	var iv [16]byte
	copy(key[:], bytes.Repeat([]byte{0x05}, 32))
	copy(iv[:], bytes.Repeat([]byte{0x06}, 16))

	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	ciphertext, err := EncryptCBC(plaintext, key, iv)
	if err != nil {
		t.Fatalf("EncryptCBC: %v", err)
	}

	got, err := DecryptCBC(ciphertext, key, iv)
	if err != nil {
		t.Fatalf("DecryptCBC: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip = %q, want %q", got, plaintext)
	}
}

func TestEncryptCBCHandlesBlockAlignedInput(t *testing.T) {
	var key [32]byte
	var iv [16]byte
	plaintext := bytes.Repeat([]byte{0xFF}, 32) // exactly two AES blocks

	ciphertext, err := EncryptCBC(plaintext, key, iv)
	if err != nil {
		t.Fatalf("EncryptCBC: %v", err)
	}
	if len(ciphertext) != 48 {
		t.Errorf("ciphertext len = %d, want 48 (padding adds a full block)", len(ciphertext))
	}

	got, err := DecryptCBC(ciphertext, key, iv)
	if err != nil {
		t.Fatalf("DecryptCBC: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Error("round trip mismatch on block-aligned input")
	}
}

func TestDecryptCBCRejectsBadPadding(t *testing.T) {
	var key [32]byte
	ciphertext := bytes.Repeat([]byte{0x00}, 16) // decrypts to a block ending in 0xb4, not a valid padding length

	if _, err := DecryptCBC(ciphertext, key, [16]byte{}); err == nil {
		t.Error("expected an error for invalid PKCS#7 padding")
	}
}

func TestMACVerifiesOnlyWithMatchingKeyAndIdentities(t *testing.T) {
	var macKey [32]byte
	copy(macKey[:], bytes.Repeat([]byte{0x11}, 32))
	var senderID, receiverID [32]byte
	senderID[0] = 1
	receiverID[0] = 2

	m := &SignalMessage{
		MessageVersion:   3,
		Counter:          7,
		PreviousCounter:  4,
		CipherText:       []byte("ciphertext goes here"),
	}
	m.SetMAC(senderID, receiverID, macKey)

	if !m.VerifyMAC(senderID, receiverID, macKey) {
		t.Error("VerifyMAC should accept the MAC it just computed")
	}

	tampered := *m
	tampered.Counter = 8
	if tampered.VerifyMAC(senderID, receiverID, macKey) {
		t.Error("VerifyMAC should reject a message whose fields changed after MAC computation")
	}

	var wrongKey [32]byte
	wrongKey[0] = 0xFF
	if m.VerifyMAC(senderID, receiverID, wrongKey) {
		t.Error("VerifyMAC should reject a wrong mac key")
	}

	if m.VerifyMAC(receiverID, senderID, macKey) {
		t.Error("VerifyMAC should be sensitive to identity key ordering")
	}
}
