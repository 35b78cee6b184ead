// Package wire implements the envelope formats exchanged between session
// cipher endpoints and the concrete AEAD-ish primitives (AES-256-CBC plus a
// detached HMAC) used to protect them. spec.md marks these as external
// collaborators (curve primitives, AES-CBC, HMAC are out of scope for the
// core), but a runnable module needs one concrete backend to exercise the
// core end-to-end, so this package plays that role the way the teacher's
// session_manager.go plays it for AES-256-GCM — generalized from GCM to
// CBC + detached MAC because spec.md's MessageKeys carries a separate
// mac_key and iv rather than a single AEAD key.
package wire

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/zentalk/ratchetcore/pkg/ratchet"
)

// MacLen is the length of the truncated MAC appended to a SignalMessage,
// matching the libsignal wire format this core is grounded on.
const MacLen = 8

// SignalMessage is the bare (non-prekey) ratchet envelope.
type SignalMessage struct {
	MessageVersion   byte
	SenderRatchetKey [32]byte
	Counter          uint32
	PreviousCounter  uint32
	CipherText       []byte
	Mac              [MacLen]byte
}

// PreKeySignalMessage wraps a SignalMessage with the X3DH key-agreement
// material needed to bootstrap a brand new session.
type PreKeySignalMessage struct {
	MessageVersion byte
	RegistrationID uint32
	PreKeyID       *uint32
	SignedPreKeyID uint32
	BaseKey        [32]byte
	IdentityKey    [32]byte
	InnerMessage   SignalMessage
}

// Envelope is the dispatch union spec.md §4.F.2 switches on: exactly one
// of Signal or PreKey is set. It stands in for what a tagged wire variant
// would be in a language with sum types.
type Envelope struct {
	Signal *SignalMessage
	PreKey *PreKeySignalMessage
}

// serializedBody returns the bytes the MAC is computed over: every field of
// the envelope except the MAC itself, which is exactly what verify_mac must
// reconstruct on the receiving side.
func (m *SignalMessage) serializedBody() []byte {
	buf := make([]byte, 0, 1+32+4+4+len(m.CipherText))
	buf = append(buf, m.MessageVersion)
	buf = append(buf, m.SenderRatchetKey[:]...)
	buf = append(buf, byteOf(m.Counter)...)
	buf = append(buf, byteOf(m.PreviousCounter)...)
	buf = append(buf, m.CipherText...)
	return buf
}

func byteOf(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// ComputeMAC computes the truncated HMAC-SHA256 over the envelope body and
// both parties' identity keys, binding the message to the session's
// identity pair the same way libsignal's SignalMessage::new does.
func ComputeMAC(body []byte, senderIdentity, receiverIdentity [32]byte, macKey [32]byte) [MacLen]byte {
	mac := hmac.New(sha256.New, macKey[:])
	mac.Write(senderIdentity[:])
	mac.Write(receiverIdentity[:])
	mac.Write(body)
	sum := mac.Sum(nil)

	var out [MacLen]byte
	copy(out[:], sum[:MacLen])
	return out
}

// SetMAC computes and stores the message's MAC given the two identity keys
// and the message key's mac key.
func (m *SignalMessage) SetMAC(senderIdentity, receiverIdentity [32]byte, macKey [32]byte) {
	m.Mac = ComputeMAC(m.serializedBody(), senderIdentity, receiverIdentity, macKey)
}

// VerifyMAC is total: it never fails, it reports whether the MAC matches.
// theirIdentity/ourIdentity follow spec.md §6.2's verify_mac(their_identity,
// our_identity, mac_key) ordering — the MAC is computed with the sender's
// identity first regardless of which side is verifying.
func (m *SignalMessage) VerifyMAC(theirIdentity, ourIdentity [32]byte, macKey [32]byte) bool {
	expected := ComputeMAC(m.serializedBody(), theirIdentity, ourIdentity, macKey)
	return hmac.Equal(expected[:], m.Mac[:])
}

// EncryptCBC AES-256-CBC encrypts plaintext with PKCS#7 padding.
func EncryptCBC(plaintext []byte, cipherKey [32]byte, iv [16]byte) ([]byte, error) {
	block, err := aes.NewCipher(cipherKey[:])
	if err != nil {
		return nil, fmt.Errorf("wire: new cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv[:])
	mode.CryptBlocks(out, padded)
	return out, nil
}

// DecryptCBC AES-256-CBC decrypts ciphertext and strips PKCS#7 padding.
func DecryptCBC(ciphertext []byte, cipherKey [32]byte, iv [16]byte) ([]byte, error) {
	block, err := aes.NewCipher(cipherKey[:])
	if err != nil {
		return nil, fmt.Errorf("wire: new cipher: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("wire: ciphertext is not a multiple of the block size")
	}

	out := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv[:])
	mode.CryptBlocks(out, ciphertext)

	return pkcs7Unpad(out, block.BlockSize())
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("wire: empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("wire: invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("wire: invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}

// EncryptWithMessageKeys is a convenience wrapper combining EncryptCBC with
// the cipher_key/iv carried by a derived MessageKeys.
func EncryptWithMessageKeys(plaintext []byte, mk ratchet.MessageKeys) ([]byte, error) {
	return EncryptCBC(plaintext, mk.CipherKey, mk.IV)
}

// DecryptWithMessageKeys is the decrypt-side counterpart of
// EncryptWithMessageKeys.
func DecryptWithMessageKeys(ciphertext []byte, mk ratchet.MessageKeys) ([]byte, error) {
	return DecryptCBC(ciphertext, mk.CipherKey, mk.IV)
}
