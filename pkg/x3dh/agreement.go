package x3dh

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/zentalk/ratchetcore/pkg/ratchet"
)

// x3dhInfo domain-separates the X3DH master secret derivation from every
// other HKDF application in this module, following the same
// fixed-info-string convention as package ratchet.
const x3dhInfo = "ZenTalk X3DH Key Agreement"

// deriveSharedSecret runs HKDF-SHA256 over the concatenated DH outputs
// (DH1 || DH2 || DH3 [|| DH4]) with a zero salt, exactly as the teacher's
// X3DHInitiator/X3DHResponder do, and returns it as a RootKey ready to seed
// a fresh SessionState.
func deriveSharedSecret(dhOutputs ...[]byte) (ratchet.RootKey, error) {
	concat := make([]byte, 0, 32*len(dhOutputs))
	for _, dh := range dhOutputs {
		concat = append(concat, dh...)
	}

	salt := make([]byte, 32)
	reader := hkdf.New(sha256.New, concat, salt, []byte(x3dhInfo))

	var out ratchet.RootKey
	if _, err := io.ReadFull(reader, out[:]); err != nil {
		return ratchet.RootKey{}, fmt.Errorf("x3dh: derive shared secret: %w", err)
	}
	return out, nil
}
