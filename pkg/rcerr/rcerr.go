// Package rcerr defines the session cipher core's error kinds. They are
// shared by the session, x3dh, and cipher packages so that a single
// errors.As/errors.Is vocabulary covers the whole decrypt/encrypt path,
// mirroring the sentinel-plus-wrapped-error convention the teacher uses in
// pkg/storage/database.go.
package rcerr

import (
	"errors"
	"fmt"

	"github.com/zentalk/ratchetcore/pkg/addr"
)

var (
	// ErrSessionNotFound signals no SessionRecord exists for an address
	// where one is required (encrypt, decrypt_signal).
	ErrSessionNotFound = errors.New("ratchetcore: session not found")

	// ErrInvalidSessionStructure signals a SessionState is missing a
	// required field (e.g. remote identity key).
	ErrInvalidSessionStructure = errors.New("ratchetcore: invalid session structure")

	// ErrInvalidCiphertext signals MAC verification failed.
	ErrInvalidCiphertext = errors.New("ratchetcore: invalid ciphertext (MAC mismatch)")

	// ErrInvalidArgument signals decrypt was called on an unsupported
	// envelope kind.
	ErrInvalidArgument = errors.New("ratchetcore: invalid argument")
)

// UnrecognizedMessageVersionError signals the envelope's message_version
// disagrees with the session's session_version.
type UnrecognizedMessageVersionError struct {
	Version byte
}

func (e *UnrecognizedMessageVersionError) Error() string {
	return fmt.Sprintf("ratchetcore: unrecognized message version %d", e.Version)
}

// InvalidMessageError is the catchall for "no sender chain", "too far into
// the future", and the post-fallback "decryption failed".
type InvalidMessageError struct {
	Reason string
}

func (e *InvalidMessageError) Error() string {
	return fmt.Sprintf("ratchetcore: invalid message: %s", e.Reason)
}

// DuplicatedMessageError signals the message key for Counter was not found
// in the skip cache even though the chain has already advanced past it,
// implying it was already consumed. It is returned eagerly and must never
// be aggregated with a fallback attempt against another session state.
type DuplicatedMessageError struct {
	ChainIndex uint32
	Counter    uint32
}

func (e *DuplicatedMessageError) Error() string {
	return fmt.Sprintf("ratchetcore: duplicate message (chain index %d, counter %d)", e.ChainIndex, e.Counter)
}

// UntrustedIdentityError signals the IdentityKeyStore denied trust for the
// identity key bound into the session.
type UntrustedIdentityError struct {
	Address addr.ProtocolAddress
}

func (e *UntrustedIdentityError) Error() string {
	return fmt.Sprintf("ratchetcore: untrusted identity for %s", e.Address)
}

// IsDuplicatedMessage reports whether err is a DuplicatedMessageError.
func IsDuplicatedMessage(err error) bool {
	var d *DuplicatedMessageError
	return errors.As(err, &d)
}
