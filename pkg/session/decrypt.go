package session

import (
	"log/slog"

	"github.com/zentalk/ratchetcore/pkg/addr"
	"github.com/zentalk/ratchetcore/pkg/rcerr"
	"github.com/zentalk/ratchetcore/pkg/wire"
)

// DecryptMessageWithState is component D, the per-state decryptor
// (spec.md §4.D). It mutates state in place; callers that want
// clone-on-try semantics must clone before calling.
func DecryptMessageWithState(state *SessionState, msg *wire.SignalMessage) ([]byte, error) {
	if !state.HasSenderChain() {
		return nil, &rcerr.InvalidMessageError{Reason: "no sender chain"}
	}

	if msg.MessageVersion != state.SessionVersion {
		return nil, &rcerr.UnrecognizedMessageVersionError{Version: msg.MessageVersion}
	}

	chainKey, err := state.GetOrCreateReceiverChainKey(msg.SenderRatchetKey)
	if err != nil {
		return nil, err
	}

	messageKeys, err := state.GetOrCreateMessageKeys(msg.SenderRatchetKey, chainKey, msg.Counter)
	if err != nil {
		return nil, err
	}

	if state.RemoteIdentityKey == nil {
		return nil, rcerr.ErrInvalidSessionStructure
	}

	if !msg.VerifyMAC(*state.RemoteIdentityKey, state.LocalIdentityKey, messageKeys.MacKey) {
		return nil, rcerr.ErrInvalidCiphertext
	}

	plaintext, err := wire.DecryptWithMessageKeys(msg.CipherText, messageKeys)
	if err != nil {
		return nil, &rcerr.InvalidMessageError{Reason: err.Error()}
	}

	state.UnacknowledgedPreKeyMessageItems = nil

	return plaintext, nil
}

// candidateLogInfo is the structured diagnostic emitted when every
// candidate state fails, per spec.md §4.E step 3.
type candidateLogInfo struct {
	Index          int
	Err            string
	ReceiverChains []receiverChainLogInfo
}

type receiverChainLogInfo struct {
	RatchetKeyHex string
	ChainIndex    uint32
}

func logInfoForState(idx int, state *SessionState, err error) candidateLogInfo {
	chains := make([]receiverChainLogInfo, len(state.ReceiverChains))
	for i, rc := range state.ReceiverChains {
		chains[i] = receiverChainLogInfo{
			RatchetKeyHex: hexPrefix(rc.RatchetKey[:]),
			ChainIndex:    rc.ChainKey.Index,
		}
	}
	return candidateLogInfo{Index: idx, Err: err.Error(), ReceiverChains: chains}
}

func hexPrefix(b []byte) string {
	const hexDigits = "0123456789abcdef"
	n := len(b)
	if n > 8 {
		n = 8
	}
	out := make([]byte, 0, n*2)
	for _, c := range b[:n] {
		out = append(out, hexDigits[c>>4], hexDigits[c&0x0f])
	}
	return string(out)
}

// DecryptMessageWithRecord is component E, the record-level decryptor
// (spec.md §4.E). It tries the current state, then each archived state in
// stored order, and promotes the first archived state that succeeds.
// DuplicatedMessage short-circuits the loop immediately and is never
// aggregated with a fallback attempt, preserving idempotence.
func DecryptMessageWithRecord(record *SessionRecord, remote addr.ProtocolAddress, msg *wire.SignalMessage, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var tried []candidateLogInfo

	if record.CurrentState != nil {
		clone := record.CurrentState.Clone()
		plaintext, err := DecryptMessageWithState(clone, msg)
		switch {
		case err == nil:
			record.CurrentState = clone
			return plaintext, nil
		case rcerr.IsDuplicatedMessage(err):
			return nil, err
		default:
			tried = append(tried, logInfoForState(0, record.CurrentState, err))
		}
	}

	for idx, previous := range record.PreviousStates {
		clone := previous.Clone()
		plaintext, err := DecryptMessageWithState(clone, msg)
		switch {
		case err == nil:
			record.promote(idx, clone)
			return plaintext, nil
		case rcerr.IsDuplicatedMessage(err):
			return nil, err
		default:
			tried = append(tried, logInfoForState(idx+1, previous, err))
		}
	}

	logger.Error("session decryption failed against all candidate states",
		"remote_address", remote.String(),
		"sender_ratchet_key", hexPrefix(msg.SenderRatchetKey[:]),
		"counter", msg.Counter,
		"candidates", tried,
	)

	return nil, &rcerr.InvalidMessageError{Reason: "decryption failed"}
}
