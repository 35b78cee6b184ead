package ratchet

import (
	"bytes"
	"testing"
)

func TestChainKeyNextAdvancesIndex(t *testing.T) {
	var ck ChainKey
	ck.Index = 5
	copy(ck.Key[:], bytes.Repeat([]byte{0x42}, ChainKeyLen))

	next := ck.Next()

	if next.Index != 6 {
		t.Errorf("Next().Index = %d, want 6", next.Index)
	}
	if bytes.Equal(next.Key[:], ck.Key[:]) {
		t.Error("Next().Key should differ from the parent key")
	}
}

func TestChainKeyNextIsDeterministic(t *testing.T) {
	var ck ChainKey
	copy(ck.Key[:], bytes.Repeat([]byte{0x07}, ChainKeyLen))

	a := ck.Next()
	b := ck.Next()

	if a.Key != b.Key || a.Index != b.Index {
		t.Error("Next() must be a pure function of the chain key")
	}
}

func TestMessageKeysCounterMatchesIndex(t *testing.T) {
	var ck ChainKey
	ck.Index = 12
	copy(ck.Key[:], bytes.Repeat([]byte{0x01}, ChainKeyLen))

	mk := ck.MessageKeys()

	if mk.Counter != 12 {
		t.Errorf("MessageKeys().Counter = %d, want 12", mk.Counter)
	}
}

func TestMessageKeysDeterministicAndDistinctFromNext(t *testing.T) {
	var ck ChainKey
	copy(ck.Key[:], bytes.Repeat([]byte{0x09}, ChainKeyLen))

	mk1 := ck.MessageKeys()
	mk2 := ck.MessageKeys()
	if mk1 != mk2 {
		t.Error("MessageKeys() must be deterministic for a given chain key")
	}

	next := ck.Next()
	nextMK := next.MessageKeys()
	if mk1.CipherKey == nextMK.CipherKey {
		t.Error("message keys from successive chain steps must differ")
	}
}

func TestKDF_RKProducesDistinctRootAndChainKeys(t *testing.T) {
	var root RootKey
	copy(root[:], bytes.Repeat([]byte{0xAA}, RootKeyLen))
	dhOutput := bytes.Repeat([]byte{0xBB}, 32)

	newRoot, chain, err := KDF_RK(root, dhOutput)
	if err != nil {
		t.Fatalf("KDF_RK: %v", err)
	}
	if newRoot == root {
		t.Error("KDF_RK should not return the input root key unchanged")
	}
	if chain.Index != 0 {
		t.Errorf("fresh chain key Index = %d, want 0", chain.Index)
	}

	newRoot2, chain2, err := KDF_RK(root, dhOutput)
	if err != nil {
		t.Fatalf("KDF_RK: %v", err)
	}
	if newRoot != newRoot2 || chain.Key != chain2.Key {
		t.Error("KDF_RK must be a pure function of (root key, dh output)")
	}
}

func TestKDF_RKVariesWithDHOutput(t *testing.T) {
	var root RootKey
	copy(root[:], bytes.Repeat([]byte{0xAA}, RootKeyLen))

	_, chainA, err := KDF_RK(root, bytes.Repeat([]byte{0x01}, 32))
	if err != nil {
		t.Fatalf("KDF_RK: %v", err)
	}
	_, chainB, err := KDF_RK(root, bytes.Repeat([]byte{0x02}, 32))
	if err != nil {
		t.Fatalf("KDF_RK: %v", err)
	}
	if chainA.Key == chainB.Key {
		t.Error("different DH outputs must yield different chain keys")
	}
}

func TestDHIsCommutative(t *testing.T) {
	var alicePriv, bobPriv [32]byte
	copy(alicePriv[:], bytes.Repeat([]byte{0x11}, 32))
	copy(bobPriv[:], bytes.Repeat([]byte{0x22}, 32))

	alicePub := scalarBaseMult(t, alicePriv)
	bobPub := scalarBaseMult(t, bobPriv)

	secretA, err := DH(alicePriv, bobPub)
	if err != nil {
		t.Fatalf("DH: %v", err)
	}
	secretB, err := DH(bobPriv, alicePub)
	if err != nil {
		t.Fatalf("DH: %v", err)
	}
	if !bytes.Equal(secretA, secretB) {
		t.Error("DH(a_priv, b_pub) must equal DH(b_priv, a_pub)")
	}
}

func scalarBaseMult(t *testing.T, priv [32]byte) [32]byte {
	t.Helper()
	pub, err := DH(priv, basePoint())
	if err != nil {
		t.Fatalf("deriving public key: %v", err)
	}
	var out [32]byte
	copy(out[:], pub)
	return out
}

// basePoint returns the X25519 base point so scalarBaseMult can compute a
// public key using the same DH primitive under test.
func basePoint() [32]byte {
	var bp [32]byte
	bp[0] = 9
	return bp
}
