package cryptoprim

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/synnergy/hostnode/internal/chainmodel"
)

func TestEncodeProofMessageLength(t *testing.T) {
	// P2: the bytes signed for a proof are exactly 116 bytes.
	var ph chainmodel.ProofHash
	var host chainmodel.Address
	var model chainmodel.ModelID
	msg := EncodeProofMessage(ph, host, 42, model)
	if len(msg) != 116 {
		t.Fatalf("expected 116 bytes, got %d", len(msg))
	}
}

func TestSignProofBindsModelID(t *testing.T) {
	// P1: signatures binding a different model_id must not verify.
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	host := chainmodel.Address(crypto.PubkeyToAddress(priv.PublicKey))
	var proofHash chainmodel.ProofHash
	rand.Read(proofHash[:])

	var modelA, modelB chainmodel.ModelID
	modelA[0] = 0xAA
	modelB[0] = 0xBB

	sigA, err := SignProof(priv, proofHash, host, 100, modelA)
	if err != nil {
		t.Fatal(err)
	}
	sigB, err := SignProof(priv, proofHash, host, 100, modelB)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(sigA[:], sigB[:]) {
		t.Fatal("signatures for distinct model ids must differ")
	}

	recovered, err := Recover(sigA, proofHash, host, 100, modelA)
	if err != nil {
		t.Fatal(err)
	}
	if recovered != host {
		t.Fatalf("recovered %s, want %s", recovered, host)
	}

	// Presenting (signature_a, model_b) must not recover the host address.
	mismatched, err := Recover(sigA, proofHash, host, 100, modelB)
	if err == nil && mismatched == host {
		t.Fatal("signature for model A must not verify against model B")
	}
}

func TestSignProofVNormalized(t *testing.T) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	host := chainmodel.Address(crypto.PubkeyToAddress(priv.PublicKey))
	var proofHash chainmodel.ProofHash
	var model chainmodel.ModelID
	sig, err := SignProof(priv, proofHash, host, 1, model)
	if err != nil {
		t.Fatal(err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("v must be 27 or 28, got %d", sig[64])
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	var key AEADKey
	rand.Read(key[:])
	nonce := make([]byte, NonceSize)
	rand.Read(nonce)
	aad := []byte("message_0")
	pt := []byte("hello session")

	ct, err := Seal(key, nonce, aad, pt)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Open(key, nonce, aad, ct)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("round trip mismatch: got %q want %q", got, pt)
	}
}

func TestOpenInvalidNonceSize(t *testing.T) {
	// P3: AEAD open with a nonce of size != 24 returns InvalidNonceSize
	// without attempting decryption.
	var key AEADKey
	badNonce := make([]byte, 12)
	_, err := Open(key, badNonce, nil, []byte("whatever"))
	if err == nil {
		t.Fatal("expected error for bad nonce size")
	}
}

func TestOpenAuthFailure(t *testing.T) {
	var key AEADKey
	rand.Read(key[:])
	nonce := make([]byte, NonceSize)
	rand.Read(nonce)
	ct, err := Seal(key, nonce, []byte("aad"), []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	ct[0] ^= 0xFF
	if _, err := Open(key, nonce, []byte("aad"), ct); err == nil {
		t.Fatal("expected auth failure on tampered ciphertext")
	}
}
