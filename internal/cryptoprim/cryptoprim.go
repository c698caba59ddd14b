// Package cryptoprim implements the node's cryptographic primitives: ECDH
// key agreement for session establishment, an extended-nonce AEAD for
// message confidentiality, and ECDSA/EIP-191 signing and recovery for
// checkpoint proofs and client-signature verification.
//
// The ECDSA half is grounded directly in the teacher's transaction signing
// pair (core/transactions.go's Sign/Verify), which already layers
// github.com/ethereum/go-ethereum/crypto's Sign/SigToPub/VerifySignature
// over a secp256k1 key — generalized here from "sign a transaction hash"
// to "sign a checkpoint proof commitment".
package cryptoprim

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/synnergy/hostnode/internal/chainmodel"
	"github.com/synnergy/hostnode/internal/errs"
)

// NonceSize is the extended nonce length the wire protocol mandates (spec
// §3.2, §6.1): 24 bytes, required for replay safety across many messages
// exchanged on one session.
const NonceSize = chacha20poly1305.NonceSizeX

// AEADKey is a 32-byte symmetric key installed per session.
type AEADKey [32]byte

// DeriveSharedKey performs ECDH over secp256k1 between our private key and
// the peer's compressed public key, then stretches the shared X coordinate
// through HKDF-SHA256 into a 32-byte AEAD key. Used both for the server's
// ephemeral key agreement at session init and for point-to-point VLM/bridge
// auth where applicable.
func DeriveSharedKey(theirPubCompressed []byte, ourPriv *ecdsa.PrivateKey) (AEADKey, error) {
	var key AEADKey
	theirPub, err := crypto.DecompressPubkey(theirPubCompressed)
	if err != nil {
		return key, errs.Wrap(errs.KindInvalidHexEncoding, err, "decompress peer public key")
	}
	sx, _ := theirPub.Curve.ScalarMult(theirPub.X, theirPub.Y, ourPriv.D.Bytes())
	shared := sx.Bytes()

	h := hkdf.New(sha256.New, shared, nil, []byte("synnergy-hostnode-session-key"))
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return key, errs.Wrap(errs.KindInternalError, err, "hkdf expand")
	}
	return key, nil
}

// GenerateEphemeralKeypair creates a fresh secp256k1 keypair for one
// session's server-side ECDH leg, returning its compressed public key
// alongside the private key DeriveSharedKey needs.
func GenerateEphemeralKeypair() (*ecdsa.PrivateKey, []byte, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindInternalError, err, "generate ephemeral keypair")
	}
	return priv, crypto.CompressPubkey(&priv.PublicKey), nil
}

// AddressFromCompressedPubkey derives the address a compressed secp256k1
// public key corresponds to — used to bind a client's session identity to
// its init-time ephemeral key (spec §6.1: "recovered address MUST equal
// session.user_address derived at init time (from eph_pub via address
// derivation)").
func AddressFromCompressedPubkey(compressed []byte) (chainmodel.Address, error) {
	var addr chainmodel.Address
	pub, err := crypto.DecompressPubkey(compressed)
	if err != nil {
		return addr, errs.Wrap(errs.KindInvalidHexEncoding, err, "decompress ephemeral public key")
	}
	copy(addr[:], crypto.PubkeyToAddress(*pub).Bytes())
	return addr, nil
}

// Seal encrypts plaintext under key/nonce/aad using XChaCha20-Poly1305,
// the extended-nonce AEAD the 24-byte wire nonce requires.
func Seal(key AEADKey, nonce, aad, plaintext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, errs.New(errs.KindInvalidNonceSize, fmt.Sprintf("nonce must be %d bytes, got %d", NonceSize, len(nonce)))
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errs.Wrap(errs.KindInternalError, err, "construct aead")
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts ciphertext. It returns InvalidNonceSize
// without attempting decryption when the nonce is the wrong length (P3),
// and AeadAuthFailed on tag mismatch — callers must not leak ciphertext or
// plaintext details from this error (spec §4.10.6).
func Open(key AEADKey, nonce, aad, ciphertext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, errs.New(errs.KindInvalidNonceSize, fmt.Sprintf("nonce must be %d bytes, got %d", NonceSize, len(nonce)))
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errs.Wrap(errs.KindInternalError, err, "construct aead")
	}
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, errs.New(errs.KindAeadAuthFailed, "authentication tag mismatch")
	}
	return pt, nil
}

// EncodeProofMessage lays out the exact 116-byte buffer signed for a
// checkpoint proof: proof_hash(32) || host_address(20) ||
// tokens_claimed as a big-endian uint256(32) || model_id(32). This layout
// is invariant P2 and MUST NOT change without breaking every deployed
// verifier.
func EncodeProofMessage(proofHash chainmodel.ProofHash, host chainmodel.Address, tokensClaimed uint64, modelID chainmodel.ModelID) []byte {
	buf := make([]byte, 0, 116)
	buf = append(buf, proofHash[:]...)
	buf = append(buf, host[:]...)
	var tok [32]byte
	putUint256(&tok, tokensClaimed)
	buf = append(buf, tok[:]...)
	buf = append(buf, modelID[:]...)
	return buf
}

// SignProof signs proof message with the EIP-191 personal-message prefix,
// returning a 65-byte {R||S||V} signature with V normalized to 27/28 (spec
// §3.4, §4.1). Because model_id is part of the signed payload, a signature
// produced for one model_id is never valid for another (P1): the verifier
// in Recover has no way to drop it from the digest.
func SignProof(priv *ecdsa.PrivateKey, proofHash chainmodel.ProofHash, host chainmodel.Address, tokensClaimed uint64, modelID chainmodel.ModelID) ([65]byte, error) {
	var sig [65]byte
	msg := EncodeProofMessage(proofHash, host, tokensClaimed, modelID)
	digest := eip191Digest(msg)
	raw, err := crypto.Sign(digest, priv)
	if err != nil {
		return sig, errs.Wrap(errs.KindInternalError, err, "sign proof")
	}
	copy(sig[:], raw)
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// Recover recovers the signing address from a signature over the same
// EIP-191-prefixed proof message layout SignProof uses. Intended for
// diagnostics and test verification (spec §4.1); production verification of
// checkpoint proofs happens on-chain.
func Recover(sig [65]byte, proofHash chainmodel.ProofHash, host chainmodel.Address, tokensClaimed uint64, modelID chainmodel.ModelID) (chainmodel.Address, error) {
	msg := EncodeProofMessage(proofHash, host, tokensClaimed, modelID)
	digest := eip191Digest(msg)
	return recoverFromDigest(sig, digest)
}

// RecoverDigest recovers the signing address from an arbitrary pre-hashed
// EIP-191 digest and raw signature, used to verify the client-signature
// field on encrypted_message / encrypted_session_init (spec §6.1): the
// signature domain there is keccak256(EIP-191 prefix || sha256(ciphertext)).
func RecoverDigest(sig [65]byte, digest []byte) (chainmodel.Address, error) {
	return recoverFromDigest(sig, digest)
}

func recoverFromDigest(sig [65]byte, digest []byte) (chainmodel.Address, error) {
	var addr chainmodel.Address
	s := make([]byte, 65)
	copy(s, sig[:])
	if s[64] >= 27 {
		s[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, s)
	if err != nil {
		return addr, errs.New(errs.KindInvalidSignature, "recover public key")
	}
	copy(addr[:], crypto.PubkeyToAddress(*pub).Bytes())
	return addr, nil
}

// EncodeRegistrationMessage lays out the buffer signed for a host
// registration/heartbeat announcement: host_address(20) ||
// concat(model_id...) || min_price_native as a big-endian uint256(32) ||
// min_price_stable as a big-endian uint256(32). Unlike the proof layout
// (§3.4, fixed at 116 bytes) this one is variable-length in the model id
// count, since a host may support any number of models.
func EncodeRegistrationMessage(host chainmodel.Address, modelIDs []chainmodel.ModelID, minNative, minStable uint64) []byte {
	buf := make([]byte, 0, 20+32*len(modelIDs)+64)
	buf = append(buf, host[:]...)
	for _, m := range modelIDs {
		buf = append(buf, m[:]...)
	}
	var native, stable [32]byte
	putUint256(&native, minNative)
	putUint256(&stable, minStable)
	buf = append(buf, native[:]...)
	buf = append(buf, stable[:]...)
	return buf
}

// SignRegistration signs a host registration announcement with the same
// EIP-191 personal-message convention SignProof uses, so ContractGateway's
// RegisterHost has a signature to forward on-chain (spec §3.5, §4.11).
func SignRegistration(priv *ecdsa.PrivateKey, host chainmodel.Address, modelIDs []chainmodel.ModelID, minNative, minStable uint64) ([65]byte, error) {
	var sig [65]byte
	msg := EncodeRegistrationMessage(host, modelIDs, minNative, minStable)
	digest := eip191Digest(msg)
	raw, err := crypto.Sign(digest, priv)
	if err != nil {
		return sig, errs.Wrap(errs.KindInternalError, err, "sign registration")
	}
	copy(sig[:], raw)
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// eip191Digest hashes msg under the "\x19Ethereum Signed Message:\n<len>"
// prefix go-ethereum's accounts package uses, matching spec §6.1's signature
// domain exactly.
func eip191Digest(msg []byte) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return crypto.Keccak256([]byte(prefixed), msg)
}

func putUint256(dst *[32]byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[31-i] = byte(v >> (8 * i))
	}
}
