// Package chainmodel defines the small set of wire-level types shared across
// the host node: addresses, model identifiers and proof hashes. Keeping them
// here avoids the import cycles a richer "common" package would invite
// between cryptoprim, contractgw, session and billing.
package chainmodel

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 20-byte EVM account address, the same layout the chain's
// contracts use for host and user accounts.
type Address [20]byte

// ZeroAddress is the conventional "absent" address.
var ZeroAddress = Address{}

// ParseAddress decodes a "0x"-prefixed or bare hex string into an Address.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("chainmodel: invalid address hex: %w", err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("chainmodel: address must be %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Hex renders the address as a lowercase "0x"-prefixed string.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string { return a.Hex() }

// Equal performs a case-insensitive comparison, matching the owner-check
// semantics the vector manifest verification relies on (manifests encode
// addresses as arbitrary-case hex).
func (a Address) Equal(b Address) bool { return a == b }

// ModelID is the 32-byte on-chain model identifier. The zero value denotes a
// "non-model" session per the proof-binding invariant.
type ModelID [32]byte

// IsZero reports whether this is the non-model sentinel.
func (m ModelID) IsZero() bool { return m == ModelID{} }

func (m ModelID) Hex() string { return "0x" + hex.EncodeToString(m[:]) }

// ParseModelID decodes a hex bytes32 value, tolerating a leading "0x".
func ParseModelID(s string) (ModelID, error) {
	var m ModelID
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return m, fmt.Errorf("chainmodel: invalid model id hex: %w", err)
	}
	if len(b) != len(m) {
		return m, fmt.Errorf("chainmodel: model id must be %d bytes, got %d", len(m), len(b))
	}
	copy(m[:], b)
	return m, nil
}

// ProofHash is the 32-byte commitment over (job_id, model_hash, input_hash,
// output_hash) signed by CheckpointManager.
type ProofHash [32]byte

func (p ProofHash) Hex() string { return "0x" + hex.EncodeToString(p[:]) }
