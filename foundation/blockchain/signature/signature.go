// Package signature provides helper functions for handling the blockchain
// hashing and signature needs.
package signature

import (
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// ZeroHash represents a hash code of zeros.
var ZeroHash common.Hash

// Sizes of the serialized BLS12-381 elements.
const (
	G1Size = 48
	G2Size = 96
)

// G1Element is a serialized BLS public key.
type G1Element [G1Size]byte

// G2Element is a serialized BLS signature.
type G2Element [G2Size]byte

// Verifier represents the BLS signature scheme used by farmers and spends.
// The node never implements BLS itself.
type Verifier interface {
	Verify(pk G1Element, msg []byte, sig G2Element) bool
	AggregateVerify(pks []G1Element, msgs [][]byte, sig G2Element) bool
}

// =============================================================================

// Hash returns the sha256 of the canonical encoding of the value. Every
// consensus object is identified by this hash.
func Hash(value any) common.Hash {
	data, err := rlp.EncodeToBytes(value)
	if err != nil {
		return ZeroHash
	}

	return sha256.Sum256(data)
}

// HashBytes returns the sha256 of the concatenation of the byte slices.
func HashBytes(parts ...[]byte) common.Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}

	var hash common.Hash
	h.Sum(hash[:0])
	return hash
}
