// Package simulator builds consistent chains of blocks without running a
// timelord or a harvester. Proofs are stand-ins accepted by the verifiers this
// package provides, so everything the consensus rules compare is real while
// nothing expensive is computed.
package simulator

import (
	"bytes"

	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/signature"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ethereum/go-ethereum/common"
)

// VDF accepts any proof that carries a witness. Clearing the witness of a
// proof is how callers forge an invalid one.
type VDF struct{}

// Verify implements the vdf.Verifier interface.
func (VDF) Verify(input types.ClassgroupElement, info types.VDFInfo, proof types.VDFProof) bool {
	return len(proof.Witness) > 0
}

// Proof returns a proof the VDF verifier accepts.
func Proof() types.VDFProof {
	return types.VDFProof{Witness: []byte{0x01}}
}

// Element derives a distinct class group element from the parts.
func Element(parts ...[]byte) types.ClassgroupElement {
	h := signature.HashBytes(parts...)

	var e types.ClassgroupElement
	e.Data[0] = 0x02
	copy(e.Data[1:], h[:])
	return e
}

// =============================================================================

// PoS accepts a proof of space whose proof bytes commit to the challenge,
// the signage point and the plot key.
type PoS struct{}

// VerifyAndGetQualityString implements the pos.Verifier interface.
func (PoS) VerifyAndGetQualityString(proof types.ProofOfSpace, c genesis.Constants, challenge common.Hash, spHash common.Hash) (common.Hash, bool) {
	want := Commit(challenge, spHash, proof.PlotPublicKey)
	if !bytes.Equal(proof.Proof, want.Bytes()) {
		return common.Hash{}, false
	}

	return signature.HashBytes(proof.Proof), true
}

// Commit returns the proof bytes the PoS verifier expects.
func Commit(challenge common.Hash, spHash common.Hash, plotKey signature.G1Element) common.Hash {
	return signature.HashBytes(challenge.Bytes(), spHash.Bytes(), plotKey[:])
}

// =============================================================================

// BLS verifies stand-in signatures produced by Sign and Aggregate.
type BLS struct{}

// Verify implements the signature.Verifier interface.
func (BLS) Verify(pk signature.G1Element, msg []byte, sig signature.G2Element) bool {
	return Sign(pk, msg) == sig
}

// AggregateVerify implements the signature.Verifier interface.
func (BLS) AggregateVerify(pks []signature.G1Element, msgs [][]byte, sig signature.G2Element) bool {
	if len(pks) != len(msgs) {
		return false
	}

	return Aggregate(pks, msgs) == sig
}

// Sign returns the stand-in signature of msg by pk.
func Sign(pk signature.G1Element, msg []byte) signature.G2Element {
	h := signature.HashBytes(pk[:], msg)

	var sig signature.G2Element
	copy(sig[:], h[:])
	return sig
}

// Aggregate returns the stand-in aggregate signature over the pairs. An
// empty set aggregates to the zero signature.
func Aggregate(pks []signature.G1Element, msgs [][]byte) signature.G2Element {
	var sig signature.G2Element
	if len(pks) == 0 {
		return sig
	}

	parts := make([][]byte, 0, 2*len(pks))
	for i := range pks {
		parts = append(parts, pks[i][:], msgs[i])
	}

	h := signature.HashBytes(parts...)
	copy(sig[:], h[:])
	return sig
}
