// Package vdf validates verifiable delay function proofs through an external
// verifier.
package vdf

import (
	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
)

// Verifier represents the class group VDF verification primitive. The node
// never evaluates a VDF itself.
type Verifier interface {
	Verify(input types.ClassgroupElement, info types.VDFInfo, proof types.VDFProof) bool
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(input types.ClassgroupElement, info types.VDFInfo, proof types.VDFProof) bool

// Verify calls f(input, info, proof).
func (f VerifierFunc) Verify(input types.ClassgroupElement, info types.VDFInfo, proof types.VDFProof) bool {
	return f(input, info, proof)
}

// Validate checks the proof for info starting from input. When target is
// provided the info being proven must match it exactly.
func Validate(v Verifier, c genesis.Constants, proof types.VDFProof, input types.ClassgroupElement, info types.VDFInfo, target *types.VDFInfo) bool {
	if int(proof.WitnessType)+1 > int(c.MaxVDFWitnessSize) {
		return false
	}

	if target != nil && info != *target {
		return false
	}

	return v.Verify(input, info, proof)
}

// ValidatePartial checks a proof that covers only part of a VDF. A normalized
// proof covers the full VDF from the default element, otherwise the partial
// info is proven from input and its output must match the full VDF's.
func ValidatePartial(v Verifier, c genesis.Constants, proof types.VDFProof, input types.ClassgroupElement, partial types.VDFInfo, full types.VDFInfo) bool {
	if proof.NormalizedToIdentity {
		return Validate(v, c, proof, types.DefaultElement(), full, nil)
	}

	partial.Output = full.Output
	return Validate(v, c, proof, input, partial, nil)
}
