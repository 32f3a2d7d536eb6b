// Package types provides the consensus data model shared by the store, the
// validation pipeline and the retargeting math.
package types

import (
	"github.com/ardanlabs/fullnode/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common"
)

// ClassgroupElementSize is the serialized size of a class group element.
const ClassgroupElementSize = 100

// ClassgroupElement is a VDF input or output.
type ClassgroupElement struct {
	Data [ClassgroupElementSize]byte
}

// DefaultElement returns the identity element every VDF chain starts from
// at the beginning of a sub-slot.
func DefaultElement() ClassgroupElement {
	var e ClassgroupElement
	e.Data[0] = 0x08
	return e
}

// Hash returns the hash of the serialized element.
func (e ClassgroupElement) Hash() common.Hash {
	return signature.HashBytes(e.Data[:])
}

// =============================================================================

// VDFInfo describes what a VDF computed: the challenge it started from, how
// many iterations it ran, and its output.
type VDFInfo struct {
	Challenge          common.Hash
	NumberOfIterations uint64
	Output             ClassgroupElement
}

// WithIterations returns a copy of the info with a different iteration count.
func (vi VDFInfo) WithIterations(iters uint64) VDFInfo {
	vi.NumberOfIterations = iters
	return vi
}

// VDFProof is the witness for a VDFInfo. A normalized-to-identity proof
// proves the full VDF from the default element.
type VDFProof struct {
	WitnessType          uint8
	Witness              []byte
	NormalizedToIdentity bool
}
