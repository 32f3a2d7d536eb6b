// Package pos defines the proof of space verification contract.
package pos

import (
	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ethereum/go-ethereum/common"
)

// Verifier represents the external proof of space verifier. It returns the
// quality string of a valid proof for the challenge and signage point.
type Verifier interface {
	VerifyAndGetQualityString(proof types.ProofOfSpace, c genesis.Constants, challenge common.Hash, spHash common.Hash) (common.Hash, bool)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(proof types.ProofOfSpace, c genesis.Constants, challenge common.Hash, spHash common.Hash) (common.Hash, bool)

// VerifyAndGetQualityString calls f(proof, c, challenge, spHash).
func (f VerifierFunc) VerifyAndGetQualityString(proof types.ProofOfSpace, c genesis.Constants, challenge common.Hash, spHash common.Hash) (common.Hash, bool) {
	return f(proof, c, challenge, spHash)
}

// ValidSize reports whether the plot size is accepted by the network.
func ValidSize(c genesis.Constants, proof types.ProofOfSpace) bool {
	return proof.Size >= c.MinPlotSize && proof.Size <= c.MaxPlotSize
}
