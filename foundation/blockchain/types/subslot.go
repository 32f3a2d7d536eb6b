package types

import (
	"github.com/ardanlabs/fullnode/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common"
)

// ChallengeChainSubSlot is the challenge chain part of a finished sub-slot.
type ChallengeChainSubSlot struct {
	ChallengeChainEndOfSlotVDF       VDFInfo
	InfusedChallengeChainSubSlotHash *common.Hash
	SubepochSummaryHash              *common.Hash
	NewSubSlotIters                  *uint64
	NewDifficulty                    *uint64
}

// Hash identifies the sub-slot on the challenge chain.
func (cc ChallengeChainSubSlot) Hash() common.Hash {
	return signature.Hash(cc)
}

// InfusedChallengeChainSubSlot is the infused challenge chain part of a
// finished sub-slot.
type InfusedChallengeChainSubSlot struct {
	InfusedChallengeChainEndOfSlotVDF VDFInfo
}

// Hash identifies the sub-slot on the infused challenge chain.
func (icc InfusedChallengeChainSubSlot) Hash() common.Hash {
	return signature.Hash(icc)
}

// RewardChainSubSlot is the reward chain part of a finished sub-slot.
type RewardChainSubSlot struct {
	EndOfSlotVDF                     VDFInfo
	ChallengeChainSubSlotHash        common.Hash
	InfusedChallengeChainSubSlotHash *common.Hash
	Deficit                          uint8
}

// Hash identifies the sub-slot on the reward chain.
func (rc RewardChainSubSlot) Hash() common.Hash {
	return signature.Hash(rc)
}

// SubSlotProofs carries the proofs for the three end-of-slot VDFs.
type SubSlotProofs struct {
	ChallengeChainSlotProof        VDFProof
	InfusedChallengeChainSlotProof *VDFProof
	RewardChainSlotProof           VDFProof
}

// EndOfSubSlotBundle represents a completed sub-slot.
type EndOfSubSlotBundle struct {
	ChallengeChain        ChallengeChainSubSlot
	InfusedChallengeChain *InfusedChallengeChainSubSlot
	RewardChain           RewardChainSubSlot
	Proofs                SubSlotProofs
}

// Hash identifies the whole bundle, proofs included.
func (eos EndOfSubSlotBundle) Hash() common.Hash {
	return signature.Hash(eos)
}

// Equal reports whether both bundles carry the same content.
func (eos *EndOfSubSlotBundle) Equal(other *EndOfSubSlotBundle) bool {
	if eos == nil || other == nil {
		return eos == other
	}
	return eos.Hash() == other.Hash()
}

// =============================================================================

// SubEpochSummary is committed to the challenge chain at each sub-epoch
// boundary. NewDifficulty and NewSubSlotIters are set only at epoch
// boundaries.
type SubEpochSummary struct {
	PrevSubepochSummaryHash common.Hash
	RewardChainHash         common.Hash
	NumBlocksOverflow       uint8
	NewDifficulty           *uint64
	NewSubSlotIters         *uint64
}

// Hash identifies the summary.
func (ses SubEpochSummary) Hash() common.Hash {
	return signature.Hash(ses)
}

// =============================================================================

// SignagePoint is an intermediate VDF checkpoint inside a sub-slot. All four
// fields are set, or none is. The empty value stands for the start of a
// sub-slot.
type SignagePoint struct {
	CCVDF   *VDFInfo
	CCProof *VDFProof
	RCVDF   *VDFInfo
	RCProof *VDFProof
}

// IsEmpty reports whether this is the start-of-slot sentinel.
func (sp *SignagePoint) IsEmpty() bool {
	return sp.CCVDF == nil && sp.CCProof == nil && sp.RCVDF == nil && sp.RCProof == nil
}

// IsComplete reports whether all VDFs and proofs are present.
func (sp *SignagePoint) IsComplete() bool {
	return sp.CCVDF != nil && sp.CCProof != nil && sp.RCVDF != nil && sp.RCProof != nil
}

// NewInfusionPointVDF carries the VDFs a timelord produced at the infusion
// point of an unfinished block.
type NewInfusionPointVDF struct {
	UnfinishedRewardHash         common.Hash
	ChallengeChainIPVDF          VDFInfo
	ChallengeChainIPProof        VDFProof
	RewardChainIPVDF             VDFInfo
	RewardChainIPProof           VDFProof
	InfusedChallengeChainIPVDF   *VDFInfo
	InfusedChallengeChainIPProof *VDFProof
}
