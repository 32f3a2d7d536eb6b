package header

import (
	"fmt"

	"github.com/ardanlabs/fullnode/foundation/blockchain/database"
	"github.com/ardanlabs/fullnode/foundation/blockchain/difficulty"
	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ardanlabs/fullnode/foundation/blockchain/vdf"
	"github.com/ethereum/go-ethereum/common"
)

// SlotExpectation describes the end of sub-slot that can extend what the node
// already has. Iters is the part of the sub-slot the proofs cover, which is
// less than SubSlotIters when a block was infused in the sub-slot.
type SlotExpectation struct {
	CCChallenge  common.Hash
	RCChallenge  common.Hash
	ICCChallenge *common.Hash
	SubSlotIters uint64
	Iters        uint64
	ICCIters     uint64
	CCStart      types.ClassgroupElement
	ICCStart     types.ClassgroupElement
	Deficit      uint8
}

// ExpectAfterPeak returns the expectation for the end of the sub-slot the peak
// was infused in. ccChallenge is that sub-slot's challenge and slotEnd the
// total iterations at its end.
func ExpectAfterPeak(c genesis.Constants, blocks database.Blockchain, peak *types.BlockRecord, ccChallenge common.Hash, subSlotIters uint64, slotEnd uint64) (SlotExpectation, error) {
	if slotEnd < peak.TotalIters {
		return SlotExpectation{}, fmt.Errorf("expect after peak: slot ends at %d before peak at %d", slotEnd, peak.TotalIters)
	}

	exp := SlotExpectation{
		CCChallenge:  ccChallenge,
		RCChallenge:  peak.RewardInfusionNewChallenge,
		SubSlotIters: subSlotIters,
		Iters:        slotEnd - peak.TotalIters,
		CCStart:      peak.ChallengeVDFOutput,
		ICCStart:     types.DefaultElement(),
		Deficit:      peak.Deficit,
	}

	if peak.Deficit == 0 {
		exp.Deficit = c.MinBlocksPerChallengeBlock
	}

	if peak.Deficit >= c.MinBlocksPerChallengeBlock {
		return exp, nil
	}

	if peak.Deficit < c.MinBlocksPerChallengeBlock-1 && peak.InfusedChallengeVDFOutput != nil {
		exp.ICCStart = *peak.InfusedChallengeVDFOutput
	}

	curr := peak
	maxDepth := c.SlotWalkDepth()
	for i := 0; !curr.FirstInSubSlot() && !curr.IsChallengeBlock(c); i++ {
		if i >= maxDepth {
			return SlotExpectation{}, fmt.Errorf("expect after peak %s: %w", peak.HeaderHash, difficulty.ErrAncestorWalk)
		}

		var err error
		if curr, err = blocks.BlockRecord(curr.PrevHash); err != nil {
			return SlotExpectation{}, fmt.Errorf("expect after peak: %w", err)
		}
	}

	var challenge common.Hash
	switch {
	case curr.IsChallengeBlock(c):
		challenge = curr.ChallengeBlockInfoHash
		exp.ICCIters = slotEnd - curr.TotalIters

	default:
		hashes := curr.FinishedInfusedChallengeSlotHashes
		if len(hashes) == 0 {
			return SlotExpectation{}, fmt.Errorf("expect after peak: block %s carries no infused challenge slot", curr.HeaderHash)
		}
		challenge = hashes[len(hashes)-1]
		exp.ICCIters = subSlotIters
	}
	exp.ICCChallenge = &challenge

	return exp, nil
}

// ExpectAfterSlot returns the expectation for an empty sub-slot following
// last. A nil last stands for the start of the chain.
func ExpectAfterSlot(c genesis.Constants, last *types.EndOfSubSlotBundle, subSlotIters uint64) SlotExpectation {
	exp := SlotExpectation{
		CCChallenge:  c.GenesisChallenge,
		RCChallenge:  c.GenesisChallenge,
		SubSlotIters: subSlotIters,
		Iters:        subSlotIters,
		ICCIters:     subSlotIters,
		CCStart:      types.DefaultElement(),
		ICCStart:     types.DefaultElement(),
		Deficit:      c.MinBlocksPerChallengeBlock,
	}

	if last == nil {
		return exp
	}

	exp.CCChallenge = last.ChallengeChain.Hash()
	exp.RCChallenge = last.RewardChain.Hash()
	exp.Deficit = last.RewardChain.Deficit

	if last.InfusedChallengeChain != nil && last.RewardChain.Deficit < c.MinBlocksPerChallengeBlock {
		challenge := last.InfusedChallengeChain.Hash()
		exp.ICCChallenge = &challenge
	}

	return exp
}

// ValidateEndOfSlot checks the bundle against the expectation and verifies its
// proofs.
func ValidateEndOfSlot(c genesis.Constants, v vdf.Verifier, eos *types.EndOfSubSlotBundle, exp SlotExpectation) types.Err {
	ccInfo := eos.ChallengeChain.ChallengeChainEndOfSlotVDF
	if ccInfo.Challenge != exp.CCChallenge {
		return types.ErrInvalidPrevChallengeSlotHash
	}
	if ccInfo.NumberOfIterations != exp.SubSlotIters {
		return types.ErrInvalidCCEOSVDF
	}

	partial := types.VDFInfo{Challenge: exp.CCChallenge, NumberOfIterations: exp.Iters}
	if !vdf.ValidatePartial(v, c, eos.Proofs.ChallengeChainSlotProof, exp.CCStart, partial, ccInfo) {
		return types.ErrInvalidCCEOSVDF
	}

	rcInfo := eos.RewardChain.EndOfSlotVDF
	rcTarget := types.VDFInfo{Challenge: exp.RCChallenge, NumberOfIterations: exp.Iters, Output: rcInfo.Output}
	if !vdf.Validate(v, c, eos.Proofs.RewardChainSlotProof, types.DefaultElement(), rcInfo, &rcTarget) {
		return types.ErrInvalidRCEOSVDF
	}
	if eos.RewardChain.ChallengeChainSubSlotHash != eos.ChallengeChain.Hash() {
		return types.ErrInvalidRCEOSVDF
	}

	if eos.RewardChain.Deficit != exp.Deficit {
		return types.ErrInvalidDeficit
	}

	if exp.ICCChallenge == nil {
		if eos.InfusedChallengeChain != nil || eos.Proofs.InfusedChallengeChainSlotProof != nil {
			return types.ErrInvalidICCEOSVDF
		}
		if eos.RewardChain.InfusedChallengeChainSubSlotHash != nil || eos.ChallengeChain.InfusedChallengeChainSubSlotHash != nil {
			return types.ErrInvalidICCEOSVDF
		}
		return types.ErrNone
	}

	if eos.InfusedChallengeChain == nil || eos.Proofs.InfusedChallengeChainSlotProof == nil {
		return types.ErrInvalidICCEOSVDF
	}

	iccInfo := eos.InfusedChallengeChain.InfusedChallengeChainEndOfSlotVDF
	if iccInfo.Challenge != *exp.ICCChallenge || iccInfo.NumberOfIterations != exp.ICCIters {
		return types.ErrInvalidICCEOSVDF
	}

	partial = types.VDFInfo{Challenge: *exp.ICCChallenge, NumberOfIterations: exp.Iters}
	if !vdf.ValidatePartial(v, c, *eos.Proofs.InfusedChallengeChainSlotProof, exp.ICCStart, partial, iccInfo) {
		return types.ErrInvalidICCEOSVDF
	}

	iccHash := eos.InfusedChallengeChain.Hash()
	if h := eos.RewardChain.InfusedChallengeChainSubSlotHash; h == nil || *h != iccHash {
		return types.ErrInvalidICCEOSVDF
	}

	// The challenge chain absorbs the infused challenge chain when the
	// deficit resets.
	h := eos.ChallengeChain.InfusedChallengeChainSubSlotHash
	switch {
	case exp.Deficit == c.MinBlocksPerChallengeBlock:
		if h == nil || *h != iccHash {
			return types.ErrInvalidICCEOSVDF
		}
	case h != nil:
		return types.ErrInvalidICCEOSVDF
	}

	return types.ErrNone
}

// =============================================================================

// SignagePointExpectation describes the VDFs a signage point must prove. CC
// and RC carry the iterations the proofs cover, Delta the iterations from the
// start of the sub-slot that the challenge chain VDF declares.
type SignagePointExpectation struct {
	CC      types.VDFInfo
	RC      types.VDFInfo
	Delta   uint64
	CCStart types.ClassgroupElement
}

// ExpectSignagePoint returns what the signage point at index of a tracked
// sub-slot must prove. The sub-slot starts at slotStart with the given
// challenge hashes. A future sub-slot starts after the peak, so its proofs
// run from the start of the sub-slot. The peak may be nil.
func ExpectSignagePoint(c genesis.Constants, blocks database.Blockchain, peak *types.BlockRecord, slotCC common.Hash, slotRC common.Hash, slotStart uint64, subSlotIters uint64, future bool, index uint8) (SignagePointExpectation, error) {
	delta := c.SPIntervalIters(subSlotIters) * uint64(index)
	spTotalIters := slotStart + delta

	exp := SignagePointExpectation{
		CC:      types.VDFInfo{Challenge: slotCC, NumberOfIterations: delta},
		RC:      types.VDFInfo{Challenge: slotRC, NumberOfIterations: delta},
		Delta:   delta,
		CCStart: types.DefaultElement(),
	}

	if peak == nil || future {
		return exp, nil
	}

	// Find the last block infused in the sub-slot before the signage point.
	curr := peak
	maxDepth := c.SlotWalkDepth()
	for i := 0; curr.TotalIters > spTotalIters; i++ {
		if curr.FirstInSubSlot() {
			return exp, nil
		}
		if i >= maxDepth {
			return SignagePointExpectation{}, fmt.Errorf("expect signage point from %s: %w", peak.HeaderHash, difficulty.ErrAncestorWalk)
		}

		var err error
		if curr, err = blocks.BlockRecord(curr.PrevHash); err != nil {
			return SignagePointExpectation{}, fmt.Errorf("expect signage point: %w", err)
		}
	}

	if curr.TotalIters <= slotStart {
		return exp, nil
	}

	iters := spTotalIters - curr.TotalIters
	exp.CC.NumberOfIterations = iters
	exp.RC = types.VDFInfo{Challenge: curr.RewardInfusionNewChallenge, NumberOfIterations: iters}
	exp.CCStart = curr.ChallengeVDFOutput

	return exp, nil
}

// SummaryAfterPeak returns the sub-epoch summary the end of the peak's
// sub-slot must commit to, or nil when no sub-epoch ends there.
func SummaryAfterPeak(c genesis.Constants, blocks database.Blockchain, peak *types.BlockRecord) (*types.SubEpochSummary, error) {
	canFinish, _, err := difficulty.CanFinishSubAndFullEpoch(c, blocks, peak.Height, peak.PrevHash, peak.Deficit, peak.SubEpochSummaryIncluded != nil)
	if err != nil {
		return nil, fmt.Errorf("summary after peak: %w", err)
	}
	if !canFinish {
		return nil, nil
	}

	var numFinished int
	if peak.Height > 0 {
		numFinished = len(peak.FinishedChallengeSlotHashes)
	}

	candidate := difficulty.Candidate{
		PrevHash:            peak.PrevHash,
		SignagePointIndex:   peak.SignagePointIndex,
		NumFinishedSubSlots: numFinished,
		TotalIters:          peak.TotalIters,
		RequiredIters:       peak.RequiredIters,
	}

	return difficulty.NextSubEpochSummary(c, blocks, candidate)
}
