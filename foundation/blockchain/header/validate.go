package header

import (
	"time"

	"github.com/ardanlabs/fullnode/foundation/blockchain/database"
	"github.com/ardanlabs/fullnode/foundation/blockchain/difficulty"
	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/pos"
	"github.com/ardanlabs/fullnode/foundation/blockchain/pot"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ardanlabs/fullnode/foundation/blockchain/vdf"
	"github.com/ethereum/go-ethereum/common"
)

// Verifiers bundles the external proof checkers header validation relies on.
type Verifiers struct {
	VDF vdf.Verifier
	PoS pos.Verifier
}

// ValidateFinishedHeaderBlock checks a full block's header against the chain
// held by blocks, which must know the block's parent. It returns the required
// iterations of the block's proof of space. checkFilter also checks the
// transactions info commitment.
func ValidateFinishedHeaderBlock(c genesis.Constants, blocks database.Blockchain, fb *types.FullBlock, checkFilter bool, expectedDifficulty uint64, expectedSSI uint64, v Verifiers, now time.Time) (uint64, types.Err) {
	rcb := fb.RewardChainBlock
	genesisBlock := fb.Height() == 0

	// Ancestry.

	var prev *types.BlockRecord
	switch {
	case genesisBlock:
		if fb.PrevHeaderHash() != c.GenesisChallenge {
			return 0, types.ErrInvalidPrevBlockHash
		}

	default:
		var err error
		if prev, err = blocks.BlockRecord(fb.PrevHeaderHash()); err != nil {
			return 0, types.ErrInvalidPrevBlockHash
		}
		if prev.Height+1 != fb.Height() {
			return 0, types.ErrInvalidHeight
		}
	}

	// Finished sub-slots.

	if code := validateFinishedSubSlots(c, blocks, fb, prev, expectedDifficulty, expectedSSI, v.VDF); code != types.ErrNone {
		return 0, code
	}

	// Proof of space.

	overflow, err := pot.IsOverflowBlock(c, rcb.SignagePointIndex)
	if err != nil {
		return 0, types.ErrInvalidSPIndex
	}

	challenge, err := BlockChallenge(c, blocks, fb.PrevHeaderHash(), fb.FinishedSubSlots, genesisBlock, overflow, false)
	if err != nil {
		return 0, types.ErrInvalidPrevChallengeSlotHash
	}
	if rcb.PosSSCCChallengeHash != challenge {
		return 0, types.ErrInvalidCCChallenge
	}

	ccSPHash := challenge
	if rcb.SignagePointIndex > 0 {
		if rcb.ChallengeChainSPVDF == nil {
			return 0, types.ErrInvalidCCSPVDF
		}
		ccSPHash = rcb.ChallengeChainSPVDF.Output.Hash()
	}

	proof := rcb.ProofOfSpace
	if !pos.ValidSize(c, proof) {
		return 0, types.ErrInvalidPOSpace
	}

	quality, ok := v.PoS.VerifyAndGetQualityString(proof, c, challenge, ccSPHash)
	if !ok {
		return 0, types.ErrInvalidPOSpace
	}

	requiredIters := pot.IterationsQuality(c, quality, proof.Size, expectedDifficulty, ccSPHash)
	if requiredIters >= c.SPIntervalIters(expectedSSI) {
		return 0, types.ErrInvalidRequiredIters
	}

	// Signage point VDFs.

	spIters, err := pot.SPIters(c, expectedSSI, rcb.SignagePointIndex)
	if err != nil {
		return 0, types.ErrInvalidSPIndex
	}

	switch rcb.SignagePointIndex {
	case 0:
		if rcb.ChallengeChainSPVDF != nil || fb.ChallengeChainSPProof != nil {
			return 0, types.ErrInvalidCCSPVDF
		}
		if rcb.RewardChainSPVDF != nil || fb.RewardChainSPProof != nil {
			return 0, types.ErrInvalidRCSPVDF
		}

	default:
		cc := rcb.ChallengeChainSPVDF
		if fb.ChallengeChainSPProof == nil || cc.Challenge != challenge || cc.NumberOfIterations != spIters {
			return 0, types.ErrInvalidCCSPVDF
		}
		if !vdf.Validate(v.VDF, c, *fb.ChallengeChainSPProof, types.DefaultElement(), *cc, nil) {
			return 0, types.ErrInvalidCCSPVDF
		}

		rc := rcb.RewardChainSPVDF
		if rc == nil || fb.RewardChainSPProof == nil {
			return 0, types.ErrInvalidRCSPVDF
		}
		if !vdf.Validate(v.VDF, c, *fb.RewardChainSPProof, types.DefaultElement(), *rc, nil) {
			return 0, types.ErrInvalidRCSPVDF
		}
	}

	// Weight and iterations.

	expWeight := expectedDifficulty
	if prev != nil {
		expWeight += prev.Weight
	}
	if fb.Weight() != expWeight {
		return 0, types.ErrInvalidWeight
	}

	ipIters, err := pot.IPIters(c, expectedSSI, rcb.SignagePointIndex, requiredIters)
	if err != nil {
		return 0, types.ErrInvalidRequiredIters
	}

	n := uint64(len(fb.FinishedSubSlots))
	var slotStart uint64
	switch {
	case prev == nil:
		slotStart = expectedSSI * n
	case n > 0:
		slotStart = prev.IPSubSlotTotalIters(c) + prev.SubSlotIters + expectedSSI*(n-1)
	default:
		slotStart = prev.IPSubSlotTotalIters(c)
	}

	totalIters := slotStart + ipIters
	if fb.TotalIters() != totalIters {
		return 0, types.ErrInvalidTotalIters
	}
	if prev != nil && totalIters <= prev.TotalIters {
		return 0, types.ErrInvalidTotalIters
	}

	// Infusion point VDFs.

	ipChallenge, err := BlockChallenge(c, blocks, fb.PrevHeaderHash(), fb.FinishedSubSlots, genesisBlock, false, false)
	if err != nil {
		return 0, types.ErrInvalidPrevChallengeSlotHash
	}

	ccIP := rcb.ChallengeChainIPVDF
	if ccIP.Challenge != ipChallenge || ccIP.NumberOfIterations != ipIters {
		return 0, types.ErrInvalidCCIPVDF
	}
	if !vdf.Validate(v.VDF, c, fb.ChallengeChainIPProof, types.DefaultElement(), ccIP, nil) {
		return 0, types.ErrInvalidCCIPVDF
	}

	rcChallenge, rcIters := RewardChainStart(c, fb.FinishedSubSlots, prev, totalIters, ipIters)
	rcTarget := types.VDFInfo{Challenge: rcChallenge, NumberOfIterations: rcIters, Output: rcb.RewardChainIPVDF.Output}
	if !vdf.Validate(v.VDF, c, fb.RewardChainIPProof, types.DefaultElement(), rcb.RewardChainIPVDF, &rcTarget) {
		return 0, types.ErrInvalidRCIPVDF
	}

	deficit := difficulty.CalculateDeficit(c, fb.Height(), prev, overflow, len(fb.FinishedSubSlots))
	switch icc := rcb.InfusedChallengeChainIPVDF; {
	case icc == nil:
		if deficit < c.MinBlocksPerChallengeBlock-1 || fb.InfusedChallengeChainIPProof != nil {
			return 0, types.ErrInvalidICCVDF
		}

	default:
		if deficit >= c.MinBlocksPerChallengeBlock-1 || fb.InfusedChallengeChainIPProof == nil {
			return 0, types.ErrInvalidICCVDF
		}
		if !vdf.Validate(v.VDF, c, *fb.InfusedChallengeChainIPProof, types.DefaultElement(), *icc, nil) {
			return 0, types.ErrInvalidICCVDF
		}
	}

	// Foliage.

	unfinishedHash := rcb.Unfinished().Hash()
	if fb.Foliage.RewardBlockHash != unfinishedHash || fb.Foliage.FoliageBlockData.UnfinishedRewardBlockHash != unfinishedHash {
		return 0, types.ErrInvalidRewardBlockHash
	}

	isTx := fb.Foliage.FoliageTransactionBlockHash != nil
	if rcb.IsTransactionBlock != isTx {
		return 0, types.ErrInvalidIsTransactionBlock
	}
	if isTx != (fb.FoliageTransactionBlock != nil) {
		return 0, types.ErrInvalidFoliageBlockPresence
	}

	if !isTx {
		if fb.TransactionsInfo != nil || len(fb.TransactionsGenerator) > 0 {
			return 0, types.ErrInvalidFoliageBlockPresence
		}
		return requiredIters, types.ErrNone
	}

	ftb := fb.FoliageTransactionBlock
	if ftb.Hash() != *fb.Foliage.FoliageTransactionBlockHash {
		return 0, types.ErrInvalidFoliageBlockPresence
	}

	expPrevTx := c.GenesisChallenge
	var prevTx *types.BlockRecord
	if prev != nil {
		if prevTx, err = PrevTransactionBlock(c, blocks, prev); err != nil {
			return 0, types.ErrInvalidPrevBlockHash
		}
		if prevTx != nil {
			expPrevTx = prevTx.HeaderHash
		}
	}
	if ftb.PrevTransactionBlockHash != expPrevTx {
		return 0, types.ErrInvalidPrevBlockHash
	}

	if prevTx != nil && prevTx.Timestamp != nil && ftb.Timestamp <= *prevTx.Timestamp {
		return 0, types.ErrTimestampTooFarInPast
	}
	if ftb.Timestamp > uint64(now.Unix())+c.MaxFutureTime {
		return 0, types.ErrTimestampTooFarInFuture
	}

	if checkFilter {
		if fb.TransactionsInfo == nil || ftb.TransactionsInfoHash != fb.TransactionsInfo.Hash() {
			return 0, types.ErrInvalidTransactionsInfoHash
		}
	}

	return requiredIters, types.ErrNone
}

// validateFinishedSubSlots checks that the block's finished sub-slots chain
// from its parent and from each other.
func validateFinishedSubSlots(c genesis.Constants, blocks database.Blockchain, fb *types.FullBlock, prev *types.BlockRecord, expectedDifficulty uint64, expectedSSI uint64, v vdf.Verifier) types.Err {
	var last *types.EndOfSubSlotBundle
	for i := range fb.FinishedSubSlots {
		eos := &fb.FinishedSubSlots[i]

		var exp SlotExpectation
		switch {
		case i == 0 && prev != nil:
			ccChallenge, _, err := SlotChallenges(c, blocks, prev)
			if err != nil {
				return types.ErrInvalidPrevChallengeSlotHash
			}

			slotEnd := prev.IPSubSlotTotalIters(c) + prev.SubSlotIters
			if exp, err = ExpectAfterPeak(c, blocks, prev, ccChallenge, prev.SubSlotIters, slotEnd); err != nil {
				return types.ErrInvalidICCEOSVDF
			}

		default:
			exp = ExpectAfterSlot(c, last, expectedSSI)
		}

		if code := ValidateEndOfSlot(c, v, eos, exp); code != types.ErrNone {
			return code
		}

		cc := eos.ChallengeChain
		if cc.NewSubSlotIters != nil && *cc.NewSubSlotIters != expectedSSI {
			return types.ErrInvalidNewSubSlotIters
		}
		if cc.NewDifficulty != nil && *cc.NewDifficulty != expectedDifficulty {
			return types.ErrInvalidNewDifficulty
		}

		last = eos
	}

	return types.ErrNone
}

// RewardChainStart returns the challenge and the iterations of the reward
// chain VDF that ends at a block's infusion point. The reward chain restarts
// at every infusion and at every sub-slot boundary.
func RewardChainStart(c genesis.Constants, finished []types.EndOfSubSlotBundle, prev *types.BlockRecord, totalIters uint64, ipIters uint64) (common.Hash, uint64) {
	switch {
	case len(finished) > 0:
		return finished[len(finished)-1].RewardChain.Hash(), ipIters
	case prev == nil:
		return c.GenesisChallenge, ipIters
	default:
		return prev.RewardInfusionNewChallenge, totalIters - prev.TotalIters
	}
}
