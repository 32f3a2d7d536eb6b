package difficulty

import (
	"fmt"

	"github.com/ardanlabs/fullnode/foundation/blockchain/database"
	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/pot"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ethereum/go-ethereum/common"
)

// CalculateDeficit returns the deficit of a block at the height. prev is nil
// only for the genesis block.
func CalculateDeficit(c genesis.Constants, height uint32, prev *types.BlockRecord, overflow bool, numFinishedSubSlots int) uint8 {
	if height == 0 {
		return c.MinBlocksPerChallengeBlock - 1
	}

	switch prev.Deficit {
	case c.MinBlocksPerChallengeBlock:

		// The previous block was an overflow block. An overflow block in the
		// same sub-slot can't count towards the challenge block.
		if overflow && numFinishedSubSlots == 0 {
			return prev.Deficit
		}
		return prev.Deficit - 1

	case 0:
		switch {
		case numFinishedSubSlots == 0:
			return 0
		case numFinishedSubSlots == 1 && overflow:
			return c.MinBlocksPerChallengeBlock
		default:
			return c.MinBlocksPerChallengeBlock - 1
		}
	}

	return prev.Deficit - 1
}

// MakeSubEpochSummary builds the summary included by the block at
// includedHeight. prevPrev is that block's grandparent.
func MakeSubEpochSummary(c genesis.Constants, blocks database.Blockchain, includedHeight uint32, prevPrev *types.BlockRecord, newDifficulty *uint64, newSubSlotIters *uint64) (types.SubEpochSummary, error) {
	if prevPrev.Height+2 != includedHeight {
		return types.SubEpochSummary{}, fmt.Errorf("make ses: grandparent height %d for height %d", prevPrev.Height, includedHeight)
	}

	// The first sub-epoch has nothing to link to.
	if (includedHeight+c.MaxSubSlotBlocks)/c.SubEpochBlocks <= 1 {
		ses := types.SubEpochSummary{
			PrevSubepochSummaryHash: c.GenesisChallenge,
			RewardChainHash:         c.GenesisChallenge,
		}
		return ses, nil
	}

	curr := prevPrev
	maxDepth := c.EpochWalkDepth()
	for i := 0; curr.SubEpochSummaryIncluded == nil; i++ {
		if i >= maxDepth || curr.Height == 0 {
			return types.SubEpochSummary{}, fmt.Errorf("make ses from %d: %w", prevPrev.Height, ErrAncestorWalk)
		}

		var err error
		if curr, err = blocks.BlockRecord(curr.PrevHash); err != nil {
			return types.SubEpochSummary{}, fmt.Errorf("make ses: %w", err)
		}
	}

	if len(curr.FinishedRewardSlotHashes) == 0 {
		return types.SubEpochSummary{}, fmt.Errorf("make ses: block %s included a summary without finishing a slot", curr.HeaderHash)
	}

	ses := types.SubEpochSummary{
		PrevSubepochSummaryHash: curr.SubEpochSummaryIncluded.Hash(),
		RewardChainHash:         curr.FinishedRewardSlotHashes[len(curr.FinishedRewardSlotHashes)-1],
		NumBlocksOverflow:       uint8(curr.Height % c.SubEpochBlocks),
		NewDifficulty:           newDifficulty,
		NewSubSlotIters:         newSubSlotIters,
	}

	return ses, nil
}

// Candidate describes a block, finished or not, for which the next sub-epoch
// summary is computed.
type Candidate struct {
	PrevHash            common.Hash
	SignagePointIndex   uint8
	NumFinishedSubSlots int
	TotalIters          uint64
	RequiredIters       uint64
}

// NextSubEpochSummary returns the summary that must be included right after
// the candidate block, or nil when no sub-epoch can end there.
func NextSubEpochSummary(c genesis.Constants, blocks database.Blockchain, b Candidate) (*types.SubEpochSummary, error) {
	if !blocks.ContainsBlock(b.PrevHash) {
		return nil, nil
	}

	prev, err := blocks.BlockRecord(b.PrevHash)
	if err != nil {
		return nil, fmt.Errorf("next ses: %w", err)
	}

	overflow, err := pot.IsOverflowBlock(c, b.SignagePointIndex)
	if err != nil {
		return nil, fmt.Errorf("next ses: %w", err)
	}

	deficit := CalculateDeficit(c, prev.Height+1, prev, overflow, b.NumFinishedSubSlots)

	canFinishSE, canFinishEpoch, err := CanFinishSubAndFullEpoch(c, blocks, prev.Height+1, prev.HeaderHash, deficit, false)
	if err != nil {
		return nil, fmt.Errorf("next ses: %w", err)
	}
	if !canFinishSE {
		return nil, nil
	}

	var newDifficulty, newSubSlotIters *uint64
	if canFinishEpoch {
		spIters, err := pot.SPIters(c, prev.SubSlotIters, b.SignagePointIndex)
		if err != nil {
			return nil, fmt.Errorf("next ses: %w", err)
		}

		ipIters, err := pot.IPIters(c, prev.SubSlotIters, b.SignagePointIndex, b.RequiredIters)
		if err != nil {
			return nil, fmt.Errorf("next ses: %w", err)
		}

		spTotalIters := b.TotalIters - ipIters + spIters
		if overflow {
			spTotalIters -= prev.SubSlotIters
		}

		prevDifficulty := prev.Weight
		if prev.Height > 0 {
			parent, err := blocks.BlockRecord(prev.PrevHash)
			if err != nil {
				return nil, fmt.Errorf("next ses: %w", err)
			}
			prevDifficulty = prev.Weight - parent.Weight
		}

		r := Retarget{
			PrevHash:     b.PrevHash,
			Height:       prev.Height + 1,
			Current:      prevDifficulty,
			Deficit:      deficit,
			NewSlot:      true,
			SPTotalIters: spTotalIters,
		}

		diff, err := NextDifficulty(c, blocks, r)
		if err != nil {
			return nil, fmt.Errorf("next ses: %w", err)
		}

		r.Current = prev.SubSlotIters
		ssi, err := NextSubSlotIters(c, blocks, r)
		if err != nil {
			return nil, fmt.Errorf("next ses: %w", err)
		}

		newDifficulty, newSubSlotIters = &diff, &ssi
	}

	ses, err := MakeSubEpochSummary(c, blocks, prev.Height+2, prev, newDifficulty, newSubSlotIters)
	if err != nil {
		return nil, fmt.Errorf("next ses: %w", err)
	}

	return &ses, nil
}
