package header

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/fullnode/foundation/blockchain/database"
	"github.com/ardanlabs/fullnode/foundation/blockchain/difficulty"
	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/pot"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ethereum/go-ethereum/common"
)

// BlockToBlockRecord builds the record of a block whose parent is known to
// blocks. A nil subSlotIters is recomputed from the parent. A sub-epoch
// summary committed by the block that differs from the one the chain
// dictates fails with types.ErrInvalidSubEpochSummary.
func BlockToBlockRecord(c genesis.Constants, blocks database.Blockchain, requiredIters uint64, fb *types.FullBlock, subSlotIters *uint64) (*types.BlockRecord, error) {
	var prev *types.BlockRecord
	if fb.Height() > 0 {
		var err error
		if prev, err = blocks.BlockRecord(fb.PrevHeaderHash()); err != nil {
			return nil, fmt.Errorf("block record: %w", err)
		}
	}

	var ssi uint64
	switch subSlotIters {
	case nil:
		var err error
		if ssi, _, err = difficulty.NextSubSlotItersAndDifficulty(c, blocks, len(fb.FinishedSubSlots) > 0, prev); err != nil {
			return nil, fmt.Errorf("block record: %w", err)
		}
	default:
		ssi = *subSlotIters
	}

	overflow, err := pot.IsOverflowBlock(c, fb.RewardChainBlock.SignagePointIndex)
	if err != nil {
		return nil, fmt.Errorf("block record: %w", err)
	}

	deficit := difficulty.CalculateDeficit(c, fb.Height(), prev, overflow, len(fb.FinishedSubSlots))

	var foundSES *common.Hash
	for _, eos := range fb.FinishedSubSlots {
		if h := eos.ChallengeChain.SubepochSummaryHash; h != nil {
			foundSES = h
		}
	}

	var ses *types.SubEpochSummary
	if foundSES != nil {
		if prev == nil {
			return nil, fmt.Errorf("block record: genesis block commits to a summary: %w", types.ErrInvalidSubEpochSummary)
		}

		prevPrev, err := blocks.BlockRecord(prev.PrevHash)
		if err != nil {
			return nil, fmt.Errorf("block record: %w", err)
		}

		first := fb.FinishedSubSlots[0].ChallengeChain
		made, err := difficulty.MakeSubEpochSummary(c, blocks, fb.Height(), prevPrev, first.NewDifficulty, first.NewSubSlotIters)
		if err != nil {
			return nil, fmt.Errorf("block record: %w", err)
		}

		if made.Hash() != *foundSES {
			return nil, fmt.Errorf("block record: summary %s, expected %s: %w", *foundSES, made.Hash(), types.ErrInvalidSubEpochSummary)
		}
		ses = &made
	}

	var prevTxHeight uint32
	if prev != nil {
		prevTx, err := PrevTransactionBlock(c, blocks, prev)
		if err != nil && !errors.Is(err, difficulty.ErrAncestorWalk) {
			return nil, fmt.Errorf("block record: %w", err)
		}
		if prevTx != nil {
			prevTxHeight = prevTx.Height
		}
	}

	return makeRecord(c, requiredIters, fb, ssi, overflow, deficit, prevTxHeight, ses), nil
}

// makeRecord copies what the consensus rules need out of the block.
func makeRecord(c genesis.Constants, requiredIters uint64, fb *types.FullBlock, ssi uint64, overflow bool, deficit uint8, prevTxHeight uint32, ses *types.SubEpochSummary) *types.BlockRecord {
	rcb := fb.RewardChainBlock

	cbi := types.ChallengeBlockInfo{
		ProofOfSpace:              rcb.ProofOfSpace,
		ChallengeChainSPVDF:       rcb.ChallengeChainSPVDF,
		ChallengeChainSPSignature: rcb.ChallengeChainSPSignature,
		ChallengeChainIPVDF:       rcb.ChallengeChainIPVDF,
	}

	br := types.BlockRecord{
		HeaderHash:                 fb.HeaderHash(),
		PrevHash:                   fb.PrevHeaderHash(),
		Height:                     fb.Height(),
		Weight:                     fb.Weight(),
		TotalIters:                 fb.TotalIters(),
		SignagePointIndex:          rcb.SignagePointIndex,
		ChallengeVDFOutput:         rcb.ChallengeChainIPVDF.Output,
		RewardInfusionNewChallenge: rcb.Hash(),
		ChallengeBlockInfoHash:     cbi.Hash(),
		SubSlotIters:               ssi,
		PoolPuzzleHash:             fb.Foliage.FoliageBlockData.PoolTarget.PuzzleHash,
		FarmerPuzzleHash:           fb.Foliage.FoliageBlockData.FarmerRewardPuzzleHash,
		RequiredIters:              requiredIters,
		Deficit:                    deficit,
		Overflow:                   overflow,
		PrevTransactionBlockHeight: prevTxHeight,
		IsTransactionBlock:         fb.IsTransactionBlock(),
		SubEpochSummaryIncluded:    ses,
	}

	if icc := rcb.InfusedChallengeChainIPVDF; icc != nil {
		out := icc.Output
		br.InfusedChallengeVDFOutput = &out
	}

	switch {
	case len(fb.FinishedSubSlots) > 0:
		br.FinishedChallengeSlotHashes = make([]common.Hash, 0, len(fb.FinishedSubSlots))
		br.FinishedRewardSlotHashes = make([]common.Hash, 0, len(fb.FinishedSubSlots))
		for _, eos := range fb.FinishedSubSlots {
			br.FinishedChallengeSlotHashes = append(br.FinishedChallengeSlotHashes, eos.ChallengeChain.Hash())
			br.FinishedRewardSlotHashes = append(br.FinishedRewardSlotHashes, eos.RewardChain.Hash())
			if eos.InfusedChallengeChain != nil {
				br.FinishedInfusedChallengeSlotHashes = append(br.FinishedInfusedChallengeSlotHashes, eos.InfusedChallengeChain.Hash())
			}
		}

	case fb.Height() == 0:
		br.FinishedChallengeSlotHashes = []common.Hash{c.GenesisChallenge}
		br.FinishedRewardSlotHashes = []common.Hash{c.GenesisChallenge}
	}

	if ftb := fb.FoliageTransactionBlock; ftb != nil {
		ts := ftb.Timestamp
		prevTx := ftb.PrevTransactionBlockHash
		br.Timestamp = &ts
		br.PrevTransactionBlockHash = &prevTx
	}

	if ti := fb.TransactionsInfo; ti != nil {
		fees := ti.Fees
		br.Fees = &fees
		br.RewardClaimsIncorporated = ti.RewardClaimsIncorporated
	}

	return &br
}
