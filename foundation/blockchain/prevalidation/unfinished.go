package prevalidation

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/fullnode/foundation/blockchain/database"
	"github.com/ardanlabs/fullnode/foundation/blockchain/difficulty"
	"github.com/ardanlabs/fullnode/foundation/blockchain/pot"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
)

// PreValidateUnfinished checks what can be checked of an unfinished block
// before its infusion: the proof of space and the iterations it requires,
// the generator and the aggregated signature. It runs on the caller's
// goroutine. An error means the block does not build on a known block.
// gen supplies the generator references, nil when the block has none.
func (p *Pool) PreValidateUnfinished(blocks database.Blockchain, ub *types.UnfinishedBlock, gen *types.BlockGenerator) (types.PreValidationResult, error) {
	genesisBlock := ub.PrevHeaderHash() == p.c.GenesisChallenge

	var prev *types.BlockRecord
	if !genesisBlock {
		var err error
		if prev, err = blocks.BlockRecord(ub.PrevHeaderHash()); err != nil {
			return types.PreValidationResult{}, fmt.Errorf("unfinished %s: %w", ub.PartialHash(), err)
		}
	}

	ssi, diff, err := difficulty.NextSubSlotItersAndDifficulty(p.c, blocks, len(ub.FinishedSubSlots) > 0, prev)
	if err != nil {
		return types.PreValidationResult{}, fmt.Errorf("unfinished %s: %w", ub.PartialHash(), err)
	}

	required, err := p.requiredIters(blocks, ub.PrevHeaderHash(), genesisBlock, ub.FinishedSubSlots, ub.RewardChainBlock, diff)
	switch {
	case errors.Is(err, types.ErrInvalidPOSpace):
		return types.PreValidationResult{Error: types.ErrInvalidPOSpace, Stage: types.StageHeader}, nil
	case err != nil:
		return types.PreValidationResult{}, fmt.Errorf("unfinished %s: %w", ub.PartialHash(), err)
	}

	if required >= pot.SPIntervalIters(p.c, ssi) {
		return types.PreValidationResult{Error: types.ErrInvalidRequiredIters, Stage: types.StageHeader}, nil
	}

	var conds *types.Conditions
	if ub.IsTransactionBlock() && len(ub.TransactionsGenerator) > 0 {
		g := types.BlockGenerator{Program: ub.TransactionsGenerator}
		if gen != nil {
			g = *gen
		}

		conds = p.conditions(nil, g)
		if conds.Error != types.ErrNone {
			return types.PreValidationResult{Error: conds.Error, Stage: types.StageConditions}, nil
		}
	}

	result := types.PreValidationResult{
		RequiredIters: required,
		Conditions:    conds,
		Stage:         types.StageHeader,
	}

	return p.signature(result, ub.TransactionsInfo), nil
}
