package state

import (
	"context"
	"fmt"

	"github.com/ardanlabs/fullnode/foundation/blockchain/store"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ardanlabs/fullnode/foundation/lock"
)

// UnfinishedResult is the outcome of RespondUnfinishedBlock. Result is set
// once the block was pre-validated.
type UnfinishedResult struct {
	Status store.Status
	Reason error
	Result types.PreValidationResult
}

// RespondUnfinishedBlock pre-validates an unfinished block and keeps it until
// its infusion point arrives. A block seen before is reported as a duplicate
// without being validated again, and so is a variant of a stored block whose
// foliage is no better than what is held.
func (s *State) RespondUnfinishedBlock(ctx context.Context, ub *types.UnfinishedBlock) (UnfinishedResult, error) {
	partialHash := ub.PartialHash()

	var seen bool
	fn := func(fns *store.FullNodeStore) error {
		if fns.SeenUnfinishedBlock(ub.Hash()) {
			seen = true
			return nil
		}

		held, _, worse := fns.UnfinishedBlock2(partialHash, ub.FoliageTransactionBlockHash())
		seen = held != nil || worse
		return nil
	}

	if err := s.store.Update(ctx, lock.Low, fn); err != nil {
		return UnfinishedResult{}, err
	}

	if seen {
		s.metrics.StoreOutcomes.WithLabelValues("unfinished_block", store.Duplicate.String()).Inc()
		return UnfinishedResult{Status: store.Duplicate}, nil
	}

	result, err := s.validateUnfinished(ctx, ub)
	if err != nil {
		return UnfinishedResult{}, err
	}

	s.metrics.StoreOutcomes.WithLabelValues("unfinished_block", result.Status.String()).Inc()
	s.evHandler("state: RespondUnfinishedBlock: partial[%s]: %s: %v", partialHash, result.Status, result.Reason)

	return result, nil
}

// validateUnfinished runs pre-validation and adds the block to the store
// while holding the lock so the chain can't move underneath.
func (s *State) validateUnfinished(ctx context.Context, ub *types.UnfinishedBlock) (UnfinishedResult, error) {
	var result UnfinishedResult

	fn := func(fns *store.FullNodeStore) error {
		var gen *types.BlockGenerator
		if len(ub.TransactionsGeneratorRefList) > 0 {
			fb := types.FullBlock{
				TransactionsGenerator:        ub.TransactionsGenerator,
				TransactionsGeneratorRefList: ub.TransactionsGeneratorRefList,
			}
			fb.RewardChainBlock.Height = s.unfinishedHeight(ub)

			g, err := s.generatorFor(nil)(&fb)
			if err != nil {
				result = UnfinishedResult{Status: store.Rejected, Reason: fmt.Errorf("%w: %w", types.ErrGeneratorRuntimeError, err)}
				return nil
			}
			gen = &g
		}

		res, err := s.pool.PreValidateUnfinished(s.blocks, ub, gen)
		if err != nil {
			result = UnfinishedResult{Status: store.Rejected, Reason: err}
			return nil
		}

		if res.Failed() {
			result = UnfinishedResult{Status: store.Rejected, Reason: res.Error, Result: res}
			return nil
		}

		fns.AddUnfinishedBlock(s.unfinishedHeight(ub), ub, res)
		result = UnfinishedResult{Status: store.Accepted, Result: res}

		return nil
	}

	if err := s.store.Update(ctx, lock.High, fn); err != nil {
		return UnfinishedResult{}, err
	}

	return result, nil
}

// unfinishedHeight returns the height the block will have once infused.
func (s *State) unfinishedHeight(ub *types.UnfinishedBlock) uint32 {
	if ub.PrevHeaderHash() == s.c.GenesisChallenge {
		return 0
	}

	prev, err := s.blocks.BlockRecord(ub.PrevHeaderHash())
	if err != nil {
		return 0
	}

	return prev.Height + 1
}
