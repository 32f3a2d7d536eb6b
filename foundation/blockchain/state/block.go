package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/fullnode/foundation/blockchain/difficulty"
	"github.com/ardanlabs/fullnode/foundation/blockchain/header"
	"github.com/ardanlabs/fullnode/foundation/blockchain/prevalidation"
	"github.com/ardanlabs/fullnode/foundation/blockchain/store"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ardanlabs/fullnode/foundation/events"
	"github.com/ardanlabs/fullnode/foundation/lock"
)

// keepBehindPeak is how many heights below the peak unfinished and candidate
// blocks are kept for.
const keepBehindPeak = 5

// AddResult describes what a call to AddBlocks changed. Peak is nil when the
// peak did not move. Fork is the last block shared with the previous peak,
// nil when the new peak extends it. PeakResult carries the material the store
// replayed for the new peak.
type AddResult struct {
	Added      int
	Duplicates int
	Peak       *types.BlockRecord
	Fork       *types.BlockRecord
	PeakResult store.PeakResult
}

// AddBlocks pre-validates a run of consecutive blocks and adds them to the
// chain. Blocks already known are skipped. Adding stops at the first invalid
// block, the blocks before it stay added and the error wraps ErrInvalidBlock
// and the validation code. When the heaviest block moves, the store is told
// about the new peak.
func (s *State) AddBlocks(ctx context.Context, blocks []*types.FullBlock) (AddResult, error) {
	var result AddResult

	fn := func(fns *store.FullNodeStore) error {
		var batch []*types.FullBlock
		for _, fb := range blocks {
			if len(batch) == 0 && s.blocks.ContainsBlock(fb.HeaderHash()) {
				result.Duplicates++
				continue
			}
			batch = append(batch, fb)
		}

		if len(batch) == 0 {
			return nil
		}

		opts := prevalidation.Options{
			CheckFilter: true,
			Generator:   s.generatorFor(batch),
		}

		start := time.Now()
		results, err := s.pool.PreValidateBlocks(ctx, s.blocks, batch, opts)
		s.metrics.BatchSeconds.Observe(time.Since(start).Seconds())

		switch {
		case errors.Is(err, prevalidation.ErrBatchPoisoned):
			s.metrics.Batches.WithLabelValues("poisoned").Inc()
			return err
		case err != nil:
			s.metrics.Batches.WithLabelValues("error").Inc()
			return err
		}
		s.metrics.Batches.WithLabelValues("validated").Inc()

		oldPeak := s.blocks.Peak()
		newPeak := oldPeak

		var invalid error
		for i, fb := range batch {
			if res := results[i]; res.Failed() {
				s.metrics.InvalidBlocks.WithLabelValues(res.Error.String()).Inc()
				invalid = fmt.Errorf("block %d %s: stage %d: %w: %w", fb.Height(), fb.HeaderHash(), res.Stage, ErrInvalidBlock, res.Error)
				break
			}

			br, err := header.BlockToBlockRecord(s.c, s.blocks, results[i].RequiredIters, fb, nil)
			if err != nil {
				invalid = fmt.Errorf("block %d %s: %w: %w", fb.Height(), fb.HeaderHash(), ErrInvalidBlock, err)
				break
			}

			s.blocks.AddBlockRecord(br)
			s.fullBlocks[br.HeaderHash] = fb
			result.Added++

			if newPeak == nil || br.Weight > newPeak.Weight {
				newPeak = br
			}
		}

		if newPeak != oldPeak {
			peakResult, fork, err := s.newPeak(fns, oldPeak, newPeak)
			if err != nil {
				return err
			}

			result.Peak = newPeak
			result.Fork = fork
			result.PeakResult = peakResult
		}

		return invalid
	}

	if err := s.store.Update(ctx, lock.High, fn); err != nil {
		s.evHandler("state: AddBlocks: ERROR: %s", err)
		return result, err
	}

	return result, nil
}

// newPeak moves the chain to the peak and rebuilds the store around it.
func (s *State) newPeak(fns *store.FullNodeStore, oldPeak *types.BlockRecord, peak *types.BlockRecord) (store.PeakResult, *types.BlockRecord, error) {
	fork, err := s.forkPoint(oldPeak, peak)
	if err != nil {
		return store.PeakResult{}, nil, err
	}

	if err := s.blocks.SetPeak(peak.HeaderHash); err != nil {
		return store.PeakResult{}, nil, err
	}

	sp, ip, err := s.peakSubSlots(peak)
	if err != nil {
		return store.PeakResult{}, nil, err
	}

	nextSSI, err := s.nextSubSlotIters(peak)
	if err != nil {
		return store.PeakResult{}, nil, err
	}

	result := fns.NewPeak(peak, sp, ip, fork, s.blocks, nextSSI)

	if peak.Height >= keepBehindPeak {
		fns.ClearUnfinishedBlocksBelow(peak.Height - keepBehindPeak)
		fns.ClearCandidateBlocksBelow(peak.Height - keepBehindPeak)
	}
	fns.ClearSeenUnfinishedBlocks()

	s.metrics.Peaks.Inc()
	s.metrics.PeakHeight.Set(float64(peak.Height))
	s.metrics.StoreOutcomes.WithLabelValues("new_peak", store.Accepted.String()).Inc()

	ev := events.Peak{Hash: peak.HeaderHash, Height: peak.Height, Weight: peak.Weight}
	if fork != nil {
		h := fork.Height
		ev.Fork = &h
	}
	s.events.Send(ev)

	s.evHandler("state: newPeak: %s", ev)

	return result, fork, nil
}

// forkPoint returns the last block the new peak shares with the old one, nil
// when the new peak extends the old one. It must run before the height index
// moves to the new peak.
func (s *State) forkPoint(oldPeak *types.BlockRecord, peak *types.BlockRecord) (*types.BlockRecord, error) {
	if oldPeak == nil || peak.PrevHash == oldPeak.HeaderHash {
		return nil, nil
	}

	curr := peak
	for {
		if curr.Height <= oldPeak.Height {
			if hash, exists := s.blocks.HeightToHash(curr.Height); exists && hash == curr.HeaderHash {
				if curr.HeaderHash == oldPeak.HeaderHash {
					return nil, nil
				}
				return curr, nil
			}
		}

		if curr.Height == 0 {
			return nil, fmt.Errorf("fork point of %s: no shared genesis", peak.HeaderHash)
		}

		prev, err := s.blocks.BlockRecord(curr.PrevHash)
		if err != nil {
			return nil, fmt.Errorf("fork point of %s: %w", peak.HeaderHash, err)
		}
		curr = prev
	}
}

// peakSubSlots returns the bundles that started the sub-slots of the peak's
// signage point and infusion point. The signage point bundle is only set for
// an overflow peak. Both are nil in the genesis sub-slot.
func (s *State) peakSubSlots(peak *types.BlockRecord) (*types.EndOfSubSlotBundle, *types.EndOfSubSlotBundle, error) {
	want := 1
	if peak.Overflow {
		want = 2
	}

	var found []types.EndOfSubSlotBundle
	hash := peak.HeaderHash

	for i := 0; len(found) < want; i++ {
		if i > s.c.SlotWalkDepth() {
			return nil, nil, fmt.Errorf("sub-slots of %s: %w", peak.HeaderHash, difficulty.ErrAncestorWalk)
		}

		fb, exists := s.fullBlocks[hash]
		if !exists {
			return nil, nil, fmt.Errorf("sub-slots of %s: block %s not held", peak.HeaderHash, hash)
		}

		for j := len(fb.FinishedSubSlots) - 1; j >= 0 && len(found) < want; j-- {
			found = append(found, fb.FinishedSubSlots[j])
		}

		if fb.Height() == 0 {
			break
		}
		hash = fb.PrevHeaderHash()
	}

	var sp, ip *types.EndOfSubSlotBundle
	if len(found) > 0 {
		ip = &found[0]
	}
	if peak.Overflow && len(found) > 1 {
		sp = &found[1]
	}

	return sp, ip, nil
}

// generatorFor returns the function loading the generator of a block with the
// generators it references. References resolve against the batch first and
// then the chain.
func (s *State) generatorFor(batch []*types.FullBlock) func(fb *types.FullBlock) (types.BlockGenerator, error) {
	byHeight := make(map[uint32]*types.FullBlock, len(batch))
	for _, fb := range batch {
		byHeight[fb.Height()] = fb
	}

	return func(fb *types.FullBlock) (types.BlockGenerator, error) {
		gen := types.BlockGenerator{Program: fb.TransactionsGenerator}

		for _, height := range fb.TransactionsGeneratorRefList {
			if height >= fb.Height() {
				return types.BlockGenerator{}, fmt.Errorf("block %d references height %d", fb.Height(), height)
			}

			ref, exists := byHeight[height]
			if !exists {
				hash, onChain := s.blocks.HeightToHash(height)
				if !onChain {
					return types.BlockGenerator{}, fmt.Errorf("block %d references unknown height %d", fb.Height(), height)
				}
				ref = s.fullBlocks[hash]
			}

			if ref == nil || len(ref.TransactionsGenerator) == 0 {
				return types.BlockGenerator{}, fmt.Errorf("block %d references height %d without a generator", fb.Height(), height)
			}
			gen.GeneratorRefs = append(gen.GeneratorRefs, ref.TransactionsGenerator)
		}

		return gen, nil
	}
}
