package prevalidation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardanlabs/fullnode/foundation/blockchain/database"
	"github.com/ardanlabs/fullnode/foundation/blockchain/difficulty"
	"github.com/ardanlabs/fullnode/foundation/blockchain/header"
	"github.com/ardanlabs/fullnode/foundation/blockchain/pot"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrBatchPoisoned is returned when a block of the batch can't be turned into
// a block record. The blocks after it would build on a false ancestor so the
// whole batch is abandoned.
var ErrBatchPoisoned = errors.New("batch poisoned")

// DefaultBatchSize is the number of blocks handed to one worker when the pool
// is not configured otherwise.
const DefaultBatchSize = 4

// Options tune a call to PreValidateBlocks. Conditions carries results already
// computed for blocks, keyed by header hash. Generator returns the generator
// with its references for a transaction block. Summaries are sub-epoch
// summaries from a weight proof, the first one ending the first sub-epoch.
type Options struct {
	CheckFilter bool
	Conditions  map[common.Hash]*types.Conditions
	Generator   func(fb *types.FullBlock) (types.BlockGenerator, error)
	Summaries   []types.SubEpochSummary
}

// PreValidateBlocks validates a run of consecutive blocks whose first parent
// is known to blocks. Records for the batch are inserted into blocks while
// the batch is walked and are all removed before returning. The returned
// slice holds one result per block in order. ErrBatchPoisoned is returned
// when a proof of space, a block record or a sub-epoch summary check fails.
func (p *Pool) PreValidateBlocks(ctx context.Context, blocks database.Blockchain, batch []*types.FullBlock, opts Options) ([]types.PreValidationResult, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	batchID := uuid.New()

	p.evHandler("prevalidation: batch[%s]: started: blocks[%d] first height[%d]", batchID, len(batch), batch[0].Height())
	defer p.evHandler("prevalidation: batch[%s]: completed", batchID)

	full, compressed, err := p.windows(blocks, batch[0])
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", batchID, err)
	}

	expected, records, err := p.records(blocks, batch, opts.Summaries)
	if err != nil {
		p.evHandler("prevalidation: batch[%s]: ERROR: %s", batchID, err)
		return nil, fmt.Errorf("batch %s: %w", batchID, err)
	}

	full = append(full, records...)
	compressed = append(compressed, records...)

	// Build one request per sub-batch.

	var reqs []Request
	for start := 0; start < len(batch); start += p.batchSize {
		end := min(start+p.batchSize, len(batch))

		req := Request{
			BatchID:     batchID,
			Blocks:      batch[start:end],
			Expected:    expected[start:end],
			Conditions:  make(map[int]*types.Conditions),
			Generators:  make(map[int]types.BlockGenerator),
			Window:      compressed,
			CheckFilter: opts.CheckFilter,
		}

		for i, fb := range req.Blocks {
			if len(fb.FinishedSubSlots) > 0 {
				req.Window = full
			}

			if conds, exists := opts.Conditions[fb.HeaderHash()]; exists {
				req.Conditions[i] = conds
				continue
			}

			if opts.Generator != nil && fb.IsTransactionBlock() && len(fb.TransactionsGenerator) > 0 {
				gen, err := opts.Generator(fb)
				if err != nil {
					p.evHandler("prevalidation: batch[%s]: block[%s]: generator: ERROR: %s", batchID, fb.HeaderHash(), err)
					req.Conditions[i] = &types.Conditions{Error: types.ErrGeneratorRuntimeError}
					continue
				}
				req.Generators[i] = gen
			}
		}

		reqs = append(reqs, req)
	}

	// Fan the sub-batches out to the workers.

	resps := make([]Response, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			resp, err := p.Submit(ctx, req)
			if err != nil {
				return err
			}
			resps[i] = resp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch %s: %w", batchID, err)
	}

	results := make([]types.PreValidationResult, 0, len(batch))
	for _, resp := range resps {
		results = append(results, resp.Results...)
	}

	return results, nil
}

// records walks the batch in order computing the expected sub-slot
// iterations and difficulty of every block along with its block record. Each
// record is inserted into blocks so the next block can find its parent and
// all inserted records are removed before returning.
func (p *Pool) records(blocks database.Blockchain, batch []*types.FullBlock, summaries []types.SubEpochSummary) ([]Expected, []*types.BlockRecord, error) {
	var added []common.Hash
	defer func() {
		for _, hash := range added {
			blocks.RemoveBlockRecord(hash)
		}
	}()

	expected := make([]Expected, len(batch))
	records := make([]*types.BlockRecord, len(batch))

	for i, fb := range batch {
		var prev *types.BlockRecord
		if fb.Height() > 0 {
			var err error
			if prev, err = blocks.BlockRecord(fb.PrevHeaderHash()); err != nil {
				return nil, nil, fmt.Errorf("block %d parent: %w: %w", fb.Height(), err, ErrBatchPoisoned)
			}
		}

		ssi, diff, err := difficulty.NextSubSlotItersAndDifficulty(p.c, blocks, len(fb.FinishedSubSlots) > 0, prev)
		if err != nil {
			return nil, nil, fmt.Errorf("block %d difficulty: %w: %w", fb.Height(), err, ErrBatchPoisoned)
		}
		expected[i] = Expected{SubSlotIters: ssi, Difficulty: diff}

		required, err := p.requiredIters(blocks, fb.PrevHeaderHash(), fb.Height() == 0, fb.FinishedSubSlots, fb.RewardChainBlock.Unfinished(), diff)
		if err != nil {
			return nil, nil, fmt.Errorf("block %d: %w: %w", fb.Height(), err, ErrBatchPoisoned)
		}

		br, err := header.BlockToBlockRecord(p.c, blocks, required, fb, &ssi)
		if err != nil {
			return nil, nil, fmt.Errorf("block %d record: %w: %w", fb.Height(), err, ErrBatchPoisoned)
		}

		if ses := br.SubEpochSummaryIncluded; ses != nil && summaries != nil {
			idx := int(br.Height/p.c.SubEpochBlocks) - 1
			if idx < 0 || idx >= len(summaries) || summaries[idx].Hash() != ses.Hash() {
				return nil, nil, fmt.Errorf("block %d summary %s: %w: %w", fb.Height(), ses.Hash(), types.ErrInvalidSubEpochSummary, ErrBatchPoisoned)
			}
		}

		if !blocks.ContainsBlock(br.HeaderHash) {
			blocks.AddBlockRecord(br)
			added = append(added, br.HeaderHash)
		}
		records[i] = br
	}

	return expected, records, nil
}

// requiredIters verifies the proof of space against the challenge it was
// farmed on and returns the iterations it requires.
func (p *Pool) requiredIters(blocks database.Blockchain, prevHash common.Hash, genesisBlock bool, finished []types.EndOfSubSlotBundle, rcb types.RewardChainBlockUnfinished, diff uint64) (uint64, error) {
	overflow, err := pot.IsOverflowBlock(p.c, rcb.SignagePointIndex)
	if err != nil {
		return 0, err
	}

	challenge, err := header.BlockChallenge(p.c, blocks, prevHash, finished, genesisBlock, overflow, false)
	if err != nil {
		return 0, err
	}

	spHash := challenge
	if rcb.ChallengeChainSPVDF != nil {
		spHash = rcb.ChallengeChainSPVDF.Output.Hash()
	}

	quality, ok := p.verifiers.PoS.VerifyAndGetQualityString(rcb.ProofOfSpace, p.c, challenge, spHash)
	if !ok {
		return 0, types.ErrInvalidPOSpace
	}

	return pot.IterationsQuality(p.c, quality, rcb.ProofOfSpace.Size, diff, spHash), nil
}

// windows collects the ancestors of the block the workers need. The
// compressed window covers the timestamp and slot lookups of plain blocks.
// The full window reaches back to the last sub-epoch summary for blocks that
// finish sub-slots.
func (p *Pool) windows(blocks database.Blockchain, first *types.FullBlock) ([]*types.BlockRecord, []*types.BlockRecord, error) {
	if first.Height() == 0 {
		return nil, nil, nil
	}

	curr, err := blocks.BlockRecord(first.PrevHeaderHash())
	if err != nil {
		return nil, nil, fmt.Errorf("windows: %w", err)
	}

	var full, compressed []*types.BlockRecord

	lookFor := 2
	if curr.Overflow {
		lookFor = 3
	}

	var txSeen uint32
	var slotsFound int
	maxDepth := p.c.EpochWalkDepth()

	for i := 0; curr.Height > 0; i++ {
		short := txSeen < p.c.NumberOfTimestamps || slotsFound < lookFor
		if !short && curr.SubEpochSummaryIncluded != nil {
			break
		}
		if i > maxDepth {
			return nil, nil, fmt.Errorf("windows from %d: %w", first.Height(), difficulty.ErrAncestorWalk)
		}

		if short {
			compressed = append(compressed, curr)
		}
		if curr.FirstInSubSlot() {
			slotsFound += len(curr.FinishedChallengeSlotHashes)
		}
		if curr.IsTransactionBlock {
			txSeen++
		}
		full = append(full, curr)

		if curr, err = blocks.BlockRecord(curr.PrevHash); err != nil {
			return nil, nil, fmt.Errorf("windows: %w", err)
		}
	}

	full = append(full, curr)
	compressed = append(compressed, curr)

	return full, compressed, nil
}
