// Package difficulty implements the retargeting rules for difficulty and
// sub-slot iterations along with the deficit and sub-epoch bookkeeping they
// depend on.
package difficulty

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/ardanlabs/fullnode/foundation/blockchain/database"
	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ethereum/go-ethereum/common"
)

// ErrAncestorWalk is returned when a walk over ancestors goes deeper than the
// constants allow, which means the block records are corrupt.
var ErrAncestorWalk = errors.New("ancestor walk exceeded max depth")

// ErrMissingTimestamp is returned when a transaction block record carries no
// timestamp.
var ErrMissingTimestamp = errors.New("transaction block without timestamp")

// =============================================================================

// CountSignificantBits returns the number of bits between the highest and the
// lowest set bit, both included.
func CountSignificantBits(v uint64) int {
	if v == 0 {
		return 0
	}
	return bits.Len64(v) - bits.TrailingZeros64(v)
}

// TruncateToSignificantBits keeps the n highest bits of v and zeroes the rest.
func TruncateToSignificantBits(v uint64, n int) uint64 {
	l := bits.Len64(v)
	if l <= n {
		return v
	}

	shift := uint(l - n)
	return (v >> shift) << shift
}

// roundUpToSignificantBits returns the smallest value with at most n
// significant bits that is not less than v.
func roundUpToSignificantBits(v uint64, n int) uint64 {
	t := TruncateToSignificantBits(v, n)
	if t == v {
		return v
	}

	return t + 1<<uint(bits.Len64(v)-n)
}

// =============================================================================

// HeightCanBeFirstInEpoch reports whether a block at the height can start a
// new epoch.
func HeightCanBeFirstInEpoch(c genesis.Constants, height uint32) bool {
	return (height-(height%c.SubEpochBlocks))%c.EpochBlocks == 0
}

// CanFinishSubAndFullEpoch reports whether a sub-epoch, and an epoch, can end
// right after the block at the height whose parent is prevHash.
func CanFinishSubAndFullEpoch(c genesis.Constants, blocks database.Blockchain, height uint32, prevHash common.Hash, deficit uint8, includedSES bool) (bool, bool, error) {
	if height < c.SubEpochBlocks-1 {
		return false, false, nil
	}

	if deficit > 0 || includedSES {
		return false, false, nil
	}

	// A summary can only be included once per sub-epoch, so look back to the
	// start of the sub-epoch. Heights 0 and 1 past the boundary need no walk.
	if (height+1)%c.SubEpochBlocks > 1 {
		curr, err := blocks.BlockRecord(prevHash)
		if err != nil {
			return false, false, fmt.Errorf("can finish epoch: %w", err)
		}

		maxDepth := c.EpochWalkDepth()
		for i := 0; curr.Height%c.SubEpochBlocks > 0; i++ {
			if i >= maxDepth {
				return false, false, fmt.Errorf("can finish epoch from %s: %w", prevHash, ErrAncestorWalk)
			}

			if curr.SubEpochSummaryIncluded != nil {
				return false, false, nil
			}

			if curr, err = blocks.BlockRecord(curr.PrevHash); err != nil {
				return false, false, fmt.Errorf("can finish epoch: %w", err)
			}
		}

		if curr.SubEpochSummaryIncluded != nil {
			return false, false, nil
		}
	}

	return true, HeightCanBeFirstInEpoch(c, height+1), nil
}

// =============================================================================

// blocksAtHeight returns up to count ancestors of prev starting at the
// height. The height index is used when prev is on the heaviest chain.
func blocksAtHeight(c genesis.Constants, blocks database.Blockchain, prev *types.BlockRecord, height uint32, count uint32) ([]*types.BlockRecord, error) {
	if height > prev.Height || count == 0 {
		return nil, nil
	}

	last := height + count - 1
	if last > prev.Height {
		last = prev.Height
	}

	if hash, exists := blocks.HeightToHash(prev.Height); exists && hash == prev.HeaderHash {
		list := make([]*types.BlockRecord, 0, count)
		for h := height; h <= last; h++ {
			br, err := blocks.HeightToBlockRecord(h)
			if err != nil {
				return nil, fmt.Errorf("blocks at height %d: %w", h, err)
			}
			list = append(list, br)
		}
		return list, nil
	}

	maxDepth := int(prev.Height-height) + 1
	if limit := c.EpochWalkDepth() + int(c.EpochBlocks); maxDepth > limit {
		return nil, fmt.Errorf("blocks at height %d from %d: %w", height, prev.Height, ErrAncestorWalk)
	}

	list := make([]*types.BlockRecord, 0, count)
	curr := prev
	for i := 0; curr.Height >= height; i++ {
		if i > maxDepth {
			return nil, fmt.Errorf("blocks at height %d: %w", height, ErrAncestorWalk)
		}

		if curr.Height <= last {
			list = append(list, curr)
		}

		if curr.Height == 0 {
			break
		}

		var err error
		if curr, err = blocks.BlockRecord(curr.PrevHash); err != nil {
			return nil, fmt.Errorf("blocks at height %d: %w", height, err)
		}
	}

	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}

	return list, nil
}

// secondToLastTxBlockInPrevEpoch finds the anchor the retarget measures from:
// the second to last transaction block of the previous epoch. In the first
// epoch the genesis block is the anchor.
func secondToLastTxBlockInPrevEpoch(c genesis.Constants, blocks database.Blockchain, last *types.BlockRecord) (*types.BlockRecord, error) {
	heightInNextEpoch := last.Height + 2*c.MaxSubSlotBlocks + uint32(c.MinBlocksPerChallengeBlock) + 5
	heightEpochSurpass := heightInNextEpoch - heightInNextEpoch%c.EpochBlocks

	if heightInNextEpoch-heightEpochSurpass >= 5*c.MaxSubSlotBlocks {
		return nil, fmt.Errorf("epoch anchor from height %d: too far past epoch boundary", last.Height)
	}

	if heightEpochSurpass <= c.EpochBlocks {
		list, err := blocksAtHeight(c, blocks, last, 0, 1)
		if err != nil {
			return nil, fmt.Errorf("epoch anchor: %w", err)
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("epoch anchor: genesis: %w", database.ErrNotFound)
		}
		return list[0], nil
	}
	heightPrevEpochSurpass := heightEpochSurpass - c.EpochBlocks

	// The epoch ends in the sub-slot that carries the summary at or after the
	// surpass height. Start one block before it.
	start := heightPrevEpochSurpass - c.MaxSubSlotBlocks - 1
	fetched, err := blocksAtHeight(c, blocks, last, start, 3*c.MaxSubSlotBlocks+uint32(c.MinBlocksPerChallengeBlock)+3)
	if err != nil {
		return nil, fmt.Errorf("epoch anchor: %w", err)
	}

	idx := int(c.MaxSubSlotBlocks)
	if idx+1 >= len(fetched) {
		return nil, fmt.Errorf("epoch anchor: window of %d blocks from %d: %w", len(fetched), start, ErrAncestorWalk)
	}

	curr := fetched[idx]
	next := fetched[idx+1]
	if curr.Height != heightPrevEpochSurpass-1 || next.Height != heightPrevEpochSurpass {
		return nil, fmt.Errorf("epoch anchor: window misaligned at height %d", curr.Height)
	}

	for i := idx + 2; next.SubEpochSummaryIncluded == nil; i++ {
		if i >= len(fetched) {
			return nil, fmt.Errorf("epoch anchor: no summary after height %d: %w", heightPrevEpochSurpass, ErrAncestorWalk)
		}
		curr = next
		next = fetched[i]
	}

	found := 0
	if curr.IsTransactionBlock {
		found = 1
	}

	maxDepth := c.SlotWalkDepth()
	for i := 0; found < 2; i++ {
		if i >= maxDepth {
			return nil, fmt.Errorf("epoch anchor: tx block before %d: %w", curr.Height, ErrAncestorWalk)
		}

		if curr, err = blocks.BlockRecord(curr.PrevHash); err != nil {
			return nil, fmt.Errorf("epoch anchor: %w", err)
		}
		if curr.IsTransactionBlock {
			found++
		}
	}

	return curr, nil
}

// lastTxBlockBeforeSP walks back from prev to the last transaction block at
// or before the signage point.
func lastTxBlockBeforeSP(c genesis.Constants, blocks database.Blockchain, prev *types.BlockRecord, spTotalIters uint64) (*types.BlockRecord, error) {
	maxDepth := c.SlotWalkDepth()

	curr := prev
	for i := 0; curr.TotalIters > spTotalIters || !curr.IsTransactionBlock; i++ {
		if i >= maxDepth || curr.Height == 0 {
			return nil, fmt.Errorf("tx block before sp %d from %d: %w", spTotalIters, prev.Height, ErrAncestorWalk)
		}

		var err error
		if curr, err = blocks.BlockRecord(curr.PrevHash); err != nil {
			return nil, fmt.Errorf("tx block before sp: %w", err)
		}
	}

	return curr, nil
}

// =============================================================================

// Retarget carries the position of a block being retargeted for.
type Retarget struct {
	PrevHash       common.Hash // Parent of the block at Height.
	Height         uint32      // Height of the last block before the new one.
	Current        uint64      // Value in effect at Height.
	Deficit        uint8
	IncludedSES    bool
	NewSlot        bool   // The new block starts a sub-slot.
	SPTotalIters   uint64 // Total iterations at the new block's signage point.
	SkipEpochCheck bool
}

// anchors returns the two transaction blocks the retarget measures between
// and the time elapsed between them.
func anchors(c genesis.Constants, blocks database.Blockchain, prev *types.BlockRecord, spTotalIters uint64) (*types.BlockRecord, *types.BlockRecord, uint64, error) {
	lastPrev, err := secondToLastTxBlockInPrevEpoch(c, blocks, prev)
	if err != nil {
		return nil, nil, 0, err
	}

	lastCurr, err := lastTxBlockBeforeSP(c, blocks, prev, spTotalIters)
	if err != nil {
		return nil, nil, 0, err
	}

	if lastPrev.Timestamp == nil || lastCurr.Timestamp == nil {
		return nil, nil, 0, ErrMissingTimestamp
	}

	elapsed := uint64(1)
	if *lastCurr.Timestamp > *lastPrev.Timestamp {
		elapsed = *lastCurr.Timestamp - *lastPrev.Timestamp
	}

	return lastPrev, lastCurr, elapsed, nil
}

// retargetDue reports whether the new block can end an epoch.
func retargetDue(c genesis.Constants, blocks database.Blockchain, r Retarget) (bool, error) {
	if r.SkipEpochCheck {
		return true, nil
	}

	_, canFinishEpoch, err := CanFinishSubAndFullEpoch(c, blocks, r.Height, r.PrevHash, r.Deficit, r.IncludedSES)
	if err != nil {
		return false, err
	}

	return r.NewSlot && canFinishEpoch, nil
}

// NextSubSlotIters returns the sub-slot iterations for the block after the
// one at r.Height. The value only changes when an epoch ends, and then by at
// most DifficultyChangeMaxFactor.
func NextSubSlotIters(c genesis.Constants, blocks database.Blockchain, r Retarget) (uint64, error) {
	if r.Height+1 < c.EpochBlocks {
		return c.SubSlotItersStarting, nil
	}

	prev, err := blocks.BlockRecord(r.PrevHash)
	if err != nil {
		return 0, fmt.Errorf("next ssi: %w", err)
	}

	due, err := retargetDue(c, blocks, r)
	if err != nil {
		return 0, fmt.Errorf("next ssi: %w", err)
	}
	if !due {
		return r.Current, nil
	}

	lastPrev, lastCurr, elapsed, err := anchors(c, blocks, prev, r.SPTotalIters)
	if err != nil {
		return 0, fmt.Errorf("next ssi: %w", err)
	}

	precise := c.SubSlotTimeTarget * (lastCurr.TotalIters - lastPrev.TotalIters) / elapsed

	old := lastCurr.SubSlotIters
	maxSSI := c.DifficultyChangeMaxFactor * old
	minSSI := old / c.DifficultyChangeMaxFactor
	if precise >= old {
		precise = min(precise, maxSSI)
	} else {
		precise = max(uint64(c.NumSPsSubSlot), precise, minSSI)
	}

	ssi := TruncateToSignificantBits(precise, c.SignificantBits)
	ssi -= ssi % uint64(c.NumSPsSubSlot)

	return ssi, nil
}

// NextDifficulty returns the difficulty for the block after the one at
// r.Height. The value only changes when an epoch ends, and then stays within
// a factor of DifficultyChangeMaxFactor of the previous block's difficulty.
func NextDifficulty(c genesis.Constants, blocks database.Blockchain, r Retarget) (uint64, error) {
	if r.Height+1 < c.EpochBlocks-3*c.MaxSubSlotBlocks {
		return c.DifficultyStarting, nil
	}

	prev, err := blocks.BlockRecord(r.PrevHash)
	if err != nil {
		return 0, fmt.Errorf("next difficulty: %w", err)
	}

	due, err := retargetDue(c, blocks, r)
	if err != nil {
		return 0, fmt.Errorf("next difficulty: %w", err)
	}
	if !due {
		return r.Current, nil
	}

	lastPrev, lastCurr, elapsed, err := anchors(c, blocks, prev, r.SPTotalIters)
	if err != nil {
		return 0, fmt.Errorf("next difficulty: %w", err)
	}

	old := prev.Weight
	if prev.Height > 0 {
		parent, err := blocks.BlockRecord(prev.PrevHash)
		if err != nil {
			return 0, fmt.Errorf("next difficulty: %w", err)
		}
		old = prev.Weight - parent.Weight
	}

	return clampDifficulty(c, old, (lastCurr.Weight-lastPrev.Weight)*c.SubSlotTimeTarget/(uint64(c.SlotBlocksTarget)*elapsed)), nil
}

// clampDifficulty bounds the measured difficulty by the max change factor and
// reduces its precision to SignificantBits. Truncation never takes the result
// below the lower bound.
func clampDifficulty(c genesis.Constants, old uint64, precise uint64) uint64 {
	maxDiff := c.DifficultyChangeMaxFactor * old
	minDiff := max(1, old/c.DifficultyChangeMaxFactor)

	if precise >= old {
		precise = min(precise, maxDiff)
	} else {
		precise = max(precise, minDiff)
	}

	diff := TruncateToSignificantBits(precise, c.SignificantBits)
	if diff < minDiff {
		diff = roundUpToSignificantBits(precise, c.SignificantBits)
	}

	return diff
}

// NextSubSlotItersAndDifficulty returns the values in effect for the block
// after prev. A nil prev means the genesis block. Values frozen by a sub-epoch
// summary included in prev are carried over.
func NextSubSlotItersAndDifficulty(c genesis.Constants, blocks database.Blockchain, isFirstInSubSlot bool, prev *types.BlockRecord) (uint64, uint64, error) {
	if prev == nil {
		return c.SubSlotItersStarting, c.DifficultyStarting, nil
	}

	prevDifficulty := prev.Weight
	if prev.Height != 0 {
		parent, err := blocks.BlockRecord(prev.PrevHash)
		if err != nil {
			return 0, 0, fmt.Errorf("next ssi and difficulty: %w", err)
		}
		prevDifficulty = prev.Weight - parent.Weight
	}

	if prev.SubEpochSummaryIncluded != nil {
		return prev.SubSlotIters, prevDifficulty, nil
	}

	r := Retarget{
		PrevHash:     prev.PrevHash,
		Height:       prev.Height,
		Deficit:      prev.Deficit,
		NewSlot:      isFirstInSubSlot,
		SPTotalIters: prev.SPTotalIters(c),
	}

	r.Current = prevDifficulty
	diff, err := NextDifficulty(c, blocks, r)
	if err != nil {
		return 0, 0, err
	}

	r.Current = prev.SubSlotIters
	ssi, err := NextSubSlotIters(c, blocks, r)
	if err != nil {
		return 0, 0, err
	}

	return ssi, diff, nil
}
