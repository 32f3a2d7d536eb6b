// Package header validates block headers against the chain they extend and
// turns valid blocks into block records.
package header

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/fullnode/foundation/blockchain/database"
	"github.com/ardanlabs/fullnode/foundation/blockchain/difficulty"
	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ethereum/go-ethereum/common"
)

// BlockChallenge returns the challenge chain hash the block's proof of space
// answers. An overflow block answers the challenge of the sub-slot before the
// one it is infused in. With skipOverflowLastSS the sub-slot the overflow
// block is infused in has not been finished yet.
func BlockChallenge(c genesis.Constants, blocks database.Blockchain, prevHash common.Hash, finished []types.EndOfSubSlotBundle, genesisBlock bool, overflow bool, skipOverflowLastSS bool) (common.Hash, error) {
	if n := len(finished); n > 0 {
		last := finished[n-1].ChallengeChain
		if overflow && !skipOverflowLastSS {
			return last.ChallengeChainEndOfSlotVDF.Challenge, nil
		}
		return last.Hash(), nil
	}

	if genesisBlock {
		return c.GenesisChallenge, nil
	}

	want := 1
	if overflow && !skipOverflowLastSS {
		want = 2
	}

	curr, err := blocks.BlockRecord(prevHash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("block challenge: %w", err)
	}

	var reversed []common.Hash
	maxDepth := 2 * c.SlotWalkDepth()
	for i := 0; ; i++ {
		if curr.FirstInSubSlot() {
			for j := len(curr.FinishedChallengeSlotHashes) - 1; j >= 0; j-- {
				reversed = append(reversed, curr.FinishedChallengeSlotHashes[j])
			}
			if len(reversed) >= want {
				return reversed[want-1], nil
			}
		}

		if curr.Height == 0 {
			return common.Hash{}, fmt.Errorf("block challenge: found %d of %d challenges before genesis", len(reversed), want)
		}
		if i >= maxDepth {
			return common.Hash{}, fmt.Errorf("block challenge from %s: %w", prevHash, difficulty.ErrAncestorWalk)
		}

		if curr, err = blocks.BlockRecord(curr.PrevHash); err != nil {
			return common.Hash{}, fmt.Errorf("block challenge: %w", err)
		}
	}
}

// firstInSubSlot walks back from br to the first block infused in its
// sub-slot.
func firstInSubSlot(c genesis.Constants, blocks database.Blockchain, br *types.BlockRecord) (*types.BlockRecord, error) {
	curr := br
	maxDepth := c.SlotWalkDepth()
	for i := 0; !curr.FirstInSubSlot(); i++ {
		if i >= maxDepth {
			return nil, fmt.Errorf("first in sub-slot from %s: %w", br.HeaderHash, difficulty.ErrAncestorWalk)
		}

		var err error
		if curr, err = blocks.BlockRecord(curr.PrevHash); err != nil {
			return nil, fmt.Errorf("first in sub-slot: %w", err)
		}
	}

	return curr, nil
}

// SlotChallenges returns the challenge chain and reward chain hashes that
// started the sub-slot the block was infused in.
func SlotChallenges(c genesis.Constants, blocks database.Blockchain, br *types.BlockRecord) (common.Hash, common.Hash, error) {
	first, err := firstInSubSlot(c, blocks, br)
	if err != nil {
		return common.Hash{}, common.Hash{}, err
	}

	cc, rc := first.FinishedChallengeSlotHashes, first.FinishedRewardSlotHashes
	if len(cc) == 0 || len(rc) == 0 {
		return common.Hash{}, common.Hash{}, fmt.Errorf("slot challenges: block %s has no finished sub-slots", first.HeaderHash)
	}

	return cc[len(cc)-1], rc[len(rc)-1], nil
}

// PrevTransactionBlock returns the closest transaction block at or before br.
// It returns nil when the walk runs out of known records, which is the case
// for the parent of the genesis block.
func PrevTransactionBlock(c genesis.Constants, blocks database.Blockchain, br *types.BlockRecord) (*types.BlockRecord, error) {
	curr := br
	maxDepth := c.EpochWalkDepth()
	for i := 0; curr != nil && !curr.IsTransactionBlock; i++ {
		if i >= maxDepth {
			return nil, fmt.Errorf("prev transaction block from %s: %w", br.HeaderHash, difficulty.ErrAncestorWalk)
		}
		if curr.Height == 0 {
			return nil, nil
		}

		next, err := blocks.BlockRecord(curr.PrevHash)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("prev transaction block: %w", err)
		}
		curr = next
	}

	return curr, nil
}
