package state

import (
	"context"

	"github.com/ardanlabs/fullnode/foundation/blockchain/peer"
	"github.com/ardanlabs/fullnode/foundation/blockchain/store"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ardanlabs/fullnode/foundation/lock"
	"github.com/ethereum/go-ethereum/common"
)

// Peak returns the record of the heaviest block, nil for an empty chain.
func (s *State) Peak() *types.BlockRecord {
	return s.blocks.Peak()
}

// QueryBlockRecord returns the record of a block added to the chain.
func (s *State) QueryBlockRecord(hash common.Hash) (*types.BlockRecord, error) {
	return s.blocks.BlockRecord(hash)
}

// QueryRecordByHeight returns the record at the height on the heaviest chain.
func (s *State) QueryRecordByHeight(height uint32) (*types.BlockRecord, error) {
	return s.blocks.HeightToBlockRecord(height)
}

// QueryStatus returns the peak of this node along with the peers it knows.
func (s *State) QueryStatus() peer.PeerStatus {
	status := peer.PeerStatus{
		KnownPeers: s.knownPeers.Copy(s.host),
	}

	if peak := s.blocks.Peak(); peak != nil {
		status.PeakHash = peak.HeaderHash
		status.PeakHeight = peak.Height
		status.PeakWeight = peak.Weight
	}

	return status
}

// QueryTxQueueLength returns the number of transactions waiting for
// validation.
func (s *State) QueryTxQueueLength() int {
	return s.queue.Len()
}

// QueryLockWaiting returns how many callers wait for the consensus lock at
// each priority.
func (s *State) QueryLockWaiting() (high int, low int) {
	return s.store.Waiting()
}

// QueryGateAvailable returns how many more peak announcements can be
// processed or wait right now.
func (s *State) QueryGateAvailable() int {
	return s.gate.Available()
}

// QuerySubSlot returns the tracked bundle whose challenge chain hashes to the
// challenge, along with its position and the total iterations where it ends.
func (s *State) QuerySubSlot(ctx context.Context, challenge common.Hash) (*types.EndOfSubSlotBundle, int, uint64, bool, error) {
	var (
		eos    *types.EndOfSubSlotBundle
		idx    int
		total  uint64
		exists bool
	)

	fn := func(fns *store.FullNodeStore) error {
		eos, idx, total, exists = fns.SubSlot(challenge)
		return nil
	}

	if err := s.store.Update(ctx, lock.Low, fn); err != nil {
		return nil, 0, 0, false, err
	}

	return eos, idx, total, exists, nil
}

// QueryUnfinishedBlock returns the unfinished block with the partial hash.
func (s *State) QueryUnfinishedBlock(ctx context.Context, partialHash common.Hash) (*types.UnfinishedBlock, bool, error) {
	var (
		ub     *types.UnfinishedBlock
		exists bool
	)

	fn := func(fns *store.FullNodeStore) error {
		ub, exists = fns.UnfinishedBlock(partialHash)
		return nil
	}

	if err := s.store.Update(ctx, lock.Low, fn); err != nil {
		return nil, false, err
	}

	return ub, exists, nil
}
