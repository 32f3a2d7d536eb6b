package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardanlabs/fullnode/foundation/blockchain/peer"
	"github.com/ardanlabs/fullnode/foundation/lock"
	"github.com/ethereum/go-ethereum/common"
)

// Announcement is a peer telling the node about its peak.
type Announcement struct {
	Peer   peer.ID
	Hash   common.Hash
	Height uint32
	Weight uint64
}

// NewPeakAnnouncement processes the peak a known peer announced. When it is
// heavier than the node's peak the missing blocks are fetched from the peer
// and added. The gate bounds how many announcements are processed at once,
// callers beyond its waiting limit get lock.ErrLimitedSemaphoreFull.
func (s *State) NewPeakAnnouncement(ctx context.Context, ann Announcement) (AddResult, error) {
	if _, exists := s.knownPeers.Lookup(ann.Peer); !exists {
		return AddResult{}, fmt.Errorf("announcement %s: peer %s: %w", ann.Hash, ann.Peer, ErrUnknownPeer)
	}

	release, err := s.gate.Acquire(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrLimitedSemaphoreFull) {
			s.metrics.GateRejected.Inc()
		}
		return AddResult{}, fmt.Errorf("announcement %s: %w", ann.Hash, err)
	}
	defer release()

	if s.blocks.ContainsBlock(ann.Hash) {
		return AddResult{}, nil
	}

	peak := s.blocks.Peak()
	if peak != nil && ann.Weight <= peak.Weight {
		return AddResult{}, nil
	}

	if s.fetcher == nil {
		return AddResult{}, ErrNoFetcher
	}

	var start uint32
	if peak != nil {
		start = min(peak.Height+1, ann.Height)
	}

	s.evHandler("state: NewPeakAnnouncement: peer[%s] height[%d] weight[%d]: fetching from %d", ann.Peer, ann.Height, ann.Weight, start)

	// Walk the start height back until the peer's blocks connect to a block
	// the node holds, doubling the step each time.
	step := uint32(1)
	for {
		blocks, err := s.fetcher.Blocks(ctx, ann.Peer, start, ann.Hash)
		if err != nil {
			return AddResult{}, fmt.Errorf("announcement %s: fetch from %d: %w", ann.Hash, start, err)
		}
		if len(blocks) == 0 {
			return AddResult{}, fmt.Errorf("announcement %s: peer sent no blocks from %d", ann.Hash, start)
		}

		first := blocks[0]
		if first.Height() == 0 || s.blocks.ContainsBlock(first.PrevHeaderHash()) {
			return s.AddBlocks(ctx, blocks)
		}

		if start == 0 {
			return AddResult{}, fmt.Errorf("announcement %s: peer chain does not connect", ann.Hash)
		}

		start -= min(step, start)
		step *= 2
	}
}
