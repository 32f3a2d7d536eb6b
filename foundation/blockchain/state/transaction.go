package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardanlabs/fullnode/foundation/blockchain/mempool"
	"github.com/ardanlabs/fullnode/foundation/blockchain/peer"
	"github.com/ethereum/go-ethereum/common"
)

// SubmitTransaction queues a transaction for validation. Transactions from
// peers must come from a known peer. mempool.ErrQueueFull is returned when
// the queue or the peer's share of it is used up.
func (s *State) SubmitTransaction(e mempool.Entry) error {
	if e.Peer != nil {
		if _, exists := s.knownPeers.Lookup(*e.Peer); !exists {
			return fmt.Errorf("submit %s: peer %s: %w", e.ID, *e.Peer, ErrUnknownPeer)
		}
	}

	if err := s.queue.Put(e); err != nil {
		if errors.Is(err, mempool.ErrQueueFull) {
			s.metrics.QueueFull.Inc()
		}
		return err
	}

	s.metrics.QueueDepth.Set(float64(s.queue.Len()))

	return nil
}

// RecordAdvert remembers the fee and cost a peer announced for a transaction
// so the queue can rank it.
func (s *State) RecordAdvert(from peer.ID, tx common.Hash, fee uint64, cost uint64) {
	s.adverts.Record(from, tx, fee, cost)
}

// NextTransaction blocks until a transaction is queued or the context is
// done and hands it out for validation.
func (s *State) NextTransaction(ctx context.Context) (mempool.Entry, error) {
	e, err := s.queue.Pop(ctx)
	if err != nil {
		return mempool.Entry{}, err
	}

	s.metrics.QueueDepth.Set(float64(s.queue.Len()))

	return e, nil
}
