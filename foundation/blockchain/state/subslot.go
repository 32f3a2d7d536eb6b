package state

import (
	"context"

	"github.com/ardanlabs/fullnode/foundation/blockchain/difficulty"
	"github.com/ardanlabs/fullnode/foundation/blockchain/store"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ardanlabs/fullnode/foundation/lock"
)

// RespondEndOfSubSlot offers an end of sub-slot bundle received from a peer or
// a timelord to the store.
func (s *State) RespondEndOfSubSlot(ctx context.Context, eos types.EndOfSubSlotBundle) (store.SubSlotResult, error) {
	var result store.SubSlotResult

	fn := func(fns *store.FullNodeStore) error {
		peak := s.blocks.Peak()

		nextSSI, err := s.nextSubSlotIters(peak)
		if err != nil {
			return err
		}

		result = fns.NewFinishedSubSlot(&eos, s.blocks, peak, nextSSI)
		return nil
	}

	if err := s.store.Update(ctx, lock.High, fn); err != nil {
		return store.SubSlotResult{}, err
	}

	s.metrics.StoreOutcomes.WithLabelValues("end_of_sub_slot", result.Status.String()).Inc()
	s.evHandler("state: RespondEndOfSubSlot: challenge[%s]: %s: %v", eos.ChallengeChain.Hash(), result.Status, result.Reason)

	return result, nil
}

// RespondSignagePoint offers the signage point at the index to the store.
func (s *State) RespondSignagePoint(ctx context.Context, index uint8, sp types.SignagePoint) (store.SignagePointResult, error) {
	var result store.SignagePointResult

	fn := func(fns *store.FullNodeStore) error {
		peak := s.blocks.Peak()

		nextSSI, err := s.nextSubSlotIters(peak)
		if err != nil {
			return err
		}

		result = fns.NewSignagePoint(index, s.blocks, peak, nextSSI, sp, false)
		return nil
	}

	if err := s.store.Update(ctx, lock.High, fn); err != nil {
		return store.SignagePointResult{}, err
	}

	s.metrics.StoreOutcomes.WithLabelValues("signage_point", result.Status.String()).Inc()
	s.evHandler("state: RespondSignagePoint: index[%d]: %s: %v", index, result.Status, result.Reason)

	return result, nil
}

// ClearOldCacheEntries drops material that waited too long for the peak it
// builds on and returns how many keys were dropped.
func (s *State) ClearOldCacheEntries(ctx context.Context) (int, error) {
	var dropped int

	fn := func(fns *store.FullNodeStore) error {
		dropped = fns.ClearOldCacheEntries()
		return nil
	}

	if err := s.store.Update(ctx, lock.Low, fn); err != nil {
		return 0, err
	}

	s.metrics.FutureExpired.Add(float64(dropped))

	return dropped, nil
}

// nextSubSlotIters returns the sub-slot iterations in effect for the sub-slot
// after the peak.
func (s *State) nextSubSlotIters(peak *types.BlockRecord) (uint64, error) {
	if peak == nil {
		return s.c.SubSlotItersStarting, nil
	}

	ssi, _, err := difficulty.NextSubSlotItersAndDifficulty(s.c, s.blocks, true, peak)
	if err != nil {
		return 0, err
	}

	return ssi, nil
}
