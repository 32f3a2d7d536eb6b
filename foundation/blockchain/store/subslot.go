package store

import (
	"fmt"
	"time"

	"github.com/ardanlabs/fullnode/foundation/blockchain/database"
	"github.com/ardanlabs/fullnode/foundation/blockchain/header"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ardanlabs/fullnode/foundation/blockchain/vdf"
	"github.com/ethereum/go-ethereum/common"
)

// InitializeGenesisSubSlot resets the tracked sub-slots to the one that starts
// the chain.
func (fns *FullNodeStore) InitializeGenesisSubSlot() {
	fns.ClearSlots()
	fns.finishedSubSlots = []subSlot{{sps: fns.emptySignagePoints()}}
}

// ClearSlots forgets every tracked sub-slot.
func (fns *FullNodeStore) ClearSlots() {
	fns.finishedSubSlots = nil
}

// SubSlotCount returns the number of tracked sub-slots.
func (fns *FullNodeStore) SubSlotCount() int {
	return len(fns.finishedSubSlots)
}

func (fns *FullNodeStore) emptySignagePoints() []*types.SignagePoint {
	return make([]*types.SignagePoint, fns.c.NumSPsSubSlot)
}

// slotChallenges returns the challenge chain and reward chain hashes a
// tracked sub-slot's signage points and blocks build on.
func (fns *FullNodeStore) slotChallenges(ss subSlot) (common.Hash, common.Hash) {
	if ss.eos == nil {
		return fns.c.GenesisChallenge, fns.c.GenesisChallenge
	}
	return ss.eos.ChallengeChain.Hash(), ss.eos.RewardChain.Hash()
}

// =============================================================================

// NewFinishedSubSlot offers an end of sub-slot bundle that extends the last
// tracked sub-slot. peak is the current peak, nil before the first block, and
// nextSSI the sub-slot iterations in effect after it. A bundle building on a
// block not known yet is deferred until that block becomes the peak.
func (fns *FullNodeStore) NewFinishedSubSlot(eos *types.EndOfSubSlotBundle, blocks database.Blockchain, peak *types.BlockRecord, nextSSI uint64) SubSlotResult {
	for _, ss := range fns.finishedSubSlots {
		if ss.eos.Equal(eos) {
			return SubSlotResult{Status: Duplicate}
		}
	}

	last := fns.finishedSubSlots[len(fns.finishedSubSlots)-1]
	ccChallenge, _ := fns.slotChallenges(last)

	if eos.ChallengeChain.ChallengeChainEndOfSlotVDF.Challenge != ccChallenge {
		return SubSlotResult{Status: Rejected, Reason: ErrChallengeMismatch}
	}

	var exp header.SlotExpectation
	var ses *types.SubEpochSummary

	switch {
	case peak != nil && peak.TotalIters > last.totalIters:
		slotEnd := last.totalIters + peak.SubSlotIters
		if slotEnd < peak.TotalIters {
			return SubSlotResult{Status: Rejected, Reason: ErrStalePeak}
		}

		rcChallenge := eos.RewardChain.EndOfSlotVDF.Challenge
		if rcChallenge != peak.RewardInfusionNewChallenge {
			fns.addToFutureEOS(rcChallenge, *eos)
			fns.evHandler("store: NewFinishedSubSlot: deferred: rc challenge[%s]", rcChallenge)
			return SubSlotResult{Status: Deferred, Reason: ErrUnknownRewardChallenge}
		}

		var err error
		if exp, err = header.ExpectAfterPeak(fns.c, blocks, peak, ccChallenge, peak.SubSlotIters, slotEnd); err != nil {
			return SubSlotResult{Status: Rejected, Reason: err}
		}

		if ses, err = header.SummaryAfterPeak(fns.c, blocks, peak); err != nil {
			return SubSlotResult{Status: Rejected, Reason: err}
		}

	default:
		ssi := fns.c.SubSlotItersStarting
		if peak != nil {
			ssi = nextSSI
		}
		exp = header.ExpectAfterSlot(fns.c, last.eos, ssi)
	}

	// Only the sub-slot the peak was infused in may close a sub-epoch.
	if !summaryMatches(eos.ChallengeChain, ses) {
		return SubSlotResult{Status: Rejected, Reason: types.ErrInvalidSubEpochSummary}
	}

	if code := header.ValidateEndOfSlot(fns.c, fns.vdf, eos, exp); code != types.ErrNone {
		return SubSlotResult{Status: Rejected, Reason: code}
	}

	bundle := *eos
	fns.finishedSubSlots = append(fns.finishedSubSlots, subSlot{
		eos:        &bundle,
		sps:        fns.emptySignagePoints(),
		totalIters: last.totalIters + exp.SubSlotIters,
	})

	ccHash := bundle.ChallengeChain.Hash()
	fns.recentEOS.Add(ccHash, recentEOS{eos: bundle, added: fns.now()})
	fns.evHandler("store: NewFinishedSubSlot: accepted: cc[%s] total iters[%d]", ccHash, last.totalIters+exp.SubSlotIters)

	ips := fns.futureIPCache[bundle.RewardChain.Hash()]

	return SubSlotResult{
		Status:            Accepted,
		NewInfusionPoints: append([]types.NewInfusionPointVDF(nil), ips...),
	}
}

// summaryMatches reports whether the challenge chain sub-slot commits to the
// expected sub-epoch summary, or to none when ses is nil.
func summaryMatches(cc types.ChallengeChainSubSlot, ses *types.SubEpochSummary) bool {
	if ses == nil {
		return cc.SubepochSummaryHash == nil && cc.NewSubSlotIters == nil && cc.NewDifficulty == nil
	}

	if cc.SubepochSummaryHash == nil || *cc.SubepochSummaryHash != ses.Hash() {
		return false
	}

	return equalUint64(cc.NewSubSlotIters, ses.NewSubSlotIters) && equalUint64(cc.NewDifficulty, ses.NewDifficulty)
}

func equalUint64(a *uint64, b *uint64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// =============================================================================

// NewSignagePoint offers the signage point at index of a tracked sub-slot.
// Signage points for sub-slots or blocks not known yet are deferred. With
// skipVDF the proofs are taken as valid, which callers do for material they
// produced themselves.
func (fns *FullNodeStore) NewSignagePoint(index uint8, blocks database.Blockchain, peak *types.BlockRecord, nextSSI uint64, sp types.SignagePoint, skipVDF bool) SignagePointResult {
	if index == 0 || uint32(index) >= fns.c.NumSPsSubSlot {
		return SignagePointResult{Status: Rejected, Reason: ErrInvalidSignagePoint}
	}
	if !sp.IsComplete() {
		return SignagePointResult{Status: Rejected, Reason: ErrIncompleteSignagePoint}
	}

	ssi := fns.c.SubSlotItersStarting
	if peak != nil && peak.Height >= 2 {
		ssi = peak.SubSlotIters
	}

	for i := range fns.finishedSubSlots {
		ss := &fns.finishedSubSlots[i]

		slotCC, slotRC := fns.slotChallenges(*ss)
		if slotCC != sp.CCVDF.Challenge {
			continue
		}

		future := peak != nil && ss.totalIters > peak.TotalIters
		slotSSI := ssi
		if future {
			slotSSI = nextSSI
		}

		exp, err := header.ExpectSignagePoint(fns.c, blocks, peak, slotCC, slotRC, ss.totalIters, slotSSI, future, index)
		if err != nil {
			return SignagePointResult{Status: Rejected, Reason: err}
		}

		if sp.CCVDF.NumberOfIterations != exp.Delta {
			return SignagePointResult{Status: Rejected, Reason: types.ErrInvalidCCSPVDF}
		}

		// The signage point builds on a block infused after the peak.
		if sp.RCVDF.Challenge != exp.RC.Challenge {
			fns.addToFutureSP(index, sp)
			fns.evHandler("store: NewSignagePoint: deferred: index[%d] rc challenge[%s]", index, sp.RCVDF.Challenge)
			return SignagePointResult{Status: Deferred, Reason: ErrUnknownRewardChallenge}
		}

		if !skipVDF {
			partial := types.VDFInfo{Challenge: slotCC, NumberOfIterations: exp.CC.NumberOfIterations}
			if !vdf.ValidatePartial(fns.vdf, fns.c, *sp.CCProof, exp.CCStart, partial, *sp.CCVDF) {
				return SignagePointResult{Status: Rejected, Reason: types.ErrInvalidCCSPVDF}
			}

			target := exp.RC
			target.Output = sp.RCVDF.Output
			if !vdf.Validate(fns.vdf, fns.c, *sp.RCProof, types.DefaultElement(), *sp.RCVDF, &target) {
				return SignagePointResult{Status: Rejected, Reason: types.ErrInvalidRCSPVDF}
			}
		}

		stored := sp
		ss.sps[index] = &stored
		fns.recentSignagePoints.Add(sp.CCVDF.Output.Hash(), recentSP{sp: sp, added: fns.now()})
		fns.evHandler("store: NewSignagePoint: accepted: index[%d] slot cc[%s]", index, slotCC)

		return SignagePointResult{Status: Accepted}
	}

	fns.addToFutureSP(index, sp)
	fns.evHandler("store: NewSignagePoint: deferred: index[%d] unknown sub-slot[%s]", index, sp.CCVDF.Challenge)

	return SignagePointResult{Status: Deferred, Reason: ErrUnknownSubSlot}
}

// =============================================================================

// NewPeak rebuilds the tracked sub-slots around a new peak. ipSubSlot is the
// bundle that started the sub-slot the peak was infused in and spSubSlot, for
// an overflow peak, the one that started the sub-slot of its signage point.
// A nil ipSubSlot means the peak is still in the first sub-slot and the store
// goes back to the genesis sub-slot. forkBlock is the last block shared with
// the previous peak, nil when the peak extends it. Signage points at or past
// the fork are dropped. Material deferred until this peak is replayed.
func (fns *FullNodeStore) NewPeak(peak *types.BlockRecord, spSubSlot *types.EndOfSubSlotBundle, ipSubSlot *types.EndOfSubSlotBundle, forkBlock *types.BlockRecord, blocks database.Blockchain, nextSSI uint64) PeakResult {
	fork := forkBlock
	if fork == nil {
		fork = peak
	}

	if ipSubSlot == nil {
		for _, ss := range fns.finishedSubSlots {
			fns.forgetSignagePoints(ss.sps)
		}
		fns.InitializeGenesisSubSlot()
	} else {
		fns.trackPeakSubSlots(peak, spSubSlot, ipSubSlot, fork)
	}

	var result PeakResult
	key := peak.RewardInfusionNewChallenge

	for _, eos := range fns.futureEOSCache[key] {
		eos := eos
		if res := fns.NewFinishedSubSlot(&eos, blocks, peak, nextSSI); res.Status == Accepted {
			result.AddedEOS = &eos
			break
		}
	}

	for _, f := range fns.futureSPCache[key] {
		if res := fns.NewSignagePoint(f.index, blocks, peak, nextSSI, f.sp, false); res.Status == Accepted {
			result.NewSignagePoints = append(result.NewSignagePoints, IndexedSignagePoint{Index: f.index, SignagePoint: f.sp})
		}
	}

	result.NewInfusionPoints = append(result.NewInfusionPoints, fns.futureIPCache[key]...)

	delete(fns.futureEOSCache, key)
	delete(fns.futureSPCache, key)
	delete(fns.futureIPCache, key)
	delete(fns.futureCacheKeyTimes, key)

	now := fns.now()
	for _, ss := range fns.finishedSubSlots {
		if ss.eos != nil {
			fns.recentEOS.Add(ss.eos.ChallengeChain.Hash(), recentEOS{eos: *ss.eos, added: now})
		}
	}

	fns.evHandler("store: NewPeak: height[%d] sub-slots[%d] replayed sps[%d] ips[%d]", peak.Height, len(fns.finishedSubSlots), len(result.NewSignagePoints), len(result.NewInfusionPoints))

	return result
}

// trackPeakSubSlots replaces the tracked sub-slots with the ones the peak
// straddles, keeping the signage points before the fork.
func (fns *FullNodeStore) trackPeakSubSlots(peak *types.BlockRecord, spSubSlot *types.EndOfSubSlotBundle, ipSubSlot *types.EndOfSubSlotBundle, fork *types.BlockRecord) {
	sameSSI := fork.SubSlotIters == peak.SubSlotIters
	interval := fns.c.SPIntervalIters(peak.SubSlotIters)

	spSPs, ipSPs := fns.emptySignagePoints(), fns.emptySignagePoints()

	for _, ss := range fns.finishedSubSlots {
		kept := fns.emptySignagePoints()
		for i, sp := range ss.sps {
			if sp == nil {
				continue
			}
			if sameSSI && ss.totalIters+uint64(i)*interval < fork.TotalIters {
				kept[i] = sp
				continue
			}
			fns.recentSignagePoints.Remove(sp.CCVDF.Output.Hash())
		}

		switch {
		case ss.eos == nil:
			if peak.Overflow && spSubSlot == nil {
				spSPs = kept
			}
		default:
			if ss.eos.Equal(spSubSlot) {
				spSPs = kept
			}
			if ss.eos.Equal(ipSubSlot) {
				ipSPs = kept
			}
		}
	}

	fns.ClearSlots()

	spTotal := peak.SPSubSlotTotalIters(fns.c)
	if peak.Overflow && (spSubSlot != nil || spTotal == 0) {
		fns.finishedSubSlots = append(fns.finishedSubSlots, subSlot{eos: cloneEOS(spSubSlot), sps: spSPs, totalIters: spTotal})
	}

	fns.finishedSubSlots = append(fns.finishedSubSlots, subSlot{eos: cloneEOS(ipSubSlot), sps: ipSPs, totalIters: peak.IPSubSlotTotalIters(fns.c)})
}

// forgetSignagePoints drops the signage points from the recent cache.
func (fns *FullNodeStore) forgetSignagePoints(sps []*types.SignagePoint) {
	for _, sp := range sps {
		if sp != nil {
			fns.recentSignagePoints.Remove(sp.CCVDF.Output.Hash())
		}
	}
}

func cloneEOS(eos *types.EndOfSubSlotBundle) *types.EndOfSubSlotBundle {
	if eos == nil {
		return nil
	}

	bundle := *eos
	return &bundle
}

// =============================================================================

// FinishedSubSlots returns the tracked bundles a block built on prev must
// include, up to and including the one whose challenge chain hash is
// lastChallenge. prev is nil for the genesis block.
func (fns *FullNodeStore) FinishedSubSlots(blocks database.Blockchain, prev *types.BlockRecord, lastChallenge common.Hash) ([]types.EndOfSubSlotBundle, error) {
	inChain := fns.c.GenesisChallenge
	if prev != nil {
		var err error
		if inChain, _, err = header.SlotChallenges(fns.c, blocks, prev); err != nil {
			return nil, fmt.Errorf("store: finished sub-slots: %w", err)
		}
	}

	pos := -1
	for i, ss := range fns.finishedSubSlots {
		genesis := ss.eos == nil && inChain == fns.c.GenesisChallenge
		if genesis || (ss.eos != nil && ss.eos.ChallengeChain.Hash() == inChain) {
			pos = i
			break
		}
	}

	if pos < 0 {
		return nil, fmt.Errorf("store: finished sub-slots from %s: %w", inChain, ErrSubSlotsNotConnected)
	}

	if lastChallenge == inChain {
		return []types.EndOfSubSlotBundle{}, nil
	}

	var collected []types.EndOfSubSlotBundle
	for _, ss := range fns.finishedSubSlots[pos+1:] {
		if ss.eos == nil {
			continue
		}

		collected = append(collected, *ss.eos)
		if ss.eos.ChallengeChain.Hash() == lastChallenge {
			return collected, nil
		}
	}

	return nil, fmt.Errorf("store: finished sub-slots up to %s: %w", lastChallenge, ErrSubSlotsNotConnected)
}

// SubSlot returns the tracked bundle whose challenge chain hash is the
// challenge, with its position and the total iterations where it ends.
func (fns *FullNodeStore) SubSlot(challenge common.Hash) (*types.EndOfSubSlotBundle, int, uint64, bool) {
	for i, ss := range fns.finishedSubSlots {
		if ss.eos != nil && ss.eos.ChallengeChain.Hash() == challenge {
			return cloneEOS(ss.eos), i, ss.totalIters, true
		}
	}

	return nil, 0, 0, false
}

// SignagePoint returns the tracked signage point whose challenge chain
// output hashes to the hash. The start of a tracked sub-slot is returned as
// the empty signage point.
func (fns *FullNodeStore) SignagePoint(hash common.Hash) (types.SignagePoint, bool) {
	if hash == fns.c.GenesisChallenge {
		return types.SignagePoint{}, true
	}

	for _, ss := range fns.finishedSubSlots {
		if ss.eos != nil && ss.eos.ChallengeChain.Hash() == hash {
			return types.SignagePoint{}, true
		}

		for _, sp := range ss.sps {
			if sp != nil && sp.CCVDF.Output.Hash() == hash {
				return *sp, true
			}
		}
	}

	return types.SignagePoint{}, false
}

// SignagePointByIndex returns the signage point at index of the sub-slot
// started by the challenge. It must build on lastRC, the reward chain hash
// the caller expects.
func (fns *FullNodeStore) SignagePointByIndex(challenge common.Hash, index uint8, lastRC common.Hash) (types.SignagePoint, bool) {
	for _, ss := range fns.finishedSubSlots {
		slotCC, _ := fns.slotChallenges(ss)
		if slotCC != challenge {
			continue
		}

		if index == 0 {
			return types.SignagePoint{}, true
		}
		if int(index) >= len(ss.sps) {
			return types.SignagePoint{}, false
		}

		sp := ss.sps[index]
		if sp != nil && sp.RCVDF.Challenge == lastRC {
			return *sp, true
		}
	}

	return types.SignagePoint{}, false
}

// HaveNewerSignagePoint reports whether a signage point later than index in
// the sub-slot started by the challenge, or in any later sub-slot, is
// tracked and builds on lastRC.
func (fns *FullNodeStore) HaveNewerSignagePoint(challenge common.Hash, index uint8, lastRC common.Hash) bool {
	var found bool
	for _, ss := range fns.finishedSubSlots {
		slotCC, _ := fns.slotChallenges(ss)
		if slotCC == challenge {
			found = true
		}
		if !found {
			continue
		}

		for i, sp := range ss.sps {
			if sp == nil || sp.RCVDF.Challenge != lastRC {
				continue
			}
			if slotCC != challenge || i > int(index) {
				return true
			}
		}
	}

	return false
}

// RecentSignagePoint returns a signage point accepted recently by the hash of
// its challenge chain output, with the time it was accepted.
func (fns *FullNodeStore) RecentSignagePoint(hash common.Hash) (types.SignagePoint, time.Time, bool) {
	r, exists := fns.recentSignagePoints.Get(hash)
	if !exists {
		return types.SignagePoint{}, time.Time{}, false
	}

	return r.sp, r.added, true
}

// RecentEOS returns a bundle accepted recently by its challenge chain hash,
// with the time it was accepted.
func (fns *FullNodeStore) RecentEOS(hash common.Hash) (types.EndOfSubSlotBundle, time.Time, bool) {
	r, exists := fns.recentEOS.Get(hash)
	if !exists {
		return types.EndOfSubSlotBundle{}, time.Time{}, false
	}

	return r.eos, r.added, true
}
