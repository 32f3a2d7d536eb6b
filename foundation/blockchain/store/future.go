package store

import (
	"time"

	"github.com/ardanlabs/fullnode/foundation/blockchain/signature"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ethereum/go-ethereum/common"
)

// Material that arrives before the block it builds on is cached under that
// block's reward chain challenge and replayed by NewPeak.

func (fns *FullNodeStore) addToFutureEOS(rcChallenge common.Hash, eos types.EndOfSubSlotBundle) {
	for _, cached := range fns.futureEOSCache[rcChallenge] {
		if cached.Equal(&eos) {
			return
		}
	}

	fns.futureEOSCache[rcChallenge] = append(fns.futureEOSCache[rcChallenge], eos)
	fns.futureCacheKeyTimes[rcChallenge] = fns.now()
}

func (fns *FullNodeStore) addToFutureSP(index uint8, sp types.SignagePoint) {
	rcChallenge := sp.RCVDF.Challenge
	hash := signature.Hash(sp)

	for _, cached := range fns.futureSPCache[rcChallenge] {
		if cached.index == index && signature.Hash(cached.sp) == hash {
			return
		}
	}

	fns.futureSPCache[rcChallenge] = append(fns.futureSPCache[rcChallenge], futureSP{index: index, sp: sp})
	fns.futureCacheKeyTimes[rcChallenge] = fns.now()
}

// AddToFutureIP caches infusion point VDFs for an unfinished block the node
// does not have yet.
func (fns *FullNodeStore) AddToFutureIP(ip types.NewInfusionPointVDF) {
	rcChallenge := ip.RewardChainIPVDF.Challenge

	fns.futureIPCache[rcChallenge] = append(fns.futureIPCache[rcChallenge], ip)
	fns.futureCacheKeyTimes[rcChallenge] = fns.now()
}

// FutureIP returns the infusion point VDFs cached for the reward chain
// challenge.
func (fns *FullNodeStore) FutureIP(rcChallenge common.Hash) []types.NewInfusionPointVDF {
	return append([]types.NewInfusionPointVDF(nil), fns.futureIPCache[rcChallenge]...)
}

// FutureCacheLen returns how many challenges have material cached.
func (fns *FullNodeStore) FutureCacheLen() int {
	return len(fns.futureCacheKeyTimes)
}

// ClearOldCacheEntries drops the cached material whose challenge was last
// touched longer than the configured time to live ago.
func (fns *FullNodeStore) ClearOldCacheEntries() int {
	cutoff := fns.now().Add(-fns.ttl)

	var removed int
	for rcChallenge, added := range fns.futureCacheKeyTimes {
		if !added.Before(cutoff) {
			continue
		}

		delete(fns.futureEOSCache, rcChallenge)
		delete(fns.futureSPCache, rcChallenge)
		delete(fns.futureIPCache, rcChallenge)
		delete(fns.futureCacheKeyTimes, rcChallenge)
		removed++
	}

	if removed > 0 {
		fns.evHandler("store: ClearOldCacheEntries: removed[%d] older than[%s]", removed, cutoff.Format(time.RFC3339))
	}

	return removed
}
