package store

import (
	"fmt"
	"time"

	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ardanlabs/fullnode/foundation/blockchain/vdf"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru/v2"
)

// subSlot is a tracked sub-slot with the signage points of the sub-slot its
// bundle starts. A nil eos stands for the start of the chain. totalIters is
// the total iterations where the bundle ends.
type subSlot struct {
	eos        *types.EndOfSubSlotBundle
	sps        []*types.SignagePoint
	totalIters uint64
}

type candidate struct {
	height uint32
	block  *types.UnfinishedBlock
}

type recentSP struct {
	sp    types.SignagePoint
	added time.Time
}

type recentEOS struct {
	eos   types.EndOfSubSlotBundle
	added time.Time
}

type futureSP struct {
	index uint8
	sp    types.SignagePoint
}

// FullNodeStore holds the consensus material of a full node. It does no
// locking of its own and is only reachable through Store.Update.
type FullNodeStore struct {
	c         genesis.Constants
	vdf       vdf.Verifier
	ttl       time.Duration
	now       func() time.Time
	evHandler func(v string, args ...any)

	candidateBlocks       map[common.Hash]candidate
	candidateBackupBlocks map[common.Hash]candidate

	seenUnfinishedBlocks       *lru.Cache[common.Hash, struct{}]
	unfinishedBlocks           map[common.Hash]*unfinishedBucket
	requestingUnfinishedBlocks map[common.Hash]map[common.Hash]int
	unfinishedSeq              uint64

	finishedSubSlots []subSlot

	futureEOSCache      map[common.Hash][]types.EndOfSubSlotBundle
	futureSPCache       map[common.Hash][]futureSP
	futureIPCache       map[common.Hash][]types.NewInfusionPointVDF
	futureCacheKeyTimes map[common.Hash]time.Time

	recentSignagePoints *lru.Cache[common.Hash, recentSP]
	recentEOS           *lru.Cache[common.Hash, recentEOS]
}

func newFullNodeStore(cfg Config) (*FullNodeStore, error) {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	seenSize := cfg.MaxSeenUnfinishedBlocks
	if seenSize <= 0 {
		seenSize = DefaultMaxSeenUnfinishedBlocks
	}
	spSize := cfg.RecentSignagePoints
	if spSize <= 0 {
		spSize = DefaultRecentSignagePoints
	}
	eosSize := cfg.RecentEOS
	if eosSize <= 0 {
		eosSize = DefaultRecentEOS
	}
	ttl := cfg.FutureCacheTTL
	if ttl <= 0 {
		ttl = DefaultFutureCacheTTL
	}

	seen, err := lru.New[common.Hash, struct{}](seenSize)
	if err != nil {
		return nil, fmt.Errorf("store: seen unfinished blocks: %w", err)
	}

	recentSPs, err := lru.New[common.Hash, recentSP](spSize)
	if err != nil {
		return nil, fmt.Errorf("store: recent signage points: %w", err)
	}

	recentEOSs, err := lru.New[common.Hash, recentEOS](eosSize)
	if err != nil {
		return nil, fmt.Errorf("store: recent eos: %w", err)
	}

	fns := FullNodeStore{
		c:                          cfg.Constants,
		vdf:                        cfg.VDF,
		ttl:                        ttl,
		now:                        now,
		evHandler:                  ev,
		candidateBlocks:            make(map[common.Hash]candidate),
		candidateBackupBlocks:      make(map[common.Hash]candidate),
		seenUnfinishedBlocks:       seen,
		unfinishedBlocks:           make(map[common.Hash]*unfinishedBucket),
		requestingUnfinishedBlocks: make(map[common.Hash]map[common.Hash]int),
		futureEOSCache:             make(map[common.Hash][]types.EndOfSubSlotBundle),
		futureSPCache:              make(map[common.Hash][]futureSP),
		futureIPCache:              make(map[common.Hash][]types.NewInfusionPointVDF),
		futureCacheKeyTimes:        make(map[common.Hash]time.Time),
		recentSignagePoints:        recentSPs,
		recentEOS:                  recentEOSs,
	}
	fns.InitializeGenesisSubSlot()

	return &fns, nil
}

// =============================================================================

// AddCandidateBlock keeps a block template built for a farmer, keyed by the
// quality of its proof of space. Backup templates are used when the primary
// one fails late validation.
func (fns *FullNodeStore) AddCandidateBlock(quality common.Hash, height uint32, ub *types.UnfinishedBlock, backup bool) {
	cand := candidate{height: height, block: ub}

	if backup {
		fns.candidateBackupBlocks[quality] = cand
		return
	}
	fns.candidateBlocks[quality] = cand
}

// CandidateBlock returns the template stored for the quality.
func (fns *FullNodeStore) CandidateBlock(quality common.Hash, backup bool) (*types.UnfinishedBlock, bool) {
	blocks := fns.candidateBlocks
	if backup {
		blocks = fns.candidateBackupBlocks
	}

	cand, exists := blocks[quality]
	if !exists {
		return nil, false
	}

	return cand.block, true
}

// ClearCandidateBlocksBelow drops the templates built for heights below the
// height.
func (fns *FullNodeStore) ClearCandidateBlocksBelow(height uint32) {
	for quality, cand := range fns.candidateBlocks {
		if cand.height < height {
			delete(fns.candidateBlocks, quality)
		}
	}

	for quality, cand := range fns.candidateBackupBlocks {
		if cand.height < height {
			delete(fns.candidateBackupBlocks, quality)
		}
	}
}

// =============================================================================

// SeenUnfinishedBlock reports whether the hash was seen before and records it
// when it was not. The oldest hashes are forgotten once the configured
// capacity is reached.
func (fns *FullNodeStore) SeenUnfinishedBlock(hash common.Hash) bool {
	if fns.seenUnfinishedBlocks.Contains(hash) {
		return true
	}

	fns.seenUnfinishedBlocks.Add(hash, struct{}{})
	return false
}

// ClearSeenUnfinishedBlocks forgets every hash seen so far.
func (fns *FullNodeStore) ClearSeenUnfinishedBlocks() {
	fns.seenUnfinishedBlocks.Purge()
}

// =============================================================================

// IsRequestingUnfinishedBlock reports whether the variant is being requested
// from a peer, along with how many requests for any variant of the block are
// in flight. A nil foliage hash names the variant without a transaction
// block.
func (fns *FullNodeStore) IsRequestingUnfinishedBlock(partialHash common.Hash, foliage *common.Hash) (bool, int) {
	variants, exists := fns.requestingUnfinishedBlocks[partialHash]
	if !exists {
		return false, 0
	}

	var total int
	for _, n := range variants {
		total += n
	}

	_, requesting := variants[foliageKey(foliage)]
	return requesting, total
}

// MarkRequestingUnfinishedBlock records a request for the variant.
func (fns *FullNodeStore) MarkRequestingUnfinishedBlock(partialHash common.Hash, foliage *common.Hash) {
	variants, exists := fns.requestingUnfinishedBlocks[partialHash]
	if !exists {
		variants = make(map[common.Hash]int)
		fns.requestingUnfinishedBlocks[partialHash] = variants
	}

	variants[foliageKey(foliage)]++
}

// RemoveRequestingUnfinishedBlock records that a request for the variant
// completed.
func (fns *FullNodeStore) RemoveRequestingUnfinishedBlock(partialHash common.Hash, foliage *common.Hash) {
	variants, exists := fns.requestingUnfinishedBlocks[partialHash]
	if !exists {
		return
	}

	key := foliageKey(foliage)
	variants[key]--
	if variants[key] <= 0 {
		delete(variants, key)
	}

	if len(variants) == 0 {
		delete(fns.requestingUnfinishedBlocks, partialHash)
	}
}

// foliageKey maps the missing foliage hash to the zero hash. No foliage
// transaction block hashes to zero.
func foliageKey(foliage *common.Hash) common.Hash {
	if foliage == nil {
		return common.Hash{}
	}
	return *foliage
}

// =============================================================================

// unfinishedEntry is one variant of an unfinished block.
type unfinishedEntry struct {
	foliage *common.Hash
	height  uint32
	block   *types.UnfinishedBlock
	result  types.PreValidationResult
	seq     uint64
}

// lessFoliage orders variants by foliage hash, the missing hash first.
func lessFoliage(a *unfinishedEntry, b *unfinishedEntry) bool {
	switch {
	case a.foliage == nil:
		return b.foliage != nil
	case b.foliage == nil:
		return false
	}

	return a.foliage.Cmp(*b.foliage) < 0
}

// unfinishedBucket holds the variants sharing a partial hash.
type unfinishedBucket struct {
	variants *btree.BTreeG[*unfinishedEntry]
}

// best returns the variant with the lowest foliage hash. The variant without
// a foliage hash is returned only when it is the only one.
func (b *unfinishedBucket) best() *unfinishedEntry {
	var best *unfinishedEntry
	b.variants.Ascend(func(e *unfinishedEntry) bool {
		best = e
		return e.foliage == nil
	})

	return best
}

// first returns the variant that was added first.
func (b *unfinishedBucket) first() *unfinishedEntry {
	var first *unfinishedEntry
	b.variants.Ascend(func(e *unfinishedEntry) bool {
		if first == nil || e.seq < first.seq {
			first = e
		}
		return true
	})

	return first
}

// UnfinishedBlockEntry is a stored unfinished block with the height it was
// stored for and its pre-validation result.
type UnfinishedBlockEntry struct {
	Height uint32
	Block  *types.UnfinishedBlock
	Result types.PreValidationResult
}

// AddUnfinishedBlock stores a variant of an unfinished block, replacing the
// variant with the same foliage hash.
func (fns *FullNodeStore) AddUnfinishedBlock(height uint32, ub *types.UnfinishedBlock, result types.PreValidationResult) {
	partialHash := ub.PartialHash()

	bucket, exists := fns.unfinishedBlocks[partialHash]
	if !exists {
		bucket = &unfinishedBucket{variants: btree.NewG[*unfinishedEntry](8, lessFoliage)}
		fns.unfinishedBlocks[partialHash] = bucket
	}

	fns.unfinishedSeq++
	entry := unfinishedEntry{
		foliage: ub.FoliageTransactionBlockHash(),
		height:  height,
		block:   ub,
		result:  result,
		seq:     fns.unfinishedSeq,
	}

	if prev, replaced := bucket.variants.ReplaceOrInsert(&entry); replaced {
		entry.seq = prev.seq
	}
}

// UnfinishedBlock returns the preferred variant for the partial hash: the
// one with the lowest foliage hash, or the one without a transaction block
// when no other exists.
func (fns *FullNodeStore) UnfinishedBlock(partialHash common.Hash) (*types.UnfinishedBlock, bool) {
	bucket, exists := fns.unfinishedBlocks[partialHash]
	if !exists {
		return nil, false
	}

	best := bucket.best()
	if best == nil {
		return nil, false
	}

	return best.block, true
}

// UnfinishedBlock2 looks up a specific variant. It also returns how many
// variants are stored and whether a variant better than the requested one
// exists, which tells a peer offering that foliage it need not be fetched. A
// nil foliage hash returns the first variant stored.
func (fns *FullNodeStore) UnfinishedBlock2(partialHash common.Hash, foliage *common.Hash) (*types.UnfinishedBlock, int, bool) {
	bucket, exists := fns.unfinishedBlocks[partialHash]
	if !exists {
		return nil, 0, false
	}

	count := bucket.variants.Len()

	if foliage == nil {
		if first := bucket.first(); first != nil {
			return first.block, count, false
		}
		return nil, count, false
	}

	key := unfinishedEntry{foliage: foliage}

	var worse bool
	bucket.variants.Ascend(func(e *unfinishedEntry) bool {
		if e.foliage == nil {
			return true
		}
		worse = lessFoliage(e, &key)
		return false
	})

	entry, found := bucket.variants.Get(&key)
	if !found {
		return nil, count, worse
	}

	return entry.block, count, worse
}

// UnfinishedBlockResult returns the pre-validation result stored with the
// variant.
func (fns *FullNodeStore) UnfinishedBlockResult(partialHash common.Hash, foliage *common.Hash) (types.PreValidationResult, bool) {
	bucket, exists := fns.unfinishedBlocks[partialHash]
	if !exists {
		return types.PreValidationResult{}, false
	}

	entry, found := bucket.variants.Get(&unfinishedEntry{foliage: foliage})
	if !found {
		return types.PreValidationResult{}, false
	}

	return entry.result, true
}

// UnfinishedBlocks returns the preferred variant of every stored block keyed
// by partial hash.
func (fns *FullNodeStore) UnfinishedBlocks() map[common.Hash]UnfinishedBlockEntry {
	blocks := make(map[common.Hash]UnfinishedBlockEntry, len(fns.unfinishedBlocks))
	for partialHash, bucket := range fns.unfinishedBlocks {
		if best := bucket.best(); best != nil {
			blocks[partialHash] = UnfinishedBlockEntry{Height: best.height, Block: best.block, Result: best.result}
		}
	}

	return blocks
}

// ClearUnfinishedBlocksBelow drops the variants stored for heights below the
// height.
func (fns *FullNodeStore) ClearUnfinishedBlocksBelow(height uint32) {
	for partialHash, bucket := range fns.unfinishedBlocks {
		var stale []*unfinishedEntry
		bucket.variants.Ascend(func(e *unfinishedEntry) bool {
			if e.height < height {
				stale = append(stale, e)
			}
			return true
		})

		for _, e := range stale {
			bucket.variants.Delete(e)
		}

		if bucket.variants.Len() == 0 {
			delete(fns.unfinishedBlocks, partialHash)
		}
	}
}

// RemoveUnfinishedBlock drops every variant of the block.
func (fns *FullNodeStore) RemoveUnfinishedBlock(partialHash common.Hash) {
	delete(fns.unfinishedBlocks, partialHash)
}
