package types

import (
	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ethereum/go-ethereum/common"
)

// BlockRecord is the per block metadata the consensus rules look at. Records
// are built once a block passes validation and are never mutated.
type BlockRecord struct {
	HeaderHash                         common.Hash
	PrevHash                           common.Hash
	Height                             uint32
	Weight                             uint64
	TotalIters                         uint64
	SignagePointIndex                  uint8
	ChallengeVDFOutput                 ClassgroupElement
	InfusedChallengeVDFOutput          *ClassgroupElement
	RewardInfusionNewChallenge         common.Hash
	ChallengeBlockInfoHash             common.Hash
	SubSlotIters                       uint64
	PoolPuzzleHash                     common.Hash
	FarmerPuzzleHash                   common.Hash
	RequiredIters                      uint64
	Deficit                            uint8
	Overflow                           bool
	PrevTransactionBlockHeight         uint32
	IsTransactionBlock                 bool
	Timestamp                          *uint64
	PrevTransactionBlockHash           *common.Hash
	Fees                               *uint64
	RewardClaimsIncorporated           []Coin
	FinishedChallengeSlotHashes        []common.Hash
	FinishedInfusedChallengeSlotHashes []common.Hash
	FinishedRewardSlotHashes           []common.Hash
	SubEpochSummaryIncluded            *SubEpochSummary
}

// FirstInSubSlot reports whether the block is the first one infused in its
// sub-slot.
func (br *BlockRecord) FirstInSubSlot() bool {
	return br.FinishedChallengeSlotHashes != nil
}

// IsChallengeBlock reports whether the block starts the infused challenge
// chain of its sub-slot.
func (br *BlockRecord) IsChallengeBlock(c genesis.Constants) bool {
	return br.Deficit == c.MinBlocksPerChallengeBlock-1
}

// SPIters returns the iterations from the start of the sub-slot to the
// block's signage point.
func (br *BlockRecord) SPIters(c genesis.Constants) uint64 {
	return c.SPIntervalIters(br.SubSlotIters) * uint64(br.SignagePointIndex)
}

// IPIters returns the iterations from the start of the infusion sub-slot to
// the block's infusion point. Records are built from validated headers so the
// index and required iterations are in range.
func (br *BlockRecord) IPIters(c genesis.Constants) uint64 {
	interval := c.SPIntervalIters(br.SubSlotIters)
	return (br.SPIters(c) + uint64(c.NumSPIntervalsExtra)*interval + br.RequiredIters) % br.SubSlotIters
}

// IPSubSlotTotalIters returns the total iterations at the start of the sub-slot
// the block was infused in.
func (br *BlockRecord) IPSubSlotTotalIters(c genesis.Constants) uint64 {
	return br.TotalIters - br.IPIters(c)
}

// SPSubSlotTotalIters returns the total iterations at the start of the sub-slot
// holding the block's signage point. That's the previous sub-slot for overflow
// blocks.
func (br *BlockRecord) SPSubSlotTotalIters(c genesis.Constants) uint64 {
	if br.Overflow {
		return br.TotalIters - br.IPIters(c) - br.SubSlotIters
	}
	return br.TotalIters - br.IPIters(c)
}

// SPTotalIters returns the total iterations at the block's signage point.
func (br *BlockRecord) SPTotalIters(c genesis.Constants) uint64 {
	return br.SPSubSlotTotalIters(c) + br.SPIters(c)
}
