// Package reward implements the block reward schedule.
package reward

import "github.com/ardanlabs/fullnode/foundation/blockchain/genesis"

// Units and periods of the schedule.
const (
	MojoPerCoin   uint64 = 1_000_000_000_000
	BlocksPerYear uint32 = 1_681_920
)

// The 21 million coin pre-farm paid by the genesis block. The total does not
// fit in a uint64 so only the shares are kept.
const (
	PreFarmPool   uint64 = 18_375_000 * MojoPerCoin
	PreFarmFarmer uint64 = 2_625_000 * MojoPerCoin
)

// Total returns the block reward at a height above zero before it is split
// between the pool and the farmer. The reward halves every three years.
func Total(height uint32) uint64 {
	switch {
	case height < 3*BlocksPerYear:
		return 2 * MojoPerCoin
	case height < 6*BlocksPerYear:
		return MojoPerCoin
	case height < 9*BlocksPerYear:
		return MojoPerCoin / 2
	case height < 12*BlocksPerYear:
		return MojoPerCoin / 4
	default:
		return MojoPerCoin / 8
	}
}

// Pool returns the pool's share: 7/8 of the reward, or nothing once the
// reward hard fork is active. The pre-farm is always split.
func Pool(c genesis.Constants, height uint32) uint64 {
	if height == 0 {
		return PreFarmPool
	}

	if height >= c.RewardHardForkHeight {
		return 0
	}

	return Total(height) / 8 * 7
}

// BaseFarmer returns the farmer's share before fees: 1/8 of the reward, or the
// whole reward once the reward hard fork is active.
func BaseFarmer(c genesis.Constants, height uint32) uint64 {
	if height == 0 {
		return PreFarmFarmer
	}

	if height >= c.RewardHardForkHeight {
		return Total(height)
	}

	return Total(height) / 8
}
