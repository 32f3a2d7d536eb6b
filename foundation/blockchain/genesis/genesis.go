// Package genesis maintains access to the genesis file and the consensus
// constants it carries.
package genesis

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Genesis represents the genesis file.
type Genesis struct {
	Date      time.Time `json:"date"`
	Network   string    `json:"network" validate:"required"`
	Constants Constants `json:"constants"`
}

// Constants represents the consensus constants every node on a network must
// agree on. Iteration and height values are unsigned to match the protocol.
type Constants struct {
	SlotBlocksTarget           uint32      `json:"slot_blocks_target" validate:"gt=0"`                // How many blocks to target per sub-slot.
	MinBlocksPerChallengeBlock uint8       `json:"min_blocks_per_challenge_block" validate:"gt=1"`    // How many blocks must be created per slot (to make challenge sb).
	MaxSubSlotBlocks           uint32      `json:"max_sub_slot_blocks" validate:"gt=0"`               // Max number of blocks that can be infused into a sub-slot.
	NumSPsSubSlot              uint32      `json:"num_sps_sub_slot" validate:"gt=1"`                  // The number of signage points per sub-slot.
	SubSlotItersStarting       uint64      `json:"sub_slot_iters_starting" validate:"gt=0"`           // The sub_slot_iters for the first epoch.
	DifficultyConstantFactor   *big.Int    `json:"difficulty_constant_factor" validate:"required"`    // Multiplied by the difficulty to get iterations.
	DifficultyStarting         uint64      `json:"difficulty_starting" validate:"gt=0"`               // The difficulty for the first epoch.
	DifficultyChangeMaxFactor  uint64      `json:"difficulty_change_max_factor" validate:"gt=1"`      // The maximum factor by which difficulty and ssi can change per epoch.
	SubEpochBlocks             uint32      `json:"sub_epoch_blocks" validate:"gt=0"`                  // The number of blocks per sub-epoch.
	EpochBlocks                uint32      `json:"epoch_blocks" validate:"gt=0"`                      // The number of blocks per epoch, must be a multiple of SubEpochBlocks.
	SignificantBits            int         `json:"significant_bits" validate:"gt=0,lte=64"`           // The number of bits to look at in difficulty and min iters.
	MinPlotSize                uint8       `json:"min_plot_size" validate:"gt=0"`                     // Smallest accepted k.
	MaxPlotSize                uint8       `json:"max_plot_size" validate:"gtefield=MinPlotSize"`     // Largest accepted k.
	SubSlotTimeTarget          uint64      `json:"sub_slot_time_target" validate:"gt=0"`              // The target number of seconds per sub-slot.
	NumSPIntervalsExtra        uint32      `json:"num_sp_intervals_extra" validate:"ltfield=NumSPsSubSlot"` // The number of sp intervals to add to the signage point.
	MaxFutureTime              uint64      `json:"max_future_time" validate:"gt=0"`                   // The next block can have a timestamp of at most these many seconds in the future.
	NumberOfTimestamps         uint32      `json:"number_of_timestamps" validate:"gt=0"`              // Transaction blocks looked at for timestamp checks.
	GenesisChallenge           common.Hash `json:"genesis_challenge"`                                 // The challenge chain starts from this value.
	AggSigMeAdditionalData     []byte      `json:"agg_sig_me_additional_data"`                        // Appended to AGG_SIG_ME messages.
	MaxVDFWitnessSize          uint8       `json:"max_vdf_witness_size" validate:"gt=0"`              // Maximum number of compressed VDF witness levels.
	MaxBlockCostCLVM           uint64      `json:"max_block_cost_clvm" validate:"gt=0"`               // Maximum cost of a block generator.
	CostPerByte                uint64      `json:"cost_per_byte"`                                     // Cost charged per generator byte.
	RewardHardForkHeight       uint32      `json:"reward_hard_fork_height"`                           // From this height the whole block reward goes to the farmer.
}

// =============================================================================

// Load opens and consumes the genesis file, then validates the constants.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, err
	}

	if err := Check(genesis); err != nil {
		return Genesis{}, fmt.Errorf("genesis %s: %w", path, err)
	}

	return genesis, nil
}

// Default returns a genesis value carrying the mainnet-shaped constants. It is
// what tools use when no genesis file is provided.
func Default() Genesis {
	dcf := new(big.Int).Lsh(big.NewInt(1), 67)

	return Genesis{
		Date:    time.Date(2021, time.March, 19, 0, 0, 0, 0, time.UTC),
		Network: "mainnet",
		Constants: Constants{
			SlotBlocksTarget:           32,
			MinBlocksPerChallengeBlock: 16,
			MaxSubSlotBlocks:           128,
			NumSPsSubSlot:              64,
			SubSlotItersStarting:       1 << 27,
			DifficultyConstantFactor:   dcf,
			DifficultyStarting:         7,
			DifficultyChangeMaxFactor:  3,
			SubEpochBlocks:             384,
			EpochBlocks:                4608,
			SignificantBits:            8,
			MinPlotSize:                32,
			MaxPlotSize:                50,
			SubSlotTimeTarget:          600,
			NumSPIntervalsExtra:        3,
			MaxFutureTime:              5 * 60,
			NumberOfTimestamps:         11,
			GenesisChallenge:           common.HexToHash("0xccd5bb71183532bff220ba46c268991a3ff07eb358e8255a65c30a2dce0e5fbb"),
			AggSigMeAdditionalData:     common.FromHex("0xccd5bb71183532bff220ba46c268991a3ff07eb358e8255a65c30a2dce0e5fbb"),
			MaxVDFWitnessSize:          64,
			MaxBlockCostCLVM:           11_000_000_000,
			CostPerByte:                12_000,
			RewardHardForkHeight:       5_496_000,
		},
	}
}

// Testnet returns a genesis value with short epochs and small slots. Local
// simulations and the package tests run against it.
func Testnet() Genesis {
	g := Default()
	g.Network = "testnet"

	c := &g.Constants
	c.SlotBlocksTarget = 4
	c.MinBlocksPerChallengeBlock = 4
	c.MaxSubSlotBlocks = 8
	c.NumSPsSubSlot = 32
	c.SubSlotItersStarting = 1 << 12
	c.DifficultyConstantFactor = new(big.Int).Lsh(big.NewInt(1), 33)
	c.DifficultyStarting = 8
	c.SubEpochBlocks = 32
	c.EpochBlocks = 64
	c.GenesisChallenge = common.HexToHash("0xe739da31bcc4ab1767d9f1ca99eb3cec765fb4b3cb1b07bd8c5b13bd8e7a9d20")
	c.AggSigMeAdditionalData = c.GenesisChallenge.Bytes()
	c.RewardHardForkHeight = 1 << 31

	return g
}

// =============================================================================

// SPIntervalIters is the number of iterations between two signage points for
// the given sub-slot iterations.
func (c Constants) SPIntervalIters(subSlotIters uint64) uint64 {
	return subSlotIters / uint64(c.NumSPsSubSlot)
}

// SlotWalkDepth is the maximum number of ancestors a walk confined to a few
// sub-slots may visit before the chain is considered corrupt.
func (c Constants) SlotWalkDepth() int {
	return 3*int(c.MaxSubSlotBlocks) + int(c.MinBlocksPerChallengeBlock) + 10
}

// EpochWalkDepth is the maximum number of ancestors a walk back to the start of
// a sub-epoch may visit before the chain is considered corrupt.
func (c Constants) EpochWalkDepth() int {
	return int(c.SubEpochBlocks) + c.SlotWalkDepth()
}
