// Package pot implements the proof of time iteration math: where signage
// points and infusion points land inside a sub-slot and how many iterations
// a proof of space must wait before it can be infused.
package pot

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common"
)

// Set of errors for out of range iteration inputs.
var (
	ErrInvalidSPIndex       = errors.New("invalid signage point index")
	ErrInvalidSPIters       = errors.New("invalid signage point iterations")
	ErrInvalidRequiredIters = errors.New("invalid required iterations")
)

// IsOverflowBlock reports whether a block at the signage point index is
// infused in the sub-slot after the one holding its signage point.
func IsOverflowBlock(c genesis.Constants, spIndex uint8) (bool, error) {
	if uint32(spIndex) >= c.NumSPsSubSlot {
		return false, fmt.Errorf("sp index %d: %w", spIndex, ErrInvalidSPIndex)
	}

	return uint32(spIndex) >= c.NumSPsSubSlot-c.NumSPIntervalsExtra, nil
}

// SPIntervalIters returns the iterations between two signage points.
func SPIntervalIters(c genesis.Constants, subSlotIters uint64) uint64 {
	return c.SPIntervalIters(subSlotIters)
}

// SPIters returns the iterations from the start of the sub-slot to the
// signage point.
func SPIters(c genesis.Constants, subSlotIters uint64, spIndex uint8) (uint64, error) {
	if uint32(spIndex) >= c.NumSPsSubSlot {
		return 0, fmt.Errorf("sp index %d: %w", spIndex, ErrInvalidSPIndex)
	}

	return SPIntervalIters(c, subSlotIters) * uint64(spIndex), nil
}

// IPIters returns the iterations from the start of the infusion sub-slot to
// the infusion point.
func IPIters(c genesis.Constants, subSlotIters uint64, spIndex uint8, requiredIters uint64) (uint64, error) {
	spIters, err := SPIters(c, subSlotIters, spIndex)
	if err != nil {
		return 0, err
	}

	interval := SPIntervalIters(c, subSlotIters)
	if interval == 0 || spIters%interval != 0 || spIters >= subSlotIters {
		return 0, fmt.Errorf("sp iters %d ssi %d: %w", spIters, subSlotIters, ErrInvalidSPIters)
	}

	if requiredIters == 0 || requiredIters >= interval {
		return 0, fmt.Errorf("required iters %d interval %d: %w", requiredIters, interval, ErrInvalidRequiredIters)
	}

	return (spIters + uint64(c.NumSPIntervalsExtra)*interval + requiredIters) % subSlotIters, nil
}

// =============================================================================

// ExpectedPlotSize returns the expected number of entries in a plot of size k,
// (2k+1) * 2^(k-1).
func ExpectedPlotSize(k uint8) *big.Int {
	v := new(big.Int).Lsh(big.NewInt(1), uint(k)-1)
	return v.Mul(v, big.NewInt(2*int64(k)+1))
}

var two256 = new(big.Int).Lsh(big.NewInt(1), 256)

// IterationsQuality converts a proof of space quality into the number of
// iterations it must wait after its signage point. The result is at least one.
func IterationsQuality(c genesis.Constants, quality common.Hash, size uint8, difficulty uint64, ccSPOutputHash common.Hash) uint64 {
	spQuality := signature.HashBytes(quality.Bytes(), ccSPOutputHash.Bytes())

	num := new(big.Int).SetUint64(difficulty)
	num.Mul(num, c.DifficultyConstantFactor)
	num.Mul(num, new(big.Int).SetBytes(spQuality.Bytes()))

	den := new(big.Int).Mul(two256, ExpectedPlotSize(size))

	iters := num.Quo(num, den)
	switch {
	case iters.Sign() <= 0:
		return 1
	case !iters.IsUint64():
		return math.MaxUint64
	}

	return iters.Uint64()
}
