// Package generator runs block generator programs through an external
// execution engine and maps the outcome to validation codes.
package generator

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
)

// ErrCostExceeded is returned by runners when a program runs out of cost.
var ErrCostExceeded = errors.New("cost exceeded")

// Runner represents the program execution engine.
type Runner interface {
	GetNamePuzzleConditions(gen types.BlockGenerator, maxCost uint64, costPerByte uint64, mempoolMode bool) (types.Conditions, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(gen types.BlockGenerator, maxCost uint64, costPerByte uint64, mempoolMode bool) (types.Conditions, error)

// GetNamePuzzleConditions calls f(gen, maxCost, costPerByte, mempoolMode).
func (f RunnerFunc) GetNamePuzzleConditions(gen types.BlockGenerator, maxCost uint64, costPerByte uint64, mempoolMode bool) (types.Conditions, error) {
	return f(gen, maxCost, costPerByte, mempoolMode)
}

// =============================================================================

// Validate runs the generator within the block cost limit. Any failure is
// reported through the Error field of the returned conditions. Without a
// runner every generator fails to run.
func Validate(r Runner, c genesis.Constants, gen types.BlockGenerator) types.Conditions {
	if r == nil {
		return types.Conditions{Error: types.ErrGeneratorRuntimeError}
	}

	byteCost := uint64(len(gen.Program)) * c.CostPerByte
	if byteCost > c.MaxBlockCostCLVM {
		return types.Conditions{Error: types.ErrBlockCostExceedsMax}
	}

	conds, err := r.GetNamePuzzleConditions(gen, c.MaxBlockCostCLVM, c.CostPerByte, false)
	switch {
	case errors.Is(err, ErrCostExceeded):
		return types.Conditions{Error: types.ErrBlockCostExceedsMax}
	case err != nil:
		return types.Conditions{Error: types.ErrGeneratorRuntimeError}
	}

	if conds.Error != types.ErrNone {
		return conds
	}

	if conds.Cost > c.MaxBlockCostCLVM {
		return types.Conditions{Error: types.ErrBlockCostExceedsMax}
	}

	return conds
}

// Run executes a block's generator, returning the conditions. It returns nil
// for blocks that carry no generator.
func Run(r Runner, c genesis.Constants, program []byte, refs [][]byte) (*types.Conditions, error) {
	if len(program) == 0 {
		return nil, nil
	}

	conds := Validate(r, c, types.BlockGenerator{Program: program, GeneratorRefs: refs})
	if conds.Error != types.ErrNone {
		return &conds, fmt.Errorf("run generator: %w", conds.Error)
	}

	return &conds, nil
}
