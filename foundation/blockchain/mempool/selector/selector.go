// Package selector provides different transaction ordering algorithms for
// the per peer queues of the admission queue.
package selector

import (
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
)

// List of different select strategies.
const (
	StrategyFeeRate = "feerate"
	StrategyArrival = "arrival"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyFeeRate: feeRateLess,
	StrategyArrival: arrivalLess,
}

// Item is what a strategy looks at to order a queued transaction. Known is
// false when the peer never advertised a fee and cost for the transaction.
type Item struct {
	ID    common.Hash
	Fee   uint64
	Cost  uint64
	Known bool
	Seq   uint64
}

// Func defines a function reporting whether a must be handed out before b.
// Seq is unique within a queue and breaks every tie, so a Func never reports
// two queued items as equal. Duplicate IDs are kept out by the queue.
type Func func(a, b Item) bool

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// CompareFeeRate compares the fee per cost of a and b, returning 1 when a pays
// more per unit of cost, -1 when it pays less and 0 when both pay the same.
// Items without a known rate or with a zero cost rank below every other item.
func CompareFeeRate(a, b Item) int {
	aOK := a.Known && a.Cost > 0
	bOK := b.Known && b.Cost > 0

	switch {
	case !aOK && !bOK:
		return 0
	case !aOK:
		return -1
	case !bOK:
		return 1
	}

	// a.Fee/a.Cost vs b.Fee/b.Cost without losing precision.
	aHi, aLo := bits.Mul64(a.Fee, b.Cost)
	bHi, bLo := bits.Mul64(b.Fee, a.Cost)

	switch {
	case aHi > bHi || (aHi == bHi && aLo > bLo):
		return 1
	case aHi < bHi || (aHi == bHi && aLo < bLo):
		return -1
	}

	return 0
}
