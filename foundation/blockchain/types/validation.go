package types

import (
	"fmt"

	"github.com/ardanlabs/fullnode/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common"
)

// Err is a consensus validation error code. The zero value means no error.
type Err uint16

// Set of validation error codes.
const (
	ErrNone Err = iota
	ErrUnknown
	ErrInvalidPrevBlockHash
	ErrInvalidHeight
	ErrInvalidWeight
	ErrInvalidTotalIters
	ErrInvalidPrevChallengeSlotHash
	ErrInvalidSubEpochSummary
	ErrInvalidSubEpochSummaryHash
	ErrInvalidCCEOSVDF
	ErrInvalidRCEOSVDF
	ErrInvalidICCEOSVDF
	ErrInvalidSPIndex
	ErrInvalidPOSpace
	ErrInvalidRequiredIters
	ErrInvalidCCSPVDF
	ErrInvalidRCSPVDF
	ErrInvalidCCIPVDF
	ErrInvalidRCIPVDF
	ErrInvalidICCVDF
	ErrInvalidIsTransactionBlock
	ErrInvalidFoliageBlockPresence
	ErrInvalidTransactionsInfoHash
	ErrTimestampTooFarInPast
	ErrTimestampTooFarInFuture
	ErrBlockCostExceedsMax
	ErrGeneratorRuntimeError
	ErrBadAggregateSignature
	ErrInvalidAncestry
	ErrInvalidCCChallenge
	ErrInvalidDeficit
	ErrInvalidRewardBlockHash
	ErrInvalidNewSubSlotIters
	ErrInvalidNewDifficulty
)

var errNames = map[Err]string{
	ErrNone:                         "NONE",
	ErrUnknown:                      "UNKNOWN",
	ErrInvalidPrevBlockHash:         "INVALID_PREV_BLOCK_HASH",
	ErrInvalidHeight:                "INVALID_HEIGHT",
	ErrInvalidWeight:                "INVALID_WEIGHT",
	ErrInvalidTotalIters:            "INVALID_TOTAL_ITERS",
	ErrInvalidPrevChallengeSlotHash: "INVALID_PREV_CHALLENGE_SLOT_HASH",
	ErrInvalidSubEpochSummary:       "INVALID_SUB_EPOCH_SUMMARY",
	ErrInvalidSubEpochSummaryHash:   "INVALID_SUB_EPOCH_SUMMARY_HASH",
	ErrInvalidCCEOSVDF:              "INVALID_CC_EOS_VDF",
	ErrInvalidRCEOSVDF:              "INVALID_RC_EOS_VDF",
	ErrInvalidICCEOSVDF:             "INVALID_ICC_EOS_VDF",
	ErrInvalidSPIndex:               "INVALID_SP_INDEX",
	ErrInvalidPOSpace:               "INVALID_POSPACE",
	ErrInvalidRequiredIters:         "INVALID_REQUIRED_ITERS",
	ErrInvalidCCSPVDF:               "INVALID_CC_SP_VDF",
	ErrInvalidRCSPVDF:               "INVALID_RC_SP_VDF",
	ErrInvalidCCIPVDF:               "INVALID_CC_IP_VDF",
	ErrInvalidRCIPVDF:               "INVALID_RC_IP_VDF",
	ErrInvalidICCVDF:                "INVALID_ICC_VDF",
	ErrInvalidIsTransactionBlock:    "INVALID_IS_TRANSACTION_BLOCK",
	ErrInvalidFoliageBlockPresence:  "INVALID_FOLIAGE_BLOCK_PRESENCE",
	ErrInvalidTransactionsInfoHash:  "INVALID_TRANSACTIONS_INFO_HASH",
	ErrTimestampTooFarInPast:        "TIMESTAMP_TOO_FAR_IN_PAST",
	ErrTimestampTooFarInFuture:      "TIMESTAMP_TOO_FAR_IN_FUTURE",
	ErrBlockCostExceedsMax:          "BLOCK_COST_EXCEEDS_MAX",
	ErrGeneratorRuntimeError:        "GENERATOR_RUNTIME_ERROR",
	ErrBadAggregateSignature:        "BAD_AGGREGATE_SIGNATURE",
	ErrInvalidAncestry:              "INVALID_ANCESTRY",
	ErrInvalidCCChallenge:           "INVALID_CC_CHALLENGE",
	ErrInvalidDeficit:               "INVALID_DEFICIT",
	ErrInvalidRewardBlockHash:       "INVALID_REWARD_BLOCK_HASH",
	ErrInvalidNewSubSlotIters:       "INVALID_NEW_SUB_SLOT_ITERS",
	ErrInvalidNewDifficulty:         "INVALID_NEW_DIFFICULTY",
}

// String implements the fmt.Stringer interface.
func (e Err) String() string {
	if name, exists := errNames[e]; exists {
		return name
	}
	return fmt.Sprintf("ERR(%d)", uint16(e))
}

// Error implements the error interface so codes can travel as errors.
func (e Err) Error() string {
	return e.String()
}

// =============================================================================

// AggSig is a signature requirement produced by a spend. Me requirements sign
// over the coin id and the network's additional data as well.
type AggSig struct {
	PublicKey signature.G1Element
	Message   []byte
	Me        bool
	CoinID    common.Hash
}

// Conditions is the result of running a block generator.
type Conditions struct {
	Error     Err
	Cost      uint64
	Removals  []common.Hash
	Additions []Coin
	AggSigs   []AggSig
}

// PKMPairs returns the public keys and messages the block's aggregated
// signature must cover.
func (c *Conditions) PKMPairs(additionalData []byte) ([]signature.G1Element, [][]byte) {
	pks := make([]signature.G1Element, 0, len(c.AggSigs))
	msgs := make([][]byte, 0, len(c.AggSigs))

	for _, as := range c.AggSigs {
		msg := as.Message
		if as.Me {
			msg = append(append(append([]byte{}, msg...), as.CoinID.Bytes()...), additionalData...)
		}
		pks = append(pks, as.PublicKey)
		msgs = append(msgs, msg)
	}

	return pks, msgs
}

// =============================================================================

// ValidationStage records how far pre-validation got with a block.
type ValidationStage uint8

// Set of validation stages.
const (
	StageNone ValidationStage = iota
	StageConditions
	StageHeader
	StageSignature
)

// PreValidationResult is the outcome of pre-validating one block.
// RequiredIters is set iff Error is ErrNone.
type PreValidationResult struct {
	Error              Err
	RequiredIters      uint64
	Conditions         *Conditions
	ValidatedSignature bool
	Stage              ValidationStage
}

// Failed reports whether the block was rejected.
func (r PreValidationResult) Failed() bool {
	return r.Error != ErrNone
}
