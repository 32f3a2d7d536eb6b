package header_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ardanlabs/fullnode/foundation/blockchain/database"
	"github.com/ardanlabs/fullnode/foundation/blockchain/difficulty"
	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/header"
	"github.com/ardanlabs/fullnode/foundation/blockchain/simulator"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ethereum/go-ethereum/common"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

var verifiers = header.Verifiers{
	VDF: simulator.VDF{},
	PoS: simulator.PoS{},
}

// validate checks the block against the chain as it was before the block was
// added.
func validate(t *testing.T, c genesis.Constants, ch *simulator.Chain, fb *types.FullBlock) types.Err {
	t.Helper()

	db := database.New(nil)
	if h := fb.Height(); h > 0 {
		var err error
		if db, err = ch.Snapshot(h - 1); err != nil {
			t.Fatalf("snapshot at %d: %s", h-1, err)
		}
	}

	ssi, diff, err := difficulty.NextSubSlotItersAndDifficulty(c, db, len(fb.FinishedSubSlots) > 0, db.Peak())
	if err != nil {
		t.Fatalf("expected values at %d: %s", fb.Height(), err)
	}

	_, code := header.ValidateFinishedHeaderBlock(c, db, fb, true, diff, ssi, verifiers, time.Now())
	return code
}

// clone copies the block deep enough for a test to corrupt it without
// touching the chain.
func clone(fb *types.FullBlock) *types.FullBlock {
	cp := *fb
	cp.FinishedSubSlots = append([]types.EndOfSubSlotBundle(nil), fb.FinishedSubSlots...)
	cp.RewardChainBlock.ProofOfSpace.Proof = append([]byte(nil), fb.RewardChainBlock.ProofOfSpace.Proof...)
	return &cp
}

// =============================================================================

func Test_ValidChain(t *testing.T) {
	c := genesis.Testnet().Constants

	t.Log("Given the need to accept every block of a consistent chain.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen building a chain across a sub-epoch boundary.", testID)
		{
			ch := simulator.New(c)
			if err := ch.Extend(36); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to build the chain: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to build the chain.", success, testID)

			for _, fb := range ch.Blocks() {
				if code := validate(t, c, ch, fb); code != types.ErrNone {
					t.Fatalf("\t%s\tTest %d:\tShould validate block %d: %s", failed, testID, fb.Height(), code)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould validate every block.", success, testID)

			var included int
			for _, fb := range ch.Blocks() {
				br, err := ch.Database().BlockRecord(fb.HeaderHash())
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould find the record of block %d: %s", failed, testID, fb.Height(), err)
				}
				if br.SubEpochSummaryIncluded != nil {
					included++
				}
			}
			if included != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould include exactly one sub-epoch summary, got %d.", failed, testID, included)
			}
			t.Logf("\t%s\tTest %d:\tShould include exactly one sub-epoch summary.", success, testID)
		}
	}
}

func Test_CorruptBlocks(t *testing.T) {
	c := genesis.Testnet().Constants

	ch := simulator.New(c)
	if err := ch.Extend(4); err != nil {
		t.Fatalf("building chain: %s", err)
	}

	// Block 2 is a transaction block with a finished sub-slot.
	base := ch.Blocks()[2]

	type table struct {
		name    string
		corrupt func(fb *types.FullBlock)
		exp     types.Err
	}

	tt := []table{
		{
			name:    "prevhash",
			corrupt: func(fb *types.FullBlock) { fb.Foliage.PrevBlockHash = common.Hash{0xde, 0xad} },
			exp:     types.ErrInvalidPrevBlockHash,
		},
		{
			name: "eoschallenge",
			corrupt: func(fb *types.FullBlock) {
				fb.FinishedSubSlots[0].ChallengeChain.ChallengeChainEndOfSlotVDF.Challenge = common.Hash{0x01}
			},
			exp: types.ErrInvalidPrevChallengeSlotHash,
		},
		{
			name:    "pospace",
			corrupt: func(fb *types.FullBlock) { fb.RewardChainBlock.ProofOfSpace.Proof[0] ^= 0xff },
			exp:     types.ErrInvalidPOSpace,
		},
		{
			name:    "weight",
			corrupt: func(fb *types.FullBlock) { fb.RewardChainBlock.Weight++ },
			exp:     types.ErrInvalidWeight,
		},
		{
			name:    "totaliters",
			corrupt: func(fb *types.FullBlock) { fb.RewardChainBlock.TotalIters++ },
			exp:     types.ErrInvalidTotalIters,
		},
		{
			name:    "ccipproof",
			corrupt: func(fb *types.FullBlock) { fb.ChallengeChainIPProof = types.VDFProof{} },
			exp:     types.ErrInvalidCCIPVDF,
		},
		{
			name:    "txflag",
			corrupt: func(fb *types.FullBlock) { fb.RewardChainBlock.IsTransactionBlock = false },
			exp:     types.ErrInvalidIsTransactionBlock,
		},
		{
			name: "future",
			corrupt: func(fb *types.FullBlock) {
				ftb := *fb.FoliageTransactionBlock
				ftb.Timestamp = uint64(time.Now().Add(time.Hour).Unix())
				h := ftb.Hash()
				fb.FoliageTransactionBlock = &ftb
				fb.Foliage.FoliageTransactionBlockHash = &h
			},
			exp: types.ErrTimestampTooFarInFuture,
		},
		{
			name: "filter",
			corrupt: func(fb *types.FullBlock) {
				ti := *fb.TransactionsInfo
				ti.Fees++
				fb.TransactionsInfo = &ti
			},
			exp: types.ErrInvalidTransactionsInfoHash,
		},
	}

	t.Log("Given the need to reject blocks that break a consensus rule.")
	{
		if code := validate(t, c, ch, base); code != types.ErrNone {
			t.Fatalf("\t%s\tShould validate the untouched block: %s", failed, code)
		}
		t.Logf("\t%s\tShould validate the untouched block.", success)

		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen corrupting the %s of a block.", testID, tst.name)
				{
					fb := clone(base)
					tst.corrupt(fb)

					code := validate(t, c, ch, fb)
					if code != tst.exp {
						t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, code)
						t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, tst.exp)
						t.Fatalf("\t%s\tTest %d:\tShould get the expected error code.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould get the expected error code.", success, testID)
				}
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_OverflowChallenge(t *testing.T) {
	c := genesis.Testnet().Constants

	t.Log("Given the need to derive the challenge of an overflow block.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the overflow block finishes the sub-slot of its signage point.", testID)
		{
			ch := simulator.New(c)
			if err := ch.Extend(2); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to build the chain: %s", failed, testID, err)
			}

			overflowIdx := uint8(c.NumSPsSubSlot - 1)
			fb, err := ch.AddBlock(simulator.Options{SignagePointIndex: overflowIdx, Slots: 1})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to add the overflow block: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to add the overflow block.", success, testID)

			if code := validate(t, c, ch, fb); code != types.ErrNone {
				t.Fatalf("\t%s\tTest %d:\tShould validate the overflow block: %s", failed, testID, code)
			}
			t.Logf("\t%s\tTest %d:\tShould validate the overflow block.", success, testID)

			db, err := ch.Snapshot(fb.Height() - 1)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould get a snapshot: %s", failed, testID, err)
			}

			eos := fb.FinishedSubSlots[0].ChallengeChain
			got, err := header.BlockChallenge(c, db, fb.PrevHeaderHash(), fb.FinishedSubSlots, false, true, false)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould get the challenge: %s", failed, testID, err)
			}
			if got != eos.ChallengeChainEndOfSlotVDF.Challenge {
				t.Fatalf("\t%s\tTest %d:\tShould answer the challenge of the finished sub-slot.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould answer the challenge of the finished sub-slot.", success, testID)

			got, err = header.BlockChallenge(c, db, fb.PrevHeaderHash(), fb.FinishedSubSlots, false, true, true)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould get the challenge: %s", failed, testID, err)
			}
			if got != eos.Hash() {
				t.Fatalf("\t%s\tTest %d:\tShould answer the new sub-slot while it is not finished.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould answer the new sub-slot while it is not finished.", success, testID)

			br, err := ch.Database().BlockRecord(fb.HeaderHash())
			if err != nil || !br.Overflow {
				t.Fatalf("\t%s\tTest %d:\tShould record the block as overflow.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould record the block as overflow.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the overflow block would land before the peak.", testID)
		{
			ch := simulator.New(c)
			if err := ch.Extend(2); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to build the chain: %s", failed, testID, err)
			}

			_, _, _, err := ch.Build(simulator.Options{SignagePointIndex: uint8(c.NumSPsSubSlot - 1)})
			if !errors.Is(err, simulator.ErrBehindPeak) {
				t.Fatalf("\t%s\tTest %d:\tShould refuse to build the block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould refuse to build the block.", success, testID)
		}
	}
}

func Test_BlockRecord(t *testing.T) {
	c := genesis.Testnet().Constants

	ch := simulator.New(c)
	if err := ch.Extend(4); err != nil {
		t.Fatalf("building chain: %s", err)
	}

	t.Log("Given the need to turn valid blocks into block records.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen rebuilding the record of a known block.", testID)
		{
			fb := ch.Blocks()[3]
			db, err := ch.Snapshot(2)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould get a snapshot: %s", failed, testID, err)
			}

			want, err := ch.Database().BlockRecord(fb.HeaderHash())
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould find the record: %s", failed, testID, err)
			}

			got, err := header.BlockToBlockRecord(c, db, want.RequiredIters, fb, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould build the record: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould build the record.", success, testID)

			if got.HeaderHash != want.HeaderHash || got.SubSlotIters != want.SubSlotIters || got.Deficit != want.Deficit || got.PrevTransactionBlockHeight != want.PrevTransactionBlockHeight {
				t.Fatalf("\t%s\tTest %d:\tShould match the record the chain holds.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould match the record the chain holds.", success, testID)

			if !got.FirstInSubSlot() || len(got.FinishedChallengeSlotHashes) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould carry the finished sub-slot hashes.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould carry the finished sub-slot hashes.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the block commits to a summary the chain does not dictate.", testID)
		{
			fb := clone(ch.Blocks()[3])
			bogus := common.Hash{0xba, 0xd5}
			fb.FinishedSubSlots[0].ChallengeChain.SubepochSummaryHash = &bogus

			db, err := ch.Snapshot(2)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould get a snapshot: %s", failed, testID, err)
			}

			_, err = header.BlockToBlockRecord(c, db, 1, fb, nil)
			if !errors.Is(err, types.ErrInvalidSubEpochSummary) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the summary: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the summary.", success, testID)
		}
	}
}
