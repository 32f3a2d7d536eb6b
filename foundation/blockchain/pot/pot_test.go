package pot_test

import (
	"errors"
	"testing"

	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/pot"
	"github.com/ethereum/go-ethereum/common"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_IPIters(t *testing.T) {
	c := genesis.Testnet().Constants

	type table struct {
		name     string
		ssi      uint64
		spIndex  uint8
		required uint64
		exp      uint64
		err      error
	}

	tt := []table{
		{name: "start", ssi: 4096, spIndex: 0, required: 1, exp: 3*128 + 1},
		{name: "middle", ssi: 4096, spIndex: 10, required: 100, exp: 13*128 + 100},
		{name: "overflow-wraps", ssi: 4096, spIndex: 30, required: 5, exp: (33*128 + 5) % 4096},
		{name: "index-out-of-range", ssi: 4096, spIndex: 32, required: 5, err: pot.ErrInvalidSPIndex},
		{name: "required-zero", ssi: 4096, spIndex: 3, required: 0, err: pot.ErrInvalidRequiredIters},
		{name: "required-interval", ssi: 4096, spIndex: 3, required: 128, err: pot.ErrInvalidRequiredIters},
	}

	t.Log("Given the need to place infusion points inside a sub-slot.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen handling sp index %d with %d required iters.", testID, tst.spIndex, tst.required)
				{
					got, err := pot.IPIters(c, tst.ssi, tst.spIndex, tst.required)
					if tst.err != nil {
						if !errors.Is(err, tst.err) {
							t.Fatalf("\t%s\tTest %d:\tShould get error %v: %v", failed, testID, tst.err, err)
						}
						t.Logf("\t%s\tTest %d:\tShould get error %v.", success, testID, tst.err)
						return
					}

					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould be able to compute ip iters: %v", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould be able to compute ip iters.", success, testID)

					if got != tst.exp {
						t.Logf("\t%s\tTest %d:\tgot: %d", failed, testID, got)
						t.Logf("\t%s\tTest %d:\texp: %d", failed, testID, tst.exp)
						t.Fatalf("\t%s\tTest %d:\tShould get the right ip iters.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould get the right ip iters.", success, testID)
				}
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_IsOverflowBlock(t *testing.T) {
	c := genesis.Testnet().Constants

	t.Log("Given the need to know which signage points overflow.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen walking every signage point index.", testID)
		{
			for i := uint8(0); i < uint8(c.NumSPsSubSlot); i++ {
				overflow, err := pot.IsOverflowBlock(c, i)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould accept index %d: %v", failed, testID, i, err)
				}

				exp := uint32(i) >= c.NumSPsSubSlot-c.NumSPIntervalsExtra
				if overflow != exp {
					t.Fatalf("\t%s\tTest %d:\tShould flag index %d overflow=%v.", failed, testID, i, exp)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould flag only the last %d indexes as overflow.", success, testID, c.NumSPIntervalsExtra)

			if _, err := pot.IsOverflowBlock(c, uint8(c.NumSPsSubSlot)); !errors.Is(err, pot.ErrInvalidSPIndex) {
				t.Fatalf("\t%s\tTest %d:\tShould reject index %d: %v", failed, testID, c.NumSPsSubSlot, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject index %d.", success, testID, c.NumSPsSubSlot)
		}
	}
}

func Test_IterationsQuality(t *testing.T) {
	c := genesis.Testnet().Constants
	quality := common.HexToHash("0x41")
	spHash := common.HexToHash("0x42")

	t.Log("Given the need to convert a quality string into required iterations.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen using a large plot against a small difficulty.", testID)
		{
			got := pot.IterationsQuality(c, quality, 32, 1, spHash)
			if got != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould floor at one iteration, got %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould floor at one iteration.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen raising the difficulty.", testID)
		{
			low := pot.IterationsQuality(c, quality, 18, 1000, spHash)
			high := pot.IterationsQuality(c, quality, 18, 4000, spHash)
			if high < low {
				t.Fatalf("\t%s\tTest %d:\tShould not need fewer iterations: low %d high %d.", failed, testID, low, high)
			}
			t.Logf("\t%s\tTest %d:\tShould need at least as many iterations.", success, testID)

			again := pot.IterationsQuality(c, quality, 18, 1000, spHash)
			if again != low {
				t.Fatalf("\t%s\tTest %d:\tShould be deterministic.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould be deterministic.", success, testID)
		}
	}
}
