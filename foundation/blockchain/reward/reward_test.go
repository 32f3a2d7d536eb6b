package reward_test

import (
	"testing"

	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/reward"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Schedule(t *testing.T) {
	c := genesis.Default().Constants
	c.RewardHardForkHeight = 10 * reward.BlocksPerYear

	year := reward.BlocksPerYear

	type table struct {
		name   string
		height uint32
		pool   uint64
		farmer uint64
	}

	tt := []table{
		{name: "prefarm", height: 0, pool: 18_375_000 * reward.MojoPerCoin, farmer: 2_625_000 * reward.MojoPerCoin},
		{name: "first-block", height: 1, pool: 1_750_000_000_000, farmer: 250_000_000_000},
		{name: "end-first-period", height: 3*year - 1, pool: 1_750_000_000_000, farmer: 250_000_000_000},
		{name: "second-period", height: 3 * year, pool: 875_000_000_000, farmer: 125_000_000_000},
		{name: "third-period", height: 6 * year, pool: 437_500_000_000, farmer: 62_500_000_000},
		{name: "hard-fork", height: 10 * year, pool: 0, farmer: 250_000_000_000},
		{name: "tail", height: 12 * year, pool: 0, farmer: 125_000_000_000},
	}

	t.Log("Given the need to split block rewards between pool and farmer.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen computing the rewards at height %d.", testID, tst.height)
				{
					pool := reward.Pool(c, tst.height)
					if pool != tst.pool {
						t.Logf("\t%s\tTest %d:\tgot: %d", failed, testID, pool)
						t.Logf("\t%s\tTest %d:\texp: %d", failed, testID, tst.pool)
						t.Fatalf("\t%s\tTest %d:\tShould get the right pool reward.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould get the right pool reward.", success, testID)

					farmer := reward.BaseFarmer(c, tst.height)
					if farmer != tst.farmer {
						t.Logf("\t%s\tTest %d:\tgot: %d", failed, testID, farmer)
						t.Logf("\t%s\tTest %d:\texp: %d", failed, testID, tst.farmer)
						t.Fatalf("\t%s\tTest %d:\tShould get the right farmer reward.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould get the right farmer reward.", success, testID)
				}
			}

			t.Run(tst.name, f)
		}
	}
}
