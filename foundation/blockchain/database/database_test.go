package database_test

import (
	"errors"
	"testing"

	"github.com/ardanlabs/fullnode/foundation/blockchain/database"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ethereum/go-ethereum/common"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func record(prev common.Hash, height uint32, tag byte) *types.BlockRecord {
	return &types.BlockRecord{
		HeaderHash: common.BytesToHash([]byte{tag, byte(height)}),
		PrevHash:   prev,
		Height:     height,
	}
}

// =============================================================================

func Test_SetPeak(t *testing.T) {
	t.Log("Given the need to index the heaviest chain by height.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen switching to a heavier fork.", testID)
		{
			db := database.New(nil)

			main := []*types.BlockRecord{record(common.Hash{}, 0, 'a')}
			for h := uint32(1); h < 5; h++ {
				main = append(main, record(main[h-1].HeaderHash, h, 'a'))
			}
			for _, br := range main {
				db.AddBlockRecord(br)
			}

			if err := db.SetPeak(main[4].HeaderHash); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to set the peak: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to set the peak.", success, testID)

			fork := []*types.BlockRecord{record(main[2].HeaderHash, 3, 'b')}
			fork = append(fork, record(fork[0].HeaderHash, 4, 'b'), record(fork[0].HeaderHash, 5, 'b'))
			fork[2].PrevHash = fork[1].HeaderHash
			for _, br := range fork {
				db.AddBlockRecord(br)
			}

			if err := db.SetPeak(fork[2].HeaderHash); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to switch the peak: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to switch the peak.", success, testID)

			exp := map[uint32]common.Hash{
				0: main[0].HeaderHash,
				2: main[2].HeaderHash,
				3: fork[0].HeaderHash,
				4: fork[1].HeaderHash,
				5: fork[2].HeaderHash,
			}
			for h, hash := range exp {
				got, exists := db.HeightToHash(h)
				if !exists || got != hash {
					t.Fatalf("\t%s\tTest %d:\tShould index height %d to %s, got %s.", failed, testID, h, hash, got)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould index the fork by height.", success, testID)

			if db.Peak().HeaderHash != fork[2].HeaderHash {
				t.Fatalf("\t%s\tTest %d:\tShould report the fork tip as the peak.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould report the fork tip as the peak.", success, testID)

			if err := db.SetPeak(main[1].HeaderHash); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to move the peak back: %v", failed, testID, err)
			}
			if db.ContainsHeight(2) {
				t.Fatalf("\t%s\tTest %d:\tShould drop heights above the peak.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould drop heights above the peak.", success, testID)
		}
	}
}

func Test_AddRemove(t *testing.T) {
	t.Log("Given the need to insert block records temporarily.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen adding then removing a record.", testID)
		{
			dbs := map[string]database.Blockchain{
				"database": database.New(nil),
				"cache":    database.NewCache(nil, nil),
			}

			for name, db := range dbs {
				br := record(common.Hash{}, 0, 'a')
				db.AddBlockRecord(br)

				got, err := db.BlockRecord(br.HeaderHash)
				if err != nil || got != br {
					t.Fatalf("\t%s\tTest %d:\t%s: Should find the record: %v", failed, testID, name, err)
				}
				t.Logf("\t%s\tTest %d:\t%s: Should find the record.", success, testID, name)

				db.RemoveBlockRecord(br.HeaderHash)
				if _, err := db.BlockRecord(br.HeaderHash); !errors.Is(err, database.ErrNotFound) {
					t.Fatalf("\t%s\tTest %d:\t%s: Should not find the removed record: %v", failed, testID, name, err)
				}
				t.Logf("\t%s\tTest %d:\t%s: Should not find the removed record.", success, testID, name)
			}
		}
	}
}
