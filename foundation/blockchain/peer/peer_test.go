package peer_test

import (
	"testing"

	"github.com/ardanlabs/fullnode/foundation/blockchain/peer"
	"github.com/ethereum/go-ethereum/common"
)

func Test_CRUD(t *testing.T) {
	type table struct {
		name  string
		peers []peer.Peer
	}

	tt := []table{
		{
			name:  "basic",
			peers: []peer.Peer{peer.New("host1"), peer.New("host2"), peer.New("host3")},
		},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			ps := peer.NewPeerSet()

			for _, peer := range tst.peers {
				ps.Add(peer)
			}

			if ps.Add(tst.peers[0]) {
				t.Fatalf("Test %s:\tShould not add the same peer twice.", tst.name)
			}

			peers := ps.Copy("")
			if len(peers) != len(tst.peers) {
				t.Logf("Test %s:\tgot: %d", tst.name, len(peers))
				t.Logf("Test %s:\texp: %d", tst.name, len(tst.peers))
				t.Fatalf("Test %s:\tShould get back the right peers.", tst.name)
			}

			peers = ps.Copy("host2")
			if len(peers) != len(tst.peers)-1 {
				t.Logf("Test %s:\tgot: %d", tst.name, len(peers))
				t.Logf("Test %s:\texp: %d", tst.name, len(tst.peers)-1)
				t.Fatalf("Test %s:\tShould get back the right peers.", tst.name)
			}

			ps.Remove(tst.peers[1].ID)
			if _, exists := ps.Lookup(tst.peers[1].ID); exists {
				t.Fatalf("Test %s:\tShould not find a removed peer.", tst.name)
			}
		}

		t.Run(tst.name, f)
	}
}

func Test_Adverts(t *testing.T) {
	a, err := peer.NewAdverts(2)
	if err != nil {
		t.Fatalf("Should be able to construct the table: %s", err)
	}

	p1, p2 := peer.NewID(), peer.NewID()
	tx := common.Hash{0x01}

	a.Record(p1, tx, 100, 10)
	a.Record(p1, tx, 200, 10)
	a.Record(p2, tx, 5, 10)

	adv, exists := a.Lookup(p1, tx)
	if !exists || adv.Fee != 200 {
		t.Fatalf("Should get the latest advert of the peer: got %+v", adv)
	}

	if _, exists := a.Lookup(p2, common.Hash{0x02}); exists {
		t.Fatalf("Should not find an advert for an unknown transaction.")
	}

	a.Record(p2, common.Hash{0x02}, 1, 1)
	a.Record(p2, common.Hash{0x03}, 1, 1)
	if a.Len() != 2 {
		t.Fatalf("Should hold at most two adverts: got %d", a.Len())
	}
}
