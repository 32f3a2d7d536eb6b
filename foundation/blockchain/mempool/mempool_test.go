package mempool_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardanlabs/fullnode/foundation/blockchain/mempool"
	"github.com/ardanlabs/fullnode/foundation/blockchain/mempool/selector"
	"github.com/ardanlabs/fullnode/foundation/blockchain/peer"
	"github.com/ethereum/go-ethereum/common"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

type advert struct {
	peer peer.ID
	id   byte
	fee  uint64
	cost uint64
}

func newQueue(t *testing.T, maxSize int, maxPerPeer int, ads []advert) *mempool.Queue {
	t.Helper()

	adverts, err := peer.NewAdverts(100)
	if err != nil {
		t.Fatalf("constructing adverts: %s", err)
	}
	for _, ad := range ads {
		adverts.Record(ad.peer, common.Hash{ad.id}, ad.fee, ad.cost)
	}

	q, err := mempool.New(maxSize, maxPerPeer, adverts)
	if err != nil {
		t.Fatalf("constructing queue: %s", err)
	}

	return q
}

func put(t *testing.T, q *mempool.Queue, id byte, from *peer.ID) {
	t.Helper()

	if err := q.Put(mempool.Entry{ID: common.Hash{id}, Peer: from}); err != nil {
		t.Fatalf("putting %x: %s", id, err)
	}
}

func pop(t *testing.T, q *mempool.Queue) byte {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	e, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("popping: %s", err)
	}

	return e.ID[0]
}

// =============================================================================

func Test_Fairness(t *testing.T) {
	a, b, c := peer.NewID(), peer.NewID(), peer.NewID()

	ads := []advert{
		{peer: a, id: 0xa1, fee: 30, cost: 10},
		{peer: a, id: 0xa2, fee: 90, cost: 10},
		{peer: b, id: 0xb1, fee: 80, cost: 10},
		{peer: c, id: 0xc1, fee: 70, cost: 10},
	}

	t.Log("Given the need to take turns between peers.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen three peers queue transactions.", testID)
		{
			q := newQueue(t, 10, 5, ads)

			put(t, q, 0xa1, &a)
			put(t, q, 0xa2, &a)
			put(t, q, 0xb1, &b)
			put(t, q, 0xc1, &c)

			exp := []byte{0xa2, 0xb1, 0xc1, 0xa1}
			for i, id := range exp {
				if got := pop(t, q); got != id {
					t.Fatalf("\t%s\tTest %d:\tShould pop %x at turn %d: got %x", failed, testID, id, i, got)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould pop one per peer best rate first.", success, testID)

			if q.Len() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould leave the queue empty: got %d", failed, testID, q.Len())
			}
			t.Logf("\t%s\tTest %d:\tShould leave the queue empty.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen local transactions are queued after peer ones.", testID)
		{
			q := newQueue(t, 10, 5, ads)

			put(t, q, 0xb1, &b)
			put(t, q, 0x01, nil)
			put(t, q, 0x02, nil)

			exp := []byte{0x01, 0x02, 0xb1}
			for i, id := range exp {
				if got := pop(t, q); got != id {
					t.Fatalf("\t%s\tTest %d:\tShould pop %x at turn %d: got %x", failed, testID, id, i, got)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould pop local transactions first.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a peer never advertised its transaction.", testID)
		{
			q := newQueue(t, 10, 5, ads)

			put(t, q, 0xee, &a)
			put(t, q, 0xa1, &a)

			if got := pop(t, q); got != 0xa1 {
				t.Fatalf("\t%s\tTest %d:\tShould pop the advertised transaction first: got %x", failed, testID, got)
			}
			if got := pop(t, q); got != 0xee {
				t.Fatalf("\t%s\tTest %d:\tShould still pop the unknown transaction: got %x", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould rank the unknown transaction last.", success, testID)
		}
	}
}

func Test_Capacity(t *testing.T) {
	a, b := peer.NewID(), peer.NewID()

	t.Log("Given the need to bound the queue.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a peer fills its share.", testID)
		{
			q := newQueue(t, 10, 2, nil)

			put(t, q, 0x01, &a)
			put(t, q, 0x02, &a)

			if err := q.Put(mempool.Entry{ID: common.Hash{0x03}, Peer: &a}); !errors.Is(err, mempool.ErrQueueFull) {
				t.Fatalf("\t%s\tTest %d:\tShould get ErrQueueFull for the peer: got %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould get ErrQueueFull for the peer.", success, testID)

			put(t, q, 0x04, &b)
			if q.PeerLen(a) != 2 || q.PeerLen(b) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould still accept other peers.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould still accept other peers.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the queue is full.", testID)
		{
			q := newQueue(t, 2, 2, nil)

			put(t, q, 0x01, nil)
			put(t, q, 0x02, &a)

			if err := q.Put(mempool.Entry{ID: common.Hash{0x03}}); !errors.Is(err, mempool.ErrQueueFull) {
				t.Fatalf("\t%s\tTest %d:\tShould get ErrQueueFull: got %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould get ErrQueueFull.", success, testID)

			pop(t, q)
			put(t, q, 0x03, nil)
			t.Logf("\t%s\tTest %d:\tShould accept again after a pop.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the same transaction is queued twice.", testID)
		{
			q := newQueue(t, 10, 5, nil)

			put(t, q, 0x01, nil)
			put(t, q, 0x01, nil)

			if q.Len() != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould hold it once: got %d", failed, testID, q.Len())
			}
			t.Logf("\t%s\tTest %d:\tShould hold it once.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a transaction is queued again behind another one.", testID)
		{
			q := newQueue(t, 10, 5, []advert{{a, 0x01, 10, 10}, {a, 0x02, 50, 10}})

			put(t, q, 0x01, nil)
			put(t, q, 0x02, nil)
			put(t, q, 0x01, nil)
			put(t, q, 0x01, &a)
			put(t, q, 0x02, &a)
			put(t, q, 0x01, &a)

			if q.Len() != 4 || q.PeerLen(a) != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould hold each once per source: got %d %d", failed, testID, q.Len(), q.PeerLen(a))
			}
			t.Logf("\t%s\tTest %d:\tShould hold each once per source.", success, testID)

			var got []byte
			for i := 0; i < 4; i++ {
				got = append(got, pop(t, q))
			}
			if string(got) != string([]byte{0x01, 0x02, 0x02, 0x01}) {
				t.Fatalf("\t%s\tTest %d:\tShould hand each out once: got %x", failed, testID, got)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("\t%s\tTest %d:\tShould be empty: got %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould hand each out once.", success, testID)

			put(t, q, 0x01, nil)
			if q.Len() != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould queue it again once handed out: got %d", failed, testID, q.Len())
			}
			t.Logf("\t%s\tTest %d:\tShould queue it again once handed out.", success, testID)
		}
	}
}

func Test_PopBlocks(t *testing.T) {
	t.Log("Given the need to wait for transactions.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the queue is empty.", testID)
		{
			q := newQueue(t, 10, 5, nil)

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("\t%s\tTest %d:\tShould time out: got %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould time out.", success, testID)

			got := make(chan byte, 1)
			go func() {
				e, err := q.Pop(context.Background())
				if err != nil {
					got <- 0
					return
				}
				got <- e.ID[0]
			}()

			put(t, q, 0x07, nil)

			select {
			case id := <-got:
				if id != 0x07 {
					t.Fatalf("\t%s\tTest %d:\tShould wake with the queued entry: got %x", failed, testID, id)
				}
			case <-time.After(time.Second):
				t.Fatalf("\t%s\tTest %d:\tShould wake when an entry is queued.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould wake when an entry is queued.", success, testID)
		}
	}
}

func Test_Strategy(t *testing.T) {
	if _, err := mempool.NewWithStrategy(mempool.Config{MaxSize: 1, MaxPerPeer: 1, Strategy: "tip"}); err == nil {
		t.Fatalf("\t%s\tShould reject an unknown strategy.", failed)
	}

	a := peer.NewID()
	adverts, _ := peer.NewAdverts(10)
	adverts.Record(a, common.Hash{0x02}, 100, 1)

	q, err := mempool.NewWithStrategy(mempool.Config{MaxSize: 5, MaxPerPeer: 5, Strategy: selector.StrategyArrival, Adverts: adverts})
	if err != nil {
		t.Fatalf("\t%s\tShould construct an arrival queue: %s", failed, err)
	}

	put(t, q, 0x01, &a)
	put(t, q, 0x02, &a)

	if got := pop(t, q); got != 0x01 {
		t.Fatalf("\t%s\tShould pop in arrival order: got %x", failed, got)
	}
	t.Logf("\t%s\tShould pop in arrival order.", success)
}
