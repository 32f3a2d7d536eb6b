package state_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardanlabs/fullnode/foundation/blockchain/database"
	"github.com/ardanlabs/fullnode/foundation/blockchain/generator"
	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/header"
	"github.com/ardanlabs/fullnode/foundation/blockchain/mempool"
	"github.com/ardanlabs/fullnode/foundation/blockchain/peer"
	"github.com/ardanlabs/fullnode/foundation/blockchain/signature"
	"github.com/ardanlabs/fullnode/foundation/blockchain/simulator"
	"github.com/ardanlabs/fullnode/foundation/blockchain/state"
	"github.com/ardanlabs/fullnode/foundation/blockchain/store"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ardanlabs/fullnode/foundation/lock"
	"github.com/ardanlabs/fullnode/foundation/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func newState(t *testing.T, cfg state.Config) *state.State {
	t.Helper()

	cfg.Genesis = genesis.Testnet()
	cfg.Verifiers = header.Verifiers{VDF: simulator.VDF{}, PoS: simulator.PoS{}}
	if cfg.BLS == nil {
		cfg.BLS = simulator.BLS{}
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}

	s, err := state.New(cfg)
	if err != nil {
		t.Fatalf("constructing state: %s", err)
	}
	t.Cleanup(func() { s.Shutdown() })

	return s
}

// extend adds n blocks to the chain the way simulator.Chain.Extend does,
// with the farmer byte telling forks apart.
func extend(t *testing.T, ch *simulator.Chain, n int, farmer byte) {
	t.Helper()

	for i := 0; i < n; i++ {
		height := len(ch.Blocks())

		opt := simulator.Options{
			SignagePointIndex: uint8(1 + 4*(height%4)),
			Transaction:       height%2 == 0,
			Fees:              uint64(height),
			Farmer:            farmer,
		}
		if height > 0 {
			opt.Slots = 1
		}

		if _, err := ch.AddBlock(opt); err != nil {
			t.Fatalf("adding block %d: %s", height, err)
		}
	}
}

func chain(t *testing.T, n int) *simulator.Chain {
	t.Helper()

	ch := simulator.New(genesis.Testnet().Constants)
	extend(t, ch, n, 0)

	return ch
}

func addBlocks(t *testing.T, s *state.State, blocks []*types.FullBlock) state.AddResult {
	t.Helper()

	res, err := s.AddBlocks(context.Background(), blocks)
	if err != nil {
		t.Fatalf("adding blocks: %s", err)
	}

	return res
}

// fetcher serves the blocks of a chain. With entered set it reports every
// call and waits for release before answering.
type fetcher struct {
	blocks  []*types.FullBlock
	entered chan struct{}
	release chan struct{}
}

func (f *fetcher) Blocks(ctx context.Context, from peer.ID, start uint32, end common.Hash) ([]*types.FullBlock, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}

	for i, fb := range f.blocks {
		if fb.HeaderHash() == end {
			if int(start) > i {
				return nil, nil
			}
			return f.blocks[start : i+1], nil
		}
	}

	return nil, errors.New("unknown block")
}

func fixedRunner(conds types.Conditions) generator.Runner {
	return generator.RunnerFunc(func(types.BlockGenerator, uint64, uint64, bool) (types.Conditions, error) {
		return conds, nil
	})
}

// =============================================================================

func Test_AddBlocks(t *testing.T) {
	t.Log("Given the need to add blocks to the chain.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen adding a chain of six blocks.", testID)
		{
			m := metrics.New(prometheus.NewRegistry())
			s := newState(t, state.Config{Metrics: m})
			ch := chain(t, 6)

			peaks := s.Events().Acquire("test")

			res := addBlocks(t, s, ch.Blocks())
			if res.Added != 6 || res.Peak == nil || res.Peak.Height != 5 {
				t.Fatalf("\t%s\tTest %d:\tShould add six blocks with a peak at 5: %+v", failed, testID, res)
			}
			if res.Fork != nil {
				t.Fatalf("\t%s\tTest %d:\tShould not report a fork.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould add six blocks with a peak at 5.", success, testID)

			if p := <-peaks; p.Height != 5 || p.Hash != ch.Peak().HeaderHash {
				t.Fatalf("\t%s\tTest %d:\tShould announce the peak: got %s", failed, testID, p)
			}
			t.Logf("\t%s\tTest %d:\tShould announce the peak.", success, testID)

			if got := testutil.ToFloat64(m.PeakHeight); got != 5 {
				t.Fatalf("\t%s\tTest %d:\tShould report the peak height: got %v", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould report the peak height.", success, testID)

			status := s.QueryStatus()
			if status.PeakHeight != 5 || status.PeakWeight != ch.Peak().Weight {
				t.Fatalf("\t%s\tTest %d:\tShould report the peak in the status: %+v", failed, testID, status)
			}
			if br, err := s.QueryRecordByHeight(3); err != nil || br.HeaderHash != ch.Blocks()[3].HeaderHash() {
				t.Fatalf("\t%s\tTest %d:\tShould index the chain by height: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould index the chain.", success, testID)

			res = addBlocks(t, s, ch.Blocks())
			if res.Duplicates != 6 || res.Added != 0 || res.Peak != nil {
				t.Fatalf("\t%s\tTest %d:\tShould skip known blocks: %+v", failed, testID, res)
			}
			t.Logf("\t%s\tTest %d:\tShould skip known blocks.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a heavier fork arrives.", testID)
		{
			s := newState(t, state.Config{})

			mainChain := chain(t, 6)
			fork := chain(t, 4)
			extend(t, fork, 4, 1)

			addBlocks(t, s, mainChain.Blocks())

			res := addBlocks(t, s, fork.Blocks()[4:])
			if res.Peak == nil || res.Peak.HeaderHash != fork.Peak().HeaderHash {
				t.Fatalf("\t%s\tTest %d:\tShould move to the fork's peak: %+v", failed, testID, res)
			}
			if res.Fork == nil || res.Fork.Height != 3 {
				t.Fatalf("\t%s\tTest %d:\tShould fork at height 3: %+v", failed, testID, res.Fork)
			}
			t.Logf("\t%s\tTest %d:\tShould reorg to the heavier fork.", success, testID)

			br, err := s.QueryRecordByHeight(5)
			if err != nil || br.HeaderHash != fork.Blocks()[5].HeaderHash() {
				t.Fatalf("\t%s\tTest %d:\tShould index the fork by height: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould index the fork by height.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the batch does not connect to the chain.", testID)
		{
			s := newState(t, state.Config{})
			ch := chain(t, 6)

			addBlocks(t, s, ch.Blocks()[:2])

			if _, err := s.AddBlocks(context.Background(), ch.Blocks()[3:]); !errors.Is(err, database.ErrNotFound) {
				t.Fatalf("\t%s\tTest %d:\tShould get ErrNotFound: got %v", failed, testID, err)
			}
			if s.Peak().Height != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the peak.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the batch and keep the peak.", success, testID)
		}
	}
}

func Test_InvalidBlock(t *testing.T) {
	aggSig := types.AggSig{
		PublicKey: signature.G1Element{0x0b},
		Message:   []byte("spend"),
	}
	other := aggSig
	other.Message = []byte("other")

	ch := chain(t, 2)
	if _, err := ch.AddBlock(simulator.Options{
		SignagePointIndex: 5,
		Slots:             1,
		Transaction:       true,
		Generator:         []byte{0xff, 0x01},
		AggSigs:           []types.AggSig{aggSig},
	}); err != nil {
		t.Fatalf("adding spend block: %s", err)
	}
	extend(t, ch, 1, 0)

	t.Log("Given the need to stop at the first invalid block.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the spend signs over the conditions.", testID)
		{
			s := newState(t, state.Config{Runner: fixedRunner(types.Conditions{AggSigs: []types.AggSig{aggSig}})})

			if res := addBlocks(t, s, ch.Blocks()); res.Added != 4 {
				t.Fatalf("\t%s\tTest %d:\tShould add every block: got %d", failed, testID, res.Added)
			}
			t.Logf("\t%s\tTest %d:\tShould add every block.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the spend signs over other conditions.", testID)
		{
			s := newState(t, state.Config{Runner: fixedRunner(types.Conditions{AggSigs: []types.AggSig{other}})})

			res, err := s.AddBlocks(context.Background(), ch.Blocks())
			if !errors.Is(err, state.ErrInvalidBlock) || !errors.Is(err, types.ErrBadAggregateSignature) {
				t.Fatalf("\t%s\tTest %d:\tShould get ErrBadAggregateSignature: got %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould get ErrBadAggregateSignature.", success, testID)

			if res.Added != 2 || s.Peak().Height != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the blocks before the invalid one: %+v", failed, testID, res)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the blocks before the invalid one.", success, testID)

			if _, err := s.QueryBlockRecord(ch.Blocks()[3].HeaderHash()); !errors.Is(err, database.ErrNotFound) {
				t.Fatalf("\t%s\tTest %d:\tShould not add the blocks after it: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not add the blocks after it.", success, testID)
		}
	}
}

func Test_FollowChain(t *testing.T) {
	c := genesis.Testnet().Constants

	t.Log("Given the need to follow sub-slots and signage points.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen each block follows a new sub-slot and signage point.", testID)
		{
			s := newState(t, state.Config{})
			ch := simulator.New(c)
			ctx := context.Background()

			for h := 0; h < 6; h++ {
				if h > 0 {
					eos, err := ch.FinishSlot()
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould be able to finish sub-slot %d: %s", failed, testID, h, err)
					}

					res, err := s.RespondEndOfSubSlot(ctx, eos)
					if err != nil || res.Status != store.Accepted {
						t.Fatalf("\t%s\tTest %d:\tShould accept sub-slot %d: %s %v %v", failed, testID, h, res.Status, res.Reason, err)
					}

					if res, _ := s.RespondEndOfSubSlot(ctx, eos); res.Status != store.Duplicate {
						t.Fatalf("\t%s\tTest %d:\tShould report sub-slot %d as a duplicate: %s", failed, testID, h, res.Status)
					}

					if _, _, _, exists, err := s.QuerySubSlot(ctx, eos.ChallengeChain.Hash()); err != nil || !exists {
						t.Fatalf("\t%s\tTest %d:\tShould track sub-slot %d.", failed, testID, h)
					}
				}

				idx := uint8(1 + 4*(h%4))
				sp, err := ch.SignagePoint(idx)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to build signage point %d: %s", failed, testID, h, err)
				}

				if res, err := s.RespondSignagePoint(ctx, idx, sp); err != nil || res.Status != store.Accepted {
					t.Fatalf("\t%s\tTest %d:\tShould accept signage point %d: %s %v %v", failed, testID, h, res.Status, res.Reason, err)
				}

				fb, err := ch.AddBlock(simulator.Options{SignagePointIndex: idx, Transaction: h%2 == 0})
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to add block %d: %s", failed, testID, h, err)
				}

				if res := addBlocks(t, s, []*types.FullBlock{fb}); res.Peak == nil || res.Peak.Height != uint32(h) {
					t.Fatalf("\t%s\tTest %d:\tShould move the peak to %d.", failed, testID, h)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould accept every sub-slot and signage point.", success, testID)

			n, err := s.ClearOldCacheEntries(ctx)
			if err != nil || n != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould find nothing to expire: %d %v", failed, testID, n, err)
			}
			t.Logf("\t%s\tTest %d:\tShould find nothing to expire.", success, testID)
		}
	}
}

func Test_UnfinishedBlocks(t *testing.T) {
	t.Log("Given the need to hold unfinished blocks until infusion.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the block builds on the peak.", testID)
		{
			s := newState(t, state.Config{})
			ch := chain(t, 6)
			ctx := context.Background()

			addBlocks(t, s, ch.Blocks()[:5])

			ub := ch.Blocks()[5].Unfinished()

			res, err := s.RespondUnfinishedBlock(ctx, &ub)
			if err != nil || res.Status != store.Accepted {
				t.Fatalf("\t%s\tTest %d:\tShould accept the block: %s %v %v", failed, testID, res.Status, res.Reason, err)
			}
			t.Logf("\t%s\tTest %d:\tShould accept the block.", success, testID)

			if _, exists, err := s.QueryUnfinishedBlock(ctx, ub.PartialHash()); err != nil || !exists {
				t.Fatalf("\t%s\tTest %d:\tShould hold the block.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould hold the block.", success, testID)

			if res, err := s.RespondUnfinishedBlock(ctx, &ub); err != nil || res.Status != store.Duplicate {
				t.Fatalf("\t%s\tTest %d:\tShould report a duplicate: %s %v", failed, testID, res.Status, err)
			}
			t.Logf("\t%s\tTest %d:\tShould report a duplicate.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the parent is not known.", testID)
		{
			s := newState(t, state.Config{})
			ch := chain(t, 6)

			addBlocks(t, s, ch.Blocks()[:3])

			ub := ch.Blocks()[5].Unfinished()

			res, err := s.RespondUnfinishedBlock(context.Background(), &ub)
			if err != nil || res.Status != store.Rejected || !errors.Is(res.Reason, database.ErrNotFound) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the block: %s %v %v", failed, testID, res.Status, res.Reason, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the block.", success, testID)
		}
	}
}

func Test_PeakAnnouncement(t *testing.T) {
	t.Log("Given the need to catch up with peers.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a peer announces a heavier peak.", testID)
		{
			ch := chain(t, 8)
			p := peer.New("peer1")
			known := peer.NewPeerSet()
			known.Add(p)

			s := newState(t, state.Config{KnownPeers: known, Fetcher: &fetcher{blocks: ch.Blocks()}})
			addBlocks(t, s, ch.Blocks()[:3])

			peak := ch.Peak()
			ann := state.Announcement{Peer: p.ID, Hash: peak.HeaderHash, Height: peak.Height, Weight: peak.Weight}

			res, err := s.NewPeakAnnouncement(context.Background(), ann)
			if err != nil || res.Added != 5 || s.Peak().HeaderHash != peak.HeaderHash {
				t.Fatalf("\t%s\tTest %d:\tShould fetch the missing blocks: %+v %v", failed, testID, res, err)
			}
			t.Logf("\t%s\tTest %d:\tShould fetch the missing blocks.", success, testID)

			if res, err := s.NewPeakAnnouncement(context.Background(), ann); err != nil || res.Added != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould ignore a known peak: %+v %v", failed, testID, res, err)
			}
			t.Logf("\t%s\tTest %d:\tShould ignore a known peak.", success, testID)

			ann.Peer = peer.NewID()
			if _, err := s.NewPeakAnnouncement(context.Background(), ann); !errors.Is(err, state.ErrUnknownPeer) {
				t.Fatalf("\t%s\tTest %d:\tShould reject an unknown peer: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject an unknown peer.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a peer announces a heavier fork.", testID)
		{
			mainChain := chain(t, 6)
			fork := chain(t, 4)
			extend(t, fork, 4, 1)

			p := peer.New("peer1")
			known := peer.NewPeerSet()
			known.Add(p)

			s := newState(t, state.Config{KnownPeers: known, Fetcher: &fetcher{blocks: fork.Blocks()}})
			addBlocks(t, s, mainChain.Blocks())

			peak := fork.Peak()
			ann := state.Announcement{Peer: p.ID, Hash: peak.HeaderHash, Height: peak.Height, Weight: peak.Weight}

			res, err := s.NewPeakAnnouncement(context.Background(), ann)
			if err != nil || res.Fork == nil || res.Fork.Height != 3 {
				t.Fatalf("\t%s\tTest %d:\tShould walk back to the fork: %+v %v", failed, testID, res, err)
			}
			if s.Peak().HeaderHash != peak.HeaderHash {
				t.Fatalf("\t%s\tTest %d:\tShould move to the fork's peak.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould walk back to the fork.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen more announcements arrive than the gate admits.", testID)
		{
			ch := chain(t, 4)
			p := peer.New("peer1")
			known := peer.NewPeerSet()
			known.Add(p)

			f := fetcher{
				blocks:  ch.Blocks(),
				entered: make(chan struct{}),
				release: make(chan struct{}),
			}

			m := metrics.New(nil)
			s := newState(t, state.Config{
				KnownPeers: known,
				Fetcher:    &f,
				Gate:       state.GateConfig{Active: 1, Waiting: 1},
				Metrics:    m,
			})

			peak := ch.Peak()
			ann := state.Announcement{Peer: p.ID, Hash: peak.HeaderHash, Height: peak.Height, Weight: peak.Weight}

			done := make(chan error, 2)
			go func() {
				_, err := s.NewPeakAnnouncement(context.Background(), ann)
				done <- err
			}()
			<-f.entered

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				_, err := s.NewPeakAnnouncement(ctx, ann)
				done <- err
			}()

			deadline := time.Now().Add(time.Second)
			for s.QueryGateAvailable() != 0 {
				if time.Now().After(deadline) {
					t.Fatalf("\t%s\tTest %d:\tShould queue the second announcement.", failed, testID)
				}
				time.Sleep(time.Millisecond)
			}

			if _, err := s.NewPeakAnnouncement(context.Background(), ann); !errors.Is(err, lock.ErrLimitedSemaphoreFull) {
				t.Fatalf("\t%s\tTest %d:\tShould get ErrLimitedSemaphoreFull: got %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould turn away the third announcement.", success, testID)

			cancel()
			if err := <-done; !errors.Is(err, context.Canceled) {
				t.Fatalf("\t%s\tTest %d:\tShould cancel the waiting announcement: got %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould cancel the waiting announcement.", success, testID)

			close(f.release)
			if err := <-done; err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould finish the active announcement: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould finish the active announcement.", success, testID)

			if got := testutil.ToFloat64(m.GateRejected); got < 1 {
				t.Fatalf("\t%s\tTest %d:\tShould count the rejection: got %v", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould count the rejection.", success, testID)
		}
	}
}

func Test_SubmitTransaction(t *testing.T) {
	t.Log("Given the need to queue transactions for validation.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen transactions come from local and peer sources.", testID)
		{
			p := peer.New("peer1")
			known := peer.NewPeerSet()
			known.Add(p)

			m := metrics.New(nil)
			s := newState(t, state.Config{
				KnownPeers: known,
				TxQueue:    state.TxQueueConfig{MaxSize: 2, MaxPerPeer: 2},
				Metrics:    m,
			})

			s.RecordAdvert(p.ID, common.Hash{0x02}, 100, 10)

			if err := s.SubmitTransaction(mempool.Entry{ID: common.Hash{0x02}, Peer: &p.ID}); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould queue the peer transaction: %s", failed, testID, err)
			}
			if err := s.SubmitTransaction(mempool.Entry{ID: common.Hash{0x01}}); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould queue the local transaction: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould queue both transactions.", success, testID)

			if err := s.SubmitTransaction(mempool.Entry{ID: common.Hash{0x03}}); !errors.Is(err, mempool.ErrQueueFull) {
				t.Fatalf("\t%s\tTest %d:\tShould get ErrQueueFull: got %v", failed, testID, err)
			}
			if got := testutil.ToFloat64(m.QueueFull); got != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould count the full queue: got %v", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould get ErrQueueFull.", success, testID)

			stranger := peer.NewID()
			if err := s.SubmitTransaction(mempool.Entry{ID: common.Hash{0x04}, Peer: &stranger}); !errors.Is(err, state.ErrUnknownPeer) {
				t.Fatalf("\t%s\tTest %d:\tShould get ErrUnknownPeer: got %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould get ErrUnknownPeer.", success, testID)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			for _, id := range []byte{0x01, 0x02} {
				e, err := s.NextTransaction(ctx)
				if err != nil || e.ID != (common.Hash{id}) {
					t.Fatalf("\t%s\tTest %d:\tShould hand out %x: got %x %v", failed, testID, id, e.ID[0], err)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould hand out the local transaction first.", success, testID)

			if s.QueryTxQueueLength() != 0 || testutil.ToFloat64(m.QueueDepth) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould leave the queue empty.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould leave the queue empty.", success, testID)
		}
	}
}
