// Package mempool maintains the admission queue that decides which submitted
// transaction is validated next.
package mempool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/fullnode/foundation/blockchain/mempool/selector"
	"github.com/ardanlabs/fullnode/foundation/blockchain/peer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/btree"
	"golang.org/x/sync/semaphore"
)

// ErrQueueFull is returned by Put when the global or the peer's capacity is
// used up.
var ErrQueueFull = errors.New("transaction queue full")

// Entry is a transaction waiting to be validated. ID is the spend bundle
// name and Peer is nil for transactions submitted locally.
type Entry struct {
	ID     common.Hash
	Bundle []byte
	Peer   *peer.ID
}

type queued struct {
	item  selector.Item
	entry Entry
}

// heldKey names a transaction queued by a source. The zero peer with local
// set is the node itself.
type heldKey struct {
	local bool
	peer  peer.ID
	id    common.Hash
}

func keyOf(e Entry) heldKey {
	if e.Peer == nil {
		return heldKey{local: true, id: e.ID}
	}
	return heldKey{peer: *e.Peer, id: e.ID}
}

// Config represents the configuration of a queue. A nil Adverts makes every
// peer transaction rank as unknown.
type Config struct {
	MaxSize    int
	MaxPerPeer int
	Strategy   string
	Adverts    *peer.Adverts
}

// Queue hands out local transactions first, then takes turns between peers
// so a peer flooding the node can't starve the others. Within a peer the
// configured strategy picks the order.
type Queue struct {
	maxSize    int
	maxPerPeer int
	adverts    *peer.Adverts
	less       selector.Func
	available  *semaphore.Weighted

	mu     sync.Mutex
	size   int
	seq    uint64
	held   map[heldKey]struct{}
	local  *btree.BTreeG[queued]
	peers  map[peer.ID]*btree.BTreeG[queued]
	ring   []peer.ID
	cursor int
}

// New constructs a queue using the default ordering strategy.
func New(maxSize int, maxPerPeer int, adverts *peer.Adverts) (*Queue, error) {
	return NewWithStrategy(Config{
		MaxSize:    maxSize,
		MaxPerPeer: maxPerPeer,
		Strategy:   selector.StrategyFeeRate,
		Adverts:    adverts,
	})
}

// NewWithStrategy constructs a queue with the configured ordering strategy.
func NewWithStrategy(cfg Config) (*Queue, error) {
	if cfg.MaxSize <= 0 || cfg.MaxPerPeer <= 0 {
		return nil, fmt.Errorf("queue capacity %d per peer %d: must be positive", cfg.MaxSize, cfg.MaxPerPeer)
	}

	less, err := selector.Retrieve(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	// The semaphore counts queued entries. It starts fully held and every
	// Put hands one unit back for Pop to take.
	available := semaphore.NewWeighted(int64(cfg.MaxSize))
	available.TryAcquire(int64(cfg.MaxSize))

	q := Queue{
		maxSize:    cfg.MaxSize,
		maxPerPeer: cfg.MaxPerPeer,
		adverts:    cfg.Adverts,
		less:       less,
		available:  available,
		held:       make(map[heldKey]struct{}),
		local:      btree.NewG(2, queuedLess(arrivalOnly)),
		peers:      make(map[peer.ID]*btree.BTreeG[queued]),
	}

	return &q, nil
}

// Put queues the entry. Local entries are handed out in arrival order before
// any peer entry. A transaction the same source already has queued is held
// once.
func (q *Queue) Put(e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := keyOf(e)
	if _, exists := q.held[key]; exists {
		return nil
	}

	if q.size >= q.maxSize {
		return fmt.Errorf("put %s: size %d: %w", e.ID, q.size, ErrQueueFull)
	}

	q.seq++
	item := selector.Item{ID: e.ID, Seq: q.seq}

	tree := q.local
	if e.Peer != nil {
		pid := *e.Peer

		if q.adverts != nil {
			if adv, exists := q.adverts.Lookup(pid, e.ID); exists {
				item.Fee, item.Cost, item.Known = adv.Fee, adv.Cost, true
			}
		}

		var exists bool
		if tree, exists = q.peers[pid]; !exists {
			tree = btree.NewG(2, queuedLess(q.less))
			q.peers[pid] = tree
			q.ring = append(q.ring, pid)
		}

		if tree.Len() >= q.maxPerPeer {
			return fmt.Errorf("put %s: peer %s size %d: %w", e.ID, pid, tree.Len(), ErrQueueFull)
		}
	}

	tree.ReplaceOrInsert(queued{item: item, entry: e})
	q.held[key] = struct{}{}

	q.size++
	q.available.Release(1)

	return nil
}

// Pop blocks until an entry is queued or the context is done.
func (q *Queue) Pop(ctx context.Context) (Entry, error) {
	if err := q.available.Acquire(ctx, 1); err != nil {
		return Entry{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.size--

	if qd, ok := q.local.DeleteMin(); ok {
		delete(q.held, keyOf(qd.entry))
		return qd.entry, nil
	}

	// Every peer in the ring holds at least one entry.
	if q.cursor >= len(q.ring) {
		q.cursor = 0
	}

	pid := q.ring[q.cursor]
	tree := q.peers[pid]
	qd, _ := tree.DeleteMin()
	delete(q.held, keyOf(qd.entry))

	switch tree.Len() {
	case 0:
		delete(q.peers, pid)
		q.ring = append(q.ring[:q.cursor], q.ring[q.cursor+1:]...)
	default:
		q.cursor++
	}

	return qd.entry, nil
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.size
}

// PeerLen returns the number of entries queued for the peer.
func (q *Queue) PeerLen(pid peer.ID) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if tree, exists := q.peers[pid]; exists {
		return tree.Len()
	}
	return 0
}

// =============================================================================

func arrivalOnly(a, b selector.Item) bool {
	return a.Seq < b.Seq
}

func queuedLess(less selector.Func) btree.LessFunc[queued] {
	return func(a, b queued) bool {
		return less(a.item, b.item)
	}
}
