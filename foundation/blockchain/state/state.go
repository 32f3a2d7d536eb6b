// Package state is the core API for the full node and ties the consensus
// packages together: the block records, the full node store, pre-validation
// and the transaction queue.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/fullnode/foundation/blockchain/database"
	"github.com/ardanlabs/fullnode/foundation/blockchain/generator"
	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/header"
	"github.com/ardanlabs/fullnode/foundation/blockchain/mempool"
	"github.com/ardanlabs/fullnode/foundation/blockchain/peer"
	"github.com/ardanlabs/fullnode/foundation/blockchain/prevalidation"
	"github.com/ardanlabs/fullnode/foundation/blockchain/signature"
	"github.com/ardanlabs/fullnode/foundation/blockchain/store"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ardanlabs/fullnode/foundation/events"
	"github.com/ardanlabs/fullnode/foundation/lock"
	"github.com/ardanlabs/fullnode/foundation/metrics"
	"github.com/ethereum/go-ethereum/common"
)

// Set of errors returned by the state API.
var (
	ErrInvalidBlock = errors.New("invalid block")
	ErrUnknownPeer  = errors.New("peer not known")
	ErrNoFetcher    = errors.New("no block fetcher configured")
)

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of blocks and consensus material.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for cache expiry, transaction admission and
// peak announcements.
type Worker interface {
	Shutdown()
	SignalPeakAnnouncement(ann Announcement)
}

// Fetcher represents the behavior required to download blocks from a peer.
// Blocks returns the peer's chain from the start height up to and including
// the block with the hash, in height order.
type Fetcher interface {
	Blocks(ctx context.Context, from peer.ID, start uint32, end common.Hash) ([]*types.FullBlock, error)
}

// =============================================================================

// Config represents the configuration required to start the full node core.
type Config struct {
	Genesis    genesis.Genesis
	Verifiers  header.Verifiers
	BLS        signature.Verifier
	Runner     generator.Runner
	Fetcher    Fetcher
	Workers    int
	BatchSize  int
	Store      StoreConfig
	TxQueue    TxQueueConfig
	Gate       GateConfig
	Host       string
	KnownPeers *peer.PeerSet
	Metrics    *metrics.Metrics
	Events     *events.Events
	Now        func() time.Time
	EvHandler  EventHandler
}

// StoreConfig sizes the caches of the full node store. Zero values take
// the store defaults.
type StoreConfig struct {
	MaxSeenUnfinishedBlocks int
	RecentSignagePoints     int
	RecentEOS               int
	FutureCacheTTL          time.Duration
}

// TxQueueConfig sizes the transaction queue and the advert table that ranks
// peer transactions.
type TxQueueConfig struct {
	MaxSize    int
	MaxPerPeer int
	Strategy   string
	Adverts    int
}

// GateConfig limits how many peak announcements are processed at once and
// how many may wait.
type GateConfig struct {
	Active  int
	Waiting int
}

// Set of defaults applied to zero config values.
const (
	DefaultTxQueueSize    = 10_000
	DefaultTxQueuePerPeer = 1_000
	DefaultAdverts        = 50_000
	DefaultGateActive     = 2
	DefaultGateWaiting    = 20
)

// =============================================================================

// State manages the consensus state of the full node.
type State struct {
	c          genesis.Constants
	host       string
	evHandler  EventHandler
	now        func() time.Time
	fetcher    Fetcher
	knownPeers *peer.PeerSet
	metrics    *metrics.Metrics
	events     *events.Events

	blocks  *database.Database
	store   *store.Store
	pool    *prevalidation.Pool
	queue   *mempool.Queue
	adverts *peer.Adverts
	gate    *lock.LimitedSemaphore

	// Blocks added to the chain, only touched while holding the store lock.
	fullBlocks map[common.Hash]*types.FullBlock

	Worker Worker
}

// New constructs the core of a full node with an empty chain.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	c := cfg.Genesis.Constants

	str, err := store.New(store.Config{
		Constants:               c,
		VDF:                     cfg.Verifiers.VDF,
		MaxSeenUnfinishedBlocks: cfg.Store.MaxSeenUnfinishedBlocks,
		RecentSignagePoints:     cfg.Store.RecentSignagePoints,
		RecentEOS:               cfg.Store.RecentEOS,
		FutureCacheTTL:          cfg.Store.FutureCacheTTL,
		Now:                     now,
		EvHandler:               ev,
	})
	if err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}

	adverts, err := peer.NewAdverts(orDefault(cfg.TxQueue.Adverts, DefaultAdverts))
	if err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}

	queue, err := mempool.NewWithStrategy(mempool.Config{
		MaxSize:    orDefault(cfg.TxQueue.MaxSize, DefaultTxQueueSize),
		MaxPerPeer: orDefault(cfg.TxQueue.MaxPerPeer, DefaultTxQueuePerPeer),
		Strategy:   cfg.TxQueue.Strategy,
		Adverts:    adverts,
	})
	if err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}

	pool := prevalidation.NewPool(prevalidation.PoolConfig{
		Constants: c,
		Verifiers: cfg.Verifiers,
		BLS:       cfg.BLS,
		Runner:    cfg.Runner,
		Workers:   cfg.Workers,
		BatchSize: cfg.BatchSize,
		Now:       now,
		EvHandler: ev,
	})

	knownPeers := cfg.KnownPeers
	if knownPeers == nil {
		knownPeers = peer.NewPeerSet()
	}

	mtr := cfg.Metrics
	if mtr == nil {
		mtr = metrics.New(nil)
	}

	evts := cfg.Events
	if evts == nil {
		evts = events.New()
	}

	state := State{
		c:          c,
		host:       cfg.Host,
		evHandler:  ev,
		now:        now,
		fetcher:    cfg.Fetcher,
		knownPeers: knownPeers,
		metrics:    mtr,
		events:     evts,

		blocks:  database.New(ev),
		store:   str,
		pool:    pool,
		queue:   queue,
		adverts: adverts,
		gate:    lock.NewLimitedSemaphore(orDefault(cfg.Gate.Active, DefaultGateActive), orDefault(cfg.Gate.Waiting, DefaultGateWaiting)),

		fullBlocks: make(map[common.Hash]*types.FullBlock),
	}

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Stop the background work before the pool it submits to.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	s.pool.Shutdown()
	s.events.Shutdown()

	return nil
}

// Constants returns the consensus constants of the network.
func (s *State) Constants() genesis.Constants {
	return s.c
}

// Events returns the fan out of peak changes.
func (s *State) Events() *events.Events {
	return s.events
}

// =============================================================================

func orDefault(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
