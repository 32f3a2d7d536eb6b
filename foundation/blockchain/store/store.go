// Package store keeps the consensus material a full node believes in between
// blocks: the sub-slots around the peak with their signage points, unfinished
// blocks, candidate blocks and the material that arrived before what it
// builds on. All access goes through Store, which holds the node's consensus
// lock for the duration of each call.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ardanlabs/fullnode/foundation/blockchain/vdf"
	"github.com/ardanlabs/fullnode/foundation/lock"
)

// Set of reasons for a Deferred or Rejected outcome.
var (
	ErrChallengeMismatch      = errors.New("does not chain from the last sub-slot")
	ErrUnknownRewardChallenge = errors.New("reward chain challenge not known yet")
	ErrUnknownSubSlot         = errors.New("sub-slot not tracked")
	ErrStalePeak              = errors.New("sub-slot ends before the peak")
	ErrInvalidSignagePoint    = errors.New("invalid signage point index")
	ErrIncompleteSignagePoint = errors.New("signage point is missing a vdf or proof")
	ErrSubSlotsNotConnected   = errors.New("sub-slots do not connect to the chain")
	ErrUnknownUnfinishedBlock = errors.New("unfinished block not known")
)

// Status is the outcome of offering consensus material to the store.
type Status uint8

// Set of outcomes. Deferred material is cached and replayed once the peak it
// builds on arrives.
const (
	Accepted Status = iota + 1
	Deferred
	Rejected
	Duplicate
)

var statusNames = map[Status]string{
	Accepted:  "accepted",
	Deferred:  "deferred",
	Rejected:  "rejected",
	Duplicate: "duplicate",
}

// String implements the fmt.Stringer interface.
func (s Status) String() string {
	if name, exists := statusNames[s]; exists {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// =============================================================================

// Config represents the configuration required to construct a store.
type Config struct {
	Constants               genesis.Constants
	VDF                     vdf.Verifier
	MaxSeenUnfinishedBlocks int
	RecentSignagePoints     int
	RecentEOS               int
	FutureCacheTTL          time.Duration
	Now                     func() time.Time
	EvHandler               func(v string, args ...any)
}

// Default cache sizes.
const (
	DefaultMaxSeenUnfinishedBlocks = 1000
	DefaultRecentSignagePoints     = 500
	DefaultRecentEOS               = 50
	DefaultFutureCacheTTL          = time.Hour
)

// Store serializes access to the full node store behind the node's consensus
// lock. Block processing updates it at lock.High, transaction admission at
// lock.Low.
type Store struct {
	mu  lock.PriorityMutex
	fns *FullNodeStore
}

// New constructs a store in the genesis state.
func New(cfg Config) (*Store, error) {
	fns, err := newFullNodeStore(cfg)
	if err != nil {
		return nil, err
	}

	return &Store{fns: fns}, nil
}

// Update runs fn while holding the consensus lock at the priority. fn must
// not keep the FullNodeStore past its return.
func (s *Store) Update(ctx context.Context, p lock.Priority, fn func(fns *FullNodeStore) error) error {
	if err := s.mu.Lock(ctx, p); err != nil {
		return fmt.Errorf("store: lock %s: %w", p, err)
	}
	defer s.mu.Unlock()

	return fn(s.fns)
}

// Waiting returns how many callers wait for the lock at each priority.
func (s *Store) Waiting() (high int, low int) {
	return s.mu.Waiting()
}

// =============================================================================

// SubSlotResult is the outcome of NewFinishedSubSlot. NewInfusionPoints holds
// the infusion point VDFs that waited for an accepted sub-slot; the caller
// validates and applies them.
type SubSlotResult struct {
	Status            Status
	Reason            error
	NewInfusionPoints []types.NewInfusionPointVDF
}

// SignagePointResult is the outcome of NewSignagePoint.
type SignagePointResult struct {
	Status Status
	Reason error
}

// IndexedSignagePoint is a signage point with its index in the sub-slot.
type IndexedSignagePoint struct {
	Index        uint8
	SignagePoint types.SignagePoint
}

// PeakResult carries the cached material that became valid with a new peak.
// NewInfusionPoints were only waiting for the peak and still need validation.
type PeakResult struct {
	AddedEOS          *types.EndOfSubSlotBundle
	NewSignagePoints  []IndexedSignagePoint
	NewInfusionPoints []types.NewInfusionPointVDF
}
