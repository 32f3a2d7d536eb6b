// Package database handles the in memory set of block records the consensus
// rules query for ancestors, along with the height index of the heaviest
// chain.
package database

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound is returned when a block record is not known.
var ErrNotFound = errors.New("block record not found")

// Blockchain represents the behavior required to query block records by hash
// and by height on the heaviest chain. Implementations must allow records to
// be added and removed so pre-validation can insert them temporarily.
type Blockchain interface {
	ContainsBlock(hash common.Hash) bool
	ContainsHeight(height uint32) bool
	BlockRecord(hash common.Hash) (*types.BlockRecord, error)
	HeightToHash(height uint32) (common.Hash, bool)
	HeightToBlockRecord(height uint32) (*types.BlockRecord, error)
	AddBlockRecord(br *types.BlockRecord)
	RemoveBlockRecord(hash common.Hash)
}

// =============================================================================

// Database manages the block records known to the node and the height index
// of the current peak's chain.
type Database struct {
	mu sync.RWMutex

	records map[common.Hash]*types.BlockRecord
	heights map[uint32]common.Hash
	peak    *types.BlockRecord

	evHandler func(v string, args ...any)
}

// New constructs an empty database.
func New(evHandler func(v string, args ...any)) *Database {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	return &Database{
		records:   make(map[common.Hash]*types.BlockRecord),
		heights:   make(map[uint32]common.Hash),
		evHandler: ev,
	}
}

// ContainsBlock reports whether the record is known.
func (db *Database) ContainsBlock(hash common.Hash) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	_, exists := db.records[hash]
	return exists
}

// ContainsHeight reports whether the heaviest chain reaches the height.
func (db *Database) ContainsHeight(height uint32) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	_, exists := db.heights[height]
	return exists
}

// BlockRecord returns the record for the hash.
func (db *Database) BlockRecord(hash common.Hash) (*types.BlockRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	br, exists := db.records[hash]
	if !exists {
		return nil, fmt.Errorf("hash %s: %w", hash, ErrNotFound)
	}

	return br, nil
}

// HeightToHash returns the hash of the block at the height on the heaviest
// chain.
func (db *Database) HeightToHash(height uint32) (common.Hash, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	hash, exists := db.heights[height]
	return hash, exists
}

// HeightToBlockRecord returns the record at the height on the heaviest chain.
func (db *Database) HeightToBlockRecord(height uint32) (*types.BlockRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	hash, exists := db.heights[height]
	if !exists {
		return nil, fmt.Errorf("height %d: %w", height, ErrNotFound)
	}

	br, exists := db.records[hash]
	if !exists {
		return nil, fmt.Errorf("height %d hash %s: %w", height, hash, ErrNotFound)
	}

	return br, nil
}

// AddBlockRecord adds the record. The height index is only updated by SetPeak.
func (db *Database) AddBlockRecord(br *types.BlockRecord) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.records[br.HeaderHash] = br
}

// RemoveBlockRecord removes the record.
func (db *Database) RemoveBlockRecord(hash common.Hash) {
	db.mu.Lock()
	defer db.mu.Unlock()

	delete(db.records, hash)
}

// =============================================================================

// SetPeak makes the record with the hash the peak and rewrites the height
// index back to the point where the new chain meets the old one.
func (db *Database) SetPeak(hash common.Hash) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	peak, exists := db.records[hash]
	if !exists {
		return fmt.Errorf("set peak %s: %w", hash, ErrNotFound)
	}

	for h := peak.Height + 1; ; h++ {
		if _, exists := db.heights[h]; !exists {
			break
		}
		delete(db.heights, h)
	}

	curr := peak
	for {
		if onChain, exists := db.heights[curr.Height]; exists && onChain == curr.HeaderHash {
			break
		}
		db.heights[curr.Height] = curr.HeaderHash

		if curr.Height == 0 {
			break
		}

		prev, exists := db.records[curr.PrevHash]
		if !exists {
			return fmt.Errorf("set peak %s: ancestor %s: %w", hash, curr.PrevHash, ErrNotFound)
		}
		curr = prev
	}

	db.peak = peak
	db.evHandler("database: SetPeak: height[%d] hash[%s]", peak.Height, peak.HeaderHash)

	return nil
}

// Peak returns the current peak, or nil before the genesis block is added.
func (db *Database) Peak() *types.BlockRecord {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.peak
}

// Len returns the number of records held.
func (db *Database) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return len(db.records)
}
