package database

import (
	"fmt"

	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ethereum/go-ethereum/common"
)

// Cache is a window of block records handed to a validation worker. It is
// owned by a single goroutine and does no locking.
type Cache struct {
	records map[common.Hash]*types.BlockRecord
	heights map[uint32]common.Hash
}

// NewCache constructs a cache over the records. The height index is built
// from heights, which may be nil.
func NewCache(records []*types.BlockRecord, heights map[uint32]common.Hash) *Cache {
	c := Cache{
		records: make(map[common.Hash]*types.BlockRecord, len(records)),
		heights: make(map[uint32]common.Hash, len(heights)),
	}

	for _, br := range records {
		c.records[br.HeaderHash] = br
	}
	for h, hash := range heights {
		c.heights[h] = hash
	}

	return &c
}

// ContainsBlock reports whether the record is in the window.
func (c *Cache) ContainsBlock(hash common.Hash) bool {
	_, exists := c.records[hash]
	return exists
}

// ContainsHeight reports whether the window indexes the height.
func (c *Cache) ContainsHeight(height uint32) bool {
	_, exists := c.heights[height]
	return exists
}

// BlockRecord returns the record for the hash.
func (c *Cache) BlockRecord(hash common.Hash) (*types.BlockRecord, error) {
	br, exists := c.records[hash]
	if !exists {
		return nil, fmt.Errorf("cache hash %s: %w", hash, ErrNotFound)
	}

	return br, nil
}

// HeightToHash returns the hash indexed at the height.
func (c *Cache) HeightToHash(height uint32) (common.Hash, bool) {
	hash, exists := c.heights[height]
	return hash, exists
}

// HeightToBlockRecord returns the record indexed at the height.
func (c *Cache) HeightToBlockRecord(height uint32) (*types.BlockRecord, error) {
	hash, exists := c.heights[height]
	if !exists {
		return nil, fmt.Errorf("cache height %d: %w", height, ErrNotFound)
	}

	return c.BlockRecord(hash)
}

// AddBlockRecord adds the record to the window.
func (c *Cache) AddBlockRecord(br *types.BlockRecord) {
	c.records[br.HeaderHash] = br
}

// RemoveBlockRecord removes the record from the window.
func (c *Cache) RemoveBlockRecord(hash common.Hash) {
	delete(c.records, hash)
}
