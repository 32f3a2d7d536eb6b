// Package events allows for the registering and receiving of peak changes.
package events

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Peak describes the block the node moved its peak to. Fork is the height of
// the last block shared with the previous peak, set only for a reorg.
type Peak struct {
	Hash   common.Hash
	Height uint32
	Weight uint64
	Fork   *uint32
}

// String implements the fmt.Stringer interface.
func (p Peak) String() string {
	if p.Fork != nil {
		return fmt.Sprintf("height[%d] hash[%s] weight[%d] fork[%d]", p.Height, p.Hash, p.Weight, *p.Fork)
	}
	return fmt.Sprintf("height[%d] hash[%s] weight[%d]", p.Height, p.Hash, p.Weight)
}

// =============================================================================

// Events maintains a mapping of unique id and channels so goroutines
// can register and receive peak changes.
type Events struct {
	m  map[string]chan Peak
	mu sync.RWMutex
}

// New constructs an events for registering and receiving peak changes.
func New() *Events {
	return &Events{
		m: make(map[string]chan Peak),
	}
}

// Shutdown closes and removes all channels that were provided by
// the call to Acquire.
func (evt *Events) Shutdown() {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for id, ch := range evt.m {
		delete(evt.m, id)
		close(ch)
	}
}

// Acquire takes a unique id and returns a channel that can be used
// to receive peak changes.
func (evt *Events) Acquire(id string) <-chan Peak {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if exists {
		return ch
	}

	// A peak change is dropped when the receiver is not ready, the buffer
	// covers a burst of blocks added from a single batch.
	const messageBuffer = 100

	evt.m[id] = make(chan Peak, messageBuffer)
	return evt.m[id]
}

// Release closes and removes the channel that was provided by
// the call to Acquire.
func (evt *Events) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.m, id)
	close(ch)
	return nil
}

// Send signals a peak change to every registered channel. Send will not
// block waiting for a receiver on any given channel.
func (evt *Events) Send(p Peak) {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	for _, ch := range evt.m {
		select {
		case ch <- p:
		default:
		}
	}
}
