// Package peer maintains the peer related information such as the set
// of known peers and the transactions they advertised.
package peer

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ID identifies a connected peer for the life of its connection.
type ID uuid.UUID

// NewID returns a random peer id.
func NewID() ID {
	return ID(uuid.New())
}

// String implements the fmt.Stringer interface.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// Peer represents information about a Node in the network.
type Peer struct {
	ID   ID
	Host string
}

// New constructs a new peer with a fresh id.
func New(host string) Peer {
	return Peer{
		ID:   NewID(),
		Host: host,
	}
}

// Match validates if the specified host matches this node.
func (p Peer) Match(host string) bool {
	return p.Host == host
}

// =============================================================================

// PeerStatus represents information about the status
// of any given peer.
type PeerStatus struct {
	PeakHash   common.Hash `json:"peak_hash"`
	PeakHeight uint32      `json:"peak_height"`
	PeakWeight uint64      `json:"peak_weight"`
	KnownPeers []Peer      `json:"known_peers"`
}

// =============================================================================

// PeerSet represents the data representation to maintain a set of known peers.
type PeerSet struct {
	mu  sync.RWMutex
	set map[ID]Peer
}

// NewPeerSet constructs a new info set to manage node peer information.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		set: make(map[ID]Peer),
	}
}

// Add adds a new node to the set.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	_, exists := ps.set[peer.ID]
	if !exists {
		ps.set[peer.ID] = peer
		return true
	}

	return false
}

// Remove removes a node from the set.
func (ps *PeerSet) Remove(id ID) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, id)
}

// Lookup returns the peer with the id.
func (ps *PeerSet) Lookup(id ID) (Peer, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	peer, exists := ps.set[id]
	return peer, exists
}

// Copy returns a list of the known peers.
func (ps *PeerSet) Copy(host string) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var peers []Peer
	for _, peer := range ps.set {
		if !peer.Match(host) {
			peers = append(peers, peer)
		}
	}

	return peers
}

// =============================================================================

// Advert is the fee and cost a peer announced for a transaction.
type Advert struct {
	Fee  uint64
	Cost uint64
}

type advertKey struct {
	peer ID
	tx   common.Hash
}

// Adverts remembers the most recent advert of every peer for every
// transaction, up to a fixed number of entries.
type Adverts struct {
	cache *lru.Cache[advertKey, Advert]
}

// NewAdverts constructs the table holding up to size adverts.
func NewAdverts(size int) (*Adverts, error) {
	cache, err := lru.New[advertKey, Advert](size)
	if err != nil {
		return nil, fmt.Errorf("adverts: %w", err)
	}

	return &Adverts{cache: cache}, nil
}

// Record stores the peer's advert for the transaction, replacing an older
// one.
func (a *Adverts) Record(peer ID, tx common.Hash, fee uint64, cost uint64) {
	a.cache.Add(advertKey{peer: peer, tx: tx}, Advert{Fee: fee, Cost: cost})
}

// Lookup returns the peer's advert for the transaction.
func (a *Adverts) Lookup(peer ID, tx common.Hash) (Advert, bool) {
	return a.cache.Get(advertKey{peer: peer, tx: tx})
}

// Len returns the number of adverts held.
func (a *Adverts) Len() int {
	return a.cache.Len()
}
