// Package worker implements the background work of the full node: expiring
// stale consensus material, handing queued transactions to the mempool and
// processing peak announcements from peers.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ardanlabs/fullnode/foundation/blockchain/mempool"
	"github.com/ardanlabs/fullnode/foundation/blockchain/state"
)

// Set of defaults applied to zero config values.
const (
	DefaultExpiryInterval   = time.Minute
	DefaultAnnouncementWait = 30 * time.Second
)

// AdmitFunc validates a queued transaction and adds it to the mempool.
type AdmitFunc func(ctx context.Context, e mempool.Entry) error

// Config represents the configuration required to run the worker.
type Config struct {
	ExpiryInterval   time.Duration
	AnnouncementWait time.Duration
	Admit            AdmitFunc
	EvHandler        state.EventHandler
}

// =============================================================================

// Worker manages the background workflows of the full node.
type Worker struct {
	state            *state.State
	wg               sync.WaitGroup
	shutOnce         sync.Once
	ticker           *time.Ticker
	shut             chan struct{}
	ctx              context.Context
	cancel           context.CancelFunc
	announcements    chan state.Announcement
	admit            AdmitFunc
	announcementWait time.Duration
	evHandler        state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes.
func Run(st *state.State, cfg Config) *Worker {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	interval := cfg.ExpiryInterval
	if interval <= 0 {
		interval = DefaultExpiryInterval
	}

	wait := cfg.AnnouncementWait
	if wait <= 0 {
		wait = DefaultAnnouncementWait
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := Worker{
		state:            st,
		ticker:           time.NewTicker(interval),
		shut:             make(chan struct{}),
		ctx:              ctx,
		cancel:           cancel,
		announcements:    make(chan state.Announcement, maxPendingAnnouncements),
		admit:            cfg.Admit,
		announcementWait: wait,
		evHandler:        ev,
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Load the set of operations we need to run.
	operations := []func(){
		w.expiryOperations,
		w.announcementOperations,
	}
	if w.admit != nil {
		operations = append(operations, w.admissionOperations)
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for i := 0; i < g; i++ {
		<-hasStarted
	}

	return &w
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutines performing work. Calling it again
// has no effect.
func (w *Worker) Shutdown() {
	w.shutOnce.Do(func() {
		w.evHandler("worker: shutdown: started")
		defer w.evHandler("worker: shutdown: completed")

		w.evHandler("worker: shutdown: stop ticker")
		w.ticker.Stop()

		w.evHandler("worker: shutdown: cancel blocking calls")
		w.cancel()

		w.evHandler("worker: shutdown: terminate goroutines")
		close(w.shut)
		w.wg.Wait()
	})
}

// SignalPeakAnnouncement queues an announcement for processing. If
// maxPendingAnnouncements are already queued the announcement is dropped.
func (w *Worker) SignalPeakAnnouncement(ann state.Announcement) {
	select {
	case w.announcements <- ann:
		w.evHandler("worker: SignalPeakAnnouncement: peer[%s] height[%d] signaled", ann.Peer, ann.Height)
	default:
		w.evHandler("worker: SignalPeakAnnouncement: queue full, announcement from peer[%s] dropped", ann.Peer)
	}
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
