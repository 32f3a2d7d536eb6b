package worker

import (
	"context"

	"github.com/ardanlabs/fullnode/foundation/blockchain/state"
)

// maxPendingAnnouncements represents the max number of peak announcements
// that can wait before new ones are dropped. Peers announce every peak so a
// dropped announcement is followed by a newer one.
const maxPendingAnnouncements = 100

// =============================================================================

// announcementOperations processes the peak announcements from peers.
func (w *Worker) announcementOperations() {
	w.evHandler("worker: announcementOperations: G started")
	defer w.evHandler("worker: announcementOperations: G completed")

	for {
		select {
		case ann := <-w.announcements:
			if !w.isShutdown() {
				w.runAnnouncementOperation(ann)
			}
		case <-w.shut:
			w.evHandler("worker: announcementOperations: received shut signal")
			return
		}
	}
}

// runAnnouncementOperation catches the node up with the announced peak.
func (w *Worker) runAnnouncementOperation(ann state.Announcement) {
	w.evHandler("worker: runAnnouncementOperation: peer[%s] height[%d]: started", ann.Peer, ann.Height)
	defer w.evHandler("worker: runAnnouncementOperation: completed")

	ctx, cancel := context.WithTimeout(w.ctx, w.announcementWait)
	defer cancel()

	res, err := w.state.NewPeakAnnouncement(ctx, ann)
	if err != nil {
		w.evHandler("worker: runAnnouncementOperation: peer[%s]: ERROR: %s", ann.Peer, err)
		return
	}

	if res.Peak != nil {
		w.evHandler("worker: runAnnouncementOperation: added[%d] peak[%d]", res.Added, res.Peak.Height)
	}
}
