package worker

// expiryOperations drops consensus material that waited too long for the
// peak it builds on.
func (w *Worker) expiryOperations() {
	w.evHandler("worker: expiryOperations: G started")
	defer w.evHandler("worker: expiryOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.runExpiryOperation()
			}
		case <-w.shut:
			w.evHandler("worker: expiryOperations: received shut signal")
			return
		}
	}
}

// runExpiryOperation clears the old entries of the future caches.
func (w *Worker) runExpiryOperation() {
	dropped, err := w.state.ClearOldCacheEntries(w.ctx)
	if err != nil {
		w.evHandler("worker: runExpiryOperation: ERROR: %s", err)
		return
	}

	if dropped > 0 {
		w.evHandler("worker: runExpiryOperation: dropped[%d]", dropped)
	}
}
