package worker

// admissionOperations hands queued transactions to the mempool one at a
// time, in the order the queue picks.
func (w *Worker) admissionOperations() {
	w.evHandler("worker: admissionOperations: G started")
	defer w.evHandler("worker: admissionOperations: G completed")

	for {
		e, err := w.state.NextTransaction(w.ctx)
		if err != nil {
			if w.ctx.Err() != nil {
				w.evHandler("worker: admissionOperations: received shut signal")
				return
			}
			w.evHandler("worker: admissionOperations: ERROR: %s", err)
			continue
		}

		if err := w.admit(w.ctx, e); err != nil {
			w.evHandler("worker: admissionOperations: tx[%s]: ERROR: %s", e.ID, err)
		}
	}
}
