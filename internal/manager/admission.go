package manager

import (
	"context"
	"time"
)

// admit reserves a queue slot for r, waiting up to wait. The slot is held
// until r receives its result.
func (b *batcher) admit(ctx context.Context, r *hostRequest, wait time.Duration) error {
	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return tooBusyError{modelID: b.model}
	}
	b.outstanding.Add(1)
	r.onDone = func() { b.outstanding.Add(-1) }
	r.enqueued = time.Now()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case b.queue <- r:
		return nil
	case <-ctx.Done():
		b.outstanding.Add(-1)
		return ctx.Err()
	case <-timer.C:
		b.outstanding.Add(-1)
		return tooBusyError{modelID: b.model}
	}
}
