package chainsync

import (
	"context"
	"time"

	"github.com/emberchain/ember/types"
)

// ResultQueue carries downloaded block batches from the exchange to the
// engine. It is the single cross-goroutine boundary of the sync core:
// the download layer produces, the engine consumes with a bounded wait.
type ResultQueue struct {
	ch chan types.Blocks
}

// NewResultQueue returns a queue buffering up to capacity batches.
func NewResultQueue(capacity int) *ResultQueue {
	return &ResultQueue{ch: make(chan types.Blocks, capacity)}
}

// Push enqueues a batch, blocking while the queue is full. It returns the
// context error if ctx terminates first.
func (q *ResultQueue) Push(ctx context.Context, blocks types.Blocks) error {
	select {
	case q.ch <- blocks:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PopWait dequeues a batch, waiting at most timeout. The second return
// value distinguishes "no batch within the timeout" from a delivered batch,
// so callers can re-check their stop condition on every timeout.
func (q *ResultQueue) PopWait(timeout time.Duration) (types.Blocks, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case blocks := <-q.ch:
		return blocks, true
	case <-timer.C:
		return nil, false
	}
}

// Len returns the number of batches currently queued.
func (q *ResultQueue) Len() int { return len(q.ch) }
