package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultWriteTimeout bounds a single tracked write.
const DefaultWriteTimeout = 2 * time.Second

// WriteSet tracks background memory writes so they can be awaited.
// Writes run detached from the caller's context: a cancelled turn still
// finishes storing what it was given. Each write gets its own timeout, and
// the optional semaphore caps in-flight writes across all sets sharing it.
type WriteSet struct {
	limit   *semaphore.Weighted
	timeout time.Duration
	logger  *slog.Logger

	wg      sync.WaitGroup
	started atomic.Int64
	failed  atomic.Int64
}

// NewWriteSet returns an empty set. A nil limit means unbounded; a
// non-positive timeout means DefaultWriteTimeout.
func NewWriteSet(limit *semaphore.Weighted, timeout time.Duration) *WriteSet {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &WriteSet{limit: limit, timeout: timeout, logger: slog.Default()}
}

// Go runs fn in the background. Failures are logged and counted, never
// returned to the caller.
func (w *WriteSet) Go(name string, fn func(ctx context.Context) error) {
	w.wg.Add(1)
	w.started.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()

		if w.limit != nil {
			if err := w.limit.Acquire(ctx, 1); err != nil {
				w.failed.Add(1)
				w.logger.Warn("memory write dropped", "write", name, "error", err)
				return
			}
			defer w.limit.Release(1)
		}
		if err := fn(ctx); err != nil {
			w.failed.Add(1)
			w.logger.Warn("memory write failed", "write", name, "error", err)
		}
	}()
}

// Wait blocks until every write issued so far has finished or ctx is done.
func (w *WriteSet) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Started returns how many writes were issued.
func (w *WriteSet) Started() int { return int(w.started.Load()) }

// Failed returns how many writes failed or timed out.
func (w *WriteSet) Failed() int { return int(w.failed.Load()) }
