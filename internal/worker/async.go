package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Manjussha/ctxmon/internal/compaction"
	"github.com/Manjussha/ctxmon/internal/store"
)

// AsyncStore queues Record* calls for a single background writer and runs
// session-level calls synchronously after draining the queue. Writes keep
// their submission order.
type AsyncStore struct {
	next    store.Store
	jobs    chan job
	timeout time.Duration

	mu     sync.RWMutex // guards closed and sends on jobs
	closed bool
	wg     sync.WaitGroup

	dropped atomic.Int64
	failed  atomic.Int64
}

var _ store.Store = (*AsyncStore)(nil)

// NewAsync starts the writer goroutine in front of next. A full queue drops
// writes rather than blocking the caller.
func NewAsync(next store.Store, buffer int) *AsyncStore {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	a := &AsyncStore{
		next:    next,
		jobs:    make(chan job, buffer),
		timeout: DefaultTimeout,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *AsyncStore) enqueue(name string, fn func(ctx context.Context) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.jobs <- job{name: name, fn: fn}:
	default:
		a.dropped.Add(1)
		log.Warn("persistence queue full, dropping write", "op", name)
	}
	return nil
}

// Flush blocks until every write queued before it has run.
func (a *AsyncStore) Flush(ctx context.Context) error {
	done := make(chan struct{})

	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return ErrClosed
	}
	select {
	case a.jobs <- job{name: "flush", done: done}:
	case <-ctx.Done():
		a.mu.RUnlock()
		return ctx.Err()
	}
	a.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped reports how many writes were discarded because the queue was full.
func (a *AsyncStore) Dropped() int64 { return a.dropped.Load() }

// Failed reports how many queued writes returned an error.
func (a *AsyncStore) Failed() int64 { return a.failed.Load() }

func (a *AsyncStore) StartSession(ctx context.Context, model string) (int64, error) {
	if err := a.Flush(ctx); err != nil {
		return 0, err
	}
	return a.next.StartSession(ctx, model)
}

func (a *AsyncStore) EndSession(ctx context.Context) error {
	if err := a.Flush(ctx); err != nil {
		return err
	}
	return a.next.EndSession(ctx)
}

func (a *AsyncStore) RecordMessage(_ context.Context, m store.MessageRecord) error {
	return a.enqueue("RecordMessage", func(ctx context.Context) error { return a.next.RecordMessage(ctx, m) })
}

func (a *AsyncStore) RecordFileAccess(_ context.Context, f store.FileAccessRecord) error {
	return a.enqueue("RecordFileAccess", func(ctx context.Context) error { return a.next.RecordFileAccess(ctx, f) })
}

func (a *AsyncStore) RecordCompact(_ context.Context, ev compaction.Event) error {
	return a.enqueue("RecordCompact", func(ctx context.Context) error { return a.next.RecordCompact(ctx, ev) })
}

func (a *AsyncStore) RecordAlert(_ context.Context, r store.AlertRecord) error {
	return a.enqueue("RecordAlert", func(ctx context.Context) error { return a.next.RecordAlert(ctx, r) })
}

func (a *AsyncStore) RecordReset(_ context.Context, r store.ResetRecord) error {
	return a.enqueue("RecordReset", func(ctx context.Context) error { return a.next.RecordReset(ctx, r) })
}

func (a *AsyncStore) CleanupOlderThan(ctx context.Context, days int) error {
	if err := a.Flush(ctx); err != nil {
		return err
	}
	return a.next.CleanupOlderThan(ctx, days)
}

func (a *AsyncStore) SessionStats(ctx context.Context) (*store.SessionStats, error) {
	if err := a.Flush(ctx); err != nil {
		return nil, err
	}
	return a.next.SessionStats(ctx)
}

// Close drains the queue, stops the writer and closes the wrapped store.
func (a *AsyncStore) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.jobs)
	a.mu.Unlock()

	a.wg.Wait()
	return a.next.Close()
}
