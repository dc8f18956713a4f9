// Package worker runs persistence writes on a background goroutine so that
// tracking calls never wait on storage I/O.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
)

// ErrClosed is returned when work is submitted after Close.
var ErrClosed = errors.New("worker: closed")

const (
	DefaultBuffer  = 1024
	DefaultTimeout = 10 * time.Second
)

// job is one queued write. A job with done set is a flush marker.
type job struct {
	name string
	fn   func(ctx context.Context) error
	done chan struct{}
}

// run drains jobs in FIFO order until the channel is closed.
func (a *AsyncStore) run() {
	defer a.wg.Done()
	for j := range a.jobs {
		if j.done != nil {
			close(j.done)
			continue
		}
		a.exec(j)
	}
}

func (a *AsyncStore) exec(j job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("persistence write panicked", "op", j.name, "panic", r)
		}
	}()

	// Callers have returned by now, so their contexts cannot bound the write.
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := j.fn(ctx); err != nil {
		a.failed.Add(1)
		log.Error("persistence write failed", "op", j.name, "err", err)
	}
}
