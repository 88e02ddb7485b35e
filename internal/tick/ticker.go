// Package tick runs a callback on a fixed period with explicit start and
// cancel. A tick that fires while the previous callback is still running is
// dropped and counted, so slow work never queues up.
package tick

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrRunning = errors.New("ticker already running")

type Ticker struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	busy    atomic.Bool
	fired   atomic.Uint64
	skipped atomic.Uint64
}

// Start calls fn every interval until ctx is done or Stop is called.
func (t *Ticker) Start(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		return errors.New("tick interval must be positive")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return ErrRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go t.loop(runCtx, interval, fn)
	return nil
}

func (t *Ticker) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer t.wg.Done()
	tk := time.NewTicker(interval)
	defer tk.Stop()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
		}
		if !t.busy.CompareAndSwap(false, true) {
			t.skipped.Add(1)
			continue
		}
		t.fired.Add(1)
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer t.busy.Store(false)
			fn(ctx)
		}()
	}
}

// Stop cancels the tick and waits for a running callback to return. Safe to
// call on a ticker that was never started, and more than once.
func (t *Ticker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
}

// Running reports whether Start has been called without a matching Stop.
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// Stats returns the number of callbacks run and ticks dropped.
func (t *Ticker) Stats() (fired, skipped uint64) {
	return t.fired.Load(), t.skipped.Load()
}
