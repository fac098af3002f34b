package igd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Refresher is anything that can rebuild its view of the router.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// AutoRefresher calls Refresh on a fixed interval so the cached table does
// not drift far from the router. A failed refresh is logged and the next
// tick tries again; mutations are never re-issued.
type AutoRefresher struct {
	target   Refresher
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	ticker  *clock.Ticker
	done    chan struct{}
	wg      sync.WaitGroup
	count   int
}

// NewAutoRefresher creates a refresher for target. A nil clk uses wall time.
func NewAutoRefresher(target Refresher, interval time.Duration, clk clock.Clock, logger *slog.Logger) *AutoRefresher {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoRefresher{
		target:   target,
		interval: interval,
		clock:    clk,
		logger:   logger,
		// done channel will be created when Start() is called
	}
}

// Start begins refreshing in a background goroutine. Multiple Start/Stop
// cycles are safe; each cycle creates fresh channels.
func (r *AutoRefresher) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started || r.interval <= 0 {
		return
	}

	r.started = true
	r.done = make(chan struct{})
	r.ticker = r.clock.Ticker(r.interval)

	// Capture local references so a later Start cannot race this goroutine.
	done := r.done
	ticker := r.ticker
	r.wg.Add(1)
	go r.refreshLoop(ticker.C, done)
}

// Stop terminates the refresh loop and waits for a running refresh to return.
func (r *AutoRefresher) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	close(r.done)
	r.ticker.Stop()
	r.mu.Unlock()

	r.wg.Wait()
}

// Count returns how many refreshes have been attempted.
func (r *AutoRefresher) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *AutoRefresher) refreshLoop(tickerC <-chan time.Time, done <-chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case <-tickerC:
			r.refresh(done)
		case <-done:
			return
		}
	}
}

func (r *AutoRefresher) refresh(done <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := r.target.Refresh(ctx)

	r.mu.Lock()
	r.count++
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("periodic refresh failed", "error", err)
		return
	}
	r.logger.Debug("periodic refresh completed")
}
