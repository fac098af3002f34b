package igd

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// discoveryWorker runs device discovery off the controller's sequence.
// At most one discovery is in flight; start while running is a no-op.
type discoveryWorker struct {
	lib     ControlLibrary
	devices *DeviceList
	timeout time.Duration
	logger  *slog.Logger

	// onDone is set once at construction and called from the worker goroutine
	// after the new list is installed.
	onDone func()

	mu      sync.Mutex
	running bool
	closed  bool
	wg      sync.WaitGroup

	// pending counts scans whose completion has not been handled yet;
	// idle is closed whenever pending is zero.
	pending int
	idle    chan struct{}
}

func newDiscoveryWorker(lib ControlLibrary, devices *DeviceList, timeout time.Duration, logger *slog.Logger, onDone func()) *discoveryWorker {
	idle := make(chan struct{})
	close(idle)
	return &discoveryWorker{
		lib:     lib,
		devices: devices,
		timeout: timeout,
		logger:  logger,
		onDone:  onDone,
		idle:    idle,
	}
}

// errScanInProgress is returned by start while a discovery is running.
var errScanInProgress = errors.New("scan already in progress")

// start launches a discovery. It returns errScanInProgress if one is
// already running and ErrClosed after shutdown.
func (w *discoveryWorker) start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.running {
		return errScanInProgress
	}

	w.running = true
	if w.pending == 0 {
		w.idle = make(chan struct{})
	}
	w.pending++
	w.wg.Add(1)
	go w.run()
	return nil
}

func (w *discoveryWorker) run() {
	defer w.wg.Done()

	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	devices, err := w.lib.Discover(ctx)
	cancel()
	if err != nil {
		// An empty result is a valid outcome; selection decides what it means.
		w.logger.Warn("device discovery failed", "error", err)
		devices = nil
	}

	released := w.devices.Replace(devices)
	w.logger.Debug("device list installed",
		"devices", len(devices),
		"released", released,
		"elapsed", time.Since(started))

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	if w.onDone != nil {
		w.onDone()
	} else {
		w.finished()
	}
}

// finished marks one scan's completion as handled.
func (w *discoveryWorker) finished() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending == 0 {
		return
	}
	w.pending--
	if w.pending == 0 {
		close(w.idle)
	}
}

// isRunning reports whether a discovery is in flight.
func (w *discoveryWorker) isRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// idleCh returns a channel closed once no scan is pending.
func (w *discoveryWorker) idleCh() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idle
}

// shutdown refuses further scans and waits for an in-flight one to finish.
func (w *discoveryWorker) shutdown() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.wg.Wait()
}
