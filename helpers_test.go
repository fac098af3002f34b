package igd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// discardLogger keeps test output quiet.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// logBuffer captures debug-level log output for assertions.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *logBuffer) logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(b, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// eventRecorder collects controller events in the order they were emitted.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *eventRecorder) count(e Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.events {
		if got == e {
			n++
		}
	}
	return n
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// newTestController builds a Controller on lib with events recorded.
func newTestController(t *testing.T, lib ControlLibrary, opts Options) (*Controller, *eventRecorder) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	c := NewController(lib, opts)
	rec := &eventRecorder{}
	c.OnEvent(rec.record)
	t.Cleanup(func() { c.Close() })
	return c, rec
}

// scanAndWait runs a discovery and waits for its cascaded refresh.
func scanAndWait(t *testing.T, c *Controller) {
	t.Helper()
	c.Scan()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.WaitScan(ctx))
}

func tcpEntry(ext uint16, client string, internal uint16, desc string) GenericPortMappingEntry {
	return GenericPortMappingEntry{
		ExternalPort:   ext,
		Protocol:       "TCP",
		InternalPort:   internal,
		InternalClient: client,
		Enabled:        "1",
		Description:    desc,
		LeaseDuration:  "0",
	}
}

func udpEntry(ext uint16, client string, internal uint16, desc string) GenericPortMappingEntry {
	e := tcpEntry(ext, client, internal, desc)
	e.Protocol = "UDP"
	return e
}
