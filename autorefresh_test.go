package igd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRefresher records Refresh calls.
type countingRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingRefresher) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

func (r *countingRefresher) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestAutoRefresher(t *testing.T) {
	t.Run("refreshes on every tick", func(t *testing.T) {
		target := &countingRefresher{}
		mock := clock.NewMock()
		r := NewAutoRefresher(target, time.Minute, mock, discardLogger())
		r.Start()
		defer r.Stop()

		mock.Add(time.Minute)
		require.Eventually(t, func() bool { return r.Count() == 1 }, time.Second, time.Millisecond)

		mock.Add(time.Minute)
		require.Eventually(t, func() bool { return r.Count() == 2 }, time.Second, time.Millisecond)
		assert.Equal(t, 2, target.Calls())
	})

	t.Run("no refresh before the interval elapses", func(t *testing.T) {
		target := &countingRefresher{}
		mock := clock.NewMock()
		r := NewAutoRefresher(target, time.Minute, mock, discardLogger())
		r.Start()
		defer r.Stop()

		mock.Add(30 * time.Second)
		assert.Never(t, func() bool { return r.Count() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	})

	t.Run("failures are counted and the loop continues", func(t *testing.T) {
		target := &countingRefresher{err: errors.New("router unreachable")}
		mock := clock.NewMock()
		r := NewAutoRefresher(target, time.Second, mock, discardLogger())
		r.Start()
		defer r.Stop()

		mock.Add(time.Second)
		require.Eventually(t, func() bool { return r.Count() == 1 }, time.Second, time.Millisecond)
		mock.Add(time.Second)
		require.Eventually(t, func() bool { return r.Count() == 2 }, time.Second, time.Millisecond)
	})

	t.Run("zero interval never starts", func(t *testing.T) {
		target := &countingRefresher{}
		mock := clock.NewMock()
		r := NewAutoRefresher(target, 0, mock, discardLogger())
		r.Start()

		mock.Add(time.Hour)
		assert.Never(t, func() bool { return target.Calls() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
		r.Stop()
	})

	t.Run("start and stop are idempotent", func(t *testing.T) {
		target := &countingRefresher{}
		mock := clock.NewMock()
		r := NewAutoRefresher(target, time.Minute, mock, discardLogger())

		r.Stop()
		r.Start()
		r.Start()
		r.Stop()
		r.Stop()

		mock.Add(time.Minute)
		assert.Never(t, func() bool { return target.Calls() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

		// A second cycle works after a stop.
		r.Start()
		defer r.Stop()
		mock.Add(time.Minute)
		require.Eventually(t, func() bool { return target.Calls() == 1 }, time.Second, time.Millisecond)
	})
}

func TestAutoRefresherDrivesController(t *testing.T) {
	gw := NewMockGateway()
	c, rec := newTestController(t, NewMockControlLibrary(gw), Options{})
	scanAndWait(t, c)
	require.Empty(t, c.Mappings())
	rec.reset()

	mock := clock.NewMock()
	r := NewAutoRefresher(c, 10*time.Second, mock, discardLogger())
	r.Start()
	defer r.Stop()

	gw.SetTable(tcpEntry(6881, "192.168.1.30", 6881, "torrent"))
	mock.Add(10 * time.Second)

	require.Eventually(t, func() bool { return rec.count(DataRefreshed) == 1 }, time.Second, time.Millisecond)
	assert.Len(t, c.Mappings(), 1)
}
