package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCluster struct {
	ticks   atomic.Int64
	tickDur time.Duration
	err     error

	mu       sync.Mutex
	inflight bool
}

func (f *fakeCluster) ReconcileOnce(ctx context.Context) error {
	f.mu.Lock()
	f.inflight = true
	f.mu.Unlock()

	if f.tickDur > 0 {
		time.Sleep(f.tickDur)
	}
	f.ticks.Add(1)

	f.mu.Lock()
	f.inflight = false
	f.mu.Unlock()
	return f.err
}

func TestFirstTickIsImmediate(t *testing.T) {
	fc := &fakeCluster{}
	r := New(fc, time.Hour)
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		return fc.ticks.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestTicksOnInterval(t *testing.T) {
	fc := &fakeCluster{}
	r := New(fc, 10*time.Millisecond)
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		return fc.ticks.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestStopWaitsForInflightTick(t *testing.T) {
	fc := &fakeCluster{tickDur: 50 * time.Millisecond}
	r := New(fc, time.Hour)
	r.Start()

	// Let the immediate first tick get underway, then stop mid-tick.
	time.Sleep(10 * time.Millisecond)
	r.Stop()

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.False(t, fc.inflight, "Stop returned while a tick was still running")
	assert.Equal(t, int64(1), fc.ticks.Load())
}

func TestStopIsIdempotent(t *testing.T) {
	fc := &fakeCluster{}
	r := New(fc, time.Hour)
	r.Start()
	r.Stop()
	assert.NotPanics(t, func() { r.Stop() })
}

func TestTickErrorDoesNotStopLoop(t *testing.T) {
	fc := &fakeCluster{err: errors.New("snapshot write failed")}
	r := New(fc, 10*time.Millisecond)
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		return fc.ticks.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestNonPositiveIntervalUsesDefault(t *testing.T) {
	r := New(&fakeCluster{}, 0)
	assert.Equal(t, DefaultInterval, r.interval)
}
