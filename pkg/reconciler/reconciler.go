package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/batchcompose/batchcompose/pkg/log"
)

// DefaultInterval is the tick interval used when none is configured.
const DefaultInterval = 60 * time.Second

// Cluster is the surface the reconciler drives. *cluster.Cluster
// satisfies it.
type Cluster interface {
	ReconcileOnce(ctx context.Context) error
}

// Reconciler drives the cluster toward its desired composition on a
// fixed interval. It owns one background goroutine; Stop signals it and
// waits for the in-flight tick to complete, so no submission or
// cancellation is ever interrupted mid-flight.
type Reconciler struct {
	cluster  Cluster
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a reconciler around the cluster. A non-positive interval
// selects DefaultInterval.
func New(c Cluster, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		cluster:  c,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop signals the loop and blocks until the in-flight tick, if any,
// has completed and persisted its outcome.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	<-r.doneCh
}

// run is the main reconciliation loop. It is fatal-error-free: its only
// terminal condition is an explicit stop request.
func (r *Reconciler) run() {
	defer close(r.doneCh)

	logger := log.WithComponent("reconciler")
	logger.Info().Dur("interval", r.interval).Msg("reconciliation loop started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// First convergence pass happens immediately, not one interval in.
	r.tick()

	for {
		select {
		case <-ticker.C:
			r.tick()
		case <-r.stopCh:
			logger.Info().Msg("reconciliation loop stopped")
			return
		}
	}
}

func (r *Reconciler) tick() {
	if err := r.cluster.ReconcileOnce(context.Background()); err != nil {
		logger := log.WithComponent("reconciler")
		logger.Warn().Err(err).Msg("tick completed with unpersisted state")
	}
}
