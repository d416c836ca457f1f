package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/batchcompose/batchcompose/pkg/events"
	"github.com/batchcompose/batchcompose/pkg/gateway"
	"github.com/batchcompose/batchcompose/pkg/log"
	"github.com/batchcompose/batchcompose/pkg/metrics"
	"github.com/batchcompose/batchcompose/pkg/registry"
	"github.com/batchcompose/batchcompose/pkg/renderer"
	"github.com/batchcompose/batchcompose/pkg/storage"
	"github.com/batchcompose/batchcompose/pkg/types"
)

const (
	// DefaultGatewayTimeout bounds each scheduler call. A call that does
	// not return in time counts as a transient query failure.
	DefaultGatewayTimeout = 30 * time.Second

	// DefaultNotFoundBudget is how many consecutive "not found"
	// observations convert a record to Failed.
	DefaultNotFoundBudget = 3

	// DefaultBackoffInitial and DefaultBackoffMax bound the per-instance
	// exponential backoff applied after a failed gateway operation.
	DefaultBackoffInitial = 2 * time.Second
	DefaultBackoffMax     = 5 * time.Minute
)

// Config holds the reconciliation policy tunables.
type Config struct {
	GatewayTimeout time.Duration
	NotFoundBudget int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	HistoryLimit   int
}

// withDefaults fills zero fields with the documented defaults.
func (c Config) withDefaults() Config {
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = DefaultGatewayTimeout
	}
	if c.NotFoundBudget <= 0 {
		c.NotFoundBudget = DefaultNotFoundBudget
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	return c
}

// JobKind binds a composition key to the material needed to submit an
// instance of it: the resource profile and the job template.
type JobKind struct {
	Key      types.CompositionKey
	Profile  renderer.ResourceProfile
	Template renderer.JobTemplate
}

// Cluster is the single owned aggregate guarding all mutable shared
// state: the instance registry and the desired composition. The
// reconciliation loop and interactive callers both go through it; every
// read-modify-write sequence holds the one exclusive lock.
type Cluster struct {
	mu sync.Mutex

	cfg      Config
	gw       gateway.Gateway
	store    storage.Store
	renderer *renderer.Renderer
	broker   *events.Broker
	logger   zerolog.Logger

	registry *registry.Registry
	desired  types.DesiredComposition
	kinds    map[types.CompositionKey]JobKind

	// backoffs tracks, per instance, when the next gateway operation for
	// that instance may be attempted after a transient failure.
	backoffs map[string]*instanceBackoff

	// dirty is set when a snapshot write failed and the in-memory
	// registry is ahead of disk.
	dirty bool
}

// New assembles a cluster around the given collaborators and restores
// state from the store. The restored desired composition applies until
// SetDesired replaces it.
func New(cfg Config, kinds []JobKind, gw gateway.Gateway, store storage.Store, broker *events.Broker) (*Cluster, error) {
	cfg = cfg.withDefaults()

	kindsByKey := make(map[types.CompositionKey]JobKind, len(kinds))
	for _, kind := range kinds {
		kindsByKey[kind.Key] = kind
	}

	c := &Cluster{
		cfg:      cfg,
		gw:       gw,
		store:    store,
		renderer: renderer.New(),
		broker:   broker,
		logger:   log.WithComponent("cluster"),
		registry: registry.New(cfg.HistoryLimit),
		desired:  make(types.DesiredComposition),
		kinds:    kindsByKey,
		backoffs: make(map[string]*instanceBackoff),
	}

	records, desired, err := store.LoadSnapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to load state snapshot: %w", err)
	}
	c.registry.Replace(records)
	if desired != nil {
		c.desired = desired
	}

	c.logger.Info().
		Int("instances", len(records)).
		Int("composition_keys", len(desired)).
		Msg("restored cluster state")
	return c, nil
}

// SetDesired replaces the desired composition. Takes effect from the
// next tick; the loop converges to whatever is current at each tick.
func (c *Cluster) SetDesired(desired types.DesiredComposition) error {
	for key, target := range desired {
		if target < 0 {
			return fmt.Errorf("%w: negative target %d for %s", ErrInvalidComposition, target, key)
		}
		if _, ok := c.kinds[key]; !ok {
			return fmt.Errorf("%w: unknown composition key %s", ErrInvalidComposition, key)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.desired = desired.Clone()
	c.persistLocked()
	c.publish(&events.Event{
		Type:    events.EventCompositionUpdated,
		Message: fmt.Sprintf("desired composition now spans %d keys", len(desired)),
	})
	return nil
}

// Desired returns a copy of the current desired composition.
func (c *Cluster) Desired() types.DesiredComposition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desired.Clone()
}

// StatusSummary returns per-key instance counts by state, reflecting a
// single consistent point in time.
func (c *Cluster) StatusSummary() types.StatusSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	summary := c.registry.Summary()
	// Keys desired but with no records yet still show up, with zero counts.
	for key := range c.desired {
		if _, ok := summary[key]; !ok {
			summary[key] = make(types.StateCounts)
		}
	}
	return summary
}

// Instances returns copies of all tracked records, oldest first.
func (c *Cluster) Instances() []types.InstanceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.List()
}

// History returns copies of retired terminal records, oldest first.
func (c *Cluster) History() []types.InstanceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.History()
}

// TerminateAll cancels every non-terminal instance and zeroes the
// desired composition in the same locked operation, so a concurrently
// running loop cannot refill the deficit.
func (c *Cluster) TerminateAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.desired {
		c.desired[key] = 0
	}

	var firstErr error
	for _, rec := range c.registry.List() {
		if rec.State.Terminal() {
			continue
		}
		if err := c.cancelLocked(ctx, rec.ID); err != nil {
			c.logger.Warn().Err(err).Str("instance_id", rec.ID).Msg("failed to cancel instance during teardown")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	c.persistLocked()
	return firstErr
}

// publish emits an event if a broker is attached.
func (c *Cluster) publish(event *events.Event) {
	if c.broker != nil {
		c.broker.Publish(event)
	}
}

// persistLocked writes the current snapshot. On failure the in-memory
// registry stays authoritative and the write is retried on the next
// tick or mutation. Callers must hold c.mu.
func (c *Cluster) persistLocked() error {
	err := c.store.SaveSnapshot(c.registry.List(), c.desired)
	if err != nil {
		c.dirty = true
		metrics.PersistenceErrorsTotal.Inc()
		c.logger.Warn().Err(err).Msg("failed to persist state snapshot; in-memory state remains authoritative")
		return fmt.Errorf("failed to persist state snapshot: %w", err)
	}
	c.dirty = false
	return nil
}
