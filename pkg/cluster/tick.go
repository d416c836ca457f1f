package cluster

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"github.com/batchcompose/batchcompose/pkg/events"
	"github.com/batchcompose/batchcompose/pkg/gateway"
	"github.com/batchcompose/batchcompose/pkg/metrics"
	"github.com/batchcompose/batchcompose/pkg/types"
)

// pollTarget is one instance whose scheduler status the tick queries.
type pollTarget struct {
	id     string
	handle string
}

// observation is the result of one status query.
type observation struct {
	id     string
	status gateway.JobStatus
	err    error
}

// instanceBackoff tracks when the next gateway operation for an
// instance may be retried after a transient failure.
type instanceBackoff struct {
	bo   *backoff.ExponentialBackOff
	next time.Time
}

// ReconcileOnce drives one full reconciliation tick: observe, apply the
// lifecycle state machine, close per-key deficits and surpluses, and
// persist the resulting snapshot. Status queries run outside the cluster
// lock so a slow poll round does not block foreground callers.
//
// Individual gateway failures never abort the tick; they are retried on
// later ticks under per-instance backoff. The returned error reports a
// failed snapshot write, which leaves the in-memory registry
// authoritative and is retried next tick.
func (c *Cluster) ReconcileOnce(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	now := time.Now()

	// Phase 1: decide what to poll.
	c.mu.Lock()
	var toPoll []pollTarget
	for _, rec := range c.registry.List() {
		if rec.State.Terminal() || rec.SchedulerHandle == "" {
			continue
		}
		if !c.retryAllowed(rec.ID, now) {
			continue
		}
		toPoll = append(toPoll, pollTarget{id: rec.ID, handle: rec.SchedulerHandle})
	}
	c.mu.Unlock()

	// Phase 2: query the scheduler, lock released.
	observations := make([]observation, 0, len(toPoll))
	for _, target := range toPoll {
		status, err := c.queryStatus(ctx, target.handle)
		observations = append(observations, observation{id: target.id, status: status, err: err})
	}

	// Phase 3: apply transitions and correct the composition.
	c.mu.Lock()
	defer c.mu.Unlock()

	newlyPreempted := make(map[types.CompositionKey]int)
	for _, obs := range observations {
		c.applyObservation(obs, now, newlyPreempted)
	}

	c.retryUnsubmitted(ctx, now)

	for _, key := range c.compositionKeys() {
		c.reconcileKey(ctx, key, now, newlyPreempted[key])
	}

	c.retireTerminal()
	c.updateGauges()

	err := c.persistLocked()
	c.publish(&events.Event{Type: events.EventTickCompleted})
	return err
}

// queryStatus wraps one gateway status query with the configured
// timeout.
func (c *Cluster) queryStatus(ctx context.Context, handle string) (gateway.JobStatus, error) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.GatewayTimeout)
	defer cancel()
	return c.gw.QueryStatus(cctx, handle)
}

// applyObservation advances one record through the state machine based
// on what the scheduler reported. Transitions are driven exclusively by
// observations; a record whose query failed keeps its state.
func (c *Cluster) applyObservation(obs observation, now time.Time, newlyPreempted map[types.CompositionKey]int) {
	rec, ok := c.registry.Get(obs.id)
	if !ok || rec.State.Terminal() {
		// Removed or finished by a facade call while we were polling.
		return
	}

	if obs.err != nil {
		rec.QueryFailures++
		c.noteFailure(rec.ID, now)
		metrics.GatewayErrorsTotal.WithLabelValues("query").Inc()
		c.logger.Warn().Err(obs.err).
			Str("instance_id", rec.ID).
			Int("query_failures", rec.QueryFailures).
			Msg("status query failed; keeping state until next tick")
		c.registry.Upsert(rec)
		return
	}

	rec.QueryFailures = 0
	c.clearBackoff(rec.ID)
	rec.LastObservedAt = now

	switch obs.status {
	case gateway.StatusActive:
		rec.NotFoundCount = 0
		if rec.State == types.StatePending {
			c.transition(&rec, types.StateRunning, now)
			c.publish(&events.Event{
				Type:           events.EventInstanceRunning,
				InstanceID:     rec.ID,
				CompositionKey: rec.Key.String(),
			})
		}

	case gateway.StatusCompleted:
		c.transition(&rec, types.StateTerminated, now)
		c.publish(&events.Event{
			Type:           events.EventInstanceTerminated,
			InstanceID:     rec.ID,
			CompositionKey: rec.Key.String(),
		})

	case gateway.StatusFailed:
		c.transition(&rec, types.StateFailed, now)
		c.publish(&events.Event{
			Type:           events.EventInstanceFailed,
			InstanceID:     rec.ID,
			CompositionKey: rec.Key.String(),
		})

	case gateway.StatusPreempted:
		if rec.State == types.StateRunning && rec.Preemptible {
			c.transition(&rec, types.StatePreempted, now)
			newlyPreempted[rec.Key]++
			metrics.PreemptionsTotal.WithLabelValues(rec.Key.String()).Inc()
			c.publish(&events.Event{
				Type:           events.EventInstancePreempted,
				InstanceID:     rec.ID,
				CompositionKey: rec.Key.String(),
			})
		} else {
			// Eviction of a non-preemptible instance is a plain failure;
			// the deficit computation restores it without elevation.
			c.transition(&rec, types.StateFailed, now)
			c.publish(&events.Event{
				Type:           events.EventInstanceFailed,
				InstanceID:     rec.ID,
				CompositionKey: rec.Key.String(),
				Message:        "evicted by scheduler",
			})
		}

	case gateway.StatusNotFound:
		rec.NotFoundCount++
		if rec.NotFoundCount >= c.cfg.NotFoundBudget {
			// A job that never appears (or vanished from accounting)
			// failed to start, it is not missing forever.
			c.transition(&rec, types.StateFailed, now)
			c.publish(&events.Event{
				Type:           events.EventInstanceFailed,
				InstanceID:     rec.ID,
				CompositionKey: rec.Key.String(),
				Message:        fmt.Sprintf("not found after %d observations", rec.NotFoundCount),
			})
		}
	}

	c.registry.Upsert(rec)
}

// transition applies a state machine step. An illegal step is a
// programming invariant violation.
func (c *Cluster) transition(rec *types.InstanceRecord, next types.LifecycleState, now time.Time) {
	if !rec.State.CanTransition(next) {
		panic(fmt.Sprintf("illegal lifecycle transition %s -> %s for instance %s", rec.State, next, rec.ID))
	}
	rec.State = next
	if next.Terminal() {
		rec.FinishedAt = now
	}
}

// retryUnsubmitted re-attempts submission for records whose earlier
// submit failed transiently, once their backoff has elapsed. These
// records are Pending with no scheduler handle and already count toward
// their key's active set, so retrying them never overshoots the target.
func (c *Cluster) retryUnsubmitted(ctx context.Context, now time.Time) {
	for _, rec := range c.registry.List() {
		if rec.State != types.StatePending || rec.SchedulerHandle != "" {
			continue
		}
		if !c.retryAllowed(rec.ID, now) {
			continue
		}
		c.attemptSubmit(ctx, rec, now)
	}
}

// reconcileKey closes the gap between desired and active for one key.
func (c *Cluster) reconcileKey(ctx context.Context, key types.CompositionKey, now time.Time, preemptedCount int) {
	target := c.desired[key]

	var active []types.InstanceRecord
	for _, rec := range c.registry.ListByKey(key) {
		if rec.State == types.StatePending || rec.State == types.StateRunning {
			active = append(active, rec)
		}
	}

	deficit := target - len(active)
	switch {
	case deficit > 0:
		c.logger.Info().
			Str("composition_key", key.String()).
			Int("target", target).
			Int("active", len(active)).
			Int("deficit", deficit).
			Msg("submitting instances to close deficit")
		for i := 0; i < deficit; i++ {
			// Replacements for preempted instances go first, elevated.
			c.createInstance(ctx, key, i < preemptedCount, now)
		}

	case deficit < 0:
		surplus := -deficit
		c.logger.Info().
			Str("composition_key", key.String()).
			Int("target", target).
			Int("active", len(active)).
			Int("surplus", surplus).
			Msg("cancelling surplus instances")
		// active is sorted oldest first; cancel the most recently created.
		for i := 0; i < surplus; i++ {
			rec := active[len(active)-1-i]
			if err := c.cancelLocked(ctx, rec.ID); err != nil {
				c.logger.Warn().Err(err).
					Str("instance_id", rec.ID).
					Msg("failed to cancel surplus instance; will retry next tick")
			}
		}
	}
}

// createInstance allocates a new record and attempts its submission.
// Recreation always mints a new instance ID.
func (c *Cluster) createInstance(ctx context.Context, key types.CompositionKey, elevated bool, now time.Time) {
	kind, ok := c.kinds[key]
	if !ok {
		c.logger.Error().
			Str("composition_key", key.String()).
			Msg("no job kind configured for desired composition key")
		return
	}

	id := uuid.New().String()
	if _, exists := c.registry.Get(id); exists {
		panic(fmt.Sprintf("duplicate instance id %s", id))
	}

	rec := types.InstanceRecord{
		ID:          id,
		Key:         key,
		State:       types.StatePending,
		Preemptible: kind.Profile.Preemptible,
		Elevated:    elevated,
		CreatedAt:   now,
	}
	c.registry.Upsert(rec)
	c.attemptSubmit(ctx, rec, now)
}

// attemptSubmit renders and submits one Pending record. A rejection
// fails the record permanently; a transient error leaves it Pending
// without a handle, to be retried under backoff.
func (c *Cluster) attemptSubmit(ctx context.Context, rec types.InstanceRecord, now time.Time) {
	kind := c.kinds[rec.Key]
	jobName := fmt.Sprintf("%s-%s", rec.Key.JobTemplate, shortID(rec.ID))

	script, err := c.renderer.Render(kind.Profile, kind.Template, jobName)
	if err != nil {
		// A template that cannot render can never succeed.
		c.transition(&rec, types.StateFailed, now)
		c.registry.Upsert(rec)
		metrics.SubmissionsTotal.WithLabelValues(rec.Key.String(), "rejected").Inc()
		c.logger.Error().Err(err).
			Str("instance_id", rec.ID).
			Msg("failed to render job script")
		return
	}

	priority := gateway.PriorityNormal
	if rec.Elevated {
		priority = gateway.PriorityElevated
	}

	cctx, cancel := context.WithTimeout(ctx, c.cfg.GatewayTimeout)
	handle, err := c.gw.Submit(cctx, gateway.SubmitSpec{
		Name:     jobName,
		Script:   script,
		Priority: priority,
	})
	cancel()

	switch {
	case err == nil:
		rec.SchedulerHandle = handle
		c.clearBackoff(rec.ID)
		c.registry.Upsert(rec)
		metrics.SubmissionsTotal.WithLabelValues(rec.Key.String(), "submitted").Inc()
		c.publish(&events.Event{
			Type:           events.EventInstanceSubmitted,
			InstanceID:     rec.ID,
			CompositionKey: rec.Key.String(),
		})
		c.logger.Info().
			Str("instance_id", rec.ID).
			Str("handle", handle).
			Str("composition_key", rec.Key.String()).
			Bool("elevated", rec.Elevated).
			Msg("submitted instance")

	case gateway.IsRejected(err):
		c.transition(&rec, types.StateFailed, now)
		c.registry.Upsert(rec)
		metrics.SubmissionsTotal.WithLabelValues(rec.Key.String(), "rejected").Inc()
		c.publish(&events.Event{
			Type:           events.EventInstanceFailed,
			InstanceID:     rec.ID,
			CompositionKey: rec.Key.String(),
			Message:        err.Error(),
		})
		c.logger.Warn().Err(err).
			Str("instance_id", rec.ID).
			Msg("submission rejected by scheduler")

	default:
		c.noteFailure(rec.ID, now)
		c.registry.Upsert(rec)
		metrics.GatewayErrorsTotal.WithLabelValues("submit").Inc()
		c.logger.Warn().Err(err).
			Str("instance_id", rec.ID).
			Msg("transient submission failure; will retry under backoff")
	}
}

// cancelLocked cancels one instance at the scheduler and marks it
// Terminated. Callers must hold c.mu.
func (c *Cluster) cancelLocked(ctx context.Context, id string) error {
	rec, ok := c.registry.Get(id)
	if !ok || rec.State.Terminal() {
		return nil
	}

	now := time.Now()
	if rec.SchedulerHandle != "" {
		cctx, cancel := context.WithTimeout(ctx, c.cfg.GatewayTimeout)
		err := c.gw.Cancel(cctx, rec.SchedulerHandle)
		cancel()
		if err != nil {
			c.noteFailure(rec.ID, now)
			metrics.GatewayErrorsTotal.WithLabelValues("cancel").Inc()
			return err
		}
	}

	c.clearBackoff(rec.ID)
	c.transition(&rec, types.StateTerminated, now)
	c.registry.Upsert(rec)
	metrics.CancellationsTotal.WithLabelValues(rec.Key.String()).Inc()
	c.publish(&events.Event{
		Type:           events.EventInstanceCancelled,
		InstanceID:     rec.ID,
		CompositionKey: rec.Key.String(),
	})
	return nil
}

// retireTerminal moves records that reached a terminal state, and whose
// replacement has been accounted for by this tick's deficit
// computation, out of the active registry into the bounded history.
func (c *Cluster) retireTerminal() {
	for _, rec := range c.registry.List() {
		if rec.State.Terminal() {
			c.registry.Remove(rec.ID)
			c.clearBackoff(rec.ID)
		}
	}
}

// compositionKeys returns every key with a target or a tracked record,
// in stable order.
func (c *Cluster) compositionKeys() []types.CompositionKey {
	seen := make(map[types.CompositionKey]bool)
	var keys []types.CompositionKey
	for key := range c.desired {
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	for _, key := range c.registry.Keys() {
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// updateGauges refreshes the per-key instance and target gauges.
func (c *Cluster) updateGauges() {
	metrics.InstancesTotal.Reset()
	for key, counts := range c.registry.Summary() {
		for state, n := range counts {
			metrics.InstancesTotal.WithLabelValues(key.String(), string(state)).Set(float64(n))
		}
	}
	metrics.TargetInstances.Reset()
	for key, target := range c.desired {
		metrics.TargetInstances.WithLabelValues(key.String()).Set(float64(target))
	}
}

// retryAllowed reports whether the instance's backoff window has passed.
func (c *Cluster) retryAllowed(id string, now time.Time) bool {
	b, ok := c.backoffs[id]
	return !ok || !now.Before(b.next)
}

// noteFailure pushes the instance's next retry out exponentially.
func (c *Cluster) noteFailure(id string, now time.Time) {
	b, ok := c.backoffs[id]
	if !ok {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = c.cfg.BackoffInitial
		bo.MaxInterval = c.cfg.BackoffMax
		bo.MaxElapsedTime = 0 // retry budget is per policy above, not elapsed time
		bo.Reset()
		b = &instanceBackoff{bo: bo}
		c.backoffs[id] = b
	}
	b.next = now.Add(b.bo.NextBackOff())
}

// clearBackoff resets retry state after a successful gateway operation.
func (c *Cluster) clearBackoff(id string) {
	delete(c.backoffs, id)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
