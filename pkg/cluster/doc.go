/*
Package cluster owns the mutable shared state of batchcompose (the
instance registry and the desired composition) and exposes the two ways
to act on it: the reconciliation tick (ReconcileOnce) and the
interactive facade (SetDesired, StatusSummary, TerminateAll).

# Reconciliation tick

Each tick runs in three phases:

 1. Under the lock, snapshot which instances need a status query.
 2. With the lock released, poll the scheduler for each of them. Slow
    polls therefore never block foreground callers.
 3. Under the lock again, apply the observed transitions, compute each
    key's deficit or surplus, submit or cancel to close the gap, retire
    terminal records, and persist the snapshot before the lock is
    released.

Replacements for preempted instances are submitted ahead of plain
deficit backfill and carry elevated priority: preemption means the
workload was evicted, not finished, and should be restored first.
Surplus trimming cancels the most recently created instances.

# Failure policy

A transient gateway failure affects only its instance: the record keeps
its state, the failure counts toward the instance's retry budget, and
the next attempt waits out an exponential backoff. A rejected submission
fails its record immediately. A failed snapshot write degrades to
"in-memory authoritative, disk stale" and is retried on the next tick.
Nothing short of an invariant violation (an illegal lifecycle
transition, a duplicate instance ID) stops the loop.
*/
package cluster
