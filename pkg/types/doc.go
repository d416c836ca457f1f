/*
Package types defines the core data structures used throughout batchcompose.

It holds the domain model shared by all other packages: composition keys
(resource profile + job template), the desired composition mapping, instance
records, and the instance lifecycle state machine.

# Lifecycle

Instances move forward only:

	pending ──▶ running ──▶ preempted (preemptible instances only)
	   │           │
	   │           ├──▶ terminated
	   │           └──▶ failed
	   ├──▶ terminated (cancelled before confirmation)
	   └──▶ failed (rejected, or never appeared at the scheduler)

preempted, terminated and failed absorb. Replacing a lost instance always
creates a new record with a new ID; an old ID never becomes active again.
*/
package types
