/*
Package storage persists the cluster state between runs.

The store holds one snapshot: every tracked instance record plus the
last-applied desired composition. The reconciliation loop saves a fresh
snapshot at the end of each tick and after every facade mutation, so a
restart resumes with every job that was already running at the scheduler
still tracked.

Snapshots are written in a single BoltDB read-write transaction. Bolt
commits are atomic, so a crash mid-write leaves the previous snapshot
intact; on restart the loader treats the file as "state as of the last
successful write" and the first tick re-derives each pending record's
true status from the scheduler.

Records are stored as JSON. Unknown fields are ignored on load, which
keeps old state files readable by newer binaries.
*/
package storage
