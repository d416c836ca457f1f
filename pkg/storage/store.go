package storage

import (
	"github.com/batchcompose/batchcompose/pkg/types"
)

// Store is the durable record of the tracked instances and the
// last-applied desired composition. Snapshots are written atomically: a
// crash mid-write yields the previous snapshot, never a torn one.
type Store interface {
	// SaveSnapshot replaces the persisted state with the given registry
	// content and desired composition, as one atomic write.
	SaveSnapshot(records []types.InstanceRecord, desired types.DesiredComposition) error

	// LoadSnapshot returns the state as of the last successful save. A
	// fresh store returns empty content and no error.
	LoadSnapshot() ([]types.InstanceRecord, types.DesiredComposition, error)

	// Close releases the underlying database.
	Close() error
}
