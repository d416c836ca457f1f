package registry

import (
	"sort"
	"sync"

	"github.com/batchcompose/batchcompose/pkg/types"
)

// DefaultHistoryLimit bounds how many retired terminal records are kept
// for inspection.
const DefaultHistoryLimit = 200

// Registry is the in-memory authoritative view of tracked instances,
// indexed by instance ID and by composition key. All operations are
// atomic with respect to each other; listings reflect a single
// consistent point in time.
type Registry struct {
	mu           sync.RWMutex
	byID         map[string]*types.InstanceRecord
	byKey        map[types.CompositionKey]map[string]*types.InstanceRecord
	history      []types.InstanceRecord
	historyLimit int
}

// New creates an empty registry. historyLimit bounds the retained
// terminal records; zero or negative selects DefaultHistoryLimit.
func New(historyLimit int) *Registry {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Registry{
		byID:         make(map[string]*types.InstanceRecord),
		byKey:        make(map[types.CompositionKey]map[string]*types.InstanceRecord),
		historyLimit: historyLimit,
	}
}

// Upsert inserts or replaces the record with the same ID.
func (r *Registry) Upsert(rec types.InstanceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[rec.ID]; ok && existing.Key != rec.Key {
		delete(r.byKey[existing.Key], rec.ID)
	}

	stored := rec
	r.byID[rec.ID] = &stored
	bucket, ok := r.byKey[rec.Key]
	if !ok {
		bucket = make(map[string]*types.InstanceRecord)
		r.byKey[rec.Key] = bucket
	}
	bucket[rec.ID] = &stored
}

// Get returns a copy of the record with the given ID.
func (r *Registry) Get(id string) (types.InstanceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byID[id]
	if !ok {
		return types.InstanceRecord{}, false
	}
	return *rec, true
}

// ListByKey returns copies of all records for the key, oldest first.
func (r *Registry) ListByKey(key types.CompositionKey) []types.InstanceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.InstanceRecord, 0, len(r.byKey[key]))
	for _, rec := range r.byKey[key] {
		out = append(out, *rec)
	}
	sortByAge(out)
	return out
}

// List returns copies of all tracked records, oldest first.
func (r *Registry) List() []types.InstanceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.InstanceRecord, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, *rec)
	}
	sortByAge(out)
	return out
}

// Remove drops the record from the active registry. Terminal records are
// retired into the bounded history rather than forgotten.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	delete(r.byKey[rec.Key], id)
	if len(r.byKey[rec.Key]) == 0 {
		delete(r.byKey, rec.Key)
	}

	if rec.State.Terminal() {
		r.history = append(r.history, *rec)
		if len(r.history) > r.historyLimit {
			r.history = r.history[len(r.history)-r.historyLimit:]
		}
	}
	return true
}

// History returns copies of retired terminal records, oldest first.
func (r *Registry) History() []types.InstanceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.InstanceRecord, len(r.history))
	copy(out, r.history)
	return out
}

// Keys returns every composition key with at least one tracked record.
func (r *Registry) Keys() []types.CompositionKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.CompositionKey, 0, len(r.byKey))
	for k := range r.byKey {
		out = append(out, k)
	}
	return out
}

// Summary returns per-key counts by lifecycle state.
func (r *Registry) Summary() types.StatusSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(types.StatusSummary, len(r.byKey))
	for key, bucket := range r.byKey {
		counts := make(types.StateCounts)
		for _, rec := range bucket {
			counts[rec.State]++
		}
		out[key] = counts
	}
	return out
}

// Replace swaps the entire registry content, used when loading a
// persisted snapshot at startup.
func (r *Registry) Replace(records []types.InstanceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID = make(map[string]*types.InstanceRecord, len(records))
	r.byKey = make(map[types.CompositionKey]map[string]*types.InstanceRecord)
	for _, rec := range records {
		stored := rec
		r.byID[rec.ID] = &stored
		bucket, ok := r.byKey[rec.Key]
		if !ok {
			bucket = make(map[string]*types.InstanceRecord)
			r.byKey[rec.Key] = bucket
		}
		bucket[rec.ID] = &stored
	}
}

// Len returns the number of active (tracked, non-retired) records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func sortByAge(records []types.InstanceRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
