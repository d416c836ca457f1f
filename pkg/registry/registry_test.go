package registry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchcompose/batchcompose/pkg/types"
)

var (
	keyA = types.CompositionKey{ResourceProfile: "l40s", JobTemplate: "vllm"}
	keyB = types.CompositionKey{ResourceProfile: "cpu", JobTemplate: "etl"}
)

func record(id string, key types.CompositionKey, state types.LifecycleState, age time.Duration) types.InstanceRecord {
	return types.InstanceRecord{
		ID:        id,
		Key:       key,
		State:     state,
		CreatedAt: time.Now().Add(-age),
	}
}

func TestUpsertAndGet(t *testing.T) {
	r := New(0)

	rec := record("a", keyA, types.StatePending, 0)
	r.Upsert(rec)

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, keyA, got.Key)
	assert.Equal(t, types.StatePending, got.State)

	// Upsert replaces in place.
	rec.State = types.StateRunning
	r.Upsert(rec)
	got, _ = r.Get("a")
	assert.Equal(t, types.StateRunning, got.State)
	assert.Equal(t, 1, r.Len())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestGetReturnsCopy(t *testing.T) {
	r := New(0)
	r.Upsert(record("a", keyA, types.StatePending, 0))

	got, _ := r.Get("a")
	got.State = types.StateFailed

	// Mutating the copy must not touch the stored record.
	again, _ := r.Get("a")
	assert.Equal(t, types.StatePending, again.State)
}

func TestListByKeyOrdersOldestFirst(t *testing.T) {
	r := New(0)
	r.Upsert(record("young", keyA, types.StateRunning, time.Minute))
	r.Upsert(record("old", keyA, types.StateRunning, time.Hour))
	r.Upsert(record("other", keyB, types.StateRunning, time.Second))

	listed := r.ListByKey(keyA)
	require.Len(t, listed, 2)
	assert.Equal(t, "old", listed[0].ID)
	assert.Equal(t, "young", listed[1].ID)

	assert.Empty(t, r.ListByKey(types.CompositionKey{ResourceProfile: "none", JobTemplate: "none"}))
}

func TestRemoveRetiresTerminalToHistory(t *testing.T) {
	r := New(0)
	r.Upsert(record("done", keyA, types.StateTerminated, 0))
	r.Upsert(record("live", keyA, types.StateRunning, 0))

	require.True(t, r.Remove("done"))
	require.True(t, r.Remove("live"))
	assert.False(t, r.Remove("done"))

	// Only the terminal record lands in history.
	history := r.History()
	require.Len(t, history, 1)
	assert.Equal(t, "done", history[0].ID)
	assert.Equal(t, 0, r.Len())
}

func TestHistoryIsBounded(t *testing.T) {
	r := New(3)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("inst-%d", i)
		r.Upsert(record(id, keyA, types.StateFailed, 0))
		r.Remove(id)
	}

	history := r.History()
	require.Len(t, history, 3)
	assert.Equal(t, "inst-2", history[0].ID)
	assert.Equal(t, "inst-4", history[2].ID)
}

func TestSummary(t *testing.T) {
	r := New(0)
	r.Upsert(record("a1", keyA, types.StateRunning, 0))
	r.Upsert(record("a2", keyA, types.StateRunning, 0))
	r.Upsert(record("a3", keyA, types.StatePending, 0))
	r.Upsert(record("b1", keyB, types.StateFailed, 0))

	summary := r.Summary()
	assert.Equal(t, 2, summary[keyA][types.StateRunning])
	assert.Equal(t, 1, summary[keyA][types.StatePending])
	assert.Equal(t, 3, summary[keyA].Active())
	assert.Equal(t, 1, summary[keyB][types.StateFailed])
	assert.Equal(t, 0, summary[keyB].Active())
}

func TestReplace(t *testing.T) {
	r := New(0)
	r.Upsert(record("stale", keyA, types.StateRunning, 0))

	r.Replace([]types.InstanceRecord{
		record("a", keyA, types.StatePending, 0),
		record("b", keyB, types.StateRunning, 0),
	})

	_, ok := r.Get("stale")
	assert.False(t, ok)
	assert.Equal(t, 2, r.Len())
	assert.Len(t, r.ListByKey(keyA), 1)
	assert.Len(t, r.ListByKey(keyB), 1)
	assert.ElementsMatch(t, []types.CompositionKey{keyA, keyB}, r.Keys())
}
