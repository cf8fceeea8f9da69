package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brightdock/internal/dispatch"
)

func outcomeFor(device string, value int, kind dispatch.Kind, err error) dispatch.Outcome {
	cmd := dispatch.NewCommand(device, value, dispatch.OriginPoll, time.Now())
	o := dispatch.Outcome{Command: cmd, Kind: kind, Err: err, Attempts: 1}
	if kind == dispatch.KindApplied {
		o.AppliedAt = time.Now()
	}
	return o
}

func TestStoreRecordApplied(t *testing.T) {
	store := NewStore([]string{"a", "b"})

	store.Record(outcomeFor("a", 70, dispatch.KindApplied, nil))

	state, ok := store.Get("a")
	require.True(t, ok)
	assert.True(t, state.Applied)
	assert.Equal(t, 70, state.LastApplied)
	assert.False(t, state.LastSuccessAt.IsZero())
	assert.Zero(t, state.ConsecutiveFailures)

	value, applied := store.LastApplied("a")
	assert.True(t, applied)
	assert.Equal(t, 70, value)

	_, applied = store.LastApplied("b")
	assert.False(t, applied, "untouched device has no applied value")
}

func TestStoreRecordFailure(t *testing.T) {
	store := NewStore([]string{"a"})
	store.Record(outcomeFor("a", 70, dispatch.KindApplied, nil))

	store.Record(outcomeFor("a", 80, dispatch.KindFailed, errors.New("nack")))
	store.Record(outcomeFor("a", 80, dispatch.KindFailed, errors.New("nack")))

	state, _ := store.Get("a")
	assert.Equal(t, 70, state.LastApplied, "failure must not move last applied")
	assert.Equal(t, "nack", state.LastError)
	assert.Equal(t, 2, state.ConsecutiveFailures)
	assert.True(t, store.AnyFailing())

	// A success clears the failure streak.
	store.Record(outcomeFor("a", 80, dispatch.KindApplied, nil))
	state, _ = store.Get("a")
	assert.Equal(t, 80, state.LastApplied)
	assert.Empty(t, state.LastError)
	assert.Zero(t, state.ConsecutiveFailures)
	assert.False(t, store.AnyFailing())
}

func TestStoreSupersededChangesNothing(t *testing.T) {
	store := NewStore([]string{"a"})
	store.Record(outcomeFor("a", 70, dispatch.KindApplied, nil))
	before, _ := store.Get("a")

	store.Record(outcomeFor("a", 10, dispatch.KindSuperseded, errors.New("superseded")))

	after, _ := store.Get("a")
	assert.Equal(t, before, after)
}

func TestStoreIgnoresUnknownDevice(t *testing.T) {
	store := NewStore([]string{"a"})
	store.Record(outcomeFor("ghost", 1, dispatch.KindApplied, nil))
	assert.Len(t, store.Snapshot(), 1)
}

func TestStoreSnapshotOrder(t *testing.T) {
	store := NewStore([]string{"c", "a", "b"})
	snapshot := store.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, "c", snapshot[0].ID)
	assert.Equal(t, "a", snapshot[1].ID)
	assert.Equal(t, "b", snapshot[2].ID)
}

func TestHealth(t *testing.T) {
	health := NewHealth()
	assert.False(t, health.Degraded())

	health.RecordFetchFailure(errors.New("connection refused"))
	health.RecordFetchFailure(errors.New("connection refused"))

	snap := health.Snapshot()
	assert.Equal(t, 2, snap.ConsecutiveFailures)
	assert.Equal(t, "connection refused", snap.LastFetchError)
	assert.True(t, health.Degraded())
	assert.True(t, snap.LastPollTime.IsZero())

	now := time.Now()
	health.RecordPollSuccess(now)
	snap = health.Snapshot()
	assert.Equal(t, now, snap.LastPollTime)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.Empty(t, snap.LastFetchError)
	assert.False(t, health.Degraded())
}
