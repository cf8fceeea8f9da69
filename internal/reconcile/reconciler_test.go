package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"brightdock/internal/clock"
	"brightdock/internal/config"
	"brightdock/internal/device"
	"brightdock/internal/dispatch"
	"brightdock/internal/ha"
)

type fixture struct {
	fetcher    *ha.MockClient
	transport  *device.FakeTransport
	registry   *device.Registry
	dispatcher *dispatch.Dispatcher
	store      *Store
	health     *Health
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	bindings := []config.DeviceBinding{
		{ID: "office.brightness", EntityID: "number.office_brightness",
			Node: "/dev/i2c-4", Feature: config.FeatureBrightness, Min: 0, Max: 100},
		{ID: "desk.brightness", EntityID: "number.desk_brightness",
			Node: "/dev/i2c-5", Feature: config.FeatureBrightness, Min: 0, Max: 100},
	}

	transport := device.NewFakeTransport()
	registry, err := device.NewRegistry(bindings, transport, zap.NewNop())
	require.NoError(t, err)

	dispatcher := dispatch.NewDispatcher(registry, clock.NewReal(), zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		dispatcher.Close(ctx)
	})

	store := NewStore(registry.IDs())
	dispatcher.OnOutcome(store.Record)

	fetcher := ha.NewMockClient()
	health := NewHealth()
	reconciler := NewReconciler(fetcher, dispatcher, registry, store, health,
		clock.NewReal(), 200*time.Millisecond, zap.NewNop())

	return &fixture{
		fetcher:    fetcher,
		transport:  transport,
		registry:   registry,
		dispatcher: dispatcher,
		store:      store,
		health:     health,
		reconciler: reconciler,
	}
}

func TestTickConvergesDevices(t *testing.T) {
	f := newFixture(t)
	f.fetcher.SetState("number.office_brightness", 70)
	f.fetcher.SetState("number.desk_brightness", 30)

	f.reconciler.RunOnce(context.Background())

	office, _ := f.store.Get("office.brightness")
	desk, _ := f.store.Get("desk.brightness")
	assert.Equal(t, 70, office.LastApplied)
	assert.Equal(t, 30, desk.LastApplied)

	v, _ := f.transport.Current("/dev/i2c-4", config.FeatureBrightness)
	assert.Equal(t, 70, v)
	v, _ = f.transport.Current("/dev/i2c-5", config.FeatureBrightness)
	assert.Equal(t, 30, v)

	assert.False(t, f.health.Snapshot().LastPollTime.IsZero())
}

func TestTickIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.fetcher.SetState("number.office_brightness", 70)
	f.fetcher.SetState("number.desk_brightness", 30)

	f.reconciler.RunOnce(context.Background())
	writes := len(f.transport.Writes())

	// Same desired state again: zero commands must be issued.
	f.reconciler.RunOnce(context.Background())
	f.reconciler.RunOnce(context.Background())

	assert.Equal(t, writes, len(f.transport.Writes()))
	assert.Equal(t, 3, f.fetcher.FetchCalls())
}

func TestTickChangesOnlyTheChangedDevice(t *testing.T) {
	f := newFixture(t)
	f.fetcher.SetState("number.office_brightness", 70)
	f.fetcher.SetState("number.desk_brightness", 30)
	f.reconciler.RunOnce(context.Background())

	deskBefore, _ := f.store.Get("desk.brightness")
	writesBefore := f.transport.WriteCount("/dev/i2c-5")

	f.fetcher.SetState("number.office_brightness", 85)
	f.reconciler.RunOnce(context.Background())

	office, _ := f.store.Get("office.brightness")
	assert.Equal(t, 85, office.LastApplied)

	deskAfter, _ := f.store.Get("desk.brightness")
	assert.Equal(t, deskBefore, deskAfter, "unchanged device state must not move")
	assert.Equal(t, writesBefore, f.transport.WriteCount("/dev/i2c-5"))
}

func TestFetchFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.fetcher.SetState("number.office_brightness", 70)
	f.reconciler.RunOnce(context.Background())

	before := f.store.Snapshot()
	pollBefore := f.health.Snapshot().LastPollTime

	f.fetcher.FailFetches(&ha.FetchError{Cause: ha.CauseNetwork, Err: context.DeadlineExceeded})
	f.reconciler.RunOnce(context.Background())
	f.reconciler.RunOnce(context.Background())

	assert.Equal(t, before, f.store.Snapshot())
	snap := f.health.Snapshot()
	assert.Equal(t, 2, snap.ConsecutiveFailures)
	assert.Equal(t, pollBefore, snap.LastPollTime)
	assert.True(t, f.health.Degraded())

	// Recovery clears the streak.
	f.fetcher.FailFetches(nil)
	f.reconciler.RunOnce(context.Background())
	assert.False(t, f.health.Degraded())
}

func TestAbsentEntityLeavesDeviceAlone(t *testing.T) {
	f := newFixture(t)
	f.fetcher.SetState("number.office_brightness", 70)
	f.fetcher.SetState("number.desk_brightness", 30)
	f.reconciler.RunOnce(context.Background())

	// Entity disappears from the snapshot (e.g. unavailable in HA).
	f.fetcher.RemoveState("number.desk_brightness")
	f.fetcher.SetState("number.office_brightness", 80)
	f.reconciler.RunOnce(context.Background())

	desk, _ := f.store.Get("desk.brightness")
	assert.Equal(t, 30, desk.LastApplied, "absent entity must not reset the device")
}

func TestDeviceFailureIsRecordedNotFatal(t *testing.T) {
	f := newFixture(t)
	f.transport.FailAlways("/dev/i2c-4", unix.EACCES)
	f.fetcher.SetState("number.office_brightness", 70)
	f.fetcher.SetState("number.desk_brightness", 30)

	f.reconciler.RunOnce(context.Background())

	office, _ := f.store.Get("office.brightness")
	assert.False(t, office.Applied)
	assert.NotEmpty(t, office.LastError)
	assert.Equal(t, 1, office.ConsecutiveFailures)

	desk, _ := f.store.Get("desk.brightness")
	assert.Equal(t, 30, desk.LastApplied, "other devices still converge")
	assert.True(t, f.store.AnyFailing())
}

func TestSlowDeviceDoesNotBlockTheTick(t *testing.T) {
	f := newFixture(t)
	f.transport.SetLatency("/dev/i2c-4", 500*time.Millisecond)
	f.fetcher.SetState("number.office_brightness", 70)

	start := time.Now()
	f.reconciler.RunOnce(context.Background())
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 400*time.Millisecond,
		"tick must give up at the budget, not wait for the device")

	// The straggler outcome still lands through the sink.
	require.Eventually(t, func() bool {
		office, _ := f.store.Get("office.brightness")
		return office.LastApplied == 70 && office.Applied
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSubmitPushed(t *testing.T) {
	f := newFixture(t)
	f.fetcher.SetState("number.office_brightness", 70)
	f.reconciler.RunOnce(context.Background())

	f.reconciler.SubmitPushed("number.office_brightness", 55)
	require.Eventually(t, func() bool {
		office, _ := f.store.Get("office.brightness")
		return office.LastApplied == 55
	}, 2*time.Second, 10*time.Millisecond)

	// Equal value: no extra write.
	writes := f.transport.WriteCount("/dev/i2c-4")
	f.reconciler.SubmitPushed("number.office_brightness", 55)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, writes, f.transport.WriteCount("/dev/i2c-4"))

	// Unknown entity: silently ignored.
	f.reconciler.SubmitPushed("number.ghost", 1)
}

func TestRunLoopTicksUntilCancelled(t *testing.T) {
	f := newFixture(t)
	f.reconciler.interval = 20 * time.Millisecond
	f.reconciler.tickBudget = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.reconciler.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return f.fetcher.FetchCalls() >= 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop on cancel")
	}
}
