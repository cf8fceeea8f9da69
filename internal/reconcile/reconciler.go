package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"brightdock/internal/clock"
	"brightdock/internal/device"
	"brightdock/internal/dispatch"
	"brightdock/internal/ha"
)

// Reconciler runs the poll loop: fetch desired state, diff against
// last-applied values, dispatch the minimal set of commands.
type Reconciler struct {
	fetcher    ha.Fetcher
	dispatcher *dispatch.Dispatcher
	registry   *device.Registry
	store      *Store
	health     *Health
	clock      clock.Clock
	logger     *zap.Logger

	interval   time.Duration
	tickBudget time.Duration
}

// NewReconciler wires the poll loop. interval is the poll period; the
// per-tick wait budget is derived from it so a slow device can never
// delay the next fetch.
func NewReconciler(
	fetcher ha.Fetcher,
	dispatcher *dispatch.Dispatcher,
	registry *device.Registry,
	store *Store,
	health *Health,
	clk clock.Clock,
	interval time.Duration,
	logger *zap.Logger,
) *Reconciler {
	budget := interval * 3 / 4
	return &Reconciler{
		fetcher:    fetcher,
		dispatcher: dispatcher,
		registry:   registry,
		store:      store,
		health:     health,
		clock:      clk,
		logger:     logger,
		interval:   interval,
		tickBudget: budget,
	}
}

// Run ticks until ctx is cancelled. The first tick fires immediately.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("Reconciler started",
		zap.Duration("interval", r.interval),
		zap.Int("devices", len(r.registry.IDs())))

	for {
		r.RunOnce(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return
		case <-r.clock.After(r.interval):
		}
	}
}

// RunOnce performs a single fetch-diff-dispatch cycle.
func (r *Reconciler) RunOnce(ctx context.Context) {
	desired, err := r.fetcher.FetchStates(ctx)
	if err != nil {
		// Device state stays untouched; the polling period is the
		// retry backoff.
		r.health.RecordFetchFailure(err)
		r.logger.Warn("State fetch failed", zap.Error(err))
		return
	}
	r.health.RecordPollSuccess(r.clock.Now())

	pending := r.dispatchDiff(desired)
	if len(pending) == 0 {
		return
	}
	r.awaitOutcomes(ctx, pending)
}

// dispatchDiff submits one poll command per device whose desired
// value differs from the last applied one.
func (r *Reconciler) dispatchDiff(desired ha.DesiredState) []<-chan dispatch.Outcome {
	var pending []<-chan dispatch.Outcome

	for _, binding := range r.registry.Bindings() {
		value, ok := desired[binding.EntityID]
		if !ok {
			// Entity absent from the snapshot: leave the device
			// alone rather than inventing a target.
			continue
		}

		if current, applied := r.store.LastApplied(binding.ID); applied && current == value {
			continue
		}

		cmd := dispatch.NewCommand(binding.ID, value, dispatch.OriginPoll, r.clock.Now())
		r.logger.Debug("Dispatching poll command",
			zap.String("device", binding.ID),
			zap.Int("value", value))
		pending = append(pending, r.dispatcher.SubmitAsync(cmd))
	}

	return pending
}

// awaitOutcomes paces the tick: it waits for this tick's commands up
// to the tick budget. Outcomes themselves reach the store through the
// dispatcher's sink, so stragglers still land when they finish.
func (r *Reconciler) awaitOutcomes(ctx context.Context, pending []<-chan dispatch.Outcome) {
	budget := r.clock.After(r.tickBudget)
	for _, ch := range pending {
		select {
		case <-ch:
		case <-budget:
			r.logger.Warn("Tick budget exhausted with commands still in flight",
				zap.Int("pending", len(pending)))
			return
		case <-ctx.Done():
			return
		}
	}
}

// SubmitPushed handles a value pushed from Home Assistant between
// polls. It goes through the same diff gate as a tick, with poll
// origin, so manual overrides keep precedence.
func (r *Reconciler) SubmitPushed(entityID string, value int) {
	handle, ok := r.registry.ByEntity(entityID)
	if !ok {
		return
	}
	if current, applied := r.store.LastApplied(handle.ID()); applied && current == value {
		return
	}
	cmd := dispatch.NewCommand(handle.ID(), value, dispatch.OriginPoll, r.clock.Now())
	r.dispatcher.SubmitAsync(cmd)
}
