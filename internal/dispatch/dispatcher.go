package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"brightdock/internal/clock"
	"brightdock/internal/device"
)

const (
	// defaultMaxAttempts bounds physical writes per command,
	// including the first try.
	defaultMaxAttempts = 3
	// defaultBackoffBase is the first retry delay; each further
	// retry triples it (100ms, 300ms, 900ms).
	defaultBackoffBase = 100 * time.Millisecond
	// maxQueuedPerDevice bounds each device lane.
	maxQueuedPerDevice = 16
)

// Dispatcher serializes command execution per device. Commands for
// the same device run strictly in submission order; distinct devices
// never contend.
type Dispatcher struct {
	registry    *device.Registry
	clock       clock.Clock
	logger      *zap.Logger
	maxAttempts int
	backoffBase time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	lanes  map[string]*lane
	sinks  []Sink
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher routing through the registry.
func NewDispatcher(registry *device.Registry, clk clock.Clock, logger *zap.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		registry:    registry,
		clock:       clk,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		ctx:         ctx,
		cancel:      cancel,
		lanes:       make(map[string]*lane),
	}
}

// OnOutcome registers a sink called for every outcome. Register sinks
// before the first submission.
func (d *Dispatcher) OnOutcome(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
}

func (d *Dispatcher) emit(outcome Outcome) {
	d.mu.Lock()
	sinks := d.sinks
	d.mu.Unlock()
	for _, sink := range sinks {
		sink(outcome)
	}
}

// SubmitAsync queues a command and returns a channel that will carry
// its single outcome. The channel is buffered; the caller may drop it.
func (d *Dispatcher) SubmitAsync(cmd Command) <-chan Outcome {
	ch := make(chan Outcome, 1)

	handle, err := d.registry.Acquire(cmd.Device)
	if err != nil {
		d.finish(ch, Outcome{Command: cmd, Kind: KindFailed, Err: err})
		return ch
	}
	if err := handle.Validate(cmd.Value); err != nil {
		d.finish(ch, Outcome{Command: cmd, Kind: KindFailed, Err: err})
		return ch
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.finish(ch, Outcome{Command: cmd, Kind: KindFailed, Err: fmt.Errorf("dispatcher closed")})
		return ch
	}
	ln, ok := d.lanes[cmd.Device]
	if !ok {
		ln = newLane(d, cmd.Device, handle)
		d.lanes[cmd.Device] = ln
		d.wg.Add(1)
		go ln.run()
	}
	d.mu.Unlock()

	ln.enqueue(&task{cmd: cmd, outcome: ch})
	return ch
}

// Submit queues a command and waits for its outcome. ctx bounds the
// wait only; the command itself keeps executing after ctx expires.
func (d *Dispatcher) Submit(ctx context.Context, cmd Command) (Outcome, error) {
	ch := d.SubmitAsync(cmd)
	select {
	case outcome := <-ch:
		return outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// finish delivers an outcome to its channel and the sinks.
func (d *Dispatcher) finish(ch chan Outcome, outcome Outcome) {
	if outcome.Kind != KindApplied && outcome.Err != nil {
		d.logger.Warn("Command did not apply",
			zap.String("device", outcome.Command.Device),
			zap.String("origin", string(outcome.Command.Origin)),
			zap.String("kind", string(outcome.Kind)),
			zap.Int("attempts", outcome.Attempts),
			zap.Error(outcome.Err))
	}
	ch <- outcome
	d.emit(outcome)
}

// execute drives one command at the handle, retrying transient
// failures with exponential backoff.
func (d *Dispatcher) execute(ln *lane, cmd Command) Outcome {
	backoff := d.backoffBase
	attempts := 0

	for {
		attempts++
		err := ln.handle.Apply(d.ctx, cmd.Value)
		if err == nil {
			return Outcome{
				Command:   cmd,
				Kind:      KindApplied,
				Attempts:  attempts,
				AppliedAt: d.clock.Now(),
			}
		}

		if !device.IsTransient(err) || attempts >= d.maxAttempts {
			return Outcome{Command: cmd, Kind: KindFailed, Err: err, Attempts: attempts}
		}

		d.logger.Debug("Transient device failure, backing off",
			zap.String("device", cmd.Device),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-d.ctx.Done():
			return Outcome{Command: cmd, Kind: KindFailed, Err: d.ctx.Err(), Attempts: attempts}
		case <-d.clock.After(backoff):
		}
		backoff *= 3
	}
}

// Close stops accepting commands and drains the lanes. ctx is the
// grace deadline; when it expires, in-flight commands are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	lanes := make([]*lane, 0, len(d.lanes))
	for _, ln := range d.lanes {
		lanes = append(lanes, ln)
	}
	d.mu.Unlock()

	for _, ln := range lanes {
		ln.close()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
