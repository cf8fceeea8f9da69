package dispatch

import (
	"fmt"

	"brightdock/internal/device"
)

// task is one queued command plus its outcome channel.
type task struct {
	cmd     Command
	outcome chan Outcome
}

// lane is the serialized execution path for one device. Exactly one
// goroutine services it, so at most one command per device is ever at
// the handle.
type lane struct {
	d      *Dispatcher
	device string
	handle *device.Handle

	wake chan struct{}
	st   *laneState
}

func newLane(d *Dispatcher, deviceID string, handle *device.Handle) *lane {
	return &lane{
		d:      d,
		device: deviceID,
		handle: handle,
		wake:   make(chan struct{}, 1),
	}
}

// laneState is guarded by the dispatcher mutex to keep enqueue and
// supersession decisions atomic with respect to lane state.
type laneState struct {
	queue        []*task
	activeManual bool
	closed       bool
}

func (ln *lane) state() *laneState {
	// Lazily attach state; guarded by d.mu.
	if ln.st == nil {
		ln.st = &laneState{}
	}
	return ln.st
}

// enqueue applies the supersession rules and queues the task.
func (ln *lane) enqueue(t *task) {
	d := ln.d

	d.mu.Lock()
	st := ln.state()

	if st.closed {
		d.mu.Unlock()
		d.finish(t.outcome, Outcome{Command: t.cmd, Kind: KindFailed, Err: fmt.Errorf("dispatcher closed")})
		return
	}

	if t.cmd.Origin == OriginPoll && ln.manualInFlightLocked() {
		d.mu.Unlock()
		d.finish(t.outcome, Outcome{Command: t.cmd, Kind: KindSuperseded,
			Err: fmt.Errorf("superseded by manual override for %s", t.cmd.Device)})
		return
	}

	var dropped []*task
	if t.cmd.Origin == OriginManual {
		kept := st.queue[:0]
		for _, queued := range st.queue {
			if queued.cmd.Origin == OriginPoll {
				dropped = append(dropped, queued)
			} else {
				kept = append(kept, queued)
			}
		}
		st.queue = kept
	}

	if len(st.queue) >= maxQueuedPerDevice {
		d.mu.Unlock()
		ln.reportSuperseded(dropped)
		d.finish(t.outcome, Outcome{Command: t.cmd, Kind: KindFailed,
			Err: fmt.Errorf("queue full for device %s", t.cmd.Device)})
		return
	}

	st.queue = append(st.queue, t)
	d.mu.Unlock()

	ln.reportSuperseded(dropped)

	select {
	case ln.wake <- struct{}{}:
	default:
	}
}

// manualInFlightLocked reports whether a manual command is active or
// queued. Caller holds d.mu.
func (ln *lane) manualInFlightLocked() bool {
	st := ln.state()
	if st.activeManual {
		return true
	}
	for _, queued := range st.queue {
		if queued.cmd.Origin == OriginManual {
			return true
		}
	}
	return false
}

func (ln *lane) reportSuperseded(dropped []*task) {
	for _, t := range dropped {
		ln.d.finish(t.outcome, Outcome{Command: t.cmd, Kind: KindSuperseded,
			Err: fmt.Errorf("superseded by manual override for %s", t.cmd.Device)})
	}
}

// close stops the lane after the current queue drains.
func (ln *lane) close() {
	ln.d.mu.Lock()
	ln.state().closed = true
	ln.d.mu.Unlock()

	select {
	case ln.wake <- struct{}{}:
	default:
	}
}

// run services the lane until it is closed and drained, or the
// dispatcher is force-cancelled.
func (ln *lane) run() {
	d := ln.d
	defer d.wg.Done()

	for {
		d.mu.Lock()
		st := ln.state()
		if len(st.queue) == 0 {
			closed := st.closed
			d.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-ln.wake:
				continue
			case <-d.ctx.Done():
				ln.failRemaining()
				return
			}
		}

		t := st.queue[0]
		st.queue = st.queue[1:]
		st.activeManual = t.cmd.Origin == OriginManual
		d.mu.Unlock()

		outcome := d.execute(ln, t.cmd)

		d.mu.Lock()
		st.activeManual = false
		d.mu.Unlock()

		d.finish(t.outcome, outcome)

		if d.ctx.Err() != nil {
			ln.failRemaining()
			return
		}
	}
}

// failRemaining reports every still-queued task as failed. Called
// only after a force cancel.
func (ln *lane) failRemaining() {
	d := ln.d
	d.mu.Lock()
	st := ln.state()
	remaining := st.queue
	st.queue = nil
	st.closed = true
	d.mu.Unlock()

	for _, t := range remaining {
		d.finish(t.outcome, Outcome{Command: t.cmd, Kind: KindFailed, Err: d.ctx.Err()})
	}
}
