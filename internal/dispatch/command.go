package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// Origin says where a command came from. Manual overrides outrank
// poll-originated commands for the same device until the next tick.
type Origin string

const (
	OriginPoll   Origin = "poll"
	OriginManual Origin = "manual"
)

// Kind is the terminal state of a command.
type Kind string

const (
	KindApplied    Kind = "applied"
	KindFailed     Kind = "failed"
	KindSuperseded Kind = "superseded"
)

// Command is one request to drive a device to a value. It exists only
// while in flight through the dispatcher.
type Command struct {
	ID          uuid.UUID
	Device      string
	Value       int
	Origin      Origin
	SubmittedAt time.Time
}

// NewCommand builds a command with a fresh ID.
func NewCommand(device string, value int, origin Origin, now time.Time) Command {
	return Command{
		ID:          uuid.New(),
		Device:      device,
		Value:       value,
		Origin:      origin,
		SubmittedAt: now,
	}
}

// Outcome reports how a command ended.
type Outcome struct {
	Command   Command
	Kind      Kind
	Err       error
	Attempts  int
	AppliedAt time.Time
}

// Applied reports whether the command reached the hardware.
func (o Outcome) Applied() bool { return o.Kind == KindApplied }

// Sink receives every outcome the dispatcher produces, in addition to
// the per-command channel. The reconciler's state store and the HA
// reporter hang off this.
type Sink func(Outcome)
