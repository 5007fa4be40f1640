package agent

import (
	"context"
	"sync/atomic"
)

// Base provides default Participant behavior: no auto-reply and an explicit
// done flag. Concrete participants embed Base and override what they need.
type Base struct {
	id   string
	caps []string
	exec Executor
	done atomic.Bool
}

// NewBase constructs a Base participant with the given id, capabilities and
// executor. The executor may be nil for participants that only exchange
// messages and never receive task assignments.
func NewBase(id string, capabilities []string, exec Executor) *Base {
	caps := make([]string, len(capabilities))
	copy(caps, capabilities)
	return &Base{id: id, caps: caps, exec: exec}
}

// ID implements Participant.
func (b *Base) ID() string { return b.id }

// Capabilities implements Participant.
func (b *Base) Capabilities() []string { return b.caps }

// Execute implements Participant by delegating to the configured executor.
func (b *Base) Execute(ctx context.Context, task string) (*Result, error) {
	if b.exec == nil {
		return &Result{Success: false, Output: nil}, nil
	}
	return b.exec.Execute(ctx, task)
}

// OnMessage implements Participant with no reply.
func (b *Base) OnMessage(ctx context.Context, msg *Message) (*Message, error) {
	return nil, nil
}

// Done implements Participant.
func (b *Base) Done() bool { return b.done.Load() }

// MarkDone flags the participant as complete for the current collaboration.
func (b *Base) MarkDone() { b.done.Store(true) }

// Reset clears the done flag; the manager calls this at the start of a run.
func (b *Base) Reset() { b.done.Store(false) }

// Resettable is implemented by participants whose per-run state can be
// cleared between collaborations. The manager resets every participant that
// implements it before starting a run.
type Resettable interface {
	Reset()
}
