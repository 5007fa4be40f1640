package collab

import (
	"sync"

	"github.com/concord-dev/concord/agent"
)

// mailbox is one participant's FIFO message queue. Messages accepted during
// a round land in pending; promote moves them into ready at the round
// boundary, so no participant observes a message sent later in the same
// round. drain hands the ready batch to the participant's turn exactly
// once.
type mailbox struct {
	mu      sync.Mutex
	ready   []*agent.Message
	pending []*agent.Message
}

func newMailbox() *mailbox {
	return &mailbox{}
}

// enqueue appends a message to the pending queue in send order.
func (mb *mailbox) enqueue(msg *agent.Message) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.pending = append(mb.pending, msg)
}

// promote moves pending messages into the ready queue and returns them.
// Called once per mailbox at each round boundary.
func (mb *mailbox) promote() []*agent.Message {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	promoted := mb.pending
	mb.pending = nil
	mb.ready = append(mb.ready, promoted...)
	return promoted
}

// drain removes and returns the ready queue.
func (mb *mailbox) drain() []*agent.Message {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	msgs := mb.ready
	mb.ready = nil
	return msgs
}

// depth returns the number of queued messages, delivered or not.
func (mb *mailbox) depth() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.ready) + len(mb.pending)
}

// reset discards all queued messages between runs.
func (mb *mailbox) reset() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.ready = nil
	mb.pending = nil
}
