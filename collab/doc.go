// Package collab implements the coordination core: a manager that owns a
// participant registry, capability-based task routing, mailbox delivery
// under a pluggable interaction protocol, and a bounded synchronous round
// loop over a shared blackboard.
//
// Delivery is round-synchronous: a message accepted during round n is
// visible to its recipient at the start of round n+1, in per-recipient
// FIFO order. Runs terminate when the protocol declares the exchange
// complete, when all involved participants report done (or nothing is
// queued), or when the round limit is reached.
package collab
