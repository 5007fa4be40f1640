// Package protocol defines interaction protocols: validators that constrain
// which message types may legally occur, and in what relative order, for one
// collaboration run. A protocol is consulted on every attempted send;
// accumulated phase state is recorded only after a message is accepted and
// delivered.
package protocol

import (
	"fmt"

	"github.com/concord-dev/concord/agent"
)

// ViolationError reports a message rejected by the active protocol.
// Out-of-phase messages are rejected with a reason, never silently dropped.
type ViolationError struct {
	Protocol string
	MsgType  string
	Reason   string
}

// Error implements error.
func (e *ViolationError) Error() string {
	return fmt.Sprintf("protocol %s rejected %q message: %s", e.Protocol, e.MsgType, e.Reason)
}

// Protocol validates candidate messages against accumulated run state.
// Implementations must be pure: Validate has no side effects beyond
// reporting validity. Custom negotiation patterns implement this interface;
// the manager never special-cases built-ins.
type Protocol interface {
	// Name returns the protocol identifier used in configuration.
	Name() string

	// Validate reports whether the candidate message is legal given the
	// phase state accumulated so far. It returns nil to allow the message
	// or a *ViolationError describing the rejection.
	Validate(msg *agent.Message, state *RunState) error

	// Terminal reports whether a terminal phase has been reached, ending
	// the round loop with StateProtocolComplete.
	Terminal(state *RunState) bool
}

// Known protocol names.
const (
	NameNone            = "none"
	NameRequestResponse = "request_response"
	NameBroadcast       = "broadcast"
	NameContractNet     = "contract_net"
	NameAuction         = "auction"
)

// New constructs a built-in protocol by name. An empty name yields the
// explicit no-constraint default.
func New(name string) (Protocol, error) {
	switch name {
	case "", NameNone:
		return None{}, nil
	case NameRequestResponse:
		return RequestResponse{}, nil
	case NameBroadcast:
		return BroadcastOnly{}, nil
	case NameContractNet:
		return ContractNet{}, nil
	case NameAuction:
		return Auction{}, nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", name)
	}
}

// None is the explicit no-constraint protocol: all message types are legal.
// It is the default when no protocol is configured, so the unconstrained
// case is a deliberate choice rather than an accidental bypass.
type None struct{}

// Name implements Protocol.
func (None) Name() string { return NameNone }

// Validate implements Protocol; every message is legal.
func (None) Validate(msg *agent.Message, state *RunState) error { return nil }

// Terminal implements Protocol; None never terminates a run by itself.
func (None) Terminal(state *RunState) bool { return false }
