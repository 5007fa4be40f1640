package protocol

import "github.com/concord-dev/concord/agent"

// RequestResponse permits only request and response messages. A response is
// legal only when addressed to the sender of an unanswered request.
type RequestResponse struct{}

// Name implements Protocol.
func (RequestResponse) Name() string { return NameRequestResponse }

// Validate implements Protocol.
func (RequestResponse) Validate(msg *agent.Message, state *RunState) error {
	switch msg.Type {
	case agent.TypeRequest:
		return nil
	case agent.TypeResponse:
		// The recipient must hold an unanswered request toward the sender.
		if state.OpenRequests(msg.To, msg.From) == 0 {
			return &ViolationError{
				Protocol: NameRequestResponse,
				MsgType:  msg.Type,
				Reason:   "no unanswered request from " + msg.To + " to " + msg.From,
			}
		}
		return nil
	default:
		return &ViolationError{
			Protocol: NameRequestResponse,
			MsgType:  msg.Type,
			Reason:   "only request and response messages are legal",
		}
	}
}

// Terminal implements Protocol. Request-response has no terminal phase;
// runs end by convergence or round limit.
func (RequestResponse) Terminal(state *RunState) bool { return false }

// BroadcastOnly permits any message type but requires every message to
// target the broadcast sentinel. No response pairing is enforced.
type BroadcastOnly struct{}

// Name implements Protocol.
func (BroadcastOnly) Name() string { return NameBroadcast }

// Validate implements Protocol.
func (BroadcastOnly) Validate(msg *agent.Message, state *RunState) error {
	if !msg.IsBroadcast() {
		return &ViolationError{
			Protocol: NameBroadcast,
			MsgType:  msg.Type,
			Reason:   "messages must target the broadcast sentinel, got " + msg.To,
		}
	}
	return nil
}

// Terminal implements Protocol.
func (BroadcastOnly) Terminal(state *RunState) bool { return false }
