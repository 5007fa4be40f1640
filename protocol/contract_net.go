package protocol

import "github.com/concord-dev/concord/agent"

// ContractNet implements the contract-net negotiation phases:
// cfp → proposal* → (award | reject). Proposals are only legal after a cfp
// from their target; award and reject only flow from a cfp initiator back
// to a participant that proposed to it.
type ContractNet struct{}

// Name implements Protocol.
func (ContractNet) Name() string { return NameContractNet }

// Validate implements Protocol.
func (ContractNet) Validate(msg *agent.Message, state *RunState) error {
	switch msg.Type {
	case agent.TypeCFP:
		return nil
	case agent.TypeProposal:
		if !state.Sent(msg.To, agent.TypeCFP) {
			return &ViolationError{
				Protocol: NameContractNet,
				MsgType:  msg.Type,
				Reason:   "no call-for-proposals from " + msg.To,
			}
		}
		return nil
	case agent.TypeAward, agent.TypeReject:
		if !state.Sent(msg.From, agent.TypeCFP) {
			return &ViolationError{
				Protocol: NameContractNet,
				MsgType:  msg.Type,
				Reason:   msg.From + " is not a call-for-proposals initiator",
			}
		}
		if !state.SentTo(msg.To, msg.From, agent.TypeProposal) {
			return &ViolationError{
				Protocol: NameContractNet,
				MsgType:  msg.Type,
				Reason:   msg.To + " never proposed to " + msg.From,
			}
		}
		return nil
	default:
		return &ViolationError{
			Protocol: NameContractNet,
			MsgType:  msg.Type,
			Reason:   "only cfp, proposal, award and reject messages are legal",
		}
	}
}

// Terminal implements Protocol: the negotiation completes once an award or
// reject has been delivered.
func (ContractNet) Terminal(state *RunState) bool {
	return state.CountByType(agent.TypeAward) > 0 || state.CountByType(agent.TypeReject) > 0
}

// Auction implements the auction phases: bid* → (accept | reject).
// Symmetric to contract-net with bid replacing proposal and no opening
// call: bids may arrive at any point before the close.
type Auction struct{}

// Name implements Protocol.
func (Auction) Name() string { return NameAuction }

// Validate implements Protocol.
func (Auction) Validate(msg *agent.Message, state *RunState) error {
	switch msg.Type {
	case agent.TypeBid:
		if closed(state) {
			return &ViolationError{
				Protocol: NameAuction,
				MsgType:  msg.Type,
				Reason:   "auction already closed",
			}
		}
		return nil
	case agent.TypeAccept, agent.TypeReject:
		if !state.SentTo(msg.To, msg.From, agent.TypeBid) {
			return &ViolationError{
				Protocol: NameAuction,
				MsgType:  msg.Type,
				Reason:   msg.To + " never bid to " + msg.From,
			}
		}
		return nil
	default:
		return &ViolationError{
			Protocol: NameAuction,
			MsgType:  msg.Type,
			Reason:   "only bid, accept and reject messages are legal",
		}
	}
}

// Terminal implements Protocol.
func (Auction) Terminal(state *RunState) bool { return closed(state) }

func closed(state *RunState) bool {
	return state.CountByType(agent.TypeAccept) > 0 || state.CountByType(agent.TypeReject) > 0
}
