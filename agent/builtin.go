package agent

import (
	"context"
	"fmt"
)

func init() {
	Register("echo", func(d Def) (Participant, error) {
		e := NewEcho(d.ID, d.Capabilities)
		e.prefix = d.GetString("prefix", "")
		return e, nil
	})
	Register("scripted", func(d Def) (Participant, error) {
		var replies map[string]string
		if err := d.UnmarshalKey("replies", &replies); err != nil {
			return nil, err
		}
		return NewScripted(d.ID, d.Capabilities, replies), nil
	})
}

// Echo is a participant that answers every task with the task text and
// replies to request messages with a response echoing the content. Useful
// for wiring checks and CLI demos. A "prefix" setting in the definition is
// prepended to task answers.
type Echo struct {
	*Base
	prefix string
}

// NewEcho constructs an Echo participant.
func NewEcho(id string, capabilities []string) *Echo {
	e := &Echo{}
	e.Base = NewBase(id, capabilities, ExecutorFunc(func(ctx context.Context, task string) (*Result, error) {
		e.MarkDone()
		return &Result{Success: true, Output: e.prefix + task}, nil
	}))
	return e
}

// OnMessage replies to requests with an echo response.
func (e *Echo) OnMessage(ctx context.Context, msg *Message) (*Message, error) {
	if msg.Type == TypeRequest {
		return msg.Reply(e.ID(), TypeResponse, msg.Content), nil
	}
	return nil, nil
}

// Scripted replies to message types from a fixed script. The script maps an
// incoming message type to the type of the reply; the reply content carries
// the participant id. Scripted participants drive protocol walk-throughs in
// tests and demos.
type Scripted struct {
	*Base
	replies map[string]string
}

// NewScripted constructs a Scripted participant.
func NewScripted(id string, capabilities []string, replies map[string]string) *Scripted {
	s := &Scripted{replies: replies}
	s.Base = NewBase(id, capabilities, ExecutorFunc(func(ctx context.Context, task string) (*Result, error) {
		s.MarkDone()
		return &Result{Success: true, Output: fmt.Sprintf("%s handled: %s", id, task)}, nil
	}))
	return s
}

// OnMessage consults the script for the incoming type.
func (s *Scripted) OnMessage(ctx context.Context, msg *Message) (*Message, error) {
	replyType, ok := s.replies[msg.Type]
	if !ok {
		return nil, nil
	}
	return msg.Reply(s.ID(), replyType, s.ID()), nil
}
