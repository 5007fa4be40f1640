package protocol

import (
	"sync"

	"github.com/concord-dev/concord/agent"
)

// RunState accumulates the phase state of one collaboration run: which
// participants have sent which message types to whom. Protocols query it
// during validation; the manager records into it only after a message is
// accepted and delivered. RunState is safe for concurrent readers.
type RunState struct {
	mu      sync.RWMutex
	total   int
	byType  map[string]int
	// sent[type][from] counts messages of a type by sender.
	sent map[string]map[string]int
	// routed[type][from][to] counts directed messages of a type.
	routed map[string]map[string]map[string]int
}

// NewRunState returns an empty phase state.
func NewRunState() *RunState {
	return &RunState{
		byType: make(map[string]int),
		sent:   make(map[string]map[string]int),
		routed: make(map[string]map[string]map[string]int),
	}
}

// Record registers an accepted, delivered message into the phase state.
func (s *RunState) Record(msg *agent.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.byType[msg.Type]++

	bySender := s.sent[msg.Type]
	if bySender == nil {
		bySender = make(map[string]int)
		s.sent[msg.Type] = bySender
	}
	bySender[msg.From]++

	byFrom := s.routed[msg.Type]
	if byFrom == nil {
		byFrom = make(map[string]map[string]int)
		s.routed[msg.Type] = byFrom
	}
	byTo := byFrom[msg.From]
	if byTo == nil {
		byTo = make(map[string]int)
		byFrom[msg.From] = byTo
	}
	byTo[msg.To]++
}

// Total returns the number of recorded messages.
func (s *RunState) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// CountByType returns how many messages of a type have been recorded.
func (s *RunState) CountByType(msgType string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byType[msgType]
}

// Sent reports whether from has sent at least one message of the type.
func (s *RunState) Sent(from, msgType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sent[msgType][from] > 0
}

// SentTo reports whether from has sent at least one message of the type
// addressed to to (or broadcast).
func (s *RunState) SentTo(from, to, msgType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byTo := s.routed[msgType][from]
	return byTo[to] > 0 || byTo[agent.Broadcast] > 0
}

// OpenRequests returns the number of requests from one participant to
// another that have not yet been answered by a response flowing the other
// way. Request-response pairing uses this to validate responses.
func (s *RunState) OpenRequests(requester, target string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	requests := s.routed[agent.TypeRequest][requester][target]
	responses := s.routed[agent.TypeResponse][target][requester]
	if n := requests - responses; n > 0 {
		return n
	}
	return 0
}
