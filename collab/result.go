package collab

import (
	"time"

	"github.com/concord-dev/concord/memory"
)

// State is the round-loop state machine position. A run moves
// Idle → Running → one of the terminal states.
type State string

const (
	StateIdle             State = "idle"
	StateRunning          State = "running"
	StateConverged        State = "converged"
	StateRoundLimit       State = "round_limit_reached"
	StateProtocolComplete State = "protocol_complete"
)

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateConverged, StateRoundLimit, StateProtocolComplete:
		return true
	}
	return false
}

// MessageRecord is the exported trace of one accepted message.
type MessageRecord struct {
	ID    string `json:"id"`
	From  string `json:"from"`
	To    string `json:"to"`
	Type  string `json:"type"`
	Round int    `json:"round"`
}

// TurnRecord captures one participant's turn within a round.
type TurnRecord struct {
	Participant string   `json:"participant"`
	Processed   int      `json:"processed"`
	Replies     int      `json:"replies"`
	Errors      []string `json:"errors,omitempty"`
}

// RoundRecord captures one synchronous pass of the round loop.
type RoundRecord struct {
	Round     int          `json:"round"`
	Delivered int          `json:"delivered"`
	Turns     []TurnRecord `json:"turns"`
	Errors    []string     `json:"errors,omitempty"`
}

// Result is the synthesized outcome of one collaboration run. It always
// reports which participants failed and why rather than collapsing into a
// single success bit; StateRoundLimit is a reported terminal state, not an
// error.
type Result struct {
	Task        string `json:"task"`
	FinalAnswer any    `json:"finalAnswer"`

	TerminalState State         `json:"terminalState"`
	Rounds        []RoundRecord `json:"rounds"`

	AssignedTo           string   `json:"assignedTo"`
	RequiredCapabilities []string `json:"requiredCapabilities,omitempty"`
	FallbackRouted       bool     `json:"fallbackRouted,omitempty"`

	AgentsInvolved []string `json:"agentsInvolved"`

	// Failures maps participant id to the reason its execution or message
	// handling failed. Failures never abort the round for others.
	Failures map[string]string `json:"failures,omitempty"`

	SharedMemory map[string]memory.Entry `json:"sharedMemorySnapshot"`

	Duration time.Duration `json:"duration"`
}

// Snapshot is the serializable export of a manager's last run and the
// blackboard end state. Loading it back is the responsibility of an
// external store.
type Snapshot struct {
	Task     string                  `json:"task"`
	State    State                   `json:"state"`
	Rounds   []RoundRecord           `json:"rounds"`
	Messages []MessageRecord         `json:"messages"`
	Memory   map[string]memory.Entry `json:"memory"`
}

// ParticipantStats is the per-participant slice of Metrics.
type ParticipantStats struct {
	Capabilities []string `json:"capabilities"`
	Workload     int64    `json:"workload"`
	Completed    int64    `json:"completed"`
	Succeeded    int64    `json:"succeeded"`
}

// Metrics is the manager's introspection surface.
type Metrics struct {
	AgentsRegistered int                         `json:"agentsRegistered"`
	MessagesRouted   int64                       `json:"messagesRouted"`
	QueueDepth       int                         `json:"queueDepth"`
	SharedMemory     memory.Stats                `json:"sharedMemoryStats"`
	Participants     map[string]ParticipantStats `json:"participants"`
}
