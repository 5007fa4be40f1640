package agent

import "context"

// Result is the outcome of executing a task. The core never inspects how
// the output was produced; retries, tool use, and model calls all belong to
// the executor behind this boundary.
type Result struct {
	// Success reports whether the task completed successfully.
	Success bool

	// Output is the produced answer, opaque to the core.
	Output any

	// Metadata carries executor-specific annotations.
	Metadata map[string]any
}

// Participant is the capability every registered collaborator implements.
// Participants receive messages through their mailbox once per round, may
// reply, and execute tasks assigned to them by the manager.
//
// Implementations must be safe for concurrent use: a manager configured for
// parallel turns invokes different participants' OnMessage concurrently.
type Participant interface {
	// ID returns the unique identifier for this participant.
	// IDs must be unique within a manager.
	ID() string

	// Capabilities returns the declared capability tags used for task
	// routing. The returned slice must not change after registration.
	Capabilities() []string

	// Execute performs the assigned task and returns its result.
	// A nil result with a nil error is treated as an executor failure.
	Execute(ctx context.Context, task string) (*Result, error)

	// OnMessage processes one delivered message and optionally returns a
	// reply to enqueue. Returning (nil, nil) means no reply. The reply is
	// validated against the active protocol like any other send.
	OnMessage(ctx context.Context, msg *Message) (*Message, error)

	// Done reports whether this participant considers its part of the
	// current collaboration complete. The round loop stops early once every
	// involved participant reports done.
	Done() bool
}

// Executor is the minimal task-execution boundary. It exists so callers can
// register a bare function with capabilities and let the core supply the
// rest of the Participant surface.
type Executor interface {
	Execute(ctx context.Context, task string) (*Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task string) (*Result, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, task string) (*Result, error) {
	return f(ctx, task)
}

// Analyzer derives the capability set a task requires. It is a pure
// function of the task string; implementations may be keyword heuristics or
// delegate to an external classifier.
type Analyzer interface {
	CapabilitiesNeeded(task string) []string
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(task string) []string

// CapabilitiesNeeded implements Analyzer.
func (f AnalyzerFunc) CapabilitiesNeeded(task string) []string {
	return f(task)
}
