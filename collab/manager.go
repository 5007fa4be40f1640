package collab

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/concord-dev/concord/agent"
	"github.com/concord-dev/concord/internal/observability"
	"github.com/concord-dev/concord/memory"
	obs "github.com/concord-dev/concord/pkg/observability"
	"github.com/concord-dev/concord/protocol"
)

const defaultMaxRounds = 10

// Manager orchestrates one group of participants: it keeps the registry,
// routes tasks by capability and load, delivers messages through
// per-participant mailboxes under the active protocol, runs the bounded
// round loop, and synthesizes the final result.
//
// A Manager runs one collaboration at a time; registration is allowed
// between runs only. All state is in-memory for the lifetime of the
// manager except the blackboard, whose backend may outlive it.
type Manager struct {
	mu        sync.RWMutex
	regs      map[string]*registration
	order     []*registration
	mailboxes map[string]*mailbox

	proto    protocol.Protocol
	mem      memory.SharedMemory
	analyzer agent.Analyzer
	fallback FallbackMode

	maxRounds int
	parallel  bool
	limiter   *sendLimiter

	// sendMu serializes Send against itself so protocol validation and
	// enqueue act as one step even under parallel turns.
	sendMu   sync.Mutex
	runState *protocol.RunState
	round    int
	messages []MessageRecord
	routed   atomic.Int64

	state      State
	active     bool
	recorded   map[string]bool
	involved   map[string]bool
	lastTask   string
	lastState  State
	lastRounds []RoundRecord
}

// Option configures a Manager.
type Option func(*Manager)

// WithProtocol sets the interaction protocol for all runs. The default is
// the explicit no-constraint protocol.
func WithProtocol(p protocol.Protocol) Option {
	return func(m *Manager) { m.proto = p }
}

// WithMemory injects the shared blackboard. The default is a fresh
// in-process store per manager.
func WithMemory(mem memory.SharedMemory) Option {
	return func(m *Manager) { m.mem = mem }
}

// WithAnalyzer injects the capability analyzer used for routing.
func WithAnalyzer(a agent.Analyzer) Option {
	return func(m *Manager) { m.analyzer = a }
}

// WithMaxRounds bounds the round loop. Exceeding it is reported as
// StateRoundLimit, not an error.
func WithMaxRounds(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxRounds = n
		}
	}
}

// WithFallback selects routing behavior when no capability matches.
func WithFallback(mode FallbackMode) Option {
	return func(m *Manager) { m.fallback = mode }
}

// WithParallelTurns runs each round's participant turns concurrently.
// Turns only touch their own mailbox and the blackboard, which serializes
// its mutations, so rounds stay safe; reply sends are ordered by
// registration afterward to keep delivery deterministic.
func WithParallelTurns() Option {
	return func(m *Manager) { m.parallel = true }
}

// WithSendRate limits messages per sender to guard against auto-reply
// storms. Rejected sends surface as round errors.
func WithSendRate(perSecond float64, burst int) Option {
	return func(m *Manager) { m.limiter = newSendLimiter(perSecond, burst) }
}

// NewManager creates a manager with the given options.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		regs:      make(map[string]*registration),
		mailboxes: make(map[string]*mailbox),
		proto:     protocol.None{},
		analyzer:  KeywordAnalyzer{},
		fallback:  FallbackFirst,
		maxRounds: defaultMaxRounds,
		state:     StateIdle,
		runState:  protocol.NewRunState(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.mem == nil {
		m.mem = memory.NewStore()
	}
	m.mem = memory.Instrument(m.mem)
	return m
}

// Memory returns the shared blackboard handle so callers can seed or
// inspect state around runs.
func (m *Manager) Memory() memory.SharedMemory { return m.mem }

// Protocol returns the active protocol.
func (m *Manager) Protocol() protocol.Protocol { return m.proto }

// State returns the current round-loop state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Register adds a participant to the registry. Ids are unique for the
// lifetime of the manager; there is no mid-run removal.
func (m *Manager) Register(p agent.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return ErrRunActive
	}
	id := p.ID()
	if id == "" || id == agent.ManagerID || id == agent.Broadcast {
		return fmt.Errorf("invalid participant id %q", id)
	}
	if _, exists := m.regs[id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}

	caps := make(map[string]struct{}, len(p.Capabilities()))
	for _, c := range p.Capabilities() {
		caps[c] = struct{}{}
	}
	reg := &registration{participant: p, caps: caps, order: len(m.order)}
	m.regs[id] = reg
	m.order = append(m.order, reg)
	m.mailboxes[id] = newMailbox()
	obs.SetParticipantsRegistered(len(m.order))
	return nil
}

// RegisterExecutor registers a bare executor under an id and capability
// set, wrapping it in the default participant behavior.
func (m *Manager) RegisterExecutor(id string, capabilities []string, exec agent.Executor) error {
	return m.Register(agent.NewBase(id, capabilities, exec))
}

// Send validates and enqueues a message. The recipient sees it at the
// start of the next round. Send fails with ErrUnknownRecipient for
// unregistered targets and with a *protocol.ViolationError when the active
// protocol rejects the type/phase combination; accepted messages are never
// lost or delivered twice.
//
// Messages from the manager sentinel bypass protocol validation: protocols
// constrain participant negotiation, while task dispatch is structural.
func (m *Manager) Send(msg *agent.Message) error {
	m.mu.RLock()
	_, senderKnown := m.regs[msg.From]
	_, recipientKnown := m.regs[msg.To]
	m.mu.RUnlock()

	if msg.From != agent.ManagerID && !senderKnown {
		return fmt.Errorf("%w: %s", ErrUnknownSender, msg.From)
	}
	if !msg.IsBroadcast() && !recipientKnown {
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, msg.To)
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	if msg.From != agent.ManagerID {
		if err := m.proto.Validate(msg, m.runState); err != nil {
			obs.RecordMessageRejected(m.proto.Name(), "protocol_violation")
			return err
		}
		if m.limiter != nil && !m.limiter.allow(msg.From) {
			obs.RecordMessageRejected(m.proto.Name(), "rate_limited")
			return fmt.Errorf("%w: %s", ErrRateLimited, msg.From)
		}
	}

	if msg.IsBroadcast() {
		m.mu.RLock()
		for _, reg := range m.order {
			if reg.id() == msg.From {
				continue
			}
			m.mailboxes[reg.id()].enqueue(msg)
		}
		m.mu.RUnlock()
	} else {
		m.mu.RLock()
		mb := m.mailboxes[msg.To]
		m.mu.RUnlock()
		mb.enqueue(msg)
	}

	m.messages = append(m.messages, MessageRecord{
		ID:    msg.ID,
		From:  msg.From,
		To:    msg.To,
		Type:  msg.Type,
		Round: m.round,
	})
	m.routed.Add(1)
	obs.RecordMessageRouted(m.proto.Name(), msg.Type)
	obs.SetMailboxDepth(m.queueDepth())
	return nil
}

// Collaborate runs the round loop for one task and synthesizes the result.
// Participant failures are captured per participant and never abort the
// run; only structural misuse (no participants, no capable participant
// under FallbackError, dispatch failure) returns an error. The caller owns
// timeouts by wrapping ctx; cancellation is honored between rounds only.
func (m *Manager) Collaborate(ctx context.Context, task string) (*Result, error) {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return nil, ErrRunActive
	}
	if len(m.order) == 0 {
		m.mu.Unlock()
		return nil, ErrNoParticipants
	}
	m.active = true
	m.state = StateRunning
	regs := make([]*registration, len(m.order))
	copy(regs, m.order)
	m.mu.Unlock()

	m.resetRun(task, regs)

	ctx, span := observability.StartSpan(ctx, "collab.collaborate",
		trace.WithAttributes(
			attribute.String("collab.protocol", m.proto.Name()),
			attribute.Int("collab.max_rounds", m.maxRounds),
			attribute.Int("collab.participants", len(regs)),
		),
	)
	defer span.End()
	start := time.Now()

	decision, err := route(task, regs, m.analyzer, m.fallback)
	if err != nil {
		span.RecordError(err)
		m.finish(StateIdle, nil)
		return nil, err
	}
	assignee := decision.assignee
	assignee.workload.Add(1)
	defer assignee.workload.Add(-1)
	span.SetAttributes(
		attribute.String("collab.assignee", assignee.id()),
		attribute.Bool("collab.fallback_routed", decision.fallback),
	)

	log.Printf("collab: assigning task to %s (protocol=%s, fallback=%v)", assignee.id(), m.proto.Name(), decision.fallback)

	taskMsg := agent.NewMessage(agent.ManagerID, assignee.id(), agent.TypeTask, task)
	if decision.fallback {
		taskMsg.WithMetadata("fallback_routing", true)
	}
	if err := m.Send(taskMsg); err != nil {
		span.RecordError(err)
		m.finish(StateIdle, nil)
		return nil, fmt.Errorf("dispatch task: %w", err)
	}
	m.involved[assignee.id()] = true

	failures := make(map[string]string)
	var taskResult *agent.Result
	var rounds []RoundRecord
	terminal := StateRoundLimit

	for r := 1; r <= m.maxRounds; r++ {
		// Whole rounds only: abort between rounds, never mid-round.
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			m.finish(StateIdle, rounds)
			return nil, err
		}

		m.setRound(r)
		inboxes, delivered := m.promoteAll(regs)
		rec := RoundRecord{Round: r, Delivered: delivered}

		outcomes := m.runTurns(ctx, regs, inboxes, r == 1, assignee, task)
		for _, out := range outcomes {
			if out == nil {
				continue
			}
			rec.Turns = append(rec.Turns, out.record)
			if out.failure != "" {
				failures[out.record.Participant] = out.failure
			}
			if out.taskResult != nil {
				taskResult = out.taskResult
			}
			for _, reply := range out.replies {
				if err := m.Send(reply); err != nil {
					rec.Errors = append(rec.Errors, fmt.Sprintf("%s: %v", reply.From, err))
				}
			}
		}

		obs.RecordRound()
		rounds = append(rounds, rec)

		if m.proto.Terminal(m.runState) {
			terminal = StateProtocolComplete
			break
		}
		if m.allInvolvedDone(r) || m.queueDepth() == 0 {
			terminal = StateConverged
			break
		}
	}

	duration := time.Since(start)
	span.SetAttributes(
		attribute.String("collab.terminal_state", string(terminal)),
		attribute.Int("collab.rounds", len(rounds)),
		attribute.Int64("collab.duration_ms", duration.Milliseconds()),
	)

	snapshot, err := m.mem.Snapshot(ctx)
	if err != nil {
		span.RecordError(err)
		log.Printf("collab: shared memory snapshot failed: %v", err)
	}

	var finalAnswer any
	if taskResult != nil {
		finalAnswer = taskResult.Output
	}

	result := &Result{
		Task:                 task,
		FinalAnswer:          finalAnswer,
		TerminalState:        terminal,
		Rounds:               rounds,
		AssignedTo:           assignee.id(),
		RequiredCapabilities: decision.required,
		FallbackRouted:       decision.fallback,
		AgentsInvolved:       m.involvedIDs(regs),
		Failures:             failures,
		SharedMemory:         snapshot,
		Duration:             duration,
	}

	log.Printf("collab: finished %s after %d round(s) in %s", terminal, len(rounds), duration.Round(time.Millisecond))
	obs.RecordCollaboration(string(terminal), m.proto.Name(), duration)
	m.finish(terminal, rounds)
	return result, nil
}

// turnOutcome collects one participant's turn so replies can be sent in
// registration order even when turns ran in parallel.
type turnOutcome struct {
	record     TurnRecord
	replies    []*agent.Message
	failure    string
	taskResult *agent.Result
}

func (m *Manager) runTurns(ctx context.Context, regs []*registration, inboxes map[string][]*agent.Message, firstRound bool, assignee *registration, task string) []*turnOutcome {
	outcomes := make([]*turnOutcome, len(regs))

	turn := func(i int, reg *registration) {
		inbox := inboxes[reg.id()]
		executes := firstRound && reg == assignee
		if len(inbox) == 0 && !executes {
			return
		}
		outcomes[i] = m.runTurn(ctx, reg, inbox, executes, task)
	}

	if !m.parallel {
		for i, reg := range regs {
			turn(i, reg)
		}
		return outcomes
	}

	g := new(errgroup.Group)
	for i, reg := range regs {
		g.Go(func() error {
			turn(i, reg)
			return nil
		})
	}
	// Turn closures never return errors; failures land in outcomes.
	_ = g.Wait()
	return outcomes
}

func (m *Manager) runTurn(ctx context.Context, reg *registration, inbox []*agent.Message, executeTask bool, task string) *turnOutcome {
	out := &turnOutcome{record: TurnRecord{Participant: reg.id()}}

	for _, msg := range inbox {
		out.record.Processed++
		reply, err := reg.participant.OnMessage(ctx, msg)
		if err != nil {
			out.record.Errors = append(out.record.Errors, err.Error())
			out.failure = fmt.Sprintf("message handling: %v", err)
			continue
		}
		if reply != nil {
			out.replies = append(out.replies, reply)
			out.record.Replies++
		}
	}

	if executeTask {
		execStart := time.Now()
		res, err := reg.participant.Execute(ctx, task)
		reg.completed.Add(1)
		failed := err != nil || res == nil || !res.Success
		obs.RecordTaskExecution(reg.id(), time.Since(execStart), failed)
		switch {
		case err != nil:
			out.failure = fmt.Sprintf("execution: %v", err)
		case res == nil:
			out.failure = "execution: executor returned no result"
		default:
			if res.Success {
				reg.succeeded.Add(1)
			} else {
				out.failure = "execution: executor reported failure"
			}
			out.taskResult = res
		}
	}
	return out
}

// promoteAll moves every mailbox's pending messages into the current round
// and records them into the protocol phase state. Phase state advances only
// here, after accept and delivery, never on Send. Broadcast fan-out is
// recorded once per message.
func (m *Manager) promoteAll(regs []*registration) (map[string][]*agent.Message, int) {
	inboxes := make(map[string][]*agent.Message, len(regs))
	delivered := 0
	for _, reg := range regs {
		m.mu.RLock()
		mb := m.mailboxes[reg.id()]
		m.mu.RUnlock()

		mb.promote()
		inbox := mb.drain()
		if len(inbox) == 0 {
			continue
		}
		inboxes[reg.id()] = inbox
		delivered += len(inbox)

		m.involved[reg.id()] = true
		for _, msg := range inbox {
			if msg.From != agent.ManagerID {
				m.involved[msg.From] = true
			}
			if !m.recorded[msg.ID] {
				m.recorded[msg.ID] = true
				m.runState.Record(msg)
			}
		}
	}
	obs.SetMailboxDepth(m.queueDepth())
	return inboxes, delivered
}

func (m *Manager) allInvolvedDone(round int) bool {
	// The assignee has not executed before round 1 finishes, so never
	// converge on Done flags alone before any turn ran.
	if round < 1 {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.involved) == 0 {
		return false
	}
	for id := range m.involved {
		reg, ok := m.regs[id]
		if !ok {
			continue
		}
		if !reg.participant.Done() {
			return false
		}
	}
	return true
}

func (m *Manager) involvedIDs(regs []*registration) []string {
	ids := make([]string, 0, len(m.involved))
	for _, reg := range regs {
		if m.involved[reg.id()] {
			ids = append(ids, reg.id())
		}
	}
	return ids
}

func (m *Manager) queueDepth() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	depth := 0
	for _, mb := range m.mailboxes {
		depth += mb.depth()
	}
	return depth
}

func (m *Manager) setRound(r int) {
	m.sendMu.Lock()
	m.round = r
	m.sendMu.Unlock()
}

func (m *Manager) resetRun(task string, regs []*registration) {
	m.sendMu.Lock()
	m.runState = protocol.NewRunState()
	m.round = 0
	m.messages = nil
	m.sendMu.Unlock()

	m.recorded = make(map[string]bool)
	m.involved = make(map[string]bool)
	m.lastTask = task

	for _, reg := range regs {
		m.mu.RLock()
		mb := m.mailboxes[reg.id()]
		m.mu.RUnlock()
		mb.reset()
		if r, ok := reg.participant.(agent.Resettable); ok {
			r.Reset()
		}
	}
}

func (m *Manager) finish(terminal State, rounds []RoundRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
	m.state = StateIdle
	m.lastState = terminal
	m.lastRounds = rounds
}

// Metrics returns the manager's introspection counters.
func (m *Manager) Metrics(ctx context.Context) (Metrics, error) {
	stats, err := m.mem.Stats(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("shared memory stats: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	metrics := Metrics{
		AgentsRegistered: len(m.order),
		MessagesRouted:   m.routed.Load(),
		SharedMemory:     stats,
		Participants:     make(map[string]ParticipantStats, len(m.order)),
	}
	for _, reg := range m.order {
		caps := make([]string, 0, len(reg.caps))
		for c := range reg.caps {
			caps = append(caps, c)
		}
		sort.Strings(caps)
		metrics.Participants[reg.id()] = ParticipantStats{
			Capabilities: caps,
			Workload:     reg.workload.Load(),
			Completed:    reg.completed.Load(),
			Succeeded:    reg.succeeded.Load(),
		}
	}
	for _, mb := range m.mailboxes {
		metrics.QueueDepth += mb.depth()
	}
	return metrics, nil
}

// Export returns a serializable snapshot of the last run's history and the
// blackboard end state. Loading it back belongs to an external store.
func (m *Manager) Export(ctx context.Context) (*Snapshot, error) {
	snapshot, err := m.mem.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("shared memory snapshot: %w", err)
	}

	m.sendMu.Lock()
	messages := make([]MessageRecord, len(m.messages))
	copy(messages, m.messages)
	m.sendMu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	rounds := make([]RoundRecord, len(m.lastRounds))
	copy(rounds, m.lastRounds)
	return &Snapshot{
		Task:     m.lastTask,
		State:    m.lastState,
		Rounds:   rounds,
		Messages: messages,
		Memory:   snapshot,
	}, nil
}

// sendLimiter guards against runaway auto-reply loops with a global and a
// per-sender token bucket.
type sendLimiter struct {
	mu        sync.Mutex
	global    *rate.Limiter
	perSender map[string]*rate.Limiter
	perSecond float64
	burst     int
}

func newSendLimiter(perSecond float64, burst int) *sendLimiter {
	return &sendLimiter{
		global:    rate.NewLimiter(rate.Limit(perSecond*4), burst*4),
		perSender: make(map[string]*rate.Limiter),
		perSecond: perSecond,
		burst:     burst,
	}
}

func (l *sendLimiter) allow(sender string) bool {
	if !l.global.Allow() {
		return false
	}
	l.mu.Lock()
	limiter, ok := l.perSender[sender]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.perSecond), l.burst)
		l.perSender[sender] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
