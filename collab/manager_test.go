package collab

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-dev/concord/agent"
	"github.com/concord-dev/concord/memory"
	"github.com/concord-dev/concord/protocol"
)

// hook is a test participant with a pluggable message handler.
type hook struct {
	*agent.Base
	handler func(context.Context, *agent.Message) (*agent.Message, error)
}

func newHook(id string, caps []string, exec agent.ExecutorFunc, handler func(context.Context, *agent.Message) (*agent.Message, error)) *hook {
	return &hook{Base: agent.NewBase(id, caps, exec), handler: handler}
}

func (h *hook) OnMessage(ctx context.Context, msg *agent.Message) (*agent.Message, error) {
	if h.handler == nil {
		return nil, nil
	}
	return h.handler(ctx, msg)
}

func TestCollaborateSingleParticipant(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(agent.NewEcho("e1", []string{"echo"})))

	res, err := m.Collaborate(context.Background(), "echo this back")
	require.NoError(t, err)

	assert.Equal(t, StateConverged, res.TerminalState)
	assert.Equal(t, "e1", res.AssignedTo)
	assert.False(t, res.FallbackRouted)
	assert.Equal(t, "echo this back", res.FinalAnswer)
	assert.Equal(t, []string{"e1"}, res.AgentsInvolved)
	assert.Empty(t, res.Failures)
	require.Len(t, res.Rounds, 1)
	assert.Equal(t, 1, res.Rounds[0].Delivered, "the task message is the only delivery")
	assert.Equal(t, StateIdle, m.State(), "manager is reusable after a run")
}

func TestCollaborateRoutesByCapability(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(agent.NewEcho("writer", []string{"prose"})))
	require.NoError(t, m.Register(agent.NewEcho("mathy", []string{"math"})))

	res, err := m.Collaborate(context.Background(), "solve the math homework")
	require.NoError(t, err)
	assert.Equal(t, "mathy", res.AssignedTo)
	assert.Contains(t, res.RequiredCapabilities, "math")
}

func TestCollaborateFallbackRouting(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(agent.NewEcho("p1", []string{"prose"})))
	require.NoError(t, m.Register(agent.NewEcho("p2", []string{"math"})))

	res, err := m.Collaborate(context.Background(), "juggle torches")
	require.NoError(t, err)
	assert.Equal(t, "p1", res.AssignedTo, "no overlap routes to the first registration")
	assert.True(t, res.FallbackRouted)
}

func TestCollaborateFallbackError(t *testing.T) {
	m := NewManager(WithFallback(FallbackError))
	require.NoError(t, m.Register(agent.NewEcho("p1", []string{"prose"})))

	_, err := m.Collaborate(context.Background(), "juggle torches")
	assert.ErrorIs(t, err, ErrNoCapableParticipant)
	assert.Equal(t, StateIdle, m.State())
}

func TestCollaborateNoParticipants(t *testing.T) {
	m := NewManager()
	_, err := m.Collaborate(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrNoParticipants)
}

func TestRoundBoundaryFIFO(t *testing.T) {
	var m *Manager

	var mu sync.Mutex
	var received []any

	sender := newHook("sender", []string{"produce"}, func(ctx context.Context, task string) (*agent.Result, error) {
		// Both sends happen in round 1; the receiver must see them
		// together at the start of round 2, in send order.
		require.NoError(t, m.Send(agent.NewMessage("sender", "sink", "note", 1)))
		require.NoError(t, m.Send(agent.NewMessage("sender", "sink", "note", 2)))
		return &agent.Result{Success: true, Output: "sent"}, nil
	}, nil)
	sink := newHook("sink", []string{"consume"}, nil, func(ctx context.Context, msg *agent.Message) (*agent.Message, error) {
		mu.Lock()
		received = append(received, msg.Content)
		mu.Unlock()
		return nil, nil
	})

	m = NewManager()
	require.NoError(t, m.Register(sender))
	require.NoError(t, m.Register(sink))

	res, err := m.Collaborate(context.Background(), "produce two notes")
	require.NoError(t, err)

	assert.Equal(t, []any{1, 2}, received, "per-recipient order follows send order")
	require.Len(t, res.Rounds, 2)
	assert.Equal(t, 1, res.Rounds[0].Delivered)
	assert.Equal(t, 2, res.Rounds[1].Delivered, "round-1 sends are invisible until round 2")
	assert.ElementsMatch(t, []string{"sender", "sink"}, res.AgentsInvolved)
}

func TestBroadcastDeliveredOncePerRecipient(t *testing.T) {
	var m *Manager

	var mu sync.Mutex
	counts := map[string]int{}
	listener := func(id string) func(context.Context, *agent.Message) (*agent.Message, error) {
		return func(ctx context.Context, msg *agent.Message) (*agent.Message, error) {
			if msg.Type == "notice" {
				mu.Lock()
				counts[id]++
				mu.Unlock()
			}
			return nil, nil
		}
	}

	announcer := newHook("announcer", []string{"announce"}, func(ctx context.Context, task string) (*agent.Result, error) {
		require.NoError(t, m.Send(agent.NewMessage("announcer", agent.Broadcast, "notice", "hello")))
		return &agent.Result{Success: true, Output: "announced"}, nil
	}, listener("announcer"))

	m = NewManager()
	require.NoError(t, m.Register(announcer))
	require.NoError(t, m.Register(newHook("l1", nil, nil, listener("l1"))))
	require.NoError(t, m.Register(newHook("l2", nil, nil, listener("l2"))))

	_, err := m.Collaborate(context.Background(), "announce the news")
	require.NoError(t, err)

	assert.Equal(t, 1, counts["l1"])
	assert.Equal(t, 1, counts["l2"])
	assert.Zero(t, counts["announcer"], "broadcast skips the sender")
}

func TestRoundLimitReached(t *testing.T) {
	var m *Manager

	pong := func(id string) func(context.Context, *agent.Message) (*agent.Message, error) {
		return func(ctx context.Context, msg *agent.Message) (*agent.Message, error) {
			if msg.Type == "ping" {
				return msg.Reply(id, "ping", nil), nil
			}
			return nil, nil
		}
	}
	a := newHook("a", []string{"ping"}, func(ctx context.Context, task string) (*agent.Result, error) {
		require.NoError(t, m.Send(agent.NewMessage("a", "b", "ping", nil)))
		return &agent.Result{Success: true, Output: "serving"}, nil
	}, pong("a"))
	b := newHook("b", nil, nil, pong("b"))

	m = NewManager(WithMaxRounds(3))
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))

	res, err := m.Collaborate(context.Background(), "ping forever")
	require.NoError(t, err)
	assert.Equal(t, StateRoundLimit, res.TerminalState)
	assert.Len(t, res.Rounds, 3, "the loop stops exactly at the round budget")
}

func TestContractNetRunsToProtocolComplete(t *testing.T) {
	var m *Manager

	boss := newHook("boss", []string{"manage"}, func(ctx context.Context, task string) (*agent.Result, error) {
		require.NoError(t, m.Send(agent.NewMessage("boss", agent.Broadcast, agent.TypeCFP, task)))
		return &agent.Result{Success: true, Output: "delegated"}, nil
	}, func(ctx context.Context, msg *agent.Message) (*agent.Message, error) {
		if msg.Type == agent.TypeProposal {
			return msg.Reply("boss", agent.TypeAward, "deal"), nil
		}
		return nil, nil
	})

	m = NewManager(WithProtocol(protocol.ContractNet{}))
	require.NoError(t, m.Register(boss))
	require.NoError(t, m.Register(agent.NewScripted("w1", []string{"welding"}, map[string]string{agent.TypeCFP: agent.TypeProposal})))
	require.NoError(t, m.Register(agent.NewScripted("w2", []string{"welding"}, map[string]string{agent.TypeCFP: agent.TypeProposal})))

	res, err := m.Collaborate(context.Background(), "manage the refit")
	require.NoError(t, err)

	assert.Equal(t, StateProtocolComplete, res.TerminalState)
	assert.Len(t, res.Rounds, 4, "cfp, proposals, awards, then the awards land")
	assert.ElementsMatch(t, []string{"boss", "w1", "w2"}, res.AgentsInvolved)
	assert.Empty(t, res.Failures)
}

func TestContractNetParallelTurns(t *testing.T) {
	var m *Manager

	boss := newHook("boss", []string{"manage"}, func(ctx context.Context, task string) (*agent.Result, error) {
		require.NoError(t, m.Send(agent.NewMessage("boss", agent.Broadcast, agent.TypeCFP, task)))
		return &agent.Result{Success: true, Output: "delegated"}, nil
	}, func(ctx context.Context, msg *agent.Message) (*agent.Message, error) {
		if msg.Type == agent.TypeProposal {
			return msg.Reply("boss", agent.TypeAward, "deal"), nil
		}
		return nil, nil
	})

	m = NewManager(WithProtocol(protocol.ContractNet{}), WithParallelTurns())
	require.NoError(t, m.Register(boss))
	require.NoError(t, m.Register(agent.NewScripted("w1", []string{"welding"}, map[string]string{agent.TypeCFP: agent.TypeProposal})))
	require.NoError(t, m.Register(agent.NewScripted("w2", []string{"welding"}, map[string]string{agent.TypeCFP: agent.TypeProposal})))

	res, err := m.Collaborate(context.Background(), "manage the refit")
	require.NoError(t, err)
	assert.Equal(t, StateProtocolComplete, res.TerminalState)
}

func TestExecutorFailureIsRecorded(t *testing.T) {
	failing := newHook("f1", []string{"flaky"}, func(ctx context.Context, task string) (*agent.Result, error) {
		return nil, errors.New("disk on fire")
	}, nil)

	m := NewManager()
	require.NoError(t, m.Register(failing))

	res, err := m.Collaborate(context.Background(), "flaky work")
	require.NoError(t, err, "participant failures never abort the run")
	assert.Equal(t, StateConverged, res.TerminalState)
	assert.Nil(t, res.FinalAnswer)
	assert.Contains(t, res.Failures["f1"], "disk on fire")
}

func TestSharedMemoryFlowsIntoResult(t *testing.T) {
	var m *Manager

	writer := newHook("w", []string{"write"}, func(ctx context.Context, task string) (*agent.Result, error) {
		_, err := m.Memory().Write(ctx, "conclusion", "42", "w", nil)
		require.NoError(t, err)
		return &agent.Result{Success: true, Output: "done"}, nil
	}, nil)

	m = NewManager()
	require.NoError(t, m.Register(writer))

	res, err := m.Collaborate(context.Background(), "write the conclusion")
	require.NoError(t, err)
	require.Contains(t, res.SharedMemory, "conclusion")
	assert.Equal(t, "42", res.SharedMemory["conclusion"].Value)
	assert.Equal(t, "w", res.SharedMemory["conclusion"].WrittenBy)
}

func TestSendValidation(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(agent.NewEcho("a", nil)))
	require.NoError(t, m.Register(agent.NewEcho("b", nil)))

	err := m.Send(agent.NewMessage("a", "nobody", "note", nil))
	assert.ErrorIs(t, err, ErrUnknownRecipient)

	err = m.Send(agent.NewMessage("stranger", "a", "note", nil))
	assert.ErrorIs(t, err, ErrUnknownSender)
}

func TestSendProtocolViolation(t *testing.T) {
	m := NewManager(WithProtocol(protocol.RequestResponse{}))
	require.NoError(t, m.Register(agent.NewEcho("a", nil)))
	require.NoError(t, m.Register(agent.NewEcho("b", nil)))

	err := m.Send(agent.NewMessage("a", "b", "gossip", nil))
	var ve *protocol.ViolationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "gossip", ve.MsgType)

	// The manager sentinel is exempt: protocols constrain participants.
	assert.NoError(t, m.Send(agent.NewMessage(agent.ManagerID, "a", agent.TypeTask, "go")))
}

func TestSendRateLimit(t *testing.T) {
	m := NewManager(WithSendRate(1, 1))
	require.NoError(t, m.Register(agent.NewEcho("a", nil)))
	require.NoError(t, m.Register(agent.NewEcho("b", nil)))

	require.NoError(t, m.Send(agent.NewMessage("a", "b", "note", nil)))
	err := m.Send(agent.NewMessage("a", "b", "note", nil))
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestRegisterValidation(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(agent.NewEcho("a", nil)))

	err := m.Register(agent.NewEcho("a", nil))
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	assert.Error(t, m.Register(agent.NewEcho(agent.ManagerID, nil)))
	assert.Error(t, m.Register(agent.NewEcho(agent.Broadcast, nil)))
	assert.Error(t, m.Register(agent.NewEcho("", nil)))
}

func TestManagerIsReusable(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(agent.NewEcho("e", []string{"echo"})))

	first, err := m.Collaborate(context.Background(), "echo one")
	require.NoError(t, err)
	require.Equal(t, StateConverged, first.TerminalState)

	// Echo marks itself done; the run reset must clear that.
	second, err := m.Collaborate(context.Background(), "echo two")
	require.NoError(t, err)
	assert.Equal(t, StateConverged, second.TerminalState)
	assert.Equal(t, "echo two", second.FinalAnswer)
}

func TestContextCancellationBetweenRounds(t *testing.T) {
	var m *Manager
	ctx, cancel := context.WithCancel(context.Background())

	a := newHook("a", []string{"ping"}, func(tctx context.Context, task string) (*agent.Result, error) {
		require.NoError(t, m.Send(agent.NewMessage("a", "b", "ping", nil)))
		cancel()
		return &agent.Result{Success: true, Output: "started"}, nil
	}, nil)
	b := newHook("b", nil, nil, func(tctx context.Context, msg *agent.Message) (*agent.Message, error) {
		t.Error("round 2 must not start after cancellation")
		return nil, nil
	})

	m = NewManager()
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))

	_, err := m.Collaborate(ctx, "ping once")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateIdle, m.State())
}

func TestMetricsAndExport(t *testing.T) {
	mem := memory.NewStore()
	m := NewManager(WithMemory(mem))
	require.NoError(t, m.Register(agent.NewEcho("e", []string{"echo"})))

	_, err := m.Collaborate(context.Background(), "echo stats")
	require.NoError(t, err)

	metrics, err := m.Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.AgentsRegistered)
	assert.Equal(t, int64(1), metrics.MessagesRouted)
	assert.Zero(t, metrics.QueueDepth)
	require.Contains(t, metrics.Participants, "e")
	assert.Equal(t, int64(1), metrics.Participants["e"].Completed)
	assert.Equal(t, int64(1), metrics.Participants["e"].Succeeded)

	snap, err := m.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "echo stats", snap.Task)
	assert.Equal(t, StateConverged, snap.State)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, agent.ManagerID, snap.Messages[0].From)
	assert.Equal(t, agent.TypeTask, snap.Messages[0].Type)
}
