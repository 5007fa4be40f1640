package collab

import (
	"strings"
	"sync/atomic"

	"github.com/concord-dev/concord/agent"
)

// FallbackMode controls routing when no participant has any capability
// overlap with the task.
type FallbackMode string

const (
	// FallbackFirst routes to the first registered participant and flags
	// the result as a fallback. This mirrors the permissive load-balancer
	// behavior most callers want.
	FallbackFirst FallbackMode = "first"

	// FallbackError makes routing fail with ErrNoCapableParticipant.
	FallbackError FallbackMode = "error"
)

// registration is the per-participant record the manager keeps: the
// participant itself plus its routing state. Workload counts in-flight
// assigned tasks and is never negative; performance tracks completed-task
// outcomes.
type registration struct {
	participant agent.Participant
	caps        map[string]struct{}
	order       int

	workload  atomic.Int64
	completed atomic.Int64
	succeeded atomic.Int64
}

func (r *registration) id() string { return r.participant.ID() }

// overlap counts how many required capabilities this participant declares.
func (r *registration) overlap(required []string) int {
	n := 0
	for _, cap := range required {
		if _, ok := r.caps[cap]; ok {
			n++
		}
	}
	return n
}

// routeDecision is the routing outcome attached to the run result.
type routeDecision struct {
	assignee *registration
	required []string
	score    int
	fallback bool
}

// route picks the participant for a task: highest capability overlap wins,
// ties break by lowest current workload, then by registration order so
// repeated calls with identical registry state are stable. Routing is
// re-evaluated per task, never cached, because workload changes between
// calls.
func route(task string, regs []*registration, analyzer agent.Analyzer, fallback FallbackMode) (*routeDecision, error) {
	if len(regs) == 0 {
		return nil, ErrNoParticipants
	}

	required := analyzer.CapabilitiesNeeded(task)

	var best *registration
	bestScore := 0
	for _, reg := range regs {
		score := reg.overlap(required)
		if score == 0 {
			continue
		}
		switch {
		case best == nil || score > bestScore:
			best, bestScore = reg, score
		case score == bestScore:
			if reg.workload.Load() < best.workload.Load() {
				best = reg
			}
			// Equal workload keeps the earlier registration.
		}
	}

	if best != nil {
		return &routeDecision{assignee: best, required: required, score: bestScore}, nil
	}
	if fallback == FallbackError {
		return nil, ErrNoCapableParticipant
	}
	return &routeDecision{assignee: regs[0], required: required, fallback: true}, nil
}

// KeywordAnalyzer derives required capabilities from keyword matches: each
// capability tag maps to the keywords that imply it. With no keyword table
// it degrades to treating every word of the task as a candidate tag, which
// the capability intersection then filters.
type KeywordAnalyzer struct {
	// Keywords maps a capability tag to the task substrings implying it.
	Keywords map[string][]string
}

// CapabilitiesNeeded implements agent.Analyzer.
func (a KeywordAnalyzer) CapabilitiesNeeded(task string) []string {
	lowered := strings.ToLower(task)
	if len(a.Keywords) == 0 {
		fields := strings.Fields(lowered)
		seen := make(map[string]struct{}, len(fields))
		caps := make([]string, 0, len(fields))
		for _, f := range fields {
			f = strings.Trim(f, ".,;:!?")
			if f == "" {
				continue
			}
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			caps = append(caps, f)
		}
		return caps
	}

	var caps []string
	for tag, words := range a.Keywords {
		for _, w := range words {
			if strings.Contains(lowered, strings.ToLower(w)) {
				caps = append(caps, tag)
				break
			}
		}
	}
	return caps
}
