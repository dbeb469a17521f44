package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rubrica-app/rubrica/internal/scorer"
)

// Step is one scripted model reply or failure.
type Step struct {
	Text       string
	StopReason string
	Err        error

	// Delay holds the reply back, honouring context cancellation.
	Delay time.Duration
}

// Reply scripts a successful reply.
func Reply(text string) Step {
	return Step{Text: text, StopReason: "end_turn"}
}

// Truncated scripts a reply cut off at max_tokens.
func Truncated(text string) Step {
	return Step{Text: text, StopReason: "max_tokens"}
}

// Fail scripts a failed call.
func Fail(err error) Step {
	return Step{Err: err}
}

// TransportFailure scripts a connection failure.
func TransportFailure() Step {
	return Fail(&scorer.TransportError{Op: "score", Err: errors.New("connection refused")})
}

// Specific is feedback long and concrete enough to never be refined.
const Specific = "Sets marginal revenue equal to marginal cost and solves for the quantity correctly."

// ScoresReply scripts a valid reply awarding points per question, each with
// Specific feedback. Keys are emitted in sorted order.
func ScoresReply(points map[string]float64) Step {
	ids := make([]string, 0, len(points))
	for id := range points {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%q: {\"points\": %g, \"feedback\": %q}", id, points[id], Specific)
	}
	return Reply("{" + strings.Join(parts, ", ") + "}")
}

// ScriptedScorer is a fake model client. Score replies are queued per
// anonymous identifier and consumed in order; when a queue is empty the
// default step is used. Complete always returns the configured refinement.
//
// Thread-safety: all methods are safe for concurrent use.
type ScriptedScorer struct {
	mu       sync.Mutex
	queues   map[string][]Step
	fallback *Step
	calls    map[string]int

	refinement    string
	refinementErr error
	prompts       []string
}

// NewScriptedScorer creates an empty ScriptedScorer.
func NewScriptedScorer() *ScriptedScorer {
	return &ScriptedScorer{
		queues:     map[string][]Step{},
		calls:      map[string]int{},
		refinement: "Identifies the correct equilibrium but does not label the axes on the graph.",
	}
}

// Queue appends steps for anonID.
func (s *ScriptedScorer) Queue(anonID string, steps ...Step) *ScriptedScorer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[anonID] = append(s.queues[anonID], steps...)
	return s
}

// Default sets the step used when an exam has no queued steps left.
func (s *ScriptedScorer) Default(step Step) *ScriptedScorer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = &step
	return s
}

// Refinement sets the Complete reply and error.
func (s *ScriptedScorer) Refinement(text string, err error) *ScriptedScorer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refinement, s.refinementErr = text, err
	return s
}

// Score implements grader.Scorer.
func (s *ScriptedScorer) Score(ctx context.Context, req scorer.Request) (scorer.Reply, error) {
	s.mu.Lock()
	s.calls[req.AnonID]++
	var step Step
	switch q := s.queues[req.AnonID]; {
	case len(q) > 0:
		step, s.queues[req.AnonID] = q[0], q[1:]
	case s.fallback != nil:
		step = *s.fallback
	default:
		step = Fail(fmt.Errorf("no scripted reply for %s", req.AnonID))
	}
	s.mu.Unlock()

	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return scorer.Reply{}, ctx.Err()
		}
	}
	if step.Err != nil {
		return scorer.Reply{}, step.Err
	}
	return scorer.Reply{Text: step.Text, StopReason: step.StopReason, RequestID: "scripted"}, nil
}

// Complete implements feedback.Completer.
func (s *ScriptedScorer) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	return s.refinement, s.refinementErr
}

// Calls returns how many Score calls anonID received.
func (s *ScriptedScorer) Calls(anonID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[anonID]
}

// TotalCalls returns the number of Score calls across all exams.
func (s *ScriptedScorer) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// Prompts returns the refinement prompts received so far.
func (s *ScriptedScorer) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}
