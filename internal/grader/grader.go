// Package grader runs the per-exam grading pipeline.
//
// One pass is: model call, strict parse, consolidation, refinement,
// sanitization, normalization and letter assignment, with the model call and
// parse retried inside a bounded attempt loop. Grade runs a first pass and,
// when its percentage falls inside a boundary window, a second independent
// pass that is reconciled with the first.
package grader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rubrica-app/rubrica/internal/consolidate"
	"github.com/rubrica-app/rubrica/internal/exam"
	"github.com/rubrica-app/rubrica/internal/feedback"
	"github.com/rubrica-app/rubrica/internal/response"
	"github.com/rubrica-app/rubrica/internal/scorer"
	"github.com/rubrica-app/rubrica/internal/scoring"
)

// MaxAttempts is the number of model calls one pass may make.
const MaxAttempts = 2

// Scorer is the model client. *scorer.Client implements it.
type Scorer interface {
	Score(ctx context.Context, req scorer.Request) (scorer.Reply, error)
	feedback.Completer
}

// Options configures a Grader.
type Options struct {
	// MaxAttempts overrides MaxAttempts when positive.
	MaxAttempts int

	Logger *slog.Logger
}

// Grader grades one exam at a time and is safe for concurrent use.
type Grader struct {
	scorer      Scorer
	refiner     *feedback.Refiner
	maxAttempts int
	logger      *slog.Logger
}

// New returns a Grader calling s.
func New(s Scorer, opts Options) *Grader {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = MaxAttempts
	}
	return &Grader{
		scorer:      s,
		refiner:     feedback.NewRefiner(s, logger),
		maxAttempts: attempts,
		logger:      logger,
	}
}

// Result is the outcome of Grade.
type Result struct {
	Payload exam.Payload

	// Attempts counts model grading calls across both passes.
	Attempts int

	// Refinements lists feedback rewrites that failed. They do not fail the
	// exam.
	Refinements []*feedback.RefinementFailure
}

// Grade grades one exam. A failure in either pass fails the exam; no
// partial payload is returned with an error.
func (g *Grader) Grade(ctx context.Context, req scorer.Request) (Result, error) {
	first, err := g.Pass(ctx, req)
	res := Result{Attempts: first.Attempts, Refinements: first.Refinements}
	if err != nil {
		return res, err
	}

	threshold, near := scoring.NearBoundary(first.Payload.Percentage)
	if !near {
		res.Payload = first.Payload
		return res, nil
	}

	g.logger.Info("near grade boundary, running second pass",
		"anon_id", req.AnonID,
		"percentage", first.Payload.Percentage,
		"threshold", threshold)

	second, err := g.Pass(ctx, req)
	res.Attempts += second.Attempts
	res.Refinements = append(res.Refinements, second.Refinements...)
	if err != nil {
		return res, fmt.Errorf("boundary second pass: %w", err)
	}

	res.Payload = scoring.Reconcile(first.Payload, second.Payload, threshold)
	g.logger.Info("boundary check reconciled",
		"anon_id", req.AnonID,
		"first", first.Payload.Percentage,
		"second", second.Payload.Percentage,
		"final", res.Payload.Percentage,
		"method", res.Payload.Boundary.Method)
	return res, nil
}

// Pass runs one independent grading pass.
func (g *Grader) Pass(ctx context.Context, req scorer.Request) (Result, error) {
	var last error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		scores, err := g.attempt(ctx, req)
		if err == nil {
			return g.finish(ctx, req, scores, attempt), nil
		}
		if !Retryable(err) {
			return Result{Attempts: attempt}, err
		}
		last = err
		g.logger.Warn("grading attempt failed",
			"anon_id", req.AnonID,
			"attempt", attempt,
			"max_attempts", g.maxAttempts,
			"error", err)
	}
	return Result{Attempts: g.maxAttempts}, &ExhaustedError{Attempts: g.maxAttempts, Last: last}
}

// attempt makes one model call and checks the reply against the rubric.
func (g *Grader) attempt(ctx context.Context, req scorer.Request) (response.Scores, error) {
	reply, err := g.scorer.Score(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return response.Scores{}, ctx.Err()
		}
		return response.Scores{}, err
	}
	if reply.Truncated() {
		return response.Scores{}, response.Malformed(reply.Text, "reply truncated at max_tokens")
	}
	scores, err := response.Parse(reply.Text)
	if err != nil {
		return response.Scores{}, err
	}
	if err := checkCoverage(reply.Text, scores.Entries, req.Rubric); err != nil {
		return response.Scores{}, err
	}
	return scores, nil
}

// checkCoverage requires the consolidated reply to score exactly the rubric's
// questions.
func checkCoverage(text string, entries []response.Entry, rubric exam.Rubric) error {
	seen := map[string]bool{}
	for _, e := range entries {
		parent, _ := consolidate.Resolve(e.ID, rubric)
		if _, ok := rubric.Question(parent); !ok {
			return response.Malformed(text, "unknown question %q", e.ID)
		}
		seen[parent] = true
	}
	var missing []string
	for _, q := range rubric.Questions {
		if !seen[q.ID] {
			missing = append(missing, q.ID)
		}
	}
	if len(missing) > 0 {
		return response.Malformed(text, "missing questions %s", strings.Join(missing, ", "))
	}
	return nil
}

// finish runs the computation-only stages of a pass plus refinement.
func (g *Grader) finish(ctx context.Context, req scorer.Request, scores response.Scores, attempts int) Result {
	// Sub-part feedback is sanitized before it is joined so that a dropped
	// sentence never takes a sub-part label with it.
	entries := make([]response.Entry, len(scores.Entries))
	for i, e := range scores.Entries {
		e.Feedback = feedback.Sanitize(e.Feedback)
		entries[i] = e
	}
	merged := consolidate.Consolidate(entries, req.Rubric)

	refined, failures := g.refiner.Refine(ctx, req.AnonID, req.Rubric, merged)
	for i := range refined {
		if refined[i].Refined {
			refined[i].Feedback = feedback.Sanitize(refined[i].Feedback)
		}
	}

	payload := scoring.Normalize(refined, req.Rubric)
	payload.OverallFeedback = feedback.Sanitize(scores.OverallFeedback)

	g.logger.Debug("pass complete",
		"anon_id", req.AnonID,
		"attempts", attempts,
		"total", payload.TotalPoints,
		"percentage", payload.Percentage,
		"letter", payload.Letter)
	return Result{Payload: payload, Attempts: attempts, Refinements: failures}
}
