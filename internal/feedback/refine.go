// Package feedback cleans and sharpens per-question feedback.
//
// Sanitize is a deterministic text transform run on every feedback string
// before it is stored. Refiner replaces vague feedback with a rubric-anchored
// rewrite obtained from one text-only model call per flagged question.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rubrica-app/rubrica/internal/exam"
	"github.com/rubrica-app/rubrica/internal/scorer"
)

// MinWords is the shortest feedback, in words, not considered vague.
const MinWords = 8

// Vague reports whether feedback is too short or too generic to be useful,
// and why.
func Vague(text string) (bool, string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return true, "empty"
	}
	if name, hit := firstMatch(VaguePatterns, text); hit {
		return true, name
	}
	if n := len(strings.Fields(text)); n < MinWords {
		return true, fmt.Sprintf("%d words", n)
	}
	return false, ""
}

// Completer performs a text-only model call.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// RefinementFailure records a refinement call that did not produce usable
// text. It never fails the exam; the original feedback is kept.
type RefinementFailure struct {
	Question string
	Err      error
}

func (e *RefinementFailure) Error() string {
	return fmt.Sprintf("refine %s: %v", e.Question, e.Err)
}

func (e *RefinementFailure) Unwrap() error {
	return e.Err
}

// IsRefinementFailure reports whether err is (or wraps) a RefinementFailure.
func IsRefinementFailure(err error) bool {
	var rf *RefinementFailure
	return errors.As(err, &rf)
}

// Refiner rewrites vague feedback.
type Refiner struct {
	completer Completer
	logger    *slog.Logger
}

// NewRefiner returns a Refiner calling c. A nil logger uses slog.Default().
func NewRefiner(c Completer, logger *slog.Logger) *Refiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refiner{completer: c, logger: logger}
}

// Refine returns a copy of scores in which every vague feedback string has
// been replaced by a rewrite. Each flagged question gets exactly one call and
// the rewrite is not checked again. Questions missing from the rubric are
// left alone.
func (r *Refiner) Refine(ctx context.Context, anonID string, rubric exam.Rubric, scores []exam.QuestionScore) ([]exam.QuestionScore, []*RefinementFailure) {
	out := make([]exam.QuestionScore, len(scores))
	copy(out, scores)

	var failures []*RefinementFailure
	for i, s := range out {
		vague, reason := Vague(s.Feedback)
		if !vague {
			continue
		}
		q, ok := rubric.Question(s.Question)
		if !ok {
			continue
		}

		r.logger.Debug("refining feedback", "anon_id", anonID, "question", s.Question, "reason", reason)
		text, err := r.completer.Complete(ctx, scorer.BuildRefinePrompt(q, s))
		if err == nil {
			text = strings.TrimSpace(strings.Trim(strings.TrimSpace(text), `"`))
			if text == "" {
				err = errors.New("empty reply")
			}
		}
		if err != nil {
			rf := &RefinementFailure{Question: s.Question, Err: err}
			failures = append(failures, rf)
			r.logger.Warn("feedback refinement failed, keeping original",
				"anon_id", anonID, "question", s.Question, "error", err)
			continue
		}

		out[i].Feedback = text
		out[i].Refined = true
	}
	return out, failures
}
