package exam

import (
	"fmt"
	"strings"
	"time"
)

// State is the grading state of an exam.
//
// Transitions: pending → in_progress → {graded | failed}. A failed exam
// returns to in_progress on the next run; a graded exam only does so when a
// re-grade is explicitly requested.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateGraded     State = "graded"
	StateFailed     State = "failed"
)

// States lists every state in lifecycle order.
var States = []State{StatePending, StateInProgress, StateGraded, StateFailed}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// Letter is a letter grade.
type Letter string

const (
	LetterA Letter = "A"
	LetterB Letter = "B"
	LetterC Letter = "C"
	LetterD Letter = "D"
	LetterF Letter = "F"
)

// Rank orders letters so that a better grade has a higher rank.
func (l Letter) Rank() int {
	switch l {
	case LetterA:
		return 4
	case LetterB:
		return 3
	case LetterC:
		return 2
	case LetterD:
		return 1
	default:
		return 0
	}
}

// Page is one scanned answer page. Number is the zero-based page index in the
// original scan; the cover sheet (page 0) never appears here.
type Page struct {
	Number    int    `json:"number"`
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

// Question is one entry of a rubric.
type Question struct {
	ID        string  `json:"id" yaml:"id"`
	MaxPoints float64 `json:"max_points" yaml:"max_points"`
	Criteria  string  `json:"criteria" yaml:"criteria"`
}

// Rubric is a versioned, immutable scoring key. Seq distinguishes successive
// edits of the same version; an exam is pinned to the seq it was added under.
type Rubric struct {
	Version     string     `json:"version" yaml:"version"`
	Seq         int64      `json:"seq,omitempty" yaml:"-"`
	Questions   []Question `json:"questions" yaml:"questions"`
	TotalPoints float64    `json:"total_points,omitempty" yaml:"total_points,omitempty"`
}

// MaxTotal returns the sum of the per-question maxima.
func (r Rubric) MaxTotal() float64 {
	var sum float64
	for _, q := range r.Questions {
		sum += q.MaxPoints
	}
	return sum
}

// DeclaredTotal returns the rubric's declared exam total, falling back to
// the sum of maxima when none is declared.
func (r Rubric) DeclaredTotal() float64 {
	if r.TotalPoints > 0 {
		return r.TotalPoints
	}
	return r.MaxTotal()
}

// Question looks up a question by identifier.
func (r Rubric) Question(id string) (Question, bool) {
	for _, q := range r.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Text renders the rubric as plain text for a model prompt.
func (r Rubric) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rubric version %s\n", r.Version)
	for _, q := range r.Questions {
		fmt.Fprintf(&b, "\n%s (max %s points)\n", q.ID, FormatPoints(q.MaxPoints))
		if q.Criteria != "" {
			b.WriteString(q.Criteria)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// QuestionScore is the per-question result inside a Payload.
//
// RawPoints is the consolidated model score before normalization; Points is
// the normalized score and never exceeds MaxPoints. Sources lists the
// sub-part identifiers merged into this question, in sub-part order, and is
// empty when the model answered the question as a single entry.
type QuestionScore struct {
	Question  string   `json:"question" yaml:"question"`
	Points    float64  `json:"points" yaml:"points"`
	RawPoints float64  `json:"raw_points" yaml:"raw_points"`
	MaxPoints float64  `json:"max_points" yaml:"max_points"`
	Feedback  string   `json:"feedback" yaml:"feedback"`
	Sources   []string `json:"sources,omitempty" yaml:"sources,omitempty"`
	Refined   bool     `json:"refined,omitempty" yaml:"refined,omitempty"`
}

// Reconciliation names how a boundary check settled the final grade.
type Reconciliation string

const (
	// ReconcileFirstPass keeps the first pass because both passes agreed on
	// the letter grade. The second pass is audit-only.
	ReconcileFirstPass Reconciliation = "first_pass_kept"

	// ReconcileAveraged averages both passes because their letters differed.
	ReconcileAveraged Reconciliation = "averaged"
)

// BoundaryCheck is the audit record of a boundary re-grade. It is created
// once, only when the first pass lands inside a boundary window, and never
// mutated afterwards.
type BoundaryCheck struct {
	Threshold        float64        `json:"threshold" yaml:"threshold"`
	FirstPercentage  float64        `json:"first_percentage" yaml:"first_percentage"`
	SecondPercentage float64        `json:"second_percentage" yaml:"second_percentage"`
	FinalPercentage  float64        `json:"final_percentage" yaml:"final_percentage"`
	FirstLetter      Letter         `json:"first_letter" yaml:"first_letter"`
	SecondLetter     Letter         `json:"second_letter" yaml:"second_letter"`
	Method           Reconciliation `json:"method" yaml:"method"`
}

// Payload is the complete grade of one exam.
//
// TotalPoints equals the sum of Questions[i].Points, Percentage is
// TotalPoints / PossiblePoints * 100 rounded to one decimal, and Letter is
// derived from Percentage alone.
type Payload struct {
	Questions       []QuestionScore `json:"questions" yaml:"questions"`
	TotalPoints     float64         `json:"total_points" yaml:"total_points"`
	PossiblePoints  float64         `json:"possible_points" yaml:"possible_points"`
	Percentage      float64         `json:"percentage" yaml:"percentage"`
	Letter          Letter          `json:"letter_grade" yaml:"letter_grade"`
	OverallFeedback string          `json:"overall_feedback,omitempty" yaml:"overall_feedback,omitempty"`
	Boundary        *BoundaryCheck  `json:"boundary_check,omitempty" yaml:"boundary_check,omitempty"`
}

// Exam is one scanned submission as the pipeline sees it.
type Exam struct {
	AnonID        string     `json:"anon_id"`
	RubricVersion string     `json:"rubric_version"`
	RubricSeq     int64      `json:"rubric_seq"`
	Pages         []Page     `json:"-"`
	State         State      `json:"state"`
	Grade         *Payload   `json:"grade,omitempty"`
	Error         string     `json:"error,omitempty"`
	RunID         string     `json:"run_id,omitempty"`
	Attempts      int        `json:"attempts"`
	GradedAt      *time.Time `json:"graded_at,omitempty"`
}

// FormatPoints renders a point value without trailing zeros.
func FormatPoints(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
