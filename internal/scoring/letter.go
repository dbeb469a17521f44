package scoring

import (
	"math"

	"github.com/rubrica-app/rubrica/internal/exam"
)

// Threshold is the lowest percentage earning a letter.
type Threshold struct {
	Min    float64
	Letter exam.Letter
}

// Thresholds are the letter bands, best first. Lower bounds are inclusive.
var Thresholds = []Threshold{
	{90, exam.LetterA},
	{80, exam.LetterB},
	{70, exam.LetterC},
	{60, exam.LetterD},
}

// BoundaryTolerance is the half-width, in percentage points, of the window
// around each threshold that triggers a second grading pass.
const BoundaryTolerance = 1.5

// LetterFor maps a percentage to its letter grade.
func LetterFor(percentage float64) exam.Letter {
	for _, t := range Thresholds {
		if percentage >= t.Min {
			return t.Letter
		}
	}
	return exam.LetterF
}

// NearBoundary returns the threshold within BoundaryTolerance of percentage.
// When two thresholds qualify the closer one wins; with the current bands
// that cannot happen.
func NearBoundary(percentage float64) (float64, bool) {
	best, found := 0.0, false
	for _, t := range Thresholds {
		d := math.Abs(percentage - t.Min)
		if d > BoundaryTolerance+eps {
			continue
		}
		if !found || d < math.Abs(percentage-best) {
			best, found = t.Min, true
		}
	}
	return best, found
}
