package scoring

import (
	"github.com/rubrica-app/rubrica/internal/exam"
)

// Reconcile settles a boundary re-grade.
//
// When both passes earn the same letter, the first pass stands and the second
// is kept for audit only. When they differ, each question's points are the
// mean of both passes, the total is the mean of both pass totals, and the
// percentage and letter are recomputed from it. Feedback always comes from
// the first pass. The returned payload carries a BoundaryCheck with both
// percentages.
func Reconcile(first, second exam.Payload, threshold float64) exam.Payload {
	check := &exam.BoundaryCheck{
		Threshold:        threshold,
		FirstPercentage:  first.Percentage,
		SecondPercentage: second.Percentage,
		FirstLetter:      first.Letter,
		SecondLetter:     second.Letter,
	}

	final := first
	final.Questions = append([]exam.QuestionScore(nil), first.Questions...)

	if first.Letter == second.Letter {
		check.Method = exam.ReconcileFirstPass
	} else {
		check.Method = exam.ReconcileAveraged

		other := make(map[string]float64, len(second.Questions))
		for _, q := range second.Questions {
			other[q.Question] = q.Points
		}
		for i, q := range final.Questions {
			final.Questions[i].Points = round2((q.Points + other[q.Question]) / 2)
		}
		// Per-question rounding may drift from the mean of the totals by a
		// cent; the total is taken from the pass totals directly.
		final.TotalPoints = round2((first.TotalPoints + second.TotalPoints) / 2)
		final.Percentage = Percentage(final.TotalPoints, final.PossiblePoints)
		final.Letter = LetterFor(final.Percentage)
	}

	check.FinalPercentage = final.Percentage
	final.Boundary = check
	return final
}
