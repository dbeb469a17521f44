// Package scoring turns consolidated question scores into a grade.
//
// Rounding policy: each question is rounded half-up to the nearest
// PointStep, totals to two decimals, and the percentage half-up to one
// decimal. Letter grades and boundary windows are evaluated on that rounded
// percentage only.
package scoring

import (
	"math"

	"github.com/rubrica-app/rubrica/internal/exam"
)

// PointStep is the precision question points are rounded to.
const PointStep = 0.5

// stepsPerPoint is 1/PointStep.
const stepsPerPoint = 1 / PointStep

// eps absorbs binary representation error before half-up rounding, so that
// 8.75 computed as 8.749999… still rounds up.
const eps = 1e-9

// roundHalfUp rounds v half-up to a multiple of 1/per.
func roundHalfUp(v, per float64) float64 {
	return math.Floor(v*per+0.5+eps) / per
}

func round2(v float64) float64 {
	return roundHalfUp(v, 100)
}

// floor2 truncates v to two decimals so a rounded maximum never exceeds the
// exact one.
func floor2(v float64) float64 {
	return math.Floor(v*100+eps) / 100
}

// RoundPercentage rounds a percentage half-up to one decimal.
func RoundPercentage(p float64) float64 {
	return roundHalfUp(p, 10)
}

// Normalize rescales consolidated scores against the rubric and computes
// totals, percentage and letter.
//
// Each question's raw points are capped at its rubric maximum, giving a
// ratio in [0, 1]. When the rubric declares a total that differs from the sum
// of maxima, every maximum is scaled by total/sum so the exam adds up to the
// declared total while relative performance is preserved. Points are the
// ratio times the scaled maximum, rounded to PointStep and never above the
// scaled maximum (truncated to two decimals). Scores for questions outside
// the rubric are dropped.
func Normalize(scores []exam.QuestionScore, rubric exam.Rubric) exam.Payload {
	possible := rubric.DeclaredTotal()
	scale := 1.0
	if sum := rubric.MaxTotal(); sum > 0 {
		scale = possible / sum
	}

	byID := make(map[string]exam.QuestionScore, len(scores))
	for _, s := range scores {
		byID[s.Question] = s
	}

	p := exam.Payload{PossiblePoints: possible}
	var total float64
	for _, q := range rubric.Questions {
		s, ok := byID[q.ID]
		if !ok {
			s = exam.QuestionScore{Question: q.ID}
		}
		maxPoints := q.MaxPoints * scale
		ratio := 0.0
		if q.MaxPoints > 0 {
			ratio = math.Min(math.Max(s.RawPoints, 0)/q.MaxPoints, 1)
		}
		s.MaxPoints = floor2(maxPoints)
		s.Points = math.Min(roundHalfUp(ratio*maxPoints, stepsPerPoint), s.MaxPoints)
		total += s.Points
		p.Questions = append(p.Questions, s)
	}

	p.TotalPoints = round2(total)
	p.Percentage = Percentage(p.TotalPoints, possible)
	p.Letter = LetterFor(p.Percentage)
	return p
}

// Percentage returns total/possible as a rounded percentage.
func Percentage(total, possible float64) float64 {
	if possible <= 0 {
		return 0
	}
	return RoundPercentage(total / possible * 100)
}
