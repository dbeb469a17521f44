package scoring

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubrica-app/rubrica/internal/exam"
)

func rubricOf(max ...float64) exam.Rubric {
	r := exam.Rubric{Version: "T"}
	ids := []string{"Q1", "Q2", "Q3", "Q4", "Q5"}
	for i, m := range max {
		r.Questions = append(r.Questions, exam.Question{ID: ids[i], MaxPoints: m})
	}
	return r
}

func raw(pts ...float64) []exam.QuestionScore {
	ids := []string{"Q1", "Q2", "Q3", "Q4", "Q5"}
	out := make([]exam.QuestionScore, len(pts))
	for i, p := range pts {
		out[i] = exam.QuestionScore{Question: ids[i], RawPoints: p, Points: p, Feedback: ids[i] + " feedback"}
	}
	return out
}

func TestNormalize_CapsOvershoot(t *testing.T) {
	p := Normalize(raw(9, 18), rubricOf(10, 10))

	require.Len(t, p.Questions, 2)
	assert.Equal(t, 9.0, p.Questions[0].Points)
	assert.Equal(t, 10.0, p.Questions[1].Points)
	assert.Equal(t, 18.0, p.Questions[1].RawPoints, "raw points are kept for audit")
	assert.Equal(t, "Q2 feedback", p.Questions[1].Feedback)
	assert.Equal(t, 19.0, p.TotalPoints)
	assert.Equal(t, 20.0, p.PossiblePoints)
	assert.Equal(t, 95.0, p.Percentage)
	assert.Equal(t, exam.LetterA, p.Letter)
}

func TestNormalize_RoundsHalfUpToStep(t *testing.T) {
	p := Normalize(raw(7.25, 7.75, 3.1), rubricOf(10, 10, 10))

	assert.Equal(t, 7.5, p.Questions[0].Points)
	assert.Equal(t, 8.0, p.Questions[1].Points)
	assert.Equal(t, 3.0, p.Questions[2].Points)
	assert.Equal(t, 18.5, p.TotalPoints)
	assert.Equal(t, 61.7, p.Percentage)
	assert.Equal(t, exam.LetterD, p.Letter)
}

func TestNormalize_ScalesToDeclaredTotal(t *testing.T) {
	r := rubricOf(4, 6)
	r.TotalPoints = 20

	p := Normalize(raw(3, 6), r)
	assert.Equal(t, 8.0, p.Questions[0].MaxPoints)
	assert.Equal(t, 12.0, p.Questions[1].MaxPoints)
	assert.Equal(t, 6.0, p.Questions[0].Points, "3/4 of the scaled maximum")
	assert.Equal(t, 12.0, p.Questions[1].Points)
	assert.Equal(t, 18.0, p.TotalPoints)
	assert.Equal(t, 90.0, p.Percentage)
}

func TestNormalize_MissingAndUnknownQuestions(t *testing.T) {
	scores := []exam.QuestionScore{
		{Question: "Q2", RawPoints: 5},
		{Question: "Bonus", RawPoints: 3},
	}
	p := Normalize(scores, rubricOf(10, 10))

	require.Len(t, p.Questions, 2, "rubric order, unknown dropped")
	assert.Equal(t, "Q1", p.Questions[0].Question)
	assert.Equal(t, 0.0, p.Questions[0].Points)
	assert.Equal(t, 5.0, p.TotalPoints)
}

func TestNormalize_NeverExceedsMaximum(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 500; round++ {
		n := 1 + rng.Intn(5)
		maxes := make([]float64, n)
		pts := make([]float64, n)
		var sum float64
		for i := range maxes {
			maxes[i] = float64(1+rng.Intn(40)) / 2
			pts[i] = rng.Float64() * maxes[i] * 3
			sum += maxes[i]
		}
		r := rubricOf(maxes...)
		if rng.Intn(2) == 0 {
			r.TotalPoints = sum + (rng.Float64() - 0.5)
		}

		p := Normalize(raw(pts...), r)
		var total float64
		for _, q := range p.Questions {
			assert.LessOrEqual(t, q.Points, q.MaxPoints, "round %d question %s", round, q.Question)
			assert.GreaterOrEqual(t, q.Points, 0.0)
			total += q.Points
		}
		assert.InDelta(t, total, p.TotalPoints, 0.005, "round %d", round)
		assert.LessOrEqual(t, p.Percentage, 100.0)
		assert.Equal(t, LetterFor(p.Percentage), p.Letter)
	}
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 88.6, Percentage(31, 35))
	assert.Equal(t, 75.0, Percentage(15, 20))
	assert.Equal(t, 66.7, Percentage(2, 3))
	assert.Equal(t, 33.3, Percentage(1, 3))
	assert.Equal(t, 0.0, Percentage(5, 0))
}

func TestLetterFor(t *testing.T) {
	tests := []struct {
		pct  float64
		want exam.Letter
	}{
		{100, exam.LetterA},
		{90, exam.LetterA},
		{89.9, exam.LetterB},
		{80, exam.LetterB},
		{79.9, exam.LetterC},
		{70, exam.LetterC},
		{69.9, exam.LetterD},
		{60, exam.LetterD},
		{59.9, exam.LetterF},
		{0, exam.LetterF},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LetterFor(tt.pct), "%.1f", tt.pct)
	}
}

func TestLetterFor_Monotonic(t *testing.T) {
	prev := LetterFor(0)
	for i := 1; i <= 1000; i++ {
		cur := LetterFor(float64(i) / 10)
		assert.GreaterOrEqual(t, cur.Rank(), prev.Rank(), "at %.1f", float64(i)/10)
		prev = cur
	}
}

func TestNearBoundary(t *testing.T) {
	tests := []struct {
		pct       float64
		threshold float64
		near      bool
	}{
		{88.6, 90, true},
		{88.5, 90, true},
		{91.5, 90, true},
		{91.6, 0, false},
		{88.4, 0, false},
		{75.0, 0, false},
		{78.5, 80, true},
		{81.5, 80, true},
		{70.0, 70, true},
		{58.5, 60, true},
		{61.5, 60, true},
		{65.0, 0, false},
		{100, 0, false},
		{0, 0, false},
	}
	for _, tt := range tests {
		threshold, near := NearBoundary(tt.pct)
		assert.Equal(t, tt.near, near, "%.1f", tt.pct)
		assert.Equal(t, tt.threshold, threshold, "%.1f", tt.pct)
	}
}

func payload(possible float64, pts ...float64) exam.Payload {
	p := exam.Payload{PossiblePoints: possible}
	for i, s := range raw(pts...) {
		s.MaxPoints = 10
		p.Questions = append(p.Questions, s)
		p.TotalPoints += pts[i]
	}
	p.Percentage = Percentage(p.TotalPoints, possible)
	p.Letter = LetterFor(p.Percentage)
	return p
}

func TestReconcile_TotalIsMeanOfPassTotals(t *testing.T) {
	// Scaled maxima leave points off the 0.5 grid. Averaging per question
	// gives 2.92 three times (8.76); the mean of the totals is 8.75.
	first := payload(10, 3.33, 3.33, 3.33) // 99.9 A
	second := payload(10, 2.5, 2.5, 2.51)  // 75.1 C

	final := Reconcile(first, second, 70)
	assert.Equal(t, 2.92, final.Questions[0].Points)
	assert.Equal(t, 8.75, final.TotalPoints)
	assert.Equal(t, 87.5, final.Percentage)
	assert.Equal(t, exam.LetterB, final.Letter)
	require.NotNil(t, final.Boundary)
	assert.Equal(t, 87.5, final.Boundary.FinalPercentage)
}

func TestReconcile_SameLetterKeepsFirstPass(t *testing.T) {
	first := payload(20, 9, 8.5)  // 87.5 B
	second := payload(20, 8, 8.5) // 82.5 B

	final := Reconcile(first, second, 90)
	assert.Equal(t, first.Questions, final.Questions)
	assert.Equal(t, 87.5, final.Percentage)
	assert.Equal(t, exam.LetterB, final.Letter)

	require.NotNil(t, final.Boundary)
	assert.Equal(t, exam.BoundaryCheck{
		Threshold:        90,
		FirstPercentage:  87.5,
		SecondPercentage: 82.5,
		FinalPercentage:  87.5,
		FirstLetter:      exam.LetterB,
		SecondLetter:     exam.LetterB,
		Method:           exam.ReconcileFirstPass,
	}, *final.Boundary)
}

func TestReconcile_DifferentLettersAverages(t *testing.T) {
	first := payload(20, 9, 9)  // 90.0 A
	second := payload(20, 8, 9) // 85.0 B

	final := Reconcile(first, second, 90)
	assert.Equal(t, 8.5, final.Questions[0].Points)
	assert.Equal(t, 9.0, final.Questions[1].Points)
	assert.Equal(t, "Q1 feedback", final.Questions[0].Feedback, "first-pass feedback")
	assert.Equal(t, 17.5, final.TotalPoints)
	assert.Equal(t, 87.5, final.Percentage)
	assert.Equal(t, exam.LetterB, final.Letter)

	require.NotNil(t, final.Boundary)
	assert.Equal(t, exam.ReconcileAveraged, final.Boundary.Method)
	assert.Equal(t, 90.0, final.Boundary.FirstPercentage)
	assert.Equal(t, 85.0, final.Boundary.SecondPercentage)
	assert.Equal(t, 87.5, final.Boundary.FinalPercentage)

	assert.Equal(t, 9.0, first.Questions[0].Points, "first pass is not mutated")
}
