package consolidate

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubrica-app/rubrica/internal/exam"
	"github.com/rubrica-app/rubrica/internal/response"
)

func testRubric(ids ...string) exam.Rubric {
	r := exam.Rubric{Version: "T"}
	for _, id := range ids {
		r.Questions = append(r.Questions, exam.Question{ID: id, MaxPoints: 10})
	}
	return r
}

func TestDecompose(t *testing.T) {
	tests := []struct {
		id     string
		parent string
		sub    string
		ok     bool
	}{
		{"Q3a", "Q3", "a", true},
		{"Q3b", "Q3", "b", true},
		{"Q12a", "Q12", "a", true},
		{"Q3ab", "Q3", "ab", true},
		{"Q3(a)", "Q3", "a", true},
		{"Q3 (b)", "Q3", "b", true},
		{"Q12(ii)", "Q12", "ii", true},
		{"Q4(2)", "Q4", "2", true},
		{"Q3-a", "Q3", "a", true},
		{"Q3.b", "Q3", "b", true},
		{"Q3_c", "Q3", "c", true},
		{"Q3.1", "Q3", "1", true},
		{"3c", "3", "c", true},
		{"Q3", "", "", false},
		{"Q12", "", "", false},
		{"Bonus", "", "", false},
		{"Part A", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			parent, sub, ok := Decompose(tt.id)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.parent, parent)
			assert.Equal(t, tt.sub, sub)
		})
	}
}

func TestResolve_Precedence(t *testing.T) {
	r := testRubric("Q1", "Q3", "Q3a.1")

	parent, sub := Resolve("Q3a.1", r)
	assert.Equal(t, "Q3a.1", parent, "exact rubric id wins over decomposition")
	assert.Empty(t, sub)

	parent, sub = Resolve("q1", r)
	assert.Equal(t, "Q1", parent, "case-insensitive rubric match")
	assert.Empty(t, sub)

	parent, sub = Resolve("q3b", r)
	assert.Equal(t, "Q3", parent, "decomposed parent is matched against the rubric")
	assert.Equal(t, "b", sub)

	parent, sub = Resolve("Q9c", r)
	assert.Equal(t, "Q9", parent, "unknown parents still group")
	assert.Equal(t, "c", sub)

	parent, _ = Resolve("Extra", r)
	assert.Equal(t, "Extra", parent)
}

func TestConsolidate_MergesSubParts(t *testing.T) {
	r := testRubric("Q1", "Q2", "Q3")
	entries := []response.Entry{
		{ID: "Q3b", Points: 2, Feedback: "Correct elasticity."},
		{ID: "Q1", Points: 7, Feedback: "Misses the tax incidence."},
		{ID: "Q3a", Points: 3, Feedback: "Sets up demand correctly."},
		{ID: "Q2", Points: 4, Feedback: "Partial graph."},
	}

	got := Consolidate(entries, r)
	require.Len(t, got, 3)

	assert.Equal(t, "Q1", got[0].Question, "rubric order")
	assert.Equal(t, "Q2", got[1].Question)

	q3 := got[2]
	assert.Equal(t, "Q3", q3.Question)
	assert.Equal(t, 5.0, q3.RawPoints)
	assert.Equal(t, 5.0, q3.Points)
	assert.Equal(t, 10.0, q3.MaxPoints)
	assert.Equal(t, []string{"Q3a", "Q3b"}, q3.Sources)
	assert.Equal(t, "Q3a: Sets up demand correctly. | Q3b: Correct elasticity.", q3.Feedback)

	assert.Empty(t, got[0].Sources, "single entries carry no provenance")
	assert.Equal(t, "Misses the tax incidence.", got[0].Feedback)
}

func TestConsolidate_MultiDigitAndMultiLetter(t *testing.T) {
	r := testRubric("Q3", "Q12")
	entries := []response.Entry{
		{ID: "Q12b", Points: 1, Feedback: "b"},
		{ID: "Q3aa", Points: 1, Feedback: "aa"},
		{ID: "Q12a", Points: 2, Feedback: "a"},
		{ID: "Q3b", Points: 1, Feedback: "b"},
		{ID: "Q3a", Points: 1, Feedback: "a"},
	}

	got := Consolidate(entries, r)
	require.Len(t, got, 2)

	assert.Equal(t, "Q3", got[0].Question)
	assert.Equal(t, []string{"Q3a", "Q3b", "Q3aa"}, got[0].Sources, "single letters sort before double letters")
	assert.Equal(t, 3.0, got[0].RawPoints)

	assert.Equal(t, "Q12", got[1].Question)
	assert.Equal(t, []string{"Q12a", "Q12b"}, got[1].Sources)
	assert.Equal(t, 3.0, got[1].RawPoints)
}

func TestConsolidate_ParentAndSubPartsTogether(t *testing.T) {
	r := testRubric("Q4")
	entries := []response.Entry{
		{ID: "Q4(2)", Points: 1, Feedback: "second"},
		{ID: "Q4", Points: 2, Feedback: "stem"},
		{ID: "Q4(10)", Points: 1, Feedback: ""},
		{ID: "Q4(1)", Points: 1, Feedback: "first"},
	}

	got := Consolidate(entries, r)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"Q4", "Q4(1)", "Q4(2)", "Q4(10)"}, got[0].Sources, "numeric sub-parts sort numerically")
	assert.Equal(t, "stem | Q4(1): first | Q4(2): second", got[0].Feedback, "empty feedback is skipped")
	assert.Equal(t, 5.0, got[0].RawPoints)
}

func TestConsolidate_UnknownQuestionsFollowRubricOrder(t *testing.T) {
	r := testRubric("Q1")
	entries := []response.Entry{
		{ID: "Q7a", Points: 1},
		{ID: "Bonus", Points: 2},
		{ID: "Q1", Points: 3},
		{ID: "Q7b", Points: 1},
	}

	got := Consolidate(entries, r)
	require.Len(t, got, 3)
	assert.Equal(t, "Q1", got[0].Question)
	assert.Equal(t, "Q7", got[1].Question)
	assert.Equal(t, 0.0, got[1].MaxPoints, "unknown questions have no maximum")
	assert.Equal(t, "Bonus", got[2].Question)
}

func TestConsolidate_PreservesPointSum(t *testing.T) {
	r := testRubric("Q1", "Q2", "Q3", "Q10")
	suffixes := []string{"", "a", "b", "c", "(d)", "-e", ".2", "aa"}
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		var entries []response.Entry
		var want float64
		seen := map[string]bool{}
		for i := 0; i < 8; i++ {
			q := r.Questions[rng.Intn(len(r.Questions))].ID
			id := q + suffixes[rng.Intn(len(suffixes))]
			if seen[id] {
				continue
			}
			seen[id] = true
			pts := float64(rng.Intn(9)) / 2
			want += pts
			entries = append(entries, response.Entry{ID: id, Points: pts, Feedback: fmt.Sprintf("f%d", i)})
		}

		var got float64
		for _, s := range Consolidate(entries, r) {
			got += s.RawPoints
			_, known := r.Question(s.Question)
			assert.True(t, known, "round %d: %q resolves to a rubric question", round, s.Question)
		}
		assert.InDelta(t, want, got, 1e-9, "round %d", round)
	}
}
