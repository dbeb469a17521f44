package audit

import (
	"bytes"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubrica-app/rubrica/internal/exam"
)

var gradedAt = time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC)

func plainPayload() exam.Payload {
	return exam.Payload{
		Questions: []exam.QuestionScore{
			{Question: "Q1", Points: 8, RawPoints: 8, MaxPoints: 10, Feedback: "Solves MR = MC for the quantity."},
			{
				Question: "Q2", Points: 7.5, RawPoints: 7.5, MaxPoints: 10,
				Feedback: "Q2a: Labels both axes. | Q2b: Omits the price floor.",
				Sources:  []string{"Q2a", "Q2b"},
			},
		},
		TotalPoints:    15.5,
		PossiblePoints: 20,
		Percentage:     77.5,
		Letter:         exam.LetterC,
	}
}

func boundaryPayload() exam.Payload {
	return exam.Payload{
		Questions: []exam.QuestionScore{
			{Question: "Q1", Points: 9, RawPoints: 9, MaxPoints: 10, Feedback: "Sets MR = MC and solves correctly."},
			{Question: "Q2", Points: 9, RawPoints: 9, MaxPoints: 10, Feedback: "Draws the shift & labels it.", Refined: true},
		},
		TotalPoints:     18,
		PossiblePoints:  20,
		Percentage:      90,
		Letter:          exam.LetterA,
		OverallFeedback: "Strong grasp of market structures.",
		Boundary: &exam.BoundaryCheck{
			Threshold:        90,
			FirstPercentage:  89.5,
			SecondPercentage: 90.5,
			FinalPercentage:  90,
			FirstLetter:      exam.LetterB,
			SecondLetter:     exam.LetterA,
			Method:           exam.ReconcileAveraged,
		},
	}
}

func fixtureRecords() []Record {
	return []Record{
		{
			AnonID: "EXAM0001", RubricVersion: "ECON-A", RubricSeq: 1, RunID: "run-test",
			GradedAt: &gradedAt, Grade: plainPayload(), Digest: "digest-exam-0001",
		},
		{
			AnonID: "EXAM0002", RubricVersion: "ECON-A", RubricSeq: 1, RunID: "run-test",
			GradedAt: &gradedAt, Grade: boundaryPayload(), Digest: "digest-exam-0002",
		},
	}
}

func TestWrite_JSONGolden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, fixtureRecords(), EncodingJSON))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "export", buf.Bytes())
}

func TestWrite_EmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil, EncodingJSON))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWriteRead_RoundTrip(t *testing.T) {
	for _, enc := range []Encoding{EncodingJSON, EncodingYAML} {
		t.Run(string(enc), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, fixtureRecords(), enc))

			got, err := Read(&buf, enc)
			require.NoError(t, err)
			require.Len(t, got, 2)
			for i, want := range fixtureRecords() {
				require.NotNil(t, got[i].GradedAt)
				assert.True(t, want.GradedAt.Equal(*got[i].GradedAt))
				got[i].GradedAt = want.GradedAt
				assert.Equal(t, want, got[i])
			}
		})
	}
}

func TestWrite_YAMLUsesSnakeCaseKeys(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, fixtureRecords(), EncodingYAML))
	out := buf.String()
	assert.Contains(t, out, "anon_id: EXAM0001")
	assert.Contains(t, out, "letter_grade: A")
	assert.Contains(t, out, "method: averaged")
}

func TestDigest(t *testing.T) {
	a, err := Digest(plainPayload())
	require.NoError(t, err)
	assert.Len(t, a, 64)

	again, err := Digest(plainPayload())
	require.NoError(t, err)
	assert.Equal(t, a, again, "stable")

	changed := plainPayload()
	changed.Questions[0].Points = 8.5
	b, err := Digest(changed)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDigest_NormalizesUnicode(t *testing.T) {
	composed := plainPayload()
	composed.Questions[0].Feedback = "Caf\u00e9 pricing is correct."
	decomposed := plainPayload()
	decomposed.Questions[0].Feedback = "Cafe\u0301 pricing is correct."

	a, err := Digest(composed)
	require.NoError(t, err)
	b, err := Digest(decomposed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDigest_DomainSeparated(t *testing.T) {
	assert.NotEqual(t,
		hashWithDomain(DomainPayload, []byte("x")),
		hashWithDomain("other/v1", []byte("x")))
	assert.NotEqual(t,
		hashWithDomain("ab", []byte("c")),
		hashWithDomain("a", []byte("bc")))
}

func TestRecords(t *testing.T) {
	p := plainPayload()
	exams := []exam.Exam{
		{AnonID: "EXAM0001", RubricVersion: "ECON-A", RubricSeq: 1, State: exam.StateGraded, Grade: &p, RunID: "run-1", GradedAt: &gradedAt},
		{AnonID: "EXAM0002", RubricVersion: "ECON-A", RubricSeq: 1, State: exam.StatePending},
	}
	records, err := Records(exams)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "EXAM0001", records[0].AnonID)
	assert.Equal(t, "run-1", records[0].RunID)

	ok, err := records[0].Verify()
	require.NoError(t, err)
	assert.True(t, ok)

	records[0].Grade.Letter = exam.LetterA
	ok, err = records[0].Verify()
	require.NoError(t, err)
	assert.False(t, ok, "tampered grade")

	_, err = NewRecord(exams[1])
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	audit := plainPayload()
	audit.Questions[0].Points = 6.5
	audit.Questions[1].Points = 7.5
	audit.Questions = append(audit.Questions, exam.QuestionScore{Question: "Q3", Points: 1, MaxPoints: 5})
	audit.TotalPoints = 15
	audit.Percentage = 75
	audit.Letter = exam.LetterC

	ag := Compare(plainPayload(), audit)
	assert.True(t, ag.GradeMatch)
	assert.Equal(t, 0.5, ag.TotalDiff)
	require.Len(t, ag.Questions, 3)

	q1 := ag.Questions[0]
	assert.Equal(t, "Q1", q1.Question)
	assert.Equal(t, 1.5, q1.Diff)
	assert.False(t, q1.Exact)
	assert.False(t, q1.Within1)

	q2 := ag.Questions[1]
	assert.True(t, q2.Exact)
	assert.True(t, q2.Within1)

	q3 := ag.Questions[2]
	assert.Equal(t, "Q3", q3.Question)
	assert.Equal(t, 5.0, q3.MaxPoints, "max taken from the side that has it")
	assert.Equal(t, -1.0, q3.Diff)
	assert.Equal(t, 1.0, q3.AbsDiff)
	assert.True(t, q3.Within1)
}

func TestCompareRecordsAndSummarize(t *testing.T) {
	original := fixtureRecords()
	audit := fixtureRecords()
	audit[1].Grade = plainPayload()
	audit = append(audit, Record{AnonID: "EXAM0009", Grade: plainPayload()})

	ags, unmatched := CompareRecords(original, audit)
	require.Len(t, ags, 2)
	assert.Equal(t, []string{"EXAM0009"}, unmatched)
	assert.Equal(t, "EXAM0001", ags[0].AnonID)

	s := Summarize(ags)
	assert.Equal(t, 2, s.Exams)
	assert.Equal(t, 4, s.Questions)
	assert.Equal(t, 2, s.ExactMatches)
	assert.Equal(t, 50.0, s.ExactPct)
	assert.Equal(t, 1, s.GradeMatches)
	assert.Equal(t, 50.0, s.GradeAgreementPct)
	assert.Equal(t, []string{"EXAM0002"}, s.Mismatches)
	// EXAM0002: Q1 9 vs 8, Q2 9 vs 7.5; totals 18 vs 15.5.
	assert.Equal(t, 3, s.Within1Matches)
	assert.Equal(t, 0.63, s.MeanAbsError)
	assert.Equal(t, 1.25, s.MeanBias)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.Exams)
	assert.Zero(t, s.ExactPct)
	assert.Empty(t, s.Mismatches)
}

func TestParseEncoding(t *testing.T) {
	enc, err := ParseEncoding("YML")
	require.NoError(t, err)
	assert.Equal(t, EncodingYAML, enc)
	_, err = ParseEncoding("xml")
	assert.Error(t, err)
	assert.Equal(t, EncodingYAML, EncodingFor("out/grades.yaml"))
	assert.Equal(t, EncodingJSON, EncodingFor("grades"))
}
