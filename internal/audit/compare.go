package audit

import (
	"math"
	"sort"

	"github.com/rubrica-app/rubrica/internal/exam"
)

// QuestionDiff compares one question across two gradings.
type QuestionDiff struct {
	Question         string  `json:"question" yaml:"question"`
	MaxPoints        float64 `json:"max_points" yaml:"max_points"`
	OriginalPoints   float64 `json:"original_points" yaml:"original_points"`
	AuditPoints      float64 `json:"audit_points" yaml:"audit_points"`
	Diff             float64 `json:"diff" yaml:"diff"`
	AbsDiff          float64 `json:"abs_diff" yaml:"abs_diff"`
	Exact            bool    `json:"exact_match" yaml:"exact_match"`
	Within1          bool    `json:"within_1" yaml:"within_1"`
	OriginalFeedback string  `json:"original_feedback" yaml:"original_feedback"`
	AuditFeedback    string  `json:"audit_feedback" yaml:"audit_feedback"`
}

// Agreement compares two gradings of one exam. Diffs are original minus
// audit, so a positive diff means the original was more generous.
type Agreement struct {
	AnonID             string         `json:"anon_id,omitempty" yaml:"anon_id,omitempty"`
	OriginalTotal      float64        `json:"original_total" yaml:"original_total"`
	AuditTotal         float64        `json:"audit_total" yaml:"audit_total"`
	OriginalPercentage float64        `json:"original_percentage" yaml:"original_percentage"`
	AuditPercentage    float64        `json:"audit_percentage" yaml:"audit_percentage"`
	OriginalLetter     exam.Letter    `json:"original_letter" yaml:"original_letter"`
	AuditLetter        exam.Letter    `json:"audit_letter" yaml:"audit_letter"`
	GradeMatch         bool           `json:"grade_match" yaml:"grade_match"`
	TotalDiff          float64        `json:"total_diff" yaml:"total_diff"`
	Questions          []QuestionDiff `json:"questions" yaml:"questions"`
}

// Compare diffs two payloads question by question. Questions present in
// only one payload count as zero points in the other.
func Compare(original, audit exam.Payload) Agreement {
	orig := index(original)
	aud := index(audit)

	ids := make([]string, 0, len(orig)+len(aud))
	for id := range orig {
		ids = append(ids, id)
	}
	for id := range aud {
		if _, ok := orig[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	diffs := make([]QuestionDiff, 0, len(ids))
	for _, id := range ids {
		o, a := orig[id], aud[id]
		maxPoints := o.MaxPoints
		if maxPoints == 0 {
			maxPoints = a.MaxPoints
		}
		d := o.Points - a.Points
		diffs = append(diffs, QuestionDiff{
			Question:         id,
			MaxPoints:        maxPoints,
			OriginalPoints:   o.Points,
			AuditPoints:      a.Points,
			Diff:             round2(d),
			AbsDiff:          round2(math.Abs(d)),
			Exact:            o.Points == a.Points,
			Within1:          math.Abs(d) <= 1.0,
			OriginalFeedback: o.Feedback,
			AuditFeedback:    a.Feedback,
		})
	}

	return Agreement{
		OriginalTotal:      original.TotalPoints,
		AuditTotal:         audit.TotalPoints,
		OriginalPercentage: original.Percentage,
		AuditPercentage:    audit.Percentage,
		OriginalLetter:     original.Letter,
		AuditLetter:        audit.Letter,
		GradeMatch:         original.Letter == audit.Letter,
		TotalDiff:          round2(original.TotalPoints - audit.TotalPoints),
		Questions:          diffs,
	}
}

// CompareRecords pairs records by anonymous identifier and compares each
// pair. Identifiers present on only one side are returned as unmatched.
func CompareRecords(original, audit []Record) (agreements []Agreement, unmatched []string) {
	byID := make(map[string]Record, len(audit))
	for _, r := range audit {
		byID[r.AnonID] = r
	}
	seen := make(map[string]bool, len(original))
	for _, o := range original {
		seen[o.AnonID] = true
		a, ok := byID[o.AnonID]
		if !ok {
			unmatched = append(unmatched, o.AnonID)
			continue
		}
		ag := Compare(o.Grade, a.Grade)
		ag.AnonID = o.AnonID
		agreements = append(agreements, ag)
	}
	for _, a := range audit {
		if !seen[a.AnonID] {
			unmatched = append(unmatched, a.AnonID)
		}
	}
	sort.Slice(agreements, func(i, j int) bool { return agreements[i].AnonID < agreements[j].AnonID })
	sort.Strings(unmatched)
	return agreements, unmatched
}

// Summary aggregates agreements into reliability metrics.
type Summary struct {
	Exams             int      `json:"exams" yaml:"exams"`
	Questions         int      `json:"questions" yaml:"questions"`
	ExactMatches      int      `json:"exact_matches" yaml:"exact_matches"`
	Within1Matches    int      `json:"within_1_matches" yaml:"within_1_matches"`
	GradeMatches      int      `json:"grade_matches" yaml:"grade_matches"`
	ExactPct          float64  `json:"exact_match_pct" yaml:"exact_match_pct"`
	Within1Pct        float64  `json:"within_1_pct" yaml:"within_1_pct"`
	GradeAgreementPct float64  `json:"grade_agreement_pct" yaml:"grade_agreement_pct"`
	MeanAbsError      float64  `json:"mae" yaml:"mae"`
	MeanBias          float64  `json:"mean_bias" yaml:"mean_bias"`
	Mismatches        []string `json:"grade_mismatches" yaml:"grade_mismatches"`
}

// Summarize computes exact, within-one and letter agreement rates, the mean
// absolute per-question error, and the mean per-exam total bias.
func Summarize(agreements []Agreement) Summary {
	s := Summary{Exams: len(agreements), Mismatches: []string{}}
	var absSum, biasSum float64
	for _, ag := range agreements {
		if ag.GradeMatch {
			s.GradeMatches++
		} else {
			s.Mismatches = append(s.Mismatches, ag.AnonID)
		}
		biasSum += ag.OriginalTotal - ag.AuditTotal
		for _, q := range ag.Questions {
			s.Questions++
			if q.Exact {
				s.ExactMatches++
			}
			if q.Within1 {
				s.Within1Matches++
			}
			absSum += q.AbsDiff
		}
	}
	if s.Questions > 0 {
		s.ExactPct = pct(s.ExactMatches, s.Questions)
		s.Within1Pct = pct(s.Within1Matches, s.Questions)
		s.MeanAbsError = round2(absSum / float64(s.Questions))
	}
	if s.Exams > 0 {
		s.GradeAgreementPct = pct(s.GradeMatches, s.Exams)
		s.MeanBias = round2(biasSum / float64(s.Exams))
	}
	return s
}

func index(p exam.Payload) map[string]exam.QuestionScore {
	m := make(map[string]exam.QuestionScore, len(p.Questions))
	for _, q := range p.Questions {
		m[q.Question] = q
	}
	return m
}

func pct(n, of int) float64 {
	return math.Round(float64(n)/float64(of)*1000) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
