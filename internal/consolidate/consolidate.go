// Package consolidate merges sub-part scores into their parent question.
//
// A model sometimes reports "Q3a" and "Q3b" instead of one "Q3" entry. The
// merge rule is load-bearing for every grade produced: entries that resolve
// to the same parent have their points summed and their feedback concatenated
// in sub-part order, and the merged identifiers are kept as provenance.
package consolidate

import (
	"sort"
	"strings"

	"github.com/rubrica-app/rubrica/internal/exam"
	"github.com/rubrica-app/rubrica/internal/response"
)

// FeedbackSeparator joins the feedback of merged sub-parts.
const FeedbackSeparator = " | "

type member struct {
	id    string
	sub   string
	entry response.Entry
	order int
}

// Consolidate groups entries by parent question. Output follows rubric order
// for known questions, followed by unknown parents in first-seen order.
// RawPoints and Points both hold the summed, not yet normalized, points.
func Consolidate(entries []response.Entry, rubric exam.Rubric) []exam.QuestionScore {
	groups := map[string][]member{}
	var firstSeen []string

	for i, e := range entries {
		parent, sub := Resolve(e.ID, rubric)
		if _, ok := groups[parent]; !ok {
			firstSeen = append(firstSeen, parent)
		}
		groups[parent] = append(groups[parent], member{
			id:    strings.TrimSpace(e.ID),
			sub:   sub,
			entry: e,
			order: i,
		})
	}

	var order []string
	placed := map[string]bool{}
	for _, q := range rubric.Questions {
		if _, ok := groups[q.ID]; ok {
			order = append(order, q.ID)
			placed[q.ID] = true
		}
	}
	for _, p := range firstSeen {
		if !placed[p] {
			order = append(order, p)
		}
	}

	out := make([]exam.QuestionScore, 0, len(order))
	for _, parent := range order {
		out = append(out, merge(parent, groups[parent], rubric))
	}
	return out
}

// Resolve maps a returned identifier to its parent question and sub-part
// label. Precedence: exact rubric id, case-insensitive rubric id, grammar
// decomposition (itself matched against the rubric), identifier unchanged.
func Resolve(id string, rubric exam.Rubric) (parent, sub string) {
	id = strings.TrimSpace(id)
	if known, ok := lookup(id, rubric); ok {
		return known, ""
	}
	if p, s, ok := Decompose(id); ok {
		if known, ok := lookup(p, rubric); ok {
			return known, s
		}
		return p, s
	}
	return id, ""
}

func lookup(id string, rubric exam.Rubric) (string, bool) {
	for _, q := range rubric.Questions {
		if q.ID == id {
			return q.ID, true
		}
	}
	for _, q := range rubric.Questions {
		if strings.EqualFold(q.ID, id) {
			return q.ID, true
		}
	}
	return "", false
}

func merge(parent string, members []member, rubric exam.Rubric) exam.QuestionScore {
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].sub == members[j].sub {
			return members[i].order < members[j].order
		}
		return subLess(members[i].sub, members[j].sub)
	})

	score := exam.QuestionScore{Question: parent}
	if q, ok := rubric.Question(parent); ok {
		score.MaxPoints = q.MaxPoints
	}

	merged := len(members) > 1 || members[0].sub != ""
	var feedback []string
	for _, m := range members {
		score.RawPoints += m.entry.Points
		if merged {
			score.Sources = append(score.Sources, m.id)
		}
		fb := strings.TrimSpace(m.entry.Feedback)
		if fb == "" {
			continue
		}
		if merged && m.sub != "" {
			fb = m.id + ": " + fb
		}
		feedback = append(feedback, fb)
	}
	score.Points = score.RawPoints
	score.Feedback = strings.Join(feedback, FeedbackSeparator)
	return score
}
