// Package response turns raw model text into per-question scores.
//
// The expected reply is a single JSON object mapping question identifiers to
// {"points": <number>, "feedback": <string>}, optionally with a reserved
// "overall_feedback" string. The object may be wrapped in prose or markdown
// fences. Any deviation from that schema is a MalformedResponseError; the
// parser never coerces a near-miss into a score.
package response

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// OverallFeedbackKey is the reserved top-level key for the summary comment.
const OverallFeedbackKey = "overall_feedback"

// excerptLen bounds how much of a bad reply is kept for logs.
const excerptLen = 160

// Entry is one question entry exactly as the model returned it.
type Entry struct {
	ID       string
	Points   float64
	Feedback string
}

// Scores is a parsed reply. Entries keep the model's key order.
type Scores struct {
	Entries         []Entry
	OverallFeedback string
}

// MalformedResponseError reports a reply that does not satisfy the schema.
// The grader retries it within its attempt budget.
type MalformedResponseError struct {
	Reason  string
	Excerpt string
}

func (e *MalformedResponseError) Error() string {
	return "malformed response: " + e.Reason
}

// IsMalformed reports whether err is (or wraps) a MalformedResponseError.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}

// Malformed builds a MalformedResponseError with an excerpt of text.
func Malformed(text, format string, args ...any) *MalformedResponseError {
	return &MalformedResponseError{
		Reason:  fmt.Sprintf(format, args...),
		Excerpt: excerpt(text),
	}
}

// Parse extracts and validates the score object in text.
func Parse(text string) (Scores, error) {
	doc, ok := locateObject(text)
	if !ok {
		return Scores{}, Malformed(text, "no JSON object found")
	}
	if !gjson.Valid(doc) {
		return Scores{}, Malformed(text, "invalid JSON")
	}

	root := gjson.Parse(doc)
	if !root.IsObject() {
		return Scores{}, Malformed(text, "top level is not an object")
	}

	var (
		out    Scores
		seen   = map[string]bool{}
		failed *MalformedResponseError
	)
	root.ForEach(func(key, value gjson.Result) bool {
		id := strings.TrimSpace(key.String())

		if id == OverallFeedbackKey {
			if value.Type != gjson.String {
				failed = Malformed(text, "%s must be a string", OverallFeedbackKey)
				return false
			}
			out.OverallFeedback = value.String()
			return true
		}

		if id == "" {
			failed = Malformed(text, "empty question identifier")
			return false
		}
		if seen[id] {
			failed = Malformed(text, "duplicate question %q", id)
			return false
		}
		seen[id] = true

		entry, reason := parseEntry(id, value)
		if reason != "" {
			failed = Malformed(text, "question %q: %s", id, reason)
			return false
		}
		out.Entries = append(out.Entries, entry)
		return true
	})
	if failed != nil {
		return Scores{}, failed
	}
	if len(out.Entries) == 0 {
		return Scores{}, Malformed(text, "no question scores")
	}
	return out, nil
}

// parseEntry validates one {"points","feedback"} object. It returns a
// non-empty reason on schema violation.
func parseEntry(id string, value gjson.Result) (Entry, string) {
	if !value.IsObject() {
		return Entry{}, "entry is not an object"
	}

	entry := Entry{ID: id}
	var hasPoints, hasFeedback bool
	var reason string
	value.ForEach(func(k, v gjson.Result) bool {
		switch k.String() {
		case "points":
			if v.Type != gjson.Number {
				reason = "points is not a number"
				return false
			}
			if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) || v.Num < 0 {
				reason = fmt.Sprintf("points %v out of range", v.Num)
				return false
			}
			entry.Points = v.Num
			hasPoints = true
		case "feedback":
			if v.Type != gjson.String {
				reason = "feedback is not a string"
				return false
			}
			entry.Feedback = v.String()
			hasFeedback = true
		default:
			reason = fmt.Sprintf("unexpected field %q", k.String())
			return false
		}
		return true
	})
	if reason != "" {
		return Entry{}, reason
	}
	if !hasPoints {
		return Entry{}, "missing points"
	}
	if !hasFeedback {
		return Entry{}, "missing feedback"
	}
	return entry, ""
}

// locateObject returns the span from the first '{' to the last '}', which
// strips surrounding prose and markdown fences.
func locateObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

func excerpt(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= excerptLen {
		return text
	}
	cut := excerptLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
