package feedback

import "regexp"

// Pattern is a named entry of a phrase table.
type Pattern struct {
	Name    string
	Pattern *regexp.Regexp
}

// DeliberationPatterns mark sentences in which the model thinks out loud.
// A sentence matching any entry is dropped by Sanitize.
var DeliberationPatterns = []Pattern{
	{"hesitation", regexp.MustCompile(`(?i)\b(wait|hmm+|hold on|scratch that)\b`)},
	{"self-correction", regexp.MustCompile(`(?i)\b(actually|on second thought|correction:)`)},
	{"rereading", regexp.MustCompile(`(?i)\b(let me (re-?read|re-?check|recount|count|examine|look|reconsider)|re-?reading)\b`)},
	{"first person", regexp.MustCompile(`(?i)\bI (think|miscounted|misread|need to|was wrong)\b`)},
	{"second look", regexp.MustCompile(`(?i)\b(looking (again|more carefully)|upon (closer|further))\b`)},
	{"retraction", regexp.MustCompile(`(?i)^\W*no,`)},
}

// VaguePatterns match generic feedback that names nothing in the student's
// answer. Entries are tried in order and the first match is the reason.
var VaguePatterns = []Pattern{
	{"generic praise", regexp.MustCompile(`(?i)\b(good|great|nice|excellent) (work|job|effort|answer)\b`)},
	{"well done", regexp.MustCompile(`(?i)\bwell done\b`)},
	{"looks good", regexp.MustCompile(`(?i)\blooks (good|fine|correct)\b`)},
	{"rubric pointer", regexp.MustCompile(`(?i)\bsee (the )?rubric\b`)},
	{"needs work", regexp.MustCompile(`(?i)\bneeds (more )?(work|improvement|detail)\b`)},
	{"bare verdict", regexp.MustCompile(`(?i)^\W*(partially |mostly )?(in)?correct\W*$`)},
	{"no feedback", regexp.MustCompile(`(?i)\bno (specific )?feedback\b`)},
}

func firstMatch(table []Pattern, s string) (string, bool) {
	for _, p := range table {
		if p.Pattern.MatchString(s) {
			return p.Name, true
		}
	}
	return "", false
}
